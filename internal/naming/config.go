// Package naming derives SQL table and column names from Go entity and field
// names, including pluralization with user overrides.
package naming

// Config holds naming customization options
type Config struct {
	// PluralOverrides maps singular -> custom plural
	// Example: {"person": "people", "status": "statuses"}
	PluralOverrides map[string]string `mapstructure:"plural_overrides"`

	// TableOverrides maps entity name -> table name and bypasses pluralization.
	// Example: {"Car": "vehicle"}
	TableOverrides map[string]string `mapstructure:"table_overrides"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		PluralOverrides: make(map[string]string),
		TableOverrides:  make(map[string]string),
	}
}
