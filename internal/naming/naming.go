package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// Namer converts Go identifiers into SQL identifiers.
type Namer struct {
	config Config
}

// New creates a Namer with the given configuration
func New(cfg Config) *Namer {
	return &Namer{config: cfg}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig())
}

// Pluralize converts a singular word to its plural form.
// Checks custom overrides first, then falls back to the inflection library.
func (n *Namer) Pluralize(word string) string {
	if override, ok := n.config.PluralOverrides[word]; ok {
		return override
	}
	return inflection.Plural(word)
}

// TableName derives the table name for an entity.
// Example: "WheelAssembly" -> "wheel_assemblies"
func (n *Namer) TableName(entityName string) string {
	if override, ok := n.config.TableOverrides[entityName]; ok {
		return override
	}
	snake := ToSnakeCase(entityName)
	idx := strings.LastIndexByte(snake, '_')
	return snake[:idx+1] + n.Pluralize(snake[idx+1:])
}

// ColumnName derives the column name for a struct field.
// Example: "EngineID" -> "engine_id"
func (n *Namer) ColumnName(fieldName string) string {
	return ToSnakeCase(fieldName)
}

// ToSnakeCase converts PascalCase or camelCase to snake_case, keeping
// acronyms together ("HTTPServer" -> "http_server", "CarID" -> "car_id").
func ToSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ExportedName upper-cases the first letter of an identifier.
func ExportedName(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
