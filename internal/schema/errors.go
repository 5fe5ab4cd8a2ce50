package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// SchemaError reports metadata that cannot support a fetch: a missing
// companion key attribute, a missing marker, or mismatched key types.
type SchemaError struct {
	Entity    string
	Attribute string
	Message   string
	Err       error
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema error on ")
	b.WriteString(qualified(e.Entity, e.Attribute))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Errorf builds a SchemaError for an attribute.
func Errorf(entity, attribute, format string, args ...any) *SchemaError {
	return &SchemaError{Entity: entity, Attribute: attribute, Message: fmt.Sprintf(format, args...)}
}

// AmbiguousInverseError is returned when inverse inference finds more than
// one candidate attribute on the target entity.
type AmbiguousInverseError struct {
	Entity     string
	Attribute  string
	Target     string
	Candidates []string
}

func (e *AmbiguousInverseError) Error() string {
	return fmt.Sprintf("ambiguous inverse for %s: %s declares %d candidates (%s)",
		qualified(e.Entity, e.Attribute), e.Target, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// UnsupportedMappingError is returned for association shapes that cannot be
// batch fetched, such as a to-many association without an inverse.
type UnsupportedMappingError struct {
	Entity    string
	Attribute string
	Reason    string
}

func (e *UnsupportedMappingError) Error() string {
	return fmt.Sprintf("unsupported mapping %s: %s", qualified(e.Entity, e.Attribute), e.Reason)
}

// UnsupportedCollectionKindError is returned when a to-many association is
// declared with a container other than a slice or a pointer-keyed map.
type UnsupportedCollectionKindError struct {
	Entity    string
	Attribute string
	Type      reflect.Type
}

func (e *UnsupportedCollectionKindError) Error() string {
	return fmt.Sprintf("collection type %s not supported for %s (use []*T or map[*T]struct{})",
		e.Type, qualified(e.Entity, e.Attribute))
}

func qualified(entity, attribute string) string {
	if attribute == "" {
		return entity
	}
	return entity + "#" + attribute
}
