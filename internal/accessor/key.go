package accessor

import (
	"database/sql"
	"database/sql/driver"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

var (
	valuerType  = reflect.TypeFor[driver.Valuer]()
	int64Type   = reflect.TypeFor[int64]()
	float64Type = reflect.TypeFor[float64]()
	boolType    = reflect.TypeFor[bool]()
	stringType  = reflect.TypeFor[string]()
	timeType    = reflect.TypeFor[time.Time]()
)

// valuerKeyTypes maps the common driver.Valuer types to the key type their
// driver value normalizes to.
var valuerKeyTypes = map[reflect.Type]reflect.Type{
	reflect.TypeFor[sql.NullInt64]():   int64Type,
	reflect.TypeFor[sql.NullInt32]():   int64Type,
	reflect.TypeFor[sql.NullInt16]():   int64Type,
	reflect.TypeFor[sql.NullByte]():    int64Type,
	reflect.TypeFor[sql.NullFloat64](): float64Type,
	reflect.TypeFor[sql.NullBool]():    boolType,
	reflect.TypeFor[sql.NullString]():  stringType,
	reflect.TypeFor[sql.NullTime]():    timeType,
	reflect.TypeFor[uuid.UUID]():       stringType,
	reflect.TypeFor[uuid.NullUUID]():   stringType,
}

// Key normalizes an attribute value into a comparable lookup key. Pointers
// are dereferenced and driver.Valuer implementations (sql.NullInt64,
// uuid.UUID, uuid.NullUUID, ...) are reduced to their driver value. Scalars
// are widened the way database/sql converts query arguments: signed integers
// to int64, unsigned integers to int64 when they fit (uint64 otherwise),
// floats to float64, and named string and bool types to their base type.
// An int primary key and the sql.NullInt64 foreign key referencing it
// therefore produce equal keys. The second result is false for absent
// (nil / NULL) values.
func Key(value any) (any, bool) {
	for {
		if value == nil {
			return nil, false
		}
		v := reflect.ValueOf(value)
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return nil, false
			}
			if valuer, ok := value.(driver.Valuer); ok {
				return valuerKey(valuer)
			}
			value = v.Elem().Interface()
			continue
		}
		if valuer, ok := value.(driver.Valuer); ok {
			return valuerKey(valuer)
		}
		return scalarKey(v), true
	}
}

func valuerKey(valuer driver.Valuer) (any, bool) {
	dv, err := valuer.Value()
	if err != nil || dv == nil {
		return nil, false
	}
	if b, ok := dv.([]byte); ok {
		return string(b), true
	}
	return scalarKey(reflect.ValueOf(dv)), true
}

func scalarKey(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := v.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return u
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	}
	return v.Interface()
}

// KeyType reports the comparable type a value of t normalizes to. The second
// result is false when the type is only known at runtime (an unrecognized
// driver.Valuer).
func KeyType(t reflect.Type) (reflect.Type, bool) {
	for t.Kind() == reflect.Pointer {
		if t.Implements(valuerType) && !t.Elem().Implements(valuerType) {
			return nil, false
		}
		t = t.Elem()
	}
	if kt, ok := valuerKeyTypes[t]; ok {
		return kt, true
	}
	if t.Implements(valuerType) {
		return nil, false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return int64Type, true
	case reflect.Float32, reflect.Float64:
		return float64Type, true
	case reflect.Bool:
		return boolType, true
	case reflect.String:
		return stringType, true
	}
	return t, true
}

// CompatibleKeys reports whether values of a and b can produce equal keys.
func CompatibleKeys(a, b reflect.Type) bool {
	ka, okA := KeyType(a)
	kb, okB := KeyType(b)
	if !okA || !okB {
		return true
	}
	return ka == kb && ka.Comparable()
}
