// Package warehouse renders records into warehouse SQL and loads them.
//
// The package has three layers. Value coercion turns one Go value into a SQL
// literal for a given Dialect. The Sink appends failure rows to the error
// table and never returns an error. The Loader buffers records per table,
// truncates each table once per run and flushes in bulk statements.
package warehouse

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
)

// NullNumeric is the literal written for a missing numeric value when the
// sentinel policy is enabled. It keeps NULL apart from zero in aggregations
// at the cost of a reserved value.
const NullNumeric = "-999999999"

// Kind is the closed set of value shapes coercion understands
type Kind int

const (
	// KindUnsupported covers everything coercion rejects
	KindUnsupported Kind = iota
	KindNull
	KindJSON
	KindString
	KindNumber
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindJSON:
		return "json"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "unsupported"
	}
}

// JSON is a nested value already serialized to JSON text. Records carry
// nested objects and arrays as JSON so the row shape is flat.
type JSON []byte

// MarshalJSON emits the raw text so records re-encode without quoting
func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// ToJSON serializes v into a JSON column value. A nil v yields nil so the
// column stays NULL.
func ToJSON(v interface{}) (JSON, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCoercion, "failed to serialize nested value")
	}
	return JSON(data), nil
}

// KindOf classifies v
func KindOf(v interface{}) Kind {
	switch x := v.(type) {
	case nil:
		return KindNull
	case JSON:
		if len(x) == 0 {
			return KindNull
		}
		return KindJSON
	case map[string]interface{}, []interface{}:
		return KindJSON
	case string, time.Time:
		return KindString
	case json.Number, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return KindNumber
	case bool:
		return KindBool
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		if rv.Kind() != reflect.Array && rv.IsNil() {
			return KindNull
		}
		return KindJSON
	case reflect.Ptr:
		if rv.IsNil() {
			return KindNull
		}
		return KindOf(rv.Elem().Interface())
	}
	return KindUnsupported
}

// Coercer renders values as SQL literals for one dialect
type Coercer struct {
	Dialect *Dialect
	// NullSentinel writes NullNumeric instead of NULL for numeric columns
	NullSentinel bool
}

// NewCoercer creates a Coercer with the null sentinel enabled
func NewCoercer(d *Dialect) *Coercer {
	return &Coercer{Dialect: d, NullSentinel: true}
}

// Literal renders v as a literal safe to embed in generated SQL. numeric
// tells whether the destination column is numeric, which only matters for
// nil values.
func (c *Coercer) Literal(v interface{}, numeric bool) (string, error) {
	switch KindOf(v) {
	case KindNull:
		if numeric && c.NullSentinel {
			return NullNumeric, nil
		}
		return "NULL", nil
	case KindJSON:
		text, err := jsonText(v)
		if err != nil {
			return "", err
		}
		return c.Dialect.WrapJSON(c.Dialect.QuoteString(text)), nil
	case KindString:
		return c.Dialect.QuoteString(stringValue(v)), nil
	case KindNumber:
		return numberLiteral(v)
	case KindBool:
		if derefBool(v) {
			return c.Dialect.True, nil
		}
		return c.Dialect.False, nil
	default:
		return "", errors.Newf(errors.ErrorTypeCoercion, "unsupported type for value: %T", v).
			WithDetail("type", fmt.Sprintf("%T", v))
	}
}

func jsonText(v interface{}) (string, error) {
	if raw, ok := v.(JSON); ok {
		if !json.Valid(raw) {
			return "", errors.New(errors.ErrorTypeCoercion, "invalid JSON column value")
		}
		return string(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeCoercion, "failed to serialize nested value")
	}
	return string(data), nil
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	case *string:
		return *s
	case *time.Time:
		return s.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func derefBool(v interface{}) bool {
	if p, ok := v.(*bool); ok {
		return *p
	}
	return v.(bool)
}

func numberLiteral(v interface{}) (string, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		v = rv.Elem().Interface()
	}
	switch n := v.(type) {
	case json.Number:
		// Numbers decoded from the API are text; reject anything that would
		// not parse as a literal.
		if _, err := strconv.ParseFloat(string(n), 64); err != nil {
			return "", errors.Wrapf(err, errors.ErrorTypeCoercion, "invalid number %q", string(n))
		}
		return string(n), nil
	case float32:
		return formatFloat(float64(n), 32)
	case float64:
		return formatFloat(n, 64)
	case int:
		return strconv.FormatInt(int64(n), 10), nil
	case int8:
		return strconv.FormatInt(int64(n), 10), nil
	case int16:
		return strconv.FormatInt(int64(n), 10), nil
	case int32:
		return strconv.FormatInt(int64(n), 10), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case uint:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(n), 10), nil
	case uint64:
		return strconv.FormatUint(n, 10), nil
	}
	return "", errors.Newf(errors.ErrorTypeCoercion, "unsupported numeric type: %T", v)
}

func formatFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", errors.Newf(errors.ErrorTypeCoercion, "non-finite number %v", f)
	}
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return strconv.FormatFloat(f, 'e', -1, bits), nil
	}
	return strconv.FormatFloat(f, 'f', -1, bits), nil
}

// IsNumericType reports whether a declared schema type maps to a numeric column
func IsNumericType(t string) bool {
	t = strings.ToLower(t)
	return t == "integer" || t == "number"
}
