package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Caster converts a single column value between its stored representation
// and the value held by an entity attribute.
//
// Both directions must accept nil and return nil for it (SQL NULL).
type Caster interface {
	// FromStore converts a raw row value into an attribute value
	FromStore(v any) (any, error)

	// ToStore converts an attribute value into a value suitable for a write statement
	ToStore(v any) (any, error)
}

// Default layouts tried by the time caster when the driver hands back text
var defaultTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Raw returns a caster that passes values through untouched
func Raw() Caster { return rawCaster{} }

// Int returns a caster normalising integer columns to int64
func Int() Caster { return intCaster{} }

// Float returns a caster normalising numeric columns to float64
func Float() Caster { return floatCaster{} }

// String returns a caster for text columns
func String() Caster { return stringCaster{} }

// Bool returns a caster for boolean columns (accepts 0/1 and textual forms)
func Bool() Caster { return boolCaster{} }

// Time returns a caster for date/time columns. Text values are parsed with
// the given layouts, or a set of common SQL layouts when none are given.
func Time(layouts ...string) Caster {
	if len(layouts) == 0 {
		layouts = defaultTimeLayouts
	}
	return timeCaster{layouts: layouts}
}

// JSON returns a caster for serialized JSON blobs
func JSON() Caster { return jsonCaster{} }

// Msgpack returns a caster for binary msgpack blobs
func Msgpack() Caster { return msgpackCaster{} }

type rawCaster struct{}

func (rawCaster) FromStore(v any) (any, error) {
	if b, ok := v.([]byte); ok {
		// Drivers may reuse the buffer after the row is scanned
		return append([]byte(nil), b...), nil
	}
	return v, nil
}

func (rawCaster) ToStore(v any) (any, error) { return v, nil }

type intCaster struct{}

func (intCaster) FromStore(v any) (any, error) { return toInt64(v) }
func (intCaster) ToStore(v any) (any, error)   { return toInt64(v) }

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d overflows int64", n)
		}
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("value %v is not an integer", n)
		}
		return int64(n), nil
	case float32:
		return toInt64(float64(n))
	case []byte:
		return toInt64(string(n))
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", n, err)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("cannot cast %T to integer", v)
	}
}

type floatCaster struct{}

func (floatCaster) FromStore(v any) (any, error) { return toFloat64(v) }
func (floatCaster) ToStore(v any) (any, error)   { return toFloat64(v) }

func toFloat64(v any) (any, error) {
	switch n := v.(type) {
	case nil:
		return nil, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case []byte:
		return toFloat64(string(n))
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", n, err)
		}
		return f, nil
	default:
		i, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %T to float", v)
		}
		return float64(i.(int64)), nil
	}
}

type stringCaster struct{}

func (stringCaster) FromStore(v any) (any, error) { return toString(v) }
func (stringCaster) ToStore(v any) (any, error)   { return toString(v) }

func toString(v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return nil, fmt.Errorf("cannot cast %T to string", v)
	}
}

type boolCaster struct{}

func (boolCaster) FromStore(v any) (any, error) { return toBool(v) }
func (boolCaster) ToStore(v any) (any, error)   { return toBool(v) }

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return b, nil
	case []byte:
		return toBool(string(b))
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return nil, fmt.Errorf("parse bool %q: %w", b, err)
		}
		return parsed, nil
	default:
		i, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("cannot cast %T to bool", v)
		}
		return i.(int64) != 0, nil
	}
}

type timeCaster struct {
	layouts []string
}

func (c timeCaster) FromStore(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	case []byte:
		return c.parse(string(t))
	case string:
		return c.parse(t)
	case int64:
		return time.Unix(t, 0).UTC(), nil
	default:
		return nil, fmt.Errorf("cannot cast %T to time", v)
	}
}

func (c timeCaster) ToStore(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return *t, nil
	default:
		return c.FromStore(v)
	}
}

func (c timeCaster) parse(s string) (any, error) {
	for _, layout := range c.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("parse time %q: no matching layout", s)
}

type jsonCaster struct{}

func (jsonCaster) FromStore(v any) (any, error) {
	var data []byte
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = b
	case string:
		data = []byte(b)
	default:
		// Already decoded, e.g. by a driver with native JSON support
		return v, nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return out, nil
}

func (jsonCaster) ToStore(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(data), nil
}

type msgpackCaster struct{}

func (msgpackCaster) FromStore(v any) (any, error) {
	var data []byte
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		data = b
	case string:
		data = []byte(b)
	default:
		return nil, fmt.Errorf("cannot decode msgpack column from %T", v)
	}
	var out any
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode msgpack column: %w", err)
	}
	return out, nil
}

func (msgpackCaster) ToStore(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	// map keys are sorted so equal values always encode to equal bytes
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode msgpack column: %w", err)
	}
	return buf.Bytes(), nil
}
