package schema

import (
	"encoding/json"
	"math"
	"reflect"
)

// Normalize converts the numeric values in data to the Go type their schema
// field declares: int fields become int64 and float fields float64, inside
// lists and nullable wrappers too. Values that cannot be converted are left
// alone for Validate to report. data is modified in place.
func Normalize(schema Schema, data map[string]any) {
	for field, typ := range schema {
		if v, ok := data[field]; ok {
			data[field] = NormalizeValue(typ, v)
		}
	}
}

// NormalizeValue converts a single value to the representation of t.
func NormalizeValue(t Type, value any) any {
	switch tt := t.(type) {
	case *IntType:
		if n, ok := toInt64(value); ok {
			return n
		}
	case *FloatType:
		if f, ok := toFloat64(value); ok {
			return f
		}
	case *NullableType:
		if value == nil {
			return nil
		}
		return NormalizeValue(tt.inner, value)
	case *SliceType:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return value
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = NormalizeValue(tt.elemType, rv.Index(i).Interface())
		}
		return out
	}
	return value
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return wholeFloat(f)
	case float32:
		return wholeFloat(float64(v))
	case float64:
		return wholeFloat(v)
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func wholeFloat(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}
