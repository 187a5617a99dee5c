package template

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/aretw0/kernelctx/pkg/schema"
)

// Funcs is the function set available inside every template body.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"py":    PythonLiteral,
		"jl":    JuliaLiteral,
		"json":  jsonLiteral,
		"ident": identifier,
		"sym":   juliaSymbol,
	}
}

// PythonLiteral renders v as a Python literal. Mapping keys are emitted sorted.
func PythonLiteral(v any) string {
	return literal(v, pythonDialect)
}

// JuliaLiteral renders v as a Julia literal. Mapping keys are emitted sorted.
func JuliaLiteral(v any) string {
	return literal(v, juliaDialect)
}

type dialect struct {
	null, yes, no string
	quote         func(string) string
	mapOpen       string
	pair          string
	mapClose      string
	nan, inf      string
}

var pythonDialect = dialect{
	null: "None", yes: "True", no: "False",
	quote:   strconv.Quote,
	mapOpen: "{", pair: ": ", mapClose: "}",
	nan: `float("nan")`, inf: `float("inf")`,
}

var juliaDialect = dialect{
	null: "nothing", yes: "true", no: "false",
	quote: func(s string) string {
		return strings.ReplaceAll(strconv.Quote(s), "$", `\$`)
	},
	mapOpen: "Dict(", pair: " => ", mapClose: ")",
	nan: "NaN", inf: "Inf",
}

func literal(v any, d dialect) string {
	switch val := v.(type) {
	case nil:
		return d.null
	case bool:
		if val {
			return d.yes
		}
		return d.no
	case string:
		return d.quote(val)
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return formatFloat(val, d)
	case float32:
		return formatFloat(float64(val), d)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = literal(item, d)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = d.quote(k) + d.pair + literal(val[k], d)
		}
		return d.mapOpen + strings.Join(parts, ", ") + d.mapClose
	}
	return reflectLiteral(v, d)
}

func reflectLiteral(v any, d dialect) string {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return literal(items, d)
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			m := make(map[string]any, rv.Len())
			for _, k := range rv.MapKeys() {
				m[k.String()] = rv.MapIndex(k).Interface()
			}
			return literal(m, d)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Pointer:
		if rv.IsNil() {
			return d.null
		}
		return literal(rv.Elem().Interface(), d)
	}
	return d.quote(fmt.Sprint(v))
}

func formatFloat(f float64, d dialect) string {
	switch {
	case math.IsNaN(f):
		return d.nan
	case math.IsInf(f, 1):
		return d.inf
	case math.IsInf(f, -1):
		return "-" + d.inf
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func jsonLiteral(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func identifier(v any) (string, error) {
	if err := schema.Identifier().Validate(v); err != nil {
		return "", err
	}
	return v.(string), nil
}

func juliaSymbol(v any) (string, error) {
	name, err := identifier(v)
	if err != nil {
		return "", err
	}
	return ":" + name, nil
}
