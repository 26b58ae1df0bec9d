package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Row is one record of a batch keyed by column name.
type Row = map[string]any

type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "str"
	case KindFloat:
		return "float64"
	case KindTimestamp:
		return "datetime"
	default:
		return "unknown"
	}
}

// Check is a named predicate applied to an already coerced, non-null value.
type Check struct {
	Name string
	Fn   func(v any) bool
}

type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
	Checks   []Check
}

// Schema declares the accepted shape of a batch. With Coerce set, values of a
// convertible runtime type are converted instead of rejected. With Strict
// set, undeclared columns are dropped from the cleaned rows.
type Schema struct {
	Columns []Column
	Coerce  bool
	Strict  bool
}

// FailureCase pins one violated constraint to a row and column.
type FailureCase struct {
	Row    int    `json:"row"`
	Column string `json:"column"`
	Check  string `json:"check"`
	Value  any    `json:"value"`
}

func (f FailureCase) String() string {
	return fmt.Sprintf("row %d, column %q: %s (value: %v)", f.Row, f.Column, f.Check, f.Value)
}

// Evaluate runs every check on every row and column before returning, so one
// pass reports the complete set of defects. cleaned is only meaningful when
// failures is empty.
func (s *Schema) Evaluate(batch []Row) (cleaned []Row, failures []FailureCase) {
	cleaned = make([]Row, len(batch))

	for i, row := range batch {
		clean := make(Row, len(s.Columns))

		for _, col := range s.Columns {
			raw, present := row[col.Name]
			if !present {
				failures = append(failures, FailureCase{Row: i, Column: col.Name, Check: "column_present", Value: nil})
				continue
			}

			value, err := s.convert(col.Kind, raw)
			if err != nil {
				failures = append(failures, FailureCase{Row: i, Column: col.Name, Check: fmt.Sprintf("dtype(%s)", col.Kind), Value: raw})
				continue
			}

			if value == nil {
				if !col.Nullable {
					failures = append(failures, FailureCase{Row: i, Column: col.Name, Check: "not_nullable", Value: nil})
				}
				clean[col.Name] = nil
				continue
			}

			for _, check := range col.Checks {
				if !check.Fn(value) {
					failures = append(failures, FailureCase{Row: i, Column: col.Name, Check: check.Name, Value: value})
				}
			}
			clean[col.Name] = value
		}

		if !s.Strict {
			for k, v := range row {
				if !s.declares(k) {
					clean[k] = v
				}
			}
		}

		cleaned[i] = clean
	}

	return cleaned, failures
}

func (s *Schema) declares(name string) bool {
	for _, col := range s.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// convert returns the value in its declared Go type (string, float64,
// time.Time) or nil for a null. A NaN float counts as null.
func (s *Schema) convert(kind Kind, v any) (any, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}

	switch kind {
	case KindString:
		if str, ok := v.(string); ok {
			return str, nil
		}
		if !s.Coerce {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return toString(v)
	case KindFloat:
		f, ok := v.(float64)
		if !ok {
			if !s.Coerce {
				return nil, fmt.Errorf("expected float64, got %T", v)
			}
			c, err := toFloat(v)
			if err != nil {
				return nil, err
			}
			f = c.(float64)
		}
		// NaN is a missing value, as in a dataframe float column
		if math.IsNaN(f) {
			return nil, nil
		}
		return f, nil
	case KindTimestamp:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
		if !s.Coerce {
			return nil, fmt.Errorf("expected time.Time, got %T", v)
		}
		return toTime(v)
	}

	return nil, fmt.Errorf("unknown column kind %d", kind)
}

func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func toString(v any) (any, error) {
	switch t := v.(type) {
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.String:
		return rv.String(), nil
	}

	return nil, fmt.Errorf("cannot coerce %T to string", v)
}

func toFloat(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}

	return nil, fmt.Errorf("cannot coerce %T to float64", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func toTime(v any) (any, error) {
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("cannot coerce %T to time", v)
	}
	str = strings.TrimSpace(str)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", str)
}

// MinLength requires at least n runes.
func MinLength(n int) Check {
	return Check{
		Name: fmt.Sprintf("min_length(%d)", n),
		Fn: func(v any) bool {
			s, ok := v.(string)
			return ok && utf8.RuneCountInString(s) >= n
		},
	}
}

func GreaterThan(bound float64) Check {
	return Check{
		Name: fmt.Sprintf("greater_than(%s)", strconv.FormatFloat(bound, 'f', -1, 64)),
		Fn: func(v any) bool {
			f, ok := v.(float64)
			return ok && f > bound
		},
	}
}

func StartsWith(prefix string) Check {
	return Check{
		Name: fmt.Sprintf("starts_with(%q)", prefix),
		Fn: func(v any) bool {
			s, ok := v.(string)
			return ok && strings.HasPrefix(s, prefix)
		},
	}
}
