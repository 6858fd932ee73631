package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"go.starlark.net/starlark"
)

// toStarlark converts a table cell to a Starlark value.
func toStarlark(v any) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case string:
		return starlark.String(val)
	case int64:
		return starlark.MakeInt64(val)
	case int:
		return starlark.MakeInt(val)
	case float64:
		return starlark.Float(val)
	case bool:
		return starlark.Bool(val)
	case time.Time:
		return starlark.String(formatTime(val))
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

// fromStarlark converts a scalar Starlark value to a cell value.
func fromStarlark(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.String:
		return string(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer %s out of range", val.String())
	case starlark.Float:
		return float64(val), nil
	case starlark.Bool:
		return bool(val), nil
	default:
		return nil, fmt.Errorf("expected a scalar value, got %s", v.Type())
	}
}

// ToGo converts a Starlark value produced by an expression into plain Go values:
// nil, string, int64, float64, bool, []any or map[string]any. Use DictFields
// when key order matters.
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType, starlark.String, starlark.Int, starlark.Float, starlark.Bool:
		return fromStarlark(v)
	case *Column:
		return append([]any(nil), val.values...), nil
	case *Mask:
		out := make([]any, len(val.bits))
		for i, b := range val.bits {
			out[i] = b
		}
		return out, nil
	case starlark.Indexable:
		out := make([]any, val.Len())
		for i := range out {
			gv, err := ToGo(val.Index(i))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = gv
		}
		return out, nil
	case *starlark.Dict:
		out := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, err
			}
			out[keyString(item[0])] = gv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", v.Type())
	}
}

// DictFields returns the keys and values of a Starlark dict in insertion order.
func DictFields(d *starlark.Dict) ([]string, []any, error) {
	items := d.Items()
	keys := make([]string, len(items))
	values := make([]any, len(items))
	for i, item := range items {
		keys[i] = keyString(item[0])
		gv, err := ToGo(item[1])
		if err != nil {
			return nil, nil, fmt.Errorf("key %s: %w", keys[i], err)
		}
		values[i] = gv
	}
	return keys, values, nil
}

func keyString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.DateTime)
}

// cellText renders a non-nil cell as the text string predicates match against.
func cellText(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	default:
		return groupKey(val), true
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// groupKey renders a cell as a join or grouping key. Whole floats and ints share keys.
func groupKey(v any) string {
	switch val := v.(type) {
	case nil:
		return "\x00nil"
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return formatTime(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// compareValues orders two non-nil cells. Numbers compare numerically and strings
// lexically; any other pairing is an error.
func compareValues(a, b any) (int, error) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, nil
			case fa > fb:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if ta, ok := a.(time.Time); ok {
		a = formatTime(ta)
	}
	if tb, ok := b.(time.Time); ok {
		b = formatTime(tb)
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		switch {
		case sa < sb:
			return -1, nil
		case sa > sb:
			return 1, nil
		default:
			return 0, nil
		}
	}
	ba, okA := a.(bool)
	bb, okB := b.(bool)
	if okA && okB {
		switch {
		case ba == bb:
			return 0, nil
		case !ba:
			return -1, nil
		default:
			return 1, nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", typeName(a), typeName(b))
}

// equalValues reports cell equality without erroring on mismatched types.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	c, err := compareValues(a, b)
	return err == nil && c == 0
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "None"
	case string, time.Time:
		return "string"
	case int64, int:
		return "int"
	case float64:
		return "float"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}
