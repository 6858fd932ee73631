package evaluator

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Column is a single named column of cell values. Comparisons are methods
// (col.eq(x), col.gt(x), ...) returning a Mask, since Starlark does not allow
// overloading == or <.
type Column struct {
	name   string
	values []any
}

var (
	_ starlark.Value     = (*Column)(nil)
	_ starlark.HasAttrs  = (*Column)(nil)
	_ starlark.Indexable = (*Column)(nil)
	_ starlark.Iterable  = (*Column)(nil)
	_ starlark.HasBinary = (*Column)(nil)
)

// NewColumn creates a column over the given cell values.
func NewColumn(name string, values []any) *Column {
	return &Column{name: name, values: values}
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Values returns the column cells.
func (c *Column) Values() []any { return c.values }

func (c *Column) String() string        { return fmt.Sprintf("column(%q, %d values)", c.name, len(c.values)) }
func (c *Column) Type() string          { return "column" }
func (c *Column) Freeze()               {}
func (c *Column) Truth() starlark.Bool  { return len(c.values) > 0 }
func (c *Column) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: column") }
func (c *Column) Len() int              { return len(c.values) }

func (c *Column) Index(i int) starlark.Value { return toStarlark(c.values[i]) }

func (c *Column) Iterate() starlark.Iterator {
	return &sliceIterator[any]{items: c.values, conv: toStarlark}
}

// Binary implements element-wise arithmetic with another column or a number.
func (c *Column) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	switch op {
	case syntax.PLUS, syntax.MINUS, syntax.STAR, syntax.SLASH:
	default:
		return nil, nil
	}

	var right func(i int) any
	switch other := y.(type) {
	case *Column:
		if len(other.values) != len(c.values) {
			return nil, fmt.Errorf("column length mismatch: %d vs %d", len(c.values), len(other.values))
		}
		right = func(i int) any { return other.values[i] }
	case starlark.Int, starlark.Float:
		v, err := fromStarlark(other)
		if err != nil {
			return nil, err
		}
		right = func(int) any { return v }
	default:
		return nil, nil
	}

	out := make([]any, len(c.values))
	for i, lv := range c.values {
		rv := right(i)
		a, b := lv, rv
		if side == starlark.Right {
			a, b = rv, lv
		}
		v, err := arith(op, a, b)
		if err != nil {
			return nil, fmt.Errorf("column %q row %d: %w", c.name, i, err)
		}
		out[i] = v
	}
	return &Column{name: c.name, values: out}, nil
}

func arith(op syntax.Token, a, b any) (any, error) {
	if a == nil || b == nil {
		return nil, nil
	}
	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	if aInt && bInt && op != syntax.SLASH {
		switch op {
		case syntax.PLUS:
			return ia + ib, nil
		case syntax.MINUS:
			return ia - ib, nil
		case syntax.STAR:
			return ia * ib, nil
		}
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if !okA || !okB {
		return nil, fmt.Errorf("unsupported operand types %s %s %s", typeName(a), op, typeName(b))
	}
	switch op {
	case syntax.PLUS:
		return fa + fb, nil
	case syntax.MINUS:
		return fa - fb, nil
	case syntax.STAR:
		return fa * fb, nil
	default:
		if fb == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return fa / fb, nil
	}
}

var columnMethods = map[string]*starlark.Builtin{
	"sum":        starlark.NewBuiltin("sum", columnSum),
	"mean":       starlark.NewBuiltin("mean", columnMean),
	"min":        starlark.NewBuiltin("min", columnMin),
	"max":        starlark.NewBuiltin("max", columnMax),
	"count":      starlark.NewBuiltin("count", columnCount),
	"nunique":    starlark.NewBuiltin("nunique", columnNUnique),
	"unique":     starlark.NewBuiltin("unique", columnUnique),
	"tolist":     starlark.NewBuiltin("tolist", columnToList),
	"eq":         starlark.NewBuiltin("eq", columnEq),
	"ne":         starlark.NewBuiltin("ne", columnNe),
	"gt":         starlark.NewBuiltin("gt", columnOrdered(func(c int) bool { return c > 0 })),
	"ge":         starlark.NewBuiltin("ge", columnOrdered(func(c int) bool { return c >= 0 })),
	"lt":         starlark.NewBuiltin("lt", columnOrdered(func(c int) bool { return c < 0 })),
	"le":         starlark.NewBuiltin("le", columnOrdered(func(c int) bool { return c <= 0 })),
	"isin":       starlark.NewBuiltin("isin", columnIsIn),
	"isnull":     starlark.NewBuiltin("isnull", columnIsNull),
	"contains":   starlark.NewBuiltin("contains", columnContains),
	"startswith": starlark.NewBuiltin("startswith", columnStartsWith),
}

func (c *Column) Attr(name string) (starlark.Value, error) {
	if name == "name" {
		return starlark.String(c.name), nil
	}
	if b, ok := columnMethods[name]; ok {
		return b.BindReceiver(c), nil
	}
	return nil, nil
}

func (c *Column) AttrNames() []string { return append(sortedKeys(columnMethods), "name") }

func noArgs(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (*Column, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return b.Receiver().(*Column), nil
}

func oneArg(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (*Column, any, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, nil, err
	}
	v, err := fromStarlark(x)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return b.Receiver().(*Column), v, nil
}

// sum adds the numeric cells, skipping None. The result is an int when every cell is an int.
func (c *Column) sum() (any, error) {
	var (
		isum   int64
		fsum   float64
		floats bool
	)
	for _, v := range c.values {
		switch val := v.(type) {
		case nil:
		case int64:
			isum += val
		case float64:
			fsum += val
			floats = true
		default:
			return nil, fmt.Errorf("column %q: cannot sum %s value %v", c.name, typeName(v), v)
		}
	}
	if floats {
		return fsum + float64(isum), nil
	}
	return isum, nil
}

func columnSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, err := c.sum()
	if err != nil {
		return nil, err
	}
	return toStarlark(v), nil
}

func (c *Column) mean() (any, error) {
	total, err := c.sum()
	if err != nil {
		return nil, err
	}
	n := c.count()
	if n == 0 {
		return nil, nil
	}
	f, _ := toFloat(total)
	return f / float64(n), nil
}

func columnMean(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, err := c.mean()
	if err != nil {
		return nil, err
	}
	return toStarlark(v), nil
}

// extreme returns the smallest (sign -1) or largest (sign 1) non-nil cell.
func (c *Column) extreme(sign int) (any, error) {
	var best any
	for _, v := range c.values {
		if v == nil {
			continue
		}
		if best == nil {
			best = v
			continue
		}
		cmp, err := compareValues(v, best)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.name, err)
		}
		if cmp*sign > 0 {
			best = v
		}
	}
	return best, nil
}

func columnMin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, err := c.extreme(-1)
	if err != nil {
		return nil, err
	}
	return toStarlark(v), nil
}

func columnMax(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	v, err := c.extreme(1)
	if err != nil {
		return nil, err
	}
	return toStarlark(v), nil
}

func (c *Column) count() int {
	n := 0
	for _, v := range c.values {
		if v != nil {
			n++
		}
	}
	return n
}

func columnCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(c.count()), nil
}

// unique returns the distinct non-nil cells in order of first appearance.
func (c *Column) unique() []any {
	seen := make(map[string]struct{})
	var out []any
	for _, v := range c.values {
		if v == nil {
			continue
		}
		k := groupKey(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func columnNUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(len(c.unique())), nil
}

func columnUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return valuesList(c.unique()), nil
}

func columnToList(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return valuesList(c.values), nil
}

func valuesList(values []any) *starlark.List {
	elems := make([]starlark.Value, len(values))
	for i, v := range values {
		elems[i] = toStarlark(v)
	}
	return starlark.NewList(elems)
}

func (c *Column) mask(pred func(v any) (bool, error)) (starlark.Value, error) {
	bits := make([]bool, len(c.values))
	for i, v := range c.values {
		ok, err := pred(v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.name, err)
		}
		bits[i] = ok
	}
	return &Mask{bits: bits}, nil
}

func columnEq(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return c.mask(func(v any) (bool, error) { return equalValues(v, x), nil })
}

func columnNe(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, x, err := oneArg(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return c.mask(func(v any) (bool, error) { return !equalValues(v, x), nil })
}

type builtinFunc = func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

// columnOrdered builds gt/ge/lt/le. None cells never match.
func columnOrdered(accept func(cmp int) bool) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		c, x, err := oneArg(b, args, kwargs)
		if err != nil {
			return nil, err
		}
		if x == nil {
			return nil, fmt.Errorf("%s: cannot compare with None", b.Name())
		}
		return c.mask(func(v any) (bool, error) {
			if v == nil {
				return false, nil
			}
			cmp, err := compareValues(v, x)
			if err != nil {
				return false, err
			}
			return accept(cmp), nil
		})
	}
}

func columnIsIn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var values starlark.Iterable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &values); err != nil {
		return nil, err
	}
	var candidates []any
	it := values.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		v, err := fromStarlark(x)
		if err != nil {
			return nil, fmt.Errorf("isin: %w", err)
		}
		candidates = append(candidates, v)
	}
	c := b.Receiver().(*Column)
	return c.mask(func(v any) (bool, error) {
		for _, cand := range candidates {
			if equalValues(v, cand) {
				return true, nil
			}
		}
		return false, nil
	})
}

func columnIsNull(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	c, err := noArgs(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	return c.mask(func(v any) (bool, error) { return v == nil, nil })
}

// columnContains matches cells whose text contains a substring, case-insensitively unless case=True.
func columnContains(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		sub       string
		sensitive bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "sub", &sub, "case?", &sensitive); err != nil {
		return nil, err
	}
	if !sensitive {
		sub = strings.ToLower(sub)
	}
	c := b.Receiver().(*Column)
	return c.mask(func(v any) (bool, error) {
		s, ok := cellText(v)
		if !ok {
			return false, nil
		}
		if !sensitive {
			s = strings.ToLower(s)
		}
		return strings.Contains(s, sub), nil
	})
}

func columnStartsWith(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var prefix string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &prefix); err != nil {
		return nil, err
	}
	c := b.Receiver().(*Column)
	return c.mask(func(v any) (bool, error) {
		s, ok := cellText(v)
		return ok && strings.HasPrefix(s, prefix), nil
	})
}
