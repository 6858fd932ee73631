package evaluator

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Mask is a boolean row selector produced by Column predicates. Masks combine
// with & (and), | (or) and ~ (not), and select rows with table[mask].
type Mask struct {
	bits []bool
}

var (
	_ starlark.Value     = (*Mask)(nil)
	_ starlark.HasBinary = (*Mask)(nil)
	_ starlark.HasUnary  = (*Mask)(nil)
	_ starlark.HasAttrs  = (*Mask)(nil)
	_ starlark.Sequence  = (*Mask)(nil)
)

func (m *Mask) String() string        { return fmt.Sprintf("mask(%d rows, %d selected)", len(m.bits), m.count()) }
func (m *Mask) Type() string          { return "mask" }
func (m *Mask) Freeze()               {}
func (m *Mask) Truth() starlark.Bool  { return m.count() > 0 }
func (m *Mask) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: mask") }
func (m *Mask) Len() int              { return len(m.bits) }

func (m *Mask) Iterate() starlark.Iterator {
	return &sliceIterator[bool]{items: m.bits, conv: func(b bool) starlark.Value { return starlark.Bool(b) }}
}

func (m *Mask) count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

func (m *Mask) Binary(op syntax.Token, y starlark.Value, _ starlark.Side) (starlark.Value, error) {
	other, ok := y.(*Mask)
	if !ok {
		return nil, nil
	}
	if len(other.bits) != len(m.bits) {
		return nil, fmt.Errorf("mask length mismatch: %d vs %d", len(m.bits), len(other.bits))
	}
	out := make([]bool, len(m.bits))
	switch op {
	case syntax.AMP:
		for i := range out {
			out[i] = m.bits[i] && other.bits[i]
		}
	case syntax.PIPE:
		for i := range out {
			out[i] = m.bits[i] || other.bits[i]
		}
	default:
		return nil, nil
	}
	return &Mask{bits: out}, nil
}

func (m *Mask) Unary(op syntax.Token) (starlark.Value, error) {
	if op != syntax.TILDE {
		return nil, nil
	}
	out := make([]bool, len(m.bits))
	for i, b := range m.bits {
		out[i] = !b
	}
	return &Mask{bits: out}, nil
}

var maskMethods = map[string]*starlark.Builtin{
	"sum": starlark.NewBuiltin("sum", maskSum),
	"any": starlark.NewBuiltin("any", maskAny),
	"all": starlark.NewBuiltin("all", maskAll),
}

func (m *Mask) Attr(name string) (starlark.Value, error) {
	if b, ok := maskMethods[name]; ok {
		return b.BindReceiver(m), nil
	}
	return nil, nil
}

func (m *Mask) AttrNames() []string { return sortedKeys(maskMethods) }

func maskSum(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.MakeInt(b.Receiver().(*Mask).count()), nil
}

func maskAny(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Bool(b.Receiver().(*Mask).count() > 0), nil
}

func maskAll(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	m := b.Receiver().(*Mask)
	return starlark.Bool(m.count() == len(m.bits)), nil
}

// sliceIterator iterates a Go slice as Starlark values.
type sliceIterator[T any] struct {
	items []T
	conv  func(T) starlark.Value
	i     int
}

func (it *sliceIterator[T]) Next(p *starlark.Value) bool {
	if it.i >= len(it.items) {
		return false
	}
	*p = it.conv(it.items[it.i])
	it.i++
	return true
}

func (it *sliceIterator[T]) Done() {}
