// Package evaluator exposes loaded tables to Starlark expressions.
//
// A Table supports column access (t["VALOR"]), row selection with a Mask
// (t[t["UF"].eq("SP")]), filter, select, merge, groupby, sort, head and records.
// Values are immutable; every operation returns a new Table.
package evaluator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/malbeclabs/csvagent/pkg/tables"
	"go.starlark.net/starlark"
)

// Table wraps a tables.Table as a Starlark value.
type Table struct {
	t *tables.Table
}

var (
	_ starlark.Value    = (*Table)(nil)
	_ starlark.Mapping  = (*Table)(nil)
	_ starlark.Sequence = (*Table)(nil)
	_ starlark.HasAttrs = (*Table)(nil)
)

// NewTable wraps t.
func NewTable(t *tables.Table) *Table {
	return &Table{t: t}
}

// Table returns the underlying table.
func (t *Table) Table() *tables.Table { return t.t }

// Globals returns the predeclared names visible to expressions: a frozen
// "tables" dict keyed by table name.
func Globals(m tables.Mapping) starlark.StringDict {
	dict := starlark.NewDict(m.Len())
	for _, name := range m.Names() {
		tbl, _ := m.Get(name)
		_ = dict.SetKey(starlark.String(name), NewTable(tbl))
	}
	dict.Freeze()
	return starlark.StringDict{"tables": dict}
}

func (t *Table) String() string {
	return fmt.Sprintf("table(%q, %d rows, columns=[%s])", t.t.Name, t.t.Len(), strings.Join(t.t.Columns, ", "))
}
func (t *Table) Type() string          { return "table" }
func (t *Table) Freeze()               {}
func (t *Table) Truth() starlark.Bool  { return t.t.Len() > 0 }
func (t *Table) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: table") }
func (t *Table) Len() int              { return t.t.Len() }

func (t *Table) Iterate() starlark.Iterator {
	return &sliceIterator[[]any]{items: t.t.Rows, conv: func(row []any) starlark.Value { return t.rowDict(row) }}
}

// Get implements t["COL"], t[mask] and t[["A", "B"]].
func (t *Table) Get(k starlark.Value) (starlark.Value, bool, error) {
	switch key := k.(type) {
	case starlark.String:
		col, err := t.column(string(key))
		if err != nil {
			return nil, false, err
		}
		return col, true, nil
	case *Mask:
		out, err := t.where(key.bits)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	case *starlark.List, starlark.Tuple:
		cols, err := stringList(k)
		if err != nil {
			return nil, false, err
		}
		out, err := t.selectColumns(cols)
		if err != nil {
			return nil, false, err
		}
		return out, true, nil
	default:
		return nil, false, fmt.Errorf("table index must be a column name, a mask or a list of column names, got %s", k.Type())
	}
}

func (t *Table) column(name string) (*Column, error) {
	idx := t.t.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found in table %q; available columns: %s", name, t.t.Name, quoteList(t.t.Columns))
	}
	values := make([]any, len(t.t.Rows))
	for i, row := range t.t.Rows {
		values[i] = row[idx]
	}
	return NewColumn(name, values), nil
}

func (t *Table) rowDict(row []any) *starlark.Dict {
	d := starlark.NewDict(len(t.t.Columns))
	for i, col := range t.t.Columns {
		_ = d.SetKey(starlark.String(col), toStarlark(row[i]))
	}
	return d
}

func (t *Table) derive(columns []string, rows [][]any) (*Table, error) {
	out, err := tables.NewTable(t.t.Name, columns, rows)
	if err != nil {
		return nil, err
	}
	return NewTable(out), nil
}

func (t *Table) where(bits []bool) (*Table, error) {
	if len(bits) != t.t.Len() {
		return nil, fmt.Errorf("mask has %d rows but table %q has %d", len(bits), t.t.Name, t.t.Len())
	}
	var rows [][]any
	for i, keep := range bits {
		if keep {
			rows = append(rows, t.t.Rows[i])
		}
	}
	return t.derive(t.t.Columns, rows)
}

func (t *Table) selectColumns(cols []string) (*Table, error) {
	idx := make([]int, len(cols))
	for i, name := range cols {
		idx[i] = t.t.ColumnIndex(name)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found in table %q; available columns: %s", name, t.t.Name, quoteList(t.t.Columns))
		}
	}
	rows := make([][]any, len(t.t.Rows))
	for r, row := range t.t.Rows {
		out := make([]any, len(idx))
		for i, j := range idx {
			out[i] = row[j]
		}
		rows[r] = out
	}
	return t.derive(cols, rows)
}

var tableMethods = map[string]*starlark.Builtin{
	"filter":  starlark.NewBuiltin("filter", tableFilter),
	"select":  starlark.NewBuiltin("select", tableSelect),
	"merge":   starlark.NewBuiltin("merge", tableMerge),
	"groupby": starlark.NewBuiltin("groupby", tableGroupBy),
	"sort":    starlark.NewBuiltin("sort", tableSort),
	"head":    starlark.NewBuiltin("head", tableHead),
	"records": starlark.NewBuiltin("records", tableRecords),
}

func (t *Table) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		elems := make([]starlark.Value, len(t.t.Columns))
		for i, c := range t.t.Columns {
			elems[i] = starlark.String(c)
		}
		return starlark.NewList(elems), nil
	case "name":
		return starlark.String(t.t.Name), nil
	}
	if b, ok := tableMethods[name]; ok {
		return b.BindReceiver(t), nil
	}
	return nil, nil
}

func (t *Table) AttrNames() []string {
	return append(sortedKeys(tableMethods), "columns", "name")
}

// filter(fn) keeps the rows for which fn(row) is truthy.
func tableFilter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fn); err != nil {
		return nil, err
	}
	t := b.Receiver().(*Table)
	var rows [][]any
	for _, row := range t.t.Rows {
		keep, err := starlark.Call(thread, fn, starlark.Tuple{t.rowDict(row)}, nil)
		if err != nil {
			return nil, err
		}
		if keep.Truth() {
			rows = append(rows, row)
		}
	}
	return t.derive(t.t.Columns, rows)
}

// select(cols) keeps the named columns in the given order. A single name is accepted.
func tableSelect(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var arg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &arg); err != nil {
		return nil, err
	}
	cols, err := stringList(arg)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return b.Receiver().(*Table).selectColumns(cols)
}

// merge(other, on, how="inner") joins two tables on equal key columns.
// Non-key columns present in both tables get "_x" and "_y" suffixes.
func tableMerge(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		other *Table
		onArg starlark.Value
		how   = "inner"
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "other", &other, "on", &onArg, "how?", &how); err != nil {
		return nil, err
	}
	if how != "inner" && how != "left" {
		return nil, fmt.Errorf("merge: how must be \"inner\" or \"left\", got %q", how)
	}
	on, err := stringList(onArg)
	if err != nil {
		return nil, fmt.Errorf("merge: on: %w", err)
	}
	left := b.Receiver().(*Table)
	return left.merge(other, on, how)
}

func (t *Table) merge(other *Table, on []string, how string) (*Table, error) {
	lKeys, err := keyIndexes(t.t, on)
	if err != nil {
		return nil, err
	}
	rKeys, err := keyIndexes(other.t, on)
	if err != nil {
		return nil, err
	}

	isKey := make(map[string]bool, len(on))
	for _, k := range on {
		isKey[k] = true
	}
	rightCols := make(map[string]bool, len(other.t.Columns))
	for _, c := range other.t.Columns {
		rightCols[c] = true
	}
	leftCols := make(map[string]bool, len(t.t.Columns))
	for _, c := range t.t.Columns {
		leftCols[c] = true
	}

	var (
		columns []string
		rExtra  []int
	)
	for _, c := range t.t.Columns {
		if !isKey[c] && rightCols[c] {
			c += "_x"
		}
		columns = append(columns, c)
	}
	for i, c := range other.t.Columns {
		if isKey[c] {
			continue
		}
		if leftCols[c] {
			c += "_y"
		}
		columns = append(columns, c)
		rExtra = append(rExtra, i)
	}

	index := make(map[string][]int)
	for i, row := range other.t.Rows {
		k := rowKey(row, rKeys)
		index[k] = append(index[k], i)
	}

	var rows [][]any
	for _, row := range t.t.Rows {
		matches := index[rowKey(row, lKeys)]
		if len(matches) == 0 && how == "left" {
			out := append(append([]any(nil), row...), make([]any, len(rExtra))...)
			rows = append(rows, out)
			continue
		}
		for _, m := range matches {
			out := append([]any(nil), row...)
			for _, j := range rExtra {
				out = append(out, other.t.Rows[m][j])
			}
			rows = append(rows, out)
		}
	}
	return t.derive(columns, rows)
}

func keyIndexes(t *tables.Table, on []string) ([]int, error) {
	idx := make([]int, len(on))
	for i, k := range on {
		idx[i] = t.ColumnIndex(k)
		if idx[i] < 0 {
			return nil, fmt.Errorf("merge key %q not found in table %q; available columns: %s", k, t.Name, quoteList(t.Columns))
		}
	}
	return idx, nil
}

func rowKey(row []any, idx []int) string {
	parts := make([]string, len(idx))
	for i, j := range idx {
		parts[i] = groupKey(row[j])
	}
	return strings.Join(parts, "\x1f")
}

func tableGroupBy(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}
	t := b.Receiver().(*Table)
	if t.t.ColumnIndex(key) < 0 {
		return nil, fmt.Errorf("groupby: column %q not found in table %q; available columns: %s", key, t.t.Name, quoteList(t.t.Columns))
	}
	return &GroupBy{table: t, key: key}, nil
}

// sort(by, desc=False) orders rows by a column. None sorts last.
func tableSort(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		by   string
		desc bool
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "desc?", &desc); err != nil {
		return nil, err
	}
	t := b.Receiver().(*Table)
	idx := t.t.ColumnIndex(by)
	if idx < 0 {
		return nil, fmt.Errorf("sort: column %q not found in table %q; available columns: %s", by, t.t.Name, quoteList(t.t.Columns))
	}

	rows := append([][]any(nil), t.t.Rows...)
	var cmpErr error
	sort.SliceStable(rows, func(i, j int) bool {
		x, y := rows[i][idx], rows[j][idx]
		if x == nil || y == nil {
			return x != nil && y == nil
		}
		c, err := compareValues(x, y)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, fmt.Errorf("sort: column %q: %w", by, cmpErr)
	}
	return t.derive(t.t.Columns, rows)
}

func tableHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0, &n); err != nil {
		return nil, err
	}
	t := b.Receiver().(*Table)
	if n < 0 {
		n = 0
	}
	if n > t.t.Len() {
		n = t.t.Len()
	}
	return t.derive(t.t.Columns, t.t.Rows[:n])
}

func tableRecords(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	t := b.Receiver().(*Table)
	elems := make([]starlark.Value, len(t.t.Rows))
	for i, row := range t.t.Rows {
		elems[i] = t.rowDict(row)
	}
	return starlark.NewList(elems), nil
}

func stringList(v starlark.Value) ([]string, error) {
	if s, ok := starlark.AsString(v); ok {
		return []string{s}, nil
	}
	iter, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("expected a column name or a list of column names, got %s", v.Type())
	}
	var out []string
	it := iter.Iterate()
	defer it.Done()
	var x starlark.Value
	for it.Next(&x) {
		s, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("column names must be strings, got %s", x.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
