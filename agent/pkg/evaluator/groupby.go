package evaluator

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// GroupBy is the result of table.groupby(key). Each aggregation returns a Table
// with the key column and the aggregated column, one row per distinct key,
// ordered by key.
type GroupBy struct {
	table *Table
	key   string
}

var (
	_ starlark.Value    = (*GroupBy)(nil)
	_ starlark.HasAttrs = (*GroupBy)(nil)
)

func (g *GroupBy) String() string        { return fmt.Sprintf("groupby(%q, %q)", g.table.t.Name, g.key) }
func (g *GroupBy) Type() string          { return "groupby" }
func (g *GroupBy) Freeze()               {}
func (g *GroupBy) Truth() starlark.Bool  { return starlark.True }
func (g *GroupBy) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: groupby") }

type aggregate func(c *Column) (any, error)

var groupByAggregates = map[string]aggregate{
	"sum":  func(c *Column) (any, error) { return c.sum() },
	"mean": func(c *Column) (any, error) { return c.mean() },
	"min":  func(c *Column) (any, error) { return c.extreme(-1) },
	"max":  func(c *Column) (any, error) { return c.extreme(1) },
	"count": func(c *Column) (any, error) {
		return int64(c.count()), nil
	},
}

func (g *GroupBy) Attr(name string) (starlark.Value, error) {
	agg, ok := groupByAggregates[name]
	if !ok {
		return nil, nil
	}
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var col string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &col); err != nil {
			return nil, err
		}
		return g.aggregate(col, agg)
	}), nil
}

func (g *GroupBy) AttrNames() []string { return sortedKeys(groupByAggregates) }

type group struct {
	key  any
	rows []int
}

// groups partitions the row indexes by key, skipping None keys.
func (g *GroupBy) groups() []*group {
	t := g.table.t
	idx := t.ColumnIndex(g.key)
	byKey := make(map[string]*group)
	var order []*group
	for i, row := range t.Rows {
		if row[idx] == nil {
			continue
		}
		k := groupKey(row[idx])
		grp, ok := byKey[k]
		if !ok {
			grp = &group{key: row[idx]}
			byKey[k] = grp
			order = append(order, grp)
		}
		grp.rows = append(grp.rows, i)
	}
	sort.SliceStable(order, func(i, j int) bool {
		c, err := compareValues(order[i].key, order[j].key)
		return err == nil && c < 0
	})
	return order
}

func (g *GroupBy) aggregate(col string, agg aggregate) (starlark.Value, error) {
	t := g.table.t
	idx := t.ColumnIndex(col)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found in table %q; available columns: %s", col, t.Name, quoteList(t.Columns))
	}

	columns := []string{g.key, col}
	if col == g.key {
		columns = []string{g.key, col + "_agg"}
	}

	var rows [][]any
	for _, grp := range g.groups() {
		values := make([]any, len(grp.rows))
		for i, r := range grp.rows {
			values[i] = t.Rows[r][idx]
		}
		v, err := agg(NewColumn(col, values))
		if err != nil {
			return nil, err
		}
		rows = append(rows, []any{grp.key, v})
	}
	return g.table.derive(columns, rows)
}
