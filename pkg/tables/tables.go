// Package tables holds the in-memory tabular datasets the agent answers questions about,
// and the ingestion helpers that sync and load them from CSV files.
package tables

import (
	"fmt"
	"sort"
)

// Table is a named, columnar dataset loaded from a single CSV file.
// The name is the source file name including its extension.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// NewTable creates a table, rejecting duplicate column names and ragged rows.
func NewTable(name string, columns []string, rows [][]any) (*Table, error) {
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	seen := make(map[string]struct{}, len(columns))
	for _, col := range columns {
		if _, ok := seen[col]; ok {
			return nil, fmt.Errorf("table %q: duplicate column %q", name, col)
		}
		seen[col] = struct{}{}
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("table %q: row %d has %d values, expected %d", name, i, len(row), len(columns))
		}
	}
	return &Table{Name: name, Columns: columns, Rows: rows}, nil
}

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Mapping is the read-only set of tables available for a session, keyed by name.
type Mapping struct {
	tables map[string]*Table
}

// NewMapping builds a mapping from the given tables. Names must be unique.
func NewMapping(ts ...*Table) (Mapping, error) {
	m := Mapping{tables: make(map[string]*Table, len(ts))}
	for _, t := range ts {
		if t == nil {
			continue
		}
		if _, ok := m.tables[t.Name]; ok {
			return Mapping{}, fmt.Errorf("duplicate table %q", t.Name)
		}
		m.tables[t.Name] = t
	}
	return m, nil
}

// Get returns the named table.
func (m Mapping) Get(name string) (*Table, bool) {
	t, ok := m.tables[name]
	return t, ok
}

// Names returns the table names in sorted order.
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of tables.
func (m Mapping) Len() int {
	return len(m.tables)
}

// Headers returns table name -> ordered column names.
func (m Mapping) Headers() map[string][]string {
	headers := make(map[string][]string, len(m.tables))
	for name, t := range m.tables {
		headers[name] = t.Columns
	}
	return headers
}
