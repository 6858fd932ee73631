package pipeline

import (
	"context"
	"strings"

	"github.com/malbeclabs/csvagent/agent/pkg/evaluator"
	"github.com/malbeclabs/csvagent/pkg/tables"
	"go.starlark.net/starlark"
)

const resultName = "result"

// Fault messages for valid expressions that produced nothing to show.
const (
	noResultMessage    = "A consulta não retornou um valor válido."
	emptyResultMessage = "A consulta não encontrou nenhum resultado."
)

// Executor evaluates query expressions against a fixed table mapping.
type Executor struct {
	globals  starlark.StringDict
	maxSteps uint64
}

// NewExecutor binds the mapping as the only global visible to expressions.
func NewExecutor(m tables.Mapping, maxSteps uint64) *Executor {
	return &Executor{globals: evaluator.Globals(m), maxSteps: maxSteps}
}

// IsSentinel reports whether expr is the off-domain sentinel expression.
func IsSentinel(expr string) bool {
	return strings.Join(strings.Fields(expr), "") == strings.Join(strings.Fields(Sentinel), "")
}

// Execute evaluates expr once and converts the value bound to "result".
func (e *Executor) Execute(ctx context.Context, expr string) (QueryResult, *Fault) {
	if IsSentinel(expr) {
		return QueryResult{Kind: ResultEmpty}, nil
	}

	out, err := evaluator.Exec(ctx, e.globals, expr, e.maxSteps)
	if err != nil {
		return QueryResult{}, newFault(FaultExecution, err)
	}

	v, ok := out[resultName]
	if !ok || v == starlark.None {
		return QueryResult{}, newFaultf(FaultNoResult, noResultMessage)
	}
	return convertResult(v)
}

func convertResult(v starlark.Value) (QueryResult, *Fault) {
	switch val := v.(type) {
	case *evaluator.Table:
		t := val.Table()
		if t.Len() == 0 {
			return QueryResult{}, newFaultf(FaultEmptyResult, emptyResultMessage)
		}
		return QueryResult{Kind: ResultRecords, Columns: t.Columns, Records: t.Rows}, nil

	case *evaluator.Column:
		if val.Len() == 0 {
			return QueryResult{}, newFaultf(FaultEmptyResult, emptyResultMessage)
		}

	case *evaluator.GroupBy:
		return QueryResult{}, newFaultf(FaultExecution, "result is a groupby; apply an aggregation such as .sum(%q)", "COL")

	case *starlark.Dict:
		keys, values, err := evaluator.DictFields(val)
		if err != nil {
			return QueryResult{}, newFault(FaultExecution, err)
		}
		return QueryResult{Kind: ResultRecord, Record: Record{Keys: keys, Values: values}}, nil

	case starlark.String, starlark.Int, starlark.Float, starlark.Bool:
		gv, err := evaluator.ToGo(val)
		if err != nil {
			return QueryResult{}, newFault(FaultExecution, err)
		}
		return QueryResult{Kind: ResultScalar, Scalar: gv}, nil

	case *starlark.List, starlark.Tuple:
		if res, ok, err := dictRecords(val.(starlark.Indexable)); ok || err != nil {
			if err != nil {
				return QueryResult{}, newFault(FaultExecution, err)
			}
			return res, nil
		}
	}

	gv, err := evaluator.ToGo(v)
	if err != nil {
		return QueryResult{}, newFault(FaultExecution, err)
	}
	values, ok := gv.([]any)
	if !ok {
		return QueryResult{}, newFaultf(FaultExecution, "unsupported result type %s", v.Type())
	}
	return QueryResult{Kind: ResultSequence, Values: values}, nil
}

// dictRecords converts a non-empty list of dicts into records, with columns in
// first-seen order. ok is false when any element is not a dict.
func dictRecords(seq starlark.Indexable) (QueryResult, bool, error) {
	n := seq.Len()
	if n == 0 {
		return QueryResult{}, false, nil
	}

	var (
		columns []string
		index   = make(map[string]int)
		rows    = make([]map[string]any, n)
	)
	for i := 0; i < n; i++ {
		d, ok := seq.Index(i).(*starlark.Dict)
		if !ok {
			return QueryResult{}, false, nil
		}
		keys, values, err := evaluator.DictFields(d)
		if err != nil {
			return QueryResult{}, false, err
		}
		rows[i] = make(map[string]any, len(keys))
		for j, k := range keys {
			if _, seen := index[k]; !seen {
				index[k] = len(columns)
				columns = append(columns, k)
			}
			rows[i][k] = values[j]
		}
	}

	records := make([][]any, n)
	for i, row := range rows {
		rec := make([]any, len(columns))
		for k, v := range row {
			rec[index[k]] = v
		}
		records[i] = rec
	}
	return QueryResult{Kind: ResultRecords, Columns: columns, Records: records}, true, nil
}
