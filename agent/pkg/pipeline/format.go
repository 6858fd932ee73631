package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FormatResult renders a result for the end user. It is pure: the same result
// always yields the same text.
func FormatResult(r QueryResult) string {
	switch r.Kind {
	case ResultEmpty:
		return NoResultsMessage
	case ResultScalar:
		if isScalar(r.Scalar) {
			return "O resultado para sua consulta é " + formatValue(r.Scalar)
		}
	case ResultSequence:
		if len(r.Values) == 0 {
			return NoResultsMessage
		}
		if allScalars(r.Values) {
			lines := make([]string, len(r.Values))
			for i, v := range r.Values {
				lines[i] = "- " + formatValue(v)
			}
			return strings.Join(lines, "\n")
		}
	case ResultRecord:
		return dumpYAML(recordNode(r.Record.Keys, r.Record.Values))
	case ResultRecords:
		if len(r.Records) == 0 {
			return NoResultsMessage
		}
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, row := range r.Records {
			seq.Content = append(seq.Content, recordNode(r.Columns, row))
		}
		return dumpYAML(seq)
	}
	return dumpYAML(valueNode(fallbackValue(r)))
}

func fallbackValue(r QueryResult) any {
	switch r.Kind {
	case ResultScalar:
		return r.Scalar
	case ResultSequence:
		return r.Values
	default:
		return nil
	}
}

// formatValue renders whole floats without decimals and other floats with two,
// except magnitudes below 1, which keep every significant digit.
func formatValue(v any) string {
	switch val := v.(type) {
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) {
			return fmt.Sprintf("%.0f", val)
		}
		if math.Abs(val) < 1 {
			return strconv.FormatFloat(val, 'f', -1, 64)
		}
		return fmt.Sprintf("%.2f", val)
	case time.Time:
		if val.Hour() == 0 && val.Minute() == 0 && val.Second() == 0 && val.Nanosecond() == 0 {
			return val.Format(time.DateOnly)
		}
		return val.Format(time.DateTime)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, int64, int, float64, bool, time.Time:
		return true
	default:
		return false
	}
}

func allScalars(values []any) bool {
	for _, v := range values {
		if !isScalar(v) {
			return false
		}
	}
	return true
}

// recordNode builds a YAML mapping that keeps the given key order.
func recordNode(keys []string, values []any) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode}
	for i, k := range keys {
		var v any
		if i < len(values) {
			v = values[i]
		}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, valueNode(v))
	}
	return m
}

func valueNode(v any) *yaml.Node {
	switch val := v.(type) {
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range val {
			seq.Content = append(seq.Content, valueNode(item))
		}
		return seq
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = val[k]
		}
		return recordNode(keys, values)
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: val}
	case time.Time, int64, int, float64, bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: formatValue(val)}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprintf("%v", val)}
	}
}

func dumpYAML(n *yaml.Node) string {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return fmt.Sprintf("%v", n.Value)
	}
	_ = enc.Close()
	return strings.TrimRight(sb.String(), "\n")
}
