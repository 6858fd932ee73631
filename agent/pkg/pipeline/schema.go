package pipeline

import (
	"fmt"
	"strings"

	"github.com/malbeclabs/csvagent/pkg/tables"
)

// BuildSchemaContext describes every table and its ordered columns, one line per
// table, sorted by table name.
func BuildSchemaContext(m tables.Mapping) string {
	var sb strings.Builder
	sb.WriteString("Available tables and columns:\n")
	headers := m.Headers()
	for _, name := range m.Names() {
		cols := make([]string, len(headers[name]))
		for i, c := range headers[name] {
			cols[i] = fmt.Sprintf("%q", c)
		}
		fmt.Fprintf(&sb, "%s: [%s]\n", name, strings.Join(cols, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}
