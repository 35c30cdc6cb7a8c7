package ai

import (
	"fmt"
	"strconv"
	"strings"

	"deanalyse/domain/profile"
)

// SchemaText renders the parts of a profile that may be shown to the model:
// row count, column schema with statistics, and anomaly summaries. Preview rows
// are never included. Column names are quoted so a crafted header cannot
// break the layout of the prompt.
func SchemaText(p *profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rows: %d\n", p.RowCount)
	fmt.Fprintf(&b, "Columns (%d):\n", p.ColumnCount)
	for _, c := range p.Columns {
		fmt.Fprintf(&b, "- %q (%s): missing=%d, unique=%d", c.Name, c.DeclaredType, c.MissingCount, c.UniqueCount)
		if c.Stats != nil {
			fmt.Fprintf(&b, ", min=%s, max=%s, mean=%s",
				formatFloat(c.Stats.Min), formatFloat(c.Stats.Max), formatFloat(c.Stats.Mean))
		}
		b.WriteByte('\n')
	}
	if len(p.Anomalies) > 0 {
		b.WriteString("Anomalies:\n")
		for _, a := range p.Anomalies {
			examples := make([]string, len(a.Examples))
			for i, v := range a.Examples {
				examples[i] = formatFloat(v)
			}
			fmt.Fprintf(&b, "- %q: %d value(s), %s, e.g. %s\n", a.Column, a.Count, a.Reason, strings.Join(examples, ", "))
		}
	}
	return SanitizeContextText(strings.TrimRight(b.String(), "\n"))
}

// ColumnsDescription renders "name (type)" pairs for KPI suggestion
func ColumnsDescription(p *profile.Profile) string {
	parts := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		parts[i] = fmt.Sprintf("%s (%s)", c.Name, c.DeclaredType)
	}
	return SanitizeContextText(strings.Join(parts, ", "))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
