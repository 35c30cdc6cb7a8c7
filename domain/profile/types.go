package profile

import (
	"deanalyse/domain/dataset"
)

// OutlierReason is the reason attached to every z-score anomaly report
const OutlierReason = "Z-Score > 3 (Statistical Outlier)"

// PreviewRows is the maximum number of records kept in a profile preview
const PreviewRows = 5

// MaxExamples bounds the flagged values reported per column
const MaxExamples = 3

// ColumnProfile contains the summary of a single column
type ColumnProfile struct {
	Name         string             `json:"name"`
	DeclaredType dataset.ColumnType `json:"type"`
	MissingCount int                `json:"missing"`
	UniqueCount  int                `json:"unique"`
	Stats        *NumericStats      `json:"stats,omitempty"`
}

// NumericStats is present only for numeric columns with at least one value
type NumericStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// AnomalyReport flags values of one numeric column that sit far from its mean
type AnomalyReport struct {
	Column   string    `json:"column"`
	Count    int       `json:"count"`
	Examples []float64 `json:"examples"`
	Reason   string    `json:"reason"`
}

// KpiSuggestion is a metric the model proposes from the schema alone
type KpiSuggestion struct {
	Title     string `json:"title"`
	ValueType string `json:"value_type"`
	Reason    string `json:"reason"`
}

// Profile is the complete summary of an uploaded dataset.
// A stored Profile is never mutated; a new upload replaces it.
type Profile struct {
	RowCount    int              `json:"rowCount"`
	ColumnCount int              `json:"columnCount"`
	Columns     []ColumnProfile  `json:"columns"`
	Preview     []dataset.Record `json:"preview"`
	Anomalies   []AnomalyReport  `json:"anomalies"`
	AIKpis      []KpiSuggestion  `json:"ai_kpis,omitempty"`
}

// Column returns the profile of the named column
func (p *Profile) Column(name string) (ColumnProfile, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnProfile{}, false
}

// WithKpis returns a copy of the profile carrying the given suggestions
func (p Profile) WithKpis(kpis []KpiSuggestion) *Profile {
	p.AIKpis = kpis
	return &p
}
