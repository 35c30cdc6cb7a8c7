package profiling

import (
	"math"

	"deanalyse/domain/dataset"
	"deanalyse/domain/profile"

	"gonum.org/v1/gonum/stat"
)

const (
	// MinOutlierSample is the fewest present values a column needs before it is scanned
	MinOutlierSample = 10
	// ZScoreThreshold is exclusive: a value is flagged when |z| is strictly greater
	ZScoreThreshold = 3.0
)

// OutlierDetector flags numeric values whose z-score exceeds ZScoreThreshold.
// Columns are scanned independently; there is no row-level score.
type OutlierDetector struct{}

// NewOutlierDetector creates a new outlier detector
func NewOutlierDetector() *OutlierDetector {
	return &OutlierDetector{}
}

// Detect returns one report per numeric column that has at least one flagged value
func (d *OutlierDetector) Detect(frame *dataset.Frame) []profile.AnomalyReport {
	reports := make([]profile.AnomalyReport, 0)
	for _, col := range frame.Columns() {
		if col.Type != dataset.TypeNumeric {
			continue
		}
		if report, ok := d.DetectValues(col.Name, presentValues(col)); ok {
			reports = append(reports, report)
		}
	}
	return reports
}

// DetectValues scans values in row order. Samples smaller than
// MinOutlierSample and samples with zero spread are never flagged.
func (d *OutlierDetector) DetectValues(column string, values []float64) (profile.AnomalyReport, bool) {
	if len(values) < MinOutlierSample {
		return profile.AnomalyReport{}, false
	}

	// nil weights: unbiased (n-1) standard deviation
	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return profile.AnomalyReport{}, false
	}

	count := 0
	examples := make([]float64, 0, profile.MaxExamples)
	for _, v := range values {
		if math.Abs(v-mean)/std > ZScoreThreshold {
			count++
			if len(examples) < profile.MaxExamples {
				examples = append(examples, v)
			}
		}
	}
	if count == 0 {
		return profile.AnomalyReport{}, false
	}

	return profile.AnomalyReport{
		Column:   column,
		Count:    count,
		Examples: examples,
		Reason:   profile.OutlierReason,
	}, true
}

// presentValues returns the finite numeric payloads of a column in row order.
// Stats and anomaly examples built from them always encode as JSON.
func presentValues(col dataset.Column) []float64 {
	values := make([]float64, 0, len(col.Cells))
	for _, c := range col.Cells {
		if v, ok := c.Float(); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
			values = append(values, v)
		}
	}
	return values
}
