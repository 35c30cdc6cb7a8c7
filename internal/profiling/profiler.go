package profiling

import (
	"math"

	"deanalyse/domain/dataset"
	"deanalyse/domain/profile"

	"github.com/montanaflynn/stats"
)

// DataProfiler computes the schema, statistics, preview and anomalies of a dataset
type DataProfiler struct {
	detector *OutlierDetector
}

// NewDataProfiler creates a new data profiler
func NewDataProfiler() *DataProfiler {
	return &DataProfiler{
		detector: NewOutlierDetector(),
	}
}

// ProfileDataset builds the full profile. It is total over well-formed frames,
// including frames with zero rows or zero columns.
func (dp *DataProfiler) ProfileDataset(frame *dataset.Frame) *profile.Profile {
	columns := make([]profile.ColumnProfile, 0, frame.ColumnCount())
	for _, col := range frame.Columns() {
		columns = append(columns, dp.ProfileColumn(col))
	}

	return &profile.Profile{
		RowCount:    frame.RowCount(),
		ColumnCount: frame.ColumnCount(),
		Columns:     columns,
		Preview:     frame.Head(profile.PreviewRows),
		Anomalies:   dp.detector.Detect(frame),
	}
}

// ProfileColumn summarizes one column. Missing cells are excluded from the
// unique count; stats are set only for numeric columns with a present value.
func (dp *DataProfiler) ProfileColumn(col dataset.Column) profile.ColumnProfile {
	cp := profile.ColumnProfile{
		Name:         col.Name,
		DeclaredType: col.Type,
	}

	distinct := make(map[string]struct{})
	for _, c := range col.Cells {
		if isAbsent(c) {
			cp.MissingCount++
			continue
		}
		distinct[c.Key()] = struct{}{}
	}
	cp.UniqueCount = len(distinct)

	if col.Type == dataset.TypeNumeric {
		cp.Stats = numericStats(presentValues(col))
	}
	return cp
}

// isAbsent treats a NaN number like an empty cell
func isAbsent(c dataset.Cell) bool {
	if c.IsMissing() {
		return true
	}
	v, ok := c.Float()
	return ok && math.IsNaN(v)
}

func numericStats(values []float64) *profile.NumericStats {
	data := stats.Float64Data(values)
	min, err := data.Min()
	if err != nil {
		return nil
	}
	max, err := data.Max()
	if err != nil {
		return nil
	}
	mean, err := data.Mean()
	if err != nil {
		return nil
	}
	return &profile.NumericStats{Min: min, Max: max, Mean: mean}
}
