package coercer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"deanalyse/adapters/spreadsheet"
	"deanalyse/domain/dataset"
)

// missingTokens are the cell spellings read as missing values
var missingTokens = map[string]bool{
	"":         true,
	"NA":       true,
	"N/A":      true,
	"n/a":      true,
	"NaN":      true,
	"nan":      true,
	"-NaN":     true,
	"-nan":     true,
	"null":     true,
	"NULL":     true,
	"None":     true,
	"#N/A":     true,
	"#N/A N/A": true,
	"<NA>":     true,
	"#NA":      true,
	"1.#IND":   true,
	"1.#QNAN":  true,
	"-1.#IND":  true,
	"-1.#QNAN": true,
}

var booleanTokens = map[string]bool{
	"true": true, "True": true, "TRUE": true,
	"false": false, "False": false, "FALSE": false,
}

// timestampLayouts are tried in order for temporal detection
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// TypeCoercer converts raw tables into typed frames. The type of a column is
// decided from all of its cells at once; there is no sampling and no ratio
// threshold, so a single stray value keeps a column out of a narrower type.
type TypeCoercer struct {
	config CoercionConfig
}

// CoercionConfig controls optional coercion behaviour
type CoercionConfig struct {
	// ExtraMissingTokens are read as missing in addition to the defaults
	ExtraMissingTokens []string `json:"extra_missing_tokens" mapstructure:"extra_missing_tokens"`
	// DetectTemporal enables temporal column detection
	DetectTemporal bool `json:"detect_temporal" mapstructure:"detect_temporal"`
}

// DefaultCoercionConfig returns the defaults
func DefaultCoercionConfig() CoercionConfig {
	return CoercionConfig{DetectTemporal: true}
}

// NewTypeCoercer creates a coercer with the given config
func NewTypeCoercer(config CoercionConfig) *TypeCoercer {
	return &TypeCoercer{config: config}
}

// Coerce infers every column type and returns the typed frame
func (c *TypeCoercer) Coerce(table *spreadsheet.RawTable) (*dataset.Frame, error) {
	columns := make([]dataset.Column, len(table.Headers))
	for j, name := range table.Headers {
		raw := make([]string, len(table.Rows))
		for i, row := range table.Rows {
			raw[i] = row[j]
		}
		columns[j] = c.CoerceColumn(name, raw)
	}
	frame, err := dataset.NewFrame(columns)
	if err != nil {
		return nil, fmt.Errorf("build frame: %w", err)
	}
	return frame, nil
}

// CoerceColumn decides the column type and converts every cell to it
func (c *TypeCoercer) CoerceColumn(name string, raw []string) dataset.Column {
	analysis := c.AnalyzeTypeDistribution(raw)
	cells := make([]dataset.Cell, len(raw))
	for i, v := range raw {
		if c.IsMissing(v) {
			cells[i] = dataset.Missing()
			continue
		}
		cells[i] = c.convert(analysis.RecommendedType, v)
	}
	return dataset.Column{Name: name, Type: analysis.RecommendedType, Cells: cells}
}

// IsMissing reports whether v is one of the missing-value spellings.
// NaN is missing in any letter case.
func (c *TypeCoercer) IsMissing(v string) bool {
	if missingTokens[v] || isNaNToken(v) {
		return true
	}
	for _, tok := range c.config.ExtraMissingTokens {
		if v == tok {
			return true
		}
	}
	return false
}

// AnalyzeTypeDistribution counts how many present values parse as each type
func (c *TypeCoercer) AnalyzeTypeDistribution(values []string) TypeAnalysis {
	analysis := TypeAnalysis{TotalCount: len(values)}
	for _, v := range values {
		if c.IsMissing(v) {
			continue
		}
		analysis.ValidCount++
		if _, ok := parseNumeric(v); ok {
			analysis.NumericCount++
		}
		if _, ok := booleanTokens[v]; ok {
			analysis.BooleanCount++
		}
		if c.config.DetectTemporal {
			if _, ok := parseTimestamp(v); ok {
				analysis.TimestampCount++
			}
		}
	}
	analysis.RecommendedType = determineType(analysis)
	return analysis
}

func determineType(a TypeAnalysis) dataset.ColumnType {
	switch {
	// an all-missing column reads as an all-NaN float column
	case a.ValidCount == 0:
		return dataset.TypeNumeric
	case a.NumericCount == a.ValidCount:
		return dataset.TypeNumeric
	case a.BooleanCount == a.ValidCount:
		return dataset.TypeBoolean
	case a.TimestampCount == a.ValidCount:
		return dataset.TypeTemporal
	default:
		return dataset.TypeText
	}
}

func (c *TypeCoercer) convert(typ dataset.ColumnType, v string) dataset.Cell {
	switch typ {
	case dataset.TypeNumeric:
		if f, ok := parseNumeric(v); ok {
			return dataset.Number(f)
		}
	case dataset.TypeBoolean:
		if b, ok := booleanTokens[v]; ok {
			return dataset.Bool(b)
		}
	case dataset.TypeTemporal:
		if t, ok := parseTimestamp(v); ok {
			return dataset.Time(t)
		}
	}
	return dataset.Text(v)
}

// parseNumeric accepts finite integers and floats in decimal notation, including
// exponents. Infinities are not numbers here, so a column holding "inf" is text.
// Currency symbols, percent signs and thousands separators are not stripped.
func parseNumeric(v string) (float64, bool) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, false
	}
	// ParseFloat also accepts hex floats and underscores; keep to decimal notation
	if strings.ContainsAny(s, "_xXpP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func isNaNToken(v string) bool {
	s := strings.TrimLeft(strings.TrimSpace(v), "+-")
	return strings.EqualFold(s, "nan")
}

func parseTimestamp(v string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// TypeAnalysis contains the results of type distribution analysis
type TypeAnalysis struct {
	TotalCount      int                `json:"total_count"`
	ValidCount      int                `json:"valid_count"`
	NumericCount    int                `json:"numeric_count"`
	BooleanCount    int                `json:"boolean_count"`
	TimestampCount  int                `json:"timestamp_count"`
	RecommendedType dataset.ColumnType `json:"recommended_type"`
}
