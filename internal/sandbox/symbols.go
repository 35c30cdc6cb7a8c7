package sandbox

import (
	"path"
	"reflect"

	"deanalyse/internal/sandbox/frame"

	"github.com/montanaflynn/stats"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// AllowedImports are the only packages analysis code may import
var AllowedImports = map[string]bool{
	"fmt":     true,
	"math":    true,
	"sort":    true,
	"strings": true,
	"strconv": true,
	"time":    true,
	"frame":   true,
	"stats":   true,
}

// Symbols returns the interpreter exports: the allowed stdlib packages plus
// the frame and stats packages.
func Symbols() interp.Exports {
	exports := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		// keys look like "strings/strings"
		if AllowedImports[path.Dir(key)] {
			exports[key] = syms
		}
	}

	exports["frame/frame"] = map[string]reflect.Value{
		"Frame": reflect.ValueOf((*frame.Frame)(nil)),
		"Row":   reflect.ValueOf((*frame.Row)(nil)),
	}
	exports["stats/stats"] = map[string]reflect.Value{
		"Sum":               reflect.ValueOf(statsSum),
		"Mean":              reflect.ValueOf(statsMean),
		"Median":            reflect.ValueOf(statsMedian),
		"StandardDeviation": reflect.ValueOf(statsStdDev),
		"Percentile":        reflect.ValueOf(statsPercentile),
		"Correlation":       reflect.ValueOf(statsCorrelation),
	}
	return exports
}

// The wrappers give the interpreter plain []float64 signatures

func statsSum(data []float64) (float64, error)    { return stats.Sum(data) }
func statsMean(data []float64) (float64, error)   { return stats.Mean(data) }
func statsMedian(data []float64) (float64, error) { return stats.Median(data) }
func statsStdDev(data []float64) (float64, error) { return stats.StandardDeviationSample(data) }

func statsPercentile(data []float64, p float64) (float64, error) {
	return stats.Percentile(data, p)
}

func statsCorrelation(a, b []float64) (float64, error) {
	return stats.Correlation(a, b)
}
