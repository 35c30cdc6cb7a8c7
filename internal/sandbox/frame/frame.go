// Package frame is the dataset API visible to analysis code running in the
// sandbox. It is a read-only view: filters produce new views over the same
// cells and nothing can modify the underlying data.
//
// Unknown column names and out-of-range rows panic. The interpreter turns the
// panic into an execution error that is reported back to the model.
package frame

import (
	"fmt"
	"math"
	"sort"

	"deanalyse/domain/dataset"

	"github.com/montanaflynn/stats"
)

// Frame is a view over a subset of dataset rows
type Frame struct {
	src  *dataset.Frame
	rows []int
}

// Row is one row of a Frame
type Row struct {
	src *dataset.Frame
	idx int
}

// New wraps a dataset frame; a nil dataset yields an empty frame
func New(src *dataset.Frame) *Frame {
	if src == nil {
		src, _ = dataset.NewFrame(nil)
	}
	rows := make([]int, src.RowCount())
	for i := range rows {
		rows[i] = i
	}
	return &Frame{src: src, rows: rows}
}

func (f *Frame) column(name string) dataset.Column {
	col, ok := f.src.Column(name)
	if !ok {
		panic(fmt.Sprintf("frame: unknown column %q", name))
	}
	return col
}

// Columns lists the column names in table order
func (f *Frame) Columns() []string { return f.src.Names() }

// Len is the number of rows in the view
func (f *Frame) Len() int { return len(f.rows) }

// Numbers returns the present numeric values of col in row order
func (f *Frame) Numbers(col string) []float64 {
	c := f.column(col)
	out := make([]float64, 0, len(f.rows))
	for _, r := range f.rows {
		if v, ok := c.Cells[r].Float(); ok && !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

// Strings renders every value of col as text, "" for missing cells
func (f *Frame) Strings(col string) []string {
	c := f.column(col)
	out := make([]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = c.Cells[r].String()
	}
	return out
}

// Value returns the cell at row of the view, nil when missing
func (f *Frame) Value(row int, col string) any {
	return f.Row(row).Get(col)
}

// Row returns row i of the view
func (f *Frame) Row(i int) Row {
	if i < 0 || i >= len(f.rows) {
		panic(fmt.Sprintf("frame: row %d out of range [0,%d)", i, len(f.rows)))
	}
	return Row{src: f.src, idx: f.rows[i]}
}

// Rows returns every row of the view in order
func (f *Frame) Rows() []Row {
	out := make([]Row, len(f.rows))
	for i, r := range f.rows {
		out[i] = Row{src: f.src, idx: r}
	}
	return out
}

// Filter keeps the rows for which keep returns true
func (f *Frame) Filter(keep func(Row) bool) *Frame {
	rows := make([]int, 0, len(f.rows))
	for _, r := range f.rows {
		if keep(Row{src: f.src, idx: r}) {
			rows = append(rows, r)
		}
	}
	return &Frame{src: f.src, rows: rows}
}

// GroupSum sums the numeric values of val per distinct value of by.
// Missing group keys are grouped under "".
func (f *Frame) GroupSum(by, val string) map[string]float64 {
	keys, vals := f.column(by), f.column(val)
	out := make(map[string]float64)
	for _, r := range f.rows {
		k := keys.Cells[r].String()
		if v, ok := vals.Cells[r].Float(); ok && !math.IsNaN(v) {
			out[k] += v
		} else if _, seen := out[k]; !seen {
			out[k] = 0
		}
	}
	return out
}

// GroupCount counts rows per distinct value of by
func (f *Frame) GroupCount(by string) map[string]int {
	keys := f.column(by)
	out := make(map[string]int)
	for _, r := range f.rows {
		out[keys.Cells[r].String()]++
	}
	return out
}

// TopN returns up to n rows with the largest numeric values of col, largest
// first. Rows without a number in col are skipped; ties keep row order.
func (f *Frame) TopN(col string, n int) []Row {
	c := f.column(col)
	type ranked struct {
		row int
		v   float64
	}
	candidates := make([]ranked, 0, len(f.rows))
	for _, r := range f.rows {
		if v, ok := c.Cells[r].Float(); ok && !math.IsNaN(v) {
			candidates = append(candidates, ranked{row: r, v: v})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].v > candidates[j].v })
	if n < 0 {
		n = 0
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	out := make([]Row, n)
	for i := 0; i < n; i++ {
		out[i] = Row{src: f.src, idx: candidates[i].row}
	}
	return out
}

// Sum adds the present numbers of col; 0 when there are none
func (f *Frame) Sum(col string) float64 {
	s, err := stats.Sum(f.Numbers(col))
	if err != nil {
		return 0
	}
	return s
}

// Mean is NaN when col has no numbers
func (f *Frame) Mean(col string) float64 {
	return orNaN(stats.Mean(f.Numbers(col)))
}

// Min is NaN when col has no numbers
func (f *Frame) Min(col string) float64 {
	return orNaN(stats.Min(f.Numbers(col)))
}

// Max is NaN when col has no numbers
func (f *Frame) Max(col string) float64 {
	return orNaN(stats.Max(f.Numbers(col)))
}

// Unique lists the distinct present values of col in first-seen order
func (f *Frame) Unique(col string) []string {
	c := f.column(col)
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range f.rows {
		cell := c.Cells[r]
		if cell.IsMissing() {
			continue
		}
		s := cell.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func orNaN(v float64, err error) float64 {
	if err != nil {
		return math.NaN()
	}
	return v
}

func (r Row) cell(col string) dataset.Cell {
	c, ok := r.src.Column(col)
	if !ok {
		panic(fmt.Sprintf("frame: unknown column %q", col))
	}
	return c.Cells[r.idx]
}

// Index is the row's position in the uploaded dataset
func (r Row) Index() int { return r.idx }

// Num returns the number in col, NaN when the cell is not a number
func (r Row) Num(col string) float64 {
	if v, ok := r.cell(col).Float(); ok {
		return v
	}
	return math.NaN()
}

// Str renders the cell in col as text, "" when missing
func (r Row) Str(col string) string { return r.cell(col).String() }

// Get returns the natural Go value of the cell in col, nil when missing
func (r Row) Get(col string) any { return r.cell(col).Interface() }

// Missing reports whether the cell in col is missing
func (r Row) Missing(col string) bool { return r.cell(col).IsMissing() }

// MarshalJSON renders the row as an ordered object, so results that return
// rows stay readable
func (r Row) MarshalJSON() ([]byte, error) {
	return r.src.Record(r.idx).MarshalJSON()
}
