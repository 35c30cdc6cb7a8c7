package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Column is a named, typed sequence of cells
type Column struct {
	Name  string     `json:"name"`
	Type  ColumnType `json:"type"`
	Cells []Cell     `json:"cells"`
}

// Frame is an immutable in-memory table. Every column has the same length.
type Frame struct {
	columns []Column
	index   map[string]int
	rows    int
}

// NewFrame validates the columns and builds a Frame over them.
// Column names must be unique and all columns must have equal length.
func NewFrame(columns []Column) (*Frame, error) {
	f := &Frame{
		columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, col := range columns {
		if _, dup := f.index[col.Name]; dup {
			return nil, fmt.Errorf("duplicate column name %q", col.Name)
		}
		f.index[col.Name] = i
		if i == 0 {
			f.rows = len(col.Cells)
		} else if len(col.Cells) != f.rows {
			return nil, fmt.Errorf("column %q has %d cells, expected %d", col.Name, len(col.Cells), f.rows)
		}
	}
	return f, nil
}

func (f *Frame) RowCount() int    { return f.rows }
func (f *Frame) ColumnCount() int { return len(f.columns) }

// Columns returns the columns in table order. Callers must not modify the cells.
func (f *Frame) Columns() []Column {
	return f.columns
}

// Names returns the column names in table order
func (f *Frame) Names() []string {
	names := make([]string, len(f.columns))
	for i, col := range f.columns {
		names[i] = col.Name
	}
	return names
}

// Column looks a column up by name
func (f *Frame) Column(name string) (Column, bool) {
	i, ok := f.index[name]
	if !ok {
		return Column{}, false
	}
	return f.columns[i], true
}

// Record returns row i as an ordered record
func (f *Frame) Record(i int) Record {
	rec := make(Record, len(f.columns))
	for j, col := range f.columns {
		rec[j] = Field{Name: col.Name, Value: col.Cells[i]}
	}
	return rec
}

// Head returns up to n leading rows in order
func (f *Frame) Head(n int) []Record {
	if n > f.rows {
		n = f.rows
	}
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, f.Record(i))
	}
	return records
}

// Field is one column value inside a Record
type Field struct {
	Name  string
	Value Cell
}

// Record is a row keyed by column name. Its JSON form is an object whose keys
// keep column order; missing cells encode as null.
type Record []Field

// Get returns the cell for column name
func (r Record) Get(name string) (Cell, bool) {
	for _, fld := range r {
		if fld.Name == name {
			return fld.Value, true
		}
	}
	return Cell{}, false
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fld := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(fld.Name)
		if err != nil {
			return nil, err
		}
		val, err := fld.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type wireColumn struct {
	Name   string            `json:"name"`
	Type   ColumnType        `json:"type"`
	Cells  []json.RawMessage `json:"cells"`
	Layout string            `json:"layout,omitempty"`
}

// MarshalJSON encodes the frame column-wise so it can cross a process boundary
func (f *Frame) MarshalJSON() ([]byte, error) {
	wire := make([]wireColumn, len(f.columns))
	for i, col := range f.columns {
		cells := make([]json.RawMessage, len(col.Cells))
		for j, c := range col.Cells {
			b, err := c.MarshalJSON()
			if err != nil {
				return nil, err
			}
			cells[j] = b
		}
		wire[i] = wireColumn{Name: col.Name, Type: col.Type, Cells: cells}
		if col.Type == TypeTemporal {
			wire[i].Layout = time.RFC3339
		}
	}
	return json.Marshal(wire)
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var wire []wireColumn
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	columns := make([]Column, len(wire))
	for i, wc := range wire {
		cells := make([]Cell, len(wc.Cells))
		for j, raw := range wc.Cells {
			c, err := decodeCell(wc.Type, raw)
			if err != nil {
				return fmt.Errorf("column %q row %d: %w", wc.Name, j, err)
			}
			cells[j] = c
		}
		columns[i] = Column{Name: wc.Name, Type: wc.Type, Cells: cells}
	}
	built, err := NewFrame(columns)
	if err != nil {
		return err
	}
	*f = *built
	return nil
}

func decodeCell(typ ColumnType, raw json.RawMessage) (Cell, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Missing(), nil
	}
	switch typ {
	case TypeNumeric:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return Cell{}, err
		}
		return Number(v), nil
	case TypeBoolean:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return Cell{}, err
		}
		return Bool(v), nil
	case TypeTemporal:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Cell{}, err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return Cell{}, err
		}
		return Time(t), nil
	default:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Cell{}, err
		}
		return Text(s), nil
	}
}
