package dataset

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// ColumnType is the structural type inferred for a whole column
type ColumnType string

const (
	TypeNumeric  ColumnType = "numeric"
	TypeText     ColumnType = "text"
	TypeBoolean  ColumnType = "boolean"
	TypeTemporal ColumnType = "temporal"
	TypeUnknown  ColumnType = "unknown"
)

// Kind tags the variant held by a Cell
type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindText
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "missing"
	}
}

// Cell is a single typed value. The zero Cell is missing.
type Cell struct {
	Kind Kind
	num  float64
	str  string
	b    bool
	t    time.Time
}

func Missing() Cell            { return Cell{} }
func Number(v float64) Cell    { return Cell{Kind: KindNumber, num: v} }
func Text(v string) Cell       { return Cell{Kind: KindText, str: v} }
func Bool(v bool) Cell         { return Cell{Kind: KindBool, b: v} }
func Time(v time.Time) Cell    { return Cell{Kind: KindTime, t: v} }
func (c Cell) IsMissing() bool { return c.Kind == KindMissing }

// Float returns the numeric payload; ok is false for every non-number cell
func (c Cell) Float() (float64, bool) {
	if c.Kind != KindNumber {
		return 0, false
	}
	return c.num, true
}

// Interface returns the natural Go value of the cell, nil when missing
func (c Cell) Interface() any {
	switch c.Kind {
	case KindNumber:
		return c.num
	case KindText:
		return c.str
	case KindBool:
		return c.b
	case KindTime:
		return c.t
	default:
		return nil
	}
}

// String renders the cell the way it is shown to users and models
func (c Cell) String() string {
	switch c.Kind {
	case KindNumber:
		return strconv.FormatFloat(c.num, 'g', -1, 64)
	case KindText:
		return c.str
	case KindBool:
		return strconv.FormatBool(c.b)
	case KindTime:
		return c.t.Format(time.RFC3339)
	default:
		return ""
	}
}

// Key identifies the value for distinct counting. Values of different kinds never collide.
func (c Cell) Key() string {
	return c.Kind.String() + ":" + c.String()
}

func (c Cell) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindNumber:
		// NaN and Inf are not representable in JSON
		if math.IsNaN(c.num) || math.IsInf(c.num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(c.num)
	case KindText:
		return json.Marshal(c.str)
	case KindBool:
		return json.Marshal(c.b)
	case KindTime:
		return json.Marshal(c.t.Format(time.RFC3339))
	default:
		return []byte("null"), nil
	}
}
