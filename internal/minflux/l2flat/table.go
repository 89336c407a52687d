package l2flat

import (
	"errors"
	"fmt"
)

// ErrColumnMismatch is returned by FromColumns for missing, misnamed or
// misaligned columns.
var ErrColumnMismatch = errors.New("column mismatch")

// ColumnNames lists the flattened columns in their fixed order.
var ColumnNames = []string{"tid", "aid", "vld", "tim", "x", "y", "z", "efo", "cfr", "dcr"}

// Table holds the flattened columns. All slices have the same length.
//
// AID is an artificial per-trace event counter: 0 for the first event of a
// trace, 1 for the second, and so on, repeated over the event's iterations.
type Table struct {
	TID []int32
	AID []int32
	VLD []bool
	TIM []float64
	X   []float64
	Y   []float64
	Z   []float64
	EFO []float64
	CFR []float64
	DCR []float64
}

// Row is one flattened (event, iteration) record.
type Row struct {
	TID     int32
	AID     int32
	VLD     bool
	TIM     float64
	X, Y, Z float64
	EFO     float64
	CFR     float64
	DCR     float64
}

func newTable(n int) *Table {
	return &Table{
		TID: make([]int32, n),
		AID: make([]int32, n),
		VLD: make([]bool, n),
		TIM: make([]float64, n),
		X:   make([]float64, n),
		Y:   make([]float64, n),
		Z:   make([]float64, n),
		EFO: make([]float64, n),
		CFR: make([]float64, n),
		DCR: make([]float64, n),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.TID) }

// Row returns row i.
func (t *Table) Row(i int) Row {
	return Row{
		TID: t.TID[i], AID: t.AID[i], VLD: t.VLD[i], TIM: t.TIM[i],
		X: t.X[i], Y: t.Y[i], Z: t.Z[i],
		EFO: t.EFO[i], CFR: t.CFR[i], DCR: t.DCR[i],
	}
}

// ScalePositions multiplies x, y and z by unit (e.g. 1e9 for meters to
// nanometers) and z additionally by zFactor, the refractive index mismatch
// correction.
func (t *Table) ScalePositions(unit, zFactor float64) {
	for i := range t.X {
		t.X[i] *= unit
		t.Y[i] *= unit
		t.Z[i] *= unit * zFactor
	}
}

// Column is a named view of one table column. Exactly one of Int32, Bool
// and Float64 is set.
type Column struct {
	Name    string
	Int32   []int32
	Bool    []bool
	Float64 []float64
}

// Len returns the column length.
func (c Column) Len() int {
	switch {
	case c.Int32 != nil:
		return len(c.Int32)
	case c.Bool != nil:
		return len(c.Bool)
	default:
		return len(c.Float64)
	}
}

// Columns returns views of the columns in ColumnNames order. The slices
// alias the table.
func (t *Table) Columns() []Column {
	return []Column{
		{Name: "tid", Int32: t.TID},
		{Name: "aid", Int32: t.AID},
		{Name: "vld", Bool: t.VLD},
		{Name: "tim", Float64: t.TIM},
		{Name: "x", Float64: t.X},
		{Name: "y", Float64: t.Y},
		{Name: "z", Float64: t.Z},
		{Name: "efo", Float64: t.EFO},
		{Name: "cfr", Float64: t.CFR},
		{Name: "dcr", Float64: t.DCR},
	}
}

// FromColumns rebuilds a table from columns in any order. Every name in
// ColumnNames must be present once, with the matching element type, and all
// columns must have the same length.
func FromColumns(cols []Column) (*Table, error) {
	t := &Table{}
	int32s := map[string]*[]int32{"tid": &t.TID, "aid": &t.AID}
	floats := map[string]*[]float64{
		"tim": &t.TIM, "x": &t.X, "y": &t.Y, "z": &t.Z,
		"efo": &t.EFO, "cfr": &t.CFR, "dcr": &t.DCR,
	}
	seen := make(map[string]bool, len(cols))
	n := -1
	for _, c := range cols {
		if seen[c.Name] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrColumnMismatch, c.Name)
		}
		seen[c.Name] = true
		if n >= 0 && c.Len() != n {
			return nil, fmt.Errorf("%w: column %q has %d rows, expected %d", ErrColumnMismatch, c.Name, c.Len(), n)
		}
		n = c.Len()

		switch {
		case c.Name == "vld" && c.Int32 == nil && c.Float64 == nil:
			t.VLD = nonNilBool(c.Bool)
		case int32s[c.Name] != nil && c.Bool == nil && c.Float64 == nil:
			*int32s[c.Name] = nonNilInt32(c.Int32)
		case floats[c.Name] != nil && c.Int32 == nil && c.Bool == nil:
			*floats[c.Name] = nonNilFloat64(c.Float64)
		default:
			return nil, fmt.Errorf("%w: unexpected column %q or element type", ErrColumnMismatch, c.Name)
		}
	}
	for _, name := range ColumnNames {
		if !seen[name] {
			return nil, fmt.Errorf("%w: missing column %q", ErrColumnMismatch, name)
		}
	}
	return t, nil
}

func nonNilInt32(s []int32) []int32 {
	if s == nil {
		return []int32{}
	}
	return s
}

func nonNilBool(s []bool) []bool {
	if s == nil {
		return []bool{}
	}
	return s
}

func nonNilFloat64(s []float64) []float64 {
	if s == nil {
		return []float64{}
	}
	return s
}
