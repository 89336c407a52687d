// Package l3locs builds the processed localization table: one row per
// event, with the position and metrics taken from selected iterations.
package l3locs

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/minflux/internal/minflux/l1events"
)

var (
	// ErrUnknownProperty is returned by Column for names not in Properties.
	ErrUnknownProperty = errors.New("unknown property")

	// ErrIndexOutOfRange is returned by Build when an iteration index does
	// not exist in the dataset.
	ErrIndexOutOfRange = errors.New("iteration index out of range")
)

var properties = []string{"tid", "tim", "x", "y", "z", "efo", "cfr", "eco", "dcr", "dwell", "fluo"}

// Properties returns the column names of the processed table in order.
func Properties() []string {
	return append([]string(nil), properties...)
}

// Options controls Build.
type Options struct {
	// ValidOnly keeps the events flagged valid; when false only the
	// invalid ones are kept.
	ValidOnly bool
	// UnitScaling multiplies x, y and z (1e9 converts meters to nm).
	UnitScaling float64
	// ZScaling additionally multiplies z.
	ZScaling float64
	Indices  l1events.IterationIndices
}

// DefaultOptions returns options for valid events in nanometers with the
// standard iteration indices of ds.
func DefaultOptions(ds *l1events.Dataset) Options {
	return Options{
		ValidOnly:   true,
		UnitScaling: 1e9,
		ZScaling:    1,
		Indices:     l1events.DefaultIterationIndices(ds.Is3D, ds.Aggregated),
	}
}

// Localizations is the processed table. All slices have the same length.
type Localizations struct {
	TID   []int32
	TIM   []float64
	X     []float64
	Y     []float64
	Z     []float64
	EFO   []float64
	CFR   []float64
	ECO   []int32
	DCR   []float64
	Dwell []float64
	Fluo  []int8

	Is3D bool
}

// Build extracts one row per selected event of ds.
func Build(ds *l1events.Dataset, opts Options) (*Localizations, error) {
	idx := opts.Indices
	for name, i := range map[string]int{
		"efo": idx.EFO, "cfr": idx.CFR, "dcr": idx.DCR, "eco": idx.ECO, "loc": idx.Loc,
	} {
		if i < 0 || i >= ds.Iterations {
			return nil, fmt.Errorf("%w: %s index %d with %d iterations", ErrIndexOutOfRange, name, i, ds.Iterations)
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}

	n := ds.ValidCount()
	if !opts.ValidOnly {
		n = len(ds.Events) - n
	}
	l := newLocalizations(n)
	l.Is3D = ds.Is3D

	allZeroFluo := true
	row := 0
	for i := range ds.Events {
		ev := &ds.Events[i]
		if ev.VLD != opts.ValidOnly {
			continue
		}
		its := ev.Iterations
		loc := its[idx.Loc].Loc
		l.TID[row] = ev.TID
		l.TIM[row] = ev.TIM
		l.X[row] = loc[0] * opts.UnitScaling
		l.Y[row] = loc[1] * opts.UnitScaling
		l.Z[row] = loc[2] * opts.UnitScaling * opts.ZScaling
		l.EFO[row] = its[idx.EFO].EFO
		l.CFR[row] = its[idx.CFR].CFR
		l.ECO[row] = its[idx.ECO].ECO
		l.DCR[row] = its[idx.DCR].DCR
		l.Dwell[row] = math.RoundToEven(float64(l.ECO[row]) / (l.EFO[row] / 1000))
		l.Fluo[row] = ev.Fluo
		if ev.Fluo != 0 {
			allZeroFluo = false
		}
		row++
	}
	if allZeroFluo {
		for i := range l.Fluo {
			l.Fluo[i] = 1
		}
	}
	return l, nil
}

func newLocalizations(n int) *Localizations {
	return &Localizations{
		TID:   make([]int32, n),
		TIM:   make([]float64, n),
		X:     make([]float64, n),
		Y:     make([]float64, n),
		Z:     make([]float64, n),
		EFO:   make([]float64, n),
		CFR:   make([]float64, n),
		ECO:   make([]int32, n),
		DCR:   make([]float64, n),
		Dwell: make([]float64, n),
		Fluo:  make([]int8, n),
	}
}

// Len returns the number of rows.
func (l *Localizations) Len() int { return len(l.TID) }

// Column returns a float64 copy of the named property.
func (l *Localizations) Column(name string) ([]float64, error) {
	switch name {
	case "tid":
		return widen(l.TID), nil
	case "eco":
		return widen(l.ECO), nil
	case "fluo":
		return widen(l.Fluo), nil
	}
	src, err := l.floats(name)
	if err != nil {
		return nil, err
	}
	return append([]float64(nil), src...), nil
}

// Value returns property name at row i.
func (l *Localizations) Value(name string, i int) (float64, error) {
	switch name {
	case "tid":
		return float64(l.TID[i]), nil
	case "eco":
		return float64(l.ECO[i]), nil
	case "fluo":
		return float64(l.Fluo[i]), nil
	}
	src, err := l.floats(name)
	if err != nil {
		return 0, err
	}
	return src[i], nil
}

func (l *Localizations) floats(name string) ([]float64, error) {
	switch name {
	case "tim":
		return l.TIM, nil
	case "x":
		return l.X, nil
	case "y":
		return l.Y, nil
	case "z":
		return l.Z, nil
	case "efo":
		return l.EFO, nil
	case "cfr":
		return l.CFR, nil
	case "dcr":
		return l.DCR, nil
	case "dwell":
		return l.Dwell, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
}

// Gather returns a new table holding rows in the given order.
func (l *Localizations) Gather(rows []int) *Localizations {
	out := newLocalizations(len(rows))
	out.Is3D = l.Is3D
	for j, i := range rows {
		out.TID[j] = l.TID[i]
		out.TIM[j] = l.TIM[i]
		out.X[j] = l.X[i]
		out.Y[j] = l.Y[i]
		out.Z[j] = l.Z[i]
		out.EFO[j] = l.EFO[i]
		out.CFR[j] = l.CFR[i]
		out.ECO[j] = l.ECO[i]
		out.DCR[j] = l.DCR[i]
		out.Dwell[j] = l.Dwell[i]
		out.Fluo[j] = l.Fluo[i]
	}
	return out
}

func widen[T int8 | int32](s []T) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}
