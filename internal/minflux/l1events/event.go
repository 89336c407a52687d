package l1events

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInconsistentIterations is returned when events of one dataset do
	// not all carry the same number of iterations.
	ErrInconsistentIterations = errors.New("inconsistent iteration count")

	// ErrUnexpectedIterations is returned for iteration counts that do not
	// correspond to a known acquisition type.
	ErrUnexpectedIterations = errors.New("unexpected number of iterations per event")
)

// Iteration counts of the supported acquisition types.
const (
	Iterations2D         = 5
	Iterations3D         = 10
	IterationsAggregated = 1
)

// Iteration is one refinement step of an event.
// Positions are stored in meters as exported by the instrument.
type Iteration struct {
	ITR int32      // iteration index reported by the instrument
	Loc [3]float64 // x, y, z
	ECO int32      // effective counts at offset
	EFO float64    // effective frequency at offset (photon flux, Hz)
	CFR float64    // center frequency ratio
	DCR float64    // detector channel ratio
}

// Event is one localization attempt. It exclusively owns its iterations.
type Event struct {
	TID        int32
	VLD        bool
	TIM        float64
	Fluo       int8
	Iterations []Iteration
}

// Dataset is a complete acquisition.
type Dataset struct {
	Events     []Event
	Iterations int
	Is3D       bool
	Aggregated bool
}

// IterationsPerEvent returns the number of iterations of a non-aggregated
// acquisition: 10 for 3D, 5 for 2D.
func IterationsPerEvent(is3D bool) int {
	if is3D {
		return Iterations3D
	}
	return Iterations2D
}

// NewDataset validates events and classifies the acquisition.
// An empty event list is a valid, empty 2D dataset.
func NewDataset(events []Event) (*Dataset, error) {
	n := Iterations2D
	if len(events) > 0 {
		n = len(events[0].Iterations)
	}
	is3D, aggregated, err := DetectAcquisition(n, events)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{
		Events:     events,
		Iterations: n,
		Is3D:       is3D,
		Aggregated: aggregated,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// DetectAcquisition classifies an acquisition from its iteration count.
// Aggregated acquisitions are 3D when the mean z of their single iteration,
// ignoring NaNs, is not zero.
func DetectAcquisition(iterations int, events []Event) (is3D, aggregated bool, err error) {
	switch iterations {
	case Iterations3D:
		return true, false, nil
	case Iterations2D:
		return false, false, nil
	case IterationsAggregated:
		var sum float64
		var count int
		for i := range events {
			if len(events[i].Iterations) == 0 {
				continue
			}
			z := events[i].Iterations[0].Loc[2]
			if math.IsNaN(z) {
				continue
			}
			sum += z
			count++
		}
		return count > 0 && sum/float64(count) != 0, true, nil
	default:
		return false, false, fmt.Errorf("%w: %d", ErrUnexpectedIterations, iterations)
	}
}

// Validate checks that every event carries exactly ds.Iterations iterations.
func (ds *Dataset) Validate() error {
	for i := range ds.Events {
		if got := len(ds.Events[i].Iterations); got != ds.Iterations {
			return fmt.Errorf("%w: event %d (tid %d) has %d iterations, expected %d",
				ErrInconsistentIterations, i, ds.Events[i].TID, got, ds.Iterations)
		}
	}
	return nil
}

// Len returns the number of events.
func (ds *Dataset) Len() int { return len(ds.Events) }

// ValidCount returns the number of events flagged valid.
func (ds *Dataset) ValidCount() int {
	n := 0
	for i := range ds.Events {
		if ds.Events[i].VLD {
			n++
		}
	}
	return n
}

// InvalidCount returns the number of events flagged invalid.
func (ds *Dataset) InvalidCount() int { return len(ds.Events) - ds.ValidCount() }

// Subset returns a dataset holding only the events whose validity flag
// equals valid. Events are shared, not copied.
func (ds *Dataset) Subset(valid bool) *Dataset {
	out := &Dataset{
		Iterations: ds.Iterations,
		Is3D:       ds.Is3D,
		Aggregated: ds.Aggregated,
	}
	for i := range ds.Events {
		if ds.Events[i].VLD == valid {
			out.Events = append(out.Events, ds.Events[i])
		}
	}
	return out
}

// String describes the acquisition, e.g.
// "3D normal acquisition with 1200 entries (1000 valid and 200 non valid)".
func (ds *Dataset) String() string {
	dim := "2D"
	if ds.Is3D {
		dim = "3D"
	}
	kind := "normal"
	if ds.Aggregated {
		kind = "aggregated"
	}
	valid := "all valid"
	if v := ds.ValidCount(); v != len(ds.Events) {
		valid = fmt.Sprintf("%d valid and %d non valid", v, len(ds.Events)-v)
	}
	return fmt.Sprintf("%s %s acquisition with %d entries (%s)", dim, kind, len(ds.Events), valid)
}
