// Package testutil provides shared test fixtures: synthetic MINFLUX
// acquisitions and helpers that write them as .npy files.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/minflux/internal/minflux/l1events"
	"github.com/banshee-data/minflux/internal/minflux/l1events/parse"
)

// Events returns one event per entry of tids, each with the given number
// of iterations. Values depend on the event index i and iteration k so
// that every metric varies across events:
//
//	x = (10i+k) nm, y = (5i-k) nm, z = 0
//	eco = 100+10i, efo = 40000+1000i+k, cfr = 0.1i+0.01k, dcr = 0.4+0.01i
//
// Events whose TID is listed in invalid are flagged not valid.
func Events(tids []int32, iterations int, invalid ...int32) []l1events.Event {
	bad := make(map[int32]bool, len(invalid))
	for _, tid := range invalid {
		bad[tid] = true
	}
	events := make([]l1events.Event, len(tids))
	for i, tid := range tids {
		its := make([]l1events.Iteration, iterations)
		for k := range its {
			its[k] = l1events.Iteration{
				ITR: int32(k),
				Loc: [3]float64{float64(10*i+k) * 1e-9, float64(5*i-k) * 1e-9, 0},
				ECO: int32(100 + 10*i),
				EFO: 40000 + 1000*float64(i) + float64(k),
				CFR: 0.1*float64(i) + 0.01*float64(k),
				DCR: 0.4 + 0.01*float64(i),
			}
		}
		events[i] = l1events.Event{TID: tid, VLD: !bad[tid], TIM: float64(i) * 0.1, Iterations: its}
	}
	return events
}

// Dataset wraps Events in a validated dataset.
func Dataset(t testing.TB, tids []int32, iterations int, invalid ...int32) *l1events.Dataset {
	t.Helper()
	ds, err := l1events.NewDataset(Events(tids, iterations, invalid...))
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	return ds
}

// PositionDataset returns a valid 2D acquisition with one event per
// entry of tids, localized at (x, y) nm at time tim s in every iteration.
func PositionDataset(t testing.TB, tids []int32, x, y, tim []float64) *l1events.Dataset {
	t.Helper()
	events := Events(tids, l1events.Iterations2D)
	for i := range events {
		for k := range events[i].Iterations {
			events[i].Iterations[k].Loc = [3]float64{x[i] * 1e-9, y[i] * 1e-9, 0}
		}
		events[i].TIM = tim[i]
	}
	ds, err := l1events.NewDataset(events)
	if err != nil {
		t.Fatalf("failed to build dataset: %v", err)
	}
	return ds
}

// EncodeNPY returns ds in .npy format.
func EncodeNPY(t testing.TB, ds *l1events.Dataset) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := parse.Write(&buf, ds); err != nil {
		t.Fatalf("failed to encode dataset: %v", err)
	}
	return buf.Bytes()
}

// WriteNPY writes ds to dir/name and returns the path.
func WriteNPY(t testing.TB, dir, name string, ds *l1events.Dataset) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, EncodeNPY(t, ds), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
