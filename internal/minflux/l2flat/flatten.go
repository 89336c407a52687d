// Package l2flat flattens raw MINFLUX events into fixed-width columns with
// one row per (event, iteration) pair, ready for tabular analysis.
package l2flat

import (
	"fmt"
	"slices"

	"github.com/banshee-data/minflux/internal/minflux/l1events"
)

// Flatten converts events into ten aligned columns of length
// len(events) × iterations-per-event, where iterations-per-event is 10 for
// 3D acquisitions and 5 otherwise.
//
// Rows are grouped by trace: trace IDs in ascending order, and within a
// trace the events keep their original relative order. Each event's
// iterations are laid out contiguously and in order. Every event must carry
// exactly the number of iterations implied by is3D; violating this is a
// programming error and panics. Use (*l1events.Dataset).Validate first when
// the input comes from outside the process.
func Flatten(events []l1events.Event, is3D bool) *Table {
	return FlattenN(events, l1events.IterationsPerEvent(is3D))
}

// FlattenDataset flattens a validated dataset with its own iteration count,
// which also covers aggregated (single iteration) acquisitions.
func FlattenDataset(ds *l1events.Dataset) *Table {
	return FlattenN(ds.Events, ds.Iterations)
}

// FlattenN is Flatten with an explicit iteration count per event.
func FlattenN(events []l1events.Event, reps int) *Table {
	if reps <= 0 {
		panic(fmt.Sprintf("l2flat: iterations per event must be positive, got %d", reps))
	}
	total := len(events) * reps
	t := newTable(total)

	// Single pass: trace ID -> indices of its events, in input order.
	groups := make(map[int32][]int)
	for i := range events {
		tid := events[i].TID
		groups[tid] = append(groups[tid], i)
	}
	tids := make([]int32, 0, len(groups))
	for tid := range groups {
		tids = append(tids, tid)
	}
	slices.Sort(tids)

	cursor := 0
	for _, tid := range tids {
		start := cursor
		for aid, ei := range groups[tid] {
			ev := &events[ei]
			if len(ev.Iterations) != reps {
				panic(fmt.Errorf("l2flat: %w: event %d (tid %d) has %d iterations, expected %d",
					l1events.ErrInconsistentIterations, ei, tid, len(ev.Iterations), reps))
			}
			if cursor+reps > total {
				panic(fmt.Sprintf("l2flat: write cursor %d overruns %d preallocated rows", cursor+reps, total))
			}
			for k := range ev.Iterations {
				it := &ev.Iterations[k]
				row := cursor + k
				t.AID[row] = int32(aid)
				t.VLD[row] = ev.VLD
				t.TIM[row] = ev.TIM
				t.X[row] = it.Loc[0]
				t.Y[row] = it.Loc[1]
				t.Z[row] = it.Loc[2]
				t.EFO[row] = it.EFO
				t.CFR[row] = it.CFR
				t.DCR[row] = it.DCR
			}
			cursor += reps
		}
		for row := start; row < cursor; row++ {
			t.TID[row] = tid
		}
	}
	return t
}
