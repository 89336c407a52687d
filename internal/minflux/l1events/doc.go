// Package l1events is the raw layer of the MINFLUX pipeline.
//
// A MINFLUX acquisition is a sequence of localization events. Each event
// carries a trace identifier (TID), a validity flag, a timestamp and one
// measurement per refinement iteration of the excitation sequence: 5
// iterations for 2D acquisitions, 10 for 3D ones, and a single iteration for
// acquisitions that were aggregated on the instrument.
//
// The package owns the event model and the checks that every later layer
// relies on (uniform iteration count, known acquisition type). Decoding of
// the instrument's export files lives in the parse subpackage.
package l1events
