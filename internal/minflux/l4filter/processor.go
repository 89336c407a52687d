// Package l4filter keeps row selections over a processed localization
// table. Selections are tracked separately for fluorophores 1 and 2, and
// every filter operation re-applies the minimum localizations per trace
// rule.
package l4filter

import (
	"errors"
	"fmt"

	"github.com/banshee-data/minflux/internal/minflux/l3locs"
)

var (
	// ErrUnknownProperty is returned when a filter names a column the
	// localization table does not have.
	ErrUnknownProperty = l3locs.ErrUnknownProperty

	// ErrInvalidFluorophore is returned for fluorophore IDs other than 0
	// (all), 1 and 2.
	ErrInvalidFluorophore = errors.New("invalid fluorophore id")

	// ErrLengthMismatch is returned by SetFluorophoreIDs when the number of
	// IDs does not match the number of rows.
	ErrLengthMismatch = errors.New("length mismatch")
)

// Processor applies filters to a localization table. It is not safe for
// concurrent use.
type Processor struct {
	locs            *l3locs.Localizations
	selected        [3][]bool // index 1 and 2 used
	current         int8
	minLocsPerTrace int
}

// New returns a processor with every row selected, subject to the minimum
// number of localizations per trace.
func New(locs *l3locs.Localizations, minLocsPerTrace int) *Processor {
	p := &Processor{locs: locs, minLocsPerTrace: minLocsPerTrace}
	p.initSelection()
	p.applyGlobalFilters()
	return p
}

func (p *Processor) initSelection() {
	for _, f := range []int8{1, 2} {
		sel := make([]bool, p.locs.Len())
		for i := range sel {
			sel[i] = true
		}
		p.selected[f] = sel
	}
}

// Localizations returns the full, unfiltered table.
func (p *Processor) Localizations() *l3locs.Localizations { return p.locs }

// CurrentFluorophore returns the fluorophore filters apply to; 0 means both.
func (p *Processor) CurrentFluorophore() int8 { return p.current }

// SetCurrentFluorophore selects the fluorophore subsequent filters and
// views apply to.
func (p *Processor) SetCurrentFluorophore(id int8) error {
	if id < 0 || id > 2 {
		return fmt.Errorf("%w: %d", ErrInvalidFluorophore, id)
	}
	p.current = id
	p.applyGlobalFilters()
	return nil
}

// MinLocsPerTrace returns the global trace length filter.
func (p *Processor) MinLocsPerTrace() int { return p.minLocsPerTrace }

// SetMinLocsPerTrace changes the global trace length filter and applies it.
// Rows dropped by an earlier, stricter minimum stay dropped.
func (p *Processor) SetMinLocsPerTrace(n int) {
	p.minLocsPerTrace = n
	p.applyGlobalFilters()
}

// NumFluorophores returns the number of distinct fluorophore IDs.
func (p *Processor) NumFluorophores() int {
	seen := make(map[int8]struct{})
	for _, f := range p.locs.Fluo {
		seen[f] = struct{}{}
	}
	return len(seen)
}

// SetFluorophoreIDs assigns a fluorophore (1 or 2) to every row and clears
// all selections.
func (p *Processor) SetFluorophoreIDs(ids []int8) error {
	if len(ids) != p.locs.Len() {
		return fmt.Errorf("%w: %d fluorophore ids for %d rows", ErrLengthMismatch, len(ids), p.locs.Len())
	}
	for i, id := range ids {
		if id != 1 && id != 2 {
			return fmt.Errorf("%w: %d at row %d", ErrInvalidFluorophore, id, i)
		}
	}
	copy(p.locs.Fluo, ids)
	p.initSelection()
	p.applyGlobalFilters()
	return nil
}

// Reset drops all filters, assigns every row to fluorophore 1 and selects
// both fluorophores.
func (p *Processor) Reset() {
	p.initSelection()
	for i := range p.locs.Fluo {
		p.locs.Fluo[i] = 1
	}
	p.current = 0
	p.applyGlobalFilters()
}

// targets returns the fluorophores the current setting applies to.
func (p *Processor) targets() []int8 {
	switch p.current {
	case 1:
		return []int8{1}
	case 2:
		return []int8{2}
	default:
		return []int8{1, 2}
	}
}

// visible reports whether row i is part of the current filtered view.
func (p *Processor) visible(i int) bool {
	f := p.locs.Fluo[i]
	if f != 1 && f != 2 {
		return false
	}
	if p.current != 0 && f != p.current {
		return false
	}
	return p.selected[f][i]
}

// Filtered returns the indices of the rows that pass all filters for the
// current fluorophore, in table order.
func (p *Processor) Filtered() []int {
	rows := make([]int, 0, p.locs.Len())
	for i := 0; i < p.locs.Len(); i++ {
		if p.visible(i) {
			rows = append(rows, i)
		}
	}
	return rows
}

// FilteredLocalizations returns a copy of the rows in Filtered.
func (p *Processor) FilteredLocalizations() *l3locs.Localizations {
	return p.locs.Gather(p.Filtered())
}

// NumValues returns the number of rows in the filtered view.
func (p *Processor) NumValues() int { return len(p.Filtered()) }

// restrict clears the selection of rows of the targeted fluorophores for
// which keep returns false, then re-applies the global filters.
func (p *Processor) restrict(keep func(i int) bool) {
	for _, f := range p.targets() {
		sel := p.selected[f]
		for i := range sel {
			if sel[i] && !keep(i) {
				sel[i] = false
			}
		}
	}
	p.applyGlobalFilters()
}

// FilterByThreshold keeps rows with prop >= threshold when largerThan is
// set, and rows with prop < threshold otherwise.
func (p *Processor) FilterByThreshold(prop string, threshold float64, largerThan bool) error {
	col, err := p.locs.Column(prop)
	if err != nil {
		return err
	}
	p.restrict(func(i int) bool {
		if largerThan {
			return col[i] >= threshold
		}
		return col[i] < threshold
	})
	return nil
}

// FilterBy1DRange keeps rows with lo <= prop < hi. Reversed bounds are
// swapped.
func (p *Processor) FilterBy1DRange(prop string, lo, hi float64) error {
	col, err := p.locs.Column(prop)
	if err != nil {
		return err
	}
	lo, hi = ordered(lo, hi)
	p.restrict(func(i int) bool { return col[i] >= lo && col[i] < hi })
	return nil
}

// FilterBy1DRangeComplement drops rows with lo <= prop < hi.
func (p *Processor) FilterBy1DRangeComplement(prop string, lo, hi float64) error {
	col, err := p.locs.Column(prop)
	if err != nil {
		return err
	}
	lo, hi = ordered(lo, hi)
	p.restrict(func(i int) bool { return col[i] < lo || col[i] >= hi })
	return nil
}

// FilterBy2DRange keeps rows inside the rectangle xr × yr over the
// properties xProp and yProp.
func (p *Processor) FilterBy2DRange(xProp, yProp string, xr, yr [2]float64) error {
	xs, ys, err := p.columns(xProp, yProp)
	if err != nil {
		return err
	}
	xlo, xhi := ordered(xr[0], xr[1])
	ylo, yhi := ordered(yr[0], yr[1])
	p.restrict(func(i int) bool {
		return xs[i] >= xlo && xs[i] < xhi && ys[i] >= ylo && ys[i] < yhi
	})
	return nil
}

// SelectBy1DRange returns the filtered rows with lo <= prop < hi without
// changing the selection.
func (p *Processor) SelectBy1DRange(prop string, lo, hi float64) ([]int, error) {
	col, err := p.locs.Column(prop)
	if err != nil {
		return nil, err
	}
	lo, hi = ordered(lo, hi)
	var rows []int
	for _, i := range p.Filtered() {
		if col[i] >= lo && col[i] < hi {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

// SelectBy2DRange is the two-property form of SelectBy1DRange.
func (p *Processor) SelectBy2DRange(xProp, yProp string, xr, yr [2]float64) ([]int, error) {
	xs, ys, err := p.columns(xProp, yProp)
	if err != nil {
		return nil, err
	}
	xlo, xhi := ordered(xr[0], xr[1])
	ylo, yhi := ordered(yr[0], yr[1])
	var rows []int
	for _, i := range p.Filtered() {
		if xs[i] >= xlo && xs[i] < xhi && ys[i] >= ylo && ys[i] < yhi {
			rows = append(rows, i)
		}
	}
	return rows, nil
}

func (p *Processor) columns(xProp, yProp string) ([]float64, []float64, error) {
	xs, err := p.locs.Column(xProp)
	if err != nil {
		return nil, nil, err
	}
	ys, err := p.locs.Column(yProp)
	if err != nil {
		return nil, nil, err
	}
	return xs, ys, nil
}

// applyGlobalFilters drops, per targeted fluorophore, the selected rows of
// traces with fewer than minLocsPerTrace selected rows.
func (p *Processor) applyGlobalFilters() {
	for _, f := range p.targets() {
		sel := p.selected[f]
		counts := make(map[int32]int)
		for i, ok := range sel {
			if ok && p.locs.Fluo[i] == f {
				counts[p.locs.TID[i]]++
			}
		}
		for i, ok := range sel {
			if ok && counts[p.locs.TID[i]] < p.minLocsPerTrace {
				sel[i] = false
			}
		}
	}
}

func ordered(lo, hi float64) (float64, float64) {
	if hi < lo {
		return hi, lo
	}
	return lo, hi
}
