package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// ErrTooFewWindows is returned when the acquisition does not span at
// least two drift time windows.
var ErrTooFewWindows = errors.New("at least two time windows are needed")

// DriftOptions configures drift estimation. Coordinates and Pixel are in
// nm and times in s.
type DriftOptions struct {
	// Pixel is the pixel (voxel) size of the renders that are
	// cross-correlated.
	Pixel float64
	// RX, RY and RZ default to the data extent.
	RX, RY, RZ *Range
	// Window is the length of a time window. When 0 it is derived from
	// the number of distinct TIDs and the field of view, clamped to
	// [600, 3600] s and to half the acquisition.
	Window float64
	// TID is required when Window is 0.
	TID []int32
}

// Drift is an estimated drift trajectory. DX, DY and DZ hold the drift
// at each input localization; Time with TX, TY and TZ sample it every
// tenth of a window. DZ and TZ are nil for 2D estimates.
type Drift struct {
	DX, DY, DZ []float64
	Time       []float64
	TX, TY, TZ []float64
	Window     float64
}

// driftParams are the tuning constants of one dimensionality.
type driftParams struct {
	centroidRadius float64 // pixels
	minWeight      float64 // weight of the longest lag
	roughness      float64 // regularization of the trajectory
}

var (
	drift2D = driftParams{centroidRadius: 10, minWeight: 0.5, roughness: 0.1}
	drift3D = driftParams{centroidRadius: 8, minWeight: 0.2, roughness: 0.01}
)

// EstimateDrift2D estimates the x, y drift of localizations sorted by
// time t by cross-correlating renders of consecutive time windows.
func EstimateDrift2D(x, y, t []float64, opts DriftOptions) (*Drift, error) {
	if len(x) != len(y) || len(x) != len(t) {
		return nil, fmt.Errorf("x, y and t differ in length: %d, %d, %d", len(x), len(y), len(t))
	}
	return estimateDrift([][]float64{x, y}, t, []*Range{opts.RX, opts.RY}, opts, drift2D)
}

// EstimateDrift3D is EstimateDrift2D with z.
func EstimateDrift3D(x, y, z, t []float64, opts DriftOptions) (*Drift, error) {
	if len(x) != len(y) || len(x) != len(z) || len(x) != len(t) {
		return nil, fmt.Errorf("x, y, z and t differ in length: %d, %d, %d, %d", len(x), len(y), len(z), len(t))
	}
	return estimateDrift([][]float64{x, y, z}, t, []*Range{opts.RX, opts.RY, opts.RZ}, opts, drift3D)
}

func estimateDrift(coords [][]float64, t []float64, ranges []*Range, opts DriftOptions, par driftParams) (*Drift, error) {
	if len(t) < 2 {
		return nil, ErrNoData
	}
	if !(opts.Pixel > 0) {
		return nil, fmt.Errorf("pixel size must be positive, got %g", opts.Pixel)
	}
	dims := len(coords)
	for a := range ranges {
		if ranges[a] == nil {
			r, err := quantileRange(coords[a], 0)
			if err != nil {
				return nil, err
			}
			ranges[a] = &r
		}
	}

	t0, t1 := t[0], t[len(t)-1]
	window := opts.Window
	if window <= 0 {
		if opts.TID == nil {
			return nil, fmt.Errorf("a time window or the trace IDs are needed")
		}
		window = defaultDriftWindow(opts.TID, *ranges[0], *ranges[1], t1-t0)
	}
	ns := int(math.Floor((t1 - t0) / window))
	if ns < 2 {
		return nil, fmt.Errorf("%w: %.1f s of data with %.1f s windows", ErrTooFewWindows, t1-t0, window)
	}

	// Render every window and keep its Fourier transform.
	ro := RenderOptions{SX: opts.Pixel, SY: opts.Pixel, SZ: opts.Pixel, Type: RenderFixedGaussian, FWHM: 3 * opts.Pixel}
	ro.RX, ro.RY = ranges[0], ranges[1]
	if dims == 3 {
		ro.RZ = ranges[2]
	}
	spectra := make([][]complex128, ns)
	times := make([]float64, ns)
	var shape []int
	sub := make([][]float64, dims)
	for j := range ns {
		lo := t0 + float64(j)*window
		for a := range sub {
			sub[a] = sub[a][:0]
		}
		var ts []float64
		for i, ti := range t {
			if ti >= lo && ti < lo+window {
				for a := range sub {
					sub[a] = append(sub[a], coords[a][i])
				}
				ts = append(ts, ti)
			}
		}
		times[j] = lo + window/2
		if len(ts) > 0 {
			times[j] = stat.Mean(ts, nil)
		}

		var pix []float32
		if dims == 2 {
			im, err := RenderXY(sub[0], sub[1], ro)
			if err != nil {
				return nil, fmt.Errorf("window %d: %w", j, err)
			}
			pix, shape = im.Pix, []int{im.Nx, im.Ny}
		} else {
			vol, err := RenderXYZ(sub[0], sub[1], sub[2], ro)
			if err != nil {
				return nil, fmt.Errorf("window %d: %w", j, err)
			}
			pix, shape = vol.Vox, []int{vol.Nx, vol.Ny, vol.Nz}
		}
		spectra[j] = toComplex(pix)
		fftN(spectra[j], shape, false)
	}

	// Relative shifts between every pair of windows, in pixels.
	var pairA, pairB []int
	shifts := make([][]float64, dims)
	first := make([][]float64, dims)
	for a := range first {
		first[a] = make([]float64, ns-1)
	}
	corr := make([]complex128, len(spectra[0]))
	for i := 0; i < ns-1; i++ {
		for j := i + 1; j < ns; j++ {
			for k := range corr {
				corr[k] = cmplx.Conj(spectra[i][k]) * spectra[j][k]
			}
			fftN(corr, shape, true)
			sh := correlationPeak(corr, shape, par.centroidRadius)
			pairA, pairB = append(pairA, i), append(pairB, j)
			for a := range shifts {
				shifts[a] = append(shifts[a], sh[a])
				if j == i+1 {
					first[a][i] = sh[a]
				}
			}
		}
	}

	weights := make([]float64, ns)
	floats.Span(weights, 1, par.minWeight)

	grid := driftGrid(t0, t1, window/10)
	d := &Drift{Window: window, Time: grid}
	for a := 0; a < dims; a++ {
		start := make([]float64, ns-1)
		floats.CumSum(start, first[a])
		traj, err := fitTrajectory(start, pairA, pairB, shifts[a], weights, par.roughness)
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", a, err)
		}
		mean := stat.Mean(traj, nil)
		for k := range traj {
			traj[k] = (traj[k] - mean) * opts.Pixel
		}
		at, err := interpolate(times, traj, t)
		if err != nil {
			return nil, err
		}
		sampled, err := interpolate(times, traj, grid)
		if err != nil {
			return nil, err
		}
		switch a {
		case 0:
			d.DX, d.TX = at, sampled
		case 1:
			d.DY, d.TY = at, sampled
		case 2:
			d.DZ, d.TZ = at, sampled
		}
	}
	return d, nil
}

// defaultDriftWindow scales the window with the number of traces per
// field of view.
func defaultDriftWindow(tid []int32, rx, ry Range, duration float64) float64 {
	unique := slices.Clone(tid)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	w := float64(len(unique)) * rx.Span() * ry.Span() / 3e6
	w = math.Min(w, math.Min(duration/2, 3600))
	return math.Max(w, 600)
}

func driftGrid(t0, t1, step float64) []float64 {
	var g []float64
	for k := 0; ; k++ {
		v := t0 + float64(k)*step
		if v >= t1 {
			return g
		}
		g = append(g, v)
	}
}

// correlationPeak locates the peak of a cross-correlation near zero lag
// with an iterated Gaussian-weighted centroid and returns the shift per
// axis in pixels. The y shift is negated to undo the image row flip.
func correlationPeak(corr []complex128, shape []int, radius float64) []float64 {
	dims := len(shape)
	center := make([]float64, dims)
	for a, n := range shape {
		// zero lag after the inverse shift
		center[a] = float64(n - n/2)
	}

	reach := int(2 * radius)
	side := 2*reach + 1
	count := 1
	for range dims {
		count *= side
	}
	pos := make([][]float64, count)
	vals := make([]float64, count)
	idx := make([]int, dims)
	for k := range count {
		rem := k
		p := make([]float64, dims)
		off, stride := 0, 1
		for a := 0; a < dims; a++ {
			g := int(center[a]) + rem%side - reach
			rem /= side
			p[a] = float64(g)
			n := shape[a]
			// lags wrap around the periodic correlation
			idx[a] = ifftShiftIndex(((g%n)+n)%n, n)
			off += idx[a] * stride
			stride *= n
		}
		pos[k] = p
		vals[k] = real(corr[off])
	}
	lo := floats.Min(vals)
	floats.AddConst(-lo, vals)
	if total := floats.Sum(vals); total > 0 {
		floats.Scale(1/total, vals)
	}

	c := slices.Clone(center)
	w := make([]float64, count)
	for range 20 {
		for k, p := range pos {
			dist := 0.0
			for a := range p {
				dist += (c[a] - p[a]) * (c[a] - p[a])
			}
			w[k] = math.Exp(-4*math.Ln2*dist/(radius*radius)) * vals[k]
		}
		norm := floats.Sum(w)
		for a := range c {
			s := 0.0
			for k, p := range pos {
				s += p[a] * w[k]
			}
			c[a] = s / norm
		}
	}
	shift := make([]float64, dims)
	for a := range shift {
		shift[a] = c[a] - center[a]
	}
	shift[1] = -shift[1]
	return shift
}

// fitTrajectory finds positions s_1..s_n (s_0 = 0) that best explain the
// pairwise shifts s_b - s_a, with lag-dependent weights and a penalty on
// the squared steps of the trajectory. It returns s_0..s_n.
func fitTrajectory(start []float64, a, b []int, shift, weights []float64, roughness float64) ([]float64, error) {
	full := make([]float64, len(start)+1)
	expand := func(x []float64) []float64 {
		copy(full[1:], x)
		return full
	}
	n := float64(len(shift))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			s := expand(x)
			f := 0.0
			for k := range shift {
				r := s[b[k]] - s[a[k]] - shift[k]
				f += weights[b[k]-a[k]] * r * r
			}
			f /= n
			for k := 1; k < len(s); k++ {
				f += roughness * (s[k] - s[k-1]) * (s[k] - s[k-1])
			}
			return f
		},
		Grad: func(grad, x []float64) {
			s := expand(x)
			for i := range grad {
				grad[i] = 0
			}
			for k := range shift {
				g := 2 * weights[b[k]-a[k]] * (s[b[k]] - s[a[k]] - shift[k]) / n
				if b[k] > 0 {
					grad[b[k]-1] += g
				}
				if a[k] > 0 {
					grad[a[k]-1] -= g
				}
			}
			for k := 1; k < len(s); k++ {
				g := 2 * roughness * (s[k] - s[k-1])
				grad[k-1] += g
				if k > 1 {
					grad[k-2] -= g
				}
			}
		},
	}
	settings := &optimize.Settings{GradientThreshold: 1e-10, MajorIterations: 10000}
	result, err := optimize.Minimize(problem, start, settings, &optimize.BFGS{})
	// A line search that stalls has already reached the quadratic's minimum
	// to within rounding.
	if err != nil && (result == nil || !(errors.Is(err, optimize.ErrNoProgress) || errors.Is(err, optimize.ErrLinesearcherFailure))) {
		return nil, fmt.Errorf("trajectory fit: %w", err)
	}
	traj := make([]float64, len(start)+1)
	copy(traj[1:], result.X)
	return traj, nil
}

// interpolate evaluates the piecewise linear function through (xs, ys)
// at each of at, extending the first and last segments beyond the ends.
func interpolate(xs, ys, at []float64) ([]float64, error) {
	for k := 1; k < len(xs); k++ {
		if !(xs[k] > xs[k-1]) {
			return nil, fmt.Errorf("interpolate: knots must increase, got %g after %g", xs[k], xs[k-1])
		}
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, fmt.Errorf("interpolate: %w", err)
	}
	last := len(xs) - 1
	out := make([]float64, len(at))
	for i, v := range at {
		switch {
		case v < xs[0]:
			out[i] = ys[0] + (v-xs[0])*(ys[1]-ys[0])/(xs[1]-xs[0])
		case v > xs[last]:
			out[i] = ys[last] + (v-xs[last])*(ys[last]-ys[last-1])/(xs[last]-xs[last-1])
		default:
			out[i] = pl.Predict(v)
		}
	}
	return out, nil
}
