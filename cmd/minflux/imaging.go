package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/banshee-data/minflux/internal/minflux/analysis"
	"github.com/banshee-data/minflux/internal/minflux/export"
	"github.com/banshee-data/minflux/internal/minflux/l3locs"
	"github.com/banshee-data/minflux/internal/minflux/monitor"
	"github.com/banshee-data/minflux/internal/monitoring"
)

// filteredLocalizations loads path and returns the localizations that
// pass the configured filters.
func (a *app) filteredLocalizations(path string, tf *tuningFlags, fs *flag.FlagSet) (*l3locs.Localizations, error) {
	cfg, err := tf.resolve(fs)
	if err != nil {
		return nil, err
	}
	ds, err := a.loadDataset(path)
	if err != nil {
		return nil, err
	}
	p, err := newProcessor(ds, cfg)
	if err != nil {
		return nil, err
	}
	if p.NumValues() == 0 {
		return nil, fmt.Errorf("%s: no localizations left after filtering", path)
	}
	return p.FilteredLocalizations(), nil
}

// writePNG renders into memory so that a failed plot leaves no file
// behind.
func (a *app) writePNG(file string, render func(*bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	w, closeOut, err := a.openOutput(file, ".png")
	if err != nil {
		return err
	}
	if _, err := buf.WriteTo(w); err != nil {
		closeOut()
		return fmt.Errorf("failed to write %s: %w", file, err)
	}
	return closeOut()
}

func (a *app) runRender(args []string) error {
	fs := a.newFlagSet("render", "FILE")
	tf := addTuningFlags(fs)
	out := fs.String("o", "", "output PNG file (default stdout)")
	pixel := fs.Float64("pixel", 5, "pixel size in nm")
	kind := fs.String("type", "histogram", "rendering: histogram or fixed_gaussian")
	fwhm := fs.Float64("fwhm", 0, "Gaussian FWHM in nm (default three pixel diagonals)")
	alpha := fs.Float64("alpha", 0.01, "fraction of localizations cut from each end of every axis")
	minRange := fs.Float64("min-range", 200, "minimum extent of each axis in nm")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	rt, err := analysis.ParseRenderType(*kind)
	if err != nil {
		return usagef("%v", err)
	}
	if !(*pixel > 0) {
		return usagef("-pixel must be positive, got %g", *pixel)
	}
	locs, err := a.filteredLocalizations(path, tf, fs)
	if err != nil {
		return err
	}

	defer monitoring.Stage("render")()
	rx, ry, _, err := analysis.LocalizationBoundaries(locs.X, locs.Y, locs.Z, *alpha, *minRange)
	if err != nil {
		return usagef("%v", err)
	}
	im, err := analysis.RenderXY(locs.X, locs.Y, analysis.RenderOptions{
		SX: *pixel, SY: *pixel, RX: &rx, RY: &ry, Type: rt, FWHM: *fwhm,
	})
	if err != nil {
		return err
	}
	used := 0
	for _, u := range im.Used {
		if u {
			used++
		}
	}
	monitoring.Logf("rendered %d of %d localizations into %dx%d pixels (%s)", used, len(im.Used), im.Nx, im.Ny, rt)

	return a.writePNG(*out, func(buf *bytes.Buffer) error {
		return monitor.NewImagePlotter().WriteImage(buf, baseName(path), im)
	})
}

func (a *app) runFRC(args []string) error {
	fs := a.newFlagSet("frc", "FILE")
	tf := addTuningFlags(fs)
	pixel := fs.Float64("pixel", 2, "pixel size of the rendered halves in nm")
	reps := fs.Int("reps", 5, "number of random splits to average")
	seed := fs.Uint64("seed", 0, "seed of the random splits (0 picks one)")
	csvOut := fs.String("csv", "", "optional CSV file for the averaged curve")
	plotOut := fs.String("plot", "", "optional PNG file for the averaged curve")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if !(*pixel > 0) {
		return usagef("-pixel must be positive, got %g", *pixel)
	}
	if *reps < 1 {
		return usagef("-reps must be at least 1, got %d", *reps)
	}
	locs, err := a.filteredLocalizations(path, tf, fs)
	if err != nil {
		return err
	}

	opts := analysis.FRCOptions{
		Reps:   *reps,
		Render: analysis.RenderOptions{SX: *pixel, SY: *pixel},
	}
	if *seed != 0 {
		opts.Rand = rand.New(rand.NewPCG(*seed, *seed))
	}
	done := monitoring.Stage("frc")
	res, err := analysis.EstimateResolutionByFRC(locs.X, locs.Y, opts)
	done()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Resolution: %.2f nm\n", res.Resolution*1e9)
	for i, r := range res.Resolutions {
		fmt.Fprintf(a.stdout, "  split %d:  %.2f nm\n", i+1, r*1e9)
	}

	if *csvOut != "" {
		w, closeOut, err := a.openOutput(*csvOut, ".csv")
		if err != nil {
			return err
		}
		if err := export.WriteFRCCSV(w, res.FRCCurve); err != nil {
			closeOut()
			return err
		}
		if err := closeOut(); err != nil {
			return err
		}
	}
	if *plotOut != "" {
		return a.writePNG(*plotOut, func(buf *bytes.Buffer) error {
			return monitor.NewImagePlotter().WriteFRC(buf, baseName(path), res.FRCCurve)
		})
	}
	return nil
}

func (a *app) runDrift(args []string) error {
	fs := a.newFlagSet("drift", "FILE")
	tf := addTuningFlags(fs)
	pixel := fs.Float64("pixel", 5, "pixel (voxel) size of the correlated renders in nm")
	window := fs.Float64("window", 0, "time window in s (default derived from the trace density)")
	use3D := fs.Bool("3d", false, "estimate z drift as well (3D acquisitions only)")
	out := fs.String("o", "", "output CSV file for the drift trajectory (default stdout)")
	corrected := fs.String("corrected", "", "optional CSV file for the drift-corrected localizations")
	plotOut := fs.String("plot", "", "optional PNG file for the drift trajectory")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if !(*pixel > 0) {
		return usagef("-pixel must be positive, got %g", *pixel)
	}
	locs, err := a.filteredLocalizations(path, tf, fs)
	if err != nil {
		return err
	}
	if *use3D && !locs.Is3D {
		return usagef("-3d needs a 3D acquisition")
	}

	// Drift is estimated on localizations in acquisition order.
	rows := make([]int, locs.Len())
	for i := range rows {
		rows[i] = i
	}
	slices.SortStableFunc(rows, func(i, j int) int {
		switch {
		case locs.TIM[i] < locs.TIM[j]:
			return -1
		case locs.TIM[i] > locs.TIM[j]:
			return 1
		}
		return 0
	})
	pick := func(col []float64) []float64 {
		v := make([]float64, len(rows))
		for k, i := range rows {
			v[k] = col[i]
		}
		return v
	}
	tid := make([]int32, len(rows))
	for k, i := range rows {
		tid[k] = locs.TID[i]
	}
	x, y, t := pick(locs.X), pick(locs.Y), pick(locs.TIM)
	opts := analysis.DriftOptions{Pixel: *pixel, Window: *window, TID: tid}

	done := monitoring.Stage("drift")
	var d *analysis.Drift
	if *use3D {
		d, err = analysis.EstimateDrift3D(x, y, pick(locs.Z), t, opts)
	} else {
		d, err = analysis.EstimateDrift2D(x, y, t, opts)
	}
	done()
	if err != nil {
		return err
	}
	monitoring.Logf("drift estimated over %.0f s windows", d.Window)

	w, closeOut, err := a.openOutput(*out, ".csv")
	if err != nil {
		return err
	}
	if err := export.WriteDriftCSV(w, d); err != nil {
		closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return err
	}

	if *corrected != "" {
		for k, i := range rows {
			locs.X[i] -= d.DX[k]
			locs.Y[i] -= d.DY[k]
			if d.DZ != nil {
				locs.Z[i] -= d.DZ[k]
			}
		}
		w, closeOut, err := a.openOutput(*corrected, ".csv")
		if err != nil {
			return err
		}
		if err := export.WriteLocalizationsCSV(w, locs, rows); err != nil {
			closeOut()
			return err
		}
		if err := closeOut(); err != nil {
			return err
		}
	}
	if *plotOut != "" {
		return a.writePNG(*plotOut, func(buf *bytes.Buffer) error {
			return monitor.NewImagePlotter().WriteDrift(buf, baseName(path), d)
		})
	}
	return nil
}
