package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"

	"github.com/banshee-data/minflux/internal/config"
	"github.com/banshee-data/minflux/internal/minflux/analysis"
	"github.com/banshee-data/minflux/internal/minflux/export"
	"github.com/banshee-data/minflux/internal/minflux/l1events"
	"github.com/banshee-data/minflux/internal/minflux/l2flat"
	"github.com/banshee-data/minflux/internal/minflux/l5traces"
	"github.com/banshee-data/minflux/internal/minflux/monitor"
	"github.com/banshee-data/minflux/internal/monitoring"
	"github.com/banshee-data/minflux/internal/security"
	"github.com/banshee-data/minflux/internal/units"
)

func (a *app) runInfo(args []string) error {
	fs := a.newFlagSet("info", "FILE")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	ds, err := a.loadDataset(path)
	if err != nil {
		return err
	}

	tids := make(map[int32]struct{})
	fluo := make(map[int8]struct{})
	for i := range ds.Events {
		tids[ds.Events[i].TID] = struct{}{}
		fluo[ds.Events[i].Fluo] = struct{}{}
	}
	ids := make([]int, 0, len(fluo))
	for f := range fluo {
		ids = append(ids, int(f))
	}
	slices.Sort(ids)

	w := a.stdout
	fmt.Fprintf(w, "File:         %s\n", path)
	fmt.Fprintf(w, "Acquisition:  %s\n", ds)
	fmt.Fprintf(w, "Iterations:   %d\n", ds.Iterations)
	fmt.Fprintf(w, "Traces:       %d\n", len(tids))
	fmt.Fprintf(w, "Fluorophores: %v\n", ids)
	if width, height, ok := extent(ds); ok {
		fmt.Fprintf(w, "Extent:       %.3f x %.3f um\n", units.ConvertLength(width, units.UM), units.ConvertLength(height, units.UM))
	}
	fmt.Fprintf(w, "Default iterations:    %s\n", formatIndices(l1events.DefaultIterationIndices(ds.Is3D, ds.Aggregated)))
	fmt.Fprintf(w, "Last valid iterations: %s\n", formatIndices(l1events.FindLastValidIterations(ds)))
	return nil
}

// extent returns the x and y span in meters of the final iteration's
// positions, ignoring NaNs.
func extent(ds *l1events.Dataset) (width, height float64, ok bool) {
	if ds.Len() == 0 {
		return 0, 0, false
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	minY, maxY := math.Inf(1), math.Inf(-1)
	last := ds.Iterations - 1
	for i := range ds.Events {
		loc := ds.Events[i].Iterations[last].Loc
		if math.IsNaN(loc[0]) || math.IsNaN(loc[1]) {
			continue
		}
		minX, maxX = math.Min(minX, loc[0]), math.Max(maxX, loc[0])
		minY, maxY = math.Min(minY, loc[1]), math.Max(maxY, loc[1])
	}
	if math.IsInf(minX, 1) {
		return 0, 0, false
	}
	return maxX - minX, maxY - minY, true
}

func formatIndices(idx l1events.IterationIndices) string {
	return fmt.Sprintf("efo=%d cfr=%d dcr=%d eco=%d loc=%d", idx.EFO, idx.CFR, idx.DCR, idx.ECO, idx.Loc)
}

func (a *app) runFlatten(args []string) error {
	fs := a.newFlagSet("flatten", "FILE")
	configPath := fs.String("config", "", "JSON tuning config file (unit and z scaling)")
	out := fs.String("o", "", "output CSV file (default stdout)")
	scale := fs.Bool("scale", false, "scale positions by the configured unit and z factors")
	unit := fs.String("unit", "", "scale positions to this unit ("+units.GetValidUnitsString()+"); implies -scale")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		if cfg, err = config.LoadTuningConfig(*configPath); err != nil {
			return err
		}
	}
	if *unit != "" {
		factor, ok := units.ScalingFactor(*unit)
		if !ok {
			return usagef("unknown unit %q, expected one of %s", *unit, units.GetValidUnitsString())
		}
		cfg.UnitScalingFactor = &factor
		*scale = true
	}

	ds, err := a.loadDataset(path)
	if err != nil {
		return err
	}
	done := monitoring.Stage("flatten")
	table := l2flat.FlattenDataset(ds)
	done()
	if *scale {
		table.ScalePositions(cfg.GetUnitScalingFactor(), cfg.GetZScalingFactor())
	}

	w, closeOut, err := a.openOutput(*out, ".csv")
	if err != nil {
		return err
	}
	if err := export.WriteFlatCSV(w, table); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func (a *app) runProcess(args []string) error {
	fs := a.newFlagSet("process", "FILE")
	tf := addTuningFlags(fs)
	out := fs.String("o", "", "output CSV file for the trace statistics (default stdout)")
	locsOut := fs.String("locs", "", "optional CSV file for the filtered localizations")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	cfg, err := tf.resolve(fs)
	if err != nil {
		return err
	}
	ds, err := a.loadDataset(path)
	if err != nil {
		return err
	}
	p, err := newProcessor(ds, cfg)
	if err != nil {
		return err
	}

	rows := p.Filtered()
	stats := l5traces.Compute(p.Localizations(), rows)
	monitoring.Logf("%d traces from %d localizations", len(stats), len(rows))

	if *locsOut != "" {
		w, closeOut, err := a.openOutput(*locsOut, ".csv")
		if err != nil {
			return err
		}
		if err := export.WriteLocalizationsCSV(w, p.Localizations(), rows); err != nil {
			closeOut()
			return err
		}
		if err := closeOut(); err != nil {
			return err
		}
	}

	w, closeOut, err := a.openOutput(*out, ".csv")
	if err != nil {
		return err
	}
	if err := export.WriteTraceStatsCSV(w, stats); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

type histogramSpec struct {
	name    string
	title   string
	xLabel  string
	values  []float64
	binSize float64
	robust  bool
}

func (a *app) runPlot(args []string) error {
	fs := a.newFlagSet("plot", "FILE")
	tf := addTuningFlags(fs)
	outDir := fs.String("out", "", "output directory for the PNG histograms (required)")
	dcrSplit := fs.Float64("dcr-split", 0, "expected DCR between two fluorophores; marks the nearest histogram valley")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if *outDir == "" {
		fs.Usage()
		return usagef("-out is required")
	}
	if err := security.ValidateOutputPath(*outDir); err != nil {
		return err
	}
	cfg, err := tf.resolve(fs)
	if err != nil {
		return err
	}
	ds, err := a.loadDataset(path)
	if err != nil {
		return err
	}
	p, err := newProcessor(ds, cfg)
	if err != nil {
		return err
	}
	if p.NumValues() == 0 {
		return fmt.Errorf("%s: no localizations left after filtering", path)
	}

	defer monitoring.Stage("plot")()
	locs := p.FilteredLocalizations()
	stats := l5traces.Compute(p.Localizations(), p.Filtered())
	lengths := make([]float64, len(stats))
	for i, s := range stats {
		lengths[i] = float64(s.N)
	}

	specs := []histogramSpec{
		{"efo", "EFO", "EFO (Hz)", locs.EFO, cfg.GetEFOBinSizeHz(), true},
		{"cfr", "CFR", "CFR", locs.CFR, 0, true},
		{"dcr", "DCR", "DCR", locs.DCR, 0, false},
		{"trace_length", "Trace length", "Localizations per trace", lengths, 1, false},
	}

	hp := monitor.NewHistogramPlotter()
	hp.Scott = cfg.GetScottBins()
	base := baseName(path)
	for _, s := range specs {
		var markers []float64
		if s.robust {
			th, err := analysis.RobustThreshold(s.values, cfg.GetRobustThresholdFactor())
			if err == nil {
				markers = []float64{th.Lower, th.Upper}
				monitoring.Logf("%s: median %g, robust range [%g, %g]", s.name, th.Median, th.Lower, th.Upper)
			}
		}
		switch {
		case s.name == "efo":
			if lo, hi, err := firstPeak(s.values, s.binSize, hp.Scott); err == nil {
				monitoring.Logf("efo: first peak between %g and %g Hz", lo, hi)
			}
		case s.name == "dcr" && *dcrSplit > 0:
			cut, err := cutoffNear(s.values, hp.Scott, *dcrSplit)
			if err != nil {
				monitoring.Logf("dcr: no valley near %g: %v", *dcrSplit, err)
				break
			}
			monitoring.Logf("dcr: fluorophore cutoff at %g", cut)
			markers = append(markers, cut)
		}
		file := filepath.Join(*outDir, base+"_"+s.name+".png")
		err := a.writePNG(file, func(buf *bytes.Buffer) error {
			return hp.WriteHistogram(buf, s.title, s.xLabel, s.values, s.binSize, markers...)
		})
		if err != nil {
			if errors.Is(err, analysis.ErrNoData) {
				monitoring.Logf("skipping %s histogram: %v", s.name, err)
				continue
			}
			return err
		}
		fmt.Fprintln(a.stdout, file)
	}

	efoBins := analysis.AxisBinning{Auto: cfg.GetEFOBinSizeHz() == 0, BinSize: cfg.GetEFOBinSizeHz()}
	h2, err := analysis.Calculate2DHistogram(locs.EFO, locs.CFR, efoBins, analysis.AxisBinning{Auto: true}, hp.Scott)
	if err != nil {
		monitoring.Logf("skipping efo/cfr histogram: %v", err)
		return nil
	}
	file := filepath.Join(*outDir, base+"_efo_cfr.png")
	if err := a.writePNG(file, func(buf *bytes.Buffer) error {
		return monitor.NewImagePlotter().WriteHistogram2D(buf, "EFO vs CFR", "EFO (Hz)", "CFR", h2)
	}); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, file)
	return nil
}

// firstPeak returns the valleys around the first peak of the histogram
// of values.
func firstPeak(values []float64, binSize float64, scott bool) (lower, upper float64, err error) {
	h, err := analysis.PrepareHistogram(values, false, binSize == 0, scott, binSize)
	if err != nil {
		return 0, 0, err
	}
	return analysis.FindFirstPeakBounds(h.Counts, h.Centers, analysis.DefaultPeakOptions())
}

// cutoffNear returns the histogram valley of values closest to expected.
func cutoffNear(values []float64, scott bool, expected float64) (float64, error) {
	h, err := analysis.PrepareHistogram(values, false, true, scott, 0)
	if err != nil {
		return 0, err
	}
	return analysis.FindCutoffNearValue(h.Counts, h.Centers, expected)
}

func (a *app) runScatter(args []string) error {
	fs := a.newFlagSet("scatter", "FILE")
	tf := addTuningFlags(fs)
	out := fs.String("o", "", "output HTML file (default stdout)")
	byFluo := fs.Bool("by-fluorophore", false, "color points by fluorophore instead of trace ID")
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	cfg, err := tf.resolve(fs)
	if err != nil {
		return err
	}
	ds, err := a.loadDataset(path)
	if err != nil {
		return err
	}
	p, err := newProcessor(ds, cfg)
	if err != nil {
		return err
	}

	positions := l5traces.WeightedLocalizations(p.Localizations(), p.Filtered(), cfg.GetUseWeightedLocalizations())
	w, closeOut, err := a.openOutput(*out, ".html", ".htm")
	if err != nil {
		return err
	}
	if err := monitor.RenderScatter(w, baseName(path), positions, !*byFluo); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}
