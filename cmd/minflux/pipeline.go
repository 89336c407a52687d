package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/minflux/internal/config"
	"github.com/banshee-data/minflux/internal/minflux/l1events"
	"github.com/banshee-data/minflux/internal/minflux/l1events/parse"
	"github.com/banshee-data/minflux/internal/minflux/l3locs"
	"github.com/banshee-data/minflux/internal/minflux/l4filter"
	"github.com/banshee-data/minflux/internal/monitoring"
	"github.com/banshee-data/minflux/internal/security"
	"github.com/banshee-data/minflux/internal/units"
)

func (a *app) newFlagSet(name, positional string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: minflux %s [options] %s\n\nOptions:\n", name, positional)
		fs.PrintDefaults()
	}
	return fs
}

// parseArgs parses args and returns the single positional argument.
func parseArgs(fs *flag.FlagSet, args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return "", err
		}
		return "", usagef("%v", err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", usagef("expected exactly one input file, got %d", fs.NArg())
	}
	return fs.Arg(0), nil
}

// tuningFlags are the processing options shared by the subcommands that
// build localizations. Flags given on the command line override the
// config file.
type tuningFlags struct {
	configPath string
	minLocs    int
	invalid    bool
	weighted   bool
	lastValid  bool
	unit       string
}

func addTuningFlags(fs *flag.FlagSet) *tuningFlags {
	tf := &tuningFlags{}
	fs.StringVar(&tf.configPath, "config", "", "JSON tuning config file")
	fs.IntVar(&tf.minLocs, "min-locs", 1, "minimum number of localizations per trace")
	fs.BoolVar(&tf.invalid, "invalid", false, "process the events flagged invalid instead of the valid ones")
	fs.BoolVar(&tf.weighted, "weighted", false, "use eco-weighted trace positions")
	fs.BoolVar(&tf.lastValid, "last-valid", true, "detect the last valid iteration of each metric")
	fs.StringVar(&tf.unit, "unit", units.NM, "position unit ("+units.GetValidUnitsString()+")")
	return tf
}

func (tf *tuningFlags) resolve(fs *flag.FlagSet) (*config.TuningConfig, error) {
	cfg := config.EmptyTuningConfig()
	if tf.configPath != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(tf.configPath); err != nil {
			return nil, err
		}
	}
	var visitErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "unit":
			factor, ok := units.ScalingFactor(tf.unit)
			if !ok {
				visitErr = usagef("unknown unit %q, expected one of %s", tf.unit, units.GetValidUnitsString())
				return
			}
			cfg.UnitScalingFactor = &factor
		case "min-locs":
			cfg.MinNumLocPerTrace = &tf.minLocs
		case "invalid":
			valid := !tf.invalid
			cfg.ValidOnly = &valid
		case "weighted":
			cfg.UseWeightedLocalizations = &tf.weighted
		case "last-valid":
			cfg.DetectLastValidIteration = &tf.lastValid
		}
	})
	if visitErr != nil {
		return nil, visitErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, usagef("%v", err)
	}
	return cfg, nil
}

func (a *app) loadDataset(path string) (*l1events.Dataset, error) {
	defer monitoring.Stage("read")()
	ds, err := parse.ReadFile(a.fsys, path)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("%s: %s", path, ds)
	return ds, nil
}

func localizationOptions(ds *l1events.Dataset, cfg *config.TuningConfig) l3locs.Options {
	opts := l3locs.DefaultOptions(ds)
	opts.ValidOnly = cfg.GetValidOnly()
	opts.UnitScaling = cfg.GetUnitScalingFactor()
	opts.ZScaling = cfg.GetZScalingFactor()
	if cfg.GetDetectLastValidIteration() {
		opts.Indices = l1events.FindLastValidIterations(ds)
	}
	return opts
}

// newProcessor builds the localization table of ds and applies the
// configured efo and cfr ranges.
func newProcessor(ds *l1events.Dataset, cfg *config.TuningConfig) (*l4filter.Processor, error) {
	defer monitoring.Stage("process")()

	opts := localizationOptions(ds, cfg)
	locs, err := l3locs.Build(ds, opts)
	if err != nil {
		return nil, err
	}
	p := l4filter.New(locs, cfg.GetMinNumLocPerTrace())
	if r, ok := cfg.GetEFORange(); ok {
		if err := p.FilterBy1DRange("efo", r[0], r[1]); err != nil {
			return nil, err
		}
	}
	if r, ok := cfg.GetCFRRange(); ok {
		if err := p.FilterBy1DRange("cfr", r[0], r[1]); err != nil {
			return nil, err
		}
	}
	monitoring.Logf("indices %+v: %d of %d localizations kept", opts.Indices, p.NumValues(), locs.Len())
	return p, nil
}

// openOutput returns a writer for path after validating it, or stdout
// when path is empty. A trailing .zst compresses the output with zstd.
// The returned close function must be called.
func (a *app) openOutput(path string, exts ...string) (io.Writer, func() error, error) {
	if path == "" {
		return a.stdout, func() error { return nil }, nil
	}
	name := path
	compressed := strings.EqualFold(filepath.Ext(path), ".zst")
	if compressed {
		name = strings.TrimSuffix(path, filepath.Ext(path))
	}
	if err := security.RequireExtension(name, exts...); err != nil {
		return nil, nil, usagef("%v", err)
	}
	if err := security.ValidateOutputPath(path); err != nil {
		return nil, nil, err
	}
	if err := a.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := a.fsys.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	if !compressed {
		return f, f.Close, nil
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return enc, func() error {
		if err := enc.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// baseName is the sanitized input file name without its extension.
func baseName(path string) string {
	name := filepath.Base(path)
	return security.SanitizeFilename(strings.TrimSuffix(name, filepath.Ext(name)))
}
