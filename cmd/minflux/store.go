package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/minflux/internal/db"
	"github.com/banshee-data/minflux/internal/fsutil"
	"github.com/banshee-data/minflux/internal/minflux/export"
	"github.com/banshee-data/minflux/internal/minflux/l1events/parse"
	"github.com/banshee-data/minflux/internal/minflux/l2flat"
	"github.com/banshee-data/minflux/internal/minflux/l5traces"
	"github.com/banshee-data/minflux/internal/minflux/storage/sqlite"
	"github.com/banshee-data/minflux/internal/monitoring"
)

const defaultDBPath = "minflux.db"

// maxImportSize bounds the acquisition files read into memory by import.
const maxImportSize = 4 << 30

func (a *app) runImport(args []string) error {
	fs := a.newFlagSet("import", "FILE")
	dbPath := fs.String("db", defaultDBPath, "SQLite database file")
	tf := addTuningFlags(fs)
	path, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if err := parse.CheckExtension(path); err != nil {
		return usagef("%v", err)
	}
	cfg, err := tf.resolve(fs)
	if err != nil {
		return err
	}

	data, err := fsutil.ReadLimited(a.fsys, path, maxImportSize)
	if err != nil {
		return err
	}
	fingerprint := sqlite.Fingerprint(data)

	database, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	datasets := sqlite.NewDatasetStore(database.DB)
	existing, err := datasets.FindByFingerprint(ctx, fingerprint)
	switch {
	case err == nil:
		fmt.Fprintf(a.stdout, "%s already imported as %s\n", path, existing.DatasetID)
		return nil
	case !errors.Is(err, sqlite.ErrDatasetNotFound):
		return err
	}

	ds, err := parse.DecodeFile(path, data)
	if err != nil {
		return err
	}
	monitoring.Logf("%s: %s", path, ds)

	done := monitoring.Stage("flatten")
	table := l2flat.FlattenDataset(ds)
	done()

	p, err := newProcessor(ds, cfg)
	if err != nil {
		return err
	}
	stats := l5traces.Compute(p.Localizations(), p.Filtered())

	source, err := filepath.Abs(path)
	if err != nil {
		source = path
	}
	id, err := datasets.InsertDataset(ctx, &sqlite.Dataset{
		SourcePath:  source,
		Fingerprint: fingerprint,
		Iterations:  ds.Iterations,
		Is3D:        ds.Is3D,
		Aggregated:  ds.Aggregated,
		NumEvents:   ds.Len(),
		NumValid:    ds.ValidCount(),
	}, table, stats)
	if err != nil {
		return err
	}
	monitoring.Logf("imported %s as %s: %d rows, %d traces", path, id, table.Len(), len(stats))
	fmt.Fprintln(a.stdout, id)
	return nil
}

func (a *app) runList(args []string) error {
	fs := a.newFlagSet("list", "")
	dbPath := fs.String("db", defaultDBPath, "SQLite database file")
	asJSON := fs.Bool("json", false, "print one JSON object per dataset")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usagef("%v", err)
	}
	if fs.NArg() != 0 {
		return usagef("unexpected arguments: %v", fs.Args())
	}

	database, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	list, err := sqlite.NewDatasetStore(database.DB).ListDatasets(context.Background())
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(a.stdout)
		for _, d := range list {
			if err := enc.Encode(d); err != nil {
				return err
			}
		}
		return nil
	}
	for _, d := range list {
		dim := "2D"
		if d.Is3D {
			dim = "3D"
		}
		fmt.Fprintf(a.stdout, "%s  %s  %s  events=%d valid=%d  %s\n",
			d.DatasetID, time.Unix(0, d.CreatedAt).UTC().Format(time.RFC3339), dim,
			d.NumEvents, d.NumValid, d.SourcePath)
	}
	return nil
}

func (a *app) runExport(args []string) error {
	fs := a.newFlagSet("export", "")
	dbPath := fs.String("db", defaultDBPath, "SQLite database file")
	id := fs.String("id", "", "dataset ID (required)")
	out := fs.String("o", "", "output CSV file (default stdout)")
	withStats := fs.Bool("stats", false, "export the trace statistics instead of the trace table")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usagef("%v", err)
	}
	if *id == "" {
		fs.Usage()
		return usagef("-id is required")
	}

	database, err := db.Open(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	datasets := sqlite.NewDatasetStore(database.DB)
	if _, err := datasets.GetDataset(ctx, *id); err != nil {
		return err
	}

	w, closeOut, err := a.openOutput(*out, ".csv")
	if err != nil {
		return err
	}
	if *withStats {
		stats, err := sqlite.NewTraceStatsStore(database.DB).ListTraceStats(ctx, *id)
		if err == nil {
			err = export.WriteTraceStatsCSV(w, stats)
		}
		if err != nil {
			closeOut()
			return err
		}
		return closeOut()
	}

	table, err := datasets.LoadTable(ctx, *id)
	if err == nil {
		err = export.WriteFlatCSV(w, table)
	}
	if err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func (a *app) runMigrate(args []string) error {
	fs := a.newFlagSet("migrate", "<up|down|status|force VERSION>")
	dbPath := fs.String("db", defaultDBPath, "SQLite database file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usagef("%v", err)
	}
	if fs.NArg() == 0 {
		db.PrintMigrateHelp(a.stderr)
		return usagef("missing migrate action")
	}
	return db.RunMigrateCommand(a.stdout, fs.Args(), *dbPath)
}
