// Command minflux reads MINFLUX .npy acquisitions, flattens them into
// per-iteration traces, computes per-trace statistics and renders
// diagnostic plots.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/minflux/internal/fsutil"
	"github.com/banshee-data/minflux/internal/monitoring"
	"github.com/banshee-data/minflux/internal/version"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// errUsage marks errors caused by bad invocation rather than bad data.
var errUsage = errors.New("usage")

func usagef(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{errUsage}, v...)...)
}

type app struct {
	fsys   fsutil.FileSystem
	stdout io.Writer
	stderr io.Writer
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) error
}

var commands = []command{
	{"info", "describe an acquisition", (*app).runInfo},
	{"flatten", "write the per-iteration trace table as CSV", (*app).runFlatten},
	{"process", "filter localizations and write per-trace statistics as CSV", (*app).runProcess},
	{"plot", "save efo, cfr, dcr, trace length and efo/cfr histograms", (*app).runPlot},
	{"scatter", "write an HTML scatter plot of trace positions", (*app).runScatter},
	{"render", "render localizations into a PNG image", (*app).runRender},
	{"frc", "estimate the resolution by Fourier ring correlation", (*app).runFRC},
	{"drift", "estimate the drift trajectory by time-window correlation", (*app).runDrift},
	{"import", "store an acquisition and its trace statistics in a database", (*app).runImport},
	{"list", "list the datasets stored in a database", (*app).runList},
	{"export", "write a stored trace table as CSV", (*app).runExport},
	{"migrate", "manage the database schema", (*app).runMigrate},
	{"version", "print build information", (*app).runVersion},
}

func main() {
	a := &app{fsys: fsutil.OSFileSystem{}, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(a.run(os.Args[1:]))
}

func (a *app) run(args []string) int {
	if len(args) < 1 {
		a.printUsage()
		return exitUsage
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		a.printUsage()
		return exitOK
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(a, args[1:])
		switch {
		case err == nil:
			return exitOK
		case errors.Is(err, flag.ErrHelp):
			return exitOK
		case errors.Is(err, errUsage):
			fmt.Fprintf(a.stderr, "minflux %s: %v\n", name, err)
			return exitUsage
		default:
			monitoring.Logf("minflux %s failed: %v", name, err)
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return exitError
		}
	}

	fmt.Fprintf(a.stderr, "Unknown command: %s\n\n", name)
	a.printUsage()
	return exitUsage
}

func (a *app) printUsage() {
	fmt.Fprint(a.stderr, "minflux - MINFLUX acquisition processing\n\nUsage: minflux <command> [options]\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(a.stderr, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprint(a.stderr, "\nRun 'minflux <command> -h' for the options of a command.\n")
}

func (a *app) runVersion(args []string) error {
	if len(args) > 0 {
		return usagef("version takes no arguments")
	}
	fmt.Fprintf(a.stdout, "minflux %s\n", version.String())
	return nil
}
