package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/minflux/internal/fsutil"
	"github.com/banshee-data/minflux/internal/minflux/export"
	"github.com/banshee-data/minflux/internal/minflux/l1events"
	"github.com/banshee-data/minflux/internal/minflux/l2flat"
	"github.com/banshee-data/minflux/internal/monitoring"
	"github.com/banshee-data/minflux/internal/testutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

// fixtureTIDs is a 2D acquisition with traces 1 (3 events), 2 (2 events)
// and 5 (1 invalid event).
var fixtureTIDs = []int32{1, 1, 2, 1, 2, 5}

func fixtureDataset(t *testing.T) *l1events.Dataset {
	return testutil.Dataset(t, fixtureTIDs, l1events.Iterations2D, 5)
}

func writeFixture(t *testing.T, dir string) string {
	t.Helper()
	return testutil.WriteNPY(t, dir, "run1.npy", fixtureDataset(t))
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := &app{fsys: fsutil.OSFileSystem{}, stdout: &stdout, stderr: &stderr}
	code := a.run(args)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, exitUsage},
		{"help", []string{"help"}, exitOK},
		{"unknown command", []string{"frobnicate"}, exitUsage},
		{"missing file", []string{"info"}, exitUsage},
		{"two files", []string{"info", "a.npy", "b.npy"}, exitUsage},
		{"bad flag", []string{"process", "-nope", "a.npy"}, exitUsage},
		{"command help", []string{"flatten", "-h"}, exitOK},
		{"version args", []string{"version", "extra"}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, tt.args...)
			assert.Equal(t, tt.code, res.code, "stderr: %s", res.stderr)
		})
	}
}

func TestRun_Version(t *testing.T) {
	res := runCLI(t, "version")
	require.Equal(t, exitOK, res.code)
	assert.True(t, strings.HasPrefix(res.stdout, "minflux dev"), res.stdout)
}

func TestInfo(t *testing.T) {
	path := writeFixture(t, t.TempDir())

	res := runCLI(t, "info", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "2D normal acquisition")
	assert.Contains(t, res.stdout, "Traces:       3")
	assert.Contains(t, res.stdout, "Fluorophores: [1]")
	// At the last iteration x runs from 4 to 54 nm and y from -4 to 21 nm.
	assert.Contains(t, res.stdout, "Extent:       0.050 x 0.025 um")
	assert.Contains(t, res.stdout, "Last valid iterations: efo=4 cfr=4 dcr=4 eco=4 loc=4")
}

func TestInfo_MemoryFileSystem(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	mem.WriteFile("/data/run1.npy", testutil.EncodeNPY(t, fixtureDataset(t)))

	var stdout, stderr bytes.Buffer
	a := &app{fsys: mem, stdout: &stdout, stderr: &stderr}
	require.Equal(t, exitOK, a.run([]string{"info", "/data/run1.npy"}), stderr.String())
	assert.Contains(t, stdout.String(), "Iterations:   5")

	assert.Equal(t, exitError, a.run([]string{"info", "/data/missing.npy"}))
}

func TestInfo_NotNPY(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.npy")
	require.NoError(t, os.WriteFile(path, []byte("not numpy"), 0o644))

	res := runCLI(t, "info", path)
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "Error:")
}

func TestFlatten(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	out := filepath.Join(dir, "out", "flat.csv")

	res := runCLI(t, "flatten", "-o", out, path)
	require.Equal(t, exitOK, res.code, res.stderr)

	records := readCSV(t, out)
	require.Len(t, records, 1+6*l1events.Iterations2D)
	assert.Equal(t, l2flat.ColumnNames, records[0])
	// Trace 1 comes first with aid 0 repeated for its first event.
	assert.Equal(t, []string{"1", "0", "true"}, records[1][:3])
	// The invalid trace 5 is last.
	assert.Equal(t, []string{"5", "0", "false"}, records[len(records)-1][:3])
}

func TestFlatten_ScalesPositions(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)

	res := runCLI(t, "flatten", "-scale", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	records, err := csv.NewReader(strings.NewReader(res.stdout)).ReadAll()
	require.NoError(t, err)
	// Second iteration of the first event: x = 1 nm.
	assert.Equal(t, "1", records[2][4])
}

func TestFlatten_Unit(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)

	res := runCLI(t, "flatten", "-unit", "um", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	records, err := csv.NewReader(strings.NewReader(res.stdout)).ReadAll()
	require.NoError(t, err)
	// Second event, first iteration: x = 10 nm.
	x, err := strconv.ParseFloat(records[1+l1events.Iterations2D][4], 64)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, x, 1e-12)

	assert.Equal(t, exitUsage, runCLI(t, "flatten", "-unit", "ft", path).code)
	assert.Equal(t, exitUsage, runCLI(t, "process", "-unit", "ft", path).code)
}

func TestFlatten_CompressedInputAndOutput(t *testing.T) {
	dir := t.TempDir()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	input := filepath.Join(dir, "run1.npy.zst")
	require.NoError(t, os.WriteFile(input, enc.EncodeAll(testutil.EncodeNPY(t, fixtureDataset(t)), nil), 0o644))
	require.NoError(t, enc.Close())
	out := filepath.Join(dir, "flat.csv.zst")

	res := runCLI(t, "flatten", "-o", out, input)
	require.Equal(t, exitOK, res.code, res.stderr)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	records, err := csv.NewReader(dec).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1+len(fixtureTIDs)*l1events.Iterations2D)

	assert.Equal(t, exitUsage, runCLI(t, "flatten", "-o", filepath.Join(dir, "flat.txt.zst"), input).code)
}

func TestFlatten_RejectsOutputExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	res := runCLI(t, "flatten", "-o", filepath.Join(dir, "flat.txt"), path)
	assert.Equal(t, exitUsage, res.code)
}

func TestProcess(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	stats := filepath.Join(dir, "stats.csv")
	locs := filepath.Join(dir, "locs.csv")

	res := runCLI(t, "process", "-o", stats, "-locs", locs, path)
	require.Equal(t, exitOK, res.code, res.stderr)

	records := readCSV(t, stats)
	require.Len(t, records, 3)
	assert.Equal(t, export.TraceStatsHeader, records[0])
	assert.Equal(t, []string{"1", "3"}, records[1][:2])
	assert.Equal(t, []string{"2", "2"}, records[2][:2])

	assert.Len(t, readCSV(t, locs), 1+5)
}

func TestProcess_FlagsAndConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	cfgPath := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"min_num_loc_per_trace": 3}`), 0o644))

	countTraces := func(args ...string) int {
		t.Helper()
		res := runCLI(t, append([]string{"process"}, append(args, path)...)...)
		require.Equal(t, exitOK, res.code, res.stderr)
		records, err := csv.NewReader(strings.NewReader(res.stdout)).ReadAll()
		require.NoError(t, err)
		return len(records) - 1
	}

	assert.Equal(t, 1, countTraces("-config", cfgPath))
	assert.Equal(t, 2, countTraces("-config", cfgPath, "-min-locs", "1"))
	assert.Equal(t, 1, countTraces("-invalid"))

	res := runCLI(t, "process", "-min-locs", "0", path)
	assert.Equal(t, exitUsage, res.code)
}

func TestProcess_EFORangeFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	cfgPath := filepath.Join(dir, "tuning.json")
	// Keeps the events 0 and 1 only (efo of iteration 4: 40004, 41004).
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"efo_range": [40000, 42000]}`), 0o644))

	res := runCLI(t, "process", "-config", cfgPath, path)
	require.Equal(t, exitOK, res.code, res.stderr)
	records, err := csv.NewReader(strings.NewReader(res.stdout)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "2"}, records[1][:2])
}

func TestPlot(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	outDir := filepath.Join(dir, "plots")

	res := runCLI(t, "plot", "-out", outDir, path)
	require.Equal(t, exitOK, res.code, res.stderr)

	for _, name := range []string{"efo", "cfr", "dcr", "trace_length", "efo_cfr"} {
		file := filepath.Join(outDir, "run1_"+name+".png")
		data, err := os.ReadFile(file)
		require.NoError(t, err, name)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), name)
		assert.Contains(t, res.stdout, file)
	}
}

func TestPlot_WritesThroughFileSystem(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	mem.WriteFile("/data/run1.npy", testutil.EncodeNPY(t, fixtureDataset(t)))
	outDir := filepath.Join(t.TempDir(), "virtual", "plots")

	var stdout, stderr bytes.Buffer
	a := &app{fsys: mem, stdout: &stdout, stderr: &stderr}
	require.Equal(t, exitOK, a.run([]string{"plot", "-out", outDir, "/data/run1.npy"}), stderr.String())

	data, err := mem.ReadFile(filepath.Join(outDir, "run1_efo.png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
	_, err = os.Stat(outDir)
	assert.True(t, os.IsNotExist(err), "nothing should be written to the real filesystem")
}

func TestPlot_RequiresOutDir(t *testing.T) {
	path := writeFixture(t, t.TempDir())
	assert.Equal(t, exitUsage, runCLI(t, "plot", path).code)
}

func TestScatter(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	out := filepath.Join(dir, "scatter.html")

	res := runCLI(t, "scatter", "-o", out, "-weighted", path)
	require.Equal(t, exitOK, res.code, res.stderr)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echarts")
	assert.Contains(t, string(data), "run1")
}

func TestImportListExport(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir)
	dbPath := filepath.Join(dir, "minflux.db")

	res := runCLI(t, "import", "-db", dbPath, path)
	require.Equal(t, exitOK, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)
	require.NotEmpty(t, id)

	// Same content again is recognized by its fingerprint.
	res = runCLI(t, "import", "-db", dbPath, path)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "already imported as "+id)

	res = runCLI(t, "list", "-db", dbPath)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, id)
	assert.Contains(t, res.stdout, "events=6 valid=5")

	res = runCLI(t, "list", "-db", dbPath, "-json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var listed struct {
		DatasetID  string `json:"dataset_id"`
		Iterations int    `json:"iterations"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &listed))
	assert.Equal(t, id, listed.DatasetID)
	assert.Equal(t, 5, listed.Iterations)

	flat := filepath.Join(dir, "export.csv")
	res = runCLI(t, "export", "-db", dbPath, "-id", id, "-o", flat)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Len(t, readCSV(t, flat), 1+6*l1events.Iterations2D)

	res = runCLI(t, "export", "-db", dbPath, "-id", id, "-stats")
	require.Equal(t, exitOK, res.code, res.stderr)
	records, err := csv.NewReader(strings.NewReader(res.stdout)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)

	assert.Equal(t, exitError, runCLI(t, "export", "-db", dbPath, "-id", "missing").code)
	assert.Equal(t, exitUsage, runCLI(t, "export", "-db", dbPath).code)
}

func TestImport_NaNPositions(t *testing.T) {
	dir := t.TempDir()
	events := testutil.Events(fixtureTIDs, l1events.Iterations2D, 5)
	for i := range events {
		for k := range events[i].Iterations {
			events[i].Iterations[k].Loc[2] = math.NaN()
		}
	}
	for k := range events[0].Iterations {
		events[0].Iterations[k].Loc[0] = math.NaN()
	}
	ds, err := l1events.NewDataset(events)
	require.NoError(t, err)
	path := testutil.WriteNPY(t, dir, "nan.npy", ds)
	dbPath := filepath.Join(dir, "minflux.db")

	res := runCLI(t, "import", "-db", dbPath, path)
	require.Equal(t, exitOK, res.code, res.stderr)
	id := strings.TrimSpace(res.stdout)

	res = runCLI(t, "export", "-db", dbPath, "-id", id, "-stats")
	require.Equal(t, exitOK, res.code, res.stderr)
	records, err := csv.NewReader(strings.NewReader(res.stdout)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records[1:] {
		assert.Equal(t, "NaN", rec[4], "mz of trace %s", rec[0])
		mx, err := strconv.ParseFloat(rec[2], 64)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(mx), "mx of trace %s", rec[0])
	}

	// a second import finds the first one complete
	res = runCLI(t, "import", "-db", dbPath, path)
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "already imported as "+id)
}

func TestMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "minflux.db")

	res := runCLI(t, "migrate", "-db", dbPath, "up")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Current version: 2 (latest 2)")

	res = runCLI(t, "migrate", "-db", dbPath, "down")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Current version: 1")

	assert.Equal(t, exitUsage, runCLI(t, "migrate", "-db", dbPath).code)
	assert.Equal(t, exitError, runCLI(t, "migrate", "-db", dbPath, "sideways").code)
}
