package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/minflux/internal/minflux/analysis"
	"github.com/banshee-data/minflux/internal/minflux/l1events"
	"github.com/banshee-data/minflux/internal/minflux/l2flat"
	"github.com/banshee-data/minflux/internal/minflux/l3locs"
	"github.com/banshee-data/minflux/internal/minflux/l5traces"
)

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriteFlatCSV(t *testing.T) {
	its := make([]l1events.Iteration, 5)
	for k := range its {
		its[k] = l1events.Iteration{Loc: [3]float64{1.5e-9, 0, 0}, EFO: 1000 * float64(k), CFR: 0.5, DCR: 0.25}
	}
	table := l2flat.Flatten([]l1events.Event{{TID: 42, VLD: true, TIM: 0.125, Iterations: its}}, false)

	var buf bytes.Buffer
	require.NoError(t, WriteFlatCSV(&buf, table))

	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 6)
	assert.Equal(t, l2flat.ColumnNames, records[0])
	assert.Equal(t, []string{"42", "0", "true", "0.125", "1.5e-09", "0", "0", "4000", "0.5", "0.25"}, records[5])
}

func TestWriteFlatCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFlatCSV(&buf, l2flat.Flatten(nil, true)))
	assert.Equal(t, "tid,aid,vld,tim,x,y,z,efo,cfr,dcr\n", buf.String())
}

func TestWriteLocalizationsCSV(t *testing.T) {
	l := &l3locs.Localizations{
		TID: []int32{1, 2}, TIM: []float64{0.5, 1}, X: []float64{10, 20}, Y: []float64{-1, -2},
		Z: []float64{0, 0}, EFO: []float64{50000, 60000}, CFR: []float64{0.1, 0.2},
		ECO: []int32{100, 200}, DCR: []float64{0.4, 0.6}, Dwell: []float64{2, 3}, Fluo: []int8{1, 2},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLocalizationsCSV(&buf, l, nil))
	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 3)
	assert.Equal(t, l3locs.Properties(), records[0])
	assert.Equal(t, []string{"1", "0.5", "10", "-1", "0", "50000", "0.1", "100", "0.4", "2", "1"}, records[1])

	buf.Reset()
	require.NoError(t, WriteLocalizationsCSV(&buf, l, []int{1}))
	records = readCSV(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, "2", records[1][0])
}

func TestWriteTraceStatsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTraceStatsCSV(&buf, []l5traces.Stats{
		{TID: 3, N: 4, MX: 1, MY: 2, MZ: 3, SX: 0.5, SY: 0.25, SZ: 0, Fluo: 2},
	}))
	records := readCSV(t, buf.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, TraceStatsHeader, records[0])
	assert.Equal(t, []string{"3", "4", "1", "2", "3", "0.5", "0.25", "0", "2"}, records[1])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteErrorsPropagate(t *testing.T) {
	assert.Error(t, WriteFlatCSV(failingWriter{}, l2flat.Flatten(nil, false)))
	assert.Error(t, WriteTraceStatsCSV(failingWriter{}, nil))
}

func TestWriteDriftCSV(t *testing.T) {
	d := &analysis.Drift{Time: []float64{0, 60}, TX: []float64{-1.5, 1.5}, TY: []float64{0.25, -0.25}}
	var buf bytes.Buffer
	require.NoError(t, WriteDriftCSV(&buf, d))
	assert.Equal(t, [][]string{{"time", "dx", "dy"}, {"0", "-1.5", "0.25"}, {"60", "1.5", "-0.25"}}, readCSV(t, buf.Bytes()))

	d.TZ = []float64{2, -2}
	buf.Reset()
	require.NoError(t, WriteDriftCSV(&buf, d))
	records := readCSV(t, buf.Bytes())
	assert.Equal(t, []string{"time", "dx", "dy", "dz"}, records[0])
	assert.Equal(t, []string{"60", "1.5", "-0.25", "-2"}, records[2])
}

func TestWriteFRCCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFRCCSV(&buf, analysis.FRCCurve{Q: []float64{0, 500000}, C: []float64{1, 0.5}}))
	assert.Equal(t, [][]string{{"q", "frc"}, {"0", "1"}, {"500000", "0.5"}}, readCSV(t, buf.Bytes()))
}
