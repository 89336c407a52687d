// Package export writes MINFLUX tables as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/banshee-data/minflux/internal/minflux/analysis"
	"github.com/banshee-data/minflux/internal/minflux/l2flat"
	"github.com/banshee-data/minflux/internal/minflux/l3locs"
	"github.com/banshee-data/minflux/internal/minflux/l5traces"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

// WriteFlatCSV writes the flattened table with one line per row.
func WriteFlatCSV(w io.Writer, t *l2flat.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(l2flat.ColumnNames); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(l2flat.ColumnNames))
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		record[0] = formatInt(int64(r.TID))
		record[1] = formatInt(int64(r.AID))
		record[2] = strconv.FormatBool(r.VLD)
		record[3] = formatFloat(r.TIM)
		record[4] = formatFloat(r.X)
		record[5] = formatFloat(r.Y)
		record[6] = formatFloat(r.Z)
		record[7] = formatFloat(r.EFO)
		record[8] = formatFloat(r.CFR)
		record[9] = formatFloat(r.DCR)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteLocalizationsCSV writes the given rows of the processed table. A nil
// rows slice writes every row.
func WriteLocalizationsCSV(w io.Writer, l *l3locs.Localizations, rows []int) error {
	if rows == nil {
		rows = make([]int, l.Len())
		for i := range rows {
			rows[i] = i
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(l3locs.Properties()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(l3locs.Properties()))
	for _, i := range rows {
		record[0] = formatInt(int64(l.TID[i]))
		record[1] = formatFloat(l.TIM[i])
		record[2] = formatFloat(l.X[i])
		record[3] = formatFloat(l.Y[i])
		record[4] = formatFloat(l.Z[i])
		record[5] = formatFloat(l.EFO[i])
		record[6] = formatFloat(l.CFR[i])
		record[7] = formatInt(int64(l.ECO[i]))
		record[8] = formatFloat(l.DCR[i])
		record[9] = formatFloat(l.Dwell[i])
		record[10] = formatInt(int64(l.Fluo[i]))
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// TraceStatsHeader is the header row of WriteTraceStatsCSV.
var TraceStatsHeader = []string{"tid", "n", "mx", "my", "mz", "sx", "sy", "sz", "fluo"}

// WriteTraceStatsCSV writes one line per trace.
func WriteTraceStatsCSV(w io.Writer, stats []l5traces.Stats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TraceStatsHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range stats {
		record := []string{
			formatInt(int64(s.TID)),
			formatInt(int64(s.N)),
			formatFloat(s.MX),
			formatFloat(s.MY),
			formatFloat(s.MZ),
			formatFloat(s.SX),
			formatFloat(s.SY),
			formatFloat(s.SZ),
			formatInt(int64(s.Fluo)),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write trace %d: %w", s.TID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDriftCSV writes the sampled drift trajectory: time in s and the
// drift per axis. The dz column is written only for 3D estimates.
func WriteDriftCSV(w io.Writer, d *analysis.Drift) error {
	header := []string{"time", "dx", "dy"}
	if d.TZ != nil {
		header = append(header, "dz")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(header))
	for i, t := range d.Time {
		record[0] = formatFloat(t)
		record[1] = formatFloat(d.TX[i])
		record[2] = formatFloat(d.TY[i])
		if d.TZ != nil {
			record[3] = formatFloat(d.TZ[i])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write sample %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFRCCSV writes the correlation curve with frequencies in 1/m.
func WriteFRCCSV(w io.Writer, c analysis.FRCCurve) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"q", "frc"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range c.Q {
		if err := cw.Write([]string{formatFloat(c.Q[i]), formatFloat(c.C[i])}); err != nil {
			return fmt.Errorf("write ring %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
