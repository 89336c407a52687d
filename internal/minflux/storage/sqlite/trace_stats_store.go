package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/banshee-data/minflux/internal/minflux/l5traces"
	"github.com/banshee-data/minflux/internal/timeutil"
)

// TraceStatsStore persists per-trace statistics of a dataset.
type TraceStatsStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewTraceStatsStore creates a new TraceStatsStore.
func NewTraceStatsStore(db *sql.DB) *TraceStatsStore {
	return &TraceStatsStore{db: db, clock: timeutil.RealClock{}}
}

// ReplaceTraceStats replaces all statistics of a dataset.
func (s *TraceStatsStore) ReplaceTraceStats(ctx context.Context, datasetID string, stats []l5traces.Stats) error {
	return retryOnBusy(s.clock, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM minflux_trace_stats WHERE dataset_id = ?`, datasetID); err != nil {
			return fmt.Errorf("clear trace stats: %w", err)
		}
		if err := insertTraceStats(ctx, tx, datasetID, stats); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// insertTraceStats writes stats inside tx. NaN values, e.g. the mean of a
// coordinate with no finite localization, are stored as NULL.
func insertTraceStats(ctx context.Context, tx *sql.Tx, datasetID string, stats []l5traces.Stats) error {
	if len(stats) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO minflux_trace_stats (dataset_id, tid, n, mx, my, mz, sx, sy, sz, fluo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx,
			datasetID, st.TID, st.N,
			nullFloat(st.MX), nullFloat(st.MY), nullFloat(st.MZ),
			nullFloat(st.SX), nullFloat(st.SY), nullFloat(st.SZ),
			st.Fluo,
		); err != nil {
			return fmt.Errorf("insert trace %d: %w", st.TID, err)
		}
	}
	return nil
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// ListTraceStats returns the statistics of a dataset in ascending TID order.
func (s *TraceStatsStore) ListTraceStats(ctx context.Context, datasetID string) ([]l5traces.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tid, n, mx, my, mz, sx, sy, sz, fluo
		FROM minflux_trace_stats
		WHERE dataset_id = ?
		ORDER BY tid`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query trace stats: %w", err)
	}
	defer rows.Close()

	var out []l5traces.Stats
	for rows.Next() {
		var (
			st  l5traces.Stats
			col [6]sql.NullFloat64
		)
		if err := rows.Scan(&st.TID, &st.N, &col[0], &col[1], &col[2], &col[3], &col[4], &col[5], &st.Fluo); err != nil {
			return nil, fmt.Errorf("scan trace stats row: %w", err)
		}
		st.MX, st.MY, st.MZ = floatOrNaN(col[0]), floatOrNaN(col[1]), floatOrNaN(col[2])
		st.SX, st.SY, st.SZ = floatOrNaN(col[3]), floatOrNaN(col[4]), floatOrNaN(col[5])
		out = append(out, st)
	}
	return out, rows.Err()
}
