package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/minflux/internal/minflux/l2flat"
	"github.com/banshee-data/minflux/internal/minflux/l5traces"
	"github.com/banshee-data/minflux/internal/timeutil"
)

// ErrDatasetNotFound is returned when no dataset matches a lookup.
var ErrDatasetNotFound = errors.New("dataset not found")

// Dataset describes an imported acquisition.
type Dataset struct {
	DatasetID   string `json:"dataset_id"`
	SourcePath  string `json:"source_path"`
	Fingerprint string `json:"fingerprint"`
	Iterations  int    `json:"iterations"`
	Is3D        bool   `json:"is_3d"`
	Aggregated  bool   `json:"is_aggregated"`
	NumEvents   int    `json:"num_events"`
	NumValid    int    `json:"num_valid"`
	CreatedAt   int64  `json:"created_unix_nanos"`
}

// DatasetStore persists datasets and their flattened columns.
type DatasetStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewDatasetStore creates a new DatasetStore.
func NewDatasetStore(db *sql.DB) *DatasetStore {
	return &DatasetStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for import timestamps and retry backoff.
func (s *DatasetStore) SetClock(c timeutil.Clock) { s.clock = c }

const datasetColumns = `dataset_id, source_path, fingerprint, iterations, is_3d,
	is_aggregated, num_events, num_valid, created_unix_nanos`

// InsertDataset stores ds, the columns of table and the trace statistics
// in one transaction and returns the dataset ID. Nothing is written when
// any part fails. Empty DatasetID and CreatedAt are filled in.
func (s *DatasetStore) InsertDataset(ctx context.Context, ds *Dataset, table *l2flat.Table, stats []l5traces.Stats) (string, error) {
	if ds.DatasetID == "" {
		ds.DatasetID = uuid.NewString()
	}
	if ds.CreatedAt == 0 {
		ds.CreatedAt = s.clock.Now().UnixNano()
	}

	type encoded struct {
		name, kind string
		rows       int
		data       []byte
	}
	cols := make([]encoded, 0, len(l2flat.ColumnNames))
	for _, c := range table.Columns() {
		kind, data := encodeColumn(c)
		cols = append(cols, encoded{name: c.Name, kind: kind, rows: c.Len(), data: data})
	}

	err := retryOnBusy(s.clock, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO minflux_datasets (`+datasetColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ds.DatasetID, ds.SourcePath, ds.Fingerprint, ds.Iterations, ds.Is3D,
			ds.Aggregated, ds.NumEvents, ds.NumValid, ds.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert dataset: %w", err)
		}

		for _, c := range cols {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO minflux_columns (dataset_id, name, kind, row_count, data)
				VALUES (?, ?, ?, ?, ?)`,
				ds.DatasetID, c.name, c.kind, c.rows, c.data,
			); err != nil {
				return fmt.Errorf("insert column %s: %w", c.name, err)
			}
		}
		if err := insertTraceStats(ctx, tx, ds.DatasetID, stats); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return ds.DatasetID, nil
}

// GetDataset returns a single dataset by ID.
func (s *DatasetStore) GetDataset(ctx context.Context, datasetID string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+datasetColumns+`
		FROM minflux_datasets
		WHERE dataset_id = ?`, datasetID)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}
	return ds, err
}

// FindByFingerprint returns the most recently imported dataset with the
// given fingerprint.
func (s *DatasetStore) FindByFingerprint(ctx context.Context, fingerprint string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+datasetColumns+`
		FROM minflux_datasets
		WHERE fingerprint = ?
		ORDER BY created_unix_nanos DESC
		LIMIT 1`, fingerprint)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fingerprint %s", ErrDatasetNotFound, fingerprint)
	}
	return ds, err
}

// ListDatasets returns all datasets, newest first.
func (s *DatasetStore) ListDatasets(ctx context.Context) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+datasetColumns+`
		FROM minflux_datasets
		ORDER BY created_unix_nanos DESC`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var out []*Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// LoadTable decodes the stored columns of a dataset.
func (s *DatasetStore) LoadTable(ctx context.Context, datasetID string) (*l2flat.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, kind, row_count, data
		FROM minflux_columns
		WHERE dataset_id = ?`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var cols []l2flat.Column
	for rows.Next() {
		var (
			name, kind string
			n          int
			data       []byte
		)
		if err := rows.Scan(&name, &kind, &n, &data); err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		c, err := decodeColumn(name, kind, n, data)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}
	return l2flat.FromColumns(cols)
}

// DeleteDataset removes a dataset with its columns and trace statistics.
func (s *DatasetStore) DeleteDataset(ctx context.Context, datasetID string) error {
	return retryOnBusy(s.clock, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM minflux_datasets WHERE dataset_id = ?`, datasetID)
		if err != nil {
			return fmt.Errorf("delete dataset: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
		}
		return nil
	})
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDataset(r rowScanner) (*Dataset, error) {
	var ds Dataset
	err := r.Scan(
		&ds.DatasetID, &ds.SourcePath, &ds.Fingerprint, &ds.Iterations, &ds.Is3D,
		&ds.Aggregated, &ds.NumEvents, &ds.NumValid, &ds.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dataset: %w", err)
	}
	return &ds, nil
}
