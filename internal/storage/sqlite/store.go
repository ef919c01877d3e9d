package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/skystack/internal/fit"
	"github.com/banshee-data/skystack/internal/monitoring"
	"github.com/banshee-data/skystack/internal/skymap"
)

// DatasetRecord is one row of the datasets table without the blob payload.
type DatasetRecord struct {
	ID        string
	Name      string
	BlobBytes int
	CreatedAt time.Time
}

// SaveDataset stores a snapshot of the dataset, replacing any previous
// snapshot with the same dataset ID. The blob checksum is stored alongside
// and verified on load.
func (db *DB) SaveDataset(d *skymap.Dataset) error {
	blob, sum, err := d.MarshalSnapshot()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO datasets (id, name, snapshot, checksum) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, snapshot = excluded.snapshot, checksum = excluded.checksum`,
		d.ID.String(), d.Name, blob, strconv.FormatUint(sum, 16),
	)
	if err != nil {
		return fmt.Errorf("save dataset %s: %w", d.Name, err)
	}
	monitoring.Tagf("storage", "saved dataset %s (%s, %d bytes)", d.Name, d.ID, len(blob))
	return nil
}

// LoadDataset restores the named dataset from its stored snapshot. With
// several snapshots under the same name the most recent wins.
func (db *DB) LoadDataset(name string) (*skymap.Dataset, error) {
	var blob []byte
	var sumHex string
	err := db.QueryRow(
		`SELECT snapshot, checksum FROM datasets WHERE name = ? ORDER BY created_at DESC LIMIT 1`,
		name,
	).Scan(&blob, &sumHex)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no stored dataset named %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", name, err)
	}
	sum, err := strconv.ParseUint(sumHex, 16, 64)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: bad checksum %q: %w", name, sumHex, err)
	}
	return skymap.UnmarshalSnapshot(blob, sum)
}

// ListDatasets returns the stored datasets, most recent first.
func (db *DB) ListDatasets() ([]DatasetRecord, error) {
	rows, err := db.Query(`SELECT id, name, length(snapshot), created_at FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DatasetRecord
	for rows.Next() {
		var r DatasetRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.BlobBytes, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// fitResultRow is the JSON shape persisted for one fitted parameter.
type fitResultRow struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Err   float64 `json:"err"`
	Unit  string  `json:"unit"`
}

// SaveFitResult stores the outcome of a fit against the dataset it ran on.
// Parameter rows are stored as JSON; the statistic, backend and evaluation
// count are queryable columns.
func (db *DB) SaveFitResult(datasetID string, res *fit.Result) error {
	rows := make([]fitResultRow, len(res.Names))
	for i, name := range res.Names {
		rows[i] = fitResultRow{Name: name, Value: res.Values[i], Unit: res.Units[i]}
		if res.Errors != nil {
			rows[i].Err = res.Errors[i]
		}
	}
	params, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode fit result: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO fit_results (dataset_id, backend, stat, n_eval, params) VALUES (?, ?, ?, ?, ?)`,
		datasetID, res.Backend, res.Stat, res.NEval, string(params),
	)
	if err != nil {
		return fmt.Errorf("save fit result: %w", err)
	}
	return nil
}

// FitResult is one stored fit outcome.
type FitResult struct {
	DatasetID string
	Backend   string
	Stat      float64
	NEval     int
	Params    map[string]float64
	CreatedAt time.Time
}

// FitResults returns the stored fits for a dataset, most recent first.
func (db *DB) FitResults(datasetID string) ([]FitResult, error) {
	rows, err := db.Query(
		`SELECT dataset_id, backend, stat, n_eval, params, created_at
		 FROM fit_results WHERE dataset_id = ? ORDER BY created_at DESC`,
		datasetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FitResult
	for rows.Next() {
		var r FitResult
		var params string
		if err := rows.Scan(&r.DatasetID, &r.Backend, &r.Stat, &r.NEval, &params, &r.CreatedAt); err != nil {
			return nil, err
		}
		var decoded []fitResultRow
		if err := json.Unmarshal([]byte(params), &decoded); err != nil {
			return nil, fmt.Errorf("decode fit result params: %w", err)
		}
		r.Params = make(map[string]float64, len(decoded))
		for _, p := range decoded {
			r.Params[p.Name] = p.Value
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
