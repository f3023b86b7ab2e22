// Package db persists pipeline runs and their per-gene / per-set result
// tables in a sqlite database, and can serve gene-set reference data stored
// the same way.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yumyai/metadiff/pkg/enrich"
	"github.com/yumyai/metadiff/pkg/table"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	reference  TEXT NOT NULL,
	config     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS gene_fits (
	run_id     TEXT NOT NULL,
	comparison TEXT NOT NULL,
	gene_id    TEXT NOT NULL,
	beta       REAL NOT NULL,
	std_err    REAL NOT NULL,
	t          REAL NOT NULL,
	p          REAL NOT NULL,
	resid_df   REAL NOT NULL,
	total_df   REAL NOT NULL,
	PRIMARY KEY (run_id, comparison, gene_id)
);
CREATE TABLE IF NOT EXISTS qvalues (
	run_id     TEXT NOT NULL,
	comparison TEXT NOT NULL,
	gene_id    TEXT NOT NULL,
	p          REAL NOT NULL,
	q          REAL NOT NULL,
	pi0        REAL NOT NULL,
	PRIMARY KEY (run_id, comparison, gene_id)
);
CREATE TABLE IF NOT EXISTS enrichment (
	run_id      TEXT NOT NULL,
	comparison  TEXT NOT NULL,
	set_id      TEXT NOT NULL,
	description TEXT NOT NULL,
	hits_in_set INTEGER NOT NULL,
	set_size    INTEGER NOT NULL,
	p           REAL NOT NULL,
	adj_p       REAL NOT NULL,
	PRIMARY KEY (run_id, comparison, set_id)
);
CREATE TABLE IF NOT EXISTS gene_sets (
	gene_id TEXT NOT NULL,
	set_id  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS set_descriptions (
	set_id      TEXT PRIMARY KEY,
	description TEXT NOT NULL
);
`

// ResultDB wraps the sqlite connection holding run results.
type ResultDB struct {
	sql *sql.DB
}

// Open connects to (or creates) the result database and ensures the schema
// exists.
func Open(path string) (*ResultDB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open result db %s: %w", path, err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create result schema: %w", err)
	}
	return &ResultDB{sql: conn}, nil
}

func (d *ResultDB) Close() error { return d.sql.Close() }

// CreateRun records a new pipeline run with its config snapshot.
func (d *ResultDB) CreateRun(ctx context.Context, runID, reference, configYAML string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO runs (run_id, created_at, reference, config) VALUES (?, ?, ?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339), reference, configYAML)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// FitRow is one persisted (gene, comparison) statistic.
type FitRow struct {
	Gene    string
	Beta    float64
	StdErr  float64
	T       float64
	P       float64
	ResidDF float64
	TotalDF float64
}

// SaveFits bulk-inserts the moderated fit rows for one comparison.
func (d *ResultDB) SaveFits(ctx context.Context, runID, comparison string, rows []FitRow) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fits tx: %w", err)
	}
	stm, err := tx.PrepareContext(ctx,
		`INSERT INTO gene_fits (run_id, comparison, gene_id, beta, std_err, t, p, resid_df, total_df)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare fits insert: %w", err)
	}
	defer stm.Close()
	for _, r := range rows {
		if _, err := stm.ExecContext(ctx, runID, comparison, r.Gene, r.Beta, r.StdErr, r.T, r.P, r.ResidDF, r.TotalDF); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert fit for gene %q: %w", r.Gene, err)
		}
	}
	return tx.Commit()
}

// QRow is one persisted (gene, comparison) q-value.
type QRow struct {
	Gene string
	P    float64
	Q    float64
}

// SaveQValues bulk-inserts the q-value table for one comparison group.
func (d *ResultDB) SaveQValues(ctx context.Context, runID, comparison string, pi0 float64, rows []QRow) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin qvalues tx: %w", err)
	}
	stm, err := tx.PrepareContext(ctx,
		`INSERT INTO qvalues (run_id, comparison, gene_id, p, q, pi0) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare qvalues insert: %w", err)
	}
	defer stm.Close()
	for _, r := range rows {
		if _, err := stm.ExecContext(ctx, runID, comparison, r.Gene, r.P, r.Q, pi0); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert qvalue for gene %q: %w", r.Gene, err)
		}
	}
	return tx.Commit()
}

// SaveEnrichment bulk-inserts the per-set results for one comparison.
func (d *ResultDB) SaveEnrichment(ctx context.Context, runID, comparison string, rows []enrich.SetResult) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrichment tx: %w", err)
	}
	stm, err := tx.PrepareContext(ctx,
		`INSERT INTO enrichment (run_id, comparison, set_id, description, hits_in_set, set_size, p, adj_p)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare enrichment insert: %w", err)
	}
	defer stm.Close()
	for _, r := range rows {
		if _, err := stm.ExecContext(ctx, runID, comparison, r.SetID, r.Description, r.HitsInSet, r.SetSize, r.P, r.AdjP); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert enrichment for set %q: %w", r.SetID, err)
		}
	}
	return tx.Commit()
}

// LoadGeneSets reads gene-set membership and descriptions when the
// reference data lives in sqlite rather than TSV.
func (d *ResultDB) LoadGeneSets(ctx context.Context) (*table.GeneSets, error) {
	gs := table.NewGeneSets()

	rows, err := d.sql.QueryContext(ctx, `SELECT gene_id, set_id FROM gene_sets`)
	if err != nil {
		return nil, fmt.Errorf("query gene_sets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var gene, set string
		if err := rows.Scan(&gene, &set); err != nil {
			return nil, fmt.Errorf("scan gene_sets row: %w", err)
		}
		gs.Add(gene, set)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	drows, err := d.sql.QueryContext(ctx, `SELECT set_id, description FROM set_descriptions`)
	if err != nil {
		return nil, fmt.Errorf("query set_descriptions: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var set, desc string
		if err := drows.Scan(&set, &desc); err != nil {
			return nil, fmt.Errorf("scan set_descriptions row: %w", err)
		}
		gs.Desc[set] = desc
	}
	return gs, drows.Err()
}
