package agent

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bracket-qos/pkg/model"
)

// Journal is a durable history of reconciliation outcomes.
type Journal struct {
	db *sql.DB
}

// OpenJournal opens or creates the sqlite journal at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal mkdir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS applies(ts INTEGER, tree_hash TEXT, limits_hash TEXT, outcome TEXT, detail TEXT); CREATE INDEX IF NOT EXISTS idx_applies_ts ON applies(ts);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one outcome. A nil journal discards it.
func (j *Journal) Record(ctx context.Context, rec model.ApplyRecord) error {
	if j == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := j.db.ExecContext(ctx, `INSERT INTO applies(ts, tree_hash, limits_hash, outcome, detail) VALUES(?,?,?,?,?)`,
		rec.Time.UnixMilli(), rec.TreeHash, rec.LimitsHash, rec.Outcome, rec.Detail)
	return err
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]model.ApplyRecord, error) {
	if j == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	rows, err := j.db.QueryContext(ctx, `SELECT ts, tree_hash, limits_hash, outcome, detail FROM applies ORDER BY ts DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ApplyRecord
	for rows.Next() {
		var (
			ts  int64
			rec model.ApplyRecord
		)
		if err := rows.Scan(&ts, &rec.TreeHash, &rec.LimitsHash, &rec.Outcome, &rec.Detail); err != nil {
			return nil, err
		}
		rec.Time = time.UnixMilli(ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LastApplied returns the newest record whose outcome put state on the host.
func (j *Journal) LastApplied(ctx context.Context) (model.ApplyRecord, bool, error) {
	if j == nil {
		return model.ApplyRecord{}, false, nil
	}
	var (
		ts  int64
		rec model.ApplyRecord
	)
	err := j.db.QueryRowContext(ctx, `SELECT ts, tree_hash, limits_hash, outcome, detail FROM applies WHERE outcome IN (?, ?) ORDER BY ts DESC, rowid DESC LIMIT 1`,
		model.OutcomeApplied, model.OutcomeFallback).Scan(&ts, &rec.TreeHash, &rec.LimitsHash, &rec.Outcome, &rec.Detail)
	if err == sql.ErrNoRows {
		return model.ApplyRecord{}, false, nil
	}
	if err != nil {
		return model.ApplyRecord{}, false, err
	}
	rec.Time = time.UnixMilli(ts).UTC()
	return rec, true, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
