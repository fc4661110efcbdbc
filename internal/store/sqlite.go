package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"pts-reporter/internal/types"
	"pts-reporter/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite records run outcomes and their enriched entries for the
// dashboard. The pipeline only writes; it never reads a previous run.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database and runs pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveRun persists one run outcome with its entries in a transaction.
func (s *SQLite) SaveRun(ctx context.Context, outcome types.RunOutcome, entries []types.EnrichedEntry) error {
	errsJSON, err := json.Marshal(outcome.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs (started_at, finished_at, succeeded, entries_reported, errors)
		 VALUES (?, ?, ?, ?, ?)`,
		outcome.StartedAt.UTC().Format(timeLayout),
		outcome.FinishedAt.UTC().Format(timeLayout),
		boolToInt(outcome.Succeeded),
		outcome.EntriesReported,
		string(errsJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for i, e := range entries {
		company, err := json.Marshal(e.Company)
		if err != nil {
			return fmt.Errorf("marshal company: %w", err)
		}
		news, err := json.Marshal(e.News)
		if err != nil {
			return fmt.Errorf("marshal news: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_entries (run_id, rank, code, name, price, change_rate, volume, market, company, news, has_chart)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i+1, e.Code, e.Name,
			e.Price.String(), e.ChangeRate.String(), e.Volume, e.Market,
			string(company), string(news), boolToInt(e.Chart != nil),
		); err != nil {
			return fmt.Errorf("insert run entry %s: %w", e.Code, err)
		}
	}

	return tx.Commit()
}

// RunRecord is a stored run outcome as served to the dashboard.
type RunRecord struct {
	ID              int64              `json:"id"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	Succeeded       bool               `json:"succeeded"`
	EntriesReported int                `json:"entries_reported"`
	Errors          []types.StageError `json:"errors"`
}

// EntryRecord is one stored ranking entry of a run.
type EntryRecord struct {
	Rank       int               `json:"rank"`
	Code       string            `json:"code"`
	Name       string            `json:"name"`
	Price      string            `json:"price"`
	ChangeRate string            `json:"change_rate"`
	Volume     int64             `json:"volume"`
	Market     string            `json:"market,omitempty"`
	Company    types.CompanyInfo `json:"company"`
	News       []types.NewsItem  `json:"news"`
	HasChart   bool              `json:"has_chart"`
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, succeeded, entries_reported, errors
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunRecord
	for rows.Next() {
		var (
			r                 RunRecord
			started, finished string
			succeeded         int
			errsJSON          string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &succeeded, &r.EntriesReported, &errsJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(timeLayout, started)
		r.FinishedAt, _ = time.Parse(timeLayout, finished)
		r.Succeeded = succeeded != 0
		if err := json.Unmarshal([]byte(errsJSON), &r.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal run errors: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunEntries returns the stored entries of one run in rank order.
func (s *SQLite) RunEntries(ctx context.Context, runID int64) ([]EntryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rank, code, name, price, change_rate, volume, market, company, news, has_chart
		 FROM run_entries WHERE run_id = ? ORDER BY rank`, runID)
	if err != nil {
		return nil, fmt.Errorf("query run entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []EntryRecord
	for rows.Next() {
		var (
			e             EntryRecord
			company, news string
			hasChart      int
		)
		if err := rows.Scan(&e.Rank, &e.Code, &e.Name, &e.Price, &e.ChangeRate,
			&e.Volume, &e.Market, &company, &news, &hasChart); err != nil {
			return nil, fmt.Errorf("scan run entry: %w", err)
		}
		if err := json.Unmarshal([]byte(company), &e.Company); err != nil {
			return nil, fmt.Errorf("unmarshal company: %w", err)
		}
		if err := json.Unmarshal([]byte(news), &e.News); err != nil {
			return nil, fmt.Errorf("unmarshal news: %w", err)
		}
		e.HasChart = hasChart != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
