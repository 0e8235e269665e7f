// Package history records executed queries in the SQLite metastore so
// operators can audit what the gateway actually ran.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded request, terminal state included.
type Entry struct {
	ID         string    `json:"id"`
	Principal  string    `json:"principal,omitempty"`
	Question   string    `json:"question,omitempty"`
	PlanJSON   string    `json:"plan_json,omitempty"`
	Status     string    `json:"status"`
	CacheHit   bool      `json:"cache_hit"`
	RowCount   int       `json:"row_count"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Repo reads and writes query history. Writes go to the write pool, reads to
// the read pool.
type Repo struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewRepo creates a history repository over the given pools.
func NewRepo(writeDB, readDB *sql.DB) *Repo {
	return &Repo{writeDB: writeDB, readDB: readDB}
}

// Record inserts one entry. A missing ID gets a fresh UUID.
func (r *Repo) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cacheHit := 0
	if e.CacheHit {
		cacheHit = 1
	}
	_, err := r.writeDB.ExecContext(ctx, `
		INSERT INTO query_history (id, principal, question, plan_json, status, cache_hit, row_count, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Principal, e.Question, e.PlanJSON, e.Status, cacheHit, e.RowCount, e.DurationMs, e.Error,
	)
	return err
}

// List returns the most recent entries, newest first.
func (r *Repo) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := r.readDB.QueryContext(ctx, `
		SELECT id, principal, question, plan_json, status, cache_hit, row_count, duration_ms, error, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var entries []Entry
	for rows.Next() {
		var e Entry
		var cacheHit int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Principal, &e.Question, &e.PlanJSON, &e.Status,
			&cacheHit, &e.RowCount, &e.DurationMs, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.CacheHit = cacheHit != 0
		if t, err := time.Parse("2006-01-02 15:04:05.000", createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
