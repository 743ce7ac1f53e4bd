// Package history persists compact summaries of completed assessments in
// an embedded sqlite database. Writes happen after the response is sent,
// so a failing store never affects an assessment.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/repopulse/repopulse/internal/types"
)

const (
	dbFileName   = "repopulse.db"
	defaultLimit = 20
	maxLimit     = 100
)

// Entry is one persisted assessment summary
type Entry struct {
	ID               string               `json:"id"`
	Owner            string               `json:"owner"`
	Repo             string               `json:"repo"`
	Overall          float64              `json:"overall"`
	ConfidenceLabel  string               `json:"confidenceLabel"`
	Limitations      int                  `json:"limitations"`
	Scores           types.ScoreBreakdown `json:"scores"`
	ProcessingTimeMs int64                `json:"processingTimeMs"`
	GeneratedAt      time.Time            `json:"generatedAt"`
}

// Store wraps the sqlite handle and the statements the API needs
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	recent *sql.Stmt
}

// Open creates the data directory if needed, opens the database in WAL
// mode and runs migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFileName)
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.prepare(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Assessment history store opened", "path", dbPath)
	return store, nil
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS assessments (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			overall REAL NOT NULL,
			confidence_label TEXT NOT NULL,
			limitations INTEGER NOT NULL,
			scores TEXT NOT NULL,
			processing_time_ms INTEGER NOT NULL,
			generated_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_assessments_generated_at ON assessments(generated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_assessments_repository ON assessments(owner, repo)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}

	return nil
}

func (s *Store) prepare() error {
	insert, err := s.db.Prepare(`INSERT INTO assessments (
		id, owner, repo, overall, confidence_label, limitations,
		scores, processing_time_ms, generated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert statement: %w", err)
	}

	recent, err := s.db.Prepare(`SELECT id, owner, repo, overall, confidence_label,
		limitations, scores, processing_time_ms, generated_at
		FROM assessments ORDER BY generated_at DESC, id LIMIT ?`)
	if err != nil {
		insert.Close()
		return fmt.Errorf("prepare recent statement: %w", err)
	}

	s.insert = insert
	s.recent = recent
	return nil
}

// Save persists the summary of one report. Errors are returned for the
// caller to count and log, never to fail the request that produced them.
func (s *Store) Save(ctx context.Context, rep *types.AssessmentReport) error {
	scores, err := json.Marshal(rep.Scores)
	if err != nil {
		return fmt.Errorf("encode score breakdown: %w", err)
	}

	_, err = s.insert.ExecContext(ctx,
		rep.ID,
		rep.Request.Owner,
		rep.Request.Repo,
		rep.Scores.Overall,
		string(rep.Scores.ConfidenceLabel),
		len(rep.Limitations),
		string(scores),
		rep.ProcessingTimeMs,
		rep.GeneratedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert assessment %s: %w", rep.ID, err)
	}

	return nil
}

// Recent returns the latest assessment summaries, newest first. The limit
// is clamped to [1, 100]; zero and negative values get the default page.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.recent.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent assessments: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var scores string
		if err := rows.Scan(&e.ID, &e.Owner, &e.Repo, &e.Overall, &e.ConfidenceLabel,
			&e.Limitations, &scores, &e.ProcessingTimeMs, &e.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan assessment row: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &e.Scores); err != nil {
			slog.Warn("Skipping unreadable score breakdown", "id", e.ID, "error", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessment rows: %w", err)
	}

	return entries, nil
}

// Stats returns connection pool statistics for the metrics endpoint
func (s *Store) Stats() map[string]interface{} {
	stats := s.db.Stats()
	return map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}
}

// Close releases the prepared statements and the database handle
func (s *Store) Close() error {
	if s.insert != nil {
		if err := s.insert.Close(); err != nil {
			slog.Warn("Failed to close insert statement", "error", err)
		}
	}
	if s.recent != nil {
		if err := s.recent.Close(); err != nil {
			slog.Warn("Failed to close recent statement", "error", err)
		}
	}
	return s.db.Close()
}
