// Package gamestore archives simulator results in a local SQLite database.
package gamestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/babylon/engine/internal/apperr"
	"github.com/babylon/engine/internal/game"
)

// ErrNotFound is returned by Get for an unknown game ID.
var ErrNotFound = fmt.Errorf("game: %w", apperr.ErrNotFound)

// Summary is the listing row for an archived game.
type Summary struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Outcome   bool      `json:"outcome"`
	Agents    int       `json:"agents"`
	Winners   int       `json:"winners"`
	Events    int       `json:"events"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// SQLiteStore stores one row per game with the full result as JSON.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets readers proceed while a batch of games is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("game archive opened", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS games (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		outcome INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		agents INTEGER NOT NULL,
		winners INTEGER NOT NULL,
		events INTEGER NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME NOT NULL,
		result TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_games_start ON games(start_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save archives a result. Saving the same game twice replaces it.
func (s *SQLiteStore) Save(ctx context.Context, r *game.GameResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO games (id, question, outcome, seed, agents, winners, events, start_time, end_time, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Question, r.Outcome, r.Seed, len(r.Agents), len(r.Winners), len(r.Events),
		r.StartTime.UTC(), r.EndTime.UTC(), string(data),
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", r.ID, err)
	}
	return nil
}

// Get loads a full result by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*game.GameResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM games WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game %s: %w", id, err)
	}

	var r game.GameResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &r, nil
}

// List returns the most recent games first. limit <= 0 returns all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	q := `SELECT id, question, outcome, agents, winners, events, start_time, end_time
		FROM games ORDER BY start_time DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var g Summary
		if err := rows.Scan(&g.ID, &g.Question, &g.Outcome, &g.Agents, &g.Winners, &g.Events, &g.StartTime, &g.EndTime); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
