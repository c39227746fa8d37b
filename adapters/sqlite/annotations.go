// Package sqlite provides the SQLite-backed annotation store. Annotations
// are operator notes pinned to a calendar date ("migrated prod batch job",
// "price change"), kept out of the event file so clearing or archiving
// events never loses them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Annotation is one dated operator note.
type Annotation struct {
	ID        int64  `json:"id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Note      string `json:"note"`
	CreatedAt int64  `json:"created_at"`
}

// DB wraps the annotations database connection.
type DB struct {
	*sql.DB
}

// Open creates the annotations database, applying the schema if needed.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS annotations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			note TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_annotations_date ON annotations(date);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{DB: db}, nil
}

// Add inserts a note for a date and returns it with its id assigned.
func (db *DB) Add(ctx context.Context, date, note string) (Annotation, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return Annotation{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if note == "" {
		return Annotation{}, fmt.Errorf("note must not be empty")
	}

	now := time.Now().Unix()
	res, err := db.ExecContext(ctx,
		"INSERT INTO annotations (date, note, created_at) VALUES (?, ?, ?)",
		date, note, now)
	if err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Annotation{}, fmt.Errorf("annotation id: %w", err)
	}
	return Annotation{ID: id, Date: date, Note: note, CreatedAt: now}, nil
}

// List returns annotations, newest date first. An empty date returns all;
// otherwise only that date's notes.
func (db *DB) List(ctx context.Context, date string) ([]Annotation, error) {
	query := "SELECT id, date, note, created_at FROM annotations ORDER BY date DESC, id DESC"
	args := []any{}
	if date != "" {
		query = "SELECT id, date, note, created_at FROM annotations WHERE date = ? ORDER BY id DESC"
		args = append(args, date)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.ID, &a.Date, &a.Note, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes a note by id. Missing ids are not an error.
func (db *DB) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM annotations WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete annotation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete annotation: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
