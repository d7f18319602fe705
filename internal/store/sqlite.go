package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/rahul/toolflow/internal/history"
	"github.com/rahul/toolflow/internal/resolver"
)

type SQLiteStore struct {
	DB *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT,
			toolkit TEXT,
			payload TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS toolkit_mappings (
			search_term TEXT PRIMARY KEY,
			payload TEXT
		);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStore{DB: db}, nil
}

func (s *SQLiteStore) AddMessage(ctx context.Context, chatID, role, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := s.DB.ExecContext(ctx, query, chatID, role, content)
	return err
}

func (s *SQLiteStore) GetHistory(ctx context.Context, chatID string, limit int) ([]Message, error) {
	query := `SELECT role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.Timestamp = parseTimestamp(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SaveExecutions replaces the stored snapshot.
func (s *SQLiteStore) SaveExecutions(ctx context.Context, records []history.Record) error {
	return s.replace(ctx, `DELETE FROM executions`, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO executions (entity_id, toolkit, payload) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range records {
			payload, err := json.Marshal(r.Execution)
			if err != nil {
				return fmt.Errorf("encode execution: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, r.Execution.EntityID, r.Toolkit, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadExecutions returns records in the order they were saved.
func (s *SQLiteStore) LoadExecutions(ctx context.Context) ([]history.Record, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT toolkit, payload FROM executions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		var toolkit, payload string
		if err := rows.Scan(&toolkit, &payload); err != nil {
			return nil, err
		}
		rec := history.Record{Toolkit: toolkit}
		if err := json.Unmarshal([]byte(payload), &rec.Execution); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) SaveMappings(ctx context.Context, mappings []resolver.Mapping) error {
	return s.replace(ctx, `DELETE FROM toolkit_mappings`, func(tx *sql.Tx) error {
		for _, m := range mappings {
			payload, err := json.Marshal(m)
			if err != nil {
				return fmt.Errorf("encode mapping: %w", err)
			}
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO toolkit_mappings (search_term, payload) VALUES (?, ?)`, m.SearchTerm, string(payload))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LoadMappings(ctx context.Context) ([]resolver.Mapping, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT payload FROM toolkit_mappings ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []resolver.Mapping
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var m resolver.Mapping
		if err := json.Unmarshal([]byte(payload), &m); err != nil {
			return nil, fmt.Errorf("decode mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) replace(ctx context.Context, reset string, fill func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, reset); err != nil {
		tx.Rollback()
		return err
	}
	if err := fill(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *SQLiteStore) Close() error {
	return s.DB.Close()
}
