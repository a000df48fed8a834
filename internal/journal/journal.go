// Package journal persists received push messages and error details in a
// small sqlite database so they survive restarts and can be listed newest
// first.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Message is one received message, from either the transport or the direct
// path.
type Message struct {
	ID         string    `json:"id"`
	Channel    string    `json:"channel"`
	JSON       string    `json:"json"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
}

// ErrorDetail is a user-visible error record.
type ErrorDetail struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal wraps the sqlite handle.
type Journal struct {
	conn *sql.DB
	max  int
}

// Open opens (creating if necessary) the journal at path. An empty path
// keeps everything in memory. Each table is trimmed to max rows on insert.
func Open(path string, max int) (*Journal, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection: sqlite serializes writers anyway, and ":memory:" is
	// per-connection.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if max < 1 {
		max = 1
	}
	j := &Journal{conn: conn, max: max}
	if err := j.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		channel TEXT NOT NULL,
		json TEXT NOT NULL,
		source TEXT NOT NULL,
		received_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS errors (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	_, err := j.conn.Exec(schema)
	return err
}

// Close releases the database.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// AppendMessage stores a received message and returns it with its id and
// timestamp filled in.
func (j *Journal) AppendMessage(ctx context.Context, channel, body, source string) (Message, error) {
	m := Message{
		ID:         uuid.NewString(),
		Channel:    channel,
		JSON:       body,
		Source:     source,
		ReceivedAt: time.Now().UTC(),
	}
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO messages (id, channel, json, source, received_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Channel, m.JSON, m.Source, m.ReceivedAt.UnixNano())
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := j.trim(ctx, "messages"); err != nil {
		return m, err
	}
	return m, nil
}

// AppendError stores an error detail.
func (j *Journal) AppendError(ctx context.Context, message string) (ErrorDetail, error) {
	e := ErrorDetail{
		ID:        uuid.NewString(),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO errors (id, message, created_at) VALUES (?, ?, ?)`,
		e.ID, e.Message, e.CreatedAt.UnixNano())
	if err != nil {
		return ErrorDetail{}, fmt.Errorf("insert error detail: %w", err)
	}
	if err := j.trim(ctx, "errors"); err != nil {
		return e, err
	}
	return e, nil
}

func (j *Journal) trim(ctx context.Context, table string) error {
	q := `DELETE FROM ` + table + ` WHERE seq NOT IN (SELECT seq FROM ` + table + ` ORDER BY seq DESC LIMIT ?)`
	if _, err := j.conn.ExecContext(ctx, q, j.max); err != nil {
		return fmt.Errorf("trim %s: %w", table, err)
	}
	return nil
}

// Messages lists stored messages newest first. limit <= 0 returns all.
func (j *Journal) Messages(ctx context.Context, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = j.max
	}
	rows, err := j.conn.QueryContext(ctx,
		`SELECT id, channel, json, source, received_at FROM messages ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.Channel, &m.JSON, &m.Source, &ts); err != nil {
			return nil, err
		}
		m.ReceivedAt = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Errors lists stored error details newest first. limit <= 0 returns all.
func (j *Journal) Errors(ctx context.Context, limit int) ([]ErrorDetail, error) {
	if limit <= 0 {
		limit = j.max
	}
	rows, err := j.conn.QueryContext(ctx,
		`SELECT id, message, created_at FROM errors ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	out := []ErrorDetail{}
	for rows.Next() {
		var e ErrorDetail
		var ts int64
		if err := rows.Scan(&e.ID, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
