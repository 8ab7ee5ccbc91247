// Package journal keeps an in-process, queryable log of everything broadcast
// to viewers. It lives in an in-memory SQLite database and is lost on exit.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	_ "modernc.org/sqlite"
)

// Entry is one journaled viewer event.
type Entry struct {
	ID          int64     `json:"id"`
	RecordingID string    `json:"recording_id,omitempty"`
	Type        string    `json:"type"`
	Text        string    `json:"text,omitempty"`
	IsRecording *bool     `json:"is_recording,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Journal is a no-op when journal.mode is off.
type Journal struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Journal, error) {
	j := &Journal{cfg: cfg, log: log.With(slog.String("component", "journal")), clock: time.Now}
	if cfg.Mode != "memory" {
		return j, nil
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	j.db = db
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    recording_id TEXT PRIMARY KEY,
    first_seen INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recording_id TEXT,
    event_type TEXT NOT NULL,
    text TEXT,
    is_recording INTEGER,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_recording ON events(recording_id, id);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (j *Journal) Enabled() bool { return j.db != nil }

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records e and prunes the journal to journal.max_events.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if j.db == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.clock().UTC()
	}
	var isRecording sql.NullBool
	if e.IsRecording != nil {
		isRecording = sql.NullBool{Bool: *e.IsRecording, Valid: true}
	}
	if e.RecordingID != "" {
		if _, err := j.db.ExecContext(ctx,
			`INSERT INTO recordings(recording_id, first_seen) VALUES(?, ?) ON CONFLICT(recording_id) DO NOTHING`,
			e.RecordingID, e.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("append recording: %w", err)
		}
	}
	if _, err := j.db.ExecContext(ctx,
		`INSERT INTO events(recording_id, event_type, text, is_recording, created_at) VALUES(?, ?, ?, ?, ?)`,
		e.RecordingID, e.Type, e.Text, isRecording, e.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return j.prune(ctx)
}

func (j *Journal) prune(ctx context.Context) error {
	if j.cfg.MaxEvents <= 0 {
		return nil
	}
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM events WHERE id IN (SELECT id FROM events ORDER BY id DESC LIMIT -1 OFFSET ?)`,
		j.cfg.MaxEvents)
	if err != nil {
		return fmt.Errorf("prune journal: %w", err)
	}
	return nil
}

// List returns up to limit of the most recent entries in ascending order,
// filtered to recordingID when it is non-empty.
func (j *Journal) List(ctx context.Context, recordingID string, limit int) ([]Entry, error) {
	if j.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, recording_id, event_type, text, is_recording, created_at FROM (
		SELECT * FROM events WHERE (? = '' OR recording_id = ?) ORDER BY id DESC LIMIT ?
	) ORDER BY id ASC`
	rows, err := j.db.QueryContext(ctx, query, recordingID, recordingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var recID, text sql.NullString
		var isRecording sql.NullBool
		var created int64
		if err := rows.Scan(&e.ID, &recID, &e.Type, &text, &isRecording, &created); err != nil {
			return nil, err
		}
		e.RecordingID = recID.String
		e.Text = text.String
		if isRecording.Valid {
			v := isRecording.Bool
			e.IsRecording = &v
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Recordings lists every recording ID seen, oldest first.
func (j *Journal) Recordings(ctx context.Context) ([]string, error) {
	if j.db == nil {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx, `SELECT recording_id FROM recordings ORDER BY first_seen ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Sink returns a broadcast observer that journals each event under the
// recording ID reported by recordingID at the time of the event.
func (j *Journal) Sink(recordingID func() string) func(protocol.Event) {
	return func(evt protocol.Event) {
		if j.db == nil {
			return
		}
		e := Entry{Type: string(evt.Type), Text: evt.TextValue(), IsRecording: evt.IsRecording}
		if recordingID != nil {
			e.RecordingID = recordingID()
		}
		if err := j.Append(context.Background(), e); err != nil {
			j.log.Warn("failed to journal event", slog.String("error", err.Error()))
		}
	}
}
