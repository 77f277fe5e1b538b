// Package storage provides a SQLite-backed cache of fetched video
// transcripts so repeat harvests skip the network.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/IsaacLehman/youtube-ai-chat/chat"
)

// ErrNotFound is returned when a record is missing or stale.
var ErrNotFound = errors.New("not found")

// CachedTranscript is a stored transcript with its metadata.
type CachedTranscript struct {
	VideoID   string
	Title     string
	Segments  []chat.TranscriptSegment
	FetchedAt time.Time
}

// DB wraps the SQLite database connection and provides cache operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		video_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		segments TEXT NOT NULL,
		fetched_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_fetched_at ON transcripts(fetched_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// GetTranscript returns a cached transcript no older than maxAge.
func (db *DB) GetTranscript(ctx context.Context, videoID string, maxAge time.Duration) (*CachedTranscript, error) {
	query := `
	SELECT video_id, title, segments, fetched_at
	FROM transcripts WHERE video_id = ?
	`

	cached := &CachedTranscript{}
	var segmentsJSON string

	err := db.conn.QueryRowContext(ctx, query, videoID).Scan(
		&cached.VideoID,
		&cached.Title,
		&segmentsJSON,
		&cached.FetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if time.Since(cached.FetchedAt) > maxAge {
		return nil, ErrNotFound
	}

	if err := json.Unmarshal([]byte(segmentsJSON), &cached.Segments); err != nil {
		return nil, fmt.Errorf("unmarshal segments: %w", err)
	}

	return cached, nil
}

// PutTranscript inserts or updates a cached transcript.
func (db *DB) PutTranscript(ctx context.Context, videoID, title string, segments []chat.TranscriptSegment) error {
	segmentsJSON, err := json.Marshal(segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}

	query := `
	INSERT INTO transcripts (video_id, title, segments, fetched_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(video_id) DO UPDATE SET
		title = excluded.title,
		segments = excluded.segments,
		fetched_at = excluded.fetched_at
	`

	_, err = db.conn.ExecContext(ctx, query, videoID, title, string(segmentsJSON), time.Now())
	return err
}

// PruneOlderThan deletes cache entries staler than maxAge and reports how
// many were removed.
func (db *DB) PruneOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res, err := db.conn.ExecContext(ctx, `DELETE FROM transcripts WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
