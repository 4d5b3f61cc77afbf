package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voicekit-labs/speakerd/internal/config"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a speaker id has no registry row.
var ErrNotFound = errors.New("speaker not found")

// Speaker is a registry row.
type Speaker struct {
	ID        string
	Name      string
	Samples   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recognition is one identify/verify decision in the log.
type Recognition struct {
	ID        int64
	SessionID string
	SpeakerID string
	Score     float64
	Matched   bool
	Kind      string // identify or verify
	CreatedAt time.Time
}

// Store keeps speaker metadata and the recognition log in SQLite and
// embedding artifacts as files under the embeddings directory.
type Store struct {
	db    *sql.DB
	cfg   config.RegistryConfig
	emb   config.EmbeddingsConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the registry database and the embeddings directory.
func Open(ctx context.Context, cfg config.RegistryConfig, emb config.EmbeddingsConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(emb.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create embeddings dir: %w", err)
	}
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, emb: emb, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("registry vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("recognition log prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS speakers (
    speaker_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    samples INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS recognitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    speaker_id TEXT,
    score REAL NOT NULL,
    matched INTEGER NOT NULL,
    kind TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recognitions_created ON recognitions(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutSpeaker inserts or updates a registry row.
func (s *Store) PutSpeaker(ctx context.Context, sp Speaker) error {
	now := s.clock().UTC()
	if sp.CreatedAt.IsZero() {
		sp.CreatedAt = now
	}
	sp.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speakers(speaker_id, name, samples, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(speaker_id) DO UPDATE SET
		   name=excluded.name, samples=excluded.samples, updated_at=excluded.updated_at`,
		sp.ID, sp.Name, sp.Samples, sp.CreatedAt, sp.UpdatedAt)
	return err
}

// GetSpeaker returns one registry row.
func (s *Store) GetSpeaker(ctx context.Context, id string) (Speaker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT speaker_id, name, samples, created_at, updated_at FROM speakers WHERE speaker_id = ?`, id)
	sp, err := scanSpeaker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Speaker{}, ErrNotFound
	}
	return sp, err
}

// ListSpeakers returns the roster ordered by name.
func (s *Store) ListSpeakers(ctx context.Context) ([]Speaker, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker_id, name, samples, created_at, updated_at FROM speakers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var speakers []Speaker
	for rows.Next() {
		sp, err := scanSpeaker(rows)
		if err != nil {
			return nil, err
		}
		speakers = append(speakers, sp)
	}
	return speakers, rows.Err()
}

// DeleteSpeaker removes the registry row and the embedding artifact.
func (s *Store) DeleteSpeaker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speakers WHERE speaker_id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	if err := s.DeleteEmbedding(id); err != nil {
		s.log.Warn("failed to remove embedding file",
			slog.String("speaker_id", id), slog.String("error", err.Error()))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSpeaker(row rowScanner) (Speaker, error) {
	var sp Speaker
	var created, updated string
	if err := row.Scan(&sp.ID, &sp.Name, &sp.Samples, &created, &updated); err != nil {
		return Speaker{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		sp.CreatedAt = ts
	}
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		sp.UpdatedAt = ts
	}
	return sp, nil
}

// AppendRecognition writes one decision into the log.
func (s *Store) AppendRecognition(ctx context.Context, rec Recognition) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recognitions(session_id, speaker_id, score, matched, kind, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.SpeakerID, rec.Score, rec.Matched, rec.Kind, rec.CreatedAt)
	return err
}

// ListRecognitions returns up to limit decisions, newest first.
func (s *Store) ListRecognitions(ctx context.Context, limit int) ([]Recognition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, speaker_id, score, matched, kind, created_at
		 FROM recognitions ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Recognition
	for rows.Next() {
		var r Recognition
		var created string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.SpeakerID, &r.Score, &r.Matched, &r.Kind, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Prune applies retention to the recognition log.
func (s *Store) Prune(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM recognitions WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRecognitions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM recognitions WHERE id IN (
			SELECT id FROM recognitions ORDER BY created_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRecognitions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
