package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hushlabs/hush-core/internal/config"
)

// Entry is one saved dictation: the transcript plus a pointer to the
// recorded audio on disk.
type Entry struct {
	ID          string
	BindingID   string
	Text        string
	PostText    string
	ModelID     string
	DurationSec float64
	WavPath     string
	CreatedAt   time.Time
}

// Store persists dictation history in SQLite with recordings saved as WAV
// files alongside.
type Store struct {
	db    *sql.DB
	cfg   config.HistoryConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the history store. Returns (nil, nil) when history is
// disabled so callers can treat the store as optional.
func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	for _, dir := range []string{filepath.Dir(cfg.Path), cfg.RecordingsDir} {
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
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

	s := &Store{db: db, cfg: cfg, log: log.With(slog.String("component", "history")), clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		s.log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS dictations (
    id TEXT PRIMARY KEY,
    binding_id TEXT,
    text TEXT NOT NULL,
    post_text TEXT,
    model_id TEXT,
    duration_sec REAL,
    wav_path TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dictations_created ON dictations(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes one dictation and its recording. samples may be empty, in
// which case no WAV file is written.
func (s *Store) Save(ctx context.Context, entry Entry, samples []float32, sampleRate int) (Entry, error) {
	if s == nil || s.db == nil {
		return entry, nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock().UTC()
	}

	if len(samples) > 0 {
		entry.WavPath = filepath.Join(s.cfg.RecordingsDir, entry.ID+".wav")
		if err := writeWAV(entry.WavPath, samples, sampleRate); err != nil {
			// The transcript is still worth keeping.
			s.log.Warn("failed to write recording", slog.String("error", err.Error()))
			entry.WavPath = ""
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dictations(id, binding_id, text, post_text, model_id, duration_sec, wav_path, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.BindingID, entry.Text, entry.PostText, entry.ModelID,
		entry.DurationSec, entry.WavPath, entry.CreatedAt)
	if err != nil {
		return entry, fmt.Errorf("insert dictation: %w", err)
	}
	return entry, nil
}

// List retrieves up to limit dictations, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, binding_id, text, post_text, model_id, duration_sec, wav_path, created_at
		 FROM dictations ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.BindingID, &e.Text, &e.PostText, &e.ModelID,
			&e.DurationSec, &e.WavPath, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get retrieves one dictation by id.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	if s == nil || s.db == nil {
		return e, sql.ErrNoRows
	}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, binding_id, text, post_text, model_id, duration_sec, wav_path, created_at
		 FROM dictations WHERE id = ?`, id).
		Scan(&e.ID, &e.BindingID, &e.Text, &e.PostText, &e.ModelID, &e.DurationSec, &e.WavPath, &created)
	if err != nil {
		return e, err
	}
	if ts, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
		e.CreatedAt = ts
	}
	return e, nil
}

// Prune applies retention: entries older than retention_days and entries
// beyond max_entries are removed along with their recordings.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}

	var doomed []string
	collect := func(query string, args ...any) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var wav string
			if err := rows.Scan(&wav); err != nil {
				return err
			}
			if wav != "" {
				doomed = append(doomed, wav)
			}
		}
		return rows.Err()
	}

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if err := collect(`SELECT wav_path FROM dictations WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM dictations WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		overflow := `SELECT wav_path FROM dictations WHERE id IN (
			SELECT id FROM dictations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`
		if err := collect(overflow, s.cfg.MaxEntries); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM dictations WHERE id IN (
			SELECT id FROM dictations ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries); err != nil {
			return err
		}
	}

	for _, wav := range doomed {
		if err := os.Remove(wav); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove pruned recording",
				slog.String("path", wav),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
