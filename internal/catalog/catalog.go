package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"codecbridge.dev/internal/audio"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
)

// Probe is the stream metadata of one file at one size and modification time
type Probe struct {
	Path            string
	Size            int64
	ModTime         time.Time
	Format          string
	SampleRate      int
	Channels        int
	LengthInSamples int64
	ProbedAt        time.Time
}

// Duration returns the stream length as a wall-clock duration
func (p Probe) Duration() time.Duration {
	if p.SampleRate <= 0 {
		return 0
	}
	return time.Duration(p.LengthInSamples) * time.Second / time.Duration(p.SampleRate)
}

// Session is one completed decode session
type Session struct {
	ID         string
	Path       string
	Format     string
	StartedAt  time.Time
	FinishedAt time.Time
	Stats      audio.SessionStats
	Error      string
}

// Catalog is the probe and session store
type Catalog struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the catalog database at dbPath. Pass InMemory for a
// throwaway catalog.
func Open(dbPath string) (*Catalog, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		slog.Error("failed to open catalog", "path", dbPath, "error", err)
		return nil, err
	}

	slog.Info("catalog opened", "path", dbPath)
	return &Catalog{db: db, path: dbPath, now: time.Now}, nil
}

// Path returns the database location
func (c *Catalog) Path() string {
	return c.path
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// RecordProbe stores p, replacing any earlier probe of the same path
func (c *Catalog) RecordProbe(ctx context.Context, p Probe) error {
	if p.ProbedAt.IsZero() {
		p.ProbedAt = c.now()
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO probes (path, size, mod_time, format, sample_rate, channels, length_in_samples, probed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    size = excluded.size,
    mod_time = excluded.mod_time,
    format = excluded.format,
    sample_rate = excluded.sample_rate,
    channels = excluded.channels,
    length_in_samples = excluded.length_in_samples,
    probed_at = excluded.probed_at`,
		p.Path, p.Size, p.ModTime.UnixNano(), p.Format, p.SampleRate, p.Channels, p.LengthInSamples, p.ProbedAt.UnixNano())
	if err != nil {
		slog.Error("failed to record probe", "path", p.Path, "error", err)
		return fmt.Errorf("failed to record probe: %w", err)
	}

	slog.Debug("probe recorded",
		"path", p.Path,
		"format", p.Format,
		"sample_rate", p.SampleRate,
		"length_in_samples", p.LengthInSamples)
	return nil
}

// LookupProbe returns the stored probe for path when the file still has the
// given size and modification time. A stale or missing entry reports false.
func (c *Catalog) LookupProbe(ctx context.Context, path string, size int64, modTime time.Time) (Probe, bool, error) {
	var (
		p        Probe
		modNanos int64
		probedAt int64
	)
	err := c.db.QueryRowContext(ctx, `
SELECT path, size, mod_time, format, sample_rate, channels, length_in_samples, probed_at
FROM probes WHERE path = ?`, path).
		Scan(&p.Path, &p.Size, &modNanos, &p.Format, &p.SampleRate, &p.Channels, &p.LengthInSamples, &probedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("probe cache miss", "path", path)
		return Probe{}, false, nil
	}
	if err != nil {
		return Probe{}, false, fmt.Errorf("failed to look up probe: %w", err)
	}

	if p.Size != size || modNanos != modTime.UnixNano() {
		slog.Debug("probe cache stale",
			"path", path,
			"cached_size", p.Size,
			"current_size", size)
		return Probe{}, false, nil
	}

	p.ModTime = time.Unix(0, modNanos)
	p.ProbedAt = time.Unix(0, probedAt)
	slog.Debug("probe cache hit", "path", path)
	return p, true, nil
}

// RecordSession stores s and returns its id, assigning a new one when s.ID
// is empty
func (c *Catalog) RecordSession(ctx context.Context, s Session) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.FinishedAt.IsZero() {
		s.FinishedAt = c.now()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = s.FinishedAt
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO sessions (id, path, format, started_at, finished_at, seeks, chunks_decoded, chunks_released, empty_chunks, samples_read, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Path, s.Format, s.StartedAt.UnixNano(), s.FinishedAt.UnixNano(),
		s.Stats.Seeks, s.Stats.ChunksDecoded, s.Stats.ChunksReleased, s.Stats.EmptyChunks, s.Stats.SamplesRead,
		s.Error)
	if err != nil {
		slog.Error("failed to record session", "path", s.Path, "error", err)
		return "", fmt.Errorf("failed to record session: %w", err)
	}

	slog.Debug("session recorded",
		"id", s.ID,
		"path", s.Path,
		"seeks", s.Stats.Seeks,
		"samples_read", s.Stats.SamplesRead)
	return s.ID, nil
}

// RecentSessions returns the sessions matching filter, newest first
func (c *Catalog) RecentSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	query, args := filter.buildQuery(c.now())

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s                 Session
			started, finished int64
		)
		if err := rows.Scan(&s.ID, &s.Path, &s.Format, &started, &finished,
			&s.Stats.Seeks, &s.Stats.ChunksDecoded, &s.Stats.ChunksReleased, &s.Stats.EmptyChunks, &s.Stats.SamplesRead,
			&s.Error); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.StartedAt = time.Unix(0, started)
		s.FinishedAt = time.Unix(0, finished)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	slog.Debug("sessions loaded", "count", len(sessions))
	return sessions, nil
}

var sessionColumns = []string{
	"id", "path", "format", "started_at", "finished_at",
	"seeks", "chunks_decoded", "chunks_released", "empty_chunks", "samples_read",
	"error",
}

// buildQuery renders the filtered session select
func (f SessionFilter) buildQuery(now time.Time) (string, []interface{}) {
	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select(sessionColumns...).From("sessions")

	if f.hasTimeFilter() {
		start, end := f.TimeRange(now)
		if !start.IsZero() {
			sb.Where(sb.GreaterEqualThan("started_at", start.UnixNano()))
		}
		sb.Where(sb.LessEqualThan("started_at", end.UnixNano()))
	}
	if f.Path != "" {
		sb.Where(sb.Equal("path", f.Path))
	}

	sb.OrderBy("started_at").Desc()
	sb.Limit(f.limit())

	query, args := sb.Build()
	slog.Debug("built session query", "query", query, "arg_count", len(args))
	return query, args
}
