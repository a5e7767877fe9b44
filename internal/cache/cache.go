package cache

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"lukechampine.com/blake3"

	"github.com/skypro1111/lipsync-service/internal/timeline"
)

const schema = `
PRAGMA busy_timeout       = 10000;
PRAGMA journal_mode       = WAL;
PRAGMA journal_size_limit = 200000000;
PRAGMA synchronous        = NORMAL;
PRAGMA temp_store         = MEMORY;
PRAGMA cache_size         = -16000;

create table if not exists timelines (
	cache_key  text primary key,
	audio_hash text not null,
	cue_count  integer not null,
	duration   real not null,
	cues       text not null,
	created_at integer not null
);
`

// KeyParams are the settings that change the timeline computed for the same audio
type KeyParams struct {
	MaxChunkSeconds float64
	CoalesceEpsilon float64
	SkipSilence     bool
	Namespace       string // analyzer fingerprint: backend, recognizer, arguments, sample rate
}

// Key derives the cache key for raw audio processed with the given parameters
func Key(raw []byte, p KeyParams) string {
	h := blake3.New(32, nil)
	h.Write(raw)
	for _, part := range []string{
		strconv.FormatFloat(p.MaxChunkSeconds, 'g', -1, 64),
		strconv.FormatFloat(p.CoalesceEpsilon, 'g', -1, 64),
		strconv.FormatBool(p.SkipSilence),
		p.Namespace,
	} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AudioHash returns the hex BLAKE3 digest of raw audio
func AudioHash(raw []byte) string {
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Store is a SQLite-backed timeline cache
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the cache database at path
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path cannot be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	// WAL allows concurrent readers but a single writer
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}

	logger.Info("Timeline cache opened", "path", path)

	return &Store{db: db, logger: logger}, nil
}

// Get returns the cached timeline for key; ok is false on a miss
func (s *Store) Get(ctx context.Context, key string) (timeline.Timeline, bool, error) {
	var payload string
	err := s.db.
		QueryRowContext(ctx, "select cues from timelines where cache_key = $1", key).
		Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get timeline by key: %w", err)
	}

	tl := timeline.Timeline{}
	if err := json.Unmarshal([]byte(payload), &tl); err != nil {
		return nil, false, fmt.Errorf("decoding cached timeline: %w", err)
	}

	return tl, true, nil
}

// Put stores tl under key, replacing any previous entry
func (s *Store) Put(ctx context.Context, key, audioHash string, tl timeline.Timeline) error {
	if tl == nil {
		tl = timeline.Timeline{}
	}

	payload, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("encoding timeline: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`insert into timelines (cache_key, audio_hash, cue_count, duration, cues, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (cache_key) do update set
			cue_count = excluded.cue_count,
			duration = excluded.duration,
			cues = excluded.cues,
			created_at = excluded.created_at`,
		key,
		audioHash,
		len(tl),
		tl.End(),
		string(payload),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("persisting timeline into sqlite: %w", err)
	}

	return nil
}

// Count returns the number of cached timelines
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "select count(*) from timelines").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting cached timelines: %w", err)
	}
	return n, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
