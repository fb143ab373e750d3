// Package postgres provides the PostgreSQL-backed history.Store.
//
// Entries live in a single history_entries table. When an embeddings
// provider is supplied, chat entries are embedded on append into a pgvector
// column and List with a semantic query performs a cosine nearest-neighbour
// search; without one the store degrades to purely chronological reads.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/perivale/sonara/internal/history"
	"github.com/perivale/sonara/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ history.Store = (*Store)(nil)

// Store is the PostgreSQL interaction log. All methods are safe for
// concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
	window   time.Duration
	logger   *slog.Logger
}

// Option is a functional option for Store.
type Option func(*Store)

// WithEmbedder enables semantic recall: chat entries are embedded on append
// and List can order by similarity to a query.
func WithEmbedder(e embeddings.Provider) Option {
	return func(s *Store) {
		s.embedder = e
	}
}

// WithDedupWindow overrides the dedup window. Zero disables dedup.
func WithDedupWindow(d time.Duration) Option {
	return func(s *Store) {
		s.window = d
	}
}

// WithLogger sets the logger for non-fatal append warnings.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// ddl returns the schema DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time;
// changing the embedding model after the first migration requires a manual
// schema update.
func ddl(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS history_entries (
    id          TEXT         PRIMARY KEY,
    kind        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    response    TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_history_created_at
    ON history_entries (created_at DESC);

CREATE INDEX IF NOT EXISTS idx_history_embedding
    ON history_entries USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// New connects to the database at dsn, registers pgvector types on every
// connection, and ensures the schema exists. embeddingDimensions must match
// the configured embedding model; pass a sensible value (e.g., 1536) even
// when no embedder is attached, since the column type requires one.
func New(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl(embeddingDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: migrate: %w", err)
	}

	s := &Store{
		pool:   pool,
		window: history.DefaultDedupWindow,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, entry history.Entry) (history.Entry, error) {
	now := time.Now()

	if s.window > 0 {
		refreshed, ok, err := s.refreshRecent(ctx, entry, now)
		if err != nil {
			return history.Entry{}, err
		}
		if ok {
			return refreshed, nil
		}
	}

	if entry.ID == "" {
		id, err := history.NewID(now)
		if err != nil {
			return history.Entry{}, err
		}
		entry.ID = id
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	var vec *pgvector.Vector
	if s.embedder != nil && entry.Kind == history.KindChat {
		emb, err := s.embedder.Embed(ctx, entry.Text+"\n"+entry.Response)
		if err != nil {
			// Recall is supplementary; the entry is still recorded.
			s.logger.Warn("history embed failed, storing without vector", "error", err)
		} else {
			v := pgvector.NewVector(emb)
			vec = &v
		}
	}

	const q = `
		INSERT INTO history_entries (id, kind, text, response, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q, entry.ID, string(entry.Kind), entry.Text, entry.Response, vec, entry.CreatedAt); err != nil {
		return history.Entry{}, fmt.Errorf("history postgres: append: %w", err)
	}
	return entry, nil
}

// refreshRecent checks whether entry repeats the latest stored row inside the
// dedup window; if so it refreshes that row's timestamp and reports true.
func (s *Store) refreshRecent(ctx context.Context, entry history.Entry, now time.Time) (history.Entry, bool, error) {
	const q = `
		SELECT id, kind, text, response, created_at
		FROM   history_entries
		ORDER  BY created_at DESC
		LIMIT  1`

	var last history.Entry
	var kind string
	err := s.pool.QueryRow(ctx, q).Scan(&last.ID, &kind, &last.Text, &last.Response, &last.CreatedAt)
	if err == pgx.ErrNoRows {
		return history.Entry{}, false, nil
	}
	if err != nil {
		return history.Entry{}, false, fmt.Errorf("history postgres: read latest: %w", err)
	}
	last.Kind = history.Kind(kind)

	if !sameContent(last, entry) || now.Sub(last.CreatedAt) > s.window {
		return history.Entry{}, false, nil
	}

	if _, err := s.pool.Exec(ctx, `UPDATE history_entries SET created_at = $1 WHERE id = $2`, now, last.ID); err != nil {
		return history.Entry{}, false, fmt.Errorf("history postgres: refresh: %w", err)
	}
	last.CreatedAt = now
	return last, true, nil
}

func sameContent(a, b history.Entry) bool {
	norm := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	return a.Kind == b.Kind && norm(a.Text) == norm(b.Text) && norm(a.Response) == norm(b.Response)
}

// List implements history.Store.
func (s *Store) List(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	if filter.Query != "" && s.embedder != nil {
		return s.listSemantic(ctx, filter)
	}
	return s.listChronological(ctx, filter)
}

func (s *Store) listChronological(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	args := []any{}
	q := "SELECT id, kind, text, response, created_at FROM history_entries"
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		q += fmt.Sprintf(" WHERE kind = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: list: %w", err)
	}
	return collectEntries(rows)
}

func (s *Store) listSemantic(ctx context.Context, filter history.Filter) ([]history.Entry, error) {
	emb, err := s.embedder.Embed(ctx, filter.Query)
	if err != nil {
		return nil, fmt.Errorf("history postgres: embed query: %w", err)
	}

	args := []any{pgvector.NewVector(emb)}
	conditions := []string{"embedding IS NOT NULL"}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT id, kind, text, response, created_at
		FROM   history_entries
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  $%d`, strings.Join(conditions, " AND "), len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: semantic list: %w", err)
	}
	return collectEntries(rows)
}

// collectEntries scans pgx rows into a slice of Entry values.
func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e    history.Entry
			kind string
		)
		if err := row.Scan(&e.ID, &kind, &e.Text, &e.Response, &e.CreatedAt); err != nil {
			return history.Entry{}, err
		}
		e.Kind = history.Kind(kind)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	return entries, nil
}

// Clear implements history.Store.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM history_entries`); err != nil {
		return fmt.Errorf("history postgres: clear: %w", err)
	}
	return nil
}

// Ping implements history.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history postgres: ping: %w", err)
	}
	return nil
}
