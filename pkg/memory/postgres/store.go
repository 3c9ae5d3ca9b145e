package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/embeddings"
)

var (
	_ memory.SessionStore   = (*Store)(nil)
	_ memory.LongTermMemory = (*Archive)(nil)
)

// Option tunes the connection pool before it is opened.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Values below one keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// Store keeps conversation records. It also owns the pool that [Archive]
// queries, so closing the Store stops both.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// Open connects to dsn and migrates the schema for vectors of dims
// dimensions.
func Open(ctx context.Context, dsn string, dims int, opts ...Option) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pcfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	for _, o := range opts {
		o(pcfg)
	}

	// The vector type has to exist before AfterConnect can register it.
	if err := createExtension(ctx, pcfg.ConnConfig); err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := setup(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, dims: dims}, nil
}

func createExtension(ctx context.Context, cc *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cc.Copy())
	if err != nil {
		return fmt.Errorf("postgres: connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres: create extension: %w", err)
	}
	return nil
}

func setup(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Archive returns the long-term memory layer on the same pool. The embedder
// must produce vectors of the size the schema was migrated for.
func (s *Store) Archive(summariser memory.Summariser, embedder embeddings.Provider) (*Archive, error) {
	if got := embedder.Dimensions(); got != s.dims {
		return nil, fmt.Errorf("postgres: embedder yields %d-dimensional vectors, schema holds %d", got, s.dims)
	}
	return &Archive{pool: s.pool, summariser: summariser, embedder: embedder}, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }
