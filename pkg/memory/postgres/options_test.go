package postgres

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestWithMaxConns(t *testing.T) {
	t.Parallel()

	cfg, err := pgxpool.ParseConfig("postgres://parley@localhost:5432/parley")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	def := cfg.MaxConns

	WithMaxConns(0)(cfg)
	if cfg.MaxConns != def {
		t.Errorf("MaxConns = %d after WithMaxConns(0), want default %d", cfg.MaxConns, def)
	}
	WithMaxConns(3)(cfg)
	if cfg.MaxConns != 3 {
		t.Errorf("MaxConns = %d, want 3", cfg.MaxConns)
	}
}
