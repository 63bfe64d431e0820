package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// TxQuerier is the pgx surface a voucher-pool repository needs to run a
// statement: either a raw *pgxpool.Pool (reads, and writes outside a
// transaction) or a pgx.Tx (every mutating pool operation, since issue,
// import, and export each run as exactly one transaction).
type TxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// redactedHost returns host:port/dbname from a Postgres DSN, dropping any
// credentials, for safe inclusion in logs.
func redactedHost(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "unparseable-dsn"
	}
	return u.Host + u.Path
}

// NewPool opens the pgxpool shared by every pool's repositories, retrying
// with exponential backoff (1s, 2s, 4s, 8s, 16s, ... for maxRetries
// attempts) since the API process and the database are started
// independently by docker-compose and the database may not be accepting
// connections yet on the first attempt.
func NewPool(ctx context.Context, dsn string, maxRetries int) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool
	var err error
	target := redactedHost(dsn)

	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		pool, err = pgxpool.New(ctx, dsn)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				log.Info().Str("target", target).Msg("voucher pool database connection established")
				return pool, nil
			} else {
				pool.Close()
				err = fmt.Errorf("ping failed: %w", pingErr)
			}
		}

		backoff := time.Duration(1<<attempt) * time.Second
		log.Warn().
			Err(err).
			Str("target", target).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Dur("next_retry_in", backoff).
			Msg("voucher pool database connection failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("failed to connect to %s after %d attempts: %w", target, attempts, err)
}
