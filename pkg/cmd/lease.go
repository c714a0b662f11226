package cmd

import (
	"errors"
	"fmt"

	"github.com/dukex/crmflow/pkg/lease"
	"github.com/dukex/crmflow/pkg/persistence"
	"github.com/dukex/crmflow/pkg/persistence/postgresql"
	"github.com/redis/go-redis/v9"
)

var ErrLockerNeedsPostgres = errors.New("postgres locker requires a PostgreSQL store")

// NewLocker builds the lease backend. "redis" needs redisURL, "postgres" uses
// advisory locks on the store's connection pool and "local" only serializes
// work inside this process. The returned func releases backend resources.
func NewLocker(kind, redisURL string, store persistence.Persistence) (lease.Locker, func() error, error) {
	noop := func() error { return nil }

	switch kind {
	case "redis":
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}

		client := redis.NewClient(opts)

		return lease.NewRedis(client, "crmflow:lease:"), client.Close, nil
	case "postgres", "postgresql":
		pg, ok := store.(*postgresql.Persistence)
		if !ok {
			return nil, nil, ErrLockerNeedsPostgres
		}

		return lease.NewPostgres(pg.DB()), noop, nil
	case "", "local":
		return lease.NewLocal(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported locker: %s", kind)
	}
}
