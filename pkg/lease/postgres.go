package lease

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Postgres hands out session-scoped advisory locks. Each lease pins its own
// connection because the lock belongs to the session that took it. The TTL is
// ignored: the lock goes away with the connection.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))

	return int64(h.Sum64())
}

func (p *Postgres) TryAcquire(ctx context.Context, key string, _ time.Duration) (Lease, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection for lease %s: %w", key, err)
	}

	id := advisoryKey(key)

	var acquired bool

	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&acquired)
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	if !acquired {
		_ = conn.Close()

		return nil, ErrNotAcquired
	}

	return &postgresLease{conn: conn, key: key, id: id}, nil
}

type postgresLease struct {
	conn *sql.Conn
	key  string
	id   int64
	once sync.Once
	err  error
}

func (l *postgresLease) Key() string { return l.key }

func (l *postgresLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
		closeErr := l.conn.Close()

		switch {
		case err != nil:
			l.err = fmt.Errorf("failed to release lease %s: %w", l.key, err)
		case closeErr != nil:
			l.err = fmt.Errorf("failed to close lease connection %s: %w", l.key, closeErr)
		}
	})

	return l.err
}
