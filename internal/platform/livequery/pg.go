package livequery

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSource opens LISTEN connections from a pool. The connection is hijacked
// so it never returns to the pool in LISTEN mode.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource creates a source backed by pool.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// Listen acquires a connection and issues LISTEN on channel.
func (s *PGSource) Listen(ctx context.Context, channel string) (Listener, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	conn := pc.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return &pgListener{conn: conn}, nil
}

type pgListener struct {
	conn *pgx.Conn
}

func (l *pgListener) WaitForNotification(ctx context.Context) (string, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Payload, nil
}

func (l *pgListener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}
