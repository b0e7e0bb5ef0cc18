package liveevents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresBridge relays events through LISTEN/NOTIFY so no extra broker is needed.
type PostgresBridge struct {
	pool    *pgxpool.Pool
	channel string
	log     *zap.Logger
}

func NewPostgresBridge(ctx context.Context, dsn, channel string, log *zap.Logger) (*PostgresBridge, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect live bridge: %w", err)
	}
	return &PostgresBridge{pool: pool, channel: channel, log: log.Named("liveevents.postgres")}, nil
}

func (p *PostgresBridge) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, "SELECT pg_notify($1, $2)", p.channel, string(payload))
	return err
}

func (p *PostgresBridge) Run(ctx context.Context, deliver func(Event)) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var event Event
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			p.log.Warn("dropping malformed event", zap.Error(err))
			continue
		}
		deliver(event)
	}
}

func (p *PostgresBridge) Close() error {
	p.pool.Close()
	return nil
}
