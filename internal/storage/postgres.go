package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	logx "streambot/pkg/logx"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = 4
	pcfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	_, err = pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS grants (
			user_id  BIGINT PRIMARY KEY,
			until_ms BIGINT NOT NULL
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Put(ctx context.Context, userID int64, until time.Time) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO grants(user_id, until_ms) VALUES($1,$2)
		 ON CONFLICT(user_id) DO UPDATE SET until_ms=excluded.until_ms`,
		userID, until.UnixMilli(),
	)
	return err
}

func (s *postgresStore) Delete(ctx context.Context, userID int64) error {
	if s == nil || s.pool == nil {
		return ErrClosed
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM grants WHERE user_id = $1`, userID)
	return err
}

func (s *postgresStore) List(ctx context.Context) ([]Grant, error) {
	if s == nil || s.pool == nil {
		return nil, ErrClosed
	}
	rows, err := s.pool.Query(ctx, `SELECT user_id, until_ms FROM grants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		var id, ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out = append(out, Grant{UserID: id, Until: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}
