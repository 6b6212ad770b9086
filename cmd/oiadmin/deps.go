package main

import (
	"context"
	"database/sql"
	"fmt"

	"comicsdb/api/internal/config"
	"comicsdb/api/internal/notify"
	"comicsdb/api/internal/oi"
	"comicsdb/api/internal/store"
)

// env is what every command needs: configuration and an open database.
type env struct {
	cfg   config.Config
	db    *sql.DB
	store *store.PostgresStore
}

// withEnv loads configuration, opens the database, runs fn and closes
// the connection.
func withEnv(ctx context.Context, fn func(e env) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.Pool("oiadmin"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()
	return fn(env{cfg: cfg, db: db, store: store.NewPostgresStore(db)})
}

// engine builds the moderation service. Notifications go to the Redis
// outbox when configured so indexers see cleanup results in their inbox.
func (e env) engine() (*oi.Service, func(), error) {
	sinks := notify.Multi{notify.Log{}}
	closeFn := func() {}
	if e.cfg.RedisURL != "" {
		queue, err := notify.NewRedisQueue(e.cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		sinks = append(sinks, queue)
		closeFn = func() { _ = queue.Close() }
	}
	return oi.New(e.store, e.cfg.OI, oi.WithNotifier(sinks)), closeFn, nil
}
