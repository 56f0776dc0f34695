// Package database owns the pgx pool backing the device-token
// registry. Chat data lives in the document store; only token storage
// goes through Postgres.
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Token lookups are small and bursty (one per push enqueue), so the
// pool stays modest.
const (
	poolMaxConns        = 8
	poolMinConns        = 2
	poolMaxConnLifetime = time.Hour
	poolMaxConnIdleTime = 30 * time.Minute
)

var DB *pgxpool.Pool

func ConnectDB(dbUrl string) error {
	config, err := pgxpool.ParseConfig(dbUrl)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = poolMaxConns
	config.MinConns = poolMinConns
	config.MaxConnLifetime = poolMaxConnLifetime
	config.MaxConnIdleTime = poolMaxConnIdleTime

	DB, err = pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}

	if err := DB.Ping(context.Background()); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	log.Println("Connected to the device-token database")
	return nil
}

func CloseDB() {
	if DB != nil {
		DB.Close()
	}
}
