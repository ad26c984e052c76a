package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx. The verification queue lives here.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection pool sized per config. Non-positive
// sizes fall back to small defaults suitable for a single instance.
func NewDB(connString string, maxOpen, maxIdle int) (*DB, error) {
	if maxOpen <= 0 {
		maxOpen = 10
	}
	if maxIdle <= 0 || maxIdle > maxOpen {
		maxIdle = maxOpen / 2
	}
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
