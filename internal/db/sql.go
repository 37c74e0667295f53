package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/oob-signer/internal/config"
	"github.com/jmoiron/sqlx"
)

var ErrEmptyDSN = errors.New("empty DSN")

// Opts tunes a database/sql pool. Zero values keep the driver defaults.
type Opts struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func OptsFrom(c config.DatabaseConfig) Opts {
	return Opts{
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PingTimeout:     c.PingTimeout,
	}
}

// NewMySQL opens the audit store. DSN example:
// user:pass@tcp(127.0.0.1:3306)/oobsign?parseTime=true&multiStatements=true
func NewMySQL(dsn string, opts Opts) (*sqlx.DB, error) {
	return open("mysql", dsn, opts, 5*time.Second)
}

// NewClickHouse opens the reporting store. DSN example:
// clickhouse://default:@localhost:9000/oobsign?dial_timeout=5s&compress=true
func NewClickHouse(dsn string, opts Opts) (*sqlx.DB, error) {
	return open("clickhouse", dsn, opts, 3*time.Second)
}

func open(driver, dsn string, opts Opts, defaultPing time.Duration) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s: %w", driver, ErrEmptyDSN)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	opts.apply(db)

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPing
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", driver, err)
	}
	return db, nil
}

func (o Opts) apply(db *sqlx.DB) {
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.MaxIdleConns > 0 {
		db.SetMaxIdleConns(o.MaxIdleConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if o.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(o.ConnMaxIdleTime)
	}
}
