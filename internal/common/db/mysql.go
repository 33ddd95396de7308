package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	errDeadlock        = 1213
	errLockWaitTimeout = 1205
	txAttempts         = 3
)

// MySQLConfig holds the connection pool settings.
type MySQLConfig struct {
	// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
	DSN                string        `yaml:"dsn"`
	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}

func (c *MySQLConfig) setDefaults() {
	if c.MaxOpenConnections == 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections == 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
}

// sqlConn is what *sql.DB and *sql.Tx have in common.
type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier struct {
	conn sqlConn
}

func (q querier) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

func (q querier) QueryRow(ctx context.Context, query string, args ...any) Row {
	return q.conn.QueryRowContext(ctx, query, args...)
}

func (q querier) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	res, err := q.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return res, nil
}

// MySQL implements Database on database/sql with the go-sql-driver.
type MySQL struct {
	querier
	db *sql.DB
}

// NewMySQLWithConfig opens a pool and verifies it with a ping.
func NewMySQLWithConfig(config *MySQLConfig) (*MySQL, error) {
	if config == nil || config.DSN == "" {
		return nil, errors.New("mysql dsn is required")
	}
	config.setDefaults()

	pool, err := sql.Open("mysql", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	pool.SetMaxOpenConns(config.MaxOpenConnections)
	pool.SetMaxIdleConns(config.MaxIdleConnections)
	pool.SetConnMaxLifetime(config.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return NewMySQLWithDB(pool), nil
}

// NewMySQLWithDB wraps an existing pool.
func NewMySQLWithDB(pool *sql.DB) *MySQL {
	return &MySQL{querier: querier{conn: pool}, db: pool}
}

// Transaction runs fn inside a transaction and rolls back when fn fails.
// A deadlock or lock wait timeout reruns fn on a fresh transaction, up to
// three attempts in total.
func (m *MySQL) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = m.runTx(ctx, fn)
		if err == nil || !retryableTx(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}

func (m *MySQL) runTx(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&mysqlTx{querier: querier{conn: tx}, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func retryableTx(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && (myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout)
}

func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

type mysqlTx struct {
	querier
	tx *sql.Tx
}

func (t *mysqlTx) Commit() error   { return t.tx.Commit() }
func (t *mysqlTx) Rollback() error { return t.tx.Rollback() }

var (
	_ Database    = (*MySQL)(nil)
	_ Transaction = (*mysqlTx)(nil)
)
