package db

import "context"

// Database is the connection-pool handle used by repositories.
type Database interface {
	Querier
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is a Querier bound to one sql transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates a query result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...any) error
}

// Result summarizes an Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
