package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const errDuplicateEntry = 1062

// Querier is satisfied by both Database and Transaction.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Exec(ctx context.Context, query string, args ...any) (Result, error)
}

// GetQuerier prefers tx when one is open.
func GetQuerier(database Database, tx Transaction) Querier {
	if tx != nil {
		return tx
	}
	return database
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// UniqueViolation reports whether err is a duplicate key error and, if so,
// the name of the violated key as MySQL printed it.
func UniqueViolation(err error) (string, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != errDuplicateEntry {
		return "", false
	}
	_, key, found := strings.Cut(myErr.Message, "for key ")
	if !found {
		return "", true
	}
	return strings.Trim(key, " `\"'"), true
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
