package db_test

import (
	"errors"
	"fmt"
	"testing"

	"ojeval/internal/common/db"

	"github.com/go-sql-driver/mysql"
)

func TestUniqueViolation(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantKey string
		wantDup bool
	}{
		{
			name:    "primary key",
			err:     &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 's1' for key 'submissions.PRIMARY'"},
			wantKey: "submissions.PRIMARY",
			wantDup: true,
		},
		{
			name:    "wrapped",
			err:     fmt.Errorf("exec: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key `uk`"}),
			wantKey: "uk",
			wantDup: true,
		},
		{name: "other mysql error", err: &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}},
		{name: "plain error", err: errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			key, dup := db.UniqueViolation(tt.err)
			if dup != tt.wantDup || key != tt.wantKey {
				t.Fatalf("got (%q, %v), want (%q, %v)", key, dup, tt.wantKey, tt.wantDup)
			}
		})
	}
}

func TestNullString(t *testing.T) {
	if db.NullString("").Valid {
		t.Fatalf("empty string must be NULL")
	}
	if ns := db.NullString("c1"); !ns.Valid || ns.String != "c1" {
		t.Fatalf("unexpected %+v", ns)
	}
}
