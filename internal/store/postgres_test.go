package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errRecorded = errors.New("recorded")

type errRow struct{}

func (errRow) Scan(...any) error { return errRecorded }

// recordingQuerier captures the SQL a pgTx sends without a database.
type recordingQuerier struct {
	sql []string
}

func (r *recordingQuerier) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.sql = append(r.sql, sql)
	return pgconn.CommandTag{}, errRecorded
}

func (r *recordingQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	r.sql = append(r.sql, sql)
	return nil, errRecorded
}

func (r *recordingQuerier) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	r.sql = append(r.sql, sql)
	return errRow{}
}

// A buy reads the user's positions in every market while a resolution locks
// one market's positions and then their users. Only the latter may take
// row locks, or the two orders can deadlock.
func TestPgTx_PositionLockOrder(t *testing.T) {
	ctx := context.Background()
	rq := &recordingQuerier{}
	tx := &pgTx{q: rq}

	tx.ListUserPositions(ctx, "u1")
	tx.ListMarketPositions(ctx, "m1")
	tx.LockUser(ctx, "u1")

	if len(rq.sql) != 3 {
		t.Fatalf("recorded %d statements, want 3", len(rq.sql))
	}
	if strings.Contains(rq.sql[0], "FOR UPDATE") {
		t.Errorf("user positions read must not lock rows: %s", rq.sql[0])
	}
	if !strings.Contains(rq.sql[1], "FOR UPDATE") {
		t.Errorf("market positions must be locked for settlement: %s", rq.sql[1])
	}
	if !strings.Contains(rq.sql[2], "FOR UPDATE") {
		t.Errorf("user row must be locked: %s", rq.sql[2])
	}
}

func TestMapPgError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrConflict},
		{"serialization", &pgconn.PgError{Code: "40001"}, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapPgError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	other := &pgconn.PgError{Code: "23505"}
	if got := mapPgError(other); got != error(other) {
		t.Errorf("unique violation mapped to %v", got)
	}
}
