package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type scanner interface {
	Scan(dest ...any) error
}

// Execer is satisfied by both *sql.DB and *sql.Tx so guarded updates can run
// inside or outside a transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// affectedOne turns a zero-row guarded update into miss.
func affectedOne(res sql.Result, miss error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return miss
	}
	return nil
}
