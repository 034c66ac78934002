// Package db provides shared Postgres helpers.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into table using the COPY protocol. Passing a
// pgx.Tx keeps the copy inside that transaction.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// CopyChunked copies rows in chunks of at most size rows and returns the
// total copied. A failed chunk stops the copy.
func CopyChunked(ctx context.Context, c Copier, table string, columns []string, rows [][]any, size int) (int64, error) {
	if size <= 0 {
		size = len(rows)
	}
	var total int64
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		n, err := CopyFrom(ctx, c, table, columns, rows[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
