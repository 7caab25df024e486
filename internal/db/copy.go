// Package db provides shared database helpers for bulk insert and append operations.
package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// copier is anything that speaks the COPY protocol; both Pool and pgx.Tx do.
type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopyInto bulk-loads rows into a table, which may be schema-qualified, over
// the COPY protocol. Callers inside a transaction pass the tx so the load
// joins it.
func CopyInto(ctx context.Context, c copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	ident := pgx.Identifier(strings.SplitN(table, ".", 2))
	n, err := c.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY into %s", table)
	}

	return n, nil
}
