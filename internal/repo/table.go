package repo

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alex01t/blockchain-postgres-sync/internal/chunked"
)

// table describes how rows of T are inserted into one table. An empty
// conflict key means duplicates are not skipped.
type table[T any] struct {
	name     string
	columns  []string
	conflict []string
	values   func(T) []any
}

// insert writes rows in statement-sized chunks.
func (t table[T]) insert(ctx context.Context, db querier, m *Metrics, rows []T) error {
	return chunked.Each(rows, len(t.columns), func(chunk []T) error {
		_, err := db.Exec(ctx, t.statement(len(chunk), ""), t.args(chunk)...)
		if err == nil {
			m.observeChunk(t.name, len(chunk))
		}
		return err
	})
}

// insertReturning writes rows and returns the int64 column returning for
// every inserted row, in input order.
func (t table[T]) insertReturning(ctx context.Context, db querier, m *Metrics, rows []T, returning string) ([]int64, error) {
	return chunked.Apply(rows, len(t.columns), func(chunk []T) ([]int64, error) {
		res, err := db.Query(ctx, t.statement(len(chunk), returning), t.args(chunk)...)
		if err != nil {
			return nil, err
		}
		out, err := pgx.CollectRows(res, pgx.RowTo[int64])
		if err != nil {
			return nil, err
		}
		m.observeChunk(t.name, len(chunk))
		return out, nil
	})
}

func (t table[T]) args(rows []T) []any {
	args := make([]any, 0, len(rows)*len(t.columns))
	for _, r := range rows {
		args = append(args, t.values(r)...)
	}
	return args
}

// statement renders a multi-row INSERT for n rows.
func (t table[T]) statement(n int, returning string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.name)
	b.WriteString(" (")
	b.WriteString(strings.Join(t.columns, ", "))
	b.WriteString(") VALUES ")
	p := 1
	for r := 0; r < n; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range t.columns {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(p))
			p++
		}
		b.WriteByte(')')
	}
	if len(t.conflict) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(strings.Join(t.conflict, ", "))
		b.WriteString(") DO NOTHING")
	}
	if returning != "" {
		b.WriteString(" RETURNING ")
		b.WriteString(returning)
	}
	return b.String()
}
