package repo

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	sql  string
	args []any
}

// fakeDB records statements. Query and QueryRow answer from respond, keyed by
// a substring of the SQL; no match yields no rows.
type fakeDB struct {
	calls   []call
	respond map[string][][]any
	execErr error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, call{sql, args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.calls = append(f.calls, call{sql, args})
	return &fakeRows{rows: f.lookup(sql), pos: -1}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.calls = append(f.calls, call{sql, args})
	return &fakeRows{rows: f.lookup(sql), pos: -1, single: true}
}

func (f *fakeDB) lookup(sql string) [][]any {
	for k, rows := range f.respond {
		if strings.Contains(sql, k) {
			return rows
		}
	}
	return nil
}

// execs returns the recorded statements that start with prefix.
func (f *fakeDB) execs(prefix string) []call {
	var out []call
	for _, c := range f.calls {
		if strings.HasPrefix(strings.TrimSpace(c.sql), prefix) {
			out = append(out, c)
		}
	}
	return out
}

type fakeRows struct {
	rows   [][]any
	pos    int
	single bool
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	if r.single {
		if !r.Next() {
			return pgx.ErrNoRows
		}
	}
	row := r.rows[r.pos]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if row[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		v := reflect.ValueOf(row[i])
		if target.Kind() == reflect.Pointer && v.Kind() != reflect.Pointer {
			p := reflect.New(target.Type().Elem())
			p.Elem().Set(v)
			v = p
		}
		target.Set(v)
	}
	return nil
}
