// Package chunked splits row batches into statements that stay under the
// PostgreSQL bind-parameter ceiling.
package chunked

// MaxParams is the most bind parameters PostgreSQL accepts in one statement.
const MaxParams = 65535

// Size returns how many rows of the given width fit in one statement, rounded
// down to a multiple of 10. It never returns less than 1.
func Size(columns int) int {
	if columns < 1 {
		columns = 1
	}
	n := MaxParams / columns / 10 * 10
	if n < 1 {
		return 1
	}
	return n
}

// Apply calls fn once per chunk of rows, in input order, and concatenates the
// results. Empty input makes no calls. The first error stops iteration.
func Apply[T, R any](rows []T, columns int, fn func(chunk []T) ([]R, error)) ([]R, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	size := Size(columns)
	out := make([]R, 0)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		res, err := fn(rows[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}

// Each is Apply for insert functions that return nothing.
func Each[T any](rows []T, columns int, fn func(chunk []T) error) error {
	_, err := Apply(rows, columns, func(chunk []T) ([]struct{}, error) {
		return nil, fn(chunk)
	})
	return err
}
