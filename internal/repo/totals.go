package repo

import (
	"cmp"
	"context"
	"slices"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

// Each row depends on the one below it, so totals are written one statement
// per height in ascending order and never batched.
const insertRunningTotalSQL = `
	INSERT INTO running_totals (height, quantity)
	VALUES (
		$1::integer,
		COALESCE(
			(SELECT quantity FROM running_totals WHERE height < $1::integer ORDER BY height DESC LIMIT 1),
			0
		) + $2::numeric
	)
	ON CONFLICT DO NOTHING`

func (o *pgOperations) InsertRunningTotals(ctx context.Context, totals []model.RunningTotal) error {
	sorted := slices.Clone(totals)
	slices.SortStableFunc(sorted, func(a, b model.RunningTotal) int { return cmp.Compare(a.Height, b.Height) })
	for _, t := range sorted {
		if _, err := o.db.Exec(ctx, insertRunningTotalSQL, t.Height, t.Delta.String()); err != nil {
			return wrap(err, "insert running total at height %d", t.Height)
		}
		o.metrics.observeChunk("running_totals", 1)
	}
	return nil
}
