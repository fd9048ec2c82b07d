// Package repo persists the chain stream into PostgreSQL.
//
// Every write goes through a unit of work (Repo.Transaction) that holds one
// pooled connection and one transaction. Inserts are chunked below the
// bind-parameter ceiling and skip rows that already exist, so replaying a
// batch that never committed is safe.
package repo

import (
	"context"
	"errors"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ChainLog appends, renames and rolls back blocks and microblocks.
type ChainLog interface {
	// InsertChainEntries returns the assigned uids in input order.
	InsertChainEntries(ctx context.Context, entries []model.ChainEntry) ([]int64, error)
	BlockUID(ctx context.Context, id string) (int64, error)
	// KeyBlockUID returns the uid of the latest finalized block.
	KeyBlockUID(ctx context.Context) (int64, error)
	// TotalBlockID returns the id of the latest pending microblock, if any.
	TotalBlockID(ctx context.Context) (string, bool, error)
	ChangeBlockID(ctx context.Context, uid int64, id string) error
	// DeleteMicroblocks removes every pending entry.
	DeleteMicroblocks(ctx context.Context) error
	// RollbackChainEntries removes entries with uid > uid. Nothing else is touched.
	RollbackChainEntries(ctx context.Context, uid int64) error
	PrevHandledHeight(ctx context.Context) (*model.PrevHandledHeight, error)
}

// AssetLedger maintains the per-asset supersession chain.
type AssetLedger interface {
	NextAssetUID(ctx context.Context) (int64, error)
	SetNextAssetUID(ctx context.Context, uid int64) error
	InsertAssetVersions(ctx context.Context, versions []model.AssetVersion) error
	InsertAssetOrigins(ctx context.Context, origins []model.AssetOrigin) error
	// CloseAssetVersions points the open version of each asset at its successor.
	CloseAssetVersions(ctx context.Context, overrides []model.AssetOverride) error
	// ReopenAssetVersions opens every version whose successor is in deleted.
	ReopenAssetVersions(ctx context.Context, deleted []int64) error
	UpdateAssetBlockReferences(ctx context.Context, blockUID int64) error
	RollbackAssetVersions(ctx context.Context, blockUID int64) ([]model.DeletedAsset, error)
	AssetUIDsAbove(ctx context.Context, blockUID int64) ([]int64, error)
}

// RunningTotals maintains the height-indexed cumulative counter.
type RunningTotals interface {
	InsertRunningTotals(ctx context.Context, totals []model.RunningTotal) error
}

// TxWriter fans transactions out to their per-type tables.
type TxWriter interface {
	InsertTxs(ctx context.Context, txs []model.Tx) error
	RollbackTxs(ctx context.Context, blockUID int64) error
	UpdateTxsBlockReferences(ctx context.Context, blockUID int64) error
}

// Operations is everything a workflow can do inside one unit of work.
type Operations interface {
	ChainLog
	AssetLedger
	RunningTotals
	TxWriter
}

// Repo runs workflows atomically.
type Repo interface {
	// Transaction commits if fn returns nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(ctx context.Context, ops Operations) error) error
}

// InTransaction is Transaction for workflows that produce a value.
func InTransaction[R any](ctx context.Context, r Repo, fn func(ctx context.Context, ops Operations) (R, error)) (R, error) {
	var out R
	err := r.Transaction(ctx, func(ctx context.Context, ops Operations) error {
		var err error
		out, err = fn(ctx, ops)
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	return out, nil
}
