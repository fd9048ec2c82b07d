package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
	"github.com/alex01t/blockchain-postgres-sync/internal/repo"
)

// appendBlocks stores one segment: an optional squash, the chain entries, then
// their transactions, asset versions and running totals.
func (c *Consumer) appendBlocks(ctx context.Context, ops repo.Operations, log *slog.Logger, appends []model.Append) error {
	if len(appends) == 0 {
		return nil
	}
	if appends[0].Entry.IsFinalized() {
		if err := c.squash(ctx, ops, log); err != nil {
			return err
		}
	}

	entries := make([]model.ChainEntry, len(appends))
	for i, a := range appends {
		entries[i] = a.Entry
	}
	uids, err := ops.InsertChainEntries(ctx, entries)
	if err != nil {
		return err
	}
	if len(uids) != len(entries) {
		return fmt.Errorf("inserted %d chain entries, got %d uids", len(entries), len(uids))
	}

	var (
		txs     []model.Tx
		updates []blockAssetUpdate
		totals  []model.RunningTotal
	)
	for i, a := range appends {
		for _, tx := range a.Txs {
			txs = append(txs, model.WithBlockUID(tx, uids[i]))
		}
		for _, u := range a.AssetUpdates {
			updates = append(updates, blockAssetUpdate{blockUID: uids[i], update: u})
		}
		if a.RunningTotal != nil {
			totals = append(totals, *a.RunningTotal)
		}
	}

	if len(txs) > 0 {
		if err := ops.InsertTxs(ctx, txs); err != nil {
			return err
		}
	}
	if err := appendAssetUpdates(ctx, ops, updates); err != nil {
		return err
	}
	if len(totals) > 0 {
		if err := ops.InsertRunningTotals(ctx, totals); err != nil {
			return err
		}
	}
	log.Debug("appended", "entries", len(entries), "first_uid", uids[0], "txs", len(txs), "asset_updates", len(updates))
	return nil
}

// squash folds the pending microblock tail into the key block: versions and
// transactions are re-pointed at the key block, the microblocks are deleted
// and the key block takes the id of the last microblock.
func (c *Consumer) squash(ctx context.Context, ops repo.Operations, log *slog.Logger) error {
	totalID, ok, err := ops.TotalBlockID(ctx)
	if err != nil || !ok {
		return err
	}
	keyUID, err := ops.KeyBlockUID(ctx)
	if err != nil {
		return err
	}
	if err := ops.UpdateAssetBlockReferences(ctx, keyUID); err != nil {
		return err
	}
	if err := ops.UpdateTxsBlockReferences(ctx, keyUID); err != nil {
		return err
	}
	if err := ops.DeleteMicroblocks(ctx); err != nil {
		return err
	}
	if err := ops.ChangeBlockID(ctx, keyUID, totalID); err != nil {
		return err
	}
	log.Debug("squashed microblocks", "key_block_uid", keyUID, "total_block_id", totalID)
	return nil
}

// rollback removes everything above the block with blockID.
func (c *Consumer) rollback(ctx context.Context, ops repo.Operations, log *slog.Logger, blockID string) error {
	blockUID, err := ops.BlockUID(ctx, blockID)
	if err != nil {
		return err
	}
	above, err := ops.AssetUIDsAbove(ctx, blockUID)
	if err != nil {
		return err
	}
	log.Debug("rolling back", "block_id", blockID, "block_uid", blockUID, "asset_versions", len(above))
	return rollbackTo(ctx, ops, blockUID)
}

// rollbackTo runs the recovery steps in order. Reopening has to follow the
// delete because it is keyed on the deleted uids; the chain log goes last
// because asset versions reference it.
func rollbackTo(ctx context.Context, ops repo.Operations, blockUID int64) error {
	deleted, err := ops.RollbackAssetVersions(ctx, blockUID)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		uids := make([]int64, len(deleted))
		for i, d := range deleted {
			uids[i] = d.UID
		}
		if err := ops.ReopenAssetVersions(ctx, uids); err != nil {
			return err
		}
		if err := ops.SetNextAssetUID(ctx, slices.Min(uids)); err != nil {
			return err
		}
	}
	if err := ops.RollbackTxs(ctx, blockUID); err != nil {
		return err
	}
	return ops.RollbackChainEntries(ctx, blockUID)
}

type blockAssetUpdate struct {
	blockUID int64
	update   model.AssetUpdate
}

// assetPlan is what one batch of asset updates writes.
type assetPlan struct {
	versions  []model.AssetVersion
	overrides []model.AssetOverride
	origins   []model.AssetOrigin
	nextUID   int64
}

// planAssetVersions numbers updates from firstUID in input order and links
// updates of the same asset: each is closed by the next one, the last stays
// open, and the asset's previously open version is closed by the first.
func planAssetVersions(firstUID int64, updates []blockAssetUpdate) assetPlan {
	plan := assetPlan{
		versions: make([]model.AssetVersion, len(updates)),
		nextUID:  firstUID + int64(len(updates)),
	}
	last := make(map[string]int)
	for i, bu := range updates {
		u := bu.update
		v := model.AssetVersion{
			UID:          firstUID + int64(i),
			BlockUID:     bu.blockUID,
			SupersededBy: model.Open(),
			AssetID:      u.AssetID,
			Decimals:     u.Decimals,
			Name:         u.Name,
			Description:  u.Description,
			Reissuable:   u.Reissuable,
			Volume:       u.Volume,
			Script:       u.Script,
			Sponsorship:  u.Sponsorship,
			NFT:          u.NFT,
		}
		plan.versions[i] = v
		if prev, ok := last[v.Key()]; ok {
			plan.versions[prev].SupersededBy = model.ClosedBy(v.UID)
		} else {
			plan.overrides = append(plan.overrides, model.AssetOverride{AssetID: v.AssetID, SupersededBy: v.UID})
		}
		last[v.Key()] = i
	}

	seen := make(map[string]bool)
	for i, bu := range updates {
		if bu.update.Origin == nil || seen[bu.update.AssetID] {
			continue
		}
		seen[bu.update.AssetID] = true
		o := bu.update.Origin
		plan.origins = append(plan.origins, model.AssetOrigin{
			AssetID:             bu.update.AssetID,
			FirstAssetUpdateUID: plan.versions[i].UID,
			OriginTransactionID: o.TransactionID,
			Issuer:              o.Issuer,
			IssueHeight:         o.Height,
			IssueTimestamp:      o.Timestamp,
		})
	}
	return plan
}

// appendAssetUpdates closes the open versions first so the new open versions
// are not closed along with them, then inserts and resyncs the sequence.
func appendAssetUpdates(ctx context.Context, ops repo.Operations, updates []blockAssetUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	firstUID, err := ops.NextAssetUID(ctx)
	if err != nil {
		return err
	}
	plan := planAssetVersions(firstUID, updates)
	if err := ops.CloseAssetVersions(ctx, plan.overrides); err != nil {
		return err
	}
	if err := ops.InsertAssetVersions(ctx, plan.versions); err != nil {
		return err
	}
	if err := ops.InsertAssetOrigins(ctx, plan.origins); err != nil {
		return err
	}
	return ops.SetNextAssetUID(ctx, plan.nextUID)
}
