package repo

import (
	"context"
	"math"

	"github.com/jackc/pgx/v5"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

// openSentinel is the stored superseded_by of an open version. It never
// leaves this package; callers see model.Supersession.
const openSentinel int64 = math.MaxInt64 - 1

func supersededByColumn(s model.Supersession) int64 {
	if uid, closed := s.Successor(); closed {
		return uid
	}
	return openSentinel
}

func supersessionFromColumn(v int64) model.Supersession {
	if v == openSentinel {
		return model.Open()
	}
	return model.ClosedBy(v)
}

var assetVersions = table[model.AssetVersion]{
	name: "asset_versions",
	columns: []string{
		"uid", "block_uid", "superseded_by", "asset_id", "decimals", "name", "description",
		"reissuable", "volume", "script", "sponsorship", "nft",
	},
	conflict: []string{"superseded_by", "asset_id"},
	values: func(v model.AssetVersion) []any {
		return []any{
			v.UID, v.BlockUID, supersededByColumn(v.SupersededBy), v.AssetID, v.Decimals, v.Name,
			v.Description, v.Reissuable, v.Volume, v.Script, v.Sponsorship, v.NFT,
		}
	},
}

var assetOrigins = table[model.AssetOrigin]{
	name: "asset_origins",
	columns: []string{
		"asset_id", "first_asset_update_uid", "origin_transaction_id", "issuer", "issue_height",
		"issue_time_stamp",
	},
	conflict: []string{"asset_id"},
	values: func(o model.AssetOrigin) []any {
		return []any{o.AssetID, o.FirstAssetUpdateUID, o.OriginTransactionID, o.Issuer, o.IssueHeight, o.IssueTimestamp}
	},
}

func (o *pgOperations) NextAssetUID(ctx context.Context) (int64, error) {
	var uid int64
	err := o.db.QueryRow(ctx,
		`SELECT CASE WHEN is_called THEN last_value + 1 ELSE last_value END FROM asset_versions_uid_seq`,
	).Scan(&uid)
	if err != nil {
		return 0, wrap(err, "get next asset version uid")
	}
	return uid, nil
}

func (o *pgOperations) SetNextAssetUID(ctx context.Context, uid int64) error {
	// is_called = false: the next nextval returns uid itself.
	if _, err := o.db.Exec(ctx, `SELECT setval('asset_versions_uid_seq', $1, false)`, uid); err != nil {
		return wrap(err, "set next asset version uid to %d", uid)
	}
	return nil
}

func (o *pgOperations) InsertAssetVersions(ctx context.Context, versions []model.AssetVersion) error {
	if err := assetVersions.insert(ctx, o.db, o.metrics, versions); err != nil {
		return wrap(err, "insert asset versions")
	}
	return nil
}

func (o *pgOperations) InsertAssetOrigins(ctx context.Context, origins []model.AssetOrigin) error {
	if err := assetOrigins.insert(ctx, o.db, o.metrics, origins); err != nil {
		return wrap(err, "insert asset origins")
	}
	return nil
}

func (o *pgOperations) CloseAssetVersions(ctx context.Context, overrides []model.AssetOverride) error {
	if len(overrides) == 0 {
		return nil
	}
	ids := make([]string, len(overrides))
	successors := make([]int64, len(overrides))
	for i, ov := range overrides {
		ids[i] = ov.AssetID
		successors[i] = ov.SupersededBy
	}
	_, err := o.db.Exec(ctx, `
		UPDATE asset_versions
		SET superseded_by = updates.superseded_by
		FROM (SELECT UNNEST($1::text[]) AS asset_id, UNNEST($2::int8[]) AS superseded_by) AS updates
		WHERE asset_versions.asset_id = updates.asset_id AND asset_versions.superseded_by = $3`,
		ids, successors, openSentinel,
	)
	if err != nil {
		return wrap(err, "close asset versions")
	}
	return nil
}

func (o *pgOperations) ReopenAssetVersions(ctx context.Context, deleted []int64) error {
	if len(deleted) == 0 {
		return nil
	}
	_, err := o.db.Exec(ctx,
		`UPDATE asset_versions SET superseded_by = $1 WHERE superseded_by = ANY($2::int8[])`,
		openSentinel, deleted,
	)
	if err != nil {
		return wrap(err, "reopen asset versions")
	}
	return nil
}

func (o *pgOperations) UpdateAssetBlockReferences(ctx context.Context, blockUID int64) error {
	if _, err := o.db.Exec(ctx, `UPDATE asset_versions SET block_uid = $1 WHERE block_uid > $1`, blockUID); err != nil {
		return wrap(err, "update asset block references to %d", blockUID)
	}
	return nil
}

func (o *pgOperations) RollbackAssetVersions(ctx context.Context, blockUID int64) ([]model.DeletedAsset, error) {
	rows, err := o.db.Query(ctx,
		`DELETE FROM asset_versions WHERE block_uid > $1 RETURNING uid, asset_id`, blockUID,
	)
	if err != nil {
		return nil, wrap(err, "rollback asset versions above block %d", blockUID)
	}
	deleted, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DeletedAsset, error) {
		var d model.DeletedAsset
		err := row.Scan(&d.UID, &d.AssetID)
		return d, err
	})
	if err != nil {
		return nil, wrap(err, "rollback asset versions above block %d", blockUID)
	}
	return deleted, nil
}

func (o *pgOperations) AssetUIDsAbove(ctx context.Context, blockUID int64) ([]int64, error) {
	rows, err := o.db.Query(ctx,
		`SELECT uid FROM asset_versions WHERE block_uid > $1 ORDER BY uid`, blockUID,
	)
	if err != nil {
		return nil, wrap(err, "get asset versions above block %d", blockUID)
	}
	uids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, wrap(err, "get asset versions above block %d", blockUID)
	}
	return uids, nil
}

// assetChain returns every stored version of assetID in uid order.
func (o *pgOperations) assetChain(ctx context.Context, assetID string) ([]model.AssetVersion, error) {
	rows, err := o.db.Query(ctx, `
		SELECT uid, block_uid, superseded_by, asset_id, decimals, name, description,
		       reissuable, volume, script, sponsorship, nft
		FROM asset_versions WHERE asset_id = $1 ORDER BY uid`,
		assetID,
	)
	if err != nil {
		return nil, wrap(err, "get versions of asset %s", assetID)
	}
	versions, err := pgx.CollectRows(rows, scanAssetVersion)
	if err != nil {
		return nil, wrap(err, "get versions of asset %s", assetID)
	}
	return versions, nil
}

func scanAssetVersion(row pgx.CollectableRow) (model.AssetVersion, error) {
	var (
		v            model.AssetVersion
		supersededBy int64
	)
	err := row.Scan(
		&v.UID, &v.BlockUID, &supersededBy, &v.AssetID, &v.Decimals, &v.Name, &v.Description,
		&v.Reissuable, &v.Volume, &v.Script, &v.Sponsorship, &v.NFT,
	)
	v.SupersededBy = supersessionFromColumn(supersededBy)
	return v, err
}
