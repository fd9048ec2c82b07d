package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

var chainEntries = table[model.ChainEntry]{
	name:    "chain_entries",
	columns: []string{"id", "height", "confirmed_at"},
	values: func(e model.ChainEntry) []any {
		return []any{e.ID, e.Height, e.ConfirmedAt}
	},
}

func (o *pgOperations) InsertChainEntries(ctx context.Context, entries []model.ChainEntry) ([]int64, error) {
	uids, err := chainEntries.insertReturning(ctx, o.db, o.metrics, entries, "uid")
	if err != nil {
		return nil, wrap(err, "insert blocks/microblocks")
	}
	return uids, nil
}

func (o *pgOperations) BlockUID(ctx context.Context, id string) (int64, error) {
	var uid int64
	err := o.db.QueryRow(ctx,
		`SELECT uid FROM chain_entries WHERE id = $1 ORDER BY uid DESC LIMIT 1`, id,
	).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrap(ErrNotFound, "get block uid by id %s", id)
	}
	if err != nil {
		return 0, wrap(err, "get block uid by id %s", id)
	}
	return uid, nil
}

func (o *pgOperations) KeyBlockUID(ctx context.Context) (int64, error) {
	var uid *int64
	err := o.db.QueryRow(ctx,
		`SELECT max(uid) FROM chain_entries WHERE confirmed_at IS NOT NULL`,
	).Scan(&uid)
	if err != nil {
		return 0, wrap(err, "get key block uid")
	}
	if uid == nil {
		return 0, wrap(ErrNotFound, "get key block uid")
	}
	return *uid, nil
}

func (o *pgOperations) TotalBlockID(ctx context.Context) (string, bool, error) {
	var id string
	err := o.db.QueryRow(ctx,
		`SELECT id FROM chain_entries WHERE confirmed_at IS NULL ORDER BY uid DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err, "get total block id")
	}
	return id, true, nil
}

func (o *pgOperations) ChangeBlockID(ctx context.Context, uid int64, id string) error {
	if _, err := o.db.Exec(ctx, `UPDATE chain_entries SET id = $1 WHERE uid = $2`, id, uid); err != nil {
		return wrap(err, "change id of block %d", uid)
	}
	return nil
}

func (o *pgOperations) DeleteMicroblocks(ctx context.Context) error {
	if _, err := o.db.Exec(ctx, `DELETE FROM chain_entries WHERE confirmed_at IS NULL`); err != nil {
		return wrap(err, "delete microblocks")
	}
	return nil
}

func (o *pgOperations) RollbackChainEntries(ctx context.Context, uid int64) error {
	if _, err := o.db.Exec(ctx, `DELETE FROM chain_entries WHERE uid > $1`, uid); err != nil {
		return wrap(err, "rollback blocks/microblocks above %d", uid)
	}
	return nil
}

func (o *pgOperations) PrevHandledHeight(ctx context.Context) (*model.PrevHandledHeight, error) {
	var p model.PrevHandledHeight
	err := o.db.QueryRow(ctx, `
		SELECT uid, height FROM chain_entries
		WHERE height = (SELECT max(height) - 1 FROM chain_entries)
		ORDER BY uid ASC LIMIT 1`,
	).Scan(&p.UID, &p.Height)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "get previous handled height")
	}
	return &p, nil
}
