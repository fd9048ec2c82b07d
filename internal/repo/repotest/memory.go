// Package repotest provides an in-memory repo.Repo with the same conflict and
// ordering semantics as the PostgreSQL one.
package repotest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
	"github.com/alex01t/blockchain-postgres-sync/internal/repo"
)

// ErrInjected is returned by the operation named in Repo.FailOn.
var ErrInjected = errors.New("injected failure")

// State is a snapshot of everything stored.
type State struct {
	Entries   []model.ChainEntry
	Versions  []model.AssetVersion
	Origins   map[string]model.AssetOrigin
	NextUID   int64
	Totals    map[int32]decimal.Decimal
	Txs       map[int64]model.Tx
	LeaseRefs map[int64]*int64

	nextEntry int64
}

func (s *State) clone() *State {
	return &State{
		Entries:   slices.Clone(s.Entries),
		Versions:  slices.Clone(s.Versions),
		Origins:   maps.Clone(s.Origins),
		NextUID:   s.NextUID,
		Totals:    maps.Clone(s.Totals),
		Txs:       maps.Clone(s.Txs),
		LeaseRefs: maps.Clone(s.LeaseRefs),
		nextEntry: s.nextEntry,
	}
}

// Repo keeps state in memory. Each Transaction works on a copy that replaces
// the state only on success.
type Repo struct {
	mu    sync.Mutex
	state *State

	// FailOn names an Operations method that returns ErrInjected.
	FailOn string
	// Commits and Rollbacks count finished units of work.
	Commits, Rollbacks int
}

func New() *Repo {
	return &Repo{state: &State{
		Origins:   map[string]model.AssetOrigin{},
		NextUID:   1,
		Totals:    map[int32]decimal.Decimal{},
		Txs:       map[int64]model.Tx{},
		LeaseRefs: map[int64]*int64{},
		nextEntry: 1,
	}}
}

// Snapshot returns a copy of the committed state.
func (r *Repo) Snapshot() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context, ops repo.Operations) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := &ops{s: r.state.clone(), failOn: r.FailOn}
	if err := fn(ctx, work); err != nil {
		r.Rollbacks++
		return err
	}
	r.state = work.s
	r.Commits++
	return nil
}

type ops struct {
	s      *State
	failOn string
}

var _ repo.Operations = (*ops)(nil)

func (o *ops) fail(op string) error {
	if o.failOn == op {
		return fmt.Errorf("cannot %s: %w", op, ErrInjected)
	}
	return nil
}

func (o *ops) InsertChainEntries(_ context.Context, entries []model.ChainEntry) ([]int64, error) {
	if err := o.fail("InsertChainEntries"); err != nil {
		return nil, err
	}
	var uids []int64
	for _, e := range entries {
		e.UID = o.s.nextEntry
		o.s.nextEntry++
		o.s.Entries = append(o.s.Entries, e)
		uids = append(uids, e.UID)
	}
	return uids, nil
}

func (o *ops) BlockUID(_ context.Context, id string) (int64, error) {
	for i := len(o.s.Entries) - 1; i >= 0; i-- {
		if o.s.Entries[i].ID == id {
			return o.s.Entries[i].UID, nil
		}
	}
	return 0, fmt.Errorf("cannot get block uid by id %s: %w", id, repo.ErrNotFound)
}

func (o *ops) KeyBlockUID(context.Context) (int64, error) {
	for i := len(o.s.Entries) - 1; i >= 0; i-- {
		if o.s.Entries[i].IsFinalized() {
			return o.s.Entries[i].UID, nil
		}
	}
	return 0, fmt.Errorf("cannot get key block uid: %w", repo.ErrNotFound)
}

func (o *ops) TotalBlockID(context.Context) (string, bool, error) {
	for i := len(o.s.Entries) - 1; i >= 0; i-- {
		if !o.s.Entries[i].IsFinalized() {
			return o.s.Entries[i].ID, true, nil
		}
	}
	return "", false, nil
}

func (o *ops) ChangeBlockID(_ context.Context, uid int64, id string) error {
	for i := range o.s.Entries {
		if o.s.Entries[i].UID == uid {
			o.s.Entries[i].ID = id
		}
	}
	return nil
}

func (o *ops) DeleteMicroblocks(context.Context) error {
	if err := o.fail("DeleteMicroblocks"); err != nil {
		return err
	}
	o.s.Entries = slices.DeleteFunc(o.s.Entries, func(e model.ChainEntry) bool { return !e.IsFinalized() })
	return nil
}

func (o *ops) RollbackChainEntries(_ context.Context, uid int64) error {
	if err := o.fail("RollbackChainEntries"); err != nil {
		return err
	}
	o.s.Entries = slices.DeleteFunc(o.s.Entries, func(e model.ChainEntry) bool { return e.UID > uid })
	return nil
}

func (o *ops) PrevHandledHeight(context.Context) (*model.PrevHandledHeight, error) {
	var top *int32
	for _, e := range o.s.Entries {
		if e.Height != nil && (top == nil || *e.Height > *top) {
			top = e.Height
		}
	}
	if top == nil {
		return nil, nil
	}
	for _, e := range o.s.Entries {
		if e.Height != nil && *e.Height == *top-1 {
			return &model.PrevHandledHeight{UID: e.UID, Height: *e.Height}, nil
		}
	}
	return nil, nil
}

func (o *ops) NextAssetUID(context.Context) (int64, error) {
	return o.s.NextUID, nil
}

func (o *ops) SetNextAssetUID(_ context.Context, uid int64) error {
	o.s.NextUID = uid
	return nil
}

func (o *ops) InsertAssetVersions(_ context.Context, versions []model.AssetVersion) error {
	if err := o.fail("InsertAssetVersions"); err != nil {
		return err
	}
	for _, v := range versions {
		dup := slices.ContainsFunc(o.s.Versions, func(x model.AssetVersion) bool {
			return x.AssetID == v.AssetID && x.SupersededBy == v.SupersededBy
		})
		if dup {
			continue
		}
		if slices.ContainsFunc(o.s.Versions, func(x model.AssetVersion) bool { return x.UID == v.UID }) {
			return fmt.Errorf("cannot insert asset versions: duplicate uid %d", v.UID)
		}
		o.s.Versions = append(o.s.Versions, v)
	}
	return nil
}

func (o *ops) InsertAssetOrigins(_ context.Context, origins []model.AssetOrigin) error {
	for _, og := range origins {
		if _, ok := o.s.Origins[og.AssetID]; !ok {
			o.s.Origins[og.AssetID] = og
		}
	}
	return nil
}

func (o *ops) CloseAssetVersions(_ context.Context, overrides []model.AssetOverride) error {
	for _, ov := range overrides {
		for i := range o.s.Versions {
			v := &o.s.Versions[i]
			if v.AssetID == ov.AssetID && v.SupersededBy.IsOpen() {
				v.SupersededBy = model.ClosedBy(ov.SupersededBy)
			}
		}
	}
	return nil
}

func (o *ops) ReopenAssetVersions(_ context.Context, deleted []int64) error {
	for i := range o.s.Versions {
		v := &o.s.Versions[i]
		if uid, closed := v.SupersededBy.Successor(); closed && slices.Contains(deleted, uid) {
			v.SupersededBy = model.Open()
		}
	}
	open := map[string]int{}
	for _, v := range o.s.Versions {
		if v.SupersededBy.IsOpen() {
			open[v.AssetID]++
			if open[v.AssetID] > 1 {
				return fmt.Errorf("cannot reopen asset versions: asset %s has two open versions", v.AssetID)
			}
		}
	}
	return nil
}

func (o *ops) UpdateAssetBlockReferences(_ context.Context, blockUID int64) error {
	for i := range o.s.Versions {
		if o.s.Versions[i].BlockUID > blockUID {
			o.s.Versions[i].BlockUID = blockUID
		}
	}
	return nil
}

func (o *ops) RollbackAssetVersions(_ context.Context, blockUID int64) ([]model.DeletedAsset, error) {
	var deleted []model.DeletedAsset
	o.s.Versions = slices.DeleteFunc(o.s.Versions, func(v model.AssetVersion) bool {
		if v.BlockUID > blockUID {
			deleted = append(deleted, model.DeletedAsset{UID: v.UID, AssetID: v.AssetID})
			return true
		}
		return false
	})
	return deleted, nil
}

func (o *ops) AssetUIDsAbove(_ context.Context, blockUID int64) ([]int64, error) {
	var uids []int64
	for _, v := range o.s.Versions {
		if v.BlockUID > blockUID {
			uids = append(uids, v.UID)
		}
	}
	slices.Sort(uids)
	return uids, nil
}

func (o *ops) InsertRunningTotals(_ context.Context, totals []model.RunningTotal) error {
	sorted := slices.Clone(totals)
	slices.SortStableFunc(sorted, func(a, b model.RunningTotal) int { return cmp.Compare(a.Height, b.Height) })
	for _, t := range sorted {
		if _, ok := o.s.Totals[t.Height]; ok {
			continue
		}
		base, below := decimal.Zero, int32(-1)
		for h, q := range o.s.Totals {
			if h < t.Height && h > below {
				base, below = q, h
			}
		}
		o.s.Totals[t.Height] = base.Add(t.Delta)
	}
	return nil
}

func (o *ops) InsertTxs(_ context.Context, txs []model.Tx) error {
	if err := o.fail("InsertTxs"); err != nil {
		return err
	}
	sorted := slices.Clone(txs)
	slices.SortStableFunc(sorted, func(a, b model.Tx) int { return cmp.Compare(a.Type(), b.Type()) })
	for _, tx := range sorted {
		uid := tx.Env().UID
		if _, ok := o.s.Txs[uid]; ok {
			continue
		}
		if lc, ok := tx.(model.LeaseCancelTx); ok {
			o.s.LeaseRefs[uid] = o.resolve(lc.LeaseID)
		}
		o.s.Txs[uid] = tx
	}
	return nil
}

func (o *ops) resolve(id *string) *int64 {
	if id == nil {
		return nil
	}
	for uid, tx := range o.s.Txs {
		if tx.Env().ID == *id {
			return &uid
		}
	}
	return nil
}

func (o *ops) RollbackTxs(_ context.Context, blockUID int64) error {
	maps.DeleteFunc(o.s.Txs, func(uid int64, tx model.Tx) bool {
		if tx.Env().BlockUID > blockUID {
			delete(o.s.LeaseRefs, uid)
			return true
		}
		return false
	})
	return nil
}

func (o *ops) UpdateTxsBlockReferences(_ context.Context, blockUID int64) error {
	for uid, tx := range o.s.Txs {
		if tx.Env().BlockUID > blockUID {
			o.s.Txs[uid] = model.WithBlockUID(tx, blockUID)
		}
	}
	return nil
}
