package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
	"github.com/alex01t/blockchain-postgres-sync/internal/repo"
	"github.com/alex01t/blockchain-postgres-sync/internal/repo/repotest"
)

var testLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func height(h int32) *int32 { return &h }

func block(id string, h int32) model.Append {
	at := time.Date(2024, 1, 1, 0, 0, int(h), 0, time.UTC)
	return model.Append{Entry: model.ChainEntry{ID: id, Height: height(h), ConfirmedAt: &at}}
}

func micro(id string, h int32) model.Append {
	return model.Append{Entry: model.ChainEntry{ID: id, Height: height(h)}}
}

func assetUpdate(id string, volume int64) model.AssetUpdate {
	return model.AssetUpdate{AssetID: id, Name: id, Description: "test", Decimals: 8, Volume: volume}
}

func withAssets(a model.Append, updates ...model.AssetUpdate) model.Append {
	a.AssetUpdates = updates
	return a
}

func versionsOf(s *repotest.State, assetID string) []model.AssetVersion {
	var out []model.AssetVersion
	for _, v := range s.Versions {
		if v.AssetID == assetID {
			out = append(out, v)
		}
	}
	return out
}

func openVersions(t *testing.T, s *repotest.State) map[string]int64 {
	t.Helper()
	open := map[string]int64{}
	for _, v := range s.Versions {
		if !v.SupersededBy.IsOpen() {
			continue
		}
		if prev, ok := open[v.AssetID]; ok {
			t.Fatalf("asset %s has open versions %d and %d", v.AssetID, prev, v.UID)
		}
		open[v.AssetID] = v.UID
	}
	return open
}

func apply(t *testing.T, c *Consumer, updates ...model.Update) {
	t.Helper()
	if err := c.Apply(context.Background(), updates); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestAssetVersionSupersededAcrossBlocks(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	apply(t, c,
		withAssets(block("b1", 1), assetUpdate("A", 100)),
		block("b2", 2),
		block("b3", 3),
	)
	apply(t, c, withAssets(block("b4", 4), assetUpdate("A", 200)))

	got := versionsOf(r.Snapshot(), "A")
	if len(got) != 2 {
		t.Fatalf("versions of A = %d, want 2", len(got))
	}
	v1, v2 := got[0], got[1]
	if succ, closed := v1.SupersededBy.Successor(); !closed || succ != v2.UID {
		t.Errorf("v1 superseded by %v, want closed by %d", v1.SupersededBy, v2.UID)
	}
	if !v2.SupersededBy.IsOpen() {
		t.Errorf("v2 = %v, want open", v2.SupersededBy)
	}
	if v2.Volume != 200 {
		t.Errorf("v2 volume = %d, want 200", v2.Volume)
	}
}

func TestRollbackReopensPreviousVersion(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	apply(t, c,
		withAssets(block("b1", 1), assetUpdate("A", 100)),
		block("b2", 2),
		block("b3", 3),
		withAssets(block("b4", 4), assetUpdate("A", 200)),
	)
	before := versionsOf(r.Snapshot(), "A")
	apply(t, c, model.Rollback{BlockID: "b3"})

	s := r.Snapshot()
	got := versionsOf(s, "A")
	if len(got) != 1 {
		t.Fatalf("versions of A after rollback = %d, want 1", len(got))
	}
	if got[0].UID != before[0].UID || !got[0].SupersededBy.IsOpen() {
		t.Errorf("remaining version = %+v, want uid %d open", got[0], before[0].UID)
	}
	if s.NextUID != before[1].UID {
		t.Errorf("next asset uid = %d, want %d", s.NextUID, before[1].UID)
	}
	for _, e := range s.Entries {
		if e.ID == "b4" {
			t.Errorf("entry b4 survived rollback")
		}
	}
}

func TestRollbackRemovesOnlyAboveBlock(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	var updates []model.Update
	for h := int32(1); h <= 6; h++ {
		a := withAssets(block(fmt.Sprintf("b%d", h), h), assetUpdate(fmt.Sprintf("X%d", h), int64(h)))
		a.Txs = []model.Tx{model.BurnTx{TxEnvelope: model.TxEnvelope{UID: int64(h), ID: fmt.Sprintf("t%d", h), Height: h}}}
		updates = append(updates, a)
	}
	apply(t, c, updates...)
	apply(t, c, model.Rollback{BlockID: "b4"})

	s := r.Snapshot()
	if len(s.Entries) != 4 {
		t.Errorf("entries = %d, want 4", len(s.Entries))
	}
	for _, v := range s.Versions {
		if v.BlockUID > 4 {
			t.Errorf("version %d of block %d survived rollback", v.UID, v.BlockUID)
		}
	}
	if len(s.Versions) != 4 {
		t.Errorf("versions = %d, want 4", len(s.Versions))
	}
	if len(s.Txs) != 4 {
		t.Errorf("txs = %d, want 4", len(s.Txs))
	}
	if s.NextUID != 5 {
		t.Errorf("next asset uid = %d, want 5", s.NextUID)
	}
}

func TestVersionsChainedWithinBatch(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	apply(t, c, withAssets(block("b1", 1), assetUpdate("A", 1), assetUpdate("B", 1)))
	apply(t, c,
		withAssets(block("b2", 2), assetUpdate("A", 2), assetUpdate("A", 3)),
		withAssets(block("b3", 3), assetUpdate("B", 2), assetUpdate("A", 4)),
	)

	s := r.Snapshot()
	open := openVersions(t, s)
	a := versionsOf(s, "A")
	if len(a) != 4 {
		t.Fatalf("versions of A = %d, want 4", len(a))
	}
	for i := 0; i < len(a)-1; i++ {
		if succ, closed := a[i].SupersededBy.Successor(); !closed || succ != a[i+1].UID {
			t.Errorf("A[%d] = %v, want closed by %d", i, a[i].SupersededBy, a[i+1].UID)
		}
	}
	if open["A"] != a[3].UID || a[3].Volume != 4 {
		t.Errorf("open A = %d, want %d with volume 4", open["A"], a[3].UID)
	}
	if s.NextUID != 7 {
		t.Errorf("next asset uid = %d, want 7", s.NextUID)
	}
}

func TestAssetOriginWrittenOnce(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	issued := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	first := assetUpdate("A", 1)
	first.Origin = &model.AssetIssue{TransactionID: "issue-1", Issuer: "alice", Height: 1, Timestamp: issued}
	again := assetUpdate("A", 2)
	again.Origin = &model.AssetIssue{TransactionID: "issue-2", Issuer: "bob", Height: 2, Timestamp: issued}

	apply(t, c, withAssets(block("b1", 1), first))
	apply(t, c, withAssets(block("b2", 2), again))

	og, ok := r.Snapshot().Origins["A"]
	if !ok {
		t.Fatal("origin of A not stored")
	}
	if og.OriginTransactionID != "issue-1" || og.FirstAssetUpdateUID != 1 {
		t.Errorf("origin = %+v, want issue-1 at uid 1", og)
	}
}

func TestMicroblocksSquashedIntoKeyBlock(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	tx := func(uid int64) model.Tx {
		return model.TransferTx{TxEnvelope: model.TxEnvelope{UID: uid, ID: fmt.Sprintf("t%d", uid), Height: 1}}
	}
	m1 := withAssets(micro("m1", 1), assetUpdate("A", 1))
	m1.Txs = []model.Tx{tx(1)}
	m2 := micro("m2", 1)
	m2.Txs = []model.Tx{tx(2)}
	apply(t, c, block("b1", 1), m1, m2)
	apply(t, c, block("b2", 2))

	s := r.Snapshot()
	var ids []string
	for _, e := range s.Entries {
		if !e.IsFinalized() {
			t.Errorf("microblock %s survived squash", e.ID)
		}
		ids = append(ids, e.ID)
	}
	if want := []string{"m2", "b2"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("entry ids = %v, want %v", ids, want)
	}
	keyUID := s.Entries[0].UID
	for uid, tx := range s.Txs {
		if tx.Env().BlockUID != keyUID {
			t.Errorf("tx %d block uid = %d, want %d", uid, tx.Env().BlockUID, keyUID)
		}
	}
	for _, v := range s.Versions {
		if v.BlockUID != keyUID {
			t.Errorf("version %d block uid = %d, want %d", v.UID, v.BlockUID, keyUID)
		}
	}
}

func TestSquashWithoutKeyBlockFails(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	apply(t, c, micro("m1", 1))
	err := c.Apply(context.Background(), []model.Update{block("b2", 2)})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Apply = %v, want ErrNotFound", err)
	}
	if got := len(r.Snapshot().Entries); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}

func TestRollbackToUnknownBlock(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)
	apply(t, c, block("b1", 1))

	err := c.Apply(context.Background(), []model.Update{model.Rollback{BlockID: "nope"}})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("Apply = %v, want ErrNotFound", err)
	}
}

func TestRunningTotalsAreCumulative(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	var updates []model.Update
	deltas := []string{"10", "-3", "0.5", "100"}
	for i, d := range deltas {
		h := int32(i + 1)
		a := block(fmt.Sprintf("b%d", h), h)
		a.RunningTotal = &model.RunningTotal{Height: h, Delta: decimal.RequireFromString(d)}
		updates = append(updates, a)
	}
	apply(t, c, updates...)

	totals := r.Snapshot().Totals
	sum := decimal.Zero
	for i, d := range deltas {
		sum = sum.Add(decimal.RequireFromString(d))
		if got := totals[int32(i+1)]; !got.Equal(sum) {
			t.Errorf("total at %d = %s, want %s", i+1, got, sum)
		}
	}
}

func batchFixture() []model.Update {
	lease := "t2"
	b1 := withAssets(block("b1", 1), assetUpdate("A", 1), assetUpdate("B", 1))
	b1.Txs = []model.Tx{
		model.LeaseTx{TxEnvelope: model.TxEnvelope{UID: 2, ID: "t2", Height: 1}, Amount: 5},
		model.LeaseCancelTx{TxEnvelope: model.TxEnvelope{UID: 3, ID: "t3", Height: 1}, LeaseID: &lease},
	}
	b1.RunningTotal = &model.RunningTotal{Height: 1, Delta: decimal.NewFromInt(7)}
	b2 := withAssets(block("b2", 2), assetUpdate("A", 2))
	b2.RunningTotal = &model.RunningTotal{Height: 2, Delta: decimal.NewFromInt(3)}
	return []model.Update{b1, b2, withAssets(micro("m1", 2), assetUpdate("B", 9))}
}

func TestFailedBatchLeavesNoTrace(t *testing.T) {
	for _, op := range []string{"InsertChainEntries", "InsertTxs", "InsertAssetVersions", "DeleteMicroblocks", "RollbackChainEntries"} {
		t.Run(op, func(t *testing.T) {
			r := repotest.New()
			c := New(r, testLog)
			apply(t, c, block("b0", 0))
			want := r.Snapshot()

			r.FailOn = op
			updates := append(batchFixture(), block("b3", 3), model.Rollback{BlockID: "b3"})
			if err := c.Apply(context.Background(), updates); !errors.Is(err, repotest.ErrInjected) {
				t.Fatalf("Apply = %v, want ErrInjected", err)
			}
			if got := r.Snapshot(); !reflect.DeepEqual(got, want) {
				t.Errorf("state changed by failed batch:\n got %+v\nwant %+v", got, want)
			}
			if r.Rollbacks != 1 {
				t.Errorf("rollbacks = %d, want 1", r.Rollbacks)
			}
		})
	}
}

func TestReplayAfterFailureMatchesCleanRun(t *testing.T) {
	clean := repotest.New()
	apply(t, New(clean, testLog), batchFixture()...)

	r := repotest.New()
	c := New(r, testLog)
	r.FailOn = "InsertAssetVersions"
	if err := c.Apply(context.Background(), batchFixture()); err == nil {
		t.Fatal("Apply succeeded with injected failure")
	}
	r.FailOn = ""
	apply(t, c, batchFixture()...)

	got, want := r.Snapshot(), clean.Snapshot()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("replayed state differs:\n got %+v\nwant %+v", got, want)
	}
	if ref := got.LeaseRefs[3]; ref == nil || *ref != 2 {
		t.Errorf("lease cancel reference = %v, want 2", ref)
	}
}

func TestPrevHandledHeight(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	p, err := c.PrevHandledHeight(context.Background())
	if err != nil || p != nil {
		t.Fatalf("PrevHandledHeight on empty = %v, %v; want nil, nil", p, err)
	}
	apply(t, c, block("b1", 1), block("b2", 2), block("b3", 3))
	p, err = c.PrevHandledHeight(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if p == nil || p.Height != 2 || p.UID != 2 {
		t.Errorf("PrevHandledHeight = %+v, want uid 2 height 2", p)
	}
}

func TestApplyEmptyBatch(t *testing.T) {
	r := repotest.New()
	if err := New(r, testLog).Apply(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if r.Commits != 0 {
		t.Errorf("commits = %d, want 0", r.Commits)
	}
}

func TestSegments(t *testing.T) {
	updates := []model.Update{
		block("b1", 1), micro("m1", 1), micro("m2", 1),
		block("b2", 2),
		model.Rollback{BlockID: "b1"},
		micro("m3", 2),
		block("b3", 3), micro("m4", 3),
	}
	segs, err := segments(updates)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range segs {
		if s.rollback != nil {
			got = append(got, "rollback:"+s.rollback.BlockID)
			continue
		}
		desc := ""
		for _, a := range s.appends {
			desc += a.Entry.ID + " "
		}
		got = append(got, desc)
	}
	want := []string{"b1 m1 m2 ", "b2 ", "rollback:b1", "m3 ", "b3 m4 "}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("segments = %q, want %q", got, want)
	}
}

type bogusUpdate struct{ model.Append }

func TestSegmentsRejectsUnknownUpdate(t *testing.T) {
	if _, err := segments([]model.Update{bogusUpdate{}}); err == nil {
		t.Error("segments accepted an unknown update type")
	}
}

func TestPlanAssetVersions(t *testing.T) {
	updates := []blockAssetUpdate{
		{blockUID: 10, update: assetUpdate("A", 1)},
		{blockUID: 10, update: assetUpdate("B", 1)},
		{blockUID: 11, update: assetUpdate("A", 2)},
		{blockUID: 12, update: assetUpdate("A", 3)},
	}
	plan := planAssetVersions(50, updates)

	want := []model.Supersession{model.ClosedBy(52), model.Open(), model.ClosedBy(53), model.Open()}
	for i, v := range plan.versions {
		if v.UID != int64(50+i) {
			t.Errorf("versions[%d].UID = %d, want %d", i, v.UID, 50+i)
		}
		if v.SupersededBy != want[i] {
			t.Errorf("versions[%d] = %v, want %v", i, v.SupersededBy, want[i])
		}
		if v.BlockUID != updates[i].blockUID {
			t.Errorf("versions[%d].BlockUID = %d, want %d", i, v.BlockUID, updates[i].blockUID)
		}
	}
	wantOverrides := []model.AssetOverride{{AssetID: "A", SupersededBy: 50}, {AssetID: "B", SupersededBy: 51}}
	if !reflect.DeepEqual(plan.overrides, wantOverrides) {
		t.Errorf("overrides = %+v, want %+v", plan.overrides, wantOverrides)
	}
	if plan.nextUID != 54 {
		t.Errorf("nextUID = %d, want 54", plan.nextUID)
	}
	if len(plan.origins) != 0 {
		t.Errorf("origins = %+v, want none", plan.origins)
	}
}

// stepRecorder logs the rollback steps and forwards them to an in-memory repo.
type stepRecorder struct {
	repo.Operations
	steps []string
}

func (s *stepRecorder) RollbackAssetVersions(ctx context.Context, blockUID int64) ([]model.DeletedAsset, error) {
	s.steps = append(s.steps, "RollbackAssetVersions")
	return s.Operations.RollbackAssetVersions(ctx, blockUID)
}

func (s *stepRecorder) ReopenAssetVersions(ctx context.Context, deleted []int64) error {
	s.steps = append(s.steps, fmt.Sprintf("ReopenAssetVersions%v", deleted))
	return s.Operations.ReopenAssetVersions(ctx, deleted)
}

func (s *stepRecorder) SetNextAssetUID(ctx context.Context, uid int64) error {
	s.steps = append(s.steps, fmt.Sprintf("SetNextAssetUID(%d)", uid))
	return s.Operations.SetNextAssetUID(ctx, uid)
}

func (s *stepRecorder) RollbackTxs(ctx context.Context, blockUID int64) error {
	s.steps = append(s.steps, "RollbackTxs")
	return s.Operations.RollbackTxs(ctx, blockUID)
}

func (s *stepRecorder) RollbackChainEntries(ctx context.Context, uid int64) error {
	s.steps = append(s.steps, "RollbackChainEntries")
	return s.Operations.RollbackChainEntries(ctx, uid)
}

func TestRollbackStepOrder(t *testing.T) {
	r := repotest.New()
	apply(t, New(r, testLog),
		withAssets(block("b1", 1), assetUpdate("A", 1)),
		withAssets(block("b2", 2), assetUpdate("A", 2), assetUpdate("B", 1)),
	)

	var steps []string
	err := r.Transaction(context.Background(), func(ctx context.Context, ops repo.Operations) error {
		rec := &stepRecorder{Operations: ops}
		err := rollbackTo(ctx, rec, 1)
		steps = rec.steps
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"RollbackAssetVersions",
		"ReopenAssetVersions[2 3]",
		"SetNextAssetUID(2)",
		"RollbackTxs",
		"RollbackChainEntries",
	}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestRollbackWithoutAssetsSkipsLedger(t *testing.T) {
	r := repotest.New()
	apply(t, New(r, testLog), block("b1", 1), block("b2", 2))

	var steps []string
	err := r.Transaction(context.Background(), func(ctx context.Context, ops repo.Operations) error {
		rec := &stepRecorder{Operations: ops}
		err := rollbackTo(ctx, rec, 1)
		steps = rec.steps
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"RollbackAssetVersions", "RollbackTxs", "RollbackChainEntries"}
	if !reflect.DeepEqual(steps, want) {
		t.Errorf("steps = %v, want %v", steps, want)
	}
}

func TestResumeDropsTopHeight(t *testing.T) {
	r := repotest.New()
	c := New(r, testLog)

	from, err := c.Resume(context.Background())
	if err != nil || from != 1 {
		t.Fatalf("Resume on empty = %d, %v; want 1", from, err)
	}
	apply(t, c,
		withAssets(block("b1", 1), assetUpdate("A", 1)),
		withAssets(block("b2", 2), assetUpdate("A", 2)),
		withAssets(micro("m1", 2), assetUpdate("A", 3)),
	)
	from, err = c.Resume(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if from != 2 {
		t.Errorf("Resume = %d, want 2", from)
	}
	s := r.Snapshot()
	if len(s.Entries) != 1 || s.Entries[0].ID != "b1" {
		t.Errorf("entries = %+v, want only b1", s.Entries)
	}
	if open := openVersions(t, s); open["A"] != 1 {
		t.Errorf("open A = %d, want 1", open["A"])
	}
}
