package main

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

const (
	syntheticAssets        = 5
	syntheticRollbackEvery = 10
)

// syntheticSource generates a chain for demo/testing: a key block per call
// followed by microblocks, with a rollback of one height every
// syntheticRollbackEvery calls. No external RPC calls.
type syntheticSource struct {
	chainID string
	height  int32
	calls   int
	nextUID int64
	// settledIDs maps a height to the id its key block carries once its
	// microblocks are squashed into it.
	settledIDs map[int32]string
	issued     map[string]bool
	now        func() time.Time
}

func newSyntheticSource(chainID string, from int32) *syntheticSource {
	return &syntheticSource{
		chainID:    chainID,
		height:     from,
		nextUID:    int64(from) << 16,
		settledIDs: map[int32]string{},
		issued:     map[string]bool{},
		now:        time.Now,
	}
}

func (s *syntheticSource) Next(ctx context.Context) ([]model.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls++
	var out []model.Update
	if target := s.height - 2; s.calls%syntheticRollbackEvery == 0 && s.settledIDs[target] != "" {
		out = append(out, model.Rollback{BlockID: s.settledIDs[target]})
		for h := range s.settledIDs {
			if h > target {
				delete(s.settledIDs, h)
			}
		}
		s.height = target + 1
	}
	return append(out, s.nextHeight()...), nil
}

// nextHeight emits the key block at s.height and its microblocks.
func (s *syntheticSource) nextHeight() []model.Update {
	h := s.height
	s.height++
	at := s.now().UTC()

	key := model.Append{
		Entry:        model.ChainEntry{ID: s.blockID(h, -1), Height: &h, ConfirmedAt: &at},
		RunningTotal: &model.RunningTotal{Height: h, Delta: decimal.New(int64(h%7)+1, -2)},
	}
	asset := fmt.Sprintf("asset-%s-%d", s.chainID, h%syntheticAssets)
	update := model.AssetUpdate{
		AssetID: asset, Name: asset, Description: "synthetic", Decimals: 8,
		Reissuable: true, Volume: int64(h) * 1000,
	}
	if !s.issued[asset] {
		issue := model.IssueTx{
			TxEnvelope: s.envelope(h, at), AssetID: asset, AssetName: asset,
			Description: "synthetic", Quantity: update.Volume, Decimals: 8, Reissuable: true,
		}
		update.Origin = &model.AssetIssue{TransactionID: issue.ID, Issuer: *issue.Sender, Height: h, Timestamp: at}
		key.Txs = append(key.Txs, issue)
		s.issued[asset] = true
	}
	key.AssetUpdates = []model.AssetUpdate{update}
	key.Txs = append(key.Txs, model.TransferTx{
		TxEnvelope: s.envelope(h, at), AssetID: asset, Amount: int64(h),
		Recipient: model.Recipient{Address: s.address(h + 1)},
	})
	out := []model.Update{key}

	lease := model.LeaseTx{TxEnvelope: s.envelope(h, at), Amount: 100, Recipient: model.Recipient{Address: s.address(h)}}
	integer := int64(h)
	micro := []model.Append{
		{Txs: []model.Tx{
			model.DataTx{TxEnvelope: s.envelope(h, at), Data: []model.DataEntry{
				{Key: "height", Integer: &integer},
				{Key: "chain", String: &s.chainID},
			}},
			lease,
		}},
		{Txs: []model.Tx{model.LeaseCancelTx{TxEnvelope: s.envelope(h, at), LeaseID: &lease.ID}}},
	}
	for i := range micro {
		micro[i].Entry = model.ChainEntry{ID: s.blockID(h, i), Height: &h}
		out = append(out, micro[i])
	}
	s.settledIDs[h] = s.blockID(h, len(micro)-1)
	return out
}

func (s *syntheticSource) envelope(h int32, at time.Time) model.TxEnvelope {
	uid := s.nextUID
	s.nextUID++
	sender := s.address(h)
	return model.TxEnvelope{
		UID: uid, Height: h, ID: fmt.Sprintf("tx-%s-%d", s.chainID, uid), TimeStamp: at,
		Fee: 100000, FeeAssetID: "WAVES", Status: "succeeded", Sender: &sender,
	}
}

func (s *syntheticSource) blockID(h int32, micro int) string {
	if micro < 0 {
		return fmt.Sprintf("%s-%d", s.chainID, h)
	}
	return fmt.Sprintf("%s-%d-m%d", s.chainID, h, micro)
}

func (s *syntheticSource) address(n int32) string {
	return fmt.Sprintf("3%s%08d", s.chainID, n%1000)
}
