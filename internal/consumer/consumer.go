// Package consumer applies the canonical chain stream to a repo.Repo.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
	"github.com/alex01t/blockchain-postgres-sync/internal/repo"
)

// Source yields decoded, canonical updates. An empty batch means nothing new.
type Source interface {
	Next(ctx context.Context) ([]model.Update, error)
}

// Consumer writes update batches, one unit of work per batch.
type Consumer struct {
	repo repo.Repo
	log  *slog.Logger
}

func New(r repo.Repo, log *slog.Logger) *Consumer {
	return &Consumer{repo: r, log: log}
}

// Apply writes updates atomically: either all of them are stored or none.
func (c *Consumer) Apply(ctx context.Context, updates []model.Update) error {
	if len(updates) == 0 {
		return nil
	}
	segs, err := segments(updates)
	if err != nil {
		return err
	}
	batchID := uuid.New()
	log := c.log.With("batch_id", batchID.String())
	start := time.Now()

	err = c.repo.Transaction(ctx, func(ctx context.Context, ops repo.Operations) error {
		for _, seg := range segs {
			if seg.rollback != nil {
				if err := c.rollback(ctx, ops, log, seg.rollback.BlockID); err != nil {
					return err
				}
				continue
			}
			if err := c.appendBlocks(ctx, ops, log, seg.appends); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply batch %s: %w", batchID, err)
	}
	log.Info("batch committed", "updates", len(updates), "duration", time.Since(start))
	return nil
}

// PrevHandledHeight reports where a restarted ingestion should resume.
func (c *Consumer) PrevHandledHeight(ctx context.Context) (*model.PrevHandledHeight, error) {
	return repo.InTransaction(ctx, c.repo, func(ctx context.Context, ops repo.Operations) (*model.PrevHandledHeight, error) {
		return ops.PrevHandledHeight(ctx)
	})
}

// Resume drops the top height, which may have been stored only partially,
// and returns the height to fetch next. An empty chain log resumes at 1.
func (c *Consumer) Resume(ctx context.Context) (int32, error) {
	return repo.InTransaction(ctx, c.repo, func(ctx context.Context, ops repo.Operations) (int32, error) {
		prev, err := ops.PrevHandledHeight(ctx)
		if err != nil || prev == nil {
			return 1, err
		}
		if err := rollbackTo(ctx, ops, prev.UID); err != nil {
			return 0, err
		}
		c.log.Info("resuming", "from_height", prev.Height+1, "block_uid", prev.UID)
		return prev.Height + 1, nil
	})
}

// segment is either a run of appends that starts a new block (or continues
// the microblock tail) or a single rollback.
type segment struct {
	appends  []model.Append
	rollback *model.Rollback
}

// segments splits updates so every finalized block starts its own segment;
// the pending tail has to be squashed before that block is inserted.
func segments(updates []model.Update) ([]segment, error) {
	var out []segment
	for _, u := range updates {
		switch u := u.(type) {
		case model.Rollback:
			out = append(out, segment{rollback: &u})
		case model.Append:
			last := len(out) - 1
			if last >= 0 && out[last].rollback == nil && !u.Entry.IsFinalized() {
				out[last].appends = append(out[last].appends, u)
				continue
			}
			out = append(out, segment{appends: []model.Append{u}})
		default:
			return nil, fmt.Errorf("unsupported update %T", u)
		}
	}
	return out, nil
}
