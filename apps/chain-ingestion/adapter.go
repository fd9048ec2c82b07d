package main

import (
	"context"

	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

// updateApplier writes one batch of chain updates atomically (e.g. consumer.Consumer).
type updateApplier interface {
	Apply(ctx context.Context, updates []model.Update) error
}
