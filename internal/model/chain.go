// Package model holds the records the ingestion core persists.
package model

import "time"

// ChainEntry is a block or microblock in the chain log. A nil ConfirmedAt
// marks a pending microblock that may still be replaced.
type ChainEntry struct {
	UID         int64
	ID          string
	Height      *int32
	ConfirmedAt *time.Time
}

// IsFinalized reports whether the entry is a key block.
func (e ChainEntry) IsFinalized() bool {
	return e.ConfirmedAt != nil
}

// PrevHandledHeight is the chain position one below the top finalized height.
type PrevHandledHeight struct {
	UID    int64
	Height int32
}
