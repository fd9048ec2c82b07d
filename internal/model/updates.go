package model

// Update is one step of the canonical chain stream: an Append or a Rollback.
type Update interface {
	isUpdate()
}

// Append adds a block or microblock with everything it carries. Transaction
// uids are assigned upstream; BlockUID is filled in on insert.
type Append struct {
	Entry        ChainEntry
	Txs          []Tx
	AssetUpdates []AssetUpdate
	RunningTotal *RunningTotal
}

// Rollback drops everything above the chain entry with BlockID.
type Rollback struct {
	BlockID string
}

func (Append) isUpdate()   {}
func (Rollback) isUpdate() {}
