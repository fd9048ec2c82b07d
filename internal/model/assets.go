package model

import (
	"fmt"
	"time"
)

// Supersession is the state of an asset version: open (current) or closed by
// a later version.
type Supersession struct {
	closed bool
	by     int64
}

// Open is the state of the current version of an asset.
func Open() Supersession { return Supersession{} }

// ClosedBy is the state of a version replaced by the version with uid.
func ClosedBy(uid int64) Supersession { return Supersession{closed: true, by: uid} }

// IsOpen reports whether no later version exists.
func (s Supersession) IsOpen() bool { return !s.closed }

// Successor returns the uid of the replacing version, if any.
func (s Supersession) Successor() (int64, bool) { return s.by, s.closed }

func (s Supersession) String() string {
	if !s.closed {
		return "open"
	}
	return fmt.Sprintf("closed by %d", s.by)
}

// AssetVersion is one entry of an asset's supersession chain.
type AssetVersion struct {
	UID          int64
	BlockUID     int64
	SupersededBy Supersession
	AssetID      string
	Decimals     int16
	Name         string
	Description  string
	Reissuable   bool
	Volume       int64
	Script       *string
	Sponsorship  *int64
	NFT          bool
}

// Key is the in-memory identity of a version: versions compare by asset.
func (v AssetVersion) Key() string { return v.AssetID }

// AssetOrigin is written once, with the first version of an asset.
type AssetOrigin struct {
	AssetID             string
	FirstAssetUpdateUID int64
	OriginTransactionID string
	Issuer              string
	IssueHeight         int32
	IssueTimestamp      time.Time
}

// AssetOverride closes the open version of AssetID in favour of SupersededBy.
type AssetOverride struct {
	AssetID      string
	SupersededBy int64
}

// DeletedAsset is a version removed by a rollback.
type DeletedAsset struct {
	UID     int64
	AssetID string
}

// AssetUpdate is an upstream asset state change. Origin is set when the
// update carries issue data.
type AssetUpdate struct {
	AssetID     string
	Decimals    int16
	Name        string
	Description string
	Reissuable  bool
	Volume      int64
	Script      *string
	Sponsorship *int64
	NFT         bool
	Origin      *AssetIssue
}

// AssetIssue describes the transaction that created an asset.
type AssetIssue struct {
	TransactionID string
	Issuer        string
	Height        int32
	Timestamp     time.Time
}
