package model

import (
	"encoding/json"
	"time"
)

// TxType is the chain's transaction type code.
type TxType int16

const (
	TxGenesis TxType = iota + 1
	TxPayment
	TxIssue
	TxTransfer
	TxReissue
	TxBurn
	TxExchange
	TxLease
	TxLeaseCancel
	TxCreateAlias
	TxMassTransfer
	TxData
	TxSetScript
	TxSponsorFee
	TxSetAssetScript
	TxInvokeScript
	TxUpdateAssetInfo
	TxEthereum
)

var txTypeNames = [...]string{
	"", "genesis", "payment", "issue", "transfer", "reissue", "burn", "exchange",
	"lease", "lease-cancel", "create-alias", "mass-transfer", "data", "set-script",
	"sponsor-fee", "set-asset-script", "invoke-script", "update-asset-info", "ethereum",
}

func (t TxType) String() string {
	if t < TxGenesis || t > TxEthereum {
		return "unknown"
	}
	return txTypeNames[t]
}

// Tx is one of the eighteen transaction variants below.
type Tx interface {
	Type() TxType
	Env() TxEnvelope
	isTx()
}

// TxEnvelope holds the fields every transaction shares.
type TxEnvelope struct {
	UID             int64
	BlockUID        int64
	Height          int32
	ID              string
	TimeStamp       time.Time
	Signature       *string
	Proofs          []string
	Version         *int16
	Fee             int64
	FeeAssetID      string
	Status          string
	Sender          *string
	SenderPublicKey *string
}

// Env returns the shared envelope.
func (e TxEnvelope) Env() TxEnvelope { return e }

func (TxEnvelope) isTx() {}

// Recipient is an address or an alias resolved to one.
type Recipient struct {
	Address string
	Alias   *string
}

type GenesisTx struct {
	TxEnvelope
	Recipient Recipient
	Amount    int64
}

type PaymentTx struct {
	TxEnvelope
	Recipient Recipient
	Amount    int64
}

type IssueTx struct {
	TxEnvelope
	AssetID     string
	AssetName   string
	Description string
	Quantity    int64
	Decimals    int16
	Reissuable  bool
	Script      *string
}

type TransferTx struct {
	TxEnvelope
	AssetID    string
	Amount     int64
	Recipient  Recipient
	Attachment string
}

type ReissueTx struct {
	TxEnvelope
	AssetID    string
	Quantity   int64
	Reissuable bool
}

type BurnTx struct {
	TxEnvelope
	AssetID string
	Amount  int64
}

type ExchangeTx struct {
	TxEnvelope
	AmountAssetID  string
	PriceAssetID   string
	Order1         json.RawMessage
	Order2         json.RawMessage
	Amount         int64
	Price          int64
	BuyMatcherFee  int64
	SellMatcherFee int64
}

type LeaseTx struct {
	TxEnvelope
	Amount    int64
	Recipient Recipient
}

// LeaseCancelTx references the lease it cancels by transaction id only; the
// writer resolves it to the lease's uid.
type LeaseCancelTx struct {
	TxEnvelope
	LeaseID *string
}

type CreateAliasTx struct {
	TxEnvelope
	Alias string
}

type MassTransferTx struct {
	TxEnvelope
	AssetID    string
	Attachment string
	Transfers  []MassTransfer
}

type MassTransfer struct {
	Recipient Recipient
	Amount    int64
}

type DataTx struct {
	TxEnvelope
	Data []DataEntry
}

// DataEntry is a typed key/value; at most one value field is set.
type DataEntry struct {
	Key     string
	Type    *string
	Integer *int64
	Boolean *bool
	Binary  []byte
	String  *string
}

type SetScriptTx struct {
	TxEnvelope
	Script *string
}

type SponsorFeeTx struct {
	TxEnvelope
	AssetID              string
	MinSponsoredAssetFee *int64
}

type SetAssetScriptTx struct {
	TxEnvelope
	AssetID string
	Script  *string
}

type InvokeScriptTx struct {
	TxEnvelope
	DApp         Recipient
	FunctionName *string
	Args         []InvokeArg
	Payments     []Payment
}

type UpdateAssetInfoTx struct {
	TxEnvelope
	AssetID     string
	AssetName   string
	Description string
}

// EthereumTx is an Ethereum-encoded transaction; invocations carry Args and
// Payments like InvokeScriptTx.
type EthereumTx struct {
	TxEnvelope
	Payload      []byte
	FunctionName *string
	Args         []InvokeArg
	Payments     []Payment
}

// InvokeArg is a typed call argument; List holds nested list arguments as JSON.
type InvokeArg struct {
	Type    string
	Integer *int64
	Boolean *bool
	Binary  []byte
	String  *string
	List    json.RawMessage
}

type Payment struct {
	Amount  int64
	AssetID string
}

func (GenesisTx) Type() TxType         { return TxGenesis }
func (PaymentTx) Type() TxType         { return TxPayment }
func (IssueTx) Type() TxType           { return TxIssue }
func (TransferTx) Type() TxType        { return TxTransfer }
func (ReissueTx) Type() TxType         { return TxReissue }
func (BurnTx) Type() TxType            { return TxBurn }
func (ExchangeTx) Type() TxType        { return TxExchange }
func (LeaseTx) Type() TxType           { return TxLease }
func (LeaseCancelTx) Type() TxType     { return TxLeaseCancel }
func (CreateAliasTx) Type() TxType     { return TxCreateAlias }
func (MassTransferTx) Type() TxType    { return TxMassTransfer }
func (DataTx) Type() TxType            { return TxData }
func (SetScriptTx) Type() TxType       { return TxSetScript }
func (SponsorFeeTx) Type() TxType      { return TxSponsorFee }
func (SetAssetScriptTx) Type() TxType  { return TxSetAssetScript }
func (InvokeScriptTx) Type() TxType    { return TxInvokeScript }
func (UpdateAssetInfoTx) Type() TxType { return TxUpdateAssetInfo }
func (EthereumTx) Type() TxType        { return TxEthereum }

// WithBlockUID returns tx with its envelope attached to blockUID.
func WithBlockUID(tx Tx, blockUID int64) Tx {
	switch t := tx.(type) {
	case GenesisTx:
		t.BlockUID = blockUID
		return t
	case PaymentTx:
		t.BlockUID = blockUID
		return t
	case IssueTx:
		t.BlockUID = blockUID
		return t
	case TransferTx:
		t.BlockUID = blockUID
		return t
	case ReissueTx:
		t.BlockUID = blockUID
		return t
	case BurnTx:
		t.BlockUID = blockUID
		return t
	case ExchangeTx:
		t.BlockUID = blockUID
		return t
	case LeaseTx:
		t.BlockUID = blockUID
		return t
	case LeaseCancelTx:
		t.BlockUID = blockUID
		return t
	case CreateAliasTx:
		t.BlockUID = blockUID
		return t
	case MassTransferTx:
		t.BlockUID = blockUID
		return t
	case DataTx:
		t.BlockUID = blockUID
		return t
	case SetScriptTx:
		t.BlockUID = blockUID
		return t
	case SponsorFeeTx:
		t.BlockUID = blockUID
		return t
	case SetAssetScriptTx:
		t.BlockUID = blockUID
		return t
	case InvokeScriptTx:
		t.BlockUID = blockUID
		return t
	case UpdateAssetInfoTx:
		t.BlockUID = blockUID
		return t
	case EthereumTx:
		t.BlockUID = blockUID
		return t
	}
	return tx
}
