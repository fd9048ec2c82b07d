package repo

import (
	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

// envelopeColumns are the columns of the parent txs table, inherited by every
// txs_N table.
var envelopeColumns = []string{
	"uid", "tx_type", "sender", "sender_public_key", "time_stamp", "height", "id",
	"signature", "proofs", "tx_version", "fee", "fee_asset_id", "status", "block_uid",
}

func envelopeValues(t model.TxType, e model.TxEnvelope) []any {
	return []any{
		e.UID, int16(t), e.Sender, e.SenderPublicKey, e.TimeStamp, e.Height, e.ID,
		e.Signature, e.Proofs, e.Version, e.Fee, e.FeeAssetID, e.Status, e.BlockUID,
	}
}

var uidConflict = []string{"uid"}

// txTable builds the table of a flat variant: envelope columns followed by
// the variant's own.
func txTable[T model.Tx](name string, own []string, values func(T) []any) table[T] {
	return table[T]{
		name:     name,
		columns:  append(append([]string{}, envelopeColumns...), own...),
		conflict: uidConflict,
		values: func(tx T) []any {
			return append(envelopeValues(tx.Type(), tx.Env()), values(tx)...)
		},
	}
}

var (
	txs1 = txTable("txs_1", []string{"recipient_address", "recipient_alias", "amount"},
		func(tx model.GenesisTx) []any { return []any{tx.Recipient.Address, tx.Recipient.Alias, tx.Amount} })
	txs2 = txTable("txs_2", []string{"recipient_address", "recipient_alias", "amount"},
		func(tx model.PaymentTx) []any { return []any{tx.Recipient.Address, tx.Recipient.Alias, tx.Amount} })
	txs3 = txTable("txs_3", []string{"asset_id", "asset_name", "description", "quantity", "decimals", "reissuable", "script"},
		func(tx model.IssueTx) []any {
			return []any{tx.AssetID, tx.AssetName, tx.Description, tx.Quantity, tx.Decimals, tx.Reissuable, tx.Script}
		})
	txs4 = txTable("txs_4", []string{"asset_id", "amount", "recipient_address", "recipient_alias", "attachment"},
		func(tx model.TransferTx) []any {
			return []any{tx.AssetID, tx.Amount, tx.Recipient.Address, tx.Recipient.Alias, tx.Attachment}
		})
	txs5 = txTable("txs_5", []string{"asset_id", "quantity", "reissuable"},
		func(tx model.ReissueTx) []any { return []any{tx.AssetID, tx.Quantity, tx.Reissuable} })
	txs6 = txTable("txs_6", []string{"asset_id", "amount"},
		func(tx model.BurnTx) []any { return []any{tx.AssetID, tx.Amount} })
	txs7 = txTable("txs_7", []string{
		"amount_asset_id", "price_asset_id", "order1", "order2", "amount", "price",
		"buy_matcher_fee", "sell_matcher_fee",
	}, func(tx model.ExchangeTx) []any {
		return []any{
			tx.AmountAssetID, tx.PriceAssetID, tx.Order1, tx.Order2, tx.Amount, tx.Price,
			tx.BuyMatcherFee, tx.SellMatcherFee,
		}
	})
	txs8 = txTable("txs_8", []string{"amount", "recipient_address", "recipient_alias"},
		func(tx model.LeaseTx) []any { return []any{tx.Amount, tx.Recipient.Address, tx.Recipient.Alias} })
	txs10 = txTable("txs_10", []string{"alias"},
		func(tx model.CreateAliasTx) []any { return []any{tx.Alias} })
	txs11 = txTable("txs_11", []string{"asset_id", "attachment"},
		func(tx model.MassTransferTx) []any { return []any{tx.AssetID, tx.Attachment} })
	txs12 = txTable("txs_12", nil,
		func(model.DataTx) []any { return nil })
	txs13 = txTable("txs_13", []string{"script"},
		func(tx model.SetScriptTx) []any { return []any{tx.Script} })
	txs14 = txTable("txs_14", []string{"asset_id", "min_sponsored_asset_fee"},
		func(tx model.SponsorFeeTx) []any { return []any{tx.AssetID, tx.MinSponsoredAssetFee} })
	txs15 = txTable("txs_15", []string{"asset_id", "script"},
		func(tx model.SetAssetScriptTx) []any { return []any{tx.AssetID, tx.Script} })
	txs16 = txTable("txs_16", []string{"dapp_address", "dapp_alias", "function_name"},
		func(tx model.InvokeScriptTx) []any { return []any{tx.DApp.Address, tx.DApp.Alias, tx.FunctionName} })
	txs17 = txTable("txs_17", []string{"asset_id", "asset_name", "description"},
		func(tx model.UpdateAssetInfoTx) []any { return []any{tx.AssetID, tx.AssetName, tx.Description} })
	txs18 = txTable("txs_18", []string{"payload", "function_name"},
		func(tx model.EthereumTx) []any { return []any{tx.Payload, tx.FunctionName} })
)

// leaseCancelRow is a lease cancellation with its lease resolved to a uid.
type leaseCancelRow struct {
	tx       model.LeaseCancelTx
	leaseUID *int64
}

var txs9 = table[leaseCancelRow]{
	name:     "txs_9",
	columns:  append(append([]string{}, envelopeColumns...), "lease_tx_uid"),
	conflict: uidConflict,
	values: func(r leaseCancelRow) []any {
		return append(envelopeValues(model.TxLeaseCancel, r.tx.TxEnvelope), r.leaseUID)
	},
}

// child is one element of a parent's ordered collection. Position restores
// the order within the parent.
type child[C any] struct {
	txUID    int64
	height   int32
	position int16
	item     C
}

// flatten turns each parent's children into rows tagged with the parent uid
// and their index within the parent.
func flatten[P model.Tx, C any](parents []P, children func(P) []C) []child[C] {
	var out []child[C]
	for _, p := range parents {
		env := p.Env()
		for i, c := range children(p) {
			out = append(out, child[C]{txUID: env.UID, height: env.Height, position: int16(i), item: c})
		}
	}
	return out
}

func childTable[C any](name, positionColumn string, own []string, values func(C) []any) table[child[C]] {
	columns := append([]string{"tx_uid"}, own...)
	columns = append(columns, positionColumn, "height")
	return table[child[C]]{
		name:     name,
		columns:  columns,
		conflict: []string{"tx_uid", positionColumn},
		values: func(c child[C]) []any {
			v := append([]any{c.txUID}, values(c.item)...)
			return append(v, c.position, c.height)
		},
	}
}

var argColumns = []string{
	"arg_type", "arg_value_integer", "arg_value_boolean", "arg_value_binary", "arg_value_string", "arg_value_list",
}

func argValues(a model.InvokeArg) []any {
	return []any{a.Type, a.Integer, a.Boolean, a.Binary, a.String, a.List}
}

func paymentValues(p model.Payment) []any {
	return []any{p.Amount, p.AssetID}
}

var (
	txs11Transfers = childTable("txs_11_transfers", "position_in_tx",
		[]string{"recipient_address", "recipient_alias", "amount"},
		func(t model.MassTransfer) []any { return []any{t.Recipient.Address, t.Recipient.Alias, t.Amount} })
	txs12Data = childTable("txs_12_data", "position_in_tx",
		[]string{
			"data_key", "data_type", "data_value_integer", "data_value_boolean", "data_value_binary",
			"data_value_string",
		},
		func(d model.DataEntry) []any { return []any{d.Key, d.Type, d.Integer, d.Boolean, d.Binary, d.String} })
	txs16Args    = childTable("txs_16_args", "position_in_args", argColumns, argValues)
	txs16Payment = childTable("txs_16_payment", "position_in_payment", []string{"amount", "asset_id"}, paymentValues)
	txs18Args    = childTable("txs_18_args", "position_in_args", argColumns, argValues)
	txs18Payment = childTable("txs_18_payment", "position_in_payment", []string{"amount", "asset_id"}, paymentValues)
)
