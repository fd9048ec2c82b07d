package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alex01t/blockchain-postgres-sync/internal/chunked"
	"github.com/alex01t/blockchain-postgres-sync/internal/model"
)

// txBatch is an input batch split by variant.
type txBatch struct {
	genesis         []model.GenesisTx
	payment         []model.PaymentTx
	issue           []model.IssueTx
	transfer        []model.TransferTx
	reissue         []model.ReissueTx
	burn            []model.BurnTx
	exchange        []model.ExchangeTx
	lease           []model.LeaseTx
	leaseCancel     []model.LeaseCancelTx
	createAlias     []model.CreateAliasTx
	massTransfer    []model.MassTransferTx
	data            []model.DataTx
	setScript       []model.SetScriptTx
	sponsorFee      []model.SponsorFeeTx
	setAssetScript  []model.SetAssetScriptTx
	invokeScript    []model.InvokeScriptTx
	updateAssetInfo []model.UpdateAssetInfoTx
	ethereum        []model.EthereumTx
}

func splitTxs(txs []model.Tx) (*txBatch, error) {
	b := &txBatch{}
	for _, tx := range txs {
		switch t := tx.(type) {
		case model.GenesisTx:
			b.genesis = append(b.genesis, t)
		case model.PaymentTx:
			b.payment = append(b.payment, t)
		case model.IssueTx:
			b.issue = append(b.issue, t)
		case model.TransferTx:
			b.transfer = append(b.transfer, t)
		case model.ReissueTx:
			b.reissue = append(b.reissue, t)
		case model.BurnTx:
			b.burn = append(b.burn, t)
		case model.ExchangeTx:
			b.exchange = append(b.exchange, t)
		case model.LeaseTx:
			b.lease = append(b.lease, t)
		case model.LeaseCancelTx:
			b.leaseCancel = append(b.leaseCancel, t)
		case model.CreateAliasTx:
			b.createAlias = append(b.createAlias, t)
		case model.MassTransferTx:
			b.massTransfer = append(b.massTransfer, t)
		case model.DataTx:
			b.data = append(b.data, t)
		case model.SetScriptTx:
			b.setScript = append(b.setScript, t)
		case model.SponsorFeeTx:
			b.sponsorFee = append(b.sponsorFee, t)
		case model.SetAssetScriptTx:
			b.setAssetScript = append(b.setAssetScript, t)
		case model.InvokeScriptTx:
			b.invokeScript = append(b.invokeScript, t)
		case model.UpdateAssetInfoTx:
			b.updateAssetInfo = append(b.updateAssetInfo, t)
		case model.EthereumTx:
			b.ethereum = append(b.ethereum, t)
		default:
			return nil, fmt.Errorf("unsupported transaction %T", tx)
		}
	}
	return b, nil
}

// InsertTxs writes txs grouped by type, in type-code order, so a lease is
// stored before a cancellation in the same batch looks it up.
func (o *pgOperations) InsertTxs(ctx context.Context, txs []model.Tx) error {
	b, err := splitTxs(txs)
	if err != nil {
		return err
	}
	steps := []struct {
		what string
		run  func() error
	}{
		{"Genesis transactions", func() error { return txs1.insert(ctx, o.db, o.metrics, b.genesis) }},
		{"Payment transactions", func() error { return txs2.insert(ctx, o.db, o.metrics, b.payment) }},
		{"Issue transactions", func() error { return txs3.insert(ctx, o.db, o.metrics, b.issue) }},
		{"Transfer transactions", func() error { return txs4.insert(ctx, o.db, o.metrics, b.transfer) }},
		{"Reissue transactions", func() error { return txs5.insert(ctx, o.db, o.metrics, b.reissue) }},
		{"Burn transactions", func() error { return txs6.insert(ctx, o.db, o.metrics, b.burn) }},
		{"Exchange transactions", func() error { return txs7.insert(ctx, o.db, o.metrics, b.exchange) }},
		{"Lease transactions", func() error { return txs8.insert(ctx, o.db, o.metrics, b.lease) }},
		{"LeaseCancel transactions", func() error { return o.insertLeaseCancels(ctx, b.leaseCancel) }},
		{"CreateAlias transactions", func() error { return txs10.insert(ctx, o.db, o.metrics, b.createAlias) }},
		{"MassTransfer transactions", func() error { return o.insertMassTransfers(ctx, b.massTransfer) }},
		{"DataTransaction transactions", func() error { return o.insertDataTxs(ctx, b.data) }},
		{"SetScript transactions", func() error { return txs13.insert(ctx, o.db, o.metrics, b.setScript) }},
		{"SponsorFee transactions", func() error { return txs14.insert(ctx, o.db, o.metrics, b.sponsorFee) }},
		{"SetAssetScript transactions", func() error { return txs15.insert(ctx, o.db, o.metrics, b.setAssetScript) }},
		{"InvokeScript transactions", func() error { return o.insertInvokeScripts(ctx, b.invokeScript) }},
		{"UpdateAssetInfo transactions", func() error { return txs17.insert(ctx, o.db, o.metrics, b.updateAssetInfo) }},
		{"Ethereum transactions", func() error { return o.insertEthereumTxs(ctx, b.ethereum) }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			return wrap(err, "insert %s", s.what)
		}
	}
	return nil
}

func (o *pgOperations) insertLeaseCancels(ctx context.Context, txs []model.LeaseCancelTx) error {
	if len(txs) == 0 {
		return nil
	}
	var ids []string
	seen := make(map[string]struct{})
	for _, tx := range txs {
		if tx.LeaseID == nil {
			continue
		}
		if _, ok := seen[*tx.LeaseID]; !ok {
			seen[*tx.LeaseID] = struct{}{}
			ids = append(ids, *tx.LeaseID)
		}
	}
	uids, err := o.lookupTxUIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("find uids for lease ids: %w", err)
	}
	rows := make([]leaseCancelRow, len(txs))
	for i, tx := range txs {
		rows[i] = leaseCancelRow{tx: tx}
		if tx.LeaseID == nil {
			continue
		}
		// An unknown lease is stored as a NULL reference.
		if uid, ok := uids[*tx.LeaseID]; ok {
			rows[i].leaseUID = &uid
		}
	}
	return txs9.insert(ctx, o.db, o.metrics, rows)
}

type txRef struct {
	id  string
	uid int64
}

// lookupTxUIDs maps transaction ids to uids for every id already stored.
func (o *pgOperations) lookupTxUIDs(ctx context.Context, ids []string) (map[string]int64, error) {
	refs, err := chunked.Apply(ids, len(envelopeColumns), func(chunk []string) ([]txRef, error) {
		rows, err := o.db.Query(ctx, `SELECT id, uid FROM txs WHERE id = ANY($1::text[])`, chunk)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, func(row pgx.CollectableRow) (txRef, error) {
			var r txRef
			err := row.Scan(&r.id, &r.uid)
			return r, err
		})
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(refs))
	for _, r := range refs {
		out[r.id] = r.uid
	}
	return out, nil
}

func (o *pgOperations) insertMassTransfers(ctx context.Context, txs []model.MassTransferTx) error {
	if err := txs11.insert(ctx, o.db, o.metrics, txs); err != nil {
		return err
	}
	transfers := flatten(txs, func(tx model.MassTransferTx) []model.MassTransfer { return tx.Transfers })
	if err := txs11Transfers.insert(ctx, o.db, o.metrics, transfers); err != nil {
		return fmt.Errorf("transfers: %w", err)
	}
	return nil
}

func (o *pgOperations) insertDataTxs(ctx context.Context, txs []model.DataTx) error {
	if err := txs12.insert(ctx, o.db, o.metrics, txs); err != nil {
		return err
	}
	data := flatten(txs, func(tx model.DataTx) []model.DataEntry { return tx.Data })
	if err := txs12Data.insert(ctx, o.db, o.metrics, data); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return nil
}

func (o *pgOperations) insertInvokeScripts(ctx context.Context, txs []model.InvokeScriptTx) error {
	if err := txs16.insert(ctx, o.db, o.metrics, txs); err != nil {
		return err
	}
	args := flatten(txs, func(tx model.InvokeScriptTx) []model.InvokeArg { return tx.Args })
	if err := txs16Args.insert(ctx, o.db, o.metrics, args); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	payments := flatten(txs, func(tx model.InvokeScriptTx) []model.Payment { return tx.Payments })
	if err := txs16Payment.insert(ctx, o.db, o.metrics, payments); err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	return nil
}

func (o *pgOperations) insertEthereumTxs(ctx context.Context, txs []model.EthereumTx) error {
	if err := txs18.insert(ctx, o.db, o.metrics, txs); err != nil {
		return err
	}
	args := flatten(txs, func(tx model.EthereumTx) []model.InvokeArg { return tx.Args })
	if err := txs18Args.insert(ctx, o.db, o.metrics, args); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	payments := flatten(txs, func(tx model.EthereumTx) []model.Payment { return tx.Payments })
	if err := txs18Payment.insert(ctx, o.db, o.metrics, payments); err != nil {
		return fmt.Errorf("payments: %w", err)
	}
	return nil
}

// RollbackTxs deletes transactions above blockUID. Child rows go with their
// parent through ON DELETE CASCADE.
func (o *pgOperations) RollbackTxs(ctx context.Context, blockUID int64) error {
	if _, err := o.db.Exec(ctx, `DELETE FROM txs WHERE block_uid > $1`, blockUID); err != nil {
		return wrap(err, "rollback transactions above block %d", blockUID)
	}
	return nil
}

func (o *pgOperations) UpdateTxsBlockReferences(ctx context.Context, blockUID int64) error {
	if _, err := o.db.Exec(ctx, `UPDATE txs SET block_uid = $1 WHERE block_uid > $1`, blockUID); err != nil {
		return wrap(err, "update transaction block references to %d", blockUID)
	}
	return nil
}
