// Package stellarexec implements internal/executor.Executor for Stellar,
// grounded on other_examples' stellar-disbursement-platform-backend
// transaction_worker.go: horizonclient for account/sequence lookup and
// submission, txnbuild for payment-operation construction, strkey for
// address validation. Simplified from the teacher pack's channel-account +
// fee-bump pool (built for high-throughput disbursement campaigns) down to
// a single treasury keypair signing its own sequence, since the payment
// engine submits one transfer per execution rather than batched payouts.
package stellarexec

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/money"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
)

// Executor submits native XLM and credit-alphanum4 payments from a treasury
// account.
type Executor struct {
	client            *horizonclient.Client
	treasury          *keypair.Full
	networkPassphrase string
	settlementAddress string
}

// New builds an Executor against a Horizon endpoint.
func New(horizonURL string, treasury *keypair.Full, networkPassphrase, settlementAddress string) *Executor {
	return &Executor{
		client:            &horizonclient.Client{HorizonURL: horizonURL},
		treasury:          treasury,
		networkPassphrase: networkPassphrase,
		settlementAddress: settlementAddress,
	}
}

// Submit builds, signs, and submits the execution-chain payment for q.
func (e *Executor) Submit(_ context.Context, q *executor.QuoteView) (executor.SubmitResult, error) {
	if !strkey.IsValidEd25519PublicKey(q.PaymentAddress) {
		return executor.SubmitResult{}, fmt.Errorf("stellarexec: invalid destination address %q", q.PaymentAddress)
	}

	asset, err := money.GetAsset(q.ExecutionAsset)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("stellarexec: %w", err)
	}
	var txAsset txnbuild.Asset = txnbuild.NativeAsset{}
	if asset.Code != "XLM" {
		issuer, err := asset.GetStellarIssuer()
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("stellarexec: %w", err)
		}
		txAsset = txnbuild.CreditAsset{Code: asset.Code, Issuer: issuer}
	}

	account, err := e.client.AccountDetail(horizonclient.AccountRequest{AccountID: e.treasury.Address()})
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("stellarexec: load treasury account: %w", err)
	}

	amountStr := formatStroops(q.ExecutionCost.Atomic, asset.Decimals)

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount: &account,
		Operations: []txnbuild.Operation{
			&txnbuild.Payment{
				Destination: q.PaymentAddress,
				Amount:      amountStr,
				Asset:       txAsset,
			},
		},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
		IncrementSequenceNum: true,
		Memo:                 txnbuild.MemoText(q.PaymentMemo),
	})
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("stellarexec: build transaction: %w", err)
	}

	tx, err = tx.Sign(e.networkPassphrase, e.treasury)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("stellarexec: sign transaction: %w", err)
	}

	resp, err := e.client.SubmitTransaction(tx)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("stellarexec: submit transaction: %w", err)
	}

	return executor.SubmitResult{
		TxHash:  resp.Hash,
		GasCost: chain.Amount{Asset: "XLM", Atomic: txnbuild.MinBaseFee},
	}, nil
}

// ProbeBalance reads the requested asset's balance from a Stellar account.
func (e *Executor) ProbeBalance(_ context.Context, address, assetCode string) (chain.Amount, error) {
	account, err := e.client.AccountDetail(horizonclient.AccountRequest{AccountID: address})
	if err != nil {
		return chain.Amount{}, fmt.Errorf("stellarexec: load account: %w", err)
	}

	asset, err := money.GetAsset(assetCode)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("stellarexec: %w", err)
	}

	for _, bal := range account.Balances {
		if asset.Code == "XLM" && bal.Asset.Type == "native" {
			return parseBalance(bal.Balance, assetCode, asset.Decimals)
		}
		if bal.Asset.Code == asset.Code {
			return parseBalance(bal.Balance, assetCode, asset.Decimals)
		}
	}
	return chain.Amount{Asset: assetCode, Atomic: 0}, nil
}

// Confirm polls Horizon for the transaction until it appears or timeout
// elapses. Horizon transactions are final the moment they're included in a
// ledger, so there is no separate "finalized vs confirmed" distinction like
// Solana's.
func (e *Executor) Confirm(ctx context.Context, txHash string, timeout time.Duration) (executor.ConfirmStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return executor.ConfirmStatusTimeout, nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return executor.ConfirmStatusTimeout, nil
			}
			tx, err := e.client.TransactionDetail(txHash)
			if err != nil {
				continue
			}
			if tx.Successful {
				return executor.ConfirmStatusConfirmed, nil
			}
			return executor.ConfirmStatusFailed, nil
		}
	}
}

// TransferToTreasury implements the settlement scheduler's aggregation
// primitive (spec §4.6).
func (e *Executor) TransferToTreasury(ctx context.Context, asset string, amount chain.Amount) (executor.SubmitResult, error) {
	return e.Submit(ctx, &executor.QuoteView{
		ExecutionAsset: asset,
		ExecutionCost:  amount,
		PaymentAddress: e.settlementAddress,
	})
}

// formatStroops converts an atomic-unit integer amount into the decimal
// string format txnbuild.Payment.Amount expects.
func formatStroops(atomic int64, decimals uint8) string {
	divisor := pow10(decimals)
	whole := atomic / divisor
	frac := atomic % divisor
	return fmt.Sprintf("%d.%0*d", whole, decimals, frac)
}

func parseBalance(s, assetCode string, decimals uint8) (chain.Amount, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("stellarexec: parse balance %q: %w", s, err)
	}
	return chain.Amount{Asset: assetCode, Atomic: int64(f * float64(pow10(decimals)))}, nil
}

func pow10(n uint8) int64 {
	v := int64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}
