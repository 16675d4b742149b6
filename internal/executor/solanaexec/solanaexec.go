// Package solanaexec implements internal/executor.Executor for Solana,
// grounded on the teacher's pkg/x402/solana package: the same rpc.Client/
// ws.Client pairing, the RPC-polling confirmation loop
// (awaitConfirmationViaRPC; the websocket client is connected but not used
// for confirmation), and the same gagliardetto/solana-go transaction
// construction idiom, redirected
// from verifying an inbound x402 payment to building and broadcasting an
// outbound treasury transfer.
package solanaexec

import (
	"context"
	"fmt"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/money"
	"github.com/cedros-labs/payment-engine/internal/rpcutil"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// Executor transfers native SOL and SPL tokens from a treasury wallet.
type Executor struct {
	rpcClient         *rpc.Client
	wsClient          *ws.Client
	treasury          solanago.PrivateKey
	settlementAddress string
}

// New connects to the Solana RPC/WS endpoints and builds an Executor backed
// by the treasury keypair. The websocket connection mirrors the teacher's
// NewSolanaVerifier wiring. settlementAddress is the destination the
// periodic settlement scheduler aggregates this chain's treasury into
// (spec §4.6's transfer_to_treasury primitive).
func New(ctx context.Context, rpcURL, wsURL string, treasury solanago.PrivateKey, settlementAddress string) (*Executor, error) {
	if rpcURL == "" {
		return nil, fmt.Errorf("solanaexec: rpc url required")
	}
	wsClient, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("solanaexec: connect websocket: %w", err)
	}
	return &Executor{
		rpcClient:         rpc.New(rpcURL),
		wsClient:          wsClient,
		treasury:          treasury,
		settlementAddress: settlementAddress,
	}, nil
}

// Submit builds, signs, and broadcasts the execution-chain transfer for q.
func (e *Executor) Submit(ctx context.Context, q *executor.QuoteView) (executor.SubmitResult, error) {
	recipient, err := solanago.PublicKeyFromBase58(q.PaymentAddress)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("solanaexec: invalid recipient address: %w", err)
	}

	asset, err := money.GetAsset(q.ExecutionAsset)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("solanaexec: %w", err)
	}

	var ix solanago.Instruction
	if asset.Code == "SOL" {
		ix = system.NewTransferInstruction(
			uint64(q.ExecutionCost.Atomic),
			e.treasury.PublicKey(),
			recipient,
		).Build()
	} else {
		mint, err := asset.GetSolanaMint()
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("solanaexec: %w", err)
		}
		mintKey, err := solanago.PublicKeyFromBase58(mint)
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("solanaexec: invalid mint %q: %w", mint, err)
		}
		srcATA, _, err := solanago.FindAssociatedTokenAddress(e.treasury.PublicKey(), mintKey)
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("solanaexec: derive treasury ata: %w", err)
		}
		dstATA, _, err := solanago.FindAssociatedTokenAddress(recipient, mintKey)
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("solanaexec: derive recipient ata: %w", err)
		}
		// TransferChecked (not the bare Transfer instruction) validates the
		// mint and decimals on-chain, the same safety margin the teacher's
		// gasless builder uses for SPL transfers.
		ix = tokenprog.NewTransferCheckedInstruction(
			uint64(q.ExecutionCost.Atomic),
			asset.Decimals,
			srcATA, mintKey, dstATA, e.treasury.PublicKey(),
			[]solanago.PublicKey{},
		).Build()
	}

	blockhash, err := rpcutil.WithRetry(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return e.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("solanaexec: get latest blockhash: %w", err)
	}

	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{ix},
		blockhash.Value.Blockhash,
		solanago.TransactionPayer(e.treasury.PublicKey()),
	)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("solanaexec: build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(e.treasury.PublicKey()) {
			return &e.treasury
		}
		return nil
	}); err != nil {
		return executor.SubmitResult{}, fmt.Errorf("solanaexec: sign transaction: %w", err)
	}

	sig, err := rpcutil.WithRetry(ctx, func() (solanago.Signature, error) {
		return e.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{SkipPreflight: false})
	})
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("solanaexec: broadcast transaction: %w", err)
	}

	return executor.SubmitResult{
		TxHash:  sig.String(),
		GasCost: chain.Amount{Asset: "SOL", Atomic: 5000}, // typical base fee, lamports
	}, nil
}

// ProbeBalance returns the treasury-or-arbitrary address's balance of asset.
func (e *Executor) ProbeBalance(ctx context.Context, address, assetCode string) (chain.Amount, error) {
	pub, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("solanaexec: invalid address: %w", err)
	}

	asset, err := money.GetAsset(assetCode)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("solanaexec: %w", err)
	}

	if asset.Code == "SOL" {
		res, err := rpcutil.WithRetry(ctx, func() (*rpc.GetBalanceResult, error) {
			return e.rpcClient.GetBalance(ctx, pub, rpc.CommitmentConfirmed)
		})
		if err != nil {
			return chain.Amount{}, fmt.Errorf("solanaexec: get balance: %w", err)
		}
		return chain.Amount{Asset: "SOL", Atomic: int64(res.Value)}, nil
	}

	mint, err := asset.GetSolanaMint()
	if err != nil {
		return chain.Amount{}, fmt.Errorf("solanaexec: %w", err)
	}
	mintKey, err := solanago.PublicKeyFromBase58(mint)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("solanaexec: invalid mint %q: %w", mint, err)
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(pub, mintKey)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("solanaexec: derive ata: %w", err)
	}
	res, err := rpcutil.WithRetry(ctx, func() (*rpc.GetTokenAccountBalanceResult, error) {
		return e.rpcClient.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	})
	if err != nil {
		// A never-initialized token account reads as zero balance rather
		// than an error — the recipient simply hasn't received this asset
		// yet, which is not itself a failure condition.
		return chain.Amount{Asset: assetCode, Atomic: 0}, nil
	}
	atomic, err := parseAtomicAmount(res.Value.Amount)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("solanaexec: %w", err)
	}
	return chain.Amount{Asset: assetCode, Atomic: atomic}, nil
}

// Confirm polls the signature status until finalized, failed, or timeout —
// the teacher's awaitConfirmationViaRPC loop, generalized to return a
// ConfirmStatus instead of an error.
func (e *Executor) Confirm(ctx context.Context, txHash string, timeout time.Duration) (executor.ConfirmStatus, error) {
	sig, err := solanago.SignatureFromBase58(txHash)
	if err != nil {
		return executor.ConfirmStatusFailed, fmt.Errorf("solanaexec: invalid signature %q: %w", txHash, err)
	}

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
			status, err := e.rpcClient.GetSignatureStatuses(ctx, true, sig)
			if err != nil || status == nil || len(status.Value) == 0 || status.Value[0] == nil {
				continue
			}
			s := status.Value[0]
			if s.Err != nil {
				return executor.ConfirmStatusFailed, nil
			}
			if s.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return executor.ConfirmStatusConfirmed, nil
			}
		}
	}
}

// TransferToTreasury moves an aggregate settlement amount of asset from this
// treasury wallet to the configured settlement destination. For Solana the
// settlement destination is the same treasury-transfer primitive as Submit,
// just re-addressed to the off-chain settlement account.
func (e *Executor) TransferToTreasury(ctx context.Context, asset string, amount chain.Amount) (executor.SubmitResult, error) {
	return e.Submit(ctx, &executor.QuoteView{
		ExecutionAsset: asset,
		ExecutionCost:  amount,
		PaymentAddress: e.settlementAddress,
	})
}

func parseAtomicAmount(s string) (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", s, err)
	}
	return v, nil
}
