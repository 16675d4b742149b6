package nearexec

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cedros-labs/payment-engine/internal/chain"
	"github.com/cedros-labs/payment-engine/internal/executor"
	"github.com/cedros-labs/payment-engine/internal/money"
	"github.com/mr-tron/base58"
)

const defaultTimeout = 10 * time.Second

// Executor transfers native NEAR and NEP-141 fungible tokens from a
// treasury account, talking to NEAR JSON-RPC directly (see rpc.go's doc
// comment for why no SDK is used).
type Executor struct {
	rpc               *rpcClient
	treasuryAccountID string
	treasuryPriv       ed25519.PrivateKey
	treasuryPub        ed25519.PublicKey
	settlementAccount  string
}

// New builds an Executor against a NEAR JSON-RPC endpoint.
func New(rpcURL, treasuryAccountID string, treasuryPriv ed25519.PrivateKey, settlementAccount string) *Executor {
	pub := treasuryPriv.Public().(ed25519.PublicKey)
	return &Executor{
		rpc:               newRPCClient(rpcURL),
		treasuryAccountID: treasuryAccountID,
		treasuryPriv:      treasuryPriv,
		treasuryPub:       pub,
		settlementAccount: settlementAccount,
	}
}

type accessKeyView struct {
	Nonce     uint64 `json:"nonce"`
	BlockHash string `json:"block_hash"`
}

type accountView struct {
	Amount string `json:"amount"`
}

type callFunctionResult struct {
	Result []byte `json:"result"`
}

func (e *Executor) nextNonceAndBlockHash(ctx context.Context) (uint64, []byte, error) {
	var res struct {
		Nonce     uint64 `json:"nonce"`
		BlockHash string `json:"block_hash"`
	}
	err := e.rpc.call(ctx, "query", map[string]interface{}{
		"request_type":   "view_access_key",
		"finality":       "final",
		"account_id":     e.treasuryAccountID,
		"public_key":     "ed25519:" + base58.Encode(e.treasuryPub),
	}, &res)
	if err != nil {
		return 0, nil, fmt.Errorf("nearexec: fetch access key: %w", err)
	}
	hash, err := base58.Decode(res.BlockHash)
	if err != nil {
		return 0, nil, fmt.Errorf("nearexec: decode block hash: %w", err)
	}
	return res.Nonce + 1, hash, nil
}

// Submit builds, signs, and broadcasts the execution-chain transfer for q.
func (e *Executor) Submit(ctx context.Context, q *executor.QuoteView) (executor.SubmitResult, error) {
	asset, err := money.GetAsset(q.ExecutionAsset)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("nearexec: %w", err)
	}

	nonce, blockHash, err := e.nextNonceAndBlockHash(ctx)
	if err != nil {
		return executor.SubmitResult{}, err
	}

	tx := &unsignedTransaction{
		SignerID:   e.treasuryAccountID,
		PublicKey:  e.treasuryPub,
		Nonce:      nonce,
		ReceiverID: q.PaymentAddress,
		BlockHash:  blockHash,
	}

	if asset.Code == "NEAR" {
		tx.Deposit = q.ExecutionCost.Atomic
	} else {
		contract, err := asset.GetNEARTokenContract()
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("nearexec: %w", err)
		}
		args, err := json.Marshal(map[string]string{
			"receiver_id": q.PaymentAddress,
			"amount":      strconv.FormatInt(q.ExecutionCost.Atomic, 10),
		})
		if err != nil {
			return executor.SubmitResult{}, fmt.Errorf("nearexec: encode ft_transfer args: %w", err)
		}
		tx.FTContractID = contract
		tx.FTTransferArgs = args
	}

	signedBytes, txHash, err := sign(tx, e.treasuryPriv)
	if err != nil {
		return executor.SubmitResult{}, fmt.Errorf("nearexec: sign transaction: %w", err)
	}

	var broadcastResult struct {
		Transaction struct {
			Hash string `json:"hash"`
		} `json:"transaction"`
	}
	if err := e.rpc.call(ctx, "broadcast_tx_commit", []string{base64.StdEncoding.EncodeToString(signedBytes)}, &broadcastResult); err != nil {
		return executor.SubmitResult{}, fmt.Errorf("nearexec: broadcast transaction: %w", err)
	}

	hash := broadcastResult.Transaction.Hash
	if hash == "" {
		hash = txHash
	}

	return executor.SubmitResult{
		TxHash:  hash,
		GasCost: chain.Amount{Asset: "NEAR", Atomic: 300_000_000_000_000}, // fixed figure of 3e14 yoctoNEAR (3e-10 NEAR), not read from the RPC result
	}, nil
}

// ProbeBalance returns address's balance of asset in the chain's smallest
// unit (yoctoNEAR, or the NEP-141 contract's own base unit).
func (e *Executor) ProbeBalance(ctx context.Context, address, assetCode string) (chain.Amount, error) {
	asset, err := money.GetAsset(assetCode)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("nearexec: %w", err)
	}

	if asset.Code == "NEAR" {
		var acct accountView
		if err := e.rpc.call(ctx, "query", map[string]interface{}{
			"request_type": "view_account",
			"finality":     "final",
			"account_id":   address,
		}, &acct); err != nil {
			return chain.Amount{}, fmt.Errorf("nearexec: view_account: %w", err)
		}
		atomic, err := strconv.ParseInt(acct.Amount, 10, 64)
		if err != nil {
			return chain.Amount{}, fmt.Errorf("nearexec: parse balance %q: %w", acct.Amount, err)
		}
		return chain.Amount{Asset: "NEAR", Atomic: atomic}, nil
	}

	contract, err := asset.GetNEARTokenContract()
	if err != nil {
		return chain.Amount{}, fmt.Errorf("nearexec: %w", err)
	}
	args, err := json.Marshal(map[string]string{"account_id": address})
	if err != nil {
		return chain.Amount{}, fmt.Errorf("nearexec: encode ft_balance_of args: %w", err)
	}
	var res callFunctionResult
	if err := e.rpc.call(ctx, "query", map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contract,
		"method_name":  "ft_balance_of",
		"args_base64":  base64.StdEncoding.EncodeToString(args),
	}, &res); err != nil {
		return chain.Amount{}, fmt.Errorf("nearexec: call_function ft_balance_of: %w", err)
	}
	var quoted string
	if err := json.Unmarshal(bytesOf(res.Result), &quoted); err != nil {
		return chain.Amount{}, fmt.Errorf("nearexec: decode ft_balance_of result: %w", err)
	}
	atomic, err := strconv.ParseInt(quoted, 10, 64)
	if err != nil {
		return chain.Amount{}, fmt.Errorf("nearexec: parse balance %q: %w", quoted, err)
	}
	return chain.Amount{Asset: assetCode, Atomic: atomic}, nil
}

// Confirm polls a transaction's status until it lands or timeout elapses.
// NEAR's broadcast_tx_commit already waits for inclusion, so this mostly
// guards against a node that returned before the receipt chain finished
// executing cross-contract calls (NEP-141 transfers span two receipts).
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
			var status struct {
				Status struct {
					SuccessValue     *string `json:"SuccessValue"`
					SuccessReceiptID *string `json:"SuccessReceiptId"`
					Failure          interface{} `json:"Failure"`
				} `json:"status"`
			}
			if err := e.rpc.call(ctx, "tx", []string{txHash, e.treasuryAccountID}, &status); err != nil {
				continue
			}
			if status.Status.Failure != nil {
				return executor.ConfirmStatusFailed, nil
			}
			if status.Status.SuccessValue != nil || status.Status.SuccessReceiptID != nil {
				return executor.ConfirmStatusConfirmed, nil
			}
		}
	}
}

// TransferToTreasury implements the settlement scheduler's aggregation
// primitive (spec §4.6).
func (e *Executor) TransferToTreasury(ctx context.Context, asset string, amount chain.Amount) (executor.SubmitResult, error) {
	return e.Submit(ctx, &executor.QuoteView{
		ExecutionAsset: asset,
		ExecutionCost:  amount,
		PaymentAddress: e.settlementAccount,
	})
}

func bytesOf(b []byte) []byte {
	if len(b) == 0 {
		return []byte("\"\"")
	}
	return b
}
