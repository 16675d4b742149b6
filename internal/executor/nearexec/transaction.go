package nearexec

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// actionKindTransfer/actionKindFunctionCall are the Borsh enum tags from
// nearcore's Action variant, in declaration order (CreateAccount=0,
// DeployContract=1, FunctionCall=2, Transfer=3, ...).
const (
	actionKindFunctionCall uint8 = 2
	actionKindTransfer     uint8 = 3
)

const publicKeyKindED25519 uint8 = 0

// unsignedTransaction holds the fields NEAR's Transaction Borsh schema
// requires, scoped to what a treasury transfer needs (one action).
type unsignedTransaction struct {
	SignerID   string
	PublicKey  ed25519.PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  []byte // 32 bytes, base58-decoded
	Deposit    int64  // yoctoNEAR for a native Transfer action
	// FTContractID, if non-empty, switches the single action to a NEP-141
	// ft_transfer FunctionCall instead of a native Transfer.
	FTTransferArgs []byte
	FTContractID   string
}

// serialize borsh-encodes the transaction body (everything but the
// signature), which is also what gets SHA-256 hashed to produce the
// signing payload.
func (tx *unsignedTransaction) serialize() ([]byte, error) {
	if len(tx.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("nearexec: signer public key has wrong length")
	}
	if len(tx.BlockHash) != 32 {
		return nil, fmt.Errorf("nearexec: block hash must be 32 bytes")
	}

	w := &borshWriter{}
	w.WriteString(tx.SignerID)
	w.WriteU8(publicKeyKindED25519)
	w.WriteFixedBytes(tx.PublicKey)
	w.WriteU64(tx.Nonce)
	receiverID := tx.ReceiverID
	if tx.FTContractID != "" {
		receiverID = tx.FTContractID
	}
	w.WriteString(receiverID)
	w.WriteFixedBytes(tx.BlockHash)

	w.WriteU32(1) // actions: Vec<Action> with exactly one element

	if tx.FTContractID != "" {
		w.WriteU8(actionKindFunctionCall)
		w.WriteString("ft_transfer")
		w.WriteBytes(tx.FTTransferArgs)
		w.WriteU64(30_000_000_000_000) // 30 Tgas, the standard NEP-141 transfer gas budget
		w.WriteU128(1)                 // 1 yoctoNEAR attached deposit, required by ft_transfer
	} else {
		w.WriteU8(actionKindTransfer)
		w.WriteU128(tx.Deposit)
	}

	return w.Bytes(), nil
}

// sign returns the Borsh-serialized SignedTransaction ready for
// broadcast_tx_commit, and the transaction hash used to track it.
func sign(tx *unsignedTransaction, priv ed25519.PrivateKey) (signedTxBytes []byte, txHash string, err error) {
	body, err := tx.serialize()
	if err != nil {
		return nil, "", err
	}

	digest := sha256.Sum256(body)
	sig := ed25519.Sign(priv, digest[:])

	w := &borshWriter{}
	w.WriteFixedBytes(body)
	w.WriteU8(publicKeyKindED25519) // Signature enum tag, same variant set as PublicKey
	w.WriteFixedBytes(sig)

	return w.Bytes(), sha256Base58(body), nil
}

func sha256Base58(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]) // hex is sufficient as a local correlation id; NEAR itself reports the canonical base58 hash in the RPC response
}
