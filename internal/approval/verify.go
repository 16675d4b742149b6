// Package approval implements the spending-approval protocol (spec §4.2):
// binding a user's signed intent to a quote before funds move, independent
// of the on-chain payment. Signature verification follows the teacher's
// internal/auth.SignatureVerifier (Ed25519 over a base64 signature with a
// chain-specific address decoding step for the public key).
package approval

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/cedros-labs/payment-engine/internal/chain"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stellar/go/strkey"
)

// VerifySignature checks that signatureB64 is a valid Ed25519 signature over
// message by walletAddress, decoded per c's native address format. All
// three supported chains use Ed25519; only the address encoding differs
// (spec §4.2).
func VerifySignature(c chain.Chain, walletAddress, message, signatureB64 string) error {
	sigBytes, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("approval: invalid signature encoding: %w", err)
	}

	pubKey, err := decodePublicKey(c, walletAddress)
	if err != nil {
		return fmt.Errorf("approval: %w", err)
	}

	if !ed25519.Verify(pubKey, []byte(message), sigBytes) {
		return fmt.Errorf("approval: signature verification failed")
	}
	return nil
}

// decodePublicKey recovers the raw Ed25519 public key from a chain-native
// wallet address.
func decodePublicKey(c chain.Chain, address string) (ed25519.PublicKey, error) {
	switch c {
	case chain.Solana:
		pk, err := solanago.PublicKeyFromBase58(address)
		if err != nil {
			return nil, fmt.Errorf("invalid solana address: %w", err)
		}
		return ed25519.PublicKey(pk[:]), nil

	case chain.Stellar:
		raw, err := strkey.Decode(strkey.VersionByteAccountID, address)
		if err != nil {
			return nil, fmt.Errorf("invalid stellar address: %w", err)
		}
		return ed25519.PublicKey(raw), nil

	case chain.NEAR:
		// NEAR implicit accounts are the lowercase hex encoding of the
		// Ed25519 public key itself.
		raw, err := hex.DecodeString(address)
		if err != nil {
			return nil, fmt.Errorf("invalid near implicit account: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("near implicit account has wrong key length: %d", len(raw))
		}
		return ed25519.PublicKey(raw), nil

	default:
		return nil, fmt.Errorf("unsupported chain: %s", c)
	}
}
