package nearexec

import (
	"crypto/ed25519"
	"crypto/sha256"
	"testing"
)

func testTx(t *testing.T) (*unsignedTransaction, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &unsignedTransaction{
		SignerID:   "treasury.near",
		PublicKey:  pub,
		Nonce:      42,
		ReceiverID: "alice.near",
		BlockHash:  bytes32(0x01),
		Deposit:    1_000_000_000_000_000_000_000_000,
	}, priv
}

func bytes32(fill byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestUnsignedTransaction_Serialize_RejectsBadBlockHash(t *testing.T) {
	tx, _ := testTx(t)
	tx.BlockHash = []byte{1, 2, 3}
	if _, err := tx.serialize(); err == nil {
		t.Error("serialize: expected error for short block hash")
	}
}

func TestUnsignedTransaction_Serialize_Deterministic(t *testing.T) {
	tx, _ := testTx(t)
	a, err := tx.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	b, err := tx.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if string(a) != string(b) {
		t.Error("serialize: expected identical output for identical input")
	}
}

func TestSign_ProducesDistinctHashForFTTransfer(t *testing.T) {
	tx, priv := testTx(t)
	_, nativeHash, err := sign(tx, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tx.FTContractID = "usdc.fakes.testnet"
	tx.FTTransferArgs = []byte(`{"receiver_id":"alice.near","amount":"1000000"}`)
	signedBytes, ftHash, err := sign(tx, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if ftHash == nativeHash {
		t.Error("expected ft_transfer tx hash to differ from native transfer tx hash")
	}
	if len(signedBytes) == 0 {
		t.Error("expected non-empty signed transaction bytes")
	}
}

func TestSign_VerifiesUnderPublicKey(t *testing.T) {
	tx, priv := testTx(t)
	body, err := tx.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	signedBytes, _, err := sign(tx, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// signed bytes are body || sig-tag || signature; the signature covers
	// the SHA-256 digest of the serialized body.
	sig := signedBytes[len(body)+1:]
	digest := sha256.Sum256(body)
	if !ed25519.Verify(tx.PublicKey, digest[:], sig) {
		t.Error("signature does not verify against the digest of the serialized body")
	}
}
