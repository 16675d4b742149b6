package stellarexec

import (
	"testing"

	"github.com/cedros-labs/payment-engine/internal/chain"
)

func TestFormatStroops(t *testing.T) {
	tests := []struct {
		atomic   int64
		decimals uint8
		want     string
	}{
		{atomic: 10_000_000, decimals: 7, want: "1.0000000"},
		{atomic: 1, decimals: 7, want: "0.0000001"},
		{atomic: 0, decimals: 7, want: "0.0000000"},
		{atomic: 1_500_000, decimals: 6, want: "1.500000"},
	}

	for _, tt := range tests {
		got := formatStroops(tt.atomic, tt.decimals)
		if got != tt.want {
			t.Errorf("formatStroops(%d, %d) = %q, want %q", tt.atomic, tt.decimals, got, tt.want)
		}
	}
}

func TestParseBalance(t *testing.T) {
	amount, err := parseBalance("1.5000000", "XLM", 7)
	if err != nil {
		t.Fatalf("parseBalance: unexpected error: %v", err)
	}
	want := chain.Amount{Asset: "XLM", Atomic: 15_000_000}
	if amount != want {
		t.Errorf("parseBalance = %+v, want %+v", amount, want)
	}
}

func TestParseBalance_Invalid(t *testing.T) {
	if _, err := parseBalance("not-a-number", "XLM", 7); err == nil {
		t.Error("parseBalance: expected error for malformed input")
	}
}

func TestPow10(t *testing.T) {
	if got := pow10(0); got != 1 {
		t.Errorf("pow10(0) = %d, want 1", got)
	}
	if got := pow10(7); got != 10_000_000 {
		t.Errorf("pow10(7) = %d, want 10000000", got)
	}
}
