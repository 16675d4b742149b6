package solanaexec

import "testing"

func TestParseAtomicAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "5000000000", want: 5000000000},
		{in: "1", want: 1},
		{in: "not-a-number", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseAtomicAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseAtomicAmount(%q): expected error, got nil", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseAtomicAmount(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseAtomicAmount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
