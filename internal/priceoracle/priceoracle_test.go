package priceoracle

import (
	"context"
	"testing"
	"time"
)

func TestFakeSource_GetPrice(t *testing.T) {
	src := NewFakeSource()
	now := time.Now()
	src.Set("SOL", "USDC", Price{Base: "SOL", Quote: "USDC", Rate: 150.25, PublishedAt: now})

	p, err := src.GetPrice(context.Background(), "SOL", "USDC")
	if err != nil {
		t.Fatalf("GetPrice() error = %v", err)
	}
	if p.Rate != 150.25 {
		t.Errorf("Rate = %v, want 150.25", p.Rate)
	}
}

func TestFakeSource_GetPrice_Unset(t *testing.T) {
	src := NewFakeSource()
	if _, err := src.GetPrice(context.Background(), "XLM", "USDC"); err == nil {
		t.Error("expected error for unset pair, got nil")
	}
}

func TestCheckFreshness(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name        string
		publishedAt time.Time
		maxAge      time.Duration
		wantErr     bool
	}{
		{"fresh", now.Add(-1 * time.Second), 5 * time.Second, false},
		{"exactly at boundary", now.Add(-5 * time.Second), 5 * time.Second, false},
		{"stale", now.Add(-10 * time.Second), 5 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Price{PublishedAt: tt.publishedAt}
			err := CheckFreshness(p, tt.maxAge, now)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckFreshness() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
