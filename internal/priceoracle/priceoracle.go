// Package priceoracle supplies the execution-chain/funding-chain exchange
// rate and freshness contract a quote is priced against (spec §4.1, §9).
// The capability interface lets the quote engine stay agnostic of where
// prices come from; the HTTP implementation follows the teacher's
// httputil.NewClient + rpcutil.WithRetry idiom.
package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cedros-labs/payment-engine/internal/cacheutil"
	"github.com/cedros-labs/payment-engine/internal/httputil"
	"github.com/cedros-labs/payment-engine/internal/rpcutil"
)

// Price is a funding-asset-per-execution-asset quote with a publish time
// the caller must check against its own freshness window.
type Price struct {
	Base        string // execution asset code
	Quote       string // funding asset code
	Rate        float64
	PublishedAt time.Time
}

// ErrStale is returned by Source implementations (or by the quote engine
// consuming them) when a price is older than the caller's max age.
var ErrStale = fmt.Errorf("priceoracle: price is stale")

// Source is the price-feed capability the quote engine depends on.
type Source interface {
	GetPrice(ctx context.Context, base, quote string) (Price, error)
}

// HTTPSource fetches prices from a JSON price-feed endpoint, following the
// teacher's pattern of a thin HTTP client plus rpcutil.WithRetry around the
// single round trip that can transiently fail.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource builds an HTTPSource against a price-feed base URL.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  httputil.NewClient(timeout),
	}
}

type priceResponse struct {
	Rate        float64 `json:"rate"`
	PublishTime int64   `json:"publish_time"` // unix seconds
}

// GetPrice fetches the current base/quote rate, retrying transient network
// errors via rpcutil.WithRetry.
func (s *HTTPSource) GetPrice(ctx context.Context, base, quote string) (Price, error) {
	url := fmt.Sprintf("%s/price?base=%s&quote=%s", s.baseURL, base, quote)

	return rpcutil.WithRetry(ctx, func() (Price, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Price{}, fmt.Errorf("build price request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return Price{}, fmt.Errorf("fetch price: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Price{}, fmt.Errorf("price oracle returned status %d", resp.StatusCode)
		}

		var pr priceResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return Price{}, fmt.Errorf("decode price response: %w", err)
		}

		return Price{
			Base:        base,
			Quote:       quote,
			Rate:        pr.Rate,
			PublishedAt: time.Unix(pr.PublishTime, 0).UTC(),
		}, nil
	})
}

// CachedSource wraps a Source with an in-memory read-through cache keyed by
// base/quote pair, following the teacher's cacheutil.ReadThrough
// double-checked-locking helper so concurrent quote requests for the same
// pair within ttl share one fetch instead of each hitting the price feed.
// PublishedAt is passed through from the underlying fetch untouched, so
// CheckFreshness still measures staleness against the feed's own publish
// time rather than the cache's.
type CachedSource struct {
	underlying Source
	ttl        time.Duration
	mu         sync.RWMutex
	cache      map[string]cacheutil.CachedValue[Price]
}

// NewCachedSource builds a CachedSource wrapping underlying, caching each
// base/quote pair's result for ttl.
func NewCachedSource(underlying Source, ttl time.Duration) *CachedSource {
	return &CachedSource{
		underlying: underlying,
		ttl:        ttl,
		cache:      make(map[string]cacheutil.CachedValue[Price]),
	}
}

// GetPrice serves from cache when a fresh-enough entry exists, otherwise
// fetches through the underlying source and populates the cache.
func (c *CachedSource) GetPrice(ctx context.Context, base, quote string) (Price, error) {
	key := base + "/" + quote
	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (Price, bool) {
			entry, ok := c.cache[key]
			if ok && now.Sub(entry.FetchedAt) < c.ttl {
				return entry.Value, true
			}
			return Price{}, false
		},
		func(now time.Time) (Price, error) {
			p, err := c.underlying.GetPrice(ctx, base, quote)
			if err != nil {
				return Price{}, err
			}
			c.cache[key] = cacheutil.CachedValue[Price]{Value: p, FetchedAt: now}
			return p, nil
		},
	)
}

// CheckFreshness returns ErrStale if p is older than maxAge as of now.
func CheckFreshness(p Price, maxAge time.Duration, now time.Time) error {
	if now.Sub(p.PublishedAt) > maxAge {
		return ErrStale
	}
	return nil
}
