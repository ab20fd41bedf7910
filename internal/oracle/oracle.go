// Package oracle wraps the two external collaborators spec section 6
// names: the SOL/USD price provider and the metadata enricher. Both are
// treated as read-only, best-effort services the core caches around.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const staleAfter = 60 * time.Second

// PriceSource is the external SOL/USD feed (spec section 6: "SOL/USD
// price provider: get_sol_usd() -> Decimal, refresh cadence 5s").
type PriceSource interface {
	GetSOLUSD(ctx context.Context) (decimal.Decimal, error)
}

// PriceCache wraps a PriceSource with a refresh loop and a 60s staleness
// flag, exactly the caching contract spec section 6 describes ("the core
// treats it as read-only and caches the last known value with a 60s
// staleness flag").
type PriceCache struct {
	source PriceSource

	mu        sync.RWMutex
	value     decimal.Decimal
	updatedAt time.Time
}

func NewPriceCache(source PriceSource) *PriceCache {
	return &PriceCache{source: source}
}

// Run refreshes the cached price every interval until ctx is cancelled.
func (c *PriceCache) Run(ctx context.Context, interval time.Duration) {
	c.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

func (c *PriceCache) refresh(ctx context.Context) {
	v, err := c.source.GetSOLUSD(ctx)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.value = v
	c.updatedAt = time.Now()
	c.mu.Unlock()
}

// Get returns the last known SOL/USD price and whether it is stale
// (older than 60s, or never fetched).
func (c *PriceCache) Get() (price decimal.Decimal, stale bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.updatedAt.IsZero() {
		return decimal.Zero, true
	}
	return c.value, time.Since(c.updatedAt) > staleAfter
}

// TokenMetadata is what the enricher resolves for a freshly discovered
// mint.
type TokenMetadata struct {
	Symbol  string
	Name    string
	URI     string
	Socials map[string]string
}

// MetadataEnricher is the async per-mint enrichment collaborator (spec
// section 6: "the core only calls it on first observation and accepts
// that results arrive late").
type MetadataEnricher interface {
	Enrich(ctx context.Context, mint string) (TokenMetadata, error)
}

// RestyPriceSource fetches SOL/USD from an HTTP price endpoint using the
// same resty idiom the teacher's svmbase.svmClient uses for RPC calls.
type RestyPriceSource struct {
	client *resty.Client
	url    string
}

func NewRestyPriceSource(url string, timeout time.Duration) *RestyPriceSource {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2)
	return &RestyPriceSource{client: client, url: url}
}

type solUSDResponse struct {
	Price string `json:"price"`
}

func (s *RestyPriceSource) GetSOLUSD(ctx context.Context) (decimal.Decimal, error) {
	var out solUSDResponse
	_, err := s.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(s.url)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.Price)
}

// RestyMetadataEnricher fetches off-chain token metadata (name/symbol/
// URI/socials) from a metadata service, same client idiom as above. The
// concrete upstream (IPFS gateway, Arweave, etc.) is out of scope (spec
// section 1); only the resty-backed shape is implemented here.
type RestyMetadataEnricher struct {
	client  *resty.Client
	baseURL string
}

func NewRestyMetadataEnricher(baseURL string, timeout time.Duration) *RestyMetadataEnricher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2)
	return &RestyMetadataEnricher{client: client, baseURL: baseURL}
}

func (e *RestyMetadataEnricher) Enrich(ctx context.Context, mint string) (TokenMetadata, error) {
	var out TokenMetadata
	_, err := e.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(e.baseURL + "/" + mint)
	if err != nil {
		return TokenMetadata{}, err
	}
	return out, nil
}
