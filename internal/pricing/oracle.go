/**
 * @description
 * The pricing oracle converts asset amounts to fiat equivalents. It never fails:
 * when the live source is down it serves the last known price (process memory,
 * then the shared cache), then the asset table's static default, then zero.
 *
 * @notes
 * - Fiat equivalents are advisory for campaign progress. The asset amount and
 *   settlement proof remain authoritative.
 */
package pricing

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rapidfund/settlement-service/internal/assets"
	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Source is a live price feed keyed by the asset table's price ids.
type Source interface {
	Prices(ctx context.Context, ids []string, fiat string) (map[string]decimal.Decimal, error)
}

// Cache stores last-known prices shared between instances.
type Cache interface {
	Get(ctx context.Context, symbol string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, symbol string, price decimal.Decimal) error
}

// PriceSource says where a quoted price came from.
type PriceSource string

const (
	SourceLive      PriceSource = "live"
	SourceMemory    PriceSource = "memory"
	SourceCache     PriceSource = "cache"
	SourceDefault   PriceSource = "default"
	SourceUnpriced  PriceSource = "unpriced"
	SourceFaceValue PriceSource = "face_value"
)

// Quote is a unit price with its provenance.
type Quote struct {
	Symbol   string          `json:"symbol"`
	Price    decimal.Decimal `json:"price"`
	Source   PriceSource     `json:"source"`
	QuotedAt time.Time       `json:"quoted_at"`
}

type entry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Oracle quotes unit prices with TTL caching.
type Oracle struct {
	assets *assets.Table
	source Source
	cache  Cache
	fiat   string
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	snapshot map[string]entry
}

// Options configures an Oracle. Source and Cache are optional.
type Options struct {
	Assets *assets.Table
	Source Source
	Cache  Cache
	Fiat   string
	TTL    time.Duration
}

func NewOracle(opts Options) *Oracle {
	if opts.Assets == nil {
		opts.Assets = assets.Default()
	}
	if strings.TrimSpace(opts.Fiat) == "" {
		opts.Fiat = "usd"
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	return &Oracle{
		assets:   opts.Assets,
		source:   opts.Source,
		cache:    opts.Cache,
		fiat:     strings.ToLower(opts.Fiat),
		ttl:      opts.TTL,
		now:      time.Now,
		snapshot: make(map[string]entry),
	}
}

// GetUnitPrice returns the fiat price of one unit of symbol.
func (o *Oracle) GetUnitPrice(ctx context.Context, symbol string) decimal.Decimal {
	return o.Quote(ctx, symbol).Price
}

// ToFiatEquivalent is amount * unit price.
func (o *Oracle) ToFiatEquivalent(ctx context.Context, symbol string, amount decimal.Decimal) decimal.Decimal {
	return FiatEquivalent(amount, o.GetUnitPrice(ctx, symbol))
}

// FiatEquivalent multiplies exactly; decimal multiplication does not round.
func FiatEquivalent(amount, unitPrice decimal.Decimal) decimal.Decimal {
	return amount.Mul(unitPrice)
}

// Quote resolves a price through the fallback chain.
func (o *Oracle) Quote(ctx context.Context, symbol string) Quote {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	now := o.now()
	if symbol == domain.FiatAsset {
		return Quote{Symbol: symbol, Price: decimal.NewFromInt(1), Source: SourceFaceValue, QuotedAt: now}
	}

	asset, err := o.assets.BySymbol(symbol)
	if err != nil {
		log.Printf("level=warn component=pricing symbol=%s msg=\"unknown asset, pricing at zero\"", symbol)
		return Quote{Symbol: symbol, Price: decimal.Zero, Source: SourceUnpriced, QuotedAt: now}
	}

	o.mu.RLock()
	cached, ok := o.snapshot[symbol]
	o.mu.RUnlock()
	if ok && now.Sub(cached.fetchedAt) < o.ttl {
		return Quote{Symbol: symbol, Price: cached.price, Source: SourceMemory, QuotedAt: cached.fetchedAt}
	}

	if price, ok := o.fetchLive(ctx, asset); ok {
		o.remember(ctx, symbol, price, now)
		return Quote{Symbol: symbol, Price: price, Source: SourceLive, QuotedAt: now}
	}

	if ok {
		return Quote{Symbol: symbol, Price: cached.price, Source: SourceMemory, QuotedAt: cached.fetchedAt}
	}

	if o.cache != nil {
		price, found, err := o.cache.Get(ctx, symbol)
		if err != nil {
			log.Printf("level=warn component=pricing symbol=%s msg=\"price cache read failed\" err=%v", symbol, err)
		} else if found {
			return Quote{Symbol: symbol, Price: price, Source: SourceCache, QuotedAt: now}
		}
	}

	if price, err := decimal.NewFromString(strings.TrimSpace(asset.DefaultPrice)); err == nil && !price.IsNegative() {
		return Quote{Symbol: symbol, Price: price, Source: SourceDefault, QuotedAt: now}
	}
	return Quote{Symbol: symbol, Price: decimal.Zero, Source: SourceUnpriced, QuotedAt: now}
}

// Refresh fetches every table asset in one request and updates both caches.
func (o *Oracle) Refresh(ctx context.Context) int {
	if o.source == nil {
		return 0
	}
	all := o.assets.All()
	ids := make([]string, 0, len(all))
	bySymbol := make(map[string]string, len(all))
	for _, asset := range all {
		if asset.PriceID == "" {
			continue
		}
		ids = append(ids, asset.PriceID)
		bySymbol[asset.Symbol] = asset.PriceID
	}

	prices, err := o.source.Prices(ctx, ids, o.fiat)
	if err != nil {
		log.Printf("level=warn component=pricing op=refresh msg=\"live price refresh failed\" err=%v", err)
		return 0
	}
	now := o.now()
	updated := 0
	for symbol, id := range bySymbol {
		price, ok := prices[id]
		if !ok || price.IsNegative() {
			continue
		}
		o.remember(ctx, symbol, price, now)
		updated++
	}
	return updated
}

func (o *Oracle) fetchLive(ctx context.Context, asset domain.Asset) (decimal.Decimal, bool) {
	if o.source == nil || asset.PriceID == "" {
		return decimal.Zero, false
	}
	prices, err := o.source.Prices(ctx, []string{asset.PriceID}, o.fiat)
	if err != nil {
		log.Printf("level=warn component=pricing symbol=%s msg=\"live price unavailable\" err=%v", asset.Symbol, err)
		return decimal.Zero, false
	}
	price, ok := prices[asset.PriceID]
	if !ok || price.IsNegative() {
		return decimal.Zero, false
	}
	return price, true
}

func (o *Oracle) remember(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) {
	o.mu.Lock()
	o.snapshot[symbol] = entry{price: price, fetchedAt: at}
	o.mu.Unlock()

	if o.cache != nil {
		if err := o.cache.Set(ctx, symbol, price); err != nil {
			log.Printf("level=warn component=pricing symbol=%s msg=\"price cache write failed\" err=%v", symbol, err)
		}
	}
}
