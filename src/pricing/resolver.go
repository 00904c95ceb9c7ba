package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
)

// Resolver tries an ordered list of providers until one returns a price and
// caches the first success per (asset, date). A fully failed lookup returns
// ErrUnavailable; callers must handle it explicitly, the resolver never
// substitutes a default price.
type Resolver struct {
	providers []Provider
	cache     *gocache.Cache
}

func NewResolver(providers []Provider, cacheExpiry time.Duration) *Resolver {
	return &Resolver{
		providers: providers,
		cache:     gocache.New(cacheExpiry, 2*cacheExpiry),
	}
}

func cacheKey(asset string, date time.Time) string {
	return asset + "@" + date.UTC().Format("2006-01-02")
}

// Resolve returns the EUR unit price of a canonical asset on a date.
func (r *Resolver) Resolve(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error) {
	symbol := models.CanonicalAsset(asset)
	if symbol == "EUR" {
		return decimal.NewFromInt(1), nil
	}

	key := cacheKey(symbol, date)
	if cached, ok := r.cache.Get(key); ok {
		return cached.(decimal.Decimal), nil
	}

	for _, provider := range r.providers {
		price, err := provider.Price(ctx, symbol, date)
		if err == nil {
			logger.L.Debug("price resolved", "provider", provider.Name(), "asset", symbol, "date", date.Format("2006-01-02"), "priceEUR", price.String())
			r.cache.Set(key, price, gocache.DefaultExpiration)
			return price, nil
		}
		if errors.Is(err, ErrOutsideWindow) {
			logger.L.Debug("provider skipped, date outside its window", "provider", provider.Name(), "asset", symbol, "date", date.Format("2006-01-02"))
			continue
		}
		logger.L.Warn("price provider failed", "provider", provider.Name(), "asset", symbol, "date", date.Format("2006-01-02"), "error", err)
	}

	return decimal.Decimal{}, fmt.Errorf("no provider resolved %s on %s: %w", symbol, date.Format("2006-01-02"), ErrUnavailable)
}
