package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sentinel results for a provider lookup. ErrOutsideWindow means the
// provider cannot serve dates that far back and must be skipped, not
// counted as a failure; ErrUnavailable means the provider was asked and had
// no price.
var (
	ErrUnavailable   = errors.New("price unavailable")
	ErrOutsideWindow = errors.New("date outside provider window")
)

// Provider resolves a historical EUR unit price for one canonical asset
// symbol on one UTC date. Provider-specific constraints (date windows,
// symbol formats) stay inside the provider.
type Provider interface {
	Name() string
	Price(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error)
}
