package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/kryptofolio/src/gateway"
)

// ohlcFetcher is the slice of the exchange client this provider needs.
type ohlcFetcher interface {
	GetOHLC(ctx context.Context, pair string, interval int, since int64) ([]gateway.Candle, error)
}

// krakenPairs maps canonical symbols to the exchange's EUR pair names.
// Legacy assets keep their X/Z prefixed pair spelling.
var krakenPairs = map[string]string{
	"BTC":   "XXBTZEUR",
	"ETH":   "XETHZEUR",
	"XRP":   "XXRPZEUR",
	"LTC":   "XLTCZEUR",
	"XLM":   "XXLMZEUR",
	"XMR":   "XXMRZEUR",
	"ZEC":   "XZECZEUR",
	"ADA":   "ADAEUR",
	"DOT":   "DOTEUR",
	"SOL":   "SOLEUR",
	"ATOM":  "ATOMEUR",
	"ALGO":  "ALGOEUR",
	"MATIC": "MATICEUR",
	"LINK":  "LINKEUR",
	"UNI":   "UNIEUR",
	"AVAX":  "AVAXEUR",
	"TRX":   "TRXEUR",
	"XTZ":   "XTZEUR",
	"KSM":   "KSMEUR",
	"FLOW":  "FLOWEUR",
	"KAVA":  "KAVAEUR",
	"USDT":  "USDTEUR",
	"USDC":  "USDCEUR",
}

const dailyInterval = 1440

// KrakenProvider reads daily OHLC closes from the exchange's own market
// data. First in the chain because it covers the exact venue the trades
// happened on.
type KrakenProvider struct {
	client ohlcFetcher
}

func NewKrakenProvider(client ohlcFetcher) *KrakenProvider {
	return &KrakenProvider{client: client}
}

func (p *KrakenProvider) Name() string { return "kraken-ohlc" }

// Price returns the daily close in EUR for the bar covering date.
func (p *KrakenProvider) Price(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error) {
	pair, ok := krakenPairs[asset]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no EUR pair for %s: %w", asset, ErrUnavailable)
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	// since is exclusive, so back up one bar to include the target day.
	candles, err := p.client.GetOHLC(ctx, pair, dailyInterval, dayStart.Add(-24*time.Hour).Unix())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetching OHLC for %s: %w", pair, err)
	}

	dayEnd := dayStart.Add(24 * time.Hour)
	for _, candle := range candles {
		if candle.Time >= dayStart.Unix() && candle.Time < dayEnd.Unix() {
			return candle.Close, nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("no OHLC bar for %s on %s: %w", pair, dayStart.Format("2006-01-02"), ErrUnavailable)
}
