package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// coingeckoIDs maps canonical symbols to CoinGecko coin ids.
var coingeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"XRP":   "ripple",
	"LTC":   "litecoin",
	"XLM":   "stellar",
	"XMR":   "monero",
	"ZEC":   "zcash",
	"ADA":   "cardano",
	"DOT":   "polkadot",
	"SOL":   "solana",
	"ATOM":  "cosmos",
	"ALGO":  "algorand",
	"MATIC": "matic-network",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
	"AVAX":  "avalanche-2",
	"TRX":   "tron",
	"XTZ":   "tezos",
	"KSM":   "kusama",
	"FLOW":  "flow",
	"KAVA":  "kava",
	"USDT":  "tether",
	"USDC":  "usd-coin",
}

// CoinGeckoProvider queries the public history endpoint. The free tier only
// serves dates inside a rolling window (365 days as of writing); older dates
// return ErrOutsideWindow so the chain moves on without counting a failure.
type CoinGeckoProvider struct {
	httpClient *http.Client
	baseURL    string
	dayWindow  int
	now        func() time.Time
}

func NewCoinGeckoProvider(httpClient *http.Client, dayWindow int) *CoinGeckoProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if dayWindow <= 0 {
		dayWindow = 365
	}
	return &CoinGeckoProvider{
		httpClient: httpClient,
		baseURL:    "https://api.coingecko.com",
		dayWindow:  dayWindow,
		now:        time.Now,
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

type coingeckoHistory struct {
	MarketData struct {
		CurrentPrice map[string]json.Number `json:"current_price"`
	} `json:"market_data"`
}

func (p *CoinGeckoProvider) Price(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error) {
	if p.now().UTC().Sub(date) > time.Duration(p.dayWindow)*24*time.Hour {
		return decimal.Decimal{}, fmt.Errorf("%s is older than %d days: %w", date.Format("2006-01-02"), p.dayWindow, ErrOutsideWindow)
	}

	id, ok := coingeckoIDs[asset]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no coin id for %s: %w", asset, ErrUnavailable)
	}

	query := url.Values{}
	query.Set("date", date.UTC().Format("02-01-2006"))
	query.Set("localization", "false")
	endpoint := fmt.Sprintf("%s/api/v3/coins/%s/history?%s", p.baseURL, id, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("coingecko request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reading coingecko response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("coingecko returned status %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var history coingeckoHistory
	if err := json.Unmarshal(body, &history); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding coingecko history: %w", err)
	}

	raw, ok := history.MarketData.CurrentPrice["eur"]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no EUR price for %s on %s: %w", id, date.Format("2006-01-02"), ErrUnavailable)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing coingecko price %q: %w", raw.String(), err)
	}
	return price, nil
}
