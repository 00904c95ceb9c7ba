package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/publicsuffix"
)

// YahooProvider is the last resort in the chain: it serves assets and dates
// the other providers cannot. It tries the EUR-quoted ticker first and falls
// back to USD converted through the EURUSD rate of the same day. Yahoo wants
// a browser-ish session, hence the cookie jar and user agent.
type YahooProvider struct {
	httpClient *http.Client
	baseURL    string
}

const yahooUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

func NewYahooProvider(timeout time.Duration) (*YahooProvider, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &YahooProvider{
		httpClient: &http.Client{Jar: jar, Timeout: timeout},
		baseURL:    "https://query1.finance.yahoo.com",
	}, nil
}

func (p *YahooProvider) Name() string { return "yahoo-finance" }

func (p *YahooProvider) Price(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error) {
	price, err := p.dailyClose(ctx, asset+"-EUR", date)
	if err == nil {
		return price, nil
	}

	usd, usdErr := p.dailyClose(ctx, asset+"-USD", date)
	if usdErr != nil {
		return decimal.Decimal{}, fmt.Errorf("no EUR or USD quote for %s: %w", asset, err)
	}
	eurusd, rateErr := p.dailyClose(ctx, "EURUSD=X", date)
	if rateErr != nil || eurusd.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("EURUSD rate for %s unavailable: %w", date.Format("2006-01-02"), ErrUnavailable)
	}
	return usd.Div(eurusd), nil
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// dailyClose fetches one day of chart data for a ticker and returns its
// close.
func (p *YahooProvider) dailyClose(ctx context.Context, ticker string, date time.Time) (decimal.Decimal, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	query := url.Values{}
	query.Set("period1", strconv.FormatInt(dayStart.Unix(), 10))
	query.Set("period2", strconv.FormatInt(dayStart.Add(24*time.Hour).Unix(), 10))
	query.Set("interval", "1d")
	endpoint := p.baseURL + "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("User-Agent", yahooUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("yahoo request for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("reading yahoo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("yahoo returned status %d for %s: %w", resp.StatusCode, ticker, ErrUnavailable)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding yahoo chart: %w", err)
	}
	if chart.Chart.Error != nil {
		return decimal.Decimal{}, fmt.Errorf("yahoo error for %s: %s: %w", ticker, chart.Chart.Error.Code, ErrUnavailable)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return decimal.Decimal{}, fmt.Errorf("empty yahoo chart for %s: %w", ticker, ErrUnavailable)
	}

	closes := chart.Chart.Result[0].Indicators.Quote[0].Close
	for i := len(closes) - 1; i >= 0; i-- {
		if closes[i] != nil {
			return decimal.NewFromFloat(*closes[i]), nil
		}
	}
	return decimal.Decimal{}, fmt.Errorf("no close for %s on %s: %w", ticker, dayStart.Format("2006-01-02"), ErrUnavailable)
}
