package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/kryptofolio/src/logger"
	"github.com/username/kryptofolio/src/models"
	"golang.org/x/time/rate"
)

const (
	endpointTrades  = "/0/private/TradesHistory"
	endpointLedgers = "/0/private/Ledgers"
	endpointOHLC    = "/0/public/OHLC"

	// Kraken returns at most 50 history entries per page.
	pageSize = 50
)

// Config carries everything the client needs for one credential set.
type Config struct {
	APIKey     string
	APISecret  string // base64, as issued by the exchange
	BaseURL    string
	RateLimit  float64 // requests per second
	RateBurst  int
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to Kraken's REST API. One instance per credential set; safe
// for concurrent use: the limiter serializes token consumption and the
// nonce source serializes increment-and-read.
type Client struct {
	apiKey      string
	apiSecret   []byte
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	nonce       *NonceSource
	maxRetries  int
	backoffBase time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(cfg.APISecret)
	if err != nil && cfg.APISecret != "" {
		return nil, fmt.Errorf("decoding API secret: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 3
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &Client{
		apiKey:      cfg.APIKey,
		apiSecret:   secret,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		nonce:       NewNonceSource(),
		maxRetries:  cfg.MaxRetries,
		backoffBase: time.Second,
	}, nil
}

// sign builds the API-Sign header value: HMAC-SHA512 over the URI path
// concatenated with SHA256(nonce + urlencoded body), keyed with the decoded
// secret.
func (c *Client) sign(path string, form url.Values) string {
	postdata := form.Encode()
	inner := sha256.Sum256([]byte(form.Get("nonce") + postdata))
	mac := hmac.New(sha512.New, c.apiSecret)
	mac.Write([]byte(path))
	mac.Write(inner[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// request performs one rate-limited call and decodes the response envelope.
// Private calls are signed POSTs; public calls are GETs with query params.
func (c *Client) request(ctx context.Context, path string, form url.Values, private bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit token: %w", err)
	}

	var req *http.Request
	var err error
	if private {
		form.Set("nonce", c.nonce.Next())
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("API-Key", c.apiKey)
		req.Header.Set("API-Sign", c.sign(path, form))
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+form.Encode(), nil)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		logger.L.Warn("kraken request failed", "endpoint", path, "params", redactParams(form), "latencyMs", latency.Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	var envelope krakenEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response from %s (status %d): %w", path, resp.StatusCode, err)
	}

	if len(envelope.Error) > 0 {
		classified := classifyAPIError(path, envelope.Error)
		logger.L.Warn("kraken API returned error", "endpoint", path, "params", redactParams(form), "latencyMs", latency.Milliseconds(), "apiError", envelope.Error)
		return nil, classified
	}

	logger.L.Debug("kraken request ok", "endpoint", path, "params", redactParams(form), "latencyMs", latency.Milliseconds(), "status", resp.StatusCode)
	return envelope.Result, nil
}

// redactParams returns a loggable view of the form with credential-bearing
// fields removed.
func redactParams(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "nonce" {
			continue
		}
		keys = append(keys, k+"="+form.Get(k))
	}
	sort.Strings(keys)
	return strings.Join(keys, "&")
}

// requestWithRetry retries recoverable failures (rate limit, nonce conflict,
// transport) with exponential backoff plus jitter, up to the configured
// attempt ceiling. Anything else propagates immediately.
func (c *Client) requestWithRetry(ctx context.Context, path string, build func() url.Values, private bool) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffBase*time.Duration(1<<uint(attempt)) + time.Duration(rand.Int63n(int64(c.backoffBase/2)+1))
			logger.L.Info("retrying kraken request", "endpoint", path, "attempt", attempt+1, "maxRetries", c.maxRetries, "backoff", wait.String())
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := c.request(ctx, path, build(), private)
		if err == nil {
			return result, nil
		}
		if !IsRecoverable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("retry budget exhausted for %s: %w", path, lastErr)
}

type krakenTrade struct {
	OrderTxID string  `json:"ordertxid"`
	Pair      string  `json:"pair"`
	Time      float64 `json:"time"`
	Type      string  `json:"type"`
	OrderType string  `json:"ordertype"`
	Price     string  `json:"price"`
	Cost      string  `json:"cost"`
	Fee       string  `json:"fee"`
	Vol       string  `json:"vol"`
	Margin    string  `json:"margin"`
	Misc      string  `json:"misc"`
}

type krakenLedgerEntry struct {
	RefID   string  `json:"refid"`
	Time    float64 `json:"time"`
	Type    string  `json:"type"`
	Subtype string  `json:"subtype"`
	AClass  string  `json:"aclass"`
	Asset   string  `json:"asset"`
	Amount  string  `json:"amount"`
	Fee     string  `json:"fee"`
	Balance string  `json:"balance"`
}

// GetTrades fetches the full trade history for [start, end], paginated and
// deduplicated, sorted by timestamp ascending.
func (c *Client) GetTrades(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error) {
	return c.fetchPaginated(ctx, endpointTrades, start, end)
}

// GetLedger fetches the full ledger history for [start, end], paginated and
// deduplicated, sorted by timestamp ascending.
func (c *Client) GetLedger(ctx context.Context, start, end time.Time) ([]models.RawTransactionRecord, error) {
	return c.fetchPaginated(ctx, endpointLedgers, start, end)
}

func (c *Client) fetchPaginated(ctx context.Context, endpoint string, start, end time.Time) ([]models.RawTransactionRecord, error) {
	byRef := make(map[string]models.RawTransactionRecord)
	offset := 0

	for {
		build := func() url.Values {
			form := url.Values{}
			form.Set("start", strconv.FormatInt(start.Unix(), 10))
			form.Set("end", strconv.FormatInt(end.Unix(), 10))
			form.Set("ofs", strconv.Itoa(offset))
			if endpoint == endpointTrades {
				form.Set("trades", "true")
			} else {
				form.Set("type", "all")
			}
			return form
		}

		result, err := c.requestWithRetry(ctx, endpoint, build, true)
		if err != nil {
			return nil, err
		}

		page, rawCount, err := parsePage(endpoint, result)
		if err != nil {
			return nil, err
		}

		for _, rec := range page {
			byRef[rec.RefID] = rec
		}

		logger.L.Debug("fetched history page", "endpoint", endpoint, "offset", offset, "pageSize", rawCount, "total", len(byRef))

		// Termination counts raw entries, not parsed ones, so a skipped
		// malformed record cannot end pagination early.
		if rawCount < pageSize {
			break
		}
		offset += rawCount
	}

	records := make([]models.RawTransactionRecord, 0, len(byRef))
	for _, rec := range byRef {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp < records[j].Timestamp
		}
		return records[i].RefID < records[j].RefID
	})

	logger.L.Info("history fetch complete", "endpoint", endpoint, "records", len(records), "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
	return records, nil
}

// parsePage converts one raw result page into records. Entries that fail to
// parse are skipped with a warning; a bad entry never fails the page. The
// raw entry count is returned alongside for pagination bookkeeping.
func parsePage(endpoint string, result json.RawMessage) ([]models.RawTransactionRecord, int, error) {
	var records []models.RawTransactionRecord

	if endpoint == endpointTrades {
		var page struct {
			Trades map[string]json.RawMessage `json:"trades"`
			Count  int                        `json:"count"`
		}
		if err := json.Unmarshal(result, &page); err != nil {
			return nil, 0, fmt.Errorf("decoding trades page: %w", err)
		}
		for refID, raw := range page.Trades {
			var t krakenTrade
			if err := json.Unmarshal(raw, &t); err != nil {
				logger.L.Warn("skipping unparseable trade record", "refid", refID, "error", err)
				continue
			}
			rec, err := tradeRecord(refID, t, raw)
			if err != nil {
				logger.L.Warn("skipping malformed trade record", "refid", refID, "error", err)
				continue
			}
			records = append(records, rec)
		}
		return records, len(page.Trades), nil
	}

	var page struct {
		Ledger map[string]json.RawMessage `json:"ledger"`
		Count  int                        `json:"count"`
	}
	if err := json.Unmarshal(result, &page); err != nil {
		return nil, 0, fmt.Errorf("decoding ledger page: %w", err)
	}
	for refID, raw := range page.Ledger {
		var e krakenLedgerEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			logger.L.Warn("skipping unparseable ledger record", "refid", refID, "error", err)
			continue
		}
		rec, err := ledgerRecord(refID, e, raw)
		if err != nil {
			logger.L.Warn("skipping malformed ledger record", "refid", refID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, len(page.Ledger), nil
}

func tradeRecord(refID string, t krakenTrade, raw json.RawMessage) (models.RawTransactionRecord, error) {
	vol, err := decimal.NewFromString(t.Vol)
	if err != nil {
		return models.RawTransactionRecord{}, fmt.Errorf("parsing vol %q: %w", t.Vol, err)
	}
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return models.RawTransactionRecord{}, fmt.Errorf("parsing price %q: %w", t.Price, err)
	}
	cost, err := decimal.NewFromString(t.Cost)
	if err != nil {
		return models.RawTransactionRecord{}, fmt.Errorf("parsing cost %q: %w", t.Cost, err)
	}
	fee, err := decimal.NewFromString(t.Fee)
	if err != nil {
		return models.RawTransactionRecord{}, fmt.Errorf("parsing fee %q: %w", t.Fee, err)
	}
	if t.Time <= 0 {
		return models.RawTransactionRecord{}, fmt.Errorf("non-positive timestamp %f", t.Time)
	}

	return models.RawTransactionRecord{
		RefID:     refID,
		Kind:      models.KindTrade,
		Type:      t.Type,
		Pair:      t.Pair,
		Quantity:  vol,
		Price:     price,
		Cost:      cost,
		Fee:       fee,
		Timestamp: int64(t.Time),
		Payload:   append([]byte(nil), raw...),
	}, nil
}

func ledgerRecord(refID string, e krakenLedgerEntry, raw json.RawMessage) (models.RawTransactionRecord, error) {
	amount, err := decimal.NewFromString(e.Amount)
	if err != nil {
		return models.RawTransactionRecord{}, fmt.Errorf("parsing amount %q: %w", e.Amount, err)
	}
	fee := decimal.Zero
	if e.Fee != "" {
		fee, err = decimal.NewFromString(e.Fee)
		if err != nil {
			return models.RawTransactionRecord{}, fmt.Errorf("parsing fee %q: %w", e.Fee, err)
		}
	}
	if e.Time <= 0 {
		return models.RawTransactionRecord{}, fmt.Errorf("non-positive timestamp %f", e.Time)
	}

	return models.RawTransactionRecord{
		RefID:     refID,
		Kind:      models.KindLedger,
		Type:      e.Type,
		Subtype:   e.Subtype,
		Asset:     e.Asset,
		Quantity:  amount,
		Fee:       fee,
		FeeAsset:  e.Asset, // ledger fees are charged in the entry's own asset
		Timestamp: int64(e.Time),
		Payload:   append([]byte(nil), raw...),
	}, nil
}

// Candle is one OHLC bar from the public market data endpoint.
type Candle struct {
	Time   int64
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	VWAP   decimal.Decimal
	Volume decimal.Decimal
}

// GetOHLC fetches public OHLC bars for a pair. interval is in minutes
// (1440 for daily). Public calls share the same rate limiter.
func (c *Client) GetOHLC(ctx context.Context, pair string, interval int, since int64) ([]Candle, error) {
	form := url.Values{}
	form.Set("pair", pair)
	form.Set("interval", strconv.Itoa(interval))
	if since > 0 {
		form.Set("since", strconv.FormatInt(since, 10))
	}

	result, err := c.requestWithRetry(ctx, endpointOHLC, func() url.Values { return form }, false)
	if err != nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decoding OHLC response: %w", err)
	}

	// Rows mix types: unix time and trade count as numbers, prices as
	// strings.
	var rows [][]json.RawMessage
	for key, raw := range payload {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decoding OHLC rows for %s: %w", key, err)
		}
		break
	}

	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		var ts int64
		if err := json.Unmarshal(row[0], &ts); err != nil {
			logger.L.Warn("skipping OHLC row with bad timestamp", "pair", pair, "error", err)
			continue
		}
		candle := Candle{Time: ts}
		fields := []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.VWAP, &candle.Volume}
		ok := true
		for i, field := range fields {
			v, err := rawDecimal(row[i+1])
			if err != nil {
				logger.L.Warn("skipping OHLC row with bad value", "pair", pair, "error", err)
				ok = false
				break
			}
			*field = v
		}
		if ok {
			candles = append(candles, candle)
		}
	}
	return candles, nil
}

// rawDecimal parses a JSON value that may arrive as a string or a number.
func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}
