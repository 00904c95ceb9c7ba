package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/kryptofolio/src/gateway"
)

type fakeProvider struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Price(ctx context.Context, asset string, date time.Time) (decimal.Decimal, error) {
	f.calls++
	return f.price, f.err
}

var testDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestResolveFallsThroughChainInOrder(t *testing.T) {
	first := &fakeProvider{name: "first", err: errors.New("boom")}
	second := &fakeProvider{name: "second", price: decimal.RequireFromString("2500")}
	third := &fakeProvider{name: "third", price: decimal.RequireFromString("9999")}
	r := NewResolver([]Provider{first, second, third}, time.Hour)

	price, err := r.Resolve(context.Background(), "ETH", testDate)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2500")))
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 0, third.calls, "chain must stop at the first success")
}

func TestResolveSkipsProviderOutsideWindow(t *testing.T) {
	windowed := &fakeProvider{name: "windowed", err: ErrOutsideWindow}
	fallback := &fakeProvider{name: "fallback", price: decimal.RequireFromString("42")}
	r := NewResolver([]Provider{windowed, fallback}, time.Hour)

	price, err := r.Resolve(context.Background(), "ADA", testDate)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("42")))
}

func TestResolveCachesFirstSuccess(t *testing.T) {
	provider := &fakeProvider{name: "only", price: decimal.RequireFromString("30000")}
	r := NewResolver([]Provider{provider}, time.Hour)

	_, err := r.Resolve(context.Background(), "BTC", testDate)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "BTC", testDate)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls, "second lookup must be served from cache")
}

func TestResolveCacheKeyUsesCanonicalSymbol(t *testing.T) {
	provider := &fakeProvider{name: "only", price: decimal.RequireFromString("30000")}
	r := NewResolver([]Provider{provider}, time.Hour)

	_, err := r.Resolve(context.Background(), "XXBT", testDate)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "BTC", testDate)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls, "alias and canonical symbol share one cache entry")
}

func TestResolveEURIsAlwaysOne(t *testing.T) {
	provider := &fakeProvider{name: "only", err: errors.New("must not be asked")}
	r := NewResolver([]Provider{provider}, time.Hour)

	price, err := r.Resolve(context.Background(), "ZEUR", testDate)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(1)))
	assert.Zero(t, provider.calls)
}

func TestResolveAllProvidersFailing(t *testing.T) {
	r := NewResolver([]Provider{
		&fakeProvider{name: "a", err: errors.New("down")},
		&fakeProvider{name: "b", err: ErrOutsideWindow},
	}, time.Hour)

	_, err := r.Resolve(context.Background(), "DOT", testDate)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

type fakeOHLC struct {
	candles []gateway.Candle
	err     error
	pair    string
}

func (f *fakeOHLC) GetOHLC(ctx context.Context, pair string, interval int, since int64) ([]gateway.Candle, error) {
	f.pair = pair
	return f.candles, f.err
}

func TestKrakenProviderPicksBarOfTheDay(t *testing.T) {
	dayStart := testDate.Unix()
	fetcher := &fakeOHLC{candles: []gateway.Candle{
		{Time: dayStart - 86400, Close: decimal.RequireFromString("100")},
		{Time: dayStart, Close: decimal.RequireFromString("110")},
		{Time: dayStart + 86400, Close: decimal.RequireFromString("120")},
	}}
	p := NewKrakenProvider(fetcher)

	price, err := p.Price(context.Background(), "BTC", testDate)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("110")))
	assert.Equal(t, "XXBTZEUR", fetcher.pair)
}

func TestKrakenProviderUnknownAsset(t *testing.T) {
	p := NewKrakenProvider(&fakeOHLC{})
	_, err := p.Price(context.Background(), "OBSCURECOIN", testDate)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestKrakenProviderNoBarForDay(t *testing.T) {
	fetcher := &fakeOHLC{candles: []gateway.Candle{
		{Time: testDate.Add(-48 * time.Hour).Unix(), Close: decimal.RequireFromString("100")},
	}}
	p := NewKrakenProvider(fetcher)
	_, err := p.Price(context.Background(), "BTC", testDate)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCoinGeckoProviderRefusesOldDates(t *testing.T) {
	p := NewCoinGeckoProvider(nil, 365)
	p.now = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

	_, err := p.Price(context.Background(), "BTC", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestCoinGeckoProviderParsesHistory(t *testing.T) {
	var gotPath, gotDate string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		w.Write([]byte(`{"market_data":{"current_price":{"eur":2731.5,"usd":2950.1}}}`))
	}))
	defer server.Close()

	p := NewCoinGeckoProvider(server.Client(), 365)
	p.baseURL = server.URL
	p.now = func() time.Time { return testDate.Add(24 * time.Hour) }

	price, err := p.Price(context.Background(), "ETH", testDate)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2731.5")))
	assert.Equal(t, "/api/v3/coins/ethereum/history", gotPath)
	assert.Equal(t, "15-03-2024", gotDate)
}

func TestYahooProviderConvertsUSDWhenEURMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v8/finance/chart/FLR-EUR":
			w.Write([]byte(`{"chart":{"result":[],"error":{"code":"Not Found","description":"no data"}}}`))
		case r.URL.Path == "/v8/finance/chart/FLR-USD":
			w.Write([]byte(`{"chart":{"result":[{"timestamp":[1710460800],"indicators":{"quote":[{"close":[0.033]}]}}]}}`))
		case r.URL.Path == "/v8/finance/chart/EURUSD=X":
			w.Write([]byte(`{"chart":{"result":[{"timestamp":[1710460800],"indicators":{"quote":[{"close":[1.1]}]}}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p, err := NewYahooProvider(time.Second * 5)
	require.NoError(t, err)
	p.baseURL = server.URL
	p.httpClient = server.Client()

	price, err := p.Price(context.Background(), "FLR", testDate)
	require.NoError(t, err)
	expected := decimal.NewFromFloat(0.033).Div(decimal.NewFromFloat(1.1))
	assert.True(t, price.Equal(expected), "got %s", price)
}

func TestYahooProviderUsesLastNonNilClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":[{"timestamp":[1710460800,1710547200],"indicators":{"quote":[{"close":[2500.0,null]}]}}]}}`))
	}))
	defer server.Close()

	p, err := NewYahooProvider(time.Second * 5)
	require.NoError(t, err)
	p.baseURL = server.URL
	p.httpClient = server.Client()

	price, err := p.dailyClose(context.Background(), "ETH-EUR", testDate)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("2500")))
}
