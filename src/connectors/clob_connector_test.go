package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClobClient(t *testing.T, clobURL, gammaURL string) *ClobClient {
	t.Helper()
	return NewClobClient(Config{
		ClobBaseURL:      clobURL,
		GammaBaseURL:     gammaURL,
		VenueExplorerURL: "https://polygonscan.test",
		ClobAPIKey:       "key",
		ClobAPISecret:    "c2VjcmV0",
		ClobPassphrase:   "phrase",
		ClobTimeout:      2 * time.Second,
	})
}

func TestSignRequestIsDeterministic(t *testing.T) {
	first := signRequest("secret", "1700000000", "POST", "/order", `{"a":1}`)
	second := signRequest("secret", "1700000000", "POST", "/order", `{"a":1}`)
	other := signRequest("secret", "1700000001", "POST", "/order", `{"a":1}`)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other, "timestamp must be part of the signed payload")
	assert.NotEmpty(t, first)
}

func TestResolveTokenPrefersSlug(t *testing.T) {
	var queries []string
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{
			"question": "Will it rain tomorrow?",
			"clobTokenIds": "[\"111\",\"222\"]",
			"orderPriceMinTickSize": 0.01,
			"negRisk": false
		}]`))
	}))
	t.Cleanup(gamma.Close)

	client := testClobClient(t, gamma.URL, gamma.URL)

	tokens, err := client.ResolveToken(context.Background(), "0xcond", "will-it-rain")
	require.NoError(t, err)

	assert.Equal(t, "111", tokens.Yes)
	assert.Equal(t, "222", tokens.No)
	assert.Equal(t, "0.01", tokens.TickSize)
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "slug=will-it-rain")
}

func TestResolveTokenFallsBackToConditionID(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("slug") != "" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{
			"question": "Fallback market",
			"clobTokenIds": "[\"333\",\"444\"]",
			"orderPriceMinTickSize": 0.001,
			"negRisk": true
		}]`))
	}))
	t.Cleanup(gamma.Close)

	client := testClobClient(t, gamma.URL, gamma.URL)

	tokens, err := client.ResolveToken(context.Background(), "0xcond", "missing-slug")
	require.NoError(t, err)
	assert.Equal(t, "333", tokens.Yes)
	assert.Equal(t, "0.001", tokens.TickSize)
	assert.True(t, tokens.NegRisk)
}

func TestResolveTokenNotFound(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(gamma.Close)

	client := testClobClient(t, gamma.URL, gamma.URL)

	_, err := client.ResolveToken(context.Background(), "0xcond", "nothing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestBestPriceReadsBook(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/book", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"asks": [{"price":"0.55","size":"100"},{"price":"0.56","size":"50"}],
			"bids": [{"price":"0.53","size":"80"}]
		}`))
	}))
	t.Cleanup(clob.Close)

	client := testClobClient(t, clob.URL, clob.URL)

	ask, err := client.BestPrice(context.Background(), "111", OrderSideBuy)
	require.NoError(t, err)
	assert.True(t, ask.Equal(decimal.NewFromFloat(0.55)))

	bid, err := client.BestPrice(context.Background(), "111", OrderSideSell)
	require.NoError(t, err)
	assert.True(t, bid.Equal(decimal.NewFromFloat(0.53)))
}

func TestBestPriceFallsBackToLastTrade(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/book":
			_, _ = w.Write([]byte(`{"asks":[],"bids":[]}`))
		case "/last-trade-price":
			_, _ = w.Write([]byte(`{"price":"0.47"}`))
		}
	}))
	t.Cleanup(clob.Close)

	client := testClobClient(t, clob.URL, clob.URL)

	price, err := client.BestPrice(context.Background(), "111", OrderSideBuy)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromFloat(0.47)))
}

func TestPostMarketOrderSendsSignedFOK(t *testing.T) {
	var captured map[string]interface{}
	var headers http.Header

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/order", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{
			"status": "matched",
			"orderID": "ord-9",
			"transactionsHashes": ["0xsettle"],
			"makingAmount": "30",
			"takingAmount": "56.5"
		}`))
	}))
	t.Cleanup(clob.Close)

	client := testClobClient(t, clob.URL, clob.URL)

	price := decimal.NewFromFloat(0.53)
	resp, err := client.PostMarketOrder(context.Background(), OrderParams{
		TokenID: "111",
		Amount:  decimal.NewFromInt(30),
		Side:    OrderSideBuy,
		Price:   &price,
	}, "0.01", false)
	require.NoError(t, err)

	assert.Equal(t, "ord-9", resp.OrderID)
	assert.Equal(t, []string{"0xsettle"}, resp.TransactionHashes)
	assert.Empty(t, resp.ErrMessage())

	assert.Equal(t, "FOK", captured["orderType"])
	assert.Equal(t, "0.53", captured["price"])
	assert.NotEmpty(t, captured["clientID"])

	assert.Equal(t, "key", headers.Get("POLY-API-KEY"))
	assert.Equal(t, "phrase", headers.Get("POLY-PASSPHRASE"))
	assert.NotEmpty(t, headers.Get("POLY-SIGNATURE"))
	assert.NotEmpty(t, headers.Get("POLY-TIMESTAMP"))
}

func TestPostMarketOrderNon200IsError(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid order"}`))
	}))
	t.Cleanup(clob.Close)

	client := testClobClient(t, clob.URL, clob.URL)

	_, err := client.PostMarketOrder(context.Background(), OrderParams{
		TokenID: "111",
		Amount:  decimal.NewFromInt(30),
		Side:    OrderSideBuy,
	}, "0.01", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 400")
}

func TestCollateralBalanceConvertsBaseUnits(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/balance-allowance", r.URL.Path)
		require.Equal(t, "COLLATERAL", r.URL.Query().Get("asset_type"))
		_, _ = w.Write([]byte(`{"balance":"912000000"}`))
	}))
	t.Cleanup(clob.Close)

	client := testClobClient(t, clob.URL, clob.URL)

	balance, err := client.CollateralBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(912)))
}

func TestCollateralBalanceFailsClosed(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(clob.Close)

	client := testClobClient(t, clob.URL, clob.URL)

	_, err := client.CollateralBalance(context.Background())
	require.Error(t, err)
}

func TestIsRetryableResp(t *testing.T) {
	mk := func(code int) *resty.Response {
		return &resty.Response{RawResponse: &http.Response{StatusCode: code}}
	}

	assert.True(t, isRetryableResp(nil, errors.New("dial tcp: timeout")))
	assert.False(t, isRetryableResp(nil, nil))
	assert.True(t, isRetryableResp(mk(500), nil))
	assert.True(t, isRetryableResp(mk(429), nil))
	assert.True(t, isRetryableResp(mk(408), nil))
	assert.False(t, isRetryableResp(mk(400), nil))
	assert.False(t, isRetryableResp(mk(200), nil))
}
