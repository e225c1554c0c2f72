package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"multiplier-trade-bot-go/internal/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testClient(serverURL string) *RestClient {
	return NewRestClient(&config.Exchange{
		BaseURL:        serverURL,
		ApiKey:         "test-key",
		SecretKey:      "test-secret",
		RateLimit:      1000,
		RateLimitBurst: 100,
	}, zap.NewNop())
}

func klineRow(openTime, closeTime time.Time, closePrice string) string {
	return fmt.Sprintf(`[%d,"100.0","110.0","95.0",%q,"1234.5",%d]`,
		openTime.UnixMilli(), closePrice, closeTime.UnixMilli())
}

func TestLatestCandle_ReturnsMostRecentCompletedCandle(t *testing.T) {
	now := time.Now()
	completed := klineRow(now.Add(-2*time.Minute), now.Add(-time.Minute), "201.5")
	forming := klineRow(now.Add(-time.Minute), now.Add(time.Minute), "300.0")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/klines", r.URL.Path)
		assert.Equal(t, "SOLUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1m", r.URL.Query().Get("interval"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s,%s]", completed, forming)
	}))
	defer server.Close()

	candle, err := testClient(server.URL).LatestCandle(context.Background(), "SOL/USDT", "1m")

	assert.NoError(t, err)
	// The forming candle's close time is in the future; only the completed one
	// may drive a threshold check.
	assert.Equal(t, "201.5", candle.Close.String())
}

func TestLatestCandle_AllCandlesStillForming(t *testing.T) {
	now := time.Now()
	forming := klineRow(now, now.Add(time.Minute), "300.0")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", forming)
	}))
	defer server.Close()

	candle, err := testClient(server.URL).LatestCandle(context.Background(), "SOL/USDT", "1m")

	assert.Nil(t, candle)
	assert.ErrorIs(t, err, ErrNoCandle)
}

func TestLatestCandle_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	_, err := testClient(server.URL).LatestCandle(context.Background(), "SOL/USDT", "1m")
	assert.ErrorIs(t, err, ErrNoCandle)
}

func TestLatestCandle_SkipsMalformedRows(t *testing.T) {
	now := time.Now()
	completed := klineRow(now.Add(-2*time.Minute), now.Add(-time.Minute), "150.0")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[["garbage"],%s]`, completed)
	}))
	defer server.Close()

	candle, err := testClient(server.URL).LatestCandle(context.Background(), "SOL/USDT", "1m")

	assert.NoError(t, err)
	assert.Equal(t, "150", candle.Close.String())
}

func TestLatestCandle_RetriesOnServerError(t *testing.T) {
	now := time.Now()
	completed := klineRow(now.Add(-2*time.Minute), now.Add(-time.Minute), "99.5")

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", completed)
	}))
	defer server.Close()

	candle, err := testClient(server.URL).LatestCandle(context.Background(), "SOL/USDT", "1m")

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "99.5", candle.Close.String())
}

func TestFreeBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance", r.URL.Path)
		assert.Equal(t, "USDT", r.URL.Query().Get("asset"))
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"asset":"USDT","free":"20000.50","locked":"0"}`)
	}))
	defer server.Close()

	free, err := testClient(server.URL).FreeBalance(context.Background(), "USDT")

	assert.NoError(t, err)
	assert.Equal(t, "20000.5", free.String())
}

func TestFreeBalance_UnparseableAmount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"asset":"USDT","free":"","locked":"0"}`)
	}))
	defer server.Close()

	_, err := testClient(server.URL).FreeBalance(context.Background(), "USDT")
	assert.Error(t, err)
}

func TestMarketSymbol(t *testing.T) {
	assert.Equal(t, "SOLUSDT", marketSymbol("SOL/USDT"))
	assert.Equal(t, "WIFUSDT", marketSymbol("WIF/USDT"))
	assert.Equal(t, "SOL", marketSymbol("SOL"))
}
