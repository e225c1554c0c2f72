package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"multiplier-trade-bot-go/internal/config"
	"multiplier-trade-bot-go/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const recvWindow = "5000" // How long a signed request is valid in milliseconds

// ErrNoCandle is returned when the venue has no completed candle for the
// requested symbol and timeframe. A feed gap never advances the state
// machine; callers treat it as "no signal this cycle".
var ErrNoCandle = errors.New("no completed candle available")

// MarketData is the interface the strategy engine uses to read prices and
// balances.
type MarketData interface {
	LatestCandle(ctx context.Context, symbol, timeframe string) (*models.Candle, error)
	FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// RestClient is a rate-limited client for the exchange's market-data REST API.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// ensure RestClient implements the interface
var _ MarketData = (*RestClient)(nil)

// NewRestClient creates a new exchange REST API client.
func NewRestClient(cfg *config.Exchange, logger *zap.Logger) *RestClient {
	client := resty.New().SetBaseURL(cfg.BaseURL)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

// LatestCandle fetches the most recent completed OHLCV candle for a symbol.
// It requests the two latest candles and discards the one still forming, so
// threshold checks never see intra-candle data. Returns ErrNoCandle when the
// venue has no completed candle to serve.
func (c *RestClient) LatestCandle(ctx context.Context, symbol, timeframe string) (*models.Candle, error) {
	// Kline rows: [openTime, open, high, low, close, volume, closeTime, ...]
	var rows [][]interface{}

	req := c.client.R().
		SetQueryParams(map[string]string{
			"symbol":   marketSymbol(symbol),
			"interval": timeframe,
			"limit":    "2",
		}).
		SetResult(&rows).
		SetHeader("Content-Type", "application/json")

	_, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	now := time.Now()
	var latest *models.Candle
	for _, row := range rows {
		candle, err := parseKline(row)
		if err != nil {
			c.logger.Warn("Skipping malformed kline row", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if candle.CloseTime.After(now) {
			continue // still forming
		}
		if latest == nil || candle.OpenTime.After(latest.OpenTime) {
			latest = candle
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("%s %s: %w", symbol, timeframe, ErrNoCandle)
	}
	return latest, nil
}

// parseKline converts one kline row into a Candle. Times arrive as JSON
// numbers (epoch millis), prices and volume as strings.
func parseKline(row []interface{}) (*models.Candle, error) {
	if len(row) < 7 {
		return nil, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}

	openMs, ok := row[0].(float64)
	if !ok {
		return nil, fmt.Errorf("kline open time is not numeric")
	}
	closeMs, ok := row[6].(float64)
	if !ok {
		return nil, fmt.Errorf("kline close time is not numeric")
	}

	nums := make([]decimal.Decimal, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return nil, fmt.Errorf("kline field %d is not a string", i)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("kline field %d: %w", i, err)
		}
		nums[i-1] = d
	}

	return &models.Candle{
		OpenTime:  time.UnixMilli(int64(openMs)),
		CloseTime: time.UnixMilli(int64(closeMs)),
		Open:      nums[0],
		High:      nums[1],
		Low:       nums[2],
		Close:     nums[3],
		Volume:    nums[4],
	}, nil
}

// balanceResponse is the signed account-balance payload for a single asset.
type balanceResponse struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// FreeBalance fetches the free (uncommitted) balance of an asset. The
// endpoint requires a signed request.
func (c *RestClient) FreeBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("asset", asset)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	var balance balanceResponse
	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&balance)

	_, err := c.doRequest(ctx, "GET", "/balance", req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance for %s: %w", asset, err)
	}

	free, err := decimal.NewFromString(balance.Free)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse free balance %q for %s: %w", balance.Free, asset, err)
	}
	return free, nil
}

// marketSymbol converts a BASE/QUOTE symbol into the venue's concatenated
// form, e.g. "SOL/USDT" -> "SOLUSDT".
func marketSymbol(symbol string) string {
	out := make([]byte, 0, len(symbol))
	for i := 0; i < len(symbol); i++ {
		if symbol[i] != '/' {
			out = append(out, symbol[i])
		}
	}
	return string(out)
}
