package rugcheck

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"multiplier-trade-bot-go/internal/config"
	"multiplier-trade-bot-go/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TokenValidator classifies a token contract as safe or unsafe. Any
// ambiguous, stale, or unobtainable verdict is UNKNOWN, never GOOD.
type TokenValidator interface {
	Validate(ctx context.Context, chain, contract string) models.Verdict
}

// Client queries the rugcheck token-scan API and caches definitive verdicts
// per contract for a configurable TTL. A cached verdict is only reused while
// fresh; the engine only asks for a verdict when no open position exists for
// the symbol, so re-fetching happens at most once per idle cycle.
type Client struct {
	client  *resty.Client
	apiKey  string
	ttl     time.Duration
	logger  *zap.Logger
	limiter *rate.Limiter

	mu    sync.Mutex
	cache map[string]models.Token
}

var _ TokenValidator = (*Client)(nil)

// NewClient creates a new rugcheck API client.
func NewClient(cfg *config.Rugcheck, logger *zap.Logger) *Client {
	return &Client{
		client:  resty.New().SetBaseURL(cfg.BaseURL),
		apiKey:  cfg.ApiKey,
		ttl:     time.Duration(cfg.VerdictTTLSeconds) * time.Second,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		cache:   make(map[string]models.Token),
	}
}

// scanResponse is the subset of the token-scan payload we act on.
type scanResponse struct {
	RiskLevel string `json:"riskLevel"`
}

// Validate returns the safety verdict for a contract. Definitive verdicts
// (GOOD, BAD) are cached; UNKNOWN is never cached so a validator outage is
// retried on the next monitoring cycle.
func (c *Client) Validate(ctx context.Context, chain, contract string) models.Verdict {
	key := chain + ":" + contract

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok && time.Since(cached.FetchedAt) < c.ttl {
		return cached.Verdict
	}

	verdict := c.fetch(ctx, chain, contract)
	if verdict != models.VerdictUnknown {
		c.mu.Lock()
		c.cache[key] = models.Token{
			Chain:           chain,
			ContractAddress: contract,
			Verdict:         verdict,
			FetchedAt:       time.Now(),
		}
		c.mu.Unlock()
	}
	return verdict
}

func (c *Client) fetch(ctx context.Context, chain, contract string) models.Verdict {
	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("Rate limiter wait failed during token scan", zap.Error(err))
		return models.VerdictUnknown
	}

	var scan scanResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.apiKey).
		SetQueryParams(map[string]string{
			"includeDexScreenerData":   "true",
			"includeSignificantEvents": "false",
		}).
		SetResult(&scan).
		Get(fmt.Sprintf("/tokens/scan/%s/%s", chain, contract))

	if err != nil {
		c.logger.Warn("Token scan request failed",
			zap.String("chain", chain),
			zap.String("contract", contract),
			zap.Error(err),
		)
		return models.VerdictUnknown
	}
	if resp.IsError() {
		c.logger.Warn("Token scan returned an error status",
			zap.String("chain", chain),
			zap.String("contract", contract),
			zap.Int("status", resp.StatusCode()),
		)
		return models.VerdictUnknown
	}

	switch strings.ToUpper(scan.RiskLevel) {
	case "GOOD":
		return models.VerdictGood
	case "BAD", "DANGER":
		return models.VerdictBad
	default:
		return models.VerdictUnknown
	}
}
