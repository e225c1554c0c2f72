package gmgn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"multiplier-trade-bot-go/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Order fill statuses as reported by the venue.
const (
	FillPending = "PENDING"
	FillFilled  = "FILLED"
	FillFailed  = "FAILED"
)

// OrderRequest describes one swap submission. ClientRef is the caller's
// idempotency reference: the venue deduplicates submissions that carry the
// same reference, so a retry after a timeout can never double-execute.
type OrderRequest struct {
	ClientRef  string
	Side       string
	TokenIn    string
	TokenOut   string
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
}

// OrderAck is the venue's acknowledgement of a submission.
type OrderAck struct {
	ClientRef string
	VenueHash string
	Duplicate bool
}

// FillStatus is the venue's view of an order's progress.
type FillStatus struct {
	ClientRef      string
	Status         string
	FilledQuantity decimal.Decimal
	Price          decimal.Decimal
}

// Gateway submits orders against the venue and reports fill status.
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)
	OrderStatus(ctx context.Context, clientRef string) (*FillStatus, error)
}

// VenueError is a classified error from the order gateway. Retryable covers
// rate limits and server-side failures; everything else must not be retried
// blindly.
type VenueError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether err represents a transient venue or transport
// failure. Plain transport errors (no HTTP response) are always retryable.
func IsRetryable(err error) bool {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Retryable
	}
	if errors.Is(err, ErrSessionExpired) {
		return false
	}
	return err != nil
}

// Client is the gmgn swap-router order gateway.
type Client struct {
	client      *resty.Client
	chain       string
	wallet      string
	slippagePct float64
	session     *Session
	logger      *zap.Logger
	limiter     *rate.Limiter
}

var _ Gateway = (*Client)(nil)

// NewClient creates a new gateway client bound to an authenticated session.
func NewClient(cfg *config.Gmgn, session *Session, logger *zap.Logger) *Client {
	return &Client{
		client:      resty.New().SetBaseURL(cfg.ApiHost),
		chain:       cfg.Chain,
		wallet:      cfg.WalletAddress,
		slippagePct: cfg.SlippagePct,
		session:     session,
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
	}
}

type swapRouteResponse struct {
	Data struct {
		RawTx struct {
			SwapTransaction string `json:"swapTransaction"`
		} `json:"raw_tx"`
	} `json:"data"`
}

type submitResponse struct {
	Data struct {
		Hash      string `json:"hash"`
		Duplicate bool   `json:"duplicate"`
	} `json:"data"`
}

type statusResponse struct {
	Data struct {
		Status     string `json:"status"`
		FilledQty  string `json:"filled_qty"`
		AvgPrice   string `json:"avg_price"`
		ExternalID string `json:"external_id"`
	} `json:"data"`
}

// SubmitOrder fetches a swap route for the token pair and submits the
// returned transaction through the tx proxy, tagged with the client
// reference. A "duplicate" response means the venue already holds an order
// with this reference; the caller proceeds to fill polling as usual.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderAck, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var route swapRouteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.session.Token()).
		SetQueryParams(map[string]string{
			"token_in_address":  req.TokenIn,
			"token_out_address": req.TokenOut,
			"in_amount":         req.Quantity.String(),
			"from_address":      c.wallet,
			"slippage":          strconv.FormatFloat(c.slippagePct, 'f', -1, 64),
		}).
		SetResult(&route).
		Get(fmt.Sprintf("/defi/router/v1/%s/tx/get_swap_route", c.chain))

	if err != nil {
		return nil, fmt.Errorf("failed to get swap route: %w", err)
	}
	if resp.IsError() {
		return nil, c.classify(resp, "get swap route")
	}
	if route.Data.RawTx.SwapTransaction == "" {
		return nil, &VenueError{StatusCode: resp.StatusCode(), Message: "swap route response missing transaction", Retryable: false}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var submit submitResponse
	resp, err = c.client.R().
		SetContext(ctx).
		SetAuthToken(c.session.Token()).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"chain":       c.chain,
			"signedTx":    route.Data.RawTx.SwapTransaction,
			"external_id": req.ClientRef,
		}).
		SetResult(&submit).
		Post("/txproxy/v1/send_transaction")

	if err != nil {
		return nil, fmt.Errorf("failed to submit transaction: %w", err)
	}
	if resp.IsError() {
		return nil, c.classify(resp, "submit transaction")
	}

	c.logger.Info("Order submitted",
		zap.String("client_ref", req.ClientRef),
		zap.String("side", req.Side),
		zap.String("venue_hash", submit.Data.Hash),
		zap.Bool("duplicate", submit.Data.Duplicate),
	)

	return &OrderAck{
		ClientRef: req.ClientRef,
		VenueHash: submit.Data.Hash,
		Duplicate: submit.Data.Duplicate,
	}, nil
}

// OrderStatus queries the venue for the fill state of an order by its client
// reference. Used both for post-submission confirmation and for reconciling
// pending legs after a restart.
func (c *Client) OrderStatus(ctx context.Context, clientRef string) (*FillStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var status statusResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.session.Token()).
		SetQueryParam("external_id", clientRef).
		SetResult(&status).
		Get("/txproxy/v1/order_status")

	if err != nil {
		return nil, fmt.Errorf("failed to get order status: %w", err)
	}
	if resp.IsError() {
		return nil, c.classify(resp, "order status")
	}

	fill := &FillStatus{
		ClientRef: clientRef,
		Status:    status.Data.Status,
	}
	if status.Data.FilledQty != "" {
		qty, err := decimal.NewFromString(status.Data.FilledQty)
		if err != nil {
			return nil, fmt.Errorf("failed to parse filled quantity %q: %w", status.Data.FilledQty, err)
		}
		fill.FilledQuantity = qty
	}
	if status.Data.AvgPrice != "" {
		price, err := decimal.NewFromString(status.Data.AvgPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to parse fill price %q: %w", status.Data.AvgPrice, err)
		}
		fill.Price = price
	}
	return fill, nil
}

// classify maps an HTTP error response to a VenueError or ErrSessionExpired.
func (c *Client) classify(resp *resty.Response, op string) error {
	code := resp.StatusCode()
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fmt.Errorf("%s: %w", op, ErrSessionExpired)
	}
	return &VenueError{
		StatusCode: code,
		Message:    fmt.Sprintf("%s: %s", op, resp.String()),
		Retryable:  code == http.StatusTooManyRequests || code >= 500,
	}
}
