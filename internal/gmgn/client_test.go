package gmgn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"multiplier-trade-bot-go/internal/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func gmgnConfig(serverURL string) *config.Gmgn {
	return &config.Gmgn{
		ApiHost:        serverURL,
		Chain:          "sol",
		WalletAddress:  "WALLET",
		SecretKey:      "test-secret",
		SlippagePct:    0.5,
		RateLimit:      1000,
		RateLimitBurst: 100,
	}
}

func authenticatedSession(t *testing.T, serverURL string) *Session {
	s := NewSession(gmgnConfig(serverURL), zap.NewNop())
	assert.NoError(t, s.Authenticate(context.Background()))
	return s
}

func testGateway(t *testing.T, serverURL string) *Client {
	return NewClient(gmgnConfig(serverURL), authenticatedSession(t, serverURL), zap.NewNop())
}

// venueHandler serves the login, swap-route, submit, and status endpoints.
func venueHandler(t *testing.T, submits *[]string, statuses map[string]string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/login":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "WALLET", body["wallet"])
			assert.NotEmpty(t, body["signature"])
			fmt.Fprint(w, `{"token":"session-token","expires_in":3600}`)
		case "/defi/router/v1/sol/tx/get_swap_route":
			assert.Equal(t, "Bearer session-token", r.Header.Get("Authorization"))
			assert.Equal(t, "TOKEN_IN", r.URL.Query().Get("token_in_address"))
			assert.Equal(t, "TOKEN_OUT", r.URL.Query().Get("token_out_address"))
			assert.Equal(t, "WALLET", r.URL.Query().Get("from_address"))
			fmt.Fprint(w, `{"data":{"raw_tx":{"swapTransaction":"c2lnbmVk"}}}`)
		case "/txproxy/v1/send_transaction":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "c2lnbmVk", body["signedTx"])
			*submits = append(*submits, body["external_id"])
			duplicate := len(*submits) > 1 && (*submits)[len(*submits)-2] == body["external_id"]
			fmt.Fprintf(w, `{"data":{"hash":"0xabc","duplicate":%t}}`, duplicate)
		case "/txproxy/v1/order_status":
			ref := r.URL.Query().Get("external_id")
			fmt.Fprint(w, statuses[ref])
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
		}
	}
}

func TestSubmitOrder_TagsSubmissionWithClientRef(t *testing.T) {
	var submits []string
	server := httptest.NewServer(venueHandler(t, &submits, nil))
	defer server.Close()

	gw := testGateway(t, server.URL)
	ack, err := gw.SubmitOrder(context.Background(), OrderRequest{
		ClientRef: "ref-1",
		Side:      "BUY",
		TokenIn:   "TOKEN_IN",
		TokenOut:  "TOKEN_OUT",
		Quantity:  decimal.RequireFromString("10"),
	})

	assert.NoError(t, err)
	assert.Equal(t, "ref-1", ack.ClientRef)
	assert.Equal(t, "0xabc", ack.VenueHash)
	assert.False(t, ack.Duplicate)
	assert.Equal(t, []string{"ref-1"}, submits)
}

func TestSubmitOrder_ResubmissionIsReportedAsDuplicate(t *testing.T) {
	var submits []string
	server := httptest.NewServer(venueHandler(t, &submits, nil))
	defer server.Close()

	gw := testGateway(t, server.URL)
	req := OrderRequest{
		ClientRef: "ref-1",
		Side:      "BUY",
		TokenIn:   "TOKEN_IN",
		TokenOut:  "TOKEN_OUT",
		Quantity:  decimal.RequireFromString("10"),
	}

	_, err := gw.SubmitOrder(context.Background(), req)
	assert.NoError(t, err)

	ack, err := gw.SubmitOrder(context.Background(), req)
	assert.NoError(t, err)
	assert.True(t, ack.Duplicate, "the venue deduplicates on external_id")
}

func TestSubmitOrder_ExpiredTokenMapsToSessionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token":"session-token","expires_in":3600}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	gw := testGateway(t, server.URL)
	_, err := gw.SubmitOrder(context.Background(), OrderRequest{
		ClientRef: "ref-1",
		TokenIn:   "TOKEN_IN",
		TokenOut:  "TOKEN_OUT",
		Quantity:  decimal.RequireFromString("10"),
	})

	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, IsRetryable(err))
}

func TestSubmitOrder_RateLimitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token":"session-token","expires_in":3600}`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	gw := testGateway(t, server.URL)
	_, err := gw.SubmitOrder(context.Background(), OrderRequest{
		ClientRef: "ref-1",
		TokenIn:   "TOKEN_IN",
		TokenOut:  "TOKEN_OUT",
		Quantity:  decimal.RequireFromString("10"),
	})

	assert.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestSubmitOrder_BadRequestIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token":"session-token","expires_in":3600}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	gw := testGateway(t, server.URL)
	_, err := gw.SubmitOrder(context.Background(), OrderRequest{
		ClientRef: "ref-1",
		TokenIn:   "TOKEN_IN",
		TokenOut:  "TOKEN_OUT",
		Quantity:  decimal.RequireFromString("10"),
	})

	assert.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestOrderStatus_ParsesFill(t *testing.T) {
	statuses := map[string]string{
		"ref-1": `{"data":{"status":"FILLED","filled_qty":"5","avg_price":"201.5","external_id":"ref-1"}}`,
	}
	var submits []string
	server := httptest.NewServer(venueHandler(t, &submits, statuses))
	defer server.Close()

	gw := testGateway(t, server.URL)
	fill, err := gw.OrderStatus(context.Background(), "ref-1")

	assert.NoError(t, err)
	assert.Equal(t, FillFilled, fill.Status)
	assert.Equal(t, "ref-1", fill.ClientRef)
	assert.True(t, fill.FilledQuantity.Equal(decimal.RequireFromString("5")))
	assert.True(t, fill.Price.Equal(decimal.RequireFromString("201.5")))
}

func TestOrderStatus_PendingOrderHasNoFillData(t *testing.T) {
	statuses := map[string]string{
		"ref-1": `{"data":{"status":"PENDING","external_id":"ref-1"}}`,
	}
	var submits []string
	server := httptest.NewServer(venueHandler(t, &submits, statuses))
	defer server.Close()

	gw := testGateway(t, server.URL)
	fill, err := gw.OrderStatus(context.Background(), "ref-1")

	assert.NoError(t, err)
	assert.Equal(t, FillPending, fill.Status)
	assert.True(t, fill.FilledQuantity.IsZero())
}

func TestSession_Lifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"session-token","expires_in":3600}`)
	}))
	defer server.Close()

	s := NewSession(gmgnConfig(server.URL), zap.NewNop())
	assert.False(t, s.Valid(), "a fresh session is unauthenticated")
	assert.Empty(t, s.Token())

	assert.NoError(t, s.Authenticate(context.Background()))
	assert.True(t, s.Valid())
	assert.Equal(t, "session-token", s.Token())
}

func TestSession_ExpiringTokenIsNotValid(t *testing.T) {
	// expires_in below the 30s renewal margin
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"session-token","expires_in":10}`)
	}))
	defer server.Close()

	s := NewSession(gmgnConfig(server.URL), zap.NewNop())
	assert.NoError(t, s.Authenticate(context.Background()))
	assert.False(t, s.Valid(), "a token inside the renewal margin must be renewed")
}

func TestSession_LoginRejectionMapsToSessionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s := NewSession(gmgnConfig(server.URL), zap.NewNop())
	err := s.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.False(t, s.Valid())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrSessionExpired))
	assert.False(t, IsRetryable(&VenueError{StatusCode: 400, Retryable: false}))
	assert.True(t, IsRetryable(&VenueError{StatusCode: 503, Retryable: true}))
	assert.True(t, IsRetryable(fmt.Errorf("connection reset")))
}
