package gmgn

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"multiplier-trade-bot-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ErrSessionExpired is returned when the venue rejects the current session
// token. Trading stops for all symbols until a new session is established.
var ErrSessionExpired = errors.New("trading session invalid or expired")

// Session holds an authenticated trading session with the gateway. The
// strategy engine queries Valid before each cycle and calls Renew when the
// session is about to lapse; it never manages authentication itself.
type Session struct {
	client    *resty.Client
	wallet    string
	secretKey string
	logger    *zap.Logger

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewSession creates an unauthenticated session for the configured wallet.
func NewSession(cfg *config.Gmgn, logger *zap.Logger) *Session {
	return &Session{
		client:    resty.New().SetBaseURL(cfg.ApiHost),
		wallet:    cfg.WalletAddress,
		secretKey: cfg.SecretKey,
		logger:    logger,
	}
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// Authenticate performs the login handshake: the wallet address and a
// timestamp are signed with the account secret and exchanged for a bearer
// token with an expiry.
func (s *Session) Authenticate(ctx context.Context) error {
	ts := fmt.Sprintf("%d", time.Now().UnixMilli())
	payload := s.wallet + ts

	h := hmac.New(sha256.New, []byte(s.secretKey))
	h.Write([]byte(payload))
	signature := hex.EncodeToString(h.Sum(nil))

	var login loginResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"wallet":    s.wallet,
			"timestamp": ts,
			"signature": signature,
		}).
		SetResult(&login).
		Post("/auth/login")

	if err != nil {
		return fmt.Errorf("session login failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("session login rejected with status %s: %w", resp.Status(), ErrSessionExpired)
	}
	if login.Token == "" {
		return fmt.Errorf("session login returned empty token: %w", ErrSessionExpired)
	}

	s.mu.Lock()
	s.token = login.Token
	s.expiresAt = time.Now().Add(time.Duration(login.ExpiresIn) * time.Second)
	s.mu.Unlock()

	s.logger.Info("Trading session established",
		zap.String("wallet", s.wallet),
		zap.Time("expires_at", s.expiresAt),
	)
	return nil
}

// Valid reports whether the session token exists and is not within 30
// seconds of expiry.
func (s *Session) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && time.Until(s.expiresAt) > 30*time.Second
}

// Renew re-authenticates. It is the engine's recovery hook for a lapsing
// session.
func (s *Session) Renew(ctx context.Context) error {
	s.logger.Info("Renewing trading session", zap.String("wallet", s.wallet))
	return s.Authenticate(ctx)
}

// Token returns the current bearer token, or empty when unauthenticated.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
