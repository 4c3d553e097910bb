package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// TokenState is the lifecycle state of the held bearer token
type TokenState string

const (
	TokenAbsent  TokenState = "absent"
	TokenValid   TokenState = "valid"
	TokenExpired TokenState = "expired"
)

// Token is an issued bearer credential. It is never persisted or logged.
type Token struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	Lifetime    time.Duration
}

// ExpiresAt returns the advertised expiry
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.Lifetime)
}

// TokenConfig configures client-credentials issuance
type TokenConfig struct {
	TokenURL        string
	ClientID        string
	ClientSecret    string
	UserEmail       string
	SendUserInToken bool
	Scopes          []string
	DefaultLifetime time.Duration // used when the authority omits expires_in
	RefreshSkew     time.Duration // refresh this long before expiry
	Timeout         time.Duration
	HTTPClient      *http.Client
	Now             func() time.Time
}

// TokenManager issues and caches the bearer token. Expiry is checked against
// the clock on every call; there are no background refresh timers.
type TokenManager struct {
	cfg    TokenConfig
	oauth  *clientcredentials.Config
	logger *logger.Logger

	mu     sync.Mutex
	token  *Token
	issued int
}

// NewTokenManager creates a token manager in the Absent state
func NewTokenManager(cfg TokenConfig, log *logger.Logger) *TokenManager {
	if cfg.DefaultLifetime <= 0 {
		cfg.DefaultLifetime = time.Hour
	}
	if cfg.RefreshSkew < 0 {
		cfg.RefreshSkew = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	params := url.Values{}
	if cfg.SendUserInToken && cfg.UserEmail != "" {
		params.Set("useremail", cfg.UserEmail)
	}

	return &TokenManager{
		cfg: cfg,
		oauth: &clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			Scopes:         cfg.Scopes,
			EndpointParams: params,
			AuthStyle:      oauth2.AuthStyleInParams,
		},
		logger: log,
	}
}

// State reports the token state at the current clock time
func (m *TokenManager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(m.cfg.Now())
}

func (m *TokenManager) stateLocked(now time.Time) TokenState {
	if m.token == nil {
		return TokenAbsent
	}
	skew := m.cfg.RefreshSkew
	if skew > m.token.Lifetime/2 {
		skew = m.token.Lifetime / 2
	}
	if !now.Before(m.token.ExpiresAt().Add(-skew)) {
		return TokenExpired
	}
	return TokenValid
}

// Token returns a valid access token, issuing a new one when the held token
// is absent or expired
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now()
	state := m.stateLocked(now)
	if state == TokenValid {
		return m.token.AccessToken, nil
	}

	tok, err := m.issue(ctx, now)
	if err != nil {
		return "", err
	}
	m.token = tok
	m.issued++

	m.logger.Info("Obtained analysis access token",
		"previous_state", state,
		"lifetime", tok.Lifetime,
		"expires_at", tok.ExpiresAt(),
	)
	return tok.AccessToken, nil
}

// Invalidate drops the held token so the next call re-issues
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = nil
}

// IssuedCount returns how many tokens have been issued so far
func (m *TokenManager) IssuedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued
}

func (m *TokenManager) issue(ctx context.Context, now time.Time) (*Token, error) {
	tctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	tctx = context.WithValue(tctx, oauth2.HTTPClient, m.cfg.HTTPClient)

	raw, err := m.oauth.Token(tctx)
	if err != nil {
		if errors.Is(tctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return nil, &AnalysisError{Kind: KindTimeout, Err: fmt.Errorf("token issuance: %w", err)}
		}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			status := 0
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			return nil, &AnalysisError{
				Kind:   KindAuthFailure,
				Status: status,
				Body:   truncate(string(rerr.Body), 500),
				Err:    fmt.Errorf("token request rejected with status %d", status),
			}
		}
		return nil, &AnalysisError{Kind: KindAuthFailure, Err: fmt.Errorf("token issuance: %w", err)}
	}

	return &Token{
		AccessToken: raw.AccessToken,
		TokenType:   raw.Type(),
		IssuedAt:    now,
		Lifetime:    m.lifetime(raw),
	}, nil
}

// lifetime prefers the raw expires_in value, then the library's computed
// expiry, then the configured default
func (m *TokenManager) lifetime(raw *oauth2.Token) time.Duration {
	switch v := raw.Extra("expires_in").(type) {
	case float64:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	case json.Number:
		if n, err := v.Int64(); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if !raw.Expiry.IsZero() {
		if d := time.Until(raw.Expiry); d > 0 {
			return d.Round(time.Second)
		}
	}
	return m.cfg.DefaultLifetime
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
