package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// tokenServer is a fake client-credentials authority
type tokenServer struct {
	*httptest.Server
	issued    int32
	expiresIn any // nil omits expires_in
	lastForm  map[string]string
	mu        sync.Mutex
}

func newTokenServer(t *testing.T, expiresIn any) *tokenServer {
	t.Helper()
	ts := &tokenServer{expiresIn: expiresIn}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())

		ts.mu.Lock()
		ts.lastForm = map[string]string{}
		for k := range r.PostForm {
			ts.lastForm[k] = r.PostForm.Get(k)
		}
		ts.mu.Unlock()

		if r.PostForm.Get("client_id") != "floor-client" || r.PostForm.Get("client_secret") != "s3cret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}

		n := atomic.AddInt32(&ts.issued, 1)
		resp := map[string]any{
			"access_token": fmt.Sprintf("tok-%d", n),
			"token_type":   "Bearer",
		}
		if ts.expiresIn != nil {
			resp["expires_in"] = ts.expiresIn
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) Issued() int {
	return int(atomic.LoadInt32(&ts.issued))
}

func (ts *tokenServer) Form(key string) string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm[key]
}

func newTestTokenManager(ts *tokenServer, clock *fakeClock, mutate ...func(*TokenConfig)) *TokenManager {
	cfg := TokenConfig{
		TokenURL:     ts.URL,
		ClientID:     "floor-client",
		ClientSecret: "s3cret",
		UserEmail:    "ops@example.com",
		RefreshSkew:  60 * time.Second,
		Timeout:      2 * time.Second,
		Now:          clock.Now,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewTokenManager(cfg, logger.NewNopLogger())
}

func TestTokenManager_StateMachine(t *testing.T) {
	ts := newTokenServer(t, 600)
	clock := newFakeClock()
	tm := newTestTokenManager(ts, clock)
	ctx := context.Background()

	assert.Equal(t, TokenAbsent, tm.State())

	tok, err := tm.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, TokenValid, tm.State())

	// still inside lifetime minus skew: reused
	clock.Advance(539 * time.Second)
	tok, err = tm.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, 1, ts.Issued())

	// reaching issued + lifetime - skew counts as expired
	clock.Advance(time.Second)
	assert.Equal(t, TokenExpired, tm.State())

	tok, err = tm.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, ts.Issued())
	assert.Equal(t, 2, tm.IssuedCount())
	assert.Equal(t, TokenValid, tm.State())
}

func TestTokenManager_DefaultLifetime(t *testing.T) {
	ts := newTokenServer(t, nil)
	clock := newFakeClock()
	tm := newTestTokenManager(ts, clock)

	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(time.Hour - 61*time.Second)
	assert.Equal(t, TokenValid, tm.State())

	clock.Advance(time.Second)
	assert.Equal(t, TokenExpired, tm.State())
}

func TestTokenManager_StringExpiresIn(t *testing.T) {
	ts := newTokenServer(t, "120")
	clock := newFakeClock()
	tm := newTestTokenManager(ts, clock)

	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	assert.Equal(t, TokenValid, tm.State())
	clock.Advance(time.Second)
	assert.Equal(t, TokenExpired, tm.State())
}

func TestTokenManager_ShortLifetimeCapsSkew(t *testing.T) {
	ts := newTokenServer(t, 30)
	clock := newFakeClock()
	tm := newTestTokenManager(ts, clock)

	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	// a 60s skew would make a 30s token expired on arrival
	assert.Equal(t, TokenValid, tm.State())
	clock.Advance(15 * time.Second)
	assert.Equal(t, TokenExpired, tm.State())
}

func TestTokenManager_RejectedCredentials(t *testing.T) {
	ts := newTokenServer(t, 3600)
	tm := newTestTokenManager(ts, newFakeClock(), func(c *TokenConfig) {
		c.ClientSecret = "wrong"
	})

	_, err := tm.Token(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailure)

	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Contains(t, ae.Body, "invalid_client")
	assert.NotContains(t, err.Error(), "wrong")
	assert.Equal(t, TokenAbsent, tm.State())
}

func TestTokenManager_UnreachableAuthority(t *testing.T) {
	tm := NewTokenManager(TokenConfig{
		TokenURL:     "http://127.0.0.1:1/token",
		ClientID:     "floor-client",
		ClientSecret: "s3cret",
		Timeout:      time.Second,
	}, logger.NewNopLogger())

	_, err := tm.Token(context.Background())
	require.Error(t, err)
	kind := KindOf(err)
	assert.True(t, kind == KindAuthFailure || kind == KindTimeout, "unexpected kind %s", kind)
}

func TestTokenManager_SlowAuthorityTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tm := NewTokenManager(TokenConfig{
		TokenURL:     srv.URL,
		ClientID:     "floor-client",
		ClientSecret: "s3cret",
		Timeout:      100 * time.Millisecond,
	}, logger.NewNopLogger())

	_, err := tm.Token(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTokenManager_UserInTokenRequest(t *testing.T) {
	ts := newTokenServer(t, 3600)

	tm := newTestTokenManager(ts, newFakeClock())
	_, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "client_credentials", ts.Form("grant_type"))
	assert.Empty(t, ts.Form("useremail"))

	tm = newTestTokenManager(ts, newFakeClock(), func(c *TokenConfig) {
		c.SendUserInToken = true
	})
	_, err = tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", ts.Form("useremail"))
}

func TestTokenManager_Invalidate(t *testing.T) {
	ts := newTokenServer(t, 3600)
	tm := newTestTokenManager(ts, newFakeClock())

	_, err := tm.Token(context.Background())
	require.NoError(t, err)
	tm.Invalidate()
	assert.Equal(t, TokenAbsent, tm.State())

	tok, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}
