package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

const maxSnapshotBytes = 32 << 20

// RemoteOptions configures an HTTP snapshot camera
type RemoteOptions struct {
	Host        string
	Channel     int
	SnapshotURL string // used as-is when set, otherwise the Reolink Snap API is used
	User        string
	Password    string
	BasicAuth   bool
	Timeout     time.Duration
}

// RemoteSource fetches frames from an IP camera's snapshot endpoint
type RemoteSource struct {
	opts   RemoteOptions
	client *http.Client
	logger *logger.Logger
	now    func() time.Time
}

// NewRemoteSource creates a remote snapshot source
func NewRemoteSource(opts RemoteOptions, log *logger.Logger) (*RemoteSource, error) {
	if opts.SnapshotURL == "" && opts.Host == "" {
		return nil, fmt.Errorf("remote camera needs a host or snapshot url")
	}
	if opts.SnapshotURL != "" {
		if _, err := url.Parse(opts.SnapshotURL); err != nil {
			return nil, fmt.Errorf("invalid snapshot url: %w", err)
		}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &RemoteSource{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: log,
		now:    time.Now,
	}, nil
}

// Name returns the source identifier
func (s *RemoteSource) Name() string {
	return SourceRemote
}

// Close is a no-op; each Acquire is a self-contained request
func (s *RemoteSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Acquire fetches one snapshot
func (s *RemoteSource) Acquire(ctx context.Context) (*Frame, error) {
	target := s.snapshotURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, newError(KindNetworkError, SourceRemote, "build request", err)
	}
	if s.opts.BasicAuth {
		req.SetBasicAuth(s.opts.User, s.opts.Password)
	}

	s.logger.Debug("Requesting snapshot", "url", RedactURL(target))

	resp, err := s.client.Do(req)
	if err != nil {
		// url.Error repeats the full URL, credentials included
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, newError(KindNetworkError, SourceRemote, "GET "+RedactURL(target), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, newError(KindNetworkError, SourceRemote, "read body", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newError(KindAuthError, SourceRemote, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, newError(KindBadResponse, SourceRemote, fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(data)), nil)
	case len(data) == 0:
		return nil, newError(KindBadResponse, SourceRemote, "zero-byte frame", nil)
	}

	contentType := http.DetectContentType(data)
	if contentType != "image/jpeg" && contentType != "image/png" {
		if isLoginFailure(data) {
			return nil, newError(KindAuthError, SourceRemote, "camera rejected credentials", nil)
		}
		return nil, newError(KindBadResponse, SourceRemote, fmt.Sprintf("non-image payload (%s): %s", contentType, snippet(data)), nil)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return nil, newError(KindBadResponse, SourceRemote, "corrupt image", err)
	}

	return NewFrame(data, contentType, SourceRemote, s.now()), nil
}

// snapshotURL returns the URL for one request. The Reolink template gets a
// fresh random rs value every time so intermediate caches never answer.
func (s *RemoteSource) snapshotURL() string {
	if s.opts.SnapshotURL != "" {
		return s.opts.SnapshotURL
	}

	q := url.Values{}
	q.Set("cmd", "Snap")
	q.Set("channel", strconv.Itoa(s.opts.Channel))
	q.Set("rs", randomToken(6))
	q.Set("user", s.opts.User)
	q.Set("password", s.opts.Password)

	u := url.URL{
		Scheme:   "http",
		Host:     s.opts.Host,
		Path:     "/cgi-bin/api.cgi",
		RawQuery: q.Encode(),
	}
	if strings.Contains(s.opts.Host, "://") {
		if parsed, err := url.Parse(s.opts.Host); err == nil {
			u.Scheme = parsed.Scheme
			u.Host = parsed.Host
		}
	}
	return u.String()
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenAlphabet[rand.IntN(len(tokenAlphabet))]
	}
	return string(b)
}

// isLoginFailure recognises the JSON error bodies cameras send instead of an
// image when the credentials are wrong
func isLoginFailure(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range []string{"login failed", "\"rspcode\":-6", "\"rspcode\": -6", "please login", "invalid user", "unauthorized"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// RedactURL masks credentials in a URL for logging
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	changed := false
	for _, key := range []string{"password", "pwd", "user", "token"} {
		if q.Has(key) {
			q.Set(key, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
