package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

const (
	maxResponseBytes = 4 << 20
	maxRetryDelay    = time.Minute
)

// ClientConfig contains configuration for the analysis client
type ClientConfig struct {
	BaseURL        string
	UserEmail      string
	Model          string
	Temperature    float64
	DetectionKey   string
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Client sends frames to the remote vision-language service
type Client struct {
	cfg        ClientConfig
	tokens     *TokenManager
	httpClient *http.Client
	logger     *logger.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new analysis client
func NewClient(cfg ClientConfig, tokens *TokenManager, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.DetectionKey == "" {
		cfg.DetectionKey = "water_detected"
	}

	return &Client{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: &http.Client{},
		logger:     log,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Tokens returns the client's token manager
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Analyze sends the frame and prompt to the service and returns its verdict.
// Timeouts, transport failures and 5xx answers are retried with exponential
// backoff; every other failure is returned immediately.
func (c *Client) Analyze(ctx context.Context, frame *camera.Frame, prompt string) (*Verdict, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, &AnalysisError{Kind: KindDecodeError, Err: errors.New("empty frame")}
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Warn("Analysis attempt failed, retrying",
				"attempt", attempt,
				"max_retries", c.cfg.MaxRetries,
				"delay", delay,
				"error", lastErr,
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		verdict, err := c.analyzeOnce(ctx, frame, prompt)
		if err == nil {
			verdict.Attempts = attempt + 1
			return verdict, nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// backoff returns base*2^(attempt-1) plus up to one base of jitter,
// capped at maxRetryDelay
func (c *Client) backoff(attempt int) time.Duration {
	base := c.cfg.RetryBaseDelay
	if base > maxRetryDelay {
		return maxRetryDelay
	}
	d := base
	for i := 1; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	d += time.Duration(rand.Int64N(int64(base) + 1))
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

func (c *Client) analyzeOnce(ctx context.Context, frame *camera.Frame, prompt string) (*Verdict, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(c.buildRequest(frame, prompt))
	if err != nil {
		return nil, &AnalysisError{Kind: KindDecodeError, Err: fmt.Errorf("marshal request: %w", err)}
	}

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &AnalysisError{Kind: KindServiceError, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Sending analysis request",
		"frame_id", frame.ID,
		"image_bytes", len(frame.Data),
		"model", c.cfg.Model,
	)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if rctx.Err() != nil || isTimeout(err) {
			return nil, &AnalysisError{Kind: KindTimeout, Err: fmt.Errorf("analysis request: %w", err)}
		}
		return nil, &AnalysisError{Kind: KindServiceError, Err: fmt.Errorf("analysis request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if rctx.Err() != nil || isTimeout(err) {
			return nil, &AnalysisError{Kind: KindTimeout, Err: fmt.Errorf("read response: %w", err)}
		}
		return nil, &AnalysisError{Kind: KindServiceError, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return nil, &AnalysisError{
			Kind:   KindServiceError,
			Status: resp.StatusCode,
			Body:   truncate(strings.TrimSpace(string(raw)), 500),
		}
	}

	verdict, err := decodeVerdict(raw, c.cfg.DetectionKey)
	if err != nil {
		return nil, &AnalysisError{Kind: KindDecodeError, Body: truncate(string(raw), 500), Err: err}
	}
	verdict.ReceivedAt = c.now()

	c.logger.Debug("Analysis response received",
		"frame_id", frame.ID,
		"duration", time.Since(start),
		"raw", truncate(string(raw), 500),
	)
	return verdict, nil
}

func (c *Client) buildRequest(frame *camera.Frame, prompt string) Request {
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(frame.Data)

	return Request{
		UserEmail: c.cfg.UserEmail,
		History: []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
			},
		}},
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
	}
}

// envelopeKeys are fields some deployments wrap the model answer in
var envelopeKeys = []string{"response", "content", "answer", "output", "message", "result"}

// decodeVerdict parses the response body. The model answer may arrive as a
// JSON object, as a JSON string holding JSON (often inside a Markdown code
// fence), or wrapped in an envelope field such as "response". A JSON string
// that is not JSON itself becomes a free-text verdict.
func decodeVerdict(raw []byte, detectionKey string) (*Verdict, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}

	var value any
	dec := json.NewDecoder(bytes.NewReader(stripFences(trimmed)))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}

	verdict := &Verdict{Raw: raw, Success: true, detectionKey: detectionKey}

	// unwrap at most a few layers of string/envelope nesting
	for depth := 0; depth < 3; depth++ {
		switch v := value.(type) {
		case string:
			inner, ok := parseJSONText(v)
			if !ok {
				verdict.Text = strings.TrimSpace(v)
				return verdict, nil
			}
			value = inner
			continue
		case map[string]any:
			if next, ok := envelope(v, detectionKey); ok {
				value = next
				continue
			}
			verdict.Fields = normalizeNumbers(v)
			return verdict, nil
		default:
			return nil, fmt.Errorf("unexpected response shape %T", value)
		}
	}
	if m, ok := value.(map[string]any); ok {
		verdict.Fields = normalizeNumbers(m)
		return verdict, nil
	}
	return nil, errors.New("response nested too deeply")
}

// envelope returns the inner answer when m wraps it instead of carrying
// the verdict fields itself
func envelope(m map[string]any, detectionKey string) (any, bool) {
	if _, ok := m[detectionKey]; ok {
		return nil, false
	}
	for _, key := range envelopeKeys {
		inner, ok := m[key]
		if !ok {
			continue
		}
		switch inner.(type) {
		case string, map[string]any:
			return inner, true
		}
	}
	return nil, false
}

func parseJSONText(s string) (any, bool) {
	body := stripFences([]byte(strings.TrimSpace(s)))
	if len(body) == 0 || (body[0] != '{' && body[0] != '"') {
		return nil, false
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// stripFences removes a surrounding ```json ... ``` block
func stripFences(b []byte) []byte {
	s := bytes.TrimSpace(b)
	if !bytes.HasPrefix(s, []byte("```")) {
		return s
	}
	s = s[3:]
	if nl := bytes.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = bytes.TrimSuffix(bytes.TrimSpace(s), []byte("```"))
	return bytes.TrimSpace(s)
}

// normalizeNumbers turns json.Number values into float64
func normalizeNumbers(m map[string]any) map[string]any {
	for k, v := range m {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				m[k] = f
			}
		}
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
