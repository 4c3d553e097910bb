package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// Source produces frames on demand. Implementations are not safe for
// concurrent Acquire calls; the capture loop calls them from one goroutine.
type Source interface {
	Acquire(ctx context.Context) (*Frame, error)
	Name() string
	Close() error
}

// NewSource builds the configured source wrapped with capture retries.
// Opening a local device happens here, so failures surface at startup.
func NewSource(ctx context.Context, cfg config.CameraConfig, log *logger.Logger) (Source, error) {
	var src Source

	switch cfg.Type {
	case config.CameraTypeLocal:
		local, err := OpenLocal(ctx, LocalOptions{
			Device:      cfg.Local.Device,
			FFmpegPath:  cfg.Local.FFmpegPath,
			InputFormat: cfg.Local.InputFormat,
			Quality:     cfg.Local.Quality,
			Timeout:     cfg.Local.CaptureTimeout,
		}, log)
		if err != nil {
			return nil, err
		}
		src = local
	case config.CameraTypeRemote:
		remote, err := NewRemoteSource(RemoteOptions{
			Host:        cfg.Remote.Host,
			Channel:     cfg.Remote.Channel,
			SnapshotURL: cfg.Remote.SnapshotURL,
			User:        cfg.Remote.User,
			Password:    cfg.Remote.Password,
			BasicAuth:   cfg.Remote.BasicAuth,
			Timeout:     cfg.Remote.Timeout,
		}, log)
		if err != nil {
			return nil, err
		}
		src = remote
	default:
		return nil, fmt.Errorf("unknown camera type %q", cfg.Type)
	}

	return WithRetry(src, cfg.Attempts, cfg.RetryDelay, log), nil
}

// retryingSource retries failed acquisitions a bounded number of times
type retryingSource struct {
	inner    Source
	attempts int
	delay    time.Duration
	logger   *logger.Logger
}

// WithRetry wraps src so that Acquire makes up to attempts tries spaced by
// delay. Authentication failures are returned at once.
func WithRetry(src Source, attempts int, delay time.Duration, log *logger.Logger) Source {
	if attempts <= 1 {
		return src
	}
	return &retryingSource{inner: src, attempts: attempts, delay: delay, logger: log}
}

func (r *retryingSource) Name() string {
	return r.inner.Name()
}

func (r *retryingSource) Close() error {
	return r.inner.Close()
}

func (r *retryingSource) Acquire(ctx context.Context) (*Frame, error) {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		frame, err := r.inner.Acquire(ctx)
		if err == nil {
			return frame, nil
		}
		lastErr = err

		if KindOf(err) == KindAuthError || ctx.Err() != nil || attempt == r.attempts {
			break
		}

		r.logger.Warn("Capture attempt failed, retrying",
			"source", r.inner.Name(),
			"attempt", attempt,
			"max_attempts", r.attempts,
			"error", err,
		)

		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
	return nil, lastErr
}
