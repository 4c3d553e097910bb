package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/video"
)

// LocalOptions configures an on-device camera
type LocalOptions struct {
	Device      string
	FFmpegPath  string
	InputFormat string
	Quality     int
	Timeout     time.Duration
}

// frameGrabber is the part of the FFmpeg wrapper the local source needs
type frameGrabber interface {
	CaptureFrameJPEG(ctx context.Context, opts video.CaptureOptions) ([]byte, error)
}

// LocalSource captures frames from a device attached to this machine.
// The device node is held open from OpenLocal until Close.
type LocalSource struct {
	opts    LocalOptions
	grabber frameGrabber
	handle  *os.File
	logger  *logger.Logger
	now     func() time.Time
	mu      sync.Mutex
	closed  bool
}

// OpenLocal opens the capture device and verifies FFmpeg can read from it
func OpenLocal(ctx context.Context, opts LocalOptions, log *logger.Logger) (*LocalSource, error) {
	ffmpeg, err := video.NewFFmpegWrapper(log, opts.FFmpegPath)
	if err != nil {
		return nil, newError(KindDeviceUnavailable, SourceLocal, "ffmpeg unavailable", err)
	}

	src, err := newLocalSource(opts, ffmpeg, log)
	if err != nil {
		return nil, err
	}

	if err := ffmpeg.ProbeInput(ctx, opts.Device, opts.InputFormat, opts.Timeout); err != nil {
		src.Close()
		return nil, newError(KindDeviceUnavailable, SourceLocal, "probe "+opts.Device, err)
	}

	log.Info("Local camera opened", "device", opts.Device, "format", opts.InputFormat)
	return src, nil
}

func newLocalSource(opts LocalOptions, grabber frameGrabber, log *logger.Logger) (*LocalSource, error) {
	src := &LocalSource{
		opts:    opts,
		grabber: grabber,
		logger:  log,
		now:     time.Now,
	}

	// URL inputs (rtsp://, http://) have no device node to hold
	if !strings.Contains(opts.Device, "://") {
		f, err := os.Open(opts.Device)
		if err != nil {
			return nil, newError(KindDeviceUnavailable, SourceLocal, "open "+opts.Device, err)
		}
		src.handle = f
	}

	return src, nil
}

// Name returns the source identifier
func (s *LocalSource) Name() string {
	return SourceLocal
}

// Acquire reads one frame from the device
func (s *LocalSource) Acquire(ctx context.Context) (*Frame, error) {
	s.mu.Lock()
	closed, held := s.closed, s.handle != nil
	s.mu.Unlock()
	if closed {
		return nil, newError(KindDeviceUnavailable, SourceLocal, "source closed", nil)
	}

	if held {
		if _, err := os.Stat(s.opts.Device); err != nil {
			return nil, newError(KindDeviceUnavailable, SourceLocal, "device gone", err)
		}
	}

	data, err := s.grabber.CaptureFrameJPEG(ctx, video.CaptureOptions{
		Input:   s.opts.Device,
		Format:  s.opts.InputFormat,
		Quality: s.opts.Quality,
		Timeout: s.opts.Timeout,
	})
	switch {
	case err == nil && len(data) == 0, errors.Is(err, video.ErrNoFrame):
		return nil, newError(KindBadResponse, SourceLocal, "zero-byte frame", nil)
	case errors.Is(err, video.ErrInvalidFrame):
		return nil, newError(KindBadResponse, SourceLocal, "", err)
	case err != nil:
		return nil, newError(KindDeviceUnavailable, SourceLocal, fmt.Sprintf("read %s", s.opts.Device), err)
	}

	return NewFrame(data, "image/jpeg", SourceLocal, s.now()), nil
}

// Close releases the device. Further Acquire calls fail.
func (s *LocalSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.handle != nil {
		err := s.handle.Close()
		s.handle = nil
		if err != nil {
			return fmt.Errorf("close %s: %w", s.opts.Device, err)
		}
	}
	s.logger.Info("Local camera released", "device", s.opts.Device)
	return nil
}
