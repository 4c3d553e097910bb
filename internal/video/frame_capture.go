package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoFrame is returned when ffmpeg exits cleanly without writing a frame
	ErrNoFrame = errors.New("no frame data captured")
	// ErrInvalidFrame is returned when the captured bytes are not a JPEG image
	ErrInvalidFrame = errors.New("invalid frame data")
)

// CaptureOptions describes a single-frame grab
type CaptureOptions struct {
	Input   string // device path or URL
	Format  string // ffmpeg -f demuxer, e.g. v4l2; empty lets ffmpeg guess
	Quality int    // mjpeg -q:v, 2 (best) to 31
	Timeout time.Duration
}

// CaptureFrameJPEG captures a single JPEG frame from an input source using FFmpeg
func (f *FFmpegWrapper) CaptureFrameJPEG(ctx context.Context, opts CaptureOptions) ([]byte, error) {
	quality := opts.Quality
	if quality < 2 || quality > 31 {
		quality = 2
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if opts.Format != "" {
		args = append(args, "-f", opts.Format)
	}
	args = append(args,
		"-i", opts.Input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(quality),
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd := f.BuildCommand(ctx, args)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg capture: %w", ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	frameData := stdout.Bytes()
	if len(frameData) == 0 {
		return nil, ErrNoFrame
	}

	if err := ValidateJPEG(frameData); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	return frameData, nil
}

// ValidateJPEG checks that data decodes as a JPEG image header
func ValidateJPEG(data []byte) error {
	if len(data) == 0 {
		return ErrNoFrame
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if format != "jpeg" {
		return fmt.Errorf("unexpected image format %q", format)
	}
	return nil
}
