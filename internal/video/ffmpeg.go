package video

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// FFmpegWrapper wraps the ffmpeg binary used for single-frame capture
type FFmpegWrapper struct {
	logger          *logger.Logger
	ffmpegPath      string
	availableCodecs map[string]bool
	mu              sync.RWMutex
}

// NewFFmpegWrapper locates ffmpeg and checks that it can encode JPEG.
// An empty path searches PATH and the usual install locations.
func NewFFmpegWrapper(log *logger.Logger, path string) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger:          log,
		availableCodecs: make(map[string]bool),
	}

	ffmpegPath, err := detectFFmpeg(path)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	codecs, err := wrapper.detectEncoders()
	if err != nil {
		log.Warn("Failed to detect encoders", "error", err)
	} else {
		wrapper.availableCodecs = codecs
		if !codecs["mjpeg"] {
			return nil, fmt.Errorf("ffmpeg at %s has no mjpeg encoder", ffmpegPath)
		}
	}

	log.Debug("FFmpeg wrapper initialized", "path", wrapper.ffmpegPath)

	return wrapper, nil
}

// detectFFmpeg finds a runnable ffmpeg executable
func detectFFmpeg(preferred string) (string, error) {
	paths := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	if preferred != "" {
		paths = []string{preferred}
	}

	for _, path := range paths {
		cmd := exec.Command(path, "-version")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("ffmpeg not found in %s", strings.Join(paths, ", "))
}

// detectEncoders lists the encoders ffmpeg was built with
func (f *FFmpegWrapper) detectEncoders() (map[string]bool, error) {
	cmd := exec.Command(f.ffmpegPath, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get encoders: %w", err)
	}
	return parseCodecList(string(output)), nil
}

// parseCodecList parses `ffmpeg -encoders` style output into a name set
func parseCodecList(output string) map[string]bool {
	codecs := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		parts := strings.Fields(line)
		if len(parts) < 2 || len(parts[0]) != 6 {
			continue
		}
		// capability column looks like "V....D"
		if parts[0][0] != 'V' && parts[0][0] != 'A' && parts[0][0] != 'S' {
			continue
		}
		codecs[parts[1]] = true
	}
	return codecs
}

// IsCodecAvailable checks if an encoder is available
func (f *FFmpegWrapper) IsCodecAvailable(codec string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.availableCodecs[codec]
}

// Path returns the ffmpeg executable in use
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// BuildCommand builds an FFmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns FFmpeg version
func (f *FFmpegWrapper) GetVersion() (string, error) {
	cmd := exec.Command(f.ffmpegPath, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	lines := strings.Split(string(output), "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0]), nil
	}

	return "unknown", nil
}

// ProbeInput checks that ffmpeg can open the input and decode a frame
func (f *FFmpegWrapper) ProbeInput(ctx context.Context, input, format string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "error"}
	if format != "" {
		args = append(args, "-f", format)
	}
	args = append(args, "-i", input, "-frames:v", "1", "-f", "null", "-")

	output, err := f.BuildCommand(ctx, args).CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("probe of %s timed out after %s", input, timeout)
		}
		return fmt.Errorf("cannot open %s: %w (%s)", input, err, strings.TrimSpace(string(output)))
	}

	return nil
}
