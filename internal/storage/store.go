package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/state"
)

const (
	// TimestampLayout is the capture time embedded in every frame filename.
	// Names are written in UTC so the zone suffix is always "Z".
	TimestampLayout = "20060102-150405.000Z0700"
	// DayLayout names the optional daily subdirectories (UTC dates)
	DayLayout = "20060102"

	// legacyTimestampLayout has no zone; such names are read as local time
	legacyTimestampLayout = "20060102-150405.000"

	tempPrefix = ".tmp-"
)

// timestampPattern matches "<prefix>_YYYYMMDD-HHMMSS.mmm[Z|±hhmm][-N].jpg"
var timestampPattern = regexp.MustCompile(`_(\d{8}-\d{6}\.\d{3})(Z|[+-]\d{4})?(?:-\d+)?\.(?i:jpe?g)$`)

// FrameIndex keeps the persisted-frame inventory in step with the directory
type FrameIndex interface {
	AddFrame(ctx context.Context, rec state.FrameRecord) error
	RemoveFrame(ctx context.Context, path string) error
}

// StoreConfig contains frame store configuration
type StoreConfig struct {
	Dir          string
	Prefix       string
	DailySubdirs bool
	Index        FrameIndex // optional
}

// Store writes captured frames to the image directory
type Store struct {
	dir          string
	prefix       string
	dailySubdirs bool
	index        FrameIndex
	logger       *logger.Logger
	mu           sync.Mutex
}

// NewStore creates the image directory and returns a store for it
func NewStore(cfg StoreConfig, log *logger.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("image directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "image"
	}

	log.Info("Frame store initialized",
		"dir", cfg.Dir,
		"prefix", prefix,
		"daily_subdirs", cfg.DailySubdirs,
	)

	return &Store{
		dir:          cfg.Dir,
		prefix:       prefix,
		dailySubdirs: cfg.DailySubdirs,
		index:        cfg.Index,
		logger:       log,
	}, nil
}

// Dir returns the image directory
func (s *Store) Dir() string {
	return s.dir
}

// FileName returns the filename for a frame captured at t
func (s *Store) FileName(t time.Time) string {
	return fmt.Sprintf("%s_%s.jpg", s.prefix, t.UTC().Format(TimestampLayout))
}

// Save writes the frame under a name derived from its capture time and sets
// frame.Path. Two frames in the same millisecond get a numeric suffix. The
// file appears atomically, so a concurrent reader never sees a partial JPEG.
func (s *Store) Save(ctx context.Context, frame *camera.Frame) (string, error) {
	if frame == nil || len(frame.Data) == 0 {
		return "", errors.New("refusing to store an empty frame")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dir
	if s.dailySubdirs {
		dir = filepath.Join(dir, frame.CapturedAt.UTC().Format(DayLayout))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create frame directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(frame.Data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write frame: %w", err)
	}

	path, err := s.uniquePath(dir, frame.CapturedAt)
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move frame into place: %w", err)
	}
	frame.Path = path

	if s.index != nil {
		rec := state.FrameRecord{
			ID:         frame.ID,
			Path:       path,
			Source:     frame.Source,
			SizeBytes:  int64(len(frame.Data)),
			CapturedAt: frame.CapturedAt,
		}
		if err := s.index.AddFrame(ctx, rec); err != nil {
			s.logger.Warn("Failed to index frame", "path", path, "error", err)
		}
	}

	s.logger.Debug("Frame stored", "frame_id", frame.ID, "path", path, "bytes", len(frame.Data))
	return path, nil
}

func (s *Store) uniquePath(dir string, at time.Time) (string, error) {
	name := s.FileName(at)
	path := filepath.Join(dir, name)
	base := strings.TrimSuffix(name, ".jpg")
	for n := 1; n < 1000; n++ {
		if _, err := os.Lstat(path); os.IsNotExist(err) {
			return path, nil
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d.jpg", base, n))
	}
	return "", fmt.Errorf("no free filename for %s", name)
}

// Load reads a stored frame file
func (s *Store) Load(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// ParseTimestamp extracts the capture time from a frame filename
func ParseTimestamp(name string) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	var (
		t   time.Time
		err error
	)
	if m[2] != "" {
		t, err = time.Parse(TimestampLayout, m[1]+m[2])
	} else {
		t, err = time.ParseInLocation(legacyTimestampLayout, m[1], time.Local)
	}
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// isFrameFile reports whether name looks like a stored JPEG
func isFrameFile(name string) bool {
	if strings.HasPrefix(name, tempPrefix) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".jpg" || ext == ".jpeg"
}
