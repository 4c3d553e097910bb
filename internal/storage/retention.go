package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// RetentionErrorKind classifies a retention failure
type RetentionErrorKind string

const (
	KindDeleteFailed RetentionErrorKind = "delete_failed"
)

// ErrDeleteFailed matches any RetentionError of kind DeleteFailed
var ErrDeleteFailed = &RetentionError{Kind: KindDeleteFailed}

// ErrSweepInProgress is returned when Sweep is called re-entrantly
var ErrSweepInProgress = errors.New("retention sweep already in progress")

// RetentionError describes a frame the sweep could not remove. It is never
// fatal: the sweep logs it and moves on.
type RetentionError struct {
	Kind RetentionErrorKind
	Path string
	Err  error
}

func (e *RetentionError) Error() string {
	return fmt.Sprintf("retention %s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *RetentionError) Unwrap() error {
	return e.Err
}

// Is matches another RetentionError of the same kind
func (e *RetentionError) Is(target error) bool {
	t, ok := target.(*RetentionError)
	return ok && t.Kind == e.Kind
}

// RetentionConfig contains retention policy configuration
type RetentionConfig struct {
	Dir      string
	MaxAge   time.Duration // 0 disables the age rule
	MaxCount int           // 0 disables the count rule
	Index    FrameIndex    // optional
	Now      func() time.Time
}

// RetentionPolicy deletes stored frames that exceed the age or count limits
type RetentionPolicy struct {
	root     string
	maxAge   time.Duration
	maxCount int
	index    FrameIndex
	now      func() time.Time
	logger   *logger.Logger

	mu       sync.Mutex
	sweeping bool
	// OnDeleteError is called for each RetentionError; used by the loop to
	// publish storage warnings
	OnDeleteError func(*RetentionError)
}

type storedFrame struct {
	path       string
	capturedAt time.Time
}

// NewRetentionPolicy creates a new retention policy
func NewRetentionPolicy(cfg RetentionConfig, log *logger.Logger) *RetentionPolicy {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RetentionPolicy{
		root:     cfg.Dir,
		maxAge:   cfg.MaxAge,
		maxCount: cfg.MaxCount,
		index:    cfg.Index,
		now:      now,
		logger:   log,
	}
}

// Sweep deletes every frame older than MaxAge, then the oldest frames beyond
// MaxCount. It returns how many files it removed. Files that vanish before
// removal are not counted; files that cannot be removed are logged and
// skipped. Running it twice without new frames deletes nothing the second
// time.
func (r *RetentionPolicy) Sweep(ctx context.Context) (int, error) {
	r.mu.Lock()
	if r.sweeping {
		r.mu.Unlock()
		return 0, ErrSweepInProgress
	}
	r.sweeping = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.sweeping = false
		r.mu.Unlock()
	}()

	frames, err := r.scan()
	if err != nil {
		return 0, err
	}

	now := r.now()
	var expired, kept []storedFrame
	for _, f := range frames {
		if r.maxAge > 0 && now.Sub(f.capturedAt) > r.maxAge {
			expired = append(expired, f)
		} else {
			kept = append(kept, f)
		}
	}

	victims := expired
	if r.maxCount > 0 && len(kept) > r.maxCount {
		victims = append(victims, kept[:len(kept)-r.maxCount]...)
	}

	deleted := 0
	dirs := make(map[string]struct{})
	for _, f := range victims {
		if err := ctx.Err(); err != nil {
			r.logSweep(deleted, len(frames))
			return deleted, err
		}
		if r.remove(ctx, f) {
			deleted++
		}
		if dir := filepath.Dir(f.path); dir != filepath.Clean(r.root) {
			dirs[dir] = struct{}{}
		}
	}

	r.pruneDirs(dirs)
	r.logSweep(deleted, len(frames))
	return deleted, nil
}

// remove deletes one frame and its index entry. It reports whether a file
// was actually removed.
func (r *RetentionPolicy) remove(ctx context.Context, f storedFrame) bool {
	err := os.Remove(f.path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		r.logger.Debug("Frame already removed", "path", f.path)
	default:
		rerr := &RetentionError{Kind: KindDeleteFailed, Path: f.path, Err: err}
		r.logger.Warn("Failed to delete frame", "path", f.path, "error", rerr)
		if r.OnDeleteError != nil {
			r.OnDeleteError(rerr)
		}
		return false
	}

	if r.index != nil {
		if ierr := r.index.RemoveFrame(ctx, f.path); ierr != nil {
			r.logger.Warn("Failed to drop frame from index", "path", f.path, "error", ierr)
		}
	}
	return err == nil
}

// scan lists stored frames oldest first, ties broken by path
func (r *RetentionPolicy) scan() ([]storedFrame, error) {
	if _, err := os.Stat(r.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat image directory: %w", err)
	}

	var frames []storedFrame
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.root {
				return err
			}
			r.logger.Warn("Skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !isFrameFile(d.Name()) {
			return nil
		}

		at, ok := ParseTimestamp(d.Name())
		if !ok {
			info, err := d.Info()
			if err != nil {
				// removed between listing and stat
				return nil
			}
			at = info.ModTime()
		}
		frames = append(frames, storedFrame{path: path, capturedAt: at})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan image directory: %w", err)
	}

	sort.Slice(frames, func(i, j int) bool {
		if !frames[i].capturedAt.Equal(frames[j].capturedAt) {
			return frames[i].capturedAt.Before(frames[j].capturedAt)
		}
		return frames[i].path < frames[j].path
	})
	return frames, nil
}

// pruneDirs removes date subdirectories emptied by the sweep
func (r *RetentionPolicy) pruneDirs(dirs map[string]struct{}) {
	root := filepath.Clean(r.root)
	for dir := range dirs {
		for d := dir; d != root && d != "." && d != string(filepath.Separator); d = filepath.Dir(d) {
			entries, err := os.ReadDir(d)
			if err != nil || len(entries) > 0 {
				break
			}
			if err := os.Remove(d); err != nil {
				r.logger.Debug("Failed to remove empty directory", "dir", d, "error", err)
				break
			}
		}
	}
}

func (r *RetentionPolicy) logSweep(deleted, scanned int) {
	if deleted > 0 {
		r.logger.Info("Retention sweep deleted frames",
			"deleted", deleted,
			"scanned", scanned,
			"max_age", r.maxAge,
			"max_count", r.maxCount,
		)
		return
	}
	r.logger.Debug("Retention sweep found nothing to delete", "scanned", scanned)
}
