package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/capture"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/storage"
)

// Pinger is satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker checks the state database connection
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// DiskUsageProvider is satisfied by *storage.DiskMonitor
type DiskUsageProvider interface {
	IsDiskFull(ctx context.Context) (bool, *storage.DiskUsage, error)
}

// StorageChecker checks that the image directory is writable and that its
// filesystem has room
type StorageChecker struct {
	imageDir string
	disk     DiskUsageProvider
}

// NewStorageChecker creates a storage checker. disk may be nil.
func NewStorageChecker(imageDir string, disk DiskUsageProvider) *StorageChecker {
	return &StorageChecker{imageDir: imageDir, disk: disk}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := Check{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"image_dir": c.imageDir},
	}

	probe, err := os.CreateTemp(c.imageDir, ".health-*")
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Image directory not writable: %v", err)
		return check
	}
	probe.Close()
	os.Remove(filepath.Clean(probe.Name()))

	check.Status = StatusHealthy
	check.Message = "Image directory writable"

	if c.disk == nil {
		return check
	}
	full, usage, err := c.disk.IsDiskFull(ctx)
	if err != nil {
		check.Details["disk_error"] = err.Error()
		return check
	}
	check.Details["usage_percent"] = usage.UsagePercent
	check.Details["available_bytes"] = usage.AvailableBytes
	if full {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Image filesystem %.1f%% full", usage.UsagePercent)
	}
	return check
}

// LoopStatusProvider is satisfied by *capture.Loop
type LoopStatusProvider interface {
	Status() capture.Status
}

// LoopChecker reports the capture loop state
type LoopChecker struct {
	loop      LoopStatusProvider
	threshold int
	now       func() time.Time
}

// NewLoopChecker creates a loop checker. The loop is degraded once
// threshold consecutive captures have failed.
func NewLoopChecker(loop LoopStatusProvider, threshold int) *LoopChecker {
	if threshold <= 0 {
		threshold = 3
	}
	return &LoopChecker{loop: loop, threshold: threshold, now: time.Now}
}

func (c *LoopChecker) Name() string {
	return "capture_loop"
}

func (c *LoopChecker) Check(ctx context.Context) Check {
	st := c.loop.Status()
	check := Check{
		Name:      c.Name(),
		Timestamp: c.now(),
		Details: map[string]interface{}{
			"stage":                        st.Stage,
			"cycles":                       st.Cycles,
			"failed_cycles":                st.FailedCycles,
			"consecutive_capture_failures": st.ConsecutiveCaptureFailures,
		},
	}
	if st.LastFrameAt != nil {
		check.Details["last_frame_at"] = st.LastFrameAt.Format(time.RFC3339)
	}

	switch {
	case !st.Running:
		check.Status = StatusUnhealthy
		check.Message = "Capture loop is not running"
	case st.ConsecutiveCaptureFailures >= c.threshold:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Camera capture failed %d times in a row", st.ConsecutiveCaptureFailures)
	default:
		check.Status = StatusHealthy
		check.Message = "Capture loop running"
	}
	return check
}
