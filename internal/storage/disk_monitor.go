package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
)

// DiskMonitor reports filesystem usage for the image directory
type DiskMonitor struct {
	path            string
	maxUsagePercent float64
	logger          *logger.Logger
	statfs          func(path string) (*DiskUsage, error)
	now             func() time.Time

	mu            sync.RWMutex
	lastCheck     time.Time
	cacheDuration time.Duration
	cachedUsage   *DiskUsage
}

// DiskUsage contains disk usage information
type DiskUsage struct {
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

// NewDiskMonitor creates a new disk monitor. A maxUsagePercent of 0 means 90.
func NewDiskMonitor(path string, maxUsagePercent float64, log *logger.Logger) *DiskMonitor {
	if maxUsagePercent <= 0 {
		maxUsagePercent = 90
	}
	return &DiskMonitor{
		path:            path,
		maxUsagePercent: maxUsagePercent,
		logger:          log,
		statfs:          statfsUsage,
		now:             time.Now,
		cacheDuration:   30 * time.Second,
	}
}

// MaxUsagePercent returns the configured threshold
func (d *DiskMonitor) MaxUsagePercent() float64 {
	return d.maxUsagePercent
}

// GetUsage returns current disk usage, cached for a short while
func (d *DiskMonitor) GetUsage(ctx context.Context) (*DiskUsage, error) {
	d.mu.RLock()
	if d.cachedUsage != nil && d.now().Sub(d.lastCheck) < d.cacheDuration {
		usage := *d.cachedUsage
		d.mu.RUnlock()
		return &usage, nil
	}
	d.mu.RUnlock()

	usage, err := d.statfs(d.path)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.cachedUsage = usage
	d.lastCheck = d.now()
	d.mu.Unlock()

	copied := *usage
	return &copied, nil
}

// IsDiskFull returns true if disk usage is at or above the threshold
func (d *DiskMonitor) IsDiskFull(ctx context.Context) (bool, *DiskUsage, error) {
	usage, err := d.GetUsage(ctx)
	if err != nil {
		return false, nil, err
	}
	return usage.UsagePercent >= d.maxUsagePercent, usage, nil
}

func statfsUsage(path string) (*DiskUsage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(absPath, &stat); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	totalBytes := int64(stat.Blocks) * int64(stat.Bsize)
	availableBytes := int64(stat.Bavail) * int64(stat.Bsize)
	usedBytes := totalBytes - availableBytes

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = float64(usedBytes) / float64(totalBytes) * 100.0
	}

	return &DiskUsage{
		TotalBytes:     totalBytes,
		UsedBytes:      usedBytes,
		AvailableBytes: availableBytes,
		UsagePercent:   usagePercent,
	}, nil
}
