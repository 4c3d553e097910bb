package capture

import (
	"context"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/alert"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/analysis"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/archive"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/storage"
)

// Stage is the step a cycle is in
type Stage string

const (
	StageIdle       Stage = "idle"
	StageCapturing  Stage = "capturing"
	StagePersisting Stage = "persisting"
	StageAnalyzing  Stage = "analyzing"
	StageReacting   Stage = "reacting"
	StageRetiring   Stage = "retiring"
)

// Analyzer judges a frame
type Analyzer interface {
	Analyze(ctx context.Context, frame *camera.Frame, prompt string) (*analysis.Verdict, error)
}

// FrameStore persists frames
type FrameStore interface {
	Save(ctx context.Context, frame *camera.Frame) (string, error)
}

// Sweeper enforces retention
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// AlertDispatcher delivers alerts subject to cooldown
type AlertDispatcher interface {
	Dispatch(ctx context.Context, a alert.Alert) (bool, error)
}

// Recorder stores per-frame outcomes and loop bookkeeping
type Recorder interface {
	MarkAnalyzed(ctx context.Context, id string, detected bool) error
	MarkArchived(ctx context.Context, id, archivePath string) error
	SaveSystemState(ctx context.Context, key, value string) error
}

// DiskChecker reports whether the image filesystem is above its threshold
type DiskChecker interface {
	IsDiskFull(ctx context.Context) (bool, *storage.DiskUsage, error)
}

// Options contains capture loop configuration
type Options struct {
	Interval              time.Duration
	RunFor                time.Duration // 0 runs until stopped
	Prompt                string
	FailureAlertThreshold int // 0 disables the camera-unavailable alert
	ArchivePolicy         archive.Policy
	ArchiveDestination    string
}

// Deps are the loop's collaborators. Source and Store are required; a nil
// Analyzer disables analysis, and the other fields are optional.
type Deps struct {
	Source    camera.Source
	Analyzer  Analyzer
	Store     FrameStore
	Retention Sweeper
	Alerts    AlertDispatcher
	Archiver  archive.Archiver
	Recorder  Recorder
	Disk      DiskChecker
}

// CycleResult summarizes one pass through the loop
type CycleResult struct {
	CycleID     string            `json:"cycle_id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	FrameID     string            `json:"frame_id,omitempty"`
	FramePath   string            `json:"frame_path,omitempty"`
	Verdict     *analysis.Verdict `json:"verdict,omitempty"`
	Detected    bool              `json:"detected"`
	AlertSent   bool              `json:"alert_sent"`
	ArchivePath string            `json:"archive_path,omitempty"`
	Deleted     int               `json:"deleted"`
	FailedStage Stage             `json:"failed_stage,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Duration returns how long the cycle took
func (r CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OK reports whether every stage succeeded
func (r CycleResult) OK() bool {
	return r.FailedStage == ""
}

// Status is a point-in-time snapshot of the loop for the status API
type Status struct {
	Running                    bool         `json:"running"`
	Stage                      Stage        `json:"stage"`
	StartedAt                  time.Time    `json:"started_at,omitempty"`
	Interval                   string       `json:"interval"`
	AnalysisEnabled            bool         `json:"analysis_enabled"`
	Cycles                     int          `json:"cycles"`
	FailedCycles               int          `json:"failed_cycles"`
	ConsecutiveCaptureFailures int          `json:"consecutive_capture_failures"`
	Detections                 int          `json:"detections"`
	AlertsSent                 int          `json:"alerts_sent"`
	FramesArchived             int          `json:"frames_archived"`
	FramesDeleted              int          `json:"frames_deleted"`
	LastFramePath              string       `json:"last_frame_path,omitempty"`
	LastFrameAt                *time.Time   `json:"last_frame_at,omitempty"`
	LastDetectionAt            *time.Time   `json:"last_detection_at,omitempty"`
	LastCycle                  *CycleResult `json:"last_cycle,omitempty"`
}
