package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/alert"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/analysis"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/archive"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/service"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/state"
)

// Loop captures a frame every interval, persists it, has it analyzed, reacts
// to detections and sweeps old frames. Cycles never overlap, and no failure
// inside a cycle stops the loop.
type Loop struct {
	*service.ServiceBase

	opts Options
	deps Deps

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	newCycleID func() string

	mu     sync.RWMutex
	status Status

	// touched only by the loop goroutine
	consecutiveFailures int
	failureAlerted      bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop creates a capture loop
func NewLoop(opts Options, deps Deps, log *logger.Logger) (*Loop, error) {
	if deps.Source == nil {
		return nil, errors.New("capture loop needs a camera source")
	}
	if deps.Store == nil {
		return nil, errors.New("capture loop needs a frame store")
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("capture interval must be positive, got %v", opts.Interval)
	}
	if opts.ArchivePolicy == "" {
		opts.ArchivePolicy = archive.PolicyOnDetection
	}
	if opts.ArchiveDestination == "" {
		opts.ArchiveDestination = "detections"
	}

	l := &Loop{
		ServiceBase: service.NewServiceBase("capture-loop", log),
		opts:        opts,
		deps:        deps,
		now:         time.Now,
		sleep:       sleepCtx,
		newCycleID:  func() string { return uuid.New().String() },
		done:        make(chan struct{}),
	}
	l.status = Status{
		Stage:           StageIdle,
		Interval:        opts.Interval.String(),
		AnalysisEnabled: deps.Analyzer != nil,
	}
	return l, nil
}

// Start runs the loop in a goroutine
func (l *Loop) Start(ctx context.Context) error {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.cancel != nil {
		return errors.New("capture loop already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go func() {
		defer close(l.done)
		l.Run(runCtx)
	}()
	return nil
}

// Stop cancels the loop, interrupting any in-flight call, and waits for it
// to exit
func (l *Loop) Stop(ctx context.Context) error {
	l.runMu.Lock()
	cancel := l.cancel
	l.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture loop did not stop: %w", ctx.Err())
	}
}

// Done is closed when a started loop has exited, either because it was
// stopped or because run_for elapsed
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Status returns a snapshot of the loop state
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := l.status
	if s.LastCycle != nil {
		last := *s.LastCycle
		s.LastCycle = &last
	}
	return s
}

// LatestFrame returns the path of the most recently persisted frame
func (l *Loop) LatestFrame() (string, time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.status.LastFramePath == "" || l.status.LastFrameAt == nil {
		return "", time.Time{}, false
	}
	return l.status.LastFramePath, *l.status.LastFrameAt, true
}

// Run executes cycles until ctx is cancelled or run_for elapses. The wait
// between cycles is the interval minus the time the cycle took, floored at
// zero. The camera source is closed on exit.
func (l *Loop) Run(ctx context.Context) {
	start := l.now()
	l.mu.Lock()
	l.status.Running = true
	l.status.StartedAt = start
	l.mu.Unlock()

	l.LogInfo("Capture loop started",
		"interval", l.opts.Interval,
		"run_for", l.opts.RunFor,
		"source", l.deps.Source.Name(),
		"analysis_enabled", l.deps.Analyzer != nil,
		"archive_policy", l.opts.ArchivePolicy,
	)

	reason := "stopped"
	for {
		if ctx.Err() != nil {
			break
		}
		if l.opts.RunFor > 0 && l.now().Sub(start) >= l.opts.RunFor {
			reason = "run_for elapsed"
			break
		}

		cycleStart := l.now()
		l.RunCycle(ctx)

		wait := l.opts.Interval - l.now().Sub(cycleStart)
		if wait < 0 {
			wait = 0
		}
		if l.opts.RunFor > 0 {
			remaining := l.opts.RunFor - l.now().Sub(start)
			if remaining <= 0 {
				reason = "run_for elapsed"
				break
			}
			if wait > remaining {
				wait = remaining
			}
		}
		if err := l.sleep(ctx, wait); err != nil {
			break
		}
	}

	if err := l.deps.Source.Close(); err != nil {
		l.LogWarn("Failed to close camera source", "error", err)
	}

	l.mu.Lock()
	l.status.Running = false
	l.status.Stage = StageIdle
	cycles := l.status.Cycles
	l.mu.Unlock()

	l.LogInfo("Capture loop exited", "reason", reason, "cycles", cycles)
}

// RunCycle performs one capture cycle and returns its outcome
func (l *Loop) RunCycle(ctx context.Context) CycleResult {
	res := CycleResult{
		CycleID:   l.newCycleID(),
		StartedAt: l.now(),
	}
	defer l.finishCycle(ctx, &res)

	// Capturing
	l.setStage(StageCapturing)
	frame, err := l.deps.Source.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down, not a camera fault
			res.FailedStage = StageCapturing
			res.Error = err.Error()
			return res
		}
		l.captureFailed(ctx, &res, err)
		return res
	}
	l.captureRecovered()
	res.FrameID = frame.ID

	l.PublishEvent(service.EventTypeFrameCaptured, map[string]interface{}{
		"cycle_id": res.CycleID,
		"frame_id": frame.ID,
		"source":   frame.Source,
		"bytes":    frame.Size(),
	})

	// Persisting
	l.setStage(StagePersisting)
	path, err := l.deps.Store.Save(ctx, frame)
	if err != nil {
		l.stageFailed(&res, StagePersisting, err)
		return res
	}
	res.FramePath = path
	l.mu.Lock()
	l.status.LastFramePath = path
	capturedAt := frame.CapturedAt
	l.status.LastFrameAt = &capturedAt
	l.mu.Unlock()

	// Analyzing
	var verdict *analysis.Verdict
	if l.deps.Analyzer != nil {
		l.setStage(StageAnalyzing)
		verdict, err = l.deps.Analyzer.Analyze(ctx, frame, l.opts.Prompt)
		if err != nil {
			// the frame stays on disk as a retention candidate
			l.stageFailed(&res, StageAnalyzing, err)
		} else {
			res.Verdict = verdict
			res.Detected = verdict.Detected()
			l.recordVerdict(ctx, &res, frame, verdict)
		}
	}

	// Reacting
	l.setStage(StageReacting)
	if res.Detected {
		l.raiseDetection(ctx, &res, frame, verdict)
	}
	if l.opts.ArchivePolicy.ShouldArchive(res.Detected) {
		l.archive(ctx, &res, frame)
	}

	// Retiring
	l.setStage(StageRetiring)
	l.retire(ctx, &res)

	return res
}

func (l *Loop) captureFailed(ctx context.Context, res *CycleResult, err error) {
	l.consecutiveFailures++
	l.stageFailed(res, StageCapturing, err)

	threshold := l.opts.FailureAlertThreshold
	if threshold <= 0 || l.consecutiveFailures < threshold || l.failureAlerted {
		return
	}
	l.failureAlerted = true

	a := alert.New(alert.KindCameraUnavailable,
		fmt.Sprintf("Camera unavailable for %d consecutive cycles", l.consecutiveFailures),
		l.now())
	a.CycleID = res.CycleID
	a.Reason = err.Error()
	a.Details = map[string]any{
		"source":     l.deps.Source.Name(),
		"error_kind": string(camera.KindOf(err)),
	}
	l.dispatch(ctx, res, a)
}

func (l *Loop) captureRecovered() {
	if l.consecutiveFailures > 0 {
		l.LogInfo("Camera capture recovered", "failed_cycles", l.consecutiveFailures)
	}
	l.consecutiveFailures = 0
	l.failureAlerted = false
}

// stageFailed logs a stage error at the cycle boundary and publishes it
func (l *Loop) stageFailed(res *CycleResult, stage Stage, err error) {
	res.FailedStage = stage
	res.Error = err.Error()

	kind := errorKind(err)
	l.LogError("Capture cycle stage failed", err,
		"cycle_id", res.CycleID,
		"stage", stage,
		"kind", kind,
		"timestamp", l.now(),
	)
	l.PublishEvent(service.EventTypeCycleFailed, map[string]interface{}{
		"cycle_id": res.CycleID,
		"stage":    string(stage),
		"kind":     kind,
		"error":    err.Error(),
	})
}

func (l *Loop) recordVerdict(ctx context.Context, res *CycleResult, frame *camera.Frame, v *analysis.Verdict) {
	data := map[string]interface{}{
		"cycle_id": res.CycleID,
		"frame_id": frame.ID,
		"detected": res.Detected,
		"attempts": v.Attempts,
	}
	if c, ok := v.Confidence(); ok {
		data["confidence"] = c
	}
	if reason := v.Reason(); reason != "" {
		data["reason"] = reason
	}
	l.PublishEvent(service.EventTypeAnalysisVerdict, data)

	l.LogInfo("Analysis verdict",
		"cycle_id", res.CycleID,
		"frame", res.FramePath,
		"detected", res.Detected,
		"reason", v.Reason(),
	)

	if l.deps.Recorder != nil {
		if err := l.deps.Recorder.MarkAnalyzed(ctx, frame.ID, res.Detected); err != nil {
			l.LogWarn("Failed to record verdict", "frame_id", frame.ID, "error", err)
		}
	}
}

func (l *Loop) raiseDetection(ctx context.Context, res *CycleResult, frame *camera.Frame, v *analysis.Verdict) {
	now := l.now()
	l.mu.Lock()
	l.status.Detections++
	l.status.LastDetectionAt = &now
	l.mu.Unlock()

	a := alert.New(alert.KindDetection, "Condition detected in captured frame", now)
	a.CycleID = res.CycleID
	a.FrameID = frame.ID
	a.FramePath = res.FramePath
	if c, ok := v.Confidence(); ok {
		a.Confidence = &c
	}
	a.Reason = v.Reason()
	l.dispatch(ctx, res, a)

	if l.deps.Recorder != nil {
		if err := l.deps.Recorder.SaveSystemState(ctx, state.KeyLastDetectionAt, now.Format(time.RFC3339)); err != nil {
			l.LogWarn("Failed to record detection time", "error", err)
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, res *CycleResult, a alert.Alert) {
	if l.deps.Alerts == nil {
		return
	}
	sent, err := l.deps.Alerts.Dispatch(ctx, a)
	if err != nil {
		l.LogWarn("Failed to deliver alert", "cycle_id", res.CycleID, "kind", a.Kind, "error", err)
		return
	}
	if !sent {
		return
	}

	if a.Kind == alert.KindDetection {
		res.AlertSent = true
	}
	l.mu.Lock()
	l.status.AlertsSent++
	l.mu.Unlock()

	l.PublishEvent(service.EventTypeAlertRaised, map[string]interface{}{
		"cycle_id": res.CycleID,
		"alert_id": a.ID,
		"kind":     string(a.Kind),
	})
}

func (l *Loop) archive(ctx context.Context, res *CycleResult, frame *camera.Frame) {
	if l.deps.Archiver == nil {
		return
	}
	target, err := l.deps.Archiver.Archive(ctx, frame, l.opts.ArchiveDestination)
	if err != nil {
		l.LogWarn("Failed to archive frame", "cycle_id", res.CycleID, "frame_id", frame.ID, "error", err)
		return
	}
	res.ArchivePath = target

	l.mu.Lock()
	l.status.FramesArchived++
	l.mu.Unlock()

	l.PublishEvent(service.EventTypeFrameArchived, map[string]interface{}{
		"cycle_id": res.CycleID,
		"frame_id": frame.ID,
		"path":     target,
	})

	if l.deps.Recorder != nil {
		if err := l.deps.Recorder.MarkArchived(ctx, frame.ID, target); err != nil {
			l.LogWarn("Failed to record archive path", "frame_id", frame.ID, "error", err)
		}
	}
}

func (l *Loop) retire(ctx context.Context, res *CycleResult) {
	if l.deps.Retention != nil {
		deleted, err := l.deps.Retention.Sweep(ctx)
		res.Deleted = deleted
		if err != nil {
			l.LogWarn("Retention sweep failed", "cycle_id", res.CycleID, "error", err)
		}
		if deleted > 0 {
			l.mu.Lock()
			l.status.FramesDeleted += deleted
			l.mu.Unlock()
			l.PublishEvent(service.EventTypeFramesSwept, map[string]interface{}{
				"cycle_id": res.CycleID,
				"deleted":  deleted,
			})
		}
	}

	if l.deps.Disk != nil {
		full, usage, err := l.deps.Disk.IsDiskFull(ctx)
		if err != nil {
			l.LogDebug("Disk usage check failed", "error", err)
			return
		}
		if full {
			l.LogWarn("Image directory filesystem is nearly full",
				"usage_percent", usage.UsagePercent,
				"available_bytes", usage.AvailableBytes,
			)
			l.PublishEvent(service.EventTypeStorageWarning, map[string]interface{}{
				"usage_percent":   usage.UsagePercent,
				"available_bytes": usage.AvailableBytes,
			})
		}
	}
}

func (l *Loop) finishCycle(ctx context.Context, res *CycleResult) {
	res.FinishedAt = l.now()

	l.mu.Lock()
	l.status.Cycles++
	if !res.OK() {
		l.status.FailedCycles++
	}
	l.status.ConsecutiveCaptureFailures = l.consecutiveFailures
	l.status.Stage = StageIdle
	last := *res
	l.status.LastCycle = &last
	l.mu.Unlock()

	l.LogDebug("Capture cycle finished",
		"cycle_id", res.CycleID,
		"duration", res.Duration(),
		"ok", res.OK(),
	)

	if l.deps.Recorder != nil && ctx.Err() == nil {
		if err := l.deps.Recorder.SaveSystemState(ctx, state.KeyLastCycleID, res.CycleID); err != nil {
			l.LogDebug("Failed to record cycle", "error", err)
		}
		if err := l.deps.Recorder.SaveSystemState(ctx, state.KeyLastCycleAt, res.StartedAt.Format(time.RFC3339Nano)); err != nil {
			l.LogDebug("Failed to record cycle time", "error", err)
		}
	}
}

func (l *Loop) setStage(s Stage) {
	l.mu.Lock()
	l.status.Stage = s
	l.mu.Unlock()
}

// errorKind names the typed error class for logs and events
func errorKind(err error) string {
	if k := camera.KindOf(err); k != "" {
		return string(k)
	}
	if k := analysis.KindOf(err); k != "" {
		return string(k)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "internal"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
