// Package app wires configuration into the running capture service.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/alert"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/analysis"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/archive"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/capture"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/health"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/service"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/state"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/storage"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/web"
)

// StartupError is returned when the process cannot begin capturing. It is
// the only error class that ends the process.
type StartupError struct {
	Component string
	Err       error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed: %s: %v", e.Component, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

func startupErr(component string, err error) *StartupError {
	return &StartupError{Component: component, Err: err}
}

// App holds the wired components of one process
type App struct {
	Config     *config.Config
	Services   *service.Manager
	Loop       *capture.Loop
	Store      *storage.Store
	Retention  *storage.RetentionPolicy
	State      *state.Manager // nil when the frame index is disabled
	Analyzer   *analysis.Client
	Dispatcher *alert.Dispatcher
	Health     *health.Manager
	Web        *web.Server

	logger  *logger.Logger
	closers []func() error
}

// Build validates the configuration and constructs every component. Nothing
// runs until Start. On error, whatever was opened is closed again.
func Build(ctx context.Context, cfg *config.Config, version string, log *logger.Logger) (_ *App, err error) {
	if verr := cfg.Validate(); verr != nil {
		return nil, startupErr("config", verr)
	}

	a := &App{
		Config:   cfg,
		Services: service.NewManager(log),
		logger:   log,
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var index storage.FrameIndex
	var recorder capture.Recorder
	if cfg.State.Enabled {
		a.State, err = state.NewManager(cfg.State, log)
		if err != nil {
			return nil, startupErr("state", err)
		}
		a.closers = append(a.closers, a.State.Close)
		if _, rerr := a.State.RecoverState(ctx); rerr != nil {
			log.Warn("Failed to recover state", "error", rerr)
		}
		index = a.State
		recorder = a.State
	}

	a.Store, err = NewStore(cfg, index, log)
	if err != nil {
		return nil, startupErr("storage", err)
	}
	a.Retention = NewRetention(cfg, index, log)
	disk := storage.NewDiskMonitor(cfg.Capture.ImageDir, cfg.Retention.MaxDiskUsagePercent, log)

	source, err := camera.NewSource(ctx, cfg.Camera, log)
	if err != nil {
		return nil, startupErr("camera", err)
	}
	// the loop closes the source once it runs
	defer func() {
		if err != nil {
			source.Close()
		}
	}()

	var analyzer capture.Analyzer
	if cfg.Analysis.IsEnabled() {
		a.Analyzer = NewAnalyzer(cfg, log)
		analyzer = a.Analyzer
	} else {
		log.Warn("Analysis disabled; frames are captured and swept only")
	}

	notifier, err := buildNotifier(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = alert.NewDispatcher(notifier, cfg.Alerts.Cooldown, log)
	a.closers = append(a.closers, a.Dispatcher.Close)

	var archiver archive.Archiver
	policy := archive.Policy(cfg.Archive.Policy)
	if policy != archive.PolicyNever {
		dirArchiver, aerr := archive.NewDirArchiver(cfg.Archive.Dir, log)
		if aerr != nil {
			return nil, startupErr("archive", aerr)
		}
		archiver = dirArchiver
	}

	deps := capture.Deps{
		Source:    source,
		Analyzer:  analyzer,
		Store:     a.Store,
		Retention: a.Retention,
		Alerts:    a.Dispatcher,
		Archiver:  archiver,
		Recorder:  recorder,
		Disk:      disk,
	}
	a.Loop, err = capture.NewLoop(capture.Options{
		Interval:              cfg.Capture.Interval,
		RunFor:                cfg.Capture.RunFor,
		Prompt:                cfg.Analysis.Prompt,
		FailureAlertThreshold: cfg.Capture.FailureAlertThreshold,
		ArchivePolicy:         policy,
		ArchiveDestination:    cfg.Archive.Destination,
	}, deps, log)
	if err != nil {
		return nil, startupErr("capture", err)
	}

	a.Retention.OnDeleteError = func(rerr *storage.RetentionError) {
		a.Loop.PublishEvent(service.EventTypeStorageWarning, map[string]interface{}{
			"path":  rerr.Path,
			"error": rerr.Error(),
		})
	}

	a.Health = health.NewManager(log, a.Services)
	a.Health.RegisterChecker(health.NewLoopChecker(a.Loop, cfg.Capture.FailureAlertThreshold))
	a.Health.RegisterChecker(health.NewStorageChecker(cfg.Capture.ImageDir, disk))
	if a.State != nil {
		a.Health.RegisterChecker(health.NewDatabaseChecker(a.State.GetDB()))
	}

	a.Web = web.NewServer(&cfg.Web, log)
	a.Web.SetVersion(version)
	a.Web.SetDependencies(a.Health, a.Loop)
	if a.State != nil {
		a.Web.SetFrameLister(a.State)
	}

	a.Services.Register(a.Loop)
	a.Services.Register(a.Web)

	log.Info("Application built",
		"camera", cfg.Camera.Type,
		"interval", cfg.Capture.Interval,
		"image_dir", cfg.Capture.ImageDir,
		"analysis_enabled", a.Analyzer != nil,
		"archive_policy", policy,
		"frame_index", a.State != nil,
		"web", cfg.Web.Enabled,
	)
	return a, nil
}

// Start starts the loop and the status server. Storage warnings published
// by the loop are turned into alerts.
func (a *App) Start(ctx context.Context) error {
	alert.ForwardStorageWarnings(ctx, a.Services.GetEventBus(), a.Dispatcher, a.logger.Named("alerts"))
	if err := a.Services.Start(ctx); err != nil {
		return startupErr("services", err)
	}
	return nil
}

// Wait blocks until ctx is cancelled or the loop exits on its own, and
// returns the reason
func (a *App) Wait(ctx context.Context) string {
	select {
	case <-ctx.Done():
		return "shutdown requested"
	case <-a.Loop.Done():
		return "run_for elapsed"
	}
}

// Shutdown stops the services and releases every resource
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Services.Shutdown(ctx)
	a.close()
	return err
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error releasing resource", "error", err)
		}
	}
	a.closers = nil
}

// NewStore builds the frame store from configuration. index may be nil.
func NewStore(cfg *config.Config, index storage.FrameIndex, log *logger.Logger) (*storage.Store, error) {
	return storage.NewStore(storage.StoreConfig{
		Dir:          cfg.Capture.ImageDir,
		Prefix:       cfg.Capture.FilenamePrefix,
		DailySubdirs: cfg.Capture.DailySubdirs,
		Index:        index,
	}, log)
}

// NewRetention builds the retention policy from configuration. index may
// be nil.
func NewRetention(cfg *config.Config, index storage.FrameIndex, log *logger.Logger) *storage.RetentionPolicy {
	return storage.NewRetentionPolicy(storage.RetentionConfig{
		Dir:      cfg.Capture.ImageDir,
		MaxAge:   cfg.Retention.MaxAge,
		MaxCount: cfg.Retention.MaxCount,
		Index:    index,
	}, log)
}

// NewAnalyzer builds the analysis client and its token manager
func NewAnalyzer(cfg *config.Config, log *logger.Logger) *analysis.Client {
	ac := cfg.Analysis
	tokens := analysis.NewTokenManager(analysis.TokenConfig{
		TokenURL:        ac.TokenURL,
		ClientID:        ac.ClientID,
		ClientSecret:    ac.ClientSecret,
		UserEmail:       ac.UserEmail,
		SendUserInToken: ac.SendUserInToken,
		Scopes:          ac.Scopes,
		DefaultLifetime: ac.DefaultTokenLifetime,
		RefreshSkew:     ac.TokenRefreshSkew,
		Timeout:         ac.Timeout,
	}, log.Named("token"))

	return analysis.NewClient(analysis.ClientConfig{
		BaseURL:        ac.BaseURL,
		UserEmail:      ac.UserEmail,
		Model:          ac.Model,
		Temperature:    ac.Temperature,
		DetectionKey:   ac.DetectionKey,
		Timeout:        ac.Timeout,
		MaxRetries:     ac.MaxRetries,
		RetryBaseDelay: ac.RetryBaseDelay,
	}, tokens, log.Named("analysis"))
}

// buildNotifier fans alerts out to the log and every enabled broker.
// Brokers are contacted here so a wrong address fails startup.
func buildNotifier(ctx context.Context, cfg *config.Config, log *logger.Logger) (alert.Notifier, error) {
	notifiers := []alert.Notifier{alert.NewLogNotifier(log)}

	if cfg.Alerts.MQTT.Enabled {
		mq := alert.NewMQTTNotifier(cfg.Alerts.MQTT, log)
		if err := mq.Connect(ctx); err != nil {
			closeAll(notifiers, log)
			return nil, startupErr("mqtt", err)
		}
		notifiers = append(notifiers, mq)
	}

	if cfg.Alerts.Redis.Enabled {
		rn := alert.NewRedisNotifier(cfg.Alerts.Redis, log)
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rn.Ping(pctx)
		cancel()
		if err != nil {
			closeAll(notifiers, log)
			rn.Close()
			return nil, startupErr("redis", err)
		}
		notifiers = append(notifiers, rn)
	}

	return alert.NewMultiNotifier(notifiers...), nil
}

func closeAll(notifiers []alert.Notifier, log *logger.Logger) {
	for _, n := range notifiers {
		if err := n.Close(); err != nil {
			log.Warn("Failed to close notifier", "notifier", n.Name(), "error", err)
		}
	}
}
