package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/app"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/camera"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/config"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/logger"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/state"
	"github.com/Juanjomm2001/Set-Up-Computer-vision-vwt/internal/storage"
)

const shutdownTimeout = 30 * time.Second

// newCLIApp creates the CLI application with all commands
func newCLIApp() *cli.App {
	cliApp := &cli.App{
		Name:    "floorwatch",
		Usage:   "Periodic camera capture with remote vision analysis",
		Version: fmt.Sprintf("%s (built %s, commit %s)", version, buildTime, gitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to configuration file"},
		},
		Action: runAction,
		Commands: []*cli.Command{
			runCmd(),
			snapshotCmd(),
			analyzeCmd(),
			sweepCmd(),
		},
	}
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

// setup loads and validates the configuration and creates the logger
func setup(c *cli.Context) (*config.Config, *logger.Logger, error) {
	svc, err := config.NewService(c.String("config"), nil)
	if err != nil {
		return nil, nil, &app.StartupError{Component: "config", Err: err}
	}
	cfg := svc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, &app.StartupError{Component: "logger", Err: err}
	}
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the capture loop until interrupted or run_for elapses (default)",
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("Starting floorwatch",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)
	log.Debug("Configuration loaded", "config", cfg.Redacted())

	ctx, stop := signalContext()
	defer stop()

	a, err := app.Build(ctx, cfg, version, log)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	reason := a.Wait(ctx)
	log.Info("Shutting down", "reason", reason)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", "error", err)
		return err
	}

	log.Info("Shutdown complete")
	return nil
}

func snapshotCmd() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Capture and store a single frame, then exit",
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signalContext()
			defer stop()

			source, err := camera.NewSource(ctx, cfg.Camera, log)
			if err != nil {
				return &app.StartupError{Component: "camera", Err: err}
			}
			defer source.Close()

			store, err := app.NewStore(cfg, nil, log)
			if err != nil {
				return &app.StartupError{Component: "storage", Err: err}
			}

			frame, err := source.Acquire(ctx)
			if err != nil {
				return err
			}
			path, err := store.Save(ctx, frame)
			if err != nil {
				return err
			}

			return outputJSON(map[string]any{
				"frame_id":    frame.ID,
				"path":        path,
				"bytes":       frame.Size(),
				"captured_at": frame.CapturedAt,
			})
		},
	}
}

func analyzeCmd() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Send an image file to the analysis service and print the verdict",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "Override the configured prompt"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("analyze needs exactly one image file")
			}

			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()
			if !cfg.Analysis.IsEnabled() {
				return fmt.Errorf("analysis is disabled in the configuration")
			}

			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			frame := camera.NewFrame(data, http.DetectContentType(data), "file", time.Now())
			frame.Path = c.Args().First()

			prompt := cfg.Analysis.Prompt
			if p := c.String("prompt"); p != "" {
				prompt = p
			}

			ctx, stop := signalContext()
			defer stop()

			verdict, err := app.NewAnalyzer(cfg, log).Analyze(ctx, frame, prompt)
			if err != nil {
				return err
			}

			out := map[string]any{
				"detected": verdict.Detected(),
				"reason":   verdict.Reason(),
				"attempts": verdict.Attempts,
				"fields":   verdict.Fields,
			}
			if conf, ok := verdict.Confidence(); ok {
				out["confidence"] = conf
			}
			return outputJSON(out)
		},
	}
}

func sweepCmd() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Run one retention sweep over the image directory",
		Action: func(c *cli.Context) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signalContext()
			defer stop()

			var index storage.FrameIndex
			if cfg.State.Enabled {
				states, err := state.NewManager(cfg.State, log)
				if err != nil {
					return &app.StartupError{Component: "state", Err: err}
				}
				defer states.Close()
				index = states
			}

			deleted, err := app.NewRetention(cfg, index, log).Sweep(ctx)
			if err != nil {
				return err
			}
			return outputJSON(map[string]any{
				"dir":     cfg.Capture.ImageDir,
				"deleted": deleted,
			})
		},
	}
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
