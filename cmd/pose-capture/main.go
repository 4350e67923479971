package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikeyg42/posecapture/internal/api"
	"github.com/mikeyg42/posecapture/internal/config"
	"github.com/mikeyg42/posecapture/internal/frame"
	"github.com/mikeyg42/posecapture/internal/recorder"
	"github.com/mikeyg42/posecapture/internal/recorder/recorderlog"
	"github.com/mikeyg42/posecapture/internal/source"
	"github.com/mikeyg42/posecapture/internal/validate"
)

// Application struct that holds all components
type Application struct {
	config  *config.Config
	logger  recorderlog.Logger
	service *recorder.CaptureService
	source  source.CameraSource
	hub     *api.Hub
	server  *api.Server
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults apply when empty)")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	captureDir := flag.String("dir", "", "capture directory (overrides capture.directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *captureDir != "" {
		cfg.Capture.Directory = *captureDir
		cfg.Storage.Index.DSN = ""
		cfg.ApplyDerived()
	}
	if err := validate.ValidateConfig(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logger, err := recorderlog.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	recorderlog.ReplaceGlobal(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create application", recorderlog.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("Capture failed", recorderlog.Error(err))
		app.Cleanup()
		logger.Sync()
		os.Exit(1)
	}
	app.Cleanup()
}

// NewApplication builds the source, the capture service and the optional
// API server.
func NewApplication(ctx context.Context, cfg *config.Config, logger recorderlog.Logger) (*Application, error) {
	app := &Application{config: cfg, logger: logger}

	src, err := newSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.source = src

	var opts []recorder.Option
	if cfg.API.Enabled {
		app.hub = api.NewHub(cfg.API.EventBuffer, logger)
		opts = append(opts, recorder.WithSink("events", app.hub))
	}

	app.service, err = recorder.NewCaptureService(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture service: %w", err)
	}

	if cfg.API.Enabled {
		var lister api.CaptureLister
		if idx := app.service.Index(); idx != nil {
			lister = idx
		}
		app.server = api.NewServer(cfg, app.service, lister, app.hub, logger)
	}
	return app, nil
}

func newSource(cfg *config.Config, logger recorderlog.Logger) (source.CameraSource, error) {
	switch cfg.Source.Type {
	case "synthetic":
		format, err := frame.ParsePixelFormat(cfg.Source.PixelFormat)
		if err != nil {
			return nil, err
		}
		return source.NewSynthetic(source.SyntheticConfig{
			Width:            cfg.Capture.Stream.Width,
			Height:           cfg.Capture.Stream.Height,
			FrameRate:        cfg.Capture.FrameRate,
			Format:           format,
			RowPadding:       cfg.Source.RowPadding,
			PoseDropoutEvery: cfg.Source.PoseDropoutEvery,
			DwellFrames:      cfg.Source.DwellFrames,
			SweepFrames:      cfg.Source.SweepFrames,
			SweepSpeed:       cfg.Source.SweepSpeed,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

// Run captures until ctx is canceled.
func (app *Application) Run(ctx context.Context) error {
	if app.server != nil {
		if err := app.server.StartInBackground(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		app.logger.Info("API server listening", recorderlog.String("addr", app.server.Addr()))
	}

	if err := app.service.Start(ctx, app.source); err != nil {
		return err
	}
	app.logger.Info("Capturing; press Ctrl+C to stop",
		recorderlog.String("session_id", app.service.SessionID()))

	<-ctx.Done()
	return nil
}

// Cleanup stops the API first so no request races the index close, then
// drains the capture service.
func (app *Application) Cleanup() {
	if app.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.server.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn("API server shutdown", recorderlog.Error(err))
		}
		cancel()
	}
	if app.service != nil {
		if err := app.service.Stop(); err != nil {
			app.logger.Error("Capture service stop", recorderlog.Error(err))
		}
		st := app.service.Status()
		app.logger.Info("Capture session finished",
			recorderlog.String("session_id", st.SessionID),
			recorderlog.Uint64("persisted", st.Worker.Persisted),
			recorderlog.String("directory", st.Directory))
	}
}
