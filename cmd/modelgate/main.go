// Command modelgate runs the provider-agnostic LLM chat gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelgate/gateway/internal/api"
	"github.com/modelgate/gateway/internal/config"
	"github.com/modelgate/gateway/internal/engine"
	"github.com/modelgate/gateway/internal/observability"
	"github.com/modelgate/gateway/internal/tracking"
	"github.com/modelgate/gateway/internal/version"
)

const defaultConfigPath = "modelgate.yaml"

const (
	writerShutdownTimeout   = 5 * time.Second
	otelShutdownTimeout     = 5 * time.Second
	serverShutdownTimeout   = 5 * time.Second
	serverReadHeaderTimeout = 10 * time.Second
	serverIdleTimeout       = 2 * time.Minute
)

var signalNotifyContext = signal.NotifyContext

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		return runServe(nil)
	}

	switch args[0] {
	case "serve":
		return runServe(args[1:])
	case "version":
		fmt.Fprintln(os.Stdout, version.String())
		return 0
	case "validate":
		return runValidate(args[1:], os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage: modelgate [command]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  serve      Run the gateway (default)")
	fmt.Fprintln(out, "  validate   Check the config file and exit")
	fmt.Fprintln(out, "  version    Print the version and exit")
}

func runValidate(args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("validate", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "config %s is valid (%d providers)\n", *configPath, len(cfg.Providers))
	return 0
}

func runServe(args []string) int {
	flagSet := flag.NewFlagSet("serve", flag.ContinueOnError)
	flagSet.SetOutput(os.Stderr)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config is invalid: %v\n", err)
		return 1
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(observability.NewTraceLogHandler(baseHandler))

	otelRuntime, otelErr := observability.Setup(context.Background(), cfg.Observability.OTel, version.String(), logger)
	if otelErr != nil {
		logger.Error("failed to initialize opentelemetry; continuing with instrumentation disabled", "error", otelErr)
		otelRuntime = &observability.Runtime{}
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := otelRuntime.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown opentelemetry", "error", err)
		}
	}()

	store, writer, err := openTracking(cfg, logger, otelRuntime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize tracking: %v\n", err)
		return 1
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("failed to close tracking store", "error", err)
			}
		}()
	}
	if writer != nil {
		writer.Start(context.Background())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), writerShutdownTimeout)
			defer cancel()
			if err := writer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to drain tracking writer", "error", err)
			}
		}()
	}

	chatEngine := engine.New(cfg, logger)

	routerOptions := api.RouterOptions{
		AppVersion:    version.String(),
		Engine:        chatEngine,
		Store:         store,
		Metrics:       otelRuntime,
		StorageDriver: cfg.Tracking.Driver,
		StoragePath:   cfg.Tracking.Path,
	}
	if writer != nil {
		routerOptions.Recorder = writer
	}

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           otelRuntime.WrapHTTPHandler(api.NewRouter(routerOptions)),
		ReadHeaderTimeout: serverReadHeaderTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	logger.Info(
		"startup banner",
		"version", version.String(),
		"addr", server.Addr,
		"providers", chatEngine.Providers(),
		"tracking_driver", cfg.Tracking.Driver,
		"config_path", *configPath,
	)

	ctx, stop := signalNotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown", "error", err)
			return 1
		}
		logger.Info("gateway stopped")
		return 0
	case err := <-errCh:
		if err != nil {
			logger.Error("gateway failed", "error", err)
			return 1
		}
		return 0
	}
}

// openTracking builds the store and async writer for the configured driver.
// Driver "none" disables persistence entirely.
func openTracking(cfg config.Config, logger *slog.Logger, otelRuntime *observability.Runtime) (tracking.Store, *tracking.Writer, error) {
	var store tracking.Store
	switch cfg.Tracking.Driver {
	case "sqlite":
		sqliteStore, err := tracking.NewSQLiteStore(cfg.Tracking.Path)
		if err != nil {
			return nil, nil, err
		}
		store = sqliteStore
	case "postgres":
		postgresStore, err := tracking.NewPostgresStore(context.Background(), cfg.Tracking.DSN)
		if err != nil {
			return nil, nil, err
		}
		store = postgresStore
	case "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported tracking.driver %q", cfg.Tracking.Driver)
	}

	writer := tracking.NewWriter(store, cfg.Tracking.BufferSize, logger)
	writer.SetHooks(tracking.WriterHooks{
		OnDrop:         otelRuntime.RecordLogDrop,
		OnWriteFailure: otelRuntime.RecordLogWriteFailure,
	})
	return store, writer, nil
}
