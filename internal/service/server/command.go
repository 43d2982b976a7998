package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"

	api "github.com/oshokin/sos-guard/internal/api/grpc/sos"
	"github.com/oshokin/sos-guard/internal/config"
	"github.com/oshokin/sos-guard/internal/logger"
	"github.com/oshokin/sos-guard/internal/observe"
	"github.com/oshokin/sos-guard/internal/service/instance"
	"github.com/oshokin/sos-guard/internal/version"
)

// Options controls the sos-guard process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
	// StateFile specifies the path to persist detector flags.
	StateFile string
	// AllowMultiple skips the single-instance check.
	AllowMultiple bool
}

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

const (
	// stopTimeout bounds the graceful shutdown of long-lived watch streams.
	stopTimeout       = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Run starts the engine and the gRPC server and blocks until context is
// canceled or the server stops.
//
//nolint:funlen // Startup and shutdown read best in one place.
func Run(ctx context.Context, opts *Options) error {
	// Load configuration first to get server and logging settings.
	settings, err := config.LoadOrDefault(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	logger.Setup(settings.LogLevel, settings.LogFormat)

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "sos-guard")

	if !opts.AllowMultiple {
		if err = instance.Ensure(""); err != nil {
			return err
		}
	}

	// Use StateFile from config unless overridden by command line option.
	if opts.StateFile != "" {
		settings.StateFile = opts.StateFile
	}

	// Determine listen address: CLI argument overrides config.
	listenAddress, err := resolveListenAddress(settings.ServerAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	provider, err := observe.InitProvider()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	defer func() {
		_ = provider.MeterProvider.Shutdown(context.WithoutCancel(ctx))
	}()

	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	eng, err := newEngine(ctx, settings, metrics)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		eng.shutdown(ctx)
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer()
	api.RegisterSOSServiceServer(grpcServer, api.NewServer(eng))

	eng.start(ctx)

	if settings.MetricsAddress != "" {
		stopMetrics := serveMetrics(ctx, settings.MetricsAddress, provider.Handler)
		defer stopMetrics()
	}

	logger.InfoKV(ctx, "SOS daemon listening",
		append([]any{"listen_address", listenAddress, "state_file", settings.StateFile}, version.Fields()...)...)

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		stopGracefully(grpcServer)
		close(done)
	}()

	if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		eng.shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done

	eng.shutdown(context.WithoutCancel(ctx))
	logger.Info(ctx, "SOS daemon stopped")

	return nil
}

// stopGracefully waits for in-flight calls, cutting watch streams off after stopTimeout.
func stopGracefully(s *grpc.Server) {
	stopped := make(chan struct{})

	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		s.Stop()
		<-stopped
	}
}

// serveMetrics exposes the Prometheus handler on address. The returned
// function shuts the listener down.
func serveMetrics(ctx context.Context, address string, handler http.Handler) func() {
	ctx = logger.WithName(ctx, "metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.InfoKV(ctx, "Serving metrics", "address", address)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorKV(ctx, "Metrics server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}
}

// resolveListenAddress determines the listen address for the gRPC server.
// An override is used as is; otherwise the configured address is used,
// which binds to loopback by default.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	if _, _, err := net.SplitHostPort(configAddr); err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	return configAddr, nil
}
