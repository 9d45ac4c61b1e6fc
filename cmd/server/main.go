// SOD server - detects speech onsets on captured and streamed audio
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/good-listener/backend/sod/internal/audio"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/config"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/metrics"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/orchestrator"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/resilience"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/server"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/storage"
	"github.com/GriffinCanCode/good-listener/backend/sod/internal/trace"
)

const (
	shutdownTimeout = 5 * time.Second
	healthInterval  = 10 * time.Second
	healthService   = "sod"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	slog.SetDefault(cfg.NewLogger())
	slog.Info("configuration loaded", cfg.Summary()...)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mt := metrics.New()
	opts := []orchestrator.Option{orchestrator.WithMetrics(mt)}

	var db *storage.DB
	if cfg.OnsetLogPath != "" {
		var err error
		db, err = storage.Open(cfg.OnsetLogPath)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		opts = append(opts, orchestrator.WithStorage(db))
	}

	if cfg.CaptureEnabled {
		capturer, err := audio.NewCapturer(audio.Options{
			SampleRate:      cfg.SampleRate,
			SystemAudio:     cfg.CaptureSystemAudio,
			ExcludedDevices: cfg.ExcludedAudioDevices,
			OnStateChange: func(device string, from, to resilience.State) {
				slog.Info("capture device state changed", "device", device, "from", from, "to", to)
			},
		})
		if err != nil {
			slog.Warn("audio capture unavailable, serving websocket streams only", "error", err)
		} else {
			defer func() { _ = capturer.Close() }()
			opts = append(opts, orchestrator.WithCapture(capturer))
		}
	}

	orch := orchestrator.New(cfg, opts...)
	srv := server.New(orch, mt)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(trace.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(trace.StreamServerInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	var lis net.Listener
	if cfg.GRPCAddr != "" {
		var err error
		if lis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
			return err
		}
	}

	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if lis != nil {
		g.Go(func() error {
			slog.Info("grpc health server starting", "addr", cfg.GRPCAddr)
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		watchHealth(gctx, healthSrv, db)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")
		healthSrv.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

// watchHealth reports NOT_SERVING while the onset log cannot be reached.
func watchHealth(ctx context.Context, hs *health.Server, db *storage.DB) {
	set := func(s healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", s)
		hs.SetServingStatus(healthService, s)
	}
	set(healthpb.HealthCheckResponse_SERVING)
	if db == nil {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, time.Second)
			err := db.Ping(pingCtx)
			cancel()
			if ok := err == nil; ok != serving {
				serving = ok
				if ok {
					set(healthpb.HealthCheckResponse_SERVING)
					slog.Info("onset log reachable again")
				} else {
					set(healthpb.HealthCheckResponse_NOT_SERVING)
					slog.Warn("onset log unreachable", "error", err)
				}
			}
		}
	}
}
