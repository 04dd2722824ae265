// Package main runs the TarPets storefront: carts, recommendations and checkout over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/abgdnv/tarpets/internal/app"
	"github.com/abgdnv/tarpets/internal/config"
	"github.com/abgdnv/tarpets/internal/storage"
	"github.com/abgdnv/tarpets/pkg/auth"
	"github.com/abgdnv/tarpets/pkg/bootstrap"
	"github.com/abgdnv/tarpets/pkg/config/configloader"
	"github.com/abgdnv/tarpets/pkg/messaging"
	"github.com/abgdnv/tarpets/pkg/nats"
	"github.com/abgdnv/tarpets/pkg/telemetry"
	"github.com/abgdnv/tarpets/pkg/web"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "storefront"

func main() {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("application run failed: %v", err)
		os.Exit(1)
	}
	log.Println("application stopped gracefully")
}

// run loads the configuration, connects the optional infrastructure and serves HTTP, gRPC health
// and pprof until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, cfgErr := configloader.Load[*config.Config](serviceName)
	if cfgErr != nil {
		return fmt.Errorf("failed to load configuration: %w", cfgErr)
	}
	log.Printf("Configuration loaded: %v", cfg)

	logger := bootstrap.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	tracerProvider, err := telemetry.NewTracerProvider(ctx, serviceName, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to create tracer provider: %w", err)
	}
	meterProvider, metricsHandler, err := telemetry.NewMeterProvider(serviceName)
	if err != nil {
		return fmt.Errorf("failed to create meter provider: %w", err)
	}

	infra := app.Infra{
		Metrics: metricsHandler,
		Meter:   meterProvider.Meter(serviceName),
		Auth:    web.HeaderAuthMiddleware,
	}

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		if err := storage.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		dbPool, err := bootstrap.NewDbPool(ctx, cfg.Database.URL, cfg.Database.Timeout)
		if err != nil {
			return fmt.Errorf("failed to create database connection pool: %w", err)
		}
		defer dbPool.Close()
		logger.Info("Successfully connected to the database!")
		infra.KV = storage.NewPgStore(dbPool, cfg.Storage.MaxValueBytes)
		infra.Ready = dbPool.Ping
	default:
		infra.KV = storage.NewInMemoryStore(cfg.Storage.MaxValueBytes)
	}

	if cfg.NATS.Enabled {
		natsConn, err := nats.NewClient(cfg.NATS.Url, cfg.NATS.Timeout)
		if err != nil {
			return fmt.Errorf("failed to create NATS connection: %w", err)
		}
		defer natsConn.Close()
		js, err := nats.NewJetStreamContext(natsConn)
		if err != nil {
			return fmt.Errorf("failed to get JetStream context: %w", err)
		}
		streamCtx, cancel := context.WithTimeout(ctx, cfg.NATS.Timeout)
		err = nats.EnsureStream(streamCtx, js, cfg.NATS.Stream,
			messaging.CartNotificationsSubject, messaging.OrdersPlacedSubject)
		cancel()
		if err != nil {
			return err
		}
		infra.Publisher = nats.NewNatsPublisher(js)
	} else {
		infra.Publisher = messaging.NewLogPublisher(logger)
	}

	if cfg.Auth.Enabled {
		startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		verifier, err := auth.NewJWTVerifier(startupCtx, cfg.IdP)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create JWT verifier: %w", err)
		}
		infra.Auth = web.BearerAuthMiddleware(verifier)
	}

	deps, err := app.SetupDependencies(infra, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Service.Close()

	httpServer := app.SetupHttpServer(deps, cfg)

	g, gCtx := errgroup.WithContext(ctx)

	// Start the HTTP server
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	// gracefully shutdown HTTP server on context cancellation
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.GRPC.Enabled {
		grpcServer, healthServer := app.SetupGrpcServer(logger, cfg.GRPC.ReflectionEnabled)
		g.Go(func() error {
			grpcAddr := ":" + cfg.GRPC.Port
			lis, err := net.Listen("tcp", grpcAddr)
			if err != nil {
				return fmt.Errorf("failed to listen on gRPC port: %w", err)
			}
			logger.Info("gRPC server listening", slog.String("addr", grpcAddr))
			return grpcServer.Serve(lis)
		})
		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down gRPC server...")
			healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
			stopped := make(chan struct{})
			go func() {
				grpcServer.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
				logger.Info("gRPC server stopped gracefully.")
				return nil
			case <-time.After(cfg.Shutdown.Timeout):
				logger.Warn("gRPC server graceful stop timed out. Forcing stop.")
				grpcServer.Stop()
				return fmt.Errorf("grpc server graceful stop timed out")
			}
		})
	}

	// Drop carts idle for too long; they are reloaded from storage on the next request.
	g.Go(func() error {
		return deps.Service.RunCartEviction(gCtx, cfg.Cart.IdleTTL, cfg.Cart.SweepInterval)
	})

	// Start the pprof server if enabled
	if cfg.PProf.Enabled {
		pprofServer := &http.Server{
			Addr: cfg.PProf.Addr,
		}
		g.Go(func() error {
			logger.Info("Pprof server listening", slog.String("addr", pprofServer.Addr))
			if err := pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("pprof server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			logger.Info("Shutting down pprof server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
			defer cancel()
			return pprofServer.Shutdown(shutdownCtx)
		})
	}

	// flush telemetry providers
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down telemetry providers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		return errors.Join(tracerProvider.Shutdown(shutdownCtx), meterProvider.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("errgroup encountered an error: %w", err)
	}
	return nil
}
