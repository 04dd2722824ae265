// Package app contains the application setup for the storefront.
package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/abgdnv/tarpets/internal/catalog"
	"github.com/abgdnv/tarpets/internal/checkout"
	"github.com/abgdnv/tarpets/internal/config"
	"github.com/abgdnv/tarpets/internal/recommend"
	"github.com/abgdnv/tarpets/internal/service"
	"github.com/abgdnv/tarpets/internal/shipping"
	"github.com/abgdnv/tarpets/internal/storage"
	"github.com/abgdnv/tarpets/internal/transport/rest"
	restclient "github.com/abgdnv/tarpets/pkg/client/rest"
	"github.com/abgdnv/tarpets/pkg/messaging"
	"github.com/abgdnv/tarpets/pkg/server"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "storefront"

type Dependencies struct {
	Service *service.Service
	Auth    func(http.Handler) http.Handler
	Ready   rest.ReadinessCheck
	Metrics http.Handler
	Logger  *slog.Logger
}

// Infra groups the process-level collaborators built by main.
type Infra struct {
	KV        storage.KV
	Publisher messaging.Publisher
	Auth      func(http.Handler) http.Handler
	Ready     rest.ReadinessCheck
	Metrics   http.Handler
	Meter     metric.Meter
	Upstream  http.RoundTripper
}

// SetupDependencies builds the storefront service graph on top of the given infrastructure.
func SetupDependencies(infra Infra, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	base := infra.Upstream
	if base == nil {
		base = http.DefaultTransport
	}
	client := catalog.NewClient(cfg.Catalog.BaseURL, &http.Client{
		Transport: restclient.NewTransport(base, "catalog", cfg.Catalog),
	})

	notifier := cart.MultiNotifier{
		cart.NewLogNotifier(logger),
		cart.NewPublisherNotifier(infra.Publisher, logger),
	}
	carts := cart.NewRegistry(infra.KV, notifier, logger)

	engine, err := recommend.NewEngine(client, recommend.NewRandom(), logger, infra.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create recommendation engine: %w", err)
	}
	orders, err := checkout.NewService(client, infra.Publisher, cfg.Checkout.Bucket, logger, infra.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout service: %w", err)
	}
	threshold, fee, err := cfg.Shipping.Values()
	if err != nil {
		return nil, err
	}

	svc := service.NewService(carts, client, engine, orders, shipping.NewCalculator(threshold, fee),
		cfg.Recommend.Timeout, logger)

	return &Dependencies{
		Service: svc,
		Auth:    infra.Auth,
		Ready:   infra.Ready,
		Metrics: infra.Metrics,
		Logger:  logger,
	}, nil
}

// SetupHttpHandler builds the router of the storefront.
// Used by tests to exercise the full middleware chain.
func SetupHttpHandler(deps *Dependencies) http.Handler {
	mux := server.NewChiRouter(deps.Logger)
	wireRoutes(mux, deps)
	return mux
}

func wireRoutes(mux *chi.Mux, deps *Dependencies) {
	handler := rest.NewHandler(deps.Service, deps.Auth, deps.Ready, deps.Logger)
	handler.RegisterRoutes(mux)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
}

// SetupHttpServer creates and configures an HTTP server for the storefront.
func SetupHttpServer(deps *Dependencies, cfg *config.Config) *http.Server {
	mux := SetupHttpHandler(deps)

	httpCfg := server.HTTPConfig{
		Port:           cfg.HTTPServer.Port,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		ReadTimeout:    cfg.HTTPServer.Timeout.Read,
		WriteTimeout:   cfg.HTTPServer.Timeout.Write,
		IdleTimeout:    cfg.HTTPServer.Timeout.Idle,
		ReadHeader:     cfg.HTTPServer.Timeout.ReadHeader,
	}

	return server.NewHTTPServer(httpCfg, mux, serviceName)
}

// SetupGrpcServer creates the gRPC server carrying the health service, which reports the storefront
// as serving until shutdown.
func SetupGrpcServer(logger *slog.Logger, reflectionEnabled bool) (*grpc.Server, *health.Server) {
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	return server.NewGRPCServer(logger, reflectionEnabled, server.WithHealth(hs)), hs
}
