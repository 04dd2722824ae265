package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/abgdnv/tarpets/internal/shipping"
	"github.com/abgdnv/tarpets/pkg/config"
	"github.com/abgdnv/tarpets/pkg/config/configloader"
	"github.com/shopspring/decimal"
)

var _ configloader.Validator = (*Config)(nil)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	HTTPServer config.HTTPConfig       `koanf:"server"`
	GRPC       config.GrpcServerConfig `koanf:"grpc"`
	Log        config.LogConfig        `koanf:"log"`
	PProf      config.PProfConfig      `koanf:"pprof"`
	Shutdown   config.ShutdownConfig   `koanf:"shutdown"`
	Database   config.DatabaseConfig   `koanf:"database"`
	Storage    StorageConfig           `koanf:"storage"`
	NATS       config.NATSConfig       `koanf:"nats"`
	Telemetry  config.TelemetryConfig  `koanf:"telemetry"`
	IdP        config.IdP              `koanf:"idp"`
	Auth       AuthConfig              `koanf:"auth"`
	Catalog    config.RestClientConfig `koanf:"catalog"`
	Recommend  RecommendConfig         `koanf:"recommend"`
	Shipping   ShippingConfig          `koanf:"shipping"`
	Checkout   CheckoutConfig          `koanf:"checkout"`
	Cart       CartConfig              `koanf:"cart"`
}

// StorageConfig selects the driver backing cart slots.
type StorageConfig struct {
	Driver        string `koanf:"driver"`
	MaxValueBytes int    `koanf:"maxvaluebytes"`
}

// AuthConfig switches between bearer token verification against the IdP and the trusted X-User-ID header.
type AuthConfig struct {
	Enabled bool `koanf:"enabled"`
}

type RecommendConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

type ShippingConfig struct {
	Threshold string `koanf:"threshold"`
	Fee       string `koanf:"fee"`
}

type CheckoutConfig struct {
	Bucket time.Duration `koanf:"bucket"`
}

// CartConfig controls how long an unused cart stays in memory. Evicted carts are reloaded
// from storage on the next request.
type CartConfig struct {
	IdleTTL       time.Duration `koanf:"idlettl"`
	SweepInterval time.Duration `koanf:"sweepinterval"`
}

func (c *Config) String() string {
	var b strings.Builder

	b.WriteString("\n--- Server Configuration ---\n")
	b.WriteString(fmt.Sprintf("  server.port: %d\n", c.HTTPServer.Port))
	b.WriteString(fmt.Sprintf("  server.maxHeaderBytes: %d\n", c.HTTPServer.MaxHeaderBytes))
	b.WriteString(fmt.Sprintf("  server.timeout.read: %v\n", c.HTTPServer.Timeout.Read))
	b.WriteString(fmt.Sprintf("  server.timeout.write: %v\n", c.HTTPServer.Timeout.Write))
	b.WriteString(fmt.Sprintf("  server.timeout.idle: %v\n", c.HTTPServer.Timeout.Idle))
	b.WriteString(fmt.Sprintf("  server.timeout.readHeader: %v\n", c.HTTPServer.Timeout.ReadHeader))

	b.WriteString("\n--- gRPC Configuration ---\n")
	b.WriteString(fmt.Sprintf("  grpc.enabled: %t\n", c.GRPC.Enabled))
	b.WriteString(fmt.Sprintf("  grpc.port: %s\n", c.GRPC.Port))
	b.WriteString(fmt.Sprintf("  grpc.reflection_enabled: %t\n", c.GRPC.ReflectionEnabled))

	b.WriteString("\n--- Storage Configuration ---\n")
	b.WriteString(fmt.Sprintf("  storage.driver: %s\n", c.Storage.Driver))
	b.WriteString(fmt.Sprintf("  storage.maxValueBytes: %d\n", c.Storage.MaxValueBytes))
	if c.Storage.Driver == StoragePostgres {
		b.WriteString(fmt.Sprintf("  database.url: %s\n", config.MaskURL(c.Database.URL)))
		b.WriteString(fmt.Sprintf("  database.connect.timeout: %s\n", c.Database.Timeout))
	}

	b.WriteString("\n--- Catalog API ---")
	b.WriteString(c.Catalog.String())

	b.WriteString("\n--- Messaging ---\n")
	b.WriteString(fmt.Sprintf("  nats.enabled: %t\n", c.NATS.Enabled))
	if c.NATS.Enabled {
		b.WriteString(c.NATS.String())
	}

	b.WriteString("\n--- Authentication ---\n")
	b.WriteString(fmt.Sprintf("  auth.enabled: %t\n", c.Auth.Enabled))
	if c.Auth.Enabled {
		b.WriteString(c.IdP.String())
	}

	b.WriteString("\n--- Storefront ---\n")
	b.WriteString(fmt.Sprintf("  recommend.timeout: %s\n", c.Recommend.Timeout))
	b.WriteString(fmt.Sprintf("  shipping.threshold: %s\n", c.Shipping.Threshold))
	b.WriteString(fmt.Sprintf("  shipping.fee: %s\n", c.Shipping.Fee))
	b.WriteString(fmt.Sprintf("  checkout.bucket: %s\n", c.Checkout.Bucket))
	b.WriteString(fmt.Sprintf("  cart.idlettl: %s\n", c.Cart.IdleTTL))
	b.WriteString(fmt.Sprintf("  cart.sweepinterval: %s\n", c.Cart.SweepInterval))

	b.WriteString("\n--- Observability & Logging ---\n")
	b.WriteString(fmt.Sprintf("  log.level: %s\n", c.Log.Level))
	b.WriteString(fmt.Sprintf("  pprof.enabled: %t\n", c.PProf.Enabled))
	b.WriteString(fmt.Sprintf("  pprof.address: %s\n", c.PProf.Addr))
	b.WriteString(c.Telemetry.String())

	b.WriteString("\n--- Application Behavior ---\n")
	b.WriteString(fmt.Sprintf("  shutdown.timeout: %s\n", c.Shutdown.Timeout))

	return b.String()
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if err := c.HTTPServer.Validate(); err != nil {
		return err
	}
	if c.GRPC.Enabled {
		if err := c.GRPC.Validate(); err != nil {
			return err
		}
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.PProf.Validate(); err != nil {
		return err
	}
	if err := c.Shutdown.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Storage.Driver == StoragePostgres {
		if err := c.Database.Validate(); err != nil {
			return err
		}
	}
	if c.NATS.Enabled {
		if err := c.NATS.Validate(); err != nil {
			return err
		}
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if c.Auth.Enabled {
		if err := c.IdP.Validate(); err != nil {
			return err
		}
	}
	if err := c.Catalog.Validate(); err != nil {
		return err
	}
	if c.Recommend.Timeout <= 0 {
		return fmt.Errorf("recommend timeout must be positive, got %s", c.Recommend.Timeout)
	}
	if _, _, err := c.Shipping.Values(); err != nil {
		return err
	}
	if c.Checkout.Bucket <= 0 {
		return fmt.Errorf("checkout bucket must be positive, got %s", c.Checkout.Bucket)
	}
	if c.Cart.IdleTTL <= 0 || c.Cart.SweepInterval <= 0 {
		return fmt.Errorf("cart idle TTL and sweep interval must be positive, got %s and %s", c.Cart.IdleTTL, c.Cart.SweepInterval)
	}
	return nil
}

func (c *StorageConfig) Validate() error {
	switch c.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("unknown storage driver %q, expected %q or %q", c.Driver, StorageMemory, StoragePostgres)
	}
	if c.MaxValueBytes < 0 {
		return fmt.Errorf("storage maxValueBytes must not be negative, got %d", c.MaxValueBytes)
	}
	return nil
}

// Values parses the shipping threshold and fee. Fields left empty keep their defaults.
func (c *ShippingConfig) Values() (threshold, fee decimal.Decimal, err error) {
	threshold, fee = shipping.DefaultThreshold, shipping.DefaultFee
	if c.Threshold != "" {
		if threshold, err = decimal.NewFromString(c.Threshold); err != nil {
			return threshold, fee, fmt.Errorf("invalid shipping threshold %q: %w", c.Threshold, err)
		}
	}
	if c.Fee != "" {
		if fee, err = decimal.NewFromString(c.Fee); err != nil {
			return threshold, fee, fmt.Errorf("invalid shipping fee %q: %w", c.Fee, err)
		}
		if fee.IsNegative() {
			return threshold, fee, fmt.Errorf("shipping fee must not be negative, got %s", fee)
		}
	}
	return threshold, fee, nil
}
