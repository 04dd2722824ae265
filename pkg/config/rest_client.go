package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RestClientConfig describes an upstream REST API.
type RestClientConfig struct {
	BaseURL    string           `koanf:"baseurl"`
	Timeout    time.Duration    `koanf:"timeout"`
	Resilience ResilienceConfig `koanf:"resilience"`
}

// String returns a string representation of the REST client configuration.
func (c *RestClientConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- REST Client ---\n")
	b.WriteString(fmt.Sprintf("  baseurl: %s\n", c.BaseURL))
	b.WriteString(fmt.Sprintf("  timeout: %s\n", c.Timeout))
	b.WriteString(c.Resilience.String())
	return b.String()
}

func (c *RestClientConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("REST client base URL is not configured")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid REST client base URL %q: %w", c.BaseURL, err)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("REST client timeout is not configured")
	}
	return c.Resilience.Validate()
}
