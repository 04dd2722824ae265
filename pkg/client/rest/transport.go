// Package rest provides a resilient http.RoundTripper for calls to upstream REST APIs:
// per-attempt timeout, circuit breaker and retries with exponential backoff.
package rest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abgdnv/tarpets/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// IdempotencyKeyHeader marks a non-idempotent request as safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// NewTransport chains, from the outside in: tracing, retry, circuit breaker and per-attempt timeout.
func NewTransport(base http.RoundTripper, name string, cfg config.RestClientConfig) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	rt := TimeoutTransport(base, cfg.Timeout)
	rt = CircuitBreakerTransport(rt, name, cfg.Resilience.CircuitBreaker)
	rt = RetryTransport(rt, cfg.Resilience.Retry)
	return otelhttp.NewTransport(rt)
}

// TimeoutTransport bounds each attempt by timeout. The deadline stays active until the
// response body is closed.
func TimeoutTransport(next http.RoundTripper, timeout time.Duration) http.RoundTripper {
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		ctx, cancel := context.WithTimeout(req.Context(), timeout)
		resp, err := next.RoundTrip(req.WithContext(ctx))
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	})
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// upstreamStatusError carries a 5xx response through the breaker so that it counts as a failure
// while the caller still receives the response.
type upstreamStatusError struct {
	resp *http.Response
}

func (e *upstreamStatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.resp.StatusCode)
}

// CircuitBreakerTransport counts transport errors and 5xx responses as failures.
// While the breaker is open requests fail fast with gobreaker.ErrOpenState.
func CircuitBreakerTransport(next http.RoundTripper, name string, cfg config.CircuitBreakerConfig) http.RoundTripper {
	halfOpen := cfg.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			total := counts.TotalSuccesses + counts.TotalFailures
			return counts.ConsecutiveFailures > cfg.ConsecutiveFailures ||
				(total > cfg.ConsecutiveFailures &&
					float64(counts.TotalFailures)/float64(total)*100 > float64(cfg.ErrorRatePercent))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// The caller gave up; this says nothing about upstream health.
			return errors.Is(err, context.Canceled)
		},
	}
	breaker := gobreaker.NewCircuitBreaker[*http.Response](st)

	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := breaker.Execute(func() (*http.Response, error) {
			resp, err := next.RoundTrip(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				return resp, &upstreamStatusError{resp: resp}
			}
			return resp, nil
		})
		var statusErr *upstreamStatusError
		if errors.As(err, &statusErr) {
			return statusErr.resp, nil
		}
		return resp, err
	})
}

// RetryTransport retries requests that are safe to repeat: GET, HEAD, OPTIONS and requests
// carrying an Idempotency-Key header. Transport errors and 429/502/503/504 are retried;
// an open breaker or a cancelled context stops immediately.
func RetryTransport(next http.RoundTripper, cfg config.RetryConfig) http.RoundTripper {
	return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		if !isRetryable(req) || cfg.MaxAttempts <= 1 {
			return next.RoundTrip(req)
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialBackoff
		if cfg.MaxBackoff > 0 {
			b.MaxInterval = cfg.MaxBackoff
		}
		b.MaxElapsedTime = 0
		policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1)), req.Context())

		var lastResp *http.Response
		op := func() error {
			if lastResp != nil {
				drainAndClose(lastResp.Body)
				lastResp = nil
			}
			attempt := req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return backoff.Permanent(err)
				}
				attempt.Body = body
			}
			resp, err := next.RoundTrip(attempt)
			if err != nil {
				if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || req.Context().Err() != nil {
					return backoff.Permanent(err)
				}
				return err
			}
			lastResp = resp
			if isRetryableStatus(resp.StatusCode) {
				return &upstreamStatusError{resp: resp}
			}
			return nil
		}

		err := backoff.Retry(op, policy)
		var statusErr *upstreamStatusError
		if err == nil || (errors.As(err, &statusErr) && lastResp != nil) {
			return lastResp, nil
		}
		if lastResp != nil {
			drainAndClose(lastResp.Body)
		}
		return nil, err
	})
}

func isRetryable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return req.Header.Get(IdempotencyKeyHeader) != "" && (req.Body == nil || req.GetBody != nil)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
