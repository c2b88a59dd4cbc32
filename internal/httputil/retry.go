package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/breeze-rmm/appupdate/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls the retry behavior for HTTP requests.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig returns the defaults used for feed requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// isRetryableStatus returns true for HTTP status codes that are safe to retry.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

// Get is Do for a GET without a body.
func Get(ctx context.Context, client *http.Client, url string, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	return Do(ctx, client, http.MethodGet, url, nil, headers, cfg)
}

// Do executes an HTTP request with retry logic. The request body must be
// provided separately as a byte slice so it can be replayed on retries.
// Returns the response from the first successful (or last) attempt.
func Do(ctx context.Context, client *http.Client, method, url string, body []byte, headers http.Header, cfg RetryConfig) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vals := range headers {
			for _, v := range vals {
				req.Header.Add(k, v)
			}
		}

		r, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err // network error, retry
		}
		if !isRetryableStatus(r.StatusCode) {
			resp = r // success or non-retryable error
			return nil
		}
		r.Body.Close()
		return &RetryableStatusError{StatusCode: r.StatusCode, URL: url}
	}

	notify := func(err error, delay time.Duration) {
		log.Debug("retrying request",
			"attempt", attempt,
			"delay", delay,
			"url", url,
			logging.KeyError, err,
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(cfg.backOff(), uint64(max(cfg.MaxRetries, 0))), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() == nil {
			log.Warn("all retries exhausted",
				"method", method,
				"url", url,
				"attempts", attempt,
				logging.KeyError, err,
			)
		}
		return nil, err
	}
	return resp, nil
}

// backOff maps the config onto an exponential backoff without an elapsed
// time limit; the retry count bounds it instead.
func (cfg RetryConfig) backOff() *backoff.ExponentialBackOff {
	multiplier := cfg.BackoffFactor
	if multiplier < 1 {
		multiplier = backoff.DefaultMultiplier
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialDelay,
		RandomizationFactor: cfg.JitterFrac,
		Multiplier:          multiplier,
		MaxInterval:         cfg.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
}

// RetryableStatusError indicates the server kept returning a retryable HTTP status.
type RetryableStatusError struct {
	StatusCode int
	URL        string
}

func (e *RetryableStatusError) Error() string {
	return fmt.Sprintf("request to %s failed after retries with status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}
