package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/breeze-rmm/appupdate/internal/httputil"
)

// httpFetcher reads feed documents relative to a base URL.
type httpFetcher struct {
	base    *url.URL
	client  *http.Client
	retry   httputil.RetryConfig
	headers http.Header
}

func (h *httpFetcher) fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	target := h.base.JoinPath(strings.Split(name, "/")...).String()

	resp, err := httputil.Get(ctx, h.client, target, h.headers, h.retry)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, &StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	return resp.Body, resp.ContentLength, nil
}

func (h *httpFetcher) String() string {
	return h.base.String()
}

// OpenRemote returns a Source over the feed published at rawURL.
func OpenRemote(rawURL string, opts Options) (*Source, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported feed URL scheme %q", base.Scheme)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("feed URL %q has no host", rawURL)
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	retry := opts.Retry
	if retry == (httputil.RetryConfig{}) {
		retry = httputil.DefaultRetryConfig()
	}
	headers := http.Header{}
	headers.Set("User-Agent", opts.userAgent())

	return newSource(&httpFetcher{base: base, client: client, retry: retry, headers: headers}, opts), nil
}
