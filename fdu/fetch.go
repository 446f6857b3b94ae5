package fdu

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchURL performs a plain blocking GET of the given URL and returns the
// response body. It backs the exported get_url binding and does not touch
// the portal session.
func FetchURL(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	hc := &http.Client{Timeout: 30 * time.Second}
	res, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer res.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// HelloWorld returns the canonical greeting of the FFI smoke test.
func HelloWorld() string {
	return "hello world"
}

// Add returns the sum of two integers. It exists for binding parity and
// as a trivial round-trip check across the C boundary.
func Add(a, b int32) int32 {
	return a + b
}
