package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// httpGetter is a GET helper shared by the upstream adapters: bounded
// retries on transport errors and 5xx, exponential backoff, browser-ish
// headers so the public endpoints answer.
type httpGetter struct {
	client      *http.Client
	headers     map[string]string
	retries     int
	backoffBase time.Duration
	backoffCap  time.Duration
	log         zerolog.Logger
}

func (g *httpGetter) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < g.retries; attempt++ {
		if attempt > 0 {
			wait := g.backoffBase << uint(attempt-1)
			if wait > g.backoffCap {
				wait = g.backoffCap
			}
			g.log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("wait", wait).Msg("Retrying fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		body, retryable, err := g.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", g.retries, lastErr)
}

func (g *httpGetter) getOnce(ctx context.Context, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	for k, v := range g.headers {
		req.Header.Set(k, v)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, resp.StatusCode >= 500, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(snippet))
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, false, nil
}
