package embedding

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

const retryBaseDelay = 500 * time.Millisecond

// doWithRetry sends the request built by newReq, retrying with exponential backoff on
// transport errors, 429 and 5xx. The caller owns the returned response body.
func doWithRetry(ctx context.Context, client *http.Client, maxRetries int, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(retryBaseDelay) * math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		req, err := newReq()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// unavailable wraps err so that errors.Is(err, ErrProviderUnavailable) holds.
func unavailable(provider string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider, err)
}
