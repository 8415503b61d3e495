package zotero

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/aduverger/zotfill/internal/common"
)

// maxAttempts is the total number of tries for one catalog request,
// rate-limited retries included.
const maxAttempts = 3

// requestResult carries the raw outcome of one catalog request. Callers
// inspect Status for semantic codes (404 and the like).
type requestResult struct {
	status int
	header http.Header
	body   []byte
}

// recordBackoff widens the shared quiet window. The window only ever grows;
// a shorter request never shrinks a window a longer one established.
func (c *Client) recordBackoff(d time.Duration) {
	until := time.Now().Add(d)
	c.mu.Lock()
	if until.After(c.backoffUntil) {
		c.backoffUntil = until
	}
	c.mu.Unlock()
}

// waitForBackoff blocks until the quiet window requested by the server has
// passed, or the context is done.
func (c *Client) waitForBackoff(ctx context.Context) error {
	c.mu.Lock()
	until := c.backoffUntil
	c.mu.Unlock()

	d := time.Until(until)
	if d <= 0 {
		return nil
	}
	c.log.Info("zotero.request.backoff", "wait_ms", d.Milliseconds())

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retrySeconds parses a whole-seconds header value such as Backoff or
// Retry-After. Absent or malformed values count as zero.
func retrySeconds(h http.Header, name string) int {
	v := h.Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// do sends one catalog request with the shared courtesy machinery: the
// proactive limiter, the server-requested quiet window, and up to three
// attempts when the server signals overload. Any other failure is returned
// immediately; 429 exhaustion is terminal for this operation only.
func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*requestResult, error) {
	reqID := uuid.New().String()
	start := time.Now()

	var last *requestResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.waitForBackoff(ctx); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Zotero-API-Version", "3")
		req.Header.Set("Zotero-API-Key", c.apiKey)
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		c.log.Debug("zotero.request.start",
			"req_id", reqID,
			"method", method,
			"path", path,
			"attempt", attempt,
		)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Error("zotero.request.send_error", "req_id", reqID, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil, fmt.Errorf("%w: %v", common.ErrTransport, err)
		}
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		last = &requestResult{status: resp.StatusCode, header: resp.Header, body: raw}

		// A Backoff header can ride on any response, success included. The
		// current request's outcome stands; the window applies to the next.
		if s := retrySeconds(resp.Header, "Backoff"); s > 0 {
			c.recordBackoff(time.Duration(s) * time.Second)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retrySeconds(resp.Header, "Retry-After")
			if b := retrySeconds(resp.Header, "Backoff"); b > wait {
				wait = b
			}
			c.recordBackoff(time.Duration(wait) * time.Second)
			c.log.Warn("zotero.request.rate_limited",
				"req_id", reqID,
				"attempt", attempt,
				"retry_after_s", wait,
			)
			continue
		}

		if resp.StatusCode/100 != 2 {
			// Overload responses that carry a Backoff header are worth a
			// retry after the window; everything else fails now.
			if retrySeconds(resp.Header, "Backoff") > 0 {
				c.log.Warn("zotero.request.overloaded",
					"req_id", reqID,
					"status", resp.StatusCode,
					"attempt", attempt,
				)
				continue
			}
			c.log.Error("zotero.request.failed",
				"req_id", reqID,
				"status", resp.StatusCode,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return last, fmt.Errorf("%w: %s %s: status %d: %s",
				common.ErrTransport, method, path, resp.StatusCode, truncate(string(raw), 512))
		}

		c.log.Debug("zotero.request.ok",
			"req_id", reqID,
			"status", resp.StatusCode,
			"bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return last, nil
	}

	c.log.Error("zotero.request.exhausted", "req_id", reqID, "method", method, "path", path)
	return last, common.NewAppError("RATE_LIMITED",
		fmt.Sprintf("%s %s failed after %d attempts", method, path, maxAttempts), common.ErrRateLimit)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
