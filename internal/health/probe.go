// Package health - probe.go builds probes for common check shapes.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

const maxProbeBody = 1 << 20

// HTTPProbe probes url with a short timeout. Non-2xx is unhealthy. When the
// body is JSON with a "status" field, the status must read ok, healthy or up.
func HTTPProbe(url string, timeout time.Duration) Probe {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("invalid probe request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("probe unreachable: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
		if err != nil {
			return fmt.Errorf("probe read failed: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("probe returned status %d", resp.StatusCode)
		}

		if gjson.ValidBytes(body) {
			if status := gjson.GetBytes(body, "status"); status.Exists() {
				switch status.String() {
				case "ok", "healthy", "up":
				default:
					return fmt.Errorf("probe reports status %q", status.String())
				}
			}
		}
		return nil
	}
}
