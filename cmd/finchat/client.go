package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/finchat/internal/chat"
	"github.com/kalambet/finchat/internal/config"
	"github.com/kalambet/finchat/internal/health"
)

// gatewayClient bundles the client-side pieces that talk to a finchat
// gateway.
type gatewayClient struct {
	baseURL    string
	httpClient *http.Client
	sender     *chat.HTTPSender
	prober     *health.HTTPProber
}

func newGatewayClient(cfg config.Config) *gatewayClient {
	baseURL := strings.TrimRight(cfg.Client.GatewayURL, "/")
	return &gatewayClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		sender:     chat.NewHTTPSender(baseURL, &http.Client{Timeout: cfg.Client.RequestTimeout}),
		prober:     health.NewHTTPProber(baseURL, &http.Client{Timeout: cfg.Upstream.HealthTimeout + 5*time.Second}),
	}
}

// liveness checks that the gateway process itself is up.
func (c *gatewayClient) liveness(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway not reachable, is finchat serve running? (%w)", err)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return err
	}
	if body.Status != "ok" {
		return fmt.Errorf("gateway reported status %q", body.Status)
	}
	return nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
