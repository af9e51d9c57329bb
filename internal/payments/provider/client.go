package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/craftmarket/payment-engine/internal/payments/domain"
	"github.com/craftmarket/payment-engine/internal/payments/metrics"
)

// apiClient is the shared HTTP plumbing for provider adapters. Every call
// runs under the configured deadline and maps transport and status-code
// failures onto the engine's error taxonomy.
type apiClient struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	provider string
}

func newAPIClient(provider, baseURL, apiKey string, timeout time.Duration) *apiClient {
	return &apiClient{
		http:     &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		apiKey:   apiKey,
		provider: provider,
	}
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// do issues one JSON request and decodes the response into out. The op label
// feeds the call-duration histogram. Classification: transport timeout →
// ErrProviderTimeout, other transport errors and 5xx → ErrProviderUnavailable,
// 4xx → ErrProviderRejected.
func (c *apiClient) do(ctx context.Context, op, method, path string, headers map[string]string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.provider, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderCallDuration.WithLabelValues(c.provider, op).Observe(time.Since(start).Seconds())
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s %s", domain.ErrProviderTimeout, c.provider, path)
		}
		return fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, c.provider, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %s: read response: %v", domain.ErrProviderUnavailable, c.provider, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s responded %d", domain.ErrProviderUnavailable, c.provider, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s: %s", domain.ErrProviderRejected, c.provider, apiErr.Message)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%w: %s: decode response: %v", domain.ErrProviderUnavailable, c.provider, err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
