// Package wavespeed implements the core.Dispatcher adapter for the
// Wavespeed image-generation API.
package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	core "github.com/bananapics/core/internal"
	"github.com/bananapics/core/internal/provider"
)

const (
	defaultBaseURL = "https://api.wavespeed.ai/api/v3"
	providerName   = "wavespeed"
)

// modelMap resolves a (model_key, mode) pair to the upstream model
// identifier, mirroring the original client's hardcoded model table.
var modelMap = map[string]map[core.GenerationMode]string{
	"seedream-v4": {
		core.ModeT2I: "bytedance/seedream-v4",
		core.ModeI2I: "bytedance/seedream-v4/edit",
	},
	"nano-banana": {
		core.ModeT2I: "google/nano-banana/text-to-image",
		core.ModeI2I: "google/nano-banana/edit",
	},
	"nano-banana-pro": {
		core.ModeT2I: "google/nano-banana-pro/text-to-image",
		core.ModeI2I: "google/nano-banana-pro/edit",
	},
	"gpt-image-1.5": {
		core.ModeT2I: "openai/gpt-image-1.5/text-to-image",
		core.ModeI2I: "openai/gpt-image-1.5/edit",
	},
	"qwen": {
		core.ModeT2I: "wavespeed-ai/qwen-image/text-to-image",
		core.ModeI2I: "wavespeed-ai/qwen-image/edit",
	},
}

// Client is a Wavespeed provider adapter implementing core.Dispatcher.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates a Wavespeed Client with a tuned http.Client.
// If baseURL is empty it defaults to the production API root.
// If resolver is non-nil it wraps the transport's DialContext with
// cached DNS lookups.
func New(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 50,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Transport: t, Timeout: 30 * time.Second},
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Submit dispatches a generation request to Wavespeed. Submissions are
// always asynchronous (enable_sync_mode is never set): the returned
// SubmitResult carries the upstream request id for the Status Poller.
func (c *Client) Submit(ctx context.Context, req *core.GenerationRequest) (*core.SubmitResult, error) {
	model, ok := resolveModel(req.ModelKey, req.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrModelNotFound, req.ModelKey, req.Mode)
	}

	payload := map[string]any{"prompt": req.Prompt}
	for k, v := range req.Params {
		payload[k] = v
	}
	if len(req.ReferenceIDs) > 0 {
		payload["images"] = req.ReferenceIDs
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wavespeed: marshal request: %w", err)
	}

	result, err := backoff.Retry(ctx, func() (gjson.Result, error) {
		return c.doJSON(ctx, http.MethodPost, "/"+model, body)
	}, backoff.WithMaxTries(3), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrProviderSubmitFailed, err)
	}

	return &core.SubmitResult{UpstreamJobID: result.Get("data.id").String()}, nil
}

// GetPrediction polls Wavespeed for the current state of a job.
func (c *Client) GetPrediction(ctx context.Context, upstreamJobID string) (*core.PredictionStatus, error) {
	result, err := c.doJSON(ctx, http.MethodGet, "/predictions/"+upstreamJobID+"/result", nil)
	if err != nil {
		return nil, fmt.Errorf("wavespeed: get prediction: %w", err)
	}

	data := result.Get("data")
	outputs := data.Get("outputs").Array()
	statusValue := data.Get("status").String()

	status := &core.PredictionStatus{}
	switch {
	case statusValue == "completed" || (statusValue == "" && len(outputs) > 0):
		status.Status = core.StatusCompleted
		for _, u := range outputs {
			status.OutputURLs = append(status.OutputURLs, u.String())
		}
	case statusValue == "failed":
		status.Status = core.StatusFailed
		status.ErrorMessage = firstNonEmpty(
			data.Get("error_message").String(),
			data.Get("error").String(),
			data.Get("detail").String(),
			data.Get("message").String(),
		)
	default:
		status.Status = core.StatusProcessing
	}
	return status, nil
}

// Balance returns the current Wavespeed account balance in USD.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	result, err := c.doJSON(ctx, http.MethodGet, "/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("wavespeed: get balance: %w", err)
	}
	return result.Get("data.balance").Float(), nil
}

// ModelPricing returns the current USD unit price for a model/input
// combination, for models with dynamic pricing.
func (c *Client) ModelPricing(ctx context.Context, modelID string, inputs map[string]string) (string, error) {
	payload, err := json.Marshal(map[string]any{"model_id": modelID, "inputs": inputs})
	if err != nil {
		return "", fmt.Errorf("wavespeed: marshal pricing request: %w", err)
	}
	result, err := c.doJSON(ctx, http.MethodPost, "/model/pricing", payload)
	if err != nil {
		return "", fmt.Errorf("wavespeed: get model pricing: %w", err)
	}
	price := result.Get("data.unit_price")
	if !price.Exists() {
		return "", fmt.Errorf("wavespeed: pricing response missing unit_price")
	}
	return strconv.FormatFloat(price.Float(), 'f', -1, 64), nil
}

// doJSON performs an HTTP request against the Wavespeed API and returns
// the parsed JSON body. Non-2xx responses are returned as provider.APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("wavespeed: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("wavespeed: do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("wavespeed: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, provider.ParseAPIError(providerName, &http.Response{StatusCode: resp.StatusCode, Body: io.NopCloser(bytes.NewReader(respBody))})
	}
	return gjson.ParseBytes(respBody), nil
}

func resolveModel(modelKey string, mode core.GenerationMode) (string, bool) {
	entry, ok := modelMap[modelKey]
	if !ok {
		return "", false
	}
	model, ok := entry[mode]
	return model, ok
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
