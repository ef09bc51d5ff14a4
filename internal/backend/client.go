package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/chatterhq/slack-chatter/internal/models"
	"github.com/chatterhq/slack-chatter/internal/ratelimit"
)

// serviceName keys the client's traffic in the rate limiter.
const serviceName = "search"

// maxResponseBody caps how much of an upstream response is read.
const maxResponseBody = 4 << 20

// defaultRetryAfter applies when a 429 arrives without a usable
// Retry-After header.
const defaultRetryAfter = time.Minute

var errUnexpectedStatus = errors.New("unexpected backend status")

// Client calls the external search service over HTTP. Every request
// runs through the rate-limited executor under its endpoint key.
type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	executor *ratelimit.Executor
	logger   *slog.Logger
}

// NewClient creates a backend client. The apiKey is optional and sent
// as a bearer credential when present.
func NewClient(baseURL string, apiKey string, executor *ratelimit.Executor, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		executor: executor,
		logger:   logger,
	}
}

// Search asks the backend for messages semantically matching the query.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encoding search query: %w", err)
	}

	raw, err := c.call(ctx, "search", http.MethodPost, "/api/search", body)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult

	for _, r := range gjson.GetBytes(raw, "results").Array() {
		results = append(results, models.SearchResult{
			MessageID:       r.Get("message_id").String(),
			Text:            r.Get("text").String(),
			UserName:        r.Get("user_name").String(),
			ChannelName:     r.Get("channel_name").String(),
			Timestamp:       r.Get("timestamp").String(),
			SimilarityScore: r.Get("similarity_score").Float(),
		})
	}

	return results, nil
}

// Channels lists the channel names present in the index.
func (c *Client) Channels(ctx context.Context) ([]string, error) {
	raw, err := c.call(ctx, "channels", http.MethodGet, "/api/channels", nil)
	if err != nil {
		return nil, err
	}

	var channels []string

	for _, ch := range gjson.GetBytes(raw, "channels").Array() {
		channels = append(channels, ch.String())
	}

	return channels, nil
}

// Stats reports the state of the index.
func (c *Client) Stats(ctx context.Context) (models.SearchStats, error) {
	raw, err := c.call(ctx, "stats", http.MethodGet, "/api/stats", nil)
	if err != nil {
		return models.SearchStats{}, err
	}

	return models.SearchStats{
		TotalMessages:   int(gjson.GetBytes(raw, "total_messages").Int()),
		ChannelsIndexed: int(gjson.GetBytes(raw, "channels_indexed").Int()),
		LastRefresh:     gjson.GetBytes(raw, "last_refresh").String(),
		Status:          gjson.GetBytes(raw, "status").String(),
	}, nil
}

// Health probes backend liveness. Health checks bypass retry policy
// concerns by running under their own endpoint key like everything else.
func (c *Client) Health(ctx context.Context) (models.Health, error) {
	raw, err := c.call(ctx, "health", http.MethodGet, "/api/health", nil)
	if err != nil {
		return models.Health{}, err
	}

	return models.Health{
		Status:    gjson.GetBytes(raw, "status").String(),
		Timestamp: gjson.GetBytes(raw, "timestamp").String(),
	}, nil
}

// call issues one HTTP request through the executor and returns the
// response body on 2xx.
func (c *Client) call(ctx context.Context, endpoint, method, path string, body []byte) ([]byte, error) {
	var out []byte

	err := c.executor.Do(ctx, serviceName, endpoint, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return ratelimit.Permanent(err)
		}

		req.Header.Set("Accept", "application/json")

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			// Network errors are transient until proven otherwise.
			return ratelimit.Unavailable(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return ratelimit.Unavailable(err)
		}

		if err := classifyStatus(resp, data); err != nil {
			return err
		}

		out = data

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// classifyStatus maps an HTTP response to the executor's failure
// classes so the retry policy reacts correctly.
func classifyStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return ratelimit.RateLimited(
			fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode),
			retryAfter(resp),
		)

	case resp.StatusCode == http.StatusConflict:
		// The backend reports idempotent no-ops (e.g. re-indexing an
		// already indexed range) as 409.
		return ratelimit.AlreadyDone(fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode))

	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return ratelimit.Unavailable(fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode))

	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}

		return ratelimit.Permanent(fmt.Errorf("%w: %d: %s", errUnexpectedStatus, resp.StatusCode, msg))

	default:
		return fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}
}

// retryAfter parses the Retry-After header in seconds form.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}

	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}

	return time.Duration(secs) * time.Second
}
