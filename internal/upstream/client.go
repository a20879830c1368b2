// Package upstream issues the cancellable streaming POST to the LLM
// gateway and decodes its chunked SSE response into raw data payloads
// (spec §4.E), following the request/response plumbing of
// pkg/core/providers/openai's client and stream decoder.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/voicebridge/proxy/internal/config"
	"github.com/voicebridge/proxy/internal/sse"
)

// Client issues the upstream fetch.
type Client struct {
	httpClient *http.Client
	cfg        config.Config
}

func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: cfg.UpstreamConnectTimeout}).DialContext,
				ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
			},
		},
	}
}

// Stream issues the streaming POST and returns a Decoder positioned at the
// start of the response body. The caller must Close the returned stream
// once done (normal completion, error, or cancellation) to release the
// connection.
func (c *Client) Stream(ctx context.Context, body []byte) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.UpstreamToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.UpstreamToken)
	}
	req.Header.Set("X-Upstream-Agent-Id", c.cfg.UpstreamAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		default:
		}
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &HTTPError{StatusCode: resp.StatusCode}
	}

	return &Stream{resp: resp, decoder: sse.NewDecoder(resp.Body)}, nil
}

// Stream is an open upstream response body being decoded as SSE.
type Stream struct {
	resp    *http.Response
	decoder *sse.Decoder
}

// Next returns the next raw payload. A [DONE] sentinel is reported as
// done=true with a nil error; a stream that closes without one ends with
// io.EOF.
func (s *Stream) Next() (payload string, done bool, err error) {
	return s.decoder.Next()
}

func (s *Stream) Close() error {
	return s.resp.Body.Close()
}

// HTTPError represents a non-2xx response from the gateway.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream: non-2xx status %d", e.StatusCode)
}

// ConnectTimeoutContext derives the cancellable context for one upstream
// fetch. When MaxTurnDuration is configured it also carries that deadline,
// covering the whole fetch and stream; otherwise it has no deadline.
func ConnectTimeoutContext(parent context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	if cfg.MaxTurnDuration <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, cfg.MaxTurnDuration)
}
