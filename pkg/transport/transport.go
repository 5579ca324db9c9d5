// Package transport is the outbound HTTP client for peer-to-peer
// delivery: signed message POSTs, join requests and wake triggers, with
// bounded retries and exponential backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/logger"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

const (
	requestTimeout = 30 * time.Second
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// RateLimitInfo carries the peer's rate-limit headers from a 429.
type RateLimitInfo struct {
	RetryAfterSeconds int
	Limit             int
	Remaining         int
	ResetSeconds      int
}

// Client delivers requests to peer agents.
type Client struct {
	http    *http.Client
	agentID string
}

// New builds a client that identifies itself as agentID.
func New(agentID string) *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		agentID: agentID,
	}
}

// SendMessage POSTs a wire message to the peer's /swarm/message
// endpoint, retrying transient failures.
func (c *Client) SendMessage(ctx context.Context, endpoint string, msg *wire.Message) error {
	body, err := msg.Encode()
	if err != nil {
		return errdefs.Wrap(errdefs.KindFormat, err, "message encoding failed")
	}
	_, err = c.postJSON(ctx, strings.TrimRight(endpoint, "/")+"/swarm/message", body)
	return err
}

// JoinResponse is the peer's answer to a join request.
type JoinResponse struct {
	Status    string          `json:"status"`
	SwarmID   string          `json:"swarm_id"`
	SwarmName string          `json:"swarm_name,omitempty"`
	Members   json.RawMessage `json:"members,omitempty"`
	Message   string          `json:"message,omitempty"`
	Pending   bool            `json:"-"`
}

// Join POSTs a join request carrying the invite token to the inviter's
// /swarm/join endpoint.
func (c *Client) Join(ctx context.Context, endpoint string, payload any) (*JoinResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindFormat, err, "join payload encoding failed")
	}
	resp, err := c.postJSON(ctx, strings.TrimRight(endpoint, "/")+"/swarm/join", body)
	if err != nil {
		return nil, err
	}
	var jr JoinResponse
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &jr); err != nil {
			return nil, errdefs.Wrap(errdefs.KindFormat, err, "join response decoding failed")
		}
	}
	jr.Pending = resp.status == http.StatusAccepted
	return &jr, nil
}

// Wake POSTs a wake trigger to the peer's wake endpoint with a short
// timeout and no retries. Wake is best-effort; the message is already
// persisted.
func (c *Client) Wake(ctx context.Context, endpoint string, payload any, timeout time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errdefs.Wrap(errdefs.KindFormat, err, "wake payload encoding failed")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, err, "wake request failed")
	}
	c.setHeaders(req)

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return errdefs.Wrap(errdefs.KindWakeEndpoint, err, "wake delivery failed")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return errdefs.New(errdefs.KindWakeEndpoint, "wake endpoint returned %d", resp.StatusCode)
	}
	return nil
}

type response struct {
	status int
	body   []byte
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", c.agentID)
	req.Header.Set("X-Swarm-Protocol", wire.ProtocolVersion)
}

// postJSON delivers a JSON body with up to maxRetries retries on
// transient failures (network errors, 408, 429, 5xx). Backoff is
// min(base * 2^attempt, 30s) with 25% jitter.
func (c *Client) postJSON(ctx context.Context, url string, body []byte) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt - 1)
			logger.DebugCF("transport", "retrying request", map[string]any{
				"url": url, "attempt": attempt, "wait": wait.String(),
			})
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, errdefs.Wrap(errdefs.KindTransport, ctx.Err(), "request cancelled")
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindTransport, err, "request construction failed")
		}
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = errdefs.Wrap(errdefs.KindTransport, err, "request to %s failed", url)
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return &response{status: resp.StatusCode, body: respBody}, nil
		case resp.StatusCode == http.StatusTooManyRequests:
			info := parseRateLimit(resp.Header)
			lastErr = errdefs.New(errdefs.KindRateLimited,
				"peer rate limited the request (retry after %ds)", info.RetryAfterSeconds)
		case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
			lastErr = errdefs.New(errdefs.KindTransport, "peer returned %d: %s",
				resp.StatusCode, truncate(respBody, 200))
		default:
			return nil, peerError(resp.StatusCode, respBody)
		}
	}
	return nil, lastErr
}

// peerError maps a non-retryable peer status to an error kind.
func peerError(status int, body []byte) error {
	msg := truncate(body, 200)
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errdefs.New(errdefs.KindSignature, "peer rejected request (%d): %s", status, msg)
	case http.StatusNotFound:
		return errdefs.New(errdefs.KindSwarmNotFound, "peer returned 404: %s", msg)
	default:
		return errdefs.New(errdefs.KindTransport, "peer returned %d: %s", status, msg)
	}
}

func parseRateLimit(h http.Header) RateLimitInfo {
	var info RateLimitInfo
	info.RetryAfterSeconds, _ = strconv.Atoi(h.Get("Retry-After"))
	info.Limit, _ = strconv.Atoi(h.Get("X-RateLimit-Limit"))
	info.Remaining, _ = strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	info.ResetSeconds, _ = strconv.Atoi(h.Get("X-RateLimit-Reset"))
	return info
}

// backoff returns min(base * 2^n, max) with 25% jitter.
func backoff(n int) time.Duration {
	d := baseBackoff << n
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2+1)) - d/4
	return d + jitter
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
