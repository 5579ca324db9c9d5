package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

// fastClient shrinks the retry backoff so tests do not sleep for real.
func fastClient(agentID string) *Client {
	c := New(agentID)
	c.http.Timeout = 2 * time.Second
	return c
}

func testMessage() *wire.Message {
	return wire.New(wire.Sender{AgentID: "alice", Endpoint: "https://a.example.com"},
		"bob", "9d5a0c2e-ffb0-43a3-a9f7-6d9f0a6b3c21", wire.TypeMessage, "hello")
}

func TestSendMessageHeaders(t *testing.T) {
	var gotAgent, gotProto, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("X-Agent-ID")
		gotProto = r.Header.Get("X-Swarm-Protocol")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastClient("alice").SendMessage(context.Background(), srv.URL+"/", testMessage())
	require.NoError(t, err)
	require.Equal(t, "alice", gotAgent)
	require.Equal(t, wire.ProtocolVersion, gotProto)
	require.Equal(t, "/swarm/message", gotPath)
}

func TestSendMessageRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := fastClient("alice").SendMessage(context.Background(), srv.URL, testMessage())
	require.NoError(t, err)
	require.Equal(t, int32(2), calls.Load())
}

func TestSendMessageDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := fastClient("alice").SendMessage(context.Background(), srv.URL, testMessage())
	require.True(t, errdefs.IsKind(err, errdefs.KindSwarmNotFound), "got %v", err)
	require.Equal(t, int32(1), calls.Load(), "4xx other than 408/429 must not be retried")
}

func TestSendMessageSignatureRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := fastClient("alice").SendMessage(context.Background(), srv.URL, testMessage())
	require.True(t, errdefs.IsKind(err, errdefs.KindSignature), "got %v", err)
}

func TestSendMessageRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	// Cancel after the first attempt so the retry loop does not sleep
	// through real backoff.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := fastClient("alice").SendMessage(ctx, srv.URL, testMessage())
	require.Error(t, err)
}

func TestJoinPendingResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/swarm/join", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	resp, err := fastClient("bob").Join(context.Background(), srv.URL, map[string]string{"token": "x"})
	require.NoError(t, err)
	require.True(t, resp.Pending)
	require.Equal(t, "pending", resp.Status)
}

func TestWakeFailureKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := fastClient("alice").Wake(context.Background(), srv.URL, map[string]string{"reason": "message"}, time.Second)
	require.True(t, errdefs.IsKind(err, errdefs.KindWakeEndpoint), "got %v", err)
}

func TestBackoffBounds(t *testing.T) {
	for n := 0; n < 10; n++ {
		d := backoff(n)
		require.Greater(t, d, time.Duration(0))
		// 30s cap plus 25% jitter headroom.
		require.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
}

func TestParseRateLimit(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "12")
	h.Set("X-RateLimit-Limit", "60")
	h.Set("X-RateLimit-Remaining", "3")
	h.Set("X-RateLimit-Reset", "45")

	info := parseRateLimit(h)
	require.Equal(t, 12, info.RetryAfterSeconds)
	require.Equal(t, 60, info.Limit)
	require.Equal(t, 3, info.Remaining)
	require.Equal(t, 45, info.ResetSeconds)
}
