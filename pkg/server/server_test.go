package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmgate/pkg/bus"
	"github.com/agentswarm/swarmgate/pkg/config"
	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/store"
	"github.com/agentswarm/swarmgate/pkg/swarm"
	"github.com/agentswarm/swarmgate/pkg/token"
	"github.com/agentswarm/swarmgate/pkg/transport"
	"github.com/agentswarm/swarmgate/pkg/wake"
	"github.com/agentswarm/swarmgate/pkg/wire"
)

type fixture struct {
	srv      *Server
	mux      *http.ServeMux
	store    *store.Manager
	bus      *bus.MessageBus
	service  *swarm.Service
	identity swarm.Identity
	peerPriv []byte
	swarmID  string
}

// newFixture wires a server whose local agent is "me", with "alice" a
// fellow member whose keypair the test controls.
func newFixture(t *testing.T, limit, queueSize int, wakeSecret string) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pub, priv, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	id := swarm.Identity{
		AgentID: "me", Endpoint: "https://me.example.com",
		PublicKey: pub, PrivateKey: priv,
	}
	svc := swarm.NewService(st, transport.New("me"), id)

	membership, err := svc.CreateSwarm(context.Background(), "test swarm", store.SwarmSettings{})
	require.NoError(t, err)

	alicePub, alicePriv, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	require.NoError(t, st.Membership().AddMember(context.Background(), membership.SwarmID, store.SwarmMember{
		AgentID: "alice", Endpoint: "https://alice.example.com",
		PublicKey: crypto.PublicKeyToBase64(alicePub), JoinedAt: time.Now().UTC(),
	}))

	cfg := &config.Config{
		Agent: config.AgentConfig{
			AgentID: "me", Endpoint: "https://me.example.com",
			PublicKey:       crypto.PublicKeyToBase64(pub),
			ProtocolVersion: wire.ProtocolVersion,
			Capabilities:    []string{"message"},
		},
		MessagesPerMinute: limit,
		QueueMaxSize:      queueSize,
		WakeEndpoint:      config.WakeEndpointConfig{Secret: wakeSecret},
	}

	mb := bus.New(queueSize)
	var waker *wake.Coordinator
	if wakeSecret != "" {
		sessions := wake.NewSessionManager(filepath.Join(t.TempDir(), "session.json"))
		waker = wake.NewCoordinator(wake.NoopInvoker{}, sessions, st.Sessions(), 30)
	}
	srv := New(cfg, st, mb, svc, waker)

	return &fixture{
		srv: srv, mux: srv.routes(), store: st, bus: mb,
		service: svc, identity: id, peerPriv: alicePriv, swarmID: membership.SwarmID,
	}
}

// signedMessage builds a wire message from alice to me, signed with
// alice's key.
func (f *fixture) signedMessage(t *testing.T, content string) []byte {
	t.Helper()
	msg := wire.New(wire.Sender{AgentID: "alice", Endpoint: "https://alice.example.com"},
		"me", f.swarmID, wire.TypeMessage, content)
	msg.Signature = crypto.Sign(f.peerPriv, msg.SigningPayload())
	data, err := msg.Encode()
	require.NoError(t, err)
	return data
}

func (f *fixture) post(path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "203.0.113.7:4242"
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestMessageIngestion(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	rec := f.post("/swarm/message", f.signedMessage(t, "hello"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "queued", resp["status"])

	// Persisted and queued.
	counts, err := f.store.Inbox().Count(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, counts.Unread)
	require.Equal(t, 1, f.bus.Size())
}

func TestMessageDuplicateIsIdempotent(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	payload := f.signedMessage(t, "hello")

	require.Equal(t, http.StatusOK, f.post("/swarm/message", payload).Code)
	require.Equal(t, http.StatusOK, f.post("/swarm/message", payload).Code)

	counts, _ := f.store.Inbox().Count(context.Background(), "")
	require.Equal(t, 1, counts.Unread, "duplicate must not create a second row")
	require.Equal(t, 1, f.bus.Size(), "duplicate must not re-queue")
}

func TestMessageBadSignatureStillStored(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	msg := wire.New(wire.Sender{AgentID: "alice", Endpoint: "https://alice.example.com"},
		"me", f.swarmID, wire.TypeMessage, "hello")
	msg.Signature = crypto.Sign(f.identity.PrivateKey, msg.SigningPayload()) // wrong key
	data, _ := msg.Encode()

	// Verification is advisory at ingress; the message is kept.
	rec := f.post("/swarm/message", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	counts, _ := f.store.Inbox().Count(context.Background(), "")
	require.Equal(t, 1, counts.Unread)
}

func TestMessageUnknownSwarmStillStored(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	msg := wire.New(wire.Sender{AgentID: "alice", Endpoint: "https://alice.example.com"},
		"me", "99999999-9999-4999-8999-999999999999", wire.TypeMessage, "hello")
	msg.Signature = crypto.Sign(f.peerPriv, msg.SigningPayload())
	data, _ := msg.Encode()

	rec := f.post("/swarm/message", data)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	counts, _ := f.store.Inbox().Count(context.Background(), "99999999-9999-4999-8999-999999999999")
	require.Equal(t, 1, counts.Unread)
}

func TestMessageMalformed(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	rec := f.post("/swarm/message", []byte(`{"protocol_version":"nope"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_FORMAT", errorCode(t, rec))
}

func TestQueueFullStillPersists(t *testing.T) {
	f := newFixture(t, 100, 1, "")

	require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, "one")).Code)
	require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, "two")).Code)

	counts, _ := f.store.Inbox().Count(context.Background(), "")
	require.Equal(t, 2, counts.Unread, "both messages must be persisted")
	require.Equal(t, int64(1), f.bus.Dropped())
}

func TestRateLimit(t *testing.T) {
	limit := 5
	f := newFixture(t, limit, 100, "")

	for i := 0; i < limit; i++ {
		rec := f.post("/swarm/message", f.signedMessage(t, fmt.Sprintf("m%d", i)))
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i)
	}

	rec := f.post("/swarm/message", f.signedMessage(t, "over"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "RATE_LIMITED", errorCode(t, rec))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Another IP is not affected.
	req := httptest.NewRequest(http.MethodPost, "/swarm/message", bytes.NewReader(f.signedMessage(t, "other")))
	req.RemoteAddr = "198.51.100.1:1000"
	other := httptest.NewRecorder()
	f.mux.ServeHTTP(other, req)
	require.Equal(t, http.StatusOK, other.Code)
}

func TestJoinEndpoint(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	inviteURL, err := f.service.Invite(context.Background(), f.swarmID, nil, 0)
	require.NoError(t, err)
	_, compact, err := token.ParseInviteURL(inviteURL)
	require.NoError(t, err)

	body, _ := json.Marshal(swarm.JoinRequest{
		Token: compact, AgentID: "bob", Endpoint: "https://bob.example.com", PublicKey: "cGs=",
	})
	rec := f.post("/swarm/join", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Status    string              `json:"status"`
		SwarmID   string              `json:"swarm_id"`
		SwarmName string              `json:"swarm_name"`
		Members   []store.SwarmMember `json:"members"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "accepted", resp.Status)
	require.Equal(t, f.swarmID, resp.SwarmID)
	require.Equal(t, "test swarm", resp.SwarmName)
	joined := false
	for _, m := range resp.Members {
		if m.AgentID == "bob" {
			joined = true
		}
	}
	require.True(t, joined, "bob should be in the returned member list")
}

func TestJoinForgedToken(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	_, attackerPriv, _ := crypto.GenerateKeypair()
	forgedURL, _ := token.MakeInvite(attackerPriv, f.swarmID, "me", "https://me.example.com", nil, 0)
	_, forged, _ := token.ParseInviteURL(forgedURL)

	body, _ := json.Marshal(swarm.JoinRequest{
		Token: forged, AgentID: "mallory", Endpoint: "https://m.example.com", PublicKey: "cGs=",
	})
	rec := f.post("/swarm/join", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "INVALID_SIGNATURE", errorCode(t, rec))
}

func TestJoinExpiredToken(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	// Signed by the real master key, but past its expiry: same class as
	// a bad signature, not a malformed token.
	past := time.Now().Add(-time.Hour)
	expiredURL, err := token.MakeInvite(f.identity.PrivateKey, f.swarmID, "me", "https://me.example.com", &past, 0)
	require.NoError(t, err)
	_, compact, err := token.ParseInviteURL(expiredURL)
	require.NoError(t, err)

	body, _ := json.Marshal(swarm.JoinRequest{
		Token: compact, AgentID: "bob", Endpoint: "https://b.example.com", PublicKey: "cGs=",
	})
	rec := f.post("/swarm/join", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code, rec.Body.String())
	require.Equal(t, "INVALID_SIGNATURE", errorCode(t, rec))
}

func TestJoinMalformedToken(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	body, _ := json.Marshal(swarm.JoinRequest{
		Token: "garbage", AgentID: "bob", Endpoint: "https://b.example.com", PublicKey: "cGs=",
	})
	rec := f.post("/swarm/join", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "INVALID_TOKEN", errorCode(t, rec))
}

func TestHealthDegradedAtEightyPercent(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	var health struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(f.get("/swarm/health").Body.Bytes(), &health))
	require.Equal(t, "healthy", health.Status)

	// Fill to exactly 80% of capacity.
	for i := 0; i < 8; i++ {
		require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, fmt.Sprintf("m%d", i))).Code)
	}
	require.NoError(t, json.Unmarshal(f.get("/swarm/health").Body.Bytes(), &health))
	require.Equal(t, "degraded", health.Status)
}

func TestInfoEndpoint(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	rec := f.get("/swarm/info")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "me", info["agent_id"])
	require.Equal(t, wire.ProtocolVersion, info["protocol_version"])
}

func TestInboxEndpoints(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	ctx := context.Background()

	require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, "first")).Code)
	messages, err := f.store.Inbox().ListByStatus(ctx, "", store.StatusUnread, 10, 0)
	require.NoError(t, err)
	id := messages[0].MessageID

	// List carries previews, not full content fields.
	rec := f.get("/api/inbox?status=unread")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Messages []map[string]any `json:"messages"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	require.Contains(t, list.Messages[0], "content_preview")

	// Fetching the full message marks it read.
	rec = f.get("/api/inbox/" + id)
	require.Equal(t, http.StatusOK, rec.Code)
	msg, _ := f.store.Inbox().GetByID(ctx, id)
	require.Equal(t, store.StatusRead, msg.Status)

	// Counts reflect the transition.
	var counts store.Counts
	require.NoError(t, json.Unmarshal(f.get("/api/inbox/count").Body.Bytes(), &counts))
	require.Equal(t, 0, counts.Unread)
	require.Equal(t, 1, counts.Read)

	// Delete, then archive must 400.
	require.Equal(t, http.StatusOK, f.post("/api/inbox/"+id+"/delete", nil).Code)
	rec = f.post("/api/inbox/"+id+"/archive", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown id is a 404 with a message-scoped code.
	rec = f.get("/api/inbox/ghost")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "MESSAGE_NOT_FOUND", errorCode(t, rec))
}

func TestInboxBatchEndpoint(t *testing.T) {
	f := newFixture(t, 100, 10, "")

	require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, "a")).Code)
	require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, "b")).Code)
	messages, _ := f.store.Inbox().ListByStatus(context.Background(), "", store.StatusUnread, 10, 0)

	ids := []string{messages[0].MessageID, messages[1].MessageID, "ghost"}
	body, _ := json.Marshal(map[string]any{"action": "read", "message_ids": ids})
	rec := f.post("/api/inbox/batch", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Updated int `json:"updated"`
		Total   int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Updated)
	require.Equal(t, 3, resp.Total)
}

func TestOutboxEndpoints(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	ctx := context.Background()

	require.NoError(t, f.store.Outbox().Insert(ctx, &store.OutboxMessage{
		MessageID: "out-1", SwarmID: f.swarmID, RecipientID: "alice",
		Content: "sent one", SentAt: time.Now().UTC(),
	}))

	rec := f.get("/api/outbox")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)

	var counts store.OutboxCounts
	require.NoError(t, json.Unmarshal(f.get("/api/outbox/count").Body.Bytes(), &counts))
	require.Equal(t, 1, counts.Sent)
}

func TestWakeEndpointSecret(t *testing.T) {
	f := newFixture(t, 100, 10, "hunter2")

	// Wrong secret.
	req := httptest.NewRequest(http.MethodPost, "/api/wake", nil)
	req.Header.Set("X-Wake-Secret", "wrong")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Correct secret starts an invocation.
	req = httptest.NewRequest(http.MethodPost, "/api/wake", bytes.NewReader([]byte(`{"prompt":"go"}`)))
	req.Header.Set("X-Wake-Secret", "hunter2")
	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, 100, 10, "")
	require.Equal(t, http.StatusOK, f.post("/swarm/message", f.signedMessage(t, "hi")).Code)

	rec := f.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "swarm_messages_received_total")
}
