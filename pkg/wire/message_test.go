package wire

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

func validWire() map[string]any {
	return map[string]any{
		"protocol_version": "0.1.0",
		"message_id":       "1c0e6a78-9f4e-4a30-b7a1-2f6a7a1f0c11",
		"timestamp":        "2026-03-14T09:26:53.589Z",
		"sender": map[string]any{
			"agent_id": "alice",
			"endpoint": "https://alice.example.com",
		},
		"recipient": "bob",
		"swarm_id":  "9d5a0c2e-ffb0-43a3-a9f7-6d9f0a6b3c21",
		"type":      "message",
		"content":   "hello",
		"signature": "c2ln",
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestParseValidMessage(t *testing.T) {
	msg, err := Parse(mustJSON(t, validWire()))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("omitted priority should default to normal, got %q", msg.Priority)
	}
	want := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	if !msg.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msg.Timestamp, want)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"bad version", func(m map[string]any) { m["protocol_version"] = "v1" }},
		{"bad message_id", func(m map[string]any) { m["message_id"] = "not-a-uuid" }},
		{"bad swarm_id", func(m map[string]any) { m["swarm_id"] = "nope" }},
		{"http endpoint", func(m map[string]any) {
			m["sender"] = map[string]any{"agent_id": "a", "endpoint": "http://a.example.com"}
		}},
		{"missing sender id", func(m map[string]any) {
			m["sender"] = map[string]any{"agent_id": "", "endpoint": "https://a.example.com"}
		}},
		{"empty recipient", func(m map[string]any) { m["recipient"] = "" }},
		{"unknown type", func(m map[string]any) { m["type"] = "gossip" }},
		{"unknown priority", func(m map[string]any) { m["priority"] = "asap" }},
		{"bad timestamp", func(m map[string]any) { m["timestamp"] = "yesterday" }},
		{"bad in_reply_to", func(m map[string]any) { m["in_reply_to"] = "xyz" }},
		{"oversized content", func(m map[string]any) { m["content"] = strings.Repeat("x", MaxContentLength+1) }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			raw := validWire()
			c.mutate(raw)
			_, err := Parse(mustJSON(t, raw))
			if !errdefs.IsKind(err, errdefs.KindFormat) {
				t.Fatalf("expected format error, got %v (kind %q)", err, errdefs.KindOf(err))
			}
		})
	}
}

func TestParseContentAtLimit(t *testing.T) {
	raw := validWire()
	raw["content"] = strings.Repeat("x", MaxContentLength)
	if _, err := Parse(mustJSON(t, raw)); err != nil {
		t.Fatalf("content of exactly %d characters must parse: %v", MaxContentLength, err)
	}
}

func TestEncodeOmitsDefaults(t *testing.T) {
	msg, err := Parse(mustJSON(t, validWire()))
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"priority", "in_reply_to", "thread_id", "expires_at", "attachments", "references", "metadata"} {
		if _, present := out[key]; present {
			t.Errorf("default-valued %q should be omitted from the wire form", key)
		}
	}
}

func TestEncodeKeepsNonDefaultPriority(t *testing.T) {
	raw := validWire()
	raw["priority"] = "high"
	msg, err := Parse(mustJSON(t, raw))
	if err != nil {
		t.Fatal(err)
	}
	data, _ := msg.Encode()
	var out map[string]any
	json.Unmarshal(data, &out)
	if out["priority"] != "high" {
		t.Errorf("high priority must survive encoding, got %v", out["priority"])
	}
}

func TestEncodeParseRoundTripPreservesSigningPayload(t *testing.T) {
	msg := New(Sender{AgentID: "alice", Endpoint: "https://alice.example.com"},
		Broadcast, "9d5a0c2e-ffb0-43a3-a9f7-6d9f0a6b3c21", TypeMessage, "round trip")
	msg.Signature = "c2ln"

	data, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if string(parsed.SigningPayload()) != string(msg.SigningPayload()) {
		t.Fatal("signing payload changed across encode/parse")
	}
}

func TestWireTimeFormat(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_123_456, time.UTC)
	if got := FormatWireTime(ts); got != "2026-03-14T09:26:53.589Z" {
		t.Errorf("FormatWireTime = %q", got)
	}
}
