package crypto

import (
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}

	ts := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	sig := SignMessage(priv, "1c0e6a78-9f4e-4a30-b7a1-2f6a7a1f0c11", ts,
		"9d5a0c2e-ffb0-43a3-a9f7-6d9f0a6b3c21", "broadcast", "message", "hello")

	if !VerifyMessage(pub, sig, "1c0e6a78-9f4e-4a30-b7a1-2f6a7a1f0c11", ts,
		"9d5a0c2e-ffb0-43a3-a9f7-6d9f0a6b3c21", "broadcast", "message", "hello") {
		t.Fatal("signature should verify")
	}
}

func TestSignatureCoversEveryField(t *testing.T) {
	pub, priv, _ := GenerateKeypair()
	ts := time.Now().UTC()

	sig := SignMessage(priv, "msg-id", ts, "swarm-id", "recipient", "message", "content")

	cases := []struct {
		name string
		ok   bool
	}{
		{"unchanged", VerifyMessage(pub, sig, "msg-id", ts, "swarm-id", "recipient", "message", "content")},
		{"message_id", VerifyMessage(pub, sig, "other-id", ts, "swarm-id", "recipient", "message", "content")},
		{"timestamp", VerifyMessage(pub, sig, "msg-id", ts.Add(time.Millisecond), "swarm-id", "recipient", "message", "content")},
		{"swarm_id", VerifyMessage(pub, sig, "msg-id", ts, "other-swarm", "recipient", "message", "content")},
		{"recipient", VerifyMessage(pub, sig, "msg-id", ts, "swarm-id", "other", "message", "content")},
		{"type", VerifyMessage(pub, sig, "msg-id", ts, "swarm-id", "recipient", "system", "content")},
		{"content", VerifyMessage(pub, sig, "msg-id", ts, "swarm-id", "recipient", "message", "tampered")},
	}
	if !cases[0].ok {
		t.Fatal("unmodified payload should verify")
	}
	for _, c := range cases[1:] {
		if c.ok {
			t.Errorf("mutating %s should falsify the signature", c.name)
		}
	}
}

func TestSigningPayloadSubSecondPrecision(t *testing.T) {
	a := SigningPayload("id", time.Date(2026, 1, 1, 0, 0, 0, 100_000_000, time.UTC), "s", "r", "message", "c")
	b := SigningPayload("id", time.Date(2026, 1, 1, 0, 0, 0, 200_000_000, time.UTC), "s", "r", "message", "c")
	if string(a) == string(b) {
		t.Fatal("payload must include millisecond precision")
	}
}

func TestPublicKeyBase64RoundTrip(t *testing.T) {
	pub, _, _ := GenerateKeypair()
	decoded, err := PublicKeyFromBase64(PublicKeyToBase64(pub))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(decoded) != string(pub) {
		t.Fatal("round trip changed the key")
	}
}

func TestPublicKeyFromBase64Rejects(t *testing.T) {
	if _, err := PublicKeyFromBase64("not base64!!!"); err == nil {
		t.Error("invalid base64 should fail")
	}
	if _, err := PublicKeyFromBase64("c2hvcnQ="); err == nil {
		t.Error("wrong key length should fail")
	}
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	pub, _, _ := GenerateKeypair()
	if Verify(pub, "!!!not-base64!!!", []byte("payload")) {
		t.Fatal("non-base64 signature must not verify")
	}
}
