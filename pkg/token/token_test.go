package token

import (
	"strings"
	"testing"
	"time"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

const testSwarmID = "b3e3d7a0-4a86-4f2e-9d2a-0f6a5c1b2d3e"

func TestMakeAndVerifyInvite(t *testing.T) {
	pub, priv, _ := crypto.GenerateKeypair()

	inviteURL, err := MakeInvite(priv, testSwarmID, "master-agent", "https://master.example.com", nil, 0)
	if err != nil {
		t.Fatalf("MakeInvite failed: %v", err)
	}
	if !strings.HasPrefix(inviteURL, "swarm://"+testSwarmID+"@") {
		t.Fatalf("unexpected URL shape: %s", inviteURL)
	}

	_, compact, err := ParseInviteURL(inviteURL)
	if err != nil {
		t.Fatalf("ParseInviteURL failed: %v", err)
	}
	claims, err := VerifyInvite(compact, pub, testSwarmID)
	if err != nil {
		t.Fatalf("VerifyInvite failed: %v", err)
	}
	if claims.SwarmID != testSwarmID || claims.Master != "master-agent" {
		t.Errorf("claims mismatch: %+v", claims)
	}
}

func TestVerifyInviteWrongKey(t *testing.T) {
	_, priv, _ := crypto.GenerateKeypair()
	otherPub, _, _ := crypto.GenerateKeypair()

	inviteURL, _ := MakeInvite(priv, testSwarmID, "master", "https://m.example.com", nil, 0)
	_, compact, _ := ParseInviteURL(inviteURL)

	_, err := VerifyInvite(compact, otherPub, testSwarmID)
	if !errdefs.IsKind(err, errdefs.KindSignature) {
		t.Fatalf("expected signature kind, got %v (kind %q)", err, errdefs.KindOf(err))
	}
}

func TestVerifyInviteExpired(t *testing.T) {
	pub, priv, _ := crypto.GenerateKeypair()

	past := time.Now().UTC().Add(-time.Hour)
	inviteURL, _ := MakeInvite(priv, testSwarmID, "master", "https://m.example.com", &past, 0)
	_, compact, _ := ParseInviteURL(inviteURL)

	_, err := VerifyInvite(compact, pub, testSwarmID)
	if !errdefs.IsKind(err, errdefs.KindExpired) {
		t.Fatalf("expected expired kind, got %v (kind %q)", err, errdefs.KindOf(err))
	}
}

func TestVerifyInviteSwarmMismatch(t *testing.T) {
	pub, priv, _ := crypto.GenerateKeypair()

	inviteURL, _ := MakeInvite(priv, testSwarmID, "master", "https://m.example.com", nil, 0)
	_, compact, _ := ParseInviteURL(inviteURL)

	_, err := VerifyInvite(compact, pub, "00000000-0000-0000-0000-000000000000")
	if !errdefs.IsKind(err, errdefs.KindFormat) {
		t.Fatalf("expected format kind, got %v (kind %q)", err, errdefs.KindOf(err))
	}
}

func TestVerifyInviteGarbage(t *testing.T) {
	pub, _, _ := crypto.GenerateKeypair()
	_, err := VerifyInvite("not.a.jwt", pub, testSwarmID)
	if !errdefs.IsKind(err, errdefs.KindFormat) && !errdefs.IsKind(err, errdefs.KindSignature) {
		t.Fatalf("garbage token should fail with format or signature kind, got %q", errdefs.KindOf(err))
	}
}

func TestExtractSwarmIDWithoutVerification(t *testing.T) {
	_, priv, _ := crypto.GenerateKeypair()
	inviteURL, _ := MakeInvite(priv, testSwarmID, "master", "https://m.example.com", nil, 0)
	_, compact, _ := ParseInviteURL(inviteURL)

	id, err := ExtractSwarmID(compact)
	if err != nil {
		t.Fatalf("ExtractSwarmID failed: %v", err)
	}
	if id != testSwarmID {
		t.Errorf("got %s, want %s", id, testSwarmID)
	}
}

func TestParseInviteURLRejectsMismatch(t *testing.T) {
	_, priv, _ := crypto.GenerateKeypair()
	inviteURL, _ := MakeInvite(priv, testSwarmID, "master", "https://m.example.com", nil, 0)

	// Swap the URL's swarm id so it disagrees with the token payload.
	tampered := strings.Replace(inviteURL, testSwarmID, "11111111-1111-1111-1111-111111111111", 1)
	if _, _, err := ParseInviteURL(tampered); err == nil {
		t.Fatal("swarm id mismatch between URL and token must fail")
	}
}
