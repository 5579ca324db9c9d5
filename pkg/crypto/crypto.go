// Package crypto implements Ed25519 signing for the swarm protocol:
// keypair generation, raw 32-byte public key encoding, and the
// canonical message signing payload.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// WireTimeFormat is the millisecond-precision UTC timestamp format used
// on the wire and inside signing payloads.
const WireTimeFormat = "2006-01-02T15:04:05.000Z"

// GenerateKeypair returns a new Ed25519 keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.KindStorage, err, "keypair generation failed")
	}
	return pub, priv, nil
}

// PublicKeyToBase64 encodes the raw 32-byte public key as standard base64.
func PublicKeyToBase64(pub ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(pub)
}

// PublicKeyFromBase64 decodes a standard-base64 raw public key.
func PublicKeyFromBase64(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindSignature, err, "invalid public key encoding")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errdefs.New(errdefs.KindSignature, "invalid public key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// SigningPayload builds the canonical payload that message signatures
// cover: SHA-256 of message_id || timestamp || swarm_id || recipient ||
// type || content. Tampering with any of the six fields falsifies the
// signature.
func SigningPayload(messageID string, timestamp time.Time, swarmID, recipient, messageType, content string) []byte {
	ts := timestamp.UTC().Format(WireTimeFormat)
	sum := sha256.Sum256([]byte(messageID + ts + swarmID + recipient + messageType + content))
	return sum[:]
}

// Sign signs payload and returns the standard-base64 signature.
func Sign(priv ed25519.PrivateKey, payload []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, payload))
}

// Verify checks a base64 signature over payload. Malformed signatures
// verify as false, never as an error.
func Verify(pub ed25519.PublicKey, signatureB64 string, payload []byte) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// SignMessage signs the canonical payload for the six bound fields.
func SignMessage(priv ed25519.PrivateKey, messageID string, timestamp time.Time, swarmID, recipient, messageType, content string) string {
	return Sign(priv, SigningPayload(messageID, timestamp, swarmID, recipient, messageType, content))
}

// VerifyMessage verifies a message signature over the six bound fields.
func VerifyMessage(pub ed25519.PublicKey, signatureB64, messageID string, timestamp time.Time, swarmID, recipient, messageType, content string) bool {
	return Verify(pub, signatureB64, SigningPayload(messageID, timestamp, swarmID, recipient, messageType, content))
}
