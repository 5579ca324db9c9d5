// Package token issues and verifies swarm invite tokens: compact signed
// JWTs (EdDSA) wrapped in a swarm:// URL. The URL host is informational;
// the authoritative content is the signed payload.
package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// InviteClaims is the signed payload of an invite token.
type InviteClaims struct {
	SwarmID   string `json:"swarm_id"`
	Master    string `json:"master"`
	Endpoint  string `json:"endpoint"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt string `json:"expires_at,omitempty"`
	MaxUses   int    `json:"max_uses,omitempty"`
}

// jwt.Claims plumbing. Expiry is enforced by Verify against the
// expires_at claim, not by the library's numeric exp handling.
func (c InviteClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c InviteClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}
func (c InviteClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c InviteClaims) GetIssuer() (string, error)              { return "", nil }
func (c InviteClaims) GetSubject() (string, error)             { return "", nil }
func (c InviteClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// MakeInvite signs an invite token and returns the swarm:// URL form:
// swarm://<swarm_id>@<host>?token=<header>.<payload>.<signature>.
func MakeInvite(priv ed25519.PrivateKey, swarmID, masterID, endpoint string, expiresAt *time.Time, maxUses int) (string, error) {
	claims := InviteClaims{
		SwarmID:  swarmID,
		Master:   masterID,
		Endpoint: endpoint,
		IssuedAt: time.Now().Unix(),
	}
	if expiresAt != nil {
		claims.ExpiresAt = expiresAt.UTC().Format(crypto.WireTimeFormat)
	}
	if maxUses > 0 {
		claims.MaxUses = maxUses
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindFormat, err, "invite token signing failed")
	}

	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("swarm://%s@%s?token=%s", swarmID, host, signed), nil
}

// VerifyInvite parses and verifies a compact invite token against the
// master's public key. expectedSwarmID, when non-empty, must match the
// swarm_id claim.
//
// Failure kinds: signature (bad signature or key), expired (expires_at
// in the past), format (anything structurally wrong).
func VerifyInvite(raw string, pub ed25519.PublicKey, expectedSwarmID string) (*InviteClaims, error) {
	claims := &InviteClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
			return nil, errdefs.Wrap(errdefs.KindSignature, err, "invite token signature verification failed")
		}
		return nil, errdefs.Wrap(errdefs.KindFormat, err, "malformed invite token")
	}

	if claims.SwarmID == "" || claims.Master == "" || claims.Endpoint == "" || claims.IssuedAt == 0 {
		return nil, errdefs.New(errdefs.KindFormat, "invite token missing required claims")
	}

	if claims.ExpiresAt != "" {
		exp, err := parseWireTime(claims.ExpiresAt)
		if err != nil {
			return nil, errdefs.New(errdefs.KindFormat, "invalid expires_at %q", claims.ExpiresAt)
		}
		if time.Now().After(exp) {
			return nil, errdefs.New(errdefs.KindExpired, "invite token expired at %s", claims.ExpiresAt)
		}
	}

	if expectedSwarmID != "" && claims.SwarmID != expectedSwarmID {
		return nil, errdefs.New(errdefs.KindFormat,
			"token swarm_id %q does not match expected %q", claims.SwarmID, expectedSwarmID)
	}
	return claims, nil
}

// ExtractClaims reads the token payload without verifying the
// signature. Callers that trust the content must still run Verify; the
// join flow needs the swarm_id and master before verification can run.
func ExtractClaims(raw string) (*InviteClaims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, errdefs.New(errdefs.KindFormat, "invalid token structure: expected 3 parts, got %d", len(parts))
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindFormat, err, "cannot decode token payload")
	}
	var claims InviteClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errdefs.Wrap(errdefs.KindFormat, err, "cannot parse token payload")
	}
	if claims.SwarmID == "" {
		return nil, errdefs.New(errdefs.KindFormat, "token payload missing swarm_id claim")
	}
	return &claims, nil
}

// ExtractSwarmID reads the swarm_id claim without verifying the
// signature.
func ExtractSwarmID(raw string) (string, error) {
	claims, err := ExtractClaims(raw)
	if err != nil {
		return "", err
	}
	return claims.SwarmID, nil
}

// ParseInviteURL splits a swarm:// invite URL into its swarm_id and the
// embedded compact token, checking that the URL swarm_id matches the
// payload claim.
func ParseInviteURL(inviteURL string) (swarmID, compact string, err error) {
	const scheme = "swarm://"
	if !strings.HasPrefix(inviteURL, scheme) {
		return "", "", errdefs.New(errdefs.KindFormat, "invalid invite URL scheme")
	}
	rest := inviteURL[len(scheme):]
	at := strings.Index(rest, "@")
	q := strings.Index(rest, "?")
	if at < 0 || q < at {
		return "", "", errdefs.New(errdefs.KindFormat, "invalid invite URL structure")
	}
	swarmID = rest[:at]

	values, err := url.ParseQuery(rest[q+1:])
	if err != nil || values.Get("token") == "" {
		return "", "", errdefs.New(errdefs.KindFormat, "invite URL missing token parameter")
	}
	compact = values.Get("token")

	claimID, err := ExtractSwarmID(compact)
	if err != nil {
		return "", "", err
	}
	if claimID != swarmID {
		return "", "", errdefs.New(errdefs.KindFormat, "invite URL swarm_id does not match token payload")
	}
	return swarmID, compact, nil
}

func parseWireTime(s string) (time.Time, error) {
	if t, err := time.Parse(crypto.WireTimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
