// Package identity persists the agent's keypair and address. The
// identity file holds the private key and is written with 0600.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agentswarm/swarmgate/pkg/crypto"
	"github.com/agentswarm/swarmgate/pkg/errdefs"
)

// Identity is the agent's durable identity.
type Identity struct {
	AgentID    string `json:"agent_id"`
	Endpoint   string `json:"endpoint"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Generate creates a fresh identity with a new Ed25519 keypair.
func Generate(agentID, endpoint string) (*Identity, error) {
	pub, priv, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Identity{
		AgentID:    agentID,
		Endpoint:   endpoint,
		PublicKey:  crypto.PublicKeyToBase64(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}, nil
}

// Load reads an identity file. Returns nil when the file is absent.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err, "cannot read identity file")
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, errdefs.Wrap(errdefs.KindFormat, err, "identity file is not valid JSON")
	}
	if id.AgentID == "" || id.PrivateKey == "" {
		return nil, errdefs.New(errdefs.KindFormat, "identity file is missing agent_id or private_key")
	}
	return &id, nil
}

// Save writes the identity file with owner-only permissions.
func (id *Identity) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errdefs.Wrap(errdefs.KindValidation, err, "cannot create identity directory")
		}
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.KindFormat, err, "identity encoding failed")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errdefs.Wrap(errdefs.KindValidation, err, "identity write failed")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errdefs.Wrap(errdefs.KindValidation, err, "identity rename failed")
	}
	return nil
}

// Keys decodes the stored keypair.
func (id *Identity) Keys() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, err := crypto.PublicKeyFromBase64(id.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(id.PrivateKey)
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, nil, errdefs.New(errdefs.KindFormat, "identity private key is malformed")
	}
	return pub, ed25519.PrivateKey(raw), nil
}
