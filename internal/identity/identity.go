// Package identity implements per-node identity: an ed25519 keypair, a
// content-addressed node id, a display name, and a non-authoritative
// reputation hint.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ocpoker/internal/ocrypto"
)

// NodeID is the 32-byte hash of a node's public key.
type NodeID = ocrypto.Hash256

// Identity is a node's full local identity, including its private key.
// Only the local node holds its own Identity; peers only ever see a Public
// projection of it.
type Identity struct {
	mu sync.RWMutex

	priv ocrypto.PrivateKey
	pub  ocrypto.PublicKey
	id   NodeID

	displayName string
	createdAt   time.Time
	reputation  float64 // advisory, non-authoritative local hint only
}

// Public is the externally-shareable projection of an Identity.
type Public struct {
	NodeID      NodeID
	PublicKey   ocrypto.PublicKey
	DisplayName string
	CreatedAt   time.Time
}

// New generates a fresh identity with a random keypair.
func New(displayName string) (*Identity, error) {
	priv, pub, err := ocrypto.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return &Identity{
		priv:        priv,
		pub:         pub,
		id:          ocrypto.NodeID(pub),
		displayName: displayName,
		createdAt:   time.Now(),
		reputation:  0.5,
	}, nil
}

// persistedIdentity is the on-disk JSON representation written by Save.
type persistedIdentity struct {
	PrivateKey  []byte    `json:"privateKey"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Load reads an identity previously written by Save from <home>/identity.json.
// If the file does not exist, a fresh identity is generated and persisted:
// a node's first run always produces a usable identity without a separate
// init step.
func Load(home, fallbackDisplayName string) (*Identity, error) {
	path := filepath.Join(home, "identity.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			id, genErr := New(fallbackDisplayName)
			if genErr != nil {
				return nil, genErr
			}
			if saveErr := id.Save(home); saveErr != nil {
				return nil, saveErr
			}
			return id, nil
		}
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	var p persistedIdentity
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("identity: decode %s: %w", path, err)
	}
	priv, err := ocrypto.PrivateKeyFromBytes(p.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("identity: bad private key: %w", err)
	}
	pub := priv.PublicKey()
	return &Identity{
		priv:        priv,
		pub:         pub,
		id:          ocrypto.NodeID(pub),
		displayName: p.DisplayName,
		createdAt:   p.CreatedAt,
		reputation:  0.5,
	}, nil
}

// Save persists the identity (including its private key) to
// <home>/identity.json with owner-only permissions.
func (id *Identity) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("identity: mkdir %s: %w", home, err)
	}
	id.mu.RLock()
	p := persistedIdentity{
		PrivateKey:  id.priv.Bytes(),
		DisplayName: id.displayName,
		CreatedAt:   id.createdAt,
	}
	id.mu.RUnlock()
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: encode: %w", err)
	}
	path := filepath.Join(home, "identity.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("identity: write %s: %w", path, err)
	}
	return nil
}

// NodeID returns the node's content-addressed id.
func (id *Identity) NodeID() NodeID { return id.id }

// Sign signs msg with the node's private key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	return id.priv.Sign(msg)
}

// HandshakeSeed derives the secret seed for the node's static transport
// handshake keypair from its private key. The derivation is one-way, so
// the signing key itself never doubles as encryption key material.
func (id *Identity) HandshakeSeed() []byte {
	h := ocrypto.Hash([]byte("ocpoker/v1/handshake-seed"), id.priv.Bytes())
	return h.Bytes()
}

// Public returns the shareable projection of this identity.
func (id *Identity) Public() Public {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return Public{
		NodeID:      id.id,
		PublicKey:   id.pub,
		DisplayName: id.displayName,
		CreatedAt:   id.createdAt,
	}
}

// Reputation returns the current advisory reputation scalar.
func (id *Identity) Reputation() float64 {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.reputation
}

// AdjustReputation nudges the advisory reputation scalar by delta, clamped
// to [0, 1]. This is purely a local hint and carries no protocol weight.
func (id *Identity) AdjustReputation(delta float64) {
	id.mu.Lock()
	defer id.mu.Unlock()
	r := id.reputation + delta
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	id.reputation = r
}

// Verify checks that sig over msg is valid under pub. A free function
// (rather than a Public method) so gossip/log-store verification call
// sites read as "verify signature against claimed origin key."
func Verify(pub ocrypto.PublicKey, msg, sig []byte) bool {
	return pub.Verify(msg, sig)
}
