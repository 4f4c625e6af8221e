// Package ocrypto collects the black-box cryptographic primitives the core
// treats as pluggable building blocks: signatures, hashing, authenticated
// symmetric encryption, and a CSPRNG. Other packages take the module's
// signature, hash and AEAD schemes from here; a few import standard
// primitives directly where they need one this package does not wrap
// (crypto/sha512 in mentalpoker, nacl/box and crypto/rand in transport,
// crypto/rand in the gossip mix pool).
package ocrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"
	"golang.org/x/crypto/nacl/secretbox"
)

// HashSize is the width of the collision-resistant hash used throughout the
// log, gossip, and mental-poker layers.
const HashSize = 32

// Hash256 is a 32-byte collision-resistant digest.
type Hash256 [HashSize]byte

// Bytes returns the digest as a byte slice.
func (h Hash256) Bytes() []byte { return h[:] }

func (h Hash256) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Hash computes SHA-256 over the concatenation of all chunks. Any
// collision-resistant 256-bit hash would serve equally well here; SHA-256
// is simply the concrete choice.
func Hash(chunks ...[]byte) Hash256 {
	h := sha256.New()
	for _, c := range chunks {
		h.Write(c)
	}
	var out Hash256
	copy(out[:], h.Sum(nil))
	return out
}

// PrivateKey is a node's signing key.
type PrivateKey struct {
	priv ed25519.PrivKey
}

// PublicKey is a node's verification key, also used to derive its node id.
type PublicKey struct {
	pub ed25519.PubKey
}

// GenerateKeypair produces a fresh ed25519 identity keypair using the
// package CSPRNG.
func GenerateKeypair() (PrivateKey, PublicKey, error) {
	priv := ed25519.GenPrivKey()
	pub, ok := priv.PubKey().(ed25519.PubKey)
	if !ok {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("ocrypto: unexpected pubkey type")
	}
	return PrivateKey{priv: priv}, PublicKey{pub: pub}, nil
}

// PrivateKeyFromSeed reconstructs a keypair deterministically from a 32-byte
// seed. Used by tests and by key-import flows; never used to derive a
// node's production identity from guessable input.
func PrivateKeyFromSeed(seed []byte) (PrivateKey, PublicKey, error) {
	if len(seed) != 32 {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("ocrypto: seed must be 32 bytes")
	}
	priv := ed25519.GenPrivKeyFromSecret(seed)
	pub, ok := priv.PubKey().(ed25519.PubKey)
	if !ok {
		return PrivateKey{}, PublicKey{}, fmt.Errorf("ocrypto: unexpected pubkey type")
	}
	return PrivateKey{priv: priv}, PublicKey{pub: pub}, nil
}

// Sign produces a signature over msg.
func (k PrivateKey) Sign(msg []byte) ([]byte, error) {
	return k.priv.Sign(msg)
}

// PublicKey returns the public half of the keypair.
func (k PrivateKey) PublicKey() PublicKey {
	pub, _ := k.priv.PubKey().(ed25519.PubKey)
	return PublicKey{pub: pub}
}

// Bytes returns the raw private key bytes. Callers must keep this secret.
func (k PrivateKey) Bytes() []byte { return k.priv.Bytes() }

// PrivateKeyFromBytes reloads a private key previously persisted with Bytes.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return PrivateKey{}, fmt.Errorf("ocrypto: bad private key length %d", len(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return PrivateKey{priv: ed25519.PrivKey(cp)}, nil
}

// Verify checks sig over msg against this public key.
func (k PublicKey) Verify(msg, sig []byte) bool {
	return k.pub.VerifySignature(msg, sig)
}

// Bytes returns the raw public key bytes.
func (k PublicKey) Bytes() []byte { return k.pub.Bytes() }

// PublicKeyFromBytes parses a 32-byte ed25519 public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != ed25519.PubKeySize {
		return PublicKey{}, fmt.Errorf("ocrypto: bad public key length %d", len(b))
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return PublicKey{pub: ed25519.PubKey(cp)}, nil
}

// NodeID derives a node's content-addressed identity from its public key:
// node_id := hash(public_key).
func NodeID(pub PublicKey) Hash256 {
	return Hash(pub.Bytes())
}

// RandBytes returns n cryptographically random bytes from the package
// CSPRNG.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("ocrypto: rand: %w", err)
	}
	return b, nil
}

// SymmetricKeySize is the width of a secretbox key.
const SymmetricKeySize = 32

// NonceSize is the width of a secretbox nonce.
const NonceSize = 24

// Seal authenticated-encrypts plaintext under key, generating a fresh
// random nonce and prepending it to the ciphertext. NaCl secretbox
// (XSalsa20-Poly1305) is the concrete IND-CCA2 AEAD scheme; any other
// would serve the same contract.
func Seal(key [SymmetricKeySize]byte, plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("ocrypto: nonce: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &key)
	return out, nil
}

// Open verifies and decrypts a blob produced by Seal.
func Open(key [SymmetricKeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("ocrypto: sealed blob too short")
	}
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])
	out, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("ocrypto: authentication failed")
	}
	return out, nil
}

// DeriveSymmetricKey folds an arbitrary-length secret (e.g. an ECDH shared
// point, or a public key used as a one-off wrapping key) down to a fixed
// 32-byte secretbox key via the package hash.
func DeriveSymmetricKey(domainSep string, secret []byte) [SymmetricKeySize]byte {
	return [SymmetricKeySize]byte(Hash([]byte(domainSep), secret))
}
