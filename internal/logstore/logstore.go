// Package logstore implements the append-only, per-origin signed log:
// append_local, install_remote, range, latest_sequence, and the
// incremental Merkle root gossip uses for cheap reconciliation.
//
// Readers run concurrently; a writer holds exclusive access for
// append_local/install_remote. One store-wide RWMutex guards every
// origin's log.
package logstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ocpoker/internal/entry"
	"ocpoker/internal/ocrypto"
)

var (
	ErrStoreFull      = errors.New("logstore: store full")
	ErrSigningFailure = errors.New("logstore: signing failure")
	ErrBadSignature   = errors.New("logstore: bad signature")
	ErrOutOfOrder     = errors.New("logstore: out-of-order sequence")
	ErrDuplicate      = errors.New("logstore: duplicate entry")
	ErrUnknownOrigin  = errors.New("logstore: unknown origin public key")
)

// PublicKeyResolver looks up the ed25519 public key claimed to belong to
// origin. install_remote uses this to verify "signature against the
// claimed origin's public key"; it is typically backed by
// the peer table or a directory of previously-seen TABLE_CREATE/PLAYER_JOIN
// announcements.
type PublicKeyResolver func(origin ocrypto.Hash256) (ocrypto.PublicKey, bool)

// Observer is notified after any entry (local or remote) is installed in
// the in-memory store.
type Observer func(e entry.Entry)

type originLog struct {
	entries []entry.Entry   // index i holds sequence i+1
	root    ocrypto.Hash256 // rolling merkle root, zero value = empty
}

// Store is the per-node log store. One Store instance holds every origin's
// log this node has replicated, including its own.
type Store struct {
	mu sync.RWMutex

	byOrigin map[ocrypto.Hash256]*originLog

	resolvePub PublicKeyResolver
	observers  []Observer

	maxEntriesPerOrigin int // 0 = unbounded
}

// New constructs an empty Store. maxEntriesPerOrigin bounds each origin's
// log (0 disables the bound); resolvePub supplies public keys for
// install_remote's signature check.
func New(maxEntriesPerOrigin int, resolvePub PublicKeyResolver) *Store {
	return &Store{
		byOrigin:            make(map[ocrypto.Hash256]*originLog),
		resolvePub:          resolvePub,
		maxEntriesPerOrigin: maxEntriesPerOrigin,
	}
}

// Subscribe registers an observer invoked after every successful append.
func (s *Store) Subscribe(obs Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, obs)
}

func (s *Store) notify(e entry.Entry) {
	for _, obs := range s.observers {
		obs(e)
	}
}

func (s *Store) logFor(origin ocrypto.Hash256) *originLog {
	ol, ok := s.byOrigin[origin]
	if !ok {
		ol = &originLog{}
		s.byOrigin[origin] = ol
	}
	return ol
}

// rollMerkle extends the incremental hash chain:
// H(H(H(∅ ‖ e1) ‖ e2) ‖ e3)… in ascending sequence order.
func rollMerkle(prev ocrypto.Hash256, e entry.Entry) ocrypto.Hash256 {
	return ocrypto.Hash(prev[:], e.SigningBytes(), e.Signature)
}

// Signer abstracts whoever holds the local private key; *identity.Identity
// satisfies it without the store ever touching raw key material.
type Signer interface {
	NodeID() ocrypto.Hash256
	Sign(msg []byte) ([]byte, error)
}

// AppendLocal allocates the next sequence number for origin, timestamps,
// signs, and stores a new entry in memory (Save persists it), then
// notifies observers.
func (s *Store) AppendLocal(priv ocrypto.PrivateKey, origin ocrypto.Hash256, kind entry.Kind, tableID uint64, payload []byte) (entry.Entry, error) {
	return s.appendLocal(origin, kind, tableID, payload, func(msg []byte) ([]byte, error) {
		return priv.Sign(msg)
	})
}

// AppendSigned is AppendLocal for callers that hold a Signer rather than
// a raw private key.
func (s *Store) AppendSigned(signer Signer, kind entry.Kind, tableID uint64, payload []byte) (entry.Entry, error) {
	return s.appendLocal(signer.NodeID(), kind, tableID, payload, signer.Sign)
}

func (s *Store) appendLocal(origin ocrypto.Hash256, kind entry.Kind, tableID uint64, payload []byte, sign func([]byte) ([]byte, error)) (entry.Entry, error) {
	if len(payload) > entry.MaxPayloadBytes {
		return entry.Entry{}, entry.ErrPayloadTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ol := s.logFor(origin)
	if s.maxEntriesPerOrigin > 0 && len(ol.entries) >= s.maxEntriesPerOrigin {
		return entry.Entry{}, ErrStoreFull
	}

	e := entry.Entry{
		Sequence:     uint64(len(ol.entries)) + 1,
		Timestamp:    time.Now().UnixMilli(),
		OriginNodeID: origin,
		Kind:         kind,
		TableID:      tableID,
		Payload:      payload,
	}
	sig, err := sign(e.SigningBytes())
	if err != nil {
		return entry.Entry{}, fmt.Errorf("%w: %v", ErrSigningFailure, err)
	}
	e.Signature = sig

	ol.entries = append(ol.entries, e)
	ol.root = rollMerkle(ol.root, e)

	s.notify(e)
	return e, nil
}

// InstallRemote verifies and appends an entry received from a peer.
// Success requires: a valid signature under the claimed origin's
// registered public key, and sequence == stored_max_for_origin + 1.
func (s *Store) InstallRemote(e entry.Entry) error {
	if len(e.Payload) > entry.MaxPayloadBytes {
		return entry.ErrPayloadTooLarge
	}

	pub, ok := s.resolvePub(e.OriginNodeID)
	if !ok {
		return ErrUnknownOrigin
	}
	if !e.VerifySignature(pub) {
		return ErrBadSignature
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ol := s.logFor(e.OriginNodeID)
	want := uint64(len(ol.entries)) + 1
	switch {
	case e.Sequence >= 1 && e.Sequence <= uint64(len(ol.entries)):
		// Already installed at this sequence: treat as duplicate. A second,
		// differing entry at the same (origin, sequence) is rejected the
		// same way; the byzantine incident is the caller's to record.
		return ErrDuplicate
	case e.Sequence != want:
		return ErrOutOfOrder
	}
	if s.maxEntriesPerOrigin > 0 && len(ol.entries) >= s.maxEntriesPerOrigin {
		return ErrStoreFull
	}

	ol.entries = append(ol.entries, e)
	ol.root = rollMerkle(ol.root, e)

	s.notify(e)
	return nil
}

// Range returns the inclusive sequence range [from, to] for origin. An
// absent origin or out-of-range window yields an empty (not erroring)
// slice.
func (s *Store) Range(origin ocrypto.Hash256, from, to uint64) []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ol, ok := s.byOrigin[origin]
	if !ok || from == 0 || from > to {
		return nil
	}
	n := uint64(len(ol.entries))
	if from > n {
		return nil
	}
	if to > n {
		to = n
	}
	out := make([]entry.Entry, to-from+1)
	copy(out, ol.entries[from-1:to])
	return out
}

// LatestSequence returns the highest stored sequence for origin, or 0 if
// this node holds no entries for it.
func (s *Store) LatestSequence(origin ocrypto.Hash256) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ol, ok := s.byOrigin[origin]
	if !ok {
		return 0
	}
	return uint64(len(ol.entries))
}

// MerkleRoot returns origin's current rolling Merkle root.
func (s *Store) MerkleRoot(origin ocrypto.Hash256) ocrypto.Hash256 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ol, ok := s.byOrigin[origin]
	if !ok {
		return ocrypto.Hash256{}
	}
	return ol.root
}

// Origins returns every origin this node holds log entries for, sorted by
// node id for deterministic iteration (announcement building, tests).
func (s *Store) Origins() []ocrypto.Hash256 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ocrypto.Hash256, 0, len(s.byOrigin))
	for o := range s.byOrigin {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// EntriesForTable returns every entry across every held origin whose
// TableID matches tableID (or every global entry, if tableID == 0),
// ordered by (origin, sequence) for a stable but not cross-origin-total
// iteration order. Callers replay entries in this order; no step
// interleaves different origins' entries by timestamp.
func (s *Store) EntriesForTable(tableID uint64) []entry.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	origins := make([]ocrypto.Hash256, 0, len(s.byOrigin))
	for o := range s.byOrigin {
		origins = append(origins, o)
	}
	sort.Slice(origins, func(i, j int) bool { return string(origins[i][:]) < string(origins[j][:]) })

	var out []entry.Entry
	for _, o := range origins {
		for _, e := range s.byOrigin[o].entries {
			if e.TableID == tableID {
				out = append(out, e)
			}
		}
	}
	return out
}

// --- persistence ---

type persistedEntry = entry.Entry

type persistedFile struct {
	Origins map[string][]persistedEntry `json:"origins"` // hex node id -> entries
}

// Save writes every held origin's log to <home>/log.json.
func (s *Store) Save(home string) error {
	s.mu.RLock()
	pf := persistedFile{Origins: make(map[string][]persistedEntry, len(s.byOrigin))}
	for o, ol := range s.byOrigin {
		pf.Origins[o.String()] = append([]entry.Entry(nil), ol.entries...)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("logstore: mkdir %s: %w", home, err)
	}
	b, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("logstore: encode: %w", err)
	}
	path := filepath.Join(home, "log.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("logstore: write %s: %w", path, err)
	}
	return nil
}

// Load rebuilds a Store from <home>/log.json, recomputing each origin's
// rolling Merkle root by replaying its entries in order. A missing file
// yields an empty store, not an error.
func Load(home string, maxEntriesPerOrigin int, resolvePub PublicKeyResolver) (*Store, error) {
	s := New(maxEntriesPerOrigin, resolvePub)
	path := filepath.Join(home, "log.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("logstore: read %s: %w", path, err)
	}
	var pf persistedFile
	if err := json.Unmarshal(b, &pf); err != nil {
		return nil, fmt.Errorf("logstore: decode %s: %w", path, err)
	}
	for hexOrigin, entries := range pf.Origins {
		origin, err := hash256FromHex(hexOrigin)
		if err != nil {
			return nil, err
		}
		ol := &originLog{}
		for _, e := range entries {
			ol.entries = append(ol.entries, e)
			ol.root = rollMerkle(ol.root, e)
		}
		s.byOrigin[origin] = ol
	}
	return s, nil
}

func hash256FromHex(s string) (ocrypto.Hash256, error) {
	var out ocrypto.Hash256
	b := []byte(s)
	if len(b) != len(out)*2 {
		return out, fmt.Errorf("logstore: bad origin key length in persisted file")
	}
	for i := range out {
		hi, err := hexNibble(b[2*i])
		if err != nil {
			return out, err
		}
		lo, err := hexNibble(b[2*i+1])
		if err != nil {
			return out, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("logstore: invalid hex digit %q", c)
	}
}
