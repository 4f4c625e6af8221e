// Package gossip implements the peer-to-peer message dispatch layer:
// ANNOUNCE/RANGE_REQUEST/RANGE_RESPONSE carry log-store reconciliation,
// PROPOSE/VOTE/COMMIT carry consensus rounds. Every message passes a
// duplicate-suppression check; consensus messages are additionally
// forwarded to a bounded fanout of peers with a decreasing TTL, so the
// same message never loops the network indefinitely.
package gossip

import (
	"encoding/binary"

	"ocpoker/internal/entry"
	"ocpoker/internal/ocrypto"
)

// MessageType tags a gossip message's routing behavior.
type MessageType string

const (
	TypeAnnounce      MessageType = "ANNOUNCE"
	TypeRangeRequest  MessageType = "RANGE_REQUEST"
	TypeRangeResponse MessageType = "RANGE_RESPONSE"
	TypePropose       MessageType = "PROPOSE"
	TypeVote          MessageType = "VOTE"
	TypeCommit        MessageType = "COMMIT"

	// TypeNoise is cover traffic: a random payload with a short TTL,
	// discarded on receipt. It exists only to flatten traffic analysis.
	TypeNoise MessageType = "NOISE"
)

// Message is the envelope every gossip wire message shares: a sender, a
// duplicate-suppression id, a hop-to-live counter, and a typed payload.
type Message struct {
	Type      MessageType
	Sender    ocrypto.Hash256
	MessageID ocrypto.Hash256
	TTL       int
	Timestamp int64
	Payload   []byte // JSON-encoded, per Type
}

// AnnouncePayload advertises this node's latest known sequence per origin,
// letting a peer detect it is behind and issue a RANGE_REQUEST.
type AnnouncePayload struct {
	Origins []OriginSequence `json:"origins"`
}

type OriginSequence struct {
	Origin         ocrypto.Hash256 `json:"origin"`
	LatestSequence uint64          `json:"latestSequence"`
	MerkleRoot     ocrypto.Hash256 `json:"merkleRoot"`
}

type RangeRequestPayload struct {
	Origin ocrypto.Hash256 `json:"origin"`
	From   uint64          `json:"from"`
	To     uint64          `json:"to"`
}

type RangeResponsePayload struct {
	Origin  ocrypto.Hash256 `json:"origin"`
	Entries []entry.Entry   `json:"entries"`
}

// ProposePayload, VotePayload, and CommitPayload are defined in
// consensus.go's companion package boundary; gossip only forwards their
// already-encoded bytes and does not interpret them.

// computeMessageID mirrors entry.MessageID's construction so gossip's
// duplicate suppression uses the identical hash for the same logical
// message regardless of which node computes it.
func computeMessageID(kind MessageType, payload []byte, timestamp int64, sender ocrypto.Hash256) ocrypto.Hash256 {
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	return ocrypto.Hash([]byte(kind), payload, ts[:], sender[:])
}

// NewMessage constructs a Message with its id computed and TTL set.
func NewMessage(typ MessageType, sender ocrypto.Hash256, timestamp int64, ttl int, payload []byte) Message {
	return Message{
		Type:      typ,
		Sender:    sender,
		MessageID: computeMessageID(typ, payload, timestamp, sender),
		TTL:       ttl,
		Timestamp: timestamp,
		Payload:   payload,
	}
}
