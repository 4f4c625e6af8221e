package entry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"ocpoker/internal/ocrypto"
)

// MaxPayloadBytes bounds a payload to at most 4 KiB.
const MaxPayloadBytes = 4096

// Boundary errors returned by decode and verification paths.
var (
	ErrMalformedPayload = errors.New("entry: malformed payload")
	ErrUnknownKind      = errors.New("entry: unknown kind")
	ErrPayloadTooLarge  = errors.New("entry: payload exceeds 4 KiB")
	ErrInvalidSignature = errors.New("entry: invalid signature")
)

// Entry is the immutable, signed log record appended by a node.
type Entry struct {
	Sequence     uint64          `json:"sequence"`
	Timestamp    int64           `json:"timestamp"` // milliseconds since epoch, advisory
	OriginNodeID ocrypto.Hash256 `json:"originNodeId"`
	Kind         Kind            `json:"kind"`
	TableID      uint64          `json:"tableId"` // 0 for global events
	Payload      []byte          `json:"payload"`
	Signature    []byte          `json:"signature"`
}

// SigningBytes returns the canonical byte encoding covering every field of
// Entry except Signature itself, i.e. what the signature authenticates.
// Each field is length-prefixed so the encoding cannot be ambiguous across
// concatenation boundaries, mirroring the framing discipline of
// mentalpoker.Transcript.
func (e Entry) SigningBytes() []byte {
	buf := make([]byte, 0, 8+8+32+4+len(e.Kind)+8+4+len(e.Payload))
	var tmp [8]byte

	binary.LittleEndian.PutUint64(tmp[:], e.Sequence)
	buf = append(buf, tmp[:]...)

	binary.LittleEndian.PutUint64(tmp[:], uint64(e.Timestamp))
	buf = append(buf, tmp[:]...)

	buf = append(buf, e.OriginNodeID[:]...)

	buf = appendLenPrefixed(buf, []byte(e.Kind))

	binary.LittleEndian.PutUint64(tmp[:], e.TableID)
	buf = append(buf, tmp[:]...)

	buf = appendLenPrefixed(buf, e.Payload)
	return buf
}

func appendLenPrefixed(buf, chunk []byte) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(chunk)))
	buf = append(buf, lb[:]...)
	buf = append(buf, chunk...)
	return buf
}

// Sign signs e's canonical bytes with priv and sets e.Signature.
func (e *Entry) Sign(priv ocrypto.PrivateKey) error {
	sig, err := priv.Sign(e.SigningBytes())
	if err != nil {
		return fmt.Errorf("entry: sign: %w", err)
	}
	e.Signature = sig
	return nil
}

// VerifySignature checks e.Signature against originPub. Callers supply the
// claimed origin's public key; verifying that the key actually belongs to
// e.OriginNodeID (hash(pub) == origin) is the log store's job
// (that check is the log store's job, since only it knows the mapping).
func (e Entry) VerifySignature(originPub ocrypto.PublicKey) bool {
	return originPub.Verify(e.SigningBytes(), e.Signature)
}

// EncodePayload marshals a typed payload value to its canonical byte
// encoding and enforces the 4 KiB bound.
func EncodePayload(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(b) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}

// NewPayloadValue returns a zero-valued pointer to the Go struct
// registered for kind, or nil if kind is unknown.
func NewPayloadValue(k Kind) any {
	switch k {
	case KindPlayerJoin:
		return &PlayerJoinPayload{}
	case KindPlayerLeave:
		return &PlayerLeavePayload{}
	case KindTableCreate:
		return &TableCreatePayload{}
	case KindHandStart:
		return &HandStartPayload{}
	case KindPlayerAction:
		return &PlayerActionPayload{}
	case KindCardsDealt:
		return &CardsDealtPayload{}
	case KindHandResult:
		return &HandResultPayload{}
	case KindChatMessage:
		return &ChatMessagePayload{}
	case KindChipTransfer:
		return &ChipTransferPayload{}
	case KindTournamentEvent:
		return &TournamentEventPayload{}
	default:
		return nil
	}
}

// DecodePayload decodes raw into the typed struct registered for kind.
// An unknown kind yields ErrUnknownKind. Entries of unknown kinds are
// still stored and relayed verbatim, since the log store and gossip never
// decode payloads; callers that only want to skip them check IsKnown
// before decoding.
func DecodePayload(k Kind, raw []byte) (any, error) {
	if len(raw) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	if !IsKnown(k) {
		return nil, ErrUnknownKind
	}
	v := NewPayloadValue(k)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}

// MessageID computes the gossip duplicate-suppression id for a message
// carrying this entry:
// message_id := hash(kind ‖ payload ‖ timestamp ‖ sender_node_id).
func MessageID(kind Kind, payload []byte, timestamp int64, sender ocrypto.Hash256) ocrypto.Hash256 {
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestamp))
	return ocrypto.Hash([]byte(kind), payload, ts[:], sender[:])
}
