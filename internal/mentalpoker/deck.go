package mentalpoker

import (
	"encoding/binary"
	"sort"

	"ocpoker/internal/ocrypto"
)

// Card is a standard playing card, numbered 0..51: suit-major (each suit
// occupies 13 consecutive values, ranks 2 through ace).
type Card uint8

func (c Card) Rank() uint8 { return uint8(c%13) + 2 } // 2..14, 14 == ace
func (c Card) Suit() uint8 { return uint8(c / 13) }   // 0=clubs 1=diamonds 2=hearts 3=spades

// String renders a card the same way hand-history archives do: one rank
// character followed by one suit character, e.g. "Ah", "Tc", "2s".
func (c Card) String() string {
	r := c.Rank()
	var rch byte
	switch {
	case r == 14:
		rch = 'A'
	case r == 13:
		rch = 'K'
	case r == 12:
		rch = 'Q'
	case r == 11:
		rch = 'J'
	case r == 10:
		rch = 'T'
	default:
		rch = byte('0' + r)
	}
	var sch byte
	switch c.Suit() {
	case 0:
		sch = 'c'
	case 1:
		sch = 'd'
	case 2:
		sch = 'h'
	default:
		sch = 's'
	}
	return string([]byte{rch, sch})
}

// CardFromString inverts String, parsing a two-character rank+suit
// encoding like "Ah" or "Tc".
func CardFromString(s string) (Card, bool) {
	if len(s) != 2 {
		return 0, false
	}
	var rank uint8
	switch s[0] {
	case 'A':
		rank = 14
	case 'K':
		rank = 13
	case 'Q':
		rank = 12
	case 'J':
		rank = 11
	case 'T':
		rank = 10
	default:
		if s[0] < '2' || s[0] > '9' {
			return 0, false
		}
		rank = s[0] - '0'
	}
	var suit uint8
	switch s[1] {
	case 'c':
		suit = 0
	case 'd':
		suit = 1
	case 'h':
		suit = 2
	case 's':
		suit = 3
	default:
		return 0, false
	}
	return Card(uint8(suit)*13 + (rank - 2)), true
}

// DeckSeed derives the deterministic per-hand deck seed: every node
// computes the identical seed from public information, so no dealing
// authority needs to be trusted or negotiated.
// seed := hash(hand_number ‖ sorted(participant_node_ids))
func DeckSeed(handNumber uint64, participants []ocrypto.Hash256) ocrypto.Hash256 {
	sorted := append([]ocrypto.Hash256(nil), participants...)
	sort.Slice(sorted, func(i, j int) bool { return string(sorted[i][:]) < string(sorted[j][:]) })

	var hn [8]byte
	binary.LittleEndian.PutUint64(hn[:], handNumber)

	chunks := make([][]byte, 0, 1+len(sorted))
	chunks = append(chunks, hn[:])
	for _, p := range sorted {
		chunks = append(chunks, p[:])
	}
	return ocrypto.Hash(chunks...)
}

// DeterministicDeck produces the 52-card shuffle order for seed via a
// Fisher-Yates shuffle driven by a SHA-256 stream, identical on every node
// that computes the same seed.
func DeterministicDeck(seed ocrypto.Hash256) []Card {
	deck := make([]Card, 52)
	for i := range deck {
		deck[i] = Card(i)
	}
	var counter uint64
	for i := 51; i > 0; i-- {
		buf := make([]byte, len(seed)+8)
		copy(buf, seed[:])
		binary.LittleEndian.PutUint64(buf[len(seed):], counter)
		h := ocrypto.Hash(buf)
		counter++
		j := int(binary.LittleEndian.Uint64(h[:8]) % uint64(i+1))
		deck[i], deck[j] = deck[j], deck[i]
	}
	return deck
}

const cardPointDomain = "ocpoker/v1/card-plaintext"

// CardPoint maps a card to its fixed group-element plaintext encoding.
// Every node derives the same 52-element table independently via
// HashToPoint, so no setup ceremony is needed to agree on it.
func CardPoint(c Card) Point {
	return HashToPoint(cardPointDomain, []byte{byte(c)})
}

// CardFromPoint inverts CardPoint by table lookup: ristretto255 gives no
// efficient discrete log, but the plaintext space here is only 52 points,
// so brute-force comparison is cheap and exact.
func CardFromPoint(p Point) (Card, bool) {
	for i := 0; i < 52; i++ {
		if PointEq(CardPoint(Card(i)), p) {
			return Card(i), true
		}
	}
	return 0, false
}
