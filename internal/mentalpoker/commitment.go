package mentalpoker

import (
	"encoding/binary"
	"fmt"

	"ocpoker/internal/ocrypto"
)

// BlindingSize is the width of the random blinding factor mixed into a
// hole-card commitment so the commitment cannot be brute-forced from the
// 52-card plaintext space.
const BlindingSize = 32

// CommitCards computes a hiding, binding commitment to a set of hole
// cards: hash(card_1 ‖ ... ‖ card_n ‖ blinding).
func CommitCards(cards []Card, blinding []byte) ocrypto.Hash256 {
	payload := make([]byte, len(cards))
	for i, c := range cards {
		payload[i] = byte(c)
	}
	return ocrypto.Hash(payload, blinding)
}

// VerifyCommitment checks that cards and blinding open commitment.
func VerifyCommitment(commitment ocrypto.Hash256, cards []Card, blinding []byte) bool {
	return CommitCards(cards, blinding) == commitment
}

// SealCards AEAD-wraps a player's hole cards plus their blinding factor
// under a key only that player can derive, so the encrypted blob
// published to the log reveals nothing until the player (or, at
// showdown, everyone) decrypts it.
func SealCards(key [ocrypto.SymmetricKeySize]byte, cards []Card, blinding []byte) ([]byte, error) {
	payload := make([]byte, 0, len(cards)+len(blinding))
	for _, c := range cards {
		payload = append(payload, byte(c))
	}
	payload = append(payload, blinding...)
	sealed, err := ocrypto.Seal(key, payload)
	if err != nil {
		return nil, fmt.Errorf("mentalpoker: seal hole cards: %w", err)
	}
	return sealed, nil
}

// OpenCards reverses SealCards, returning the revealed cards and the
// blinding factor used in the original commitment.
func OpenCards(key [ocrypto.SymmetricKeySize]byte, sealed []byte, numCards int) ([]Card, []byte, error) {
	payload, err := ocrypto.Open(key, sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("mentalpoker: open hole cards: %w", err)
	}
	if len(payload) != numCards+BlindingSize {
		return nil, nil, fmt.Errorf("mentalpoker: unexpected hole-card payload length %d", len(payload))
	}
	cards := make([]Card, numCards)
	for i := 0; i < numCards; i++ {
		cards[i] = Card(payload[i])
	}
	blinding := append([]byte(nil), payload[numCards:]...)
	return cards, blinding, nil
}

// DealKey derives the per-player symmetric key used to seal that player's
// hole cards for a specific hand, from a shared secret (the ECDH output
// of the dealing round's ephemeral key and the player's public key) and
// the hand number, so a key never repeats across hands even if the
// shared secret were ever reused.
func DealKey(sharedSecret []byte, handNumber uint64) [ocrypto.SymmetricKeySize]byte {
	var hn [8]byte
	binary.LittleEndian.PutUint64(hn[:], handNumber)
	return ocrypto.DeriveSymmetricKey("ocpoker/v1/deal-key", append(append([]byte(nil), sharedSecret...), hn[:]...))
}
