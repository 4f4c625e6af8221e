package replay

import (
	"encoding/json"
	"sort"

	"ocpoker/internal/ocrypto"
)

// SeatSnapshot is the read-only export of one seat.
type SeatSnapshot struct {
	Seat        uint8           `json:"seat"`
	PlayerID    ocrypto.Hash256 `json:"playerId"`
	DisplayName string          `json:"displayName"`
	Stack       uint64          `json:"stack"`
	SittingOut  bool            `json:"sittingOut,omitempty"`

	// Per-hand fields; zero-valued between hands.
	StreetBet uint64 `json:"streetBet,omitempty"`
	Committed uint64 `json:"committed,omitempty"`
	Folded    bool   `json:"folded,omitempty"`
	AllIn     bool   `json:"allIn,omitempty"`
}

// PotSnapshot is one side pot in a snapshot: the amount and the seats
// eligible to win it.
type PotSnapshot struct {
	Amount        uint64  `json:"amount"`
	EligibleSeats []uint8 `json:"eligibleSeats"`
}

// HandSnapshot is the read-only export of the hand in progress. Pot is
// the flat total across all committed chips; Pots carries the tiered
// side-pot structure with per-pot eligibility.
type HandSnapshot struct {
	HandNumber   uint64          `json:"handNumber"`
	DealerButton uint8           `json:"dealerButton"`
	Round        string          `json:"round"`
	Board        []string        `json:"board,omitempty"`
	CurrentBet   uint64          `json:"currentBet"`
	Pot          uint64          `json:"pot"`
	Pots         []PotSnapshot   `json:"pots,omitempty"`
	DeckSeed     ocrypto.Hash256 `json:"deckSeed"`
}

// Snapshot is a JSON-serializable, deterministic export of a table's
// replayed state: maps normalized into seat-ordered slices so two nodes
// holding identical state produce identical bytes.
type Snapshot struct {
	TableID    uint64         `json:"tableId"`
	Name       string         `json:"name,omitempty"`
	Variant    string         `json:"variant,omitempty"`
	MaxPlayers uint8          `json:"maxPlayers,omitempty"`
	SmallBlind uint64         `json:"smallBlind,omitempty"`
	BigBlind   uint64         `json:"bigBlind,omitempty"`
	Seats      []SeatSnapshot `json:"seats"`
	Hand       *HandSnapshot  `json:"hand,omitempty"`
}

// Snapshot exports the table's current state.
func (t *Table) Snapshot() Snapshot {
	snap := Snapshot{
		TableID:    t.TableID,
		Name:       t.Name,
		Variant:    t.Variant,
		MaxPlayers: t.MaxPlayers,
		SmallBlind: t.SmallBlind,
		BigBlind:   t.BigBlind,
	}

	indices := make([]uint8, 0, len(t.Seats))
	for i := range t.Seats {
		indices = append(indices, i)
	}
	sort.Slice(indices, func(a, b int) bool { return indices[a] < indices[b] })

	for _, i := range indices {
		s := t.Seats[i]
		ss := SeatSnapshot{
			Seat:        s.Index,
			PlayerID:    s.PlayerID,
			DisplayName: s.DisplayName,
			Stack:       s.Stack,
			SittingOut:  s.SittingOut,
		}
		if t.Hand != nil {
			if bs, ok := t.Hand.Betting[i]; ok {
				ss.StreetBet = bs.StreetBet
				ss.Committed = bs.Committed
				ss.Folded = bs.Folded
				ss.AllIn = bs.AllIn
			}
		}
		snap.Seats = append(snap.Seats, ss)
	}

	if h := t.Hand; h != nil {
		var pot uint64
		for _, bs := range h.Betting {
			pot += bs.Committed
		}
		pots := make([]PotSnapshot, 0, len(h.Pots))
		for _, p := range h.Pots {
			pots = append(pots, PotSnapshot{
				Amount:        p.Amount,
				EligibleSeats: append([]uint8(nil), p.EligibleSeats...),
			})
		}
		snap.Hand = &HandSnapshot{
			HandNumber:   h.HandNumber,
			DealerButton: h.DealerButton,
			Round:        h.Round,
			Board:        append([]string(nil), h.Board...),
			CurrentBet:   h.CurrentBet,
			Pot:          pot,
			Pots:         pots,
			DeckSeed:     h.DeckSeed,
		}
	}
	return snap
}

// Digest hashes the snapshot's canonical JSON encoding into a stable
// state digest two nodes can compare cheaply to confirm they replayed a
// table to the same point.
func (t *Table) Digest() (ocrypto.Hash256, error) {
	b, err := json.Marshal(t.Snapshot())
	if err != nil {
		return ocrypto.Hash256{}, err
	}
	return ocrypto.Hash(b), nil
}
