// Package replay folds a table's entry log into deterministic table/hand/
// seat state: every node that replays the same filtered log in the same
// order reaches the identical state, with no further coordination.
package replay

import (
	"errors"
	"fmt"
	"sort"

	"ocpoker/internal/entry"
	"ocpoker/internal/mentalpoker"
	"ocpoker/internal/ocrypto"
)

var (
	ErrUnknownSeat        = errors.New("replay: unknown seat")
	ErrSeatOccupied       = errors.New("replay: seat already occupied")
	ErrActionOutOfTurn    = errors.New("replay: action number out of order")
	ErrInsufficientStack  = errors.New("replay: insufficient stack for action")
	ErrNoActiveHand       = errors.New("replay: no hand in progress")
	ErrIllegalAction      = errors.New("replay: illegal action for current betting state")
	ErrCommitmentMismatch = errors.New("replay: revealed cards do not open commitment")
)

// HandEvaluator ranks showdown hands. The replay engine neither implements
// nor calls one: Apply credits the winners a HAND_RESULT lists, so card-
// ranking logic, which has nothing to do with log replay, stays out of
// this package.
type HandEvaluator interface {
	// Best returns an opaque, totally-ordered strength score for the best
	// five-card hand obtainable from hole plus board. Higher is better.
	Best(hole, board []string) (score int64, description string)
}

// Seat is one occupied position at a table.
type Seat struct {
	Index       uint8
	PlayerID    ocrypto.Hash256
	DisplayName string
	Stack       uint64
	SittingOut  bool
}

// BettingState tracks the current hand's betting-round progress for one
// seat.
type BettingState struct {
	Committed   uint64 // total chips put in across the whole hand
	StreetBet   uint64 // chips put in during the current betting round
	Folded      bool
	AllIn       bool
	LastActionN uint64

	// Hole-card commitment from CARDS_DEALT, and the showdown outcome:
	// RevealedCards after a verified reveal, NonCompliant if the reveal
	// failed to open the commitment.
	HoleCommitment ocrypto.Hash256
	RevealedCards  []string
	NonCompliant   bool
}

// Pot is one side pot: an amount and the seats eligible to win it.
type Pot struct {
	Amount        uint64
	EligibleSeats []uint8
}

// Hand is the in-progress hand at a table; a HAND_RESULT clears it.
type Hand struct {
	HandNumber   uint64
	DealerButton uint8
	DeckSeed     ocrypto.Hash256
	Round        string // "preflop", "flop", "turn", "river", "showdown", "complete"
	Board        []string
	Betting      map[uint8]*BettingState
	NextAction   uint64
	CurrentBet   uint64
	MinRaise     uint64
	Pots         []Pot
}

// Table is the full replayed state of one table.
type Table struct {
	TableID    uint64
	Name       string
	Variant    string
	MaxPlayers uint8
	SmallBlind uint64
	BigBlind   uint64
	MinBuyIn   uint64
	MaxBuyIn   uint64

	Seats map[uint8]*Seat
	Hand  *Hand // nil between hands
}

// NewTable constructs an empty table shell; it is populated by replaying
// a TABLE_CREATE entry.
func NewTable(tableID uint64) *Table {
	return &Table{TableID: tableID, Seats: make(map[uint8]*Seat)}
}

// Apply folds one entry into the table's state, matching on its kind. It
// returns ErrUnknownKind for kinds the entry package does not know (the
// log layer preserves those verbatim), leaves state unchanged for known
// kinds that carry no table state, and returns any semantic violation as
// a typed error; callers choose whether a
// violation halts replay or is merely logged and skipped.
func (t *Table) Apply(e entry.Entry) error {
	payload, err := entry.DecodePayload(e.Kind, e.Payload)
	if err != nil {
		return err
	}
	switch p := payload.(type) {
	case *entry.TableCreatePayload:
		return t.applyTableCreate(p)
	case *entry.PlayerJoinPayload:
		return t.applyPlayerJoin(p)
	case *entry.PlayerLeavePayload:
		return t.applyPlayerLeave(p)
	case *entry.HandStartPayload:
		return t.applyHandStart(p)
	case *entry.PlayerActionPayload:
		return t.applyPlayerAction(p)
	case *entry.CardsDealtPayload:
		return t.applyCardsDealt(p)
	case *entry.HandResultPayload:
		return t.applyHandResult(p)
	default:
		// Chat, chip transfers, and tournament events carry no table
		// betting state; they pass through without mutation.
		return nil
	}
}

func (t *Table) applyTableCreate(p *entry.TableCreatePayload) error {
	t.Name = p.Name
	t.Variant = p.Variant
	t.MaxPlayers = p.MaxPlayers
	t.SmallBlind = p.SmallBlind
	t.BigBlind = p.BigBlind
	t.MinBuyIn = p.MinBuyIn
	t.MaxBuyIn = p.MaxBuyIn
	return nil
}

func (t *Table) applyPlayerJoin(p *entry.PlayerJoinPayload) error {
	if _, occupied := t.Seats[p.Seat]; occupied {
		return ErrSeatOccupied
	}
	t.Seats[p.Seat] = &Seat{
		Index:       p.Seat,
		PlayerID:    p.PlayerID,
		DisplayName: p.DisplayName,
		Stack:       p.BuyIn,
	}
	return nil
}

func (t *Table) applyPlayerLeave(p *entry.PlayerLeavePayload) error {
	seat, ok := t.Seats[p.Seat]
	if !ok || seat.PlayerID != p.PlayerID {
		return ErrUnknownSeat
	}
	delete(t.Seats, p.Seat)
	return nil
}

func (t *Table) applyHandStart(p *entry.HandStartPayload) error {
	betting := make(map[uint8]*BettingState, len(p.Seats))
	for _, hs := range p.Seats {
		seat, ok := t.Seats[hs.Seat]
		if !ok {
			return ErrUnknownSeat
		}
		seat.Stack = hs.Stack
		betting[hs.Seat] = &BettingState{}
	}
	t.Hand = &Hand{
		HandNumber:   p.HandNumber,
		DealerButton: p.DealerButton,
		DeckSeed:     p.DeckSeed,
		Round:        "preflop",
		Betting:      betting,
	}
	return nil
}

func (t *Table) applyCardsDealt(p *entry.CardsDealtPayload) error {
	if t.Hand == nil {
		return ErrNoActiveHand
	}
	if p.Round != t.Hand.Round {
		// A new street: street-local betting state resets, total
		// commitments carry forward.
		t.Hand.Round = p.Round
		t.Hand.CurrentBet = 0
		t.Hand.MinRaise = 0
		for _, bs := range t.Hand.Betting {
			bs.StreetBet = 0
		}
		t.Hand.Pots = t.Hand.ComputeSidePots()
	}
	if len(p.Board) > 0 {
		t.Hand.Board = p.Board
	}
	for _, pc := range p.PerPlayer {
		seat := t.seatForPlayer(pc.PlayerID)
		if seat == nil {
			continue
		}
		if bs, ok := t.Hand.Betting[seat.Index]; ok {
			bs.HoleCommitment = pc.Commitment
		}
	}
	return nil
}

func (t *Table) applyPlayerAction(p *entry.PlayerActionPayload) error {
	h := t.Hand
	if h == nil {
		return ErrNoActiveHand
	}
	if p.ActionNumber != h.NextAction {
		return ErrActionOutOfTurn
	}
	seat := t.seatForPlayer(p.PlayerID)
	if seat == nil {
		return ErrUnknownSeat
	}
	bs, ok := h.Betting[seat.Index]
	if !ok {
		return ErrUnknownSeat
	}
	if bs.Folded || bs.AllIn {
		return ErrIllegalAction
	}

	switch p.Action {
	case entry.ActionFold:
		bs.Folded = true
	case entry.ActionCheck:
		if h.CurrentBet != bs.StreetBet {
			return ErrIllegalAction
		}
	case entry.ActionCall:
		owed := h.CurrentBet - bs.StreetBet
		if owed > seat.Stack {
			return ErrInsufficientStack
		}
		t.commit(seat, bs, owed)
	case entry.ActionBet, entry.ActionRaise:
		if p.Amount <= h.CurrentBet {
			return ErrIllegalAction
		}
		delta := p.Amount - bs.StreetBet
		if delta > seat.Stack {
			return ErrInsufficientStack
		}
		t.commit(seat, bs, delta)
		h.MinRaise = p.Amount - h.CurrentBet
		h.CurrentBet = p.Amount
	case entry.ActionAllIn:
		delta := seat.Stack
		t.commit(seat, bs, delta)
		bs.AllIn = true
		if bs.StreetBet > h.CurrentBet {
			h.CurrentBet = bs.StreetBet
		}
	default:
		return fmt.Errorf("%w: %q", ErrIllegalAction, p.Action)
	}

	bs.LastActionN = p.ActionNumber
	h.NextAction++
	h.Pots = h.ComputeSidePots()
	return nil
}

func (t *Table) commit(seat *Seat, bs *BettingState, amount uint64) {
	seat.Stack -= amount
	bs.Committed += amount
	bs.StreetBet += amount
}

func (t *Table) applyHandResult(p *entry.HandResultPayload) error {
	if t.Hand == nil {
		return ErrNoActiveHand
	}
	noncompliant := make(map[ocrypto.Hash256]bool)
	for _, rp := range p.RevealProofs {
		if err := t.verifyReveal(rp); err != nil {
			noncompliant[rp.PlayerID] = true
		}
	}
	for _, w := range p.Winners {
		if noncompliant[w.PlayerID] {
			continue
		}
		if seat := t.seatForPlayer(w.PlayerID); seat != nil {
			seat.Stack += w.Amount
		}
	}
	t.Hand.Round = "complete"
	t.Hand = nil
	return nil
}

// verifyReveal checks a showdown reveal against the commitment published
// when the cards were dealt. A mismatch marks the seat non-compliant for
// the hand; a verified reveal records the plaintext cards on the seat.
func (t *Table) verifyReveal(rp entry.RevealProof) error {
	seat := t.seatForPlayer(rp.PlayerID)
	if seat == nil {
		return ErrUnknownSeat
	}
	bs, ok := t.Hand.Betting[seat.Index]
	if !ok {
		return ErrUnknownSeat
	}
	if bs.HoleCommitment == (ocrypto.Hash256{}) {
		// No commitment on record: nothing to verify against.
		bs.RevealedCards = append([]string(nil), rp.Cards...)
		return nil
	}
	cards := make([]mentalpoker.Card, 0, len(rp.Cards))
	for _, cs := range rp.Cards {
		c, ok := mentalpoker.CardFromString(cs)
		if !ok {
			bs.NonCompliant = true
			return ErrCommitmentMismatch
		}
		cards = append(cards, c)
	}
	if !mentalpoker.VerifyCommitment(bs.HoleCommitment, cards, rp.Blinding) {
		bs.NonCompliant = true
		return ErrCommitmentMismatch
	}
	bs.RevealedCards = append([]string(nil), rp.Cards...)
	return nil
}

func (t *Table) seatForPlayer(playerID ocrypto.Hash256) *Seat {
	for _, s := range t.Seats {
		if s.PlayerID == playerID {
			return s
		}
	}
	return nil
}

// ComputeSidePots builds the tiered side-pot structure for the current
// hand from each seat's total committed chips and whether it is still
// eligible to win (not folded). Pots are built tier by tier in ascending
// commitment order, then adjacent tiers with identical eligible-seat sets
// are merged into one pot.
func (h *Hand) ComputeSidePots() []Pot {
	type rem struct {
		seat     uint8
		amount   uint64
		eligible bool
	}

	seats := make([]uint8, 0, len(h.Betting))
	for seat := range h.Betting {
		seats = append(seats, seat)
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i] < seats[j] })

	remaining := make([]rem, 0, len(seats))
	for _, seat := range seats {
		bs := h.Betting[seat]
		if bs.Committed == 0 {
			continue
		}
		remaining = append(remaining, rem{seat: seat, amount: bs.Committed, eligible: !bs.Folded})
	}

	var tiers []Pot
	for len(remaining) > 0 {
		min := remaining[0].amount
		for _, r := range remaining[1:] {
			if r.amount < min {
				min = r.amount
			}
		}

		var eligibleSeats []uint8
		for _, r := range remaining {
			if r.eligible {
				eligibleSeats = append(eligibleSeats, r.seat)
			}
		}
		tiers = append(tiers, Pot{Amount: min * uint64(len(remaining)), EligibleSeats: eligibleSeats})

		next := remaining[:0]
		for _, r := range remaining {
			r.amount -= min
			if r.amount > 0 {
				next = append(next, r)
			}
		}
		remaining = next
	}

	var merged []Pot
	for _, p := range tiers {
		if len(merged) > 0 && sameSeats(merged[len(merged)-1].EligibleSeats, p.EligibleSeats) {
			merged[len(merged)-1].Amount += p.Amount
			continue
		}
		merged = append(merged, Pot{Amount: p.Amount, EligibleSeats: append([]uint8(nil), p.EligibleSeats...)})
	}
	return merged
}

func sameSeats(a, b []uint8) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
