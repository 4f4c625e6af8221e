package archive

import (
	"fmt"
	"sort"
	"strings"

	"ocpoker/internal/entry"
	"ocpoker/internal/ocrypto"
)

// HandMeta carries the table-level context a single hand's entry window
// does not contain: the variant tag, the blind/ante structure, and the
// event metadata of the record.
type HandMeta struct {
	Variant    string
	SmallBlind uint64
	BigBlind   uint64
	Ante       uint64
	Event      string
	Day        int
	Month      int
	Year       int
}

// unknownHoleCards is the placeholder for hole cards that were dealt but
// never revealed: two unknown cards, one "??" per card.
const unknownHoleCards = "????"

// BuildHand derives a canonical PHH record from the entries of one
// completed hand: every entry from HAND_START through HAND_RESULT,
// inclusive, for a single table and hand number. Hole-card deals are
// reconstructed from the showdown reveal proofs; a player whose cards
// were dealt but never revealed archives as "????".
func BuildHand(entries []entry.Entry, meta HandMeta) (Hand, error) {
	var h Hand
	h.Variant = meta.Variant
	h.Event = meta.Event
	h.Day, h.Month, h.Year = meta.Day, meta.Month, meta.Year
	h.MinBet = int64(meta.BigBlind)

	// Reveals only appear in the closing HAND_RESULT, but the deal
	// actions they name come first in the action list, so collect them
	// up front.
	revealed := make(map[ocrypto.Hash256][]string)
	for _, e := range entries {
		if e.Kind != entry.KindHandResult {
			continue
		}
		payload, err := entry.DecodePayload(e.Kind, e.Payload)
		if err != nil {
			continue
		}
		for _, rp := range payload.(*entry.HandResultPayload).RevealProofs {
			revealed[rp.PlayerID] = rp.Cards
		}
	}

	playerNum := make(map[ocrypto.Hash256]int) // player id -> 1-based seat number
	var started bool

	for _, e := range entries {
		payload, err := entry.DecodePayload(e.Kind, e.Payload)
		if err != nil {
			continue // unknown/malformed entries are not archived
		}
		switch p := payload.(type) {
		case *entry.HandStartPayload:
			started = true
			seats := append([]entry.HandStartSeat(nil), p.Seats...)
			sort.Slice(seats, func(i, j int) bool { return seats[i].Seat < seats[j].Seat })
			for i, s := range seats {
				playerNum[s.PlayerID] = i + 1
				h.Players = append(h.Players, s.PlayerID.String())
				h.StartingStacks = append(h.StartingStacks, int64(s.Stack))
				h.Antes = append(h.Antes, int64(meta.Ante))
				switch i {
				case 0:
					h.BlindsOrStraddles = append(h.BlindsOrStraddles, int64(meta.SmallBlind))
				case 1:
					h.BlindsOrStraddles = append(h.BlindsOrStraddles, int64(meta.BigBlind))
				default:
					h.BlindsOrStraddles = append(h.BlindsOrStraddles, 0)
				}
			}
		case *entry.CardsDealtPayload:
			perPlayer := append([]entry.DealtPlayerCards(nil), p.PerPlayer...)
			sort.Slice(perPlayer, func(i, j int) bool {
				return playerNum[perPlayer[i].PlayerID] < playerNum[perPlayer[j].PlayerID]
			})
			for _, pc := range perPlayer {
				n, ok := playerNum[pc.PlayerID]
				if !ok {
					return Hand{}, fmt.Errorf("archive: dealt cards for unknown player")
				}
				cards := unknownHoleCards
				if rv, ok := revealed[pc.PlayerID]; ok {
					cards = concatCards(rv)
				}
				h.Actions = append(h.Actions, fmt.Sprintf("d dh p%d %s", n, cards))
			}
			if len(p.Board) > 0 {
				h.Actions = append(h.Actions, "d db "+concatCards(p.Board))
			}
		case *entry.PlayerActionPayload:
			n, ok := playerNum[p.PlayerID]
			if !ok {
				return Hand{}, fmt.Errorf("archive: action from unknown player")
			}
			h.Actions = append(h.Actions, renderAction(n, p))
		case *entry.HandResultPayload:
			if !started {
				return Hand{}, fmt.Errorf("archive: HAND_RESULT without HAND_START")
			}
			for _, w := range p.Winners {
				n, ok := playerNum[w.PlayerID]
				if !ok {
					continue
				}
				if rv, ok := revealed[w.PlayerID]; ok {
					h.Actions = append(h.Actions, fmt.Sprintf("p%d sm %s", n, concatCards(rv)))
				} else {
					h.Actions = append(h.Actions, fmt.Sprintf("p%d sm", n))
				}
			}
		}
	}
	return h, nil
}

func renderAction(playerNum int, p *entry.PlayerActionPayload) string {
	switch p.Action {
	case entry.ActionFold:
		return fmt.Sprintf("p%d f", playerNum)
	case entry.ActionCheck:
		return fmt.Sprintf("p%d cc", playerNum)
	case entry.ActionCall:
		if p.Amount > 0 {
			return fmt.Sprintf("p%d cc %d", playerNum, p.Amount)
		}
		return fmt.Sprintf("p%d cc", playerNum)
	case entry.ActionBet, entry.ActionRaise, entry.ActionAllIn:
		return fmt.Sprintf("p%d cbr %d", playerNum, p.Amount)
	default:
		return fmt.Sprintf("p%d f", playerNum)
	}
}

func concatCards(cards []string) string {
	return strings.Join(cards, "")
}

// ExtractHands groups a table's entries into completed hands: each group
// runs from a HAND_START through its matching HAND_RESULT, inclusive,
// carrying the actions and deals in between. Entries outside any hand
// (joins, chat, transfers) and hands still in progress are omitted.
func ExtractHands(entries []entry.Entry) [][]entry.Entry {
	var hands [][]entry.Entry
	var current []entry.Entry
	inHand := false

	for _, e := range entries {
		switch e.Kind {
		case entry.KindHandStart:
			current = []entry.Entry{e}
			inHand = true
		case entry.KindHandResult:
			if inHand {
				current = append(current, e)
				hands = append(hands, current)
				current = nil
				inHand = false
			}
		case entry.KindPlayerAction, entry.KindCardsDealt:
			if inHand {
				current = append(current, e)
			}
		}
	}
	return hands
}
