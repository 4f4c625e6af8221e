package entry

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"ocpoker/internal/ocrypto"
)

func testKeypair(t *testing.T, seed string) (ocrypto.PrivateKey, ocrypto.PublicKey) {
	t.Helper()
	s := ocrypto.Hash([]byte(seed))
	priv, pub, err := ocrypto.PrivateKeyFromSeed(s.Bytes())
	require.NoError(t, err)
	return priv, pub
}

func TestPayloadRoundTripEveryKind(t *testing.T) {
	alice := ocrypto.Hash([]byte("alice"))
	bob := ocrypto.Hash([]byte("bob"))

	cases := []struct {
		kind    Kind
		payload any
	}{
		{KindPlayerJoin, &PlayerJoinPayload{PlayerID: alice, DisplayName: "alice", TableID: 1, Seat: 2, BuyIn: 500, Timestamp: 1700000000000}},
		{KindPlayerLeave, &PlayerLeavePayload{PlayerID: alice, TableID: 1, Seat: 2, CashOut: 480, Timestamp: 1700000001000}},
		{KindTableCreate, &TableCreatePayload{TableID: 1, Name: "main", Variant: "NT", MaxPlayers: 9, SmallBlind: 50, BigBlind: 100, MinBuyIn: 2000, MaxBuyIn: 20000, CreatorID: alice}},
		{KindHandStart, &HandStartPayload{TableID: 1, HandNumber: 3, DealerButton: 0, Seats: []HandStartSeat{{Seat: 0, PlayerID: alice, Stack: 1000}, {Seat: 1, PlayerID: bob, Stack: 1000}}, DeckSeed: ocrypto.Hash([]byte("seed"))}},
		{KindPlayerAction, &PlayerActionPayload{TableID: 1, HandNumber: 3, ActionNumber: 0, PlayerID: alice, Action: ActionRaise, Amount: 300}},
		{KindCardsDealt, &CardsDealtPayload{TableID: 1, HandNumber: 3, Round: "flop", Board: []string{"Kh", "7s", "2c"}}},
		{KindHandResult, &HandResultPayload{TableID: 1, HandNumber: 3, Winners: []HandWinner{{PlayerID: alice, Amount: 700}}}},
		{KindChatMessage, &ChatMessagePayload{TableID: 1, SenderID: bob, Text: "nh", Timestamp: 1700000002000}},
		{KindChipTransfer, &ChipTransferPayload{FromID: alice, ToID: bob, Amount: 100, Timestamp: 1700000003000}},
		{KindTournamentEvent, &TournamentEventPayload{TournamentID: 9, EventType: "level_up", BlindLevel: 2, SmallBlind: 100, BigBlind: 200, Timestamp: 1700000004000}},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			raw, err := EncodePayload(tc.payload)
			require.NoError(t, err)

			// Deterministic: same payload, same bytes.
			raw2, err := EncodePayload(tc.payload)
			require.NoError(t, err)
			require.True(t, bytes.Equal(raw, raw2))

			decoded, err := DecodePayload(tc.kind, raw)
			require.NoError(t, err)
			require.Equal(t, tc.payload, decoded)
		})
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	_, err := DecodePayload(KindPlayerJoin, []byte("{not json"))
	require.ErrorIs(t, err, ErrMalformedPayload)

	_, err = DecodePayload(Kind("FUTURE_KIND"), []byte("{}"))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestPayloadSizeBoundary(t *testing.T) {
	// Exactly 4 KiB passes; one byte over fails. The chat text is padded
	// so the whole JSON encoding lands on the boundary.
	pad := func(total int) string {
		base, err := EncodePayload(&ChatMessagePayload{Text: ""})
		require.NoError(t, err)
		return string(bytes.Repeat([]byte{'a'}, total-len(base)))
	}

	atLimit := &ChatMessagePayload{Text: pad(MaxPayloadBytes)}
	raw, err := EncodePayload(atLimit)
	require.NoError(t, err)
	require.Len(t, raw, MaxPayloadBytes)

	overLimit := &ChatMessagePayload{Text: pad(MaxPayloadBytes + 1)}
	_, err = EncodePayload(overLimit)
	require.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = DecodePayload(KindChatMessage, bytes.Repeat([]byte{'x'}, MaxPayloadBytes+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSignAndVerify(t *testing.T) {
	priv, pub := testKeypair(t, "origin")
	_, otherPub := testKeypair(t, "other")

	e := Entry{
		Sequence:     1,
		Timestamp:    1700000000000,
		OriginNodeID: ocrypto.NodeID(pub),
		Kind:         KindChatMessage,
		TableID:      4,
		Payload:      []byte(`{"text":"hello"}`),
	}
	require.NoError(t, e.Sign(priv))
	require.True(t, e.VerifySignature(pub))
	require.False(t, e.VerifySignature(otherPub))

	// Any covered field change invalidates the signature.
	tampered := e
	tampered.Sequence = 2
	require.False(t, tampered.VerifySignature(pub))

	tampered = e
	tampered.Payload = []byte(`{"text":"hell0"}`)
	require.False(t, tampered.VerifySignature(pub))
}

func TestSigningBytesFramesFields(t *testing.T) {
	// Length prefixes keep adjacent variable-width fields unambiguous:
	// moving a byte across the kind/payload boundary changes the encoding.
	a := Entry{Kind: Kind("AB"), Payload: []byte("C")}
	b := Entry{Kind: Kind("A"), Payload: []byte("BC")}
	require.NotEqual(t, a.SigningBytes(), b.SigningBytes())
}

func TestMessageIDDistinguishesSenders(t *testing.T) {
	alice := ocrypto.Hash([]byte("alice"))
	bob := ocrypto.Hash([]byte("bob"))
	payload := []byte("payload")

	idA := MessageID(KindChatMessage, payload, 1, alice)
	idB := MessageID(KindChatMessage, payload, 1, bob)
	require.NotEqual(t, idA, idB)
	require.Equal(t, idA, MessageID(KindChatMessage, payload, 1, alice))
}
