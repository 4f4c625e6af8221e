package mentalpoker

import "fmt"

// Deal encrypts card under the table public key pk with encryption
// randomness x. The ciphertext alone reveals nothing; the binding that
// lets observers check an honest decryption comes later, from the
// CardOpening published at showdown.
func Deal(pk Point, card Card, x Scalar) (Ciphertext, error) {
	return Encrypt(pk, CardPoint(card), x)
}

// CardOpening is a verifiable decryption of one dealt card, published by
// the holder of the table secret key at showdown: the shared value
// d = sk*C1 together with a Chaum-Pedersen proof that the same sk links
// the table public key (pk = sk*G) and d. Observers recover the plaintext
// as C2 - d and can check the proof without learning sk.
type CardOpening struct {
	D     Point
	Proof EqualityProof
}

// RevealCard decrypts a dealt card with the table secret key sk and
// produces the opening observers verify: d = sk*C1 plus the equality
// proof with witness sk.
func RevealCard(pk Point, sk Scalar, ct Ciphertext) (Card, CardOpening, error) {
	d := MulPoint(ct.C1, sk)
	w, err := RandomScalar()
	if err != nil {
		return 0, CardOpening{}, err
	}
	proof, err := ProveEquality(pk, ct.C1, d, sk, w)
	if err != nil {
		return 0, CardOpening{}, err
	}
	card, ok := CardFromPoint(PointSub(ct.C2, d))
	if !ok {
		return 0, CardOpening{}, fmt.Errorf("mentalpoker: ciphertext does not decrypt to a card")
	}
	return card, CardOpening{D: d, Proof: proof}, nil
}

// VerifyCardOpening checks an opening against the table public key and
// the ciphertext, returning the revealed card when the proof holds. A
// forged or tampered d fails the equality proof, so a dishonest revealer
// cannot claim the ciphertext decrypts to a card of its choosing.
func VerifyCardOpening(pk Point, ct Ciphertext, opening CardOpening) (Card, bool, error) {
	ok, err := VerifyEquality(pk, ct.C1, opening.D, opening.Proof)
	if err != nil || !ok {
		return 0, false, err
	}
	card, ok := CardFromPoint(PointSub(ct.C2, opening.D))
	if !ok {
		return 0, false, nil
	}
	return card, true, nil
}
