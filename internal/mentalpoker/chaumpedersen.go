package mentalpoker

import "fmt"

// EqualityProof is a Chaum-Pedersen zero-knowledge proof that the same
// discrete log x relates y = x*G and d = x*c1, without revealing x. Its
// use here is verifiable decryption: the key holder proves d = sk*c1 for
// the sk behind the public key y = sk*G, tying the decryption share d to
// the published ciphertext so observers can check the recovered
// plaintext c2 - d was computed honestly.
type EqualityProof struct {
	A Point
	B Point
	S Scalar
}

const equalityDomain = "ocpoker/v1/chaum-pedersen-eqdl"

// ProveEquality proves knowledge of x such that y = x*G and d = x*c1,
// given witness x and a fresh random nonce w.
func ProveEquality(y, c1, d Point, x, w Scalar) (EqualityProof, error) {
	if w.IsZero() {
		return EqualityProof{}, fmt.Errorf("mentalpoker: proof nonce must be non-zero")
	}
	a := MulBase(w)
	b := MulPoint(c1, w)

	tr := NewTranscript(equalityDomain)
	tr.AppendMessage("y", y.Bytes())
	tr.AppendMessage("c1", c1.Bytes())
	tr.AppendMessage("d", d.Bytes())
	tr.AppendMessage("a", a.Bytes())
	tr.AppendMessage("b", b.Bytes())
	e, err := tr.ChallengeScalar("e")
	if err != nil {
		return EqualityProof{}, err
	}

	s := ScalarAdd(w, ScalarMul(e, x))
	return EqualityProof{A: a, B: b, S: s}, nil
}

// VerifyEquality checks proof against the claimed y, c1, d.
func VerifyEquality(y, c1, d Point, proof EqualityProof) (bool, error) {
	tr := NewTranscript(equalityDomain)
	tr.AppendMessage("y", y.Bytes())
	tr.AppendMessage("c1", c1.Bytes())
	tr.AppendMessage("d", d.Bytes())
	tr.AppendMessage("a", proof.A.Bytes())
	tr.AppendMessage("b", proof.B.Bytes())
	e, err := tr.ChallengeScalar("e")
	if err != nil {
		return false, err
	}

	lhs1 := MulBase(proof.S)
	rhs1 := PointAdd(proof.A, MulPoint(y, e))
	if !PointEq(lhs1, rhs1) {
		return false, nil
	}

	lhs2 := MulPoint(c1, proof.S)
	rhs2 := PointAdd(proof.B, MulPoint(d, e))
	return PointEq(lhs2, rhs2), nil
}

// EncodeEqualityProof returns the 96-byte wire encoding A(32) || B(32) || s(32).
func EncodeEqualityProof(p EqualityProof) []byte {
	out := make([]byte, 0, 96)
	out = append(out, p.A.Bytes()...)
	out = append(out, p.B.Bytes()...)
	out = append(out, p.S.Bytes()...)
	return out
}

func DecodeEqualityProof(b []byte) (EqualityProof, error) {
	if len(b) != 96 {
		return EqualityProof{}, fmt.Errorf("mentalpoker: equality proof expects 96 bytes")
	}
	a, err := PointFromBytesCanonical(b[0:32])
	if err != nil {
		return EqualityProof{}, err
	}
	bp, err := PointFromBytesCanonical(b[32:64])
	if err != nil {
		return EqualityProof{}, err
	}
	s, err := ScalarFromBytesCanonical(b[64:96])
	if err != nil {
		return EqualityProof{}, err
	}
	return EqualityProof{A: a, B: bp, S: s}, nil
}
