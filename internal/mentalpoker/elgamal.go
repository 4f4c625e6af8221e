package mentalpoker

import "fmt"

// Ciphertext is an ElGamal ciphertext over ristretto255 in additive
// notation: PK = x*G, Enc(PK, M; r) = (r*G, M + r*PK).
type Ciphertext struct {
	C1 Point
	C2 Point
}

// Encrypt encrypts plaintext point m under public key pk with randomness
// r. r must be non-zero: a zero r leaks the plaintext as c2 == m.
func Encrypt(pk Point, m Point, r Scalar) (Ciphertext, error) {
	if r.IsZero() {
		return Ciphertext{}, fmt.Errorf("mentalpoker: encrypt randomness must be non-zero")
	}
	c1 := MulBase(r)
	c2 := PointAdd(m, MulPoint(pk, r))
	return Ciphertext{C1: c1, C2: c2}, nil
}

// Decrypt recovers the plaintext point: Dec(x, (c1,c2)) = c2 - x*c1.
func Decrypt(sk Scalar, ct Ciphertext) Point {
	return PointSub(ct.C2, MulPoint(ct.C1, sk))
}

// EncodeCiphertext returns the 64-byte wire encoding C1(32) || C2(32).
func EncodeCiphertext(ct Ciphertext) []byte {
	return append(append([]byte{}, ct.C1.Bytes()...), ct.C2.Bytes()...)
}

func DecodeCiphertext(b []byte) (Ciphertext, error) {
	if len(b) != 2*PointBytes {
		return Ciphertext{}, fmt.Errorf("mentalpoker: ciphertext expects %d bytes", 2*PointBytes)
	}
	c1, err := PointFromBytesCanonical(b[:PointBytes])
	if err != nil {
		return Ciphertext{}, err
	}
	c2, err := PointFromBytesCanonical(b[PointBytes:])
	if err != nil {
		return Ciphertext{}, err
	}
	return Ciphertext{C1: c1, C2: c2}, nil
}
