package mentalpoker

import (
	"fmt"

	"github.com/gtank/ristretto255"
)

// ScalarBytes is the width of a canonical little-endian scalar encoding.
const ScalarBytes = 32

// Scalar is a ristretto255 scalar.
type Scalar struct {
	v ristretto255.Scalar
}

func ScalarZero() Scalar { return Scalar{} }

// ScalarFromUint64 encodes a small integer (hand numbers, seat indices)
// as a scalar.
func ScalarFromUint64(x uint64) Scalar {
	var b [32]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(x >> (8 * i))
	}
	var s Scalar
	if _, err := s.v.SetCanonicalBytes(b[:]); err == nil {
		return s
	}
	var uni [64]byte
	copy(uni[:], b[:])
	s.v.FromUniformBytes(uni[:])
	return s
}

func ScalarFromBytesCanonical(b []byte) (Scalar, error) {
	if len(b) != ScalarBytes {
		return Scalar{}, fmt.Errorf("mentalpoker: scalar expects %d bytes", ScalarBytes)
	}
	var s Scalar
	if _, err := s.v.SetCanonicalBytes(b); err != nil {
		return Scalar{}, fmt.Errorf("mentalpoker: non-canonical scalar: %w", err)
	}
	return s, nil
}

// ScalarFromUniformBytes reduces 64 uniformly-random bytes into a scalar,
// the standard way to turn a wide hash output into a group scalar without
// biasing the result.
func ScalarFromUniformBytes(b []byte) (Scalar, error) {
	if len(b) != 64 {
		return Scalar{}, fmt.Errorf("mentalpoker: scalar expects 64 uniform bytes")
	}
	var s Scalar
	s.v.FromUniformBytes(b)
	return s, nil
}

// RandomScalar draws a uniformly random nonzero scalar from the package
// CSPRNG.
func RandomScalar() (Scalar, error) {
	b, err := randBytes(64)
	if err != nil {
		return Scalar{}, err
	}
	s, err := ScalarFromUniformBytes(b)
	if err != nil {
		return Scalar{}, err
	}
	if s.IsZero() {
		return RandomScalar()
	}
	return s, nil
}

func (s Scalar) Bytes() []byte { return s.v.Bytes() }

func (s Scalar) IsZero() bool {
	var z ristretto255.Scalar
	return s.v.Equal(&z) == 1
}

func ScalarAdd(a, b Scalar) Scalar {
	var out Scalar
	out.v.Add(&a.v, &b.v)
	return out
}

func ScalarSub(a, b Scalar) Scalar {
	var out Scalar
	out.v.Subtract(&a.v, &b.v)
	return out
}

func ScalarMul(a, b Scalar) Scalar {
	var out Scalar
	out.v.Multiply(&a.v, &b.v)
	return out
}

func ScalarNeg(a Scalar) Scalar {
	var out Scalar
	out.v.Negate(&a.v)
	return out
}

func ScalarInv(a Scalar) (Scalar, error) {
	if a.IsZero() {
		return Scalar{}, fmt.Errorf("mentalpoker: inverse of zero scalar")
	}
	var out Scalar
	out.v.Invert(&a.v)
	return out, nil
}
