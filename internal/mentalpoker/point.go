package mentalpoker

import (
	"crypto/sha512"
	"fmt"

	"github.com/gtank/ristretto255"
)

// PointBytes is the width of a canonical ristretto255 element encoding.
const PointBytes = 32

// Point is a ristretto255 group element, used both as an ElGamal
// ciphertext/public-key component and, via CardPoint, as the encoding of
// a playing card into the group.
type Point struct {
	v ristretto255.Element
}

// MulBase returns s*G, the base-point scalar multiplication used to
// derive public keys and ciphertext first components.
func MulBase(s Scalar) Point {
	var out Point
	out.v.ScalarBaseMult(&s.v)
	return out
}

// MulPoint returns s*P.
func MulPoint(p Point, s Scalar) Point {
	var out Point
	out.v.ScalarMult(&s.v, &p.v)
	return out
}

func PointAdd(a, b Point) Point {
	var out Point
	out.v.Add(&a.v, &b.v)
	return out
}

func PointSub(a, b Point) Point {
	var out Point
	out.v.Subtract(&a.v, &b.v)
	return out
}

func PointEq(a, b Point) bool {
	return a.v.Equal(&b.v) == 1
}

// Bytes returns the canonical 32-byte encoding of p.
func (p Point) Bytes() []byte {
	return p.v.Encode(nil)
}

func PointFromBytesCanonical(b []byte) (Point, error) {
	if len(b) != PointBytes {
		return Point{}, fmt.Errorf("mentalpoker: point expects %d bytes", PointBytes)
	}
	var p Point
	if err := p.v.Decode(b); err != nil {
		return Point{}, fmt.Errorf("mentalpoker: invalid point encoding: %w", err)
	}
	return p, nil
}

// HashToPoint maps arbitrary bytes onto the ristretto255 group via a wide
// SHA-512 hash, giving a deterministic, uniformly-distributed element
// with no known discrete log relative to the base point. Used to fix the
// 52 card-plaintext points so every node derives the identical encoding
// table without negotiation.
func HashToPoint(domainSep string, data []byte) Point {
	h := sha512.New()
	h.Write([]byte(domainSep))
	h.Write(data)
	var p Point
	p.v.FromUniformBytes(h.Sum(nil))
	return p
}
