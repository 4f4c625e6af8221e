package mentalpoker

import (
	"crypto/sha512"
	"encoding/binary"
)

var transcriptPrefix = []byte("ocpoker/v1/transcript|")

// Transcript is a Fiat-Shamir transcript: a running byte log of every
// labeled value appended to a proof, from which a verifier-unpredictable
// challenge scalar is derived. It stores the transcript bytes rather than
// an incremental hash state since crypto/sha512's Hash does not support
// cloning mid-stream.
type Transcript struct {
	state []byte
}

func NewTranscript(domainSep string) *Transcript {
	dst := []byte(domainSep)
	st := make([]byte, 0, len(transcriptPrefix)+4+len(dst))
	st = append(st, transcriptPrefix...)
	st = append(st, u32le(uint32(len(dst)))...)
	st = append(st, dst...)
	return &Transcript{state: st}
}

func (t *Transcript) AppendMessage(label string, msg []byte) {
	lb := []byte(label)
	t.state = append(t.state, "msg"...)
	t.state = append(t.state, u32le(uint32(len(lb)))...)
	t.state = append(t.state, lb...)
	t.state = append(t.state, u32le(uint32(len(msg)))...)
	t.state = append(t.state, msg...)
}

func (t *Transcript) ChallengeScalar(label string) (Scalar, error) {
	lb := []byte(label)
	h := sha512.New()
	h.Write(t.state)
	h.Write([]byte("challenge"))
	h.Write(u32le(uint32(len(lb))))
	h.Write(lb)
	digest := h.Sum(nil)
	return ScalarFromUniformBytes(digest)
}

func u32le(x uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, x)
	return b
}
