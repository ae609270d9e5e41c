package model

import (
	"encoding/hex"
	"fmt"
)

const (
	// KeySize is the size of identity keys, pairwise secrets and tag keys.
	// Tag keys are a single AES block.
	KeySize = 16

	// DigestSize is the size of PRF outputs and trace tags.
	DigestSize = 32
)

type (
	// UserID identifies a user of the messaging system.
	UserID string

	// IdentityKey is the per-user secret provisioned at registration.
	IdentityKey [KeySize]byte

	// PairwiseSecret is derived from the sender's identity key and the
	// receiver's id. It is directional.
	PairwiseSecret [KeySize]byte

	// TagKey is the per-hop chain state carried inside a packet.
	TagKey [KeySize]byte

	// Digest is a PRF output.
	Digest [DigestSize]byte

	// TraceTag is the opaque value stored in the membership index.
	TraceTag [DigestSize]byte
)

func (k TagKey) MarshalText() ([]byte, error) {
	return marshalHex(k[:]), nil
}

func (k *TagKey) UnmarshalText(b []byte) error {
	return unmarshalHex(k[:], b)
}

func (k TagKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k IdentityKey) MarshalText() ([]byte, error) {
	return marshalHex(k[:]), nil
}

func (k *IdentityKey) UnmarshalText(b []byte) error {
	return unmarshalHex(k[:], b)
}

func (t TraceTag) MarshalText() ([]byte, error) {
	return marshalHex(t[:]), nil
}

func (t *TraceTag) UnmarshalText(b []byte) error {
	return unmarshalHex(t[:], b)
}

func (t TraceTag) String() string {
	return hex.EncodeToString(t[:])
}

func marshalHex(b []byte) []byte {
	out := make([]byte, hex.EncodedLen(len(b)))
	hex.Encode(out, b)
	return out
}

func unmarshalHex(dst, src []byte) error {
	if hex.DecodedLen(len(src)) != len(dst) {
		return fmt.Errorf("invalid length %d, want %d hex chars", len(src), 2*len(dst))
	}
	_, err := hex.Decode(dst, src)
	return err
}
