// Package tag builds message packets and the trace tags stored by the platform.
package tag

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"e2e_trace/internal/cryptographic/digest"
	"e2e_trace/internal/cryptographic/encryption"
	"e2e_trace/internal/cryptographic/kdf"
	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/keychain"
)

const ephemeralKeySize = 16

var edgeKeyInfo = []byte("TraceTagEdgeKey")

// PRF computes HMAC(tagKey, Hash(message)). Hashing first bounds the PRF input.
func PRF(k model.TagKey, message []byte) model.Digest {
	h := digest.Hash16(message)
	return model.Digest(digest.MAC(k[:], h[:]))
}

// MakePacket derives this hop's tag key from prev (or starts a new chain when
// prev is nil) and authenticates PRF(key, message) under a fresh ephemeral key.
func MakePacket(prev *model.TagKey, s model.PairwiseSecret, message []byte) (*model.MessagePacket, error) {
	var key model.TagKey
	if prev == nil {
		var err error
		key, err = keychain.NewChainKey(s)
		if err != nil {
			return nil, err
		}
	} else {
		key = keychain.AdvanceKey(*prev, s)
	}
	return Seal(key, message)
}

// Seal builds the packet for an already derived tag key.
func Seal(key model.TagKey, message []byte) (*model.MessagePacket, error) {
	ek := make([]byte, ephemeralKeySize)
	if _, err := rand.Read(ek); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	prf := PRF(key, message)
	sealed, err := encryption.AEADEncrypt(ek, prf[:], key[:])
	if err != nil {
		return nil, err
	}
	return &model.MessagePacket{
		TagKey:       key,
		EphemeralKey: ek,
		Sealed:       sealed,
		Payload:      message,
	}, nil
}

// VerifyPacket recomputes the PRF and checks it against the authenticated
// value. It needs no index access.
func VerifyPacket(p *model.MessagePacket) bool {
	if p == nil || len(p.EphemeralKey) != ephemeralKeySize {
		return false
	}
	opened, err := encryption.AEADDecrypt(p.EphemeralKey, p.Sealed, p.TagKey[:])
	if err != nil {
		return false
	}
	prf := PRF(p.TagKey, p.Payload)
	return subtle.ConstantTimeCompare(opened, prf[:]) == 1
}

// MakeTraceTag binds PRF(tagKey, message) to the edge the hop travelled over.
func MakeTraceTag(k model.TagKey, s model.PairwiseSecret, message []byte) model.TraceTag {
	prf := PRF(k, message)
	edgeKey := EdgeKey(s)
	return model.TraceTag(digest.MAC(edgeKey[:], prf[:]))
}

// EdgeKey is the per-edge hash key derived from the pairwise secret.
func EdgeKey(s model.PairwiseSecret) [32]byte {
	var out [32]byte
	if _, err := kdf.HKDF(s[:], nil, edgeKeyInfo, out[:]); err != nil {
		panic(err)
	}
	return out
}
