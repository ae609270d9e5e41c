// Package keychain derives pairwise secrets and evolves the per-hop tag keys.
//
// A tag key is one AES block. Every hop re-encrypts the previous hop's key
// under the pairwise secret of the edge it travels over, so anyone holding the
// secret can step the chain in either direction while nobody else can link
// two hops of the same message.
package keychain

import (
	"crypto/rand"
	"fmt"

	"e2e_trace/internal/cryptographic/digest"
	"e2e_trace/internal/cryptographic/encryption"
	"e2e_trace/internal/model"
)

// DerivePairwiseSecret computes Hash(identityKey || peer). The result is
// directional: the secret for A->B is derived from A's key and B's id.
func DerivePairwiseSecret(ik model.IdentityKey, peer model.UserID) model.PairwiseSecret {
	return model.PairwiseSecret(digest.Hash16(ik[:], []byte(peer)))
}

// NewSeed returns fresh origin randomness for a new message. An origin that
// sends the same message to several peers uses one seed for all of them.
func NewSeed() (model.TagKey, error) {
	var seed model.TagKey
	if _, err := rand.Read(seed[:]); err != nil {
		return seed, fmt.Errorf("failed to generate seed: %w", err)
	}
	return seed, nil
}

// NewChainKey starts a chain: fresh randomness encrypted under s.
func NewChainKey(s model.PairwiseSecret) (model.TagKey, error) {
	seed, err := NewSeed()
	if err != nil {
		return model.TagKey{}, err
	}
	return AdvanceKey(seed, s), nil
}

// AdvanceKey derives the next hop's key.
func AdvanceKey(prev model.TagKey, s model.PairwiseSecret) model.TagKey {
	return model.TagKey(encryption.EncryptBlock(s, prev))
}

// RetreatKey is the inverse of AdvanceKey.
func RetreatKey(key model.TagKey, s model.PairwiseSecret) model.TagKey {
	return model.TagKey(encryption.DecryptBlock(s, key))
}

// NewIdentityKey generates a random identity key.
func NewIdentityKey() (model.IdentityKey, error) {
	var ik model.IdentityKey
	if _, err := rand.Read(ik[:]); err != nil {
		return ik, fmt.Errorf("failed to generate identity key: %w", err)
	}
	return ik, nil
}
