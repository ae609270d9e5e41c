package digest

import (
	"crypto/hmac"

	"golang.org/x/crypto/sha3"
)

// Hash16 returns the first 16 bytes of SHA3-256 over the concatenated parts.
func Hash16(parts ...[]byte) [16]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// MAC is HMAC-SHA3-256.
func MAC(key, data []byte) [32]byte {
	m := hmac.New(sha3.New256, key)
	m.Write(data)
	var out [32]byte
	copy(out[:], m.Sum(nil))
	return out
}
