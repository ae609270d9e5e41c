package kdf

import (
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// HKDF fills buffer with HKDF-SHA3-256 output.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha3.New256, secret, salt, info)
	return io.ReadFull(h, buffer)
}
