package encryption

import (
	"crypto/aes"
)

// EncryptBlock encrypts one AES-128 block. Keys and blocks are fixed size, so
// the cipher construction cannot fail.
func EncryptBlock(key, block [aes.BlockSize]byte) [aes.BlockSize]byte {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	var out [aes.BlockSize]byte
	c.Encrypt(out[:], block[:])
	return out
}

func DecryptBlock(key, block [aes.BlockSize]byte) [aes.BlockSize]byte {
	c, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	var out [aes.BlockSize]byte
	c.Decrypt(out[:], block[:])
	return out
}
