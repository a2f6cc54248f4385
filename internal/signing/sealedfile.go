package signing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// deriveBoxKey turns the operator-provided hex encryption seed
// (Config.EncryptionSeedHex) into a fixed 32-byte secretbox key, so the
// seed itself can be any length an operator finds convenient to generate
// and store.
func deriveBoxKey(seedHex string) (*[32]byte, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("signing: decoding encryption seed: %w", err)
	}
	key := sha256.Sum256(seed)
	return &key, nil
}

// sealKeyMaterial encrypts plaintext (a marshaled keyMaterialFile) for
// at-rest storage, prefixing the nonce to the ciphertext.
func sealKeyMaterial(seedHex string, plaintext []byte) ([]byte, error) {
	key, err := deriveBoxKey(seedHex)
	if err != nil {
		return nil, err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("signing: generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return sealed, nil
}

// openSealed reverses sealKeyMaterial.
func openSealed(seedHex string, sealed []byte) ([]byte, error) {
	key, err := deriveBoxKey(seedHex)
	if err != nil {
		return nil, err
	}
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("signing: sealed key file is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("signing: decrypting key file failed: wrong seed or corrupted file")
	}
	return plaintext, nil
}
