// Package keystore encrypts deposit address private keys at rest. Keys are
// sealed with NaCl secretbox under a single operator-supplied master key.
package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrDecrypt = errors.New("keystore: cannot decrypt key blob")

type Keystore struct {
	master [keySize]byte
}

// New parses a hex-encoded 32-byte master key.
func New(masterHex string) (*Keystore, error) {
	raw, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("keystore: master key is not hex: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("keystore: master key must be %d bytes, got %d", keySize, len(raw))
	}
	ks := &Keystore{}
	copy(ks.master[:], raw)
	return ks, nil
}

// Seal encrypts plaintext key material. The nonce is prepended to the box.
func (k *Keystore) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("keystore: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k.master), nil
}

// Open decrypts a blob produced by Seal.
func (k *Keystore) Open(blob []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, ErrDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plaintext, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &k.master)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
