package session

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	sealedPrefix  = "nacl1:"
	nonceSize     = 24
	minSecretSize = 16
)

var (
	ErrSealed      = errors.New("persisted state is sealed, secret key required")
	ErrNotSealed   = errors.New("persisted state is not sealed")
	ErrCantUnseal  = errors.New("can't unseal persisted state, wrong secret key or corrupted data")
	hkdfInfoString = []byte("itemsadmin persisted state")
)

// Seals persisted state with NaCl secretbox
// Sealed format: prefix | nonce | box
type sealer struct {
	key [32]byte
}

func newSealer(secretHex string) (*sealer, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("secret key must be hex encoded: %w", err)
	}
	if len(secret) < minSecretSize {
		return nil, fmt.Errorf("secret key must be at least %d bytes", minSecretSize)
	}

	s := &sealer{}
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, hkdfInfoString), s.key[:]); err != nil {
		return nil, fmt.Errorf("can't derive sealing key: %w", err)
	}
	return s, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("can't generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedPrefix)+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, sealedPrefix...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, &s.key), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	if !isSealed(data) {
		return nil, ErrNotSealed
	}
	data = data[len(sealedPrefix):]

	if len(data) < nonceSize+secretbox.Overhead {
		return nil, ErrCantUnseal
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])

	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrCantUnseal
	}
	return plain, nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(sealedPrefix))
}
