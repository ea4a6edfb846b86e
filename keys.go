package main

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
)

// GenerateKeyPair produces a fresh static Curve25519 keypair for the
// ec25519-fhmqvc-style flat pre-shared-key trust model (spec §1 Non-goals,
// §6 Configuration inputs: "its public key").
func GenerateKeyPair() (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return
}

// EncodeKey renders a key for display/config files. base58 avoids the
// visual ambiguity of hex for keys operators copy by hand.
func EncodeKey(key [32]byte) string {
	return base58.Encode(key[:])
}

// DecodeKey parses a key previously produced by EncodeKey.
func DecodeKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("fastd: decoded key has length %d, want 32", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
