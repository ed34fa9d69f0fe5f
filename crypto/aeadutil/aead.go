// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package aeadutil provides authenticated encryption helpers with explicit
// nonce and additional data handling.
package aeadutil

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD operations use ChaCha20-Poly1305 with a 32 bytes key and a 12 bytes
// nonce. The 16 bytes authentication tag is appended to the ciphertext and
// binds the key, the nonce and the additional data.

const (
	// KeyLength is the expected encryption key length.
	KeyLength = chacha20poly1305.KeySize
	// NonceLength is the expected nonce length.
	NonceLength = chacha20poly1305.NonceSize
)

// ErrAuthentication is raised when the ciphertext, the key, the nonce or the
// additional data do not match what was sealed.
var ErrAuthentication = errors.New("unable to authenticate decryption attempt")

// Overhead returns the size overhead due to encryption.
func Overhead() int {
	return chacha20poly1305.Overhead
}

// Seal encrypts the given plaintext with the given key and nonce, binding the
// additional data to the authentication tag.
func Seal(key, nonce, aad, plaintext []byte) ([]byte, error) {
	// Check arguments
	if len(key) != KeyLength {
		return nil, fmt.Errorf("key must be %d bytes long", KeyLength)
	}
	if len(nonce) != NonceLength {
		return nil, fmt.Errorf("nonce must be %d bytes long", NonceLength)
	}

	// Initialize the cipher
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the cipher: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts the given ciphertext with the given key and nonce. The
// additional data must be exactly the same used to seal.
func Open(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	// Check arguments
	if len(key) != KeyLength {
		return nil, fmt.Errorf("key must be %d bytes long", KeyLength)
	}
	if len(nonce) != NonceLength {
		return nil, fmt.Errorf("nonce must be %d bytes long", NonceLength)
	}
	if len(ciphertext) < Overhead() {
		return nil, errors.New("ciphertext is too short")
	}

	// Initialize the cipher
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}

	return plaintext, nil
}
