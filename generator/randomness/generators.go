// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package randomness provides cryptographically secure random value helpers.
package randomness

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// SaltLength is the byte length of key derivation salts.
	SaltLength = 16
	// NonceLength is the byte length of AEAD nonces.
	NonceLength = 12
)

// Bytes generates a new byte slice of the given size.
func Bytes(size int) ([]byte, error) {
	bytes := make([]byte, size)
	_, err := io.ReadFull(rand.Reader, bytes)
	if err != nil {
		return nil, fmt.Errorf("error generating bytes: %w", err)
	}
	return bytes, nil
}

// Salt generates a new key derivation salt.
func Salt() ([]byte, error) {
	return Bytes(SaltLength)
}

// Nonce generates a new AEAD nonce.
func Nonce() ([]byte, error) {
	return Bytes(NonceLength)
}
