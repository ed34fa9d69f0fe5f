// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package kdfutil provides the password key derivation pipeline and sub-key
// derivation helpers.
package kdfutil

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyLength is the byte length of every derived key.
	KeyLength = 32
	// SaltLength is the expected password salt length.
	SaltLength = 16

	// kekInfo is the fixed expansion label of the KEK pipeline. Changing it
	// breaks compatibility with existing containers.
	kekInfo = "vault-kek"

	// Argon2id lower bounds. The memory floor follows the argon2 requirement
	// of 8 KiB per lane (parallelism is fixed to 1).
	minMemoryKiB = 8
	minTimeCost  = 1
)

// ErrInvalidParams is raised when the derivation cost parameters are out of
// the accepted range.
var ErrInvalidParams = errors.New("invalid key derivation parameters")

// DeriveKEK derives the 32 bytes key encryption key from the given password
// and salt using Argon2id (parallelism 1, version 0x13) at the given costs.
//
// The raw Argon2id output is passed through an HKDF-SHA256 extract/expand step
// with a fixed label. The intermediate stabilises the output length and
// decouples the KEK from any particular password hash encoding; the exact
// pipeline must be kept to interoperate with existing containers.
func DeriveKEK(password, salt []byte, mCostKiB, tCost uint32) ([]byte, error) {
	// Check arguments
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("salt must be %d bytes long: %w", SaltLength, ErrInvalidParams)
	}
	if mCostKiB < minMemoryKiB {
		return nil, fmt.Errorf("memory cost must be at least %d KiB: %w", minMemoryKiB, ErrInvalidParams)
	}
	if tCost < minTimeCost {
		return nil, fmt.Errorf("time cost must be at least %d: %w", minTimeCost, ErrInvalidParams)
	}

	// Memory-hard password hash
	raw := argon2.IDKey(password, salt, tCost, mCostKiB, 1, KeyLength)
	defer memguard.WipeBytes(raw)

	// Stabilisation step
	kek := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(kekInfo)), kek); err != nil {
		return nil, fmt.Errorf("unable to derive key encryption key: %w", err)
	}

	return kek, nil
}

// SubKey derives a 32 bytes sub-key from the given secret and info string
// using HKDF-SHA256 without salt.
func SubKey(secret []byte, info string) ([]byte, error) {
	// Check arguments
	if len(secret) != KeyLength {
		return nil, fmt.Errorf("secret must be %d bytes long: %w", KeyLength, ErrInvalidParams)
	}
	if info == "" {
		return nil, fmt.Errorf("info must not be empty: %w", ErrInvalidParams)
	}

	out := make([]byte, KeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("unable to derive sub-key: %w", err)
	}

	return out, nil
}
