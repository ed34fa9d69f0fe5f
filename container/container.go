// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package container implements the encrypted single-file vault: the on-disk
// format, the key hierarchy, the metadata object graph and the import, export
// and save protocols.
//
// A container is one host file holding a length-prefixed encrypted header
// followed by a data region of appended chunk ciphertexts. The header wraps a
// random 32 bytes master key under a password-derived KEK; all file keys are
// derived from the master key. A container file is assumed to be used by at
// most one live session at a time; no OS file locks are taken.
package container

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	"github.com/fxamacker/cbor/v2"

	"github.com/DataDog/go-secure-vault/crypto/aeadutil"
	"github.com/DataDog/go-secure-vault/crypto/kdfutil"
	"github.com/DataDog/go-secure-vault/generator/randomness"
	"github.com/DataDog/go-secure-vault/log"
)

// masterKeyLength is the byte length of the per-container master key.
const masterKeyLength = kdfutil.KeyLength

// Create initializes a new container file at the given path, sealed by the
// given password at the requested Argon2id costs. Any existing file at the
// path is truncated.
func Create(path, password string, mCostKiB, tCost uint32) error {
	// Generate container secrets
	salt, err := randomness.Salt()
	if err != nil {
		return fmt.Errorf("unable to generate salt: %w", err)
	}
	masterKey, err := randomness.Bytes(masterKeyLength)
	if err != nil {
		return fmt.Errorf("unable to generate master key: %w", err)
	}
	defer memguard.WipeBytes(masterKey)

	wrapNonce, err := randomness.Nonce()
	if err != nil {
		return fmt.Errorf("unable to generate master key wrap nonce: %w", err)
	}
	metaNonce, err := randomness.Nonce()
	if err != nil {
		return fmt.Errorf("unable to generate metadata nonce: %w", err)
	}

	// Derive the key encryption key
	kek, err := deriveKEK(password, salt, mCostKiB, tCost)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(kek)

	// Build the header skeleton; the AAD only covers fields set at this point.
	h := &Header{
		Magic:              []byte(headerMagic),
		Version:            formatVersion,
		KDFMemoryCostKiB:   mCostKiB,
		KDFTimeCost:        tCost,
		Salt:               salt,
		MasterKeyWrapNonce: wrapNonce,
		MetaNonce:          metaNonce,
	}
	aad := h.aad()

	// Wrap the master key under the KEK
	h.WrappedMasterKey, err = aeadutil.Seal(kek, wrapNonce, aad, masterKey)
	if err != nil {
		return fmt.Errorf("unable to wrap master key: %w", err)
	}

	// Seal the empty metadata under the master key
	metaPlain, err := cbor.Marshal(NewMetadata())
	if err != nil {
		return fmt.Errorf("unable to serialize metadata: %w", err)
	}
	h.MetaCipher, err = aeadutil.Seal(masterKey, metaNonce, aad, metaPlain)
	if err != nil {
		return fmt.Errorf("unable to encrypt metadata: %w", err)
	}
	h.MetaLen = uint32(len(h.MetaCipher))

	// Write the length-prefixed header; a fresh container has no data region.
	encoded, err := h.encode()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create container file: %w", err)
	}
	if _, err := f.Write(encoded); err != nil {
		f.Close()
		return fmt.Errorf("unable to write container header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("unable to sync container file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to close container file: %w", err)
	}

	log.Level(log.DebugLevel).Field("path", path).Message("container created")

	return nil
}

// Open unlocks the container at the given path with the given password and
// returns a live session. The password is not retained by the session.
func Open(path, password string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open container file: %w", err)
	}
	defer f.Close()

	// Read and validate the header
	h, _, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	if err := h.checkIdentity(); err != nil {
		return nil, err
	}

	// Derive the key encryption key from the header parameters
	kek, err := deriveKEK(password, h.Salt, h.KDFMemoryCostKiB, h.KDFTimeCost)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(kek)

	// Unwrap the master key. A failure means a wrong password or a tampered
	// header; the two cases are reported identically.
	aad := h.aad()
	masterKey, err := aeadutil.Open(kek, h.MasterKeyWrapNonce, aad, h.WrappedMasterKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uniformOpenMessage, ErrAuthentication)
	}
	if len(masterKey) != masterKeyLength {
		memguard.WipeBytes(masterKey)
		return nil, fmt.Errorf("unexpected master key length: %w", ErrIntegrity)
	}

	// Decrypt and decode the metadata
	metaPlain, err := aeadutil.Open(masterKey, h.MetaNonce, aad, h.MetaCipher)
	if err != nil {
		memguard.WipeBytes(masterKey)
		return nil, fmt.Errorf("%s: %w", uniformOpenMessage, ErrAuthentication)
	}

	var meta Metadata
	if err := cbor.Unmarshal(metaPlain, &meta); err != nil {
		memguard.WipeBytes(masterKey)
		memguard.WipeBytes(metaPlain)
		return nil, fmt.Errorf("unable to decode metadata: %w", ErrFormat)
	}
	memguard.WipeBytes(metaPlain)

	log.Level(log.DebugLevel).Field("path", path).Field("nodes", len(meta.Nodes)).Message("container unlocked")

	// The locked buffer takes ownership of the key bytes and wipes the source.
	return &Session{
		path:      path,
		masterKey: memguard.NewBufferFromBytes(masterKey),
		meta:      &meta,
	}, nil
}

// -----------------------------------------------------------------------------

// deriveKEK runs the password KDF pipeline, mapping parameter rejections to
// the container error kind.
func deriveKEK(password string, salt []byte, mCostKiB, tCost uint32) ([]byte, error) {
	kek, err := kdfutil.DeriveKEK([]byte(password), salt, mCostKiB, tCost)
	if err != nil {
		if errors.Is(err, kdfutil.ErrInvalidParams) {
			return nil, fmt.Errorf("unable to derive key encryption key: %w", ErrKDFParams)
		}
		return nil, fmt.Errorf("unable to derive key encryption key: %w", err)
	}
	return kek, nil
}
