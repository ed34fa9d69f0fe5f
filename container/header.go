// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/DataDog/go-secure-vault/log"
)

const (
	// headerMagic identifies a vault container file.
	headerMagic = "VLT1"
	// formatVersion is the only supported container format version.
	formatVersion = 1
	// headerLenPrefixSize is the size of the little-endian header length
	// prefix at the start of the file.
	headerLenPrefixSize = 4
	// maxHeaderLength bounds the header allocation when reading untrusted
	// files. Metadata is the only variable-size header field.
	maxHeaderLength = 256 * 1024 * 1024
)

// Header is the self-describing record at the start of a container file. It
// is serialised as a CBOR map with named fields so that readers never rely on
// fixed offsets; the data region starts right after the length-prefixed
// header.
type Header struct {
	Magic   []byte `cbor:"magic"`
	Version uint32 `cbor:"version"`

	// KDF parameters
	KDFMemoryCostKiB uint32 `cbor:"kdf_m_cost_kib"`
	KDFTimeCost      uint32 `cbor:"kdf_t_cost"`
	Salt             []byte `cbor:"salt"`

	// Wrapped master key
	MasterKeyWrapNonce []byte `cbor:"mk_wrap_nonce"`
	WrappedMasterKey   []byte `cbor:"wrapped_master_key"`

	// Encrypted metadata
	MetaNonce  []byte `cbor:"meta_nonce"`
	MetaLen    uint32 `cbor:"meta_len"`
	MetaCipher []byte `cbor:"meta_cipher"`
}

// aad returns the additional data binding ciphertexts to the stable header
// fields. The fields are concatenated as little-endian fixed-width values in
// a fixed order; none of them change after creation, so the value is stable
// across metadata saves.
func (h *Header) aad() []byte {
	out := make([]byte, 0, len(h.Magic)+3*4+len(h.Salt)+len(h.MasterKeyWrapNonce))
	out = append(out, h.Magic...)
	out = binary.LittleEndian.AppendUint32(out, h.Version)
	out = binary.LittleEndian.AppendUint32(out, h.KDFMemoryCostKiB)
	out = binary.LittleEndian.AppendUint32(out, h.KDFTimeCost)
	out = append(out, h.Salt...)
	out = append(out, h.MasterKeyWrapNonce...)
	return out
}

// encode serialises the header with its length prefix.
func (h *Header) encode() ([]byte, error) {
	payload, err := cbor.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize header: %w", err)
	}

	out := make([]byte, headerLenPrefixSize, headerLenPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

// readHeader reads the length prefix and deserialises the header. It returns
// the header and the offset of the data region.
func readHeader(r io.Reader) (*Header, int64, error) {
	// Read the length prefix. A file too short to hold it is a malformed
	// header and reports like any other corruption.
	var prefix [headerLenPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", uniformOpenMessage, ErrFormat)
	}

	headerLen := binary.LittleEndian.Uint32(prefix[:])
	if headerLen == 0 || headerLen > maxHeaderLength {
		return nil, 0, fmt.Errorf("%s: %w", uniformOpenMessage, ErrFormat)
	}

	// Read the serialised header. A truncation against the announced length
	// is a malformed header too.
	payload := make([]byte, headerLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", uniformOpenMessage, ErrFormat)
	}

	var h Header
	if err := cbor.Unmarshal(payload, &h); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", uniformOpenMessage, ErrFormat)
	}

	return &h, headerLenPrefixSize + int64(headerLen), nil
}

// checkIdentity validates the plaintext identification fields.
func (h *Header) checkIdentity() error {
	if string(h.Magic) != headerMagic {
		return fmt.Errorf("%s: %w", uniformOpenMessage, ErrFormat)
	}
	if h.Version != formatVersion {
		// The version itself must not leak through the returned error.
		log.Level(log.DebugLevel).Field("version", h.Version).Message("unsupported container version")
		return fmt.Errorf("%s: %w", uniformOpenMessage, ErrFormat)
	}
	return nil
}
