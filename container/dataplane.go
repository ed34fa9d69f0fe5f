// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/awnumar/memguard"

	"github.com/DataDog/go-secure-vault/crypto/aeadutil"
	"github.com/DataDog/go-secure-vault/crypto/kdfutil"
	"github.com/DataDog/go-secure-vault/generator/randomness"
	"github.com/DataDog/go-secure-vault/log"
)

// chunkSize is the plaintext chunk size of imported files. The last chunk may
// be shorter and is never empty; a zero-length host file yields zero chunks.
const chunkSize = 1 << 20 // 1 MiB

// ImportFile reads the host file and appends it to the container as a
// sequence of encrypted chunks, then persists the updated metadata. The new
// node is created under the given parent with the override name, or the host
// file base name when the override is empty. The returned id identifies the
// new file node.
//
// A failure after partial chunk writes leaves orphan ciphertext in the data
// region but the persisted metadata is unchanged; the next open sees the
// container as if the import had never been attempted.
func (s *Session) ImportFile(password, hostPath string, parentID uint64, nameOverride string) (uint64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}

	name := nameOverride
	if name == "" {
		name = filepath.Base(hostPath)
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return 0, fmt.Errorf("unable to determine a file name from %q", hostPath)
	}

	// Validate the insertion before touching the data region so that a
	// collision or a bad parent does not leak ciphertext.
	if err := s.meta.checkInsert(parentID, name); err != nil {
		return 0, err
	}

	// Open the host file
	src, err := os.Open(hostPath)
	if err != nil {
		return 0, fmt.Errorf("unable to open host file: %w", err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return 0, fmt.Errorf("unable to stat host file: %w", err)
	}
	size := uint64(srcInfo.Size())

	// Open the container and position at end of file for append
	vf, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("unable to open container file: %w", err)
	}
	defer vf.Close()

	_, dataStart, err := readHeader(vf)
	if err != nil {
		return 0, err
	}
	writePos, err := vf.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("unable to seek container end: %w", err)
	}

	// The per-file key schedule is bound to the node id, so the id is
	// allocated before the first chunk is sealed.
	fileID := s.meta.AllocID()
	fileKey, err := s.fileKey(fileID)
	if err != nil {
		return 0, err
	}
	defer memguard.WipeBytes(fileKey)

	// Read, seal and append chunks
	var chunks []ChunkRef
	buf := make([]byte, chunkSize)
	defer memguard.WipeBytes(buf)

	for index := uint32(1); ; index++ {
		n, readErr := io.ReadFull(src, buf)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return 0, fmt.Errorf("unable to read host file: %w", readErr)
		}

		ciphertext, nonce, err := sealChunk(fileKey, fileID, index, buf[:n])
		if err != nil {
			return 0, err
		}

		if _, err := vf.Write(ciphertext); err != nil {
			return 0, fmt.Errorf("unable to append chunk %d: %w", index, err)
		}

		chunks = append(chunks, ChunkRef{
			Index:  index,
			Offset: uint64(writePos - dataStart),
			Len:    uint32(len(ciphertext)),
			Nonce:  nonce,
		})
		writePos += int64(len(ciphertext))

		if readErr != nil {
			// Short read: the host file is exhausted.
			break
		}
	}

	// Flush appended ciphertext before the metadata references it.
	if err := vf.Sync(); err != nil {
		return 0, fmt.Errorf("unable to sync container file: %w", err)
	}

	// Record the node and persist
	s.meta.addFileNode(fileID, parentID, name, size, chunks)
	if err := s.SaveMetadata(password); err != nil {
		return 0, err
	}

	log.Level(log.DebugLevel).
		Field("id", fileID).
		Field("chunks", len(chunks)).
		Message("file imported")

	return fileID, nil
}

// ExportFile decrypts the given file node into the host file at outPath.
func (s *Session) ExportFile(fileID uint64, outPath string) error {
	if s.closed {
		return ErrSessionClosed
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create output file: %w", err)
	}

	if err := s.forEachChunk(fileID, func(plaintext []byte) error {
		if _, err := out.Write(plaintext); err != nil {
			return fmt.Errorf("unable to write output file: %w", err)
		}
		return nil
	}); err != nil {
		out.Close()
		return err
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("unable to sync output file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("unable to close output file: %w", err)
	}

	return nil
}

// ReadFileBytes decrypts the given file node into memory. It is meant for
// previews and small files; large files should be exported instead.
func (s *Session) ReadFileBytes(fileID uint64) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	var out bytes.Buffer
	if err := s.forEachChunk(fileID, func(plaintext []byte) error {
		out.Write(plaintext)
		return nil
	}); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}

// -----------------------------------------------------------------------------

// forEachChunk reads, authenticates and decrypts every chunk of the given
// file node in order, handing each plaintext to the visit callback. The
// plaintext buffer is wiped after the callback returns.
func (s *Session) forEachChunk(fileID uint64, visit func(plaintext []byte) error) error {
	n := s.meta.GetNode(fileID)
	if n == nil {
		return fmt.Errorf("unable to resolve node %d: %w", fileID, ErrNotFound)
	}
	if n.Type != NodeTypeFile {
		return fmt.Errorf("unable to read node %d: %w", fileID, ErrNotAFile)
	}

	fileKey, err := s.fileKey(fileID)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(fileKey)

	vf, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("unable to open container file: %w", err)
	}
	defer vf.Close()

	_, dataStart, err := readHeader(vf)
	if err != nil {
		return err
	}

	for _, ch := range n.Chunks {
		ciphertext := make([]byte, ch.Len)
		if _, err := vf.ReadAt(ciphertext, dataStart+int64(ch.Offset)); err != nil {
			return fmt.Errorf("unable to read chunk %d: %w", ch.Index, err)
		}

		plaintext, err := openChunk(fileKey, fileID, ch, ciphertext)
		if err != nil {
			return err
		}

		visitErr := visit(plaintext)
		memguard.WipeBytes(plaintext)
		if visitErr != nil {
			return visitErr
		}
	}

	return nil
}

// sealChunk encrypts one chunk under its derived key, binding the ciphertext
// to the (file, index) pair.
func sealChunk(fileKey []byte, fileID uint64, index uint32, plaintext []byte) (ciphertext, nonce []byte, err error) {
	chunkKey, err := kdfutil.SubKey(fileKey, chunkInfo(index))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to derive chunk key: %w", err)
	}
	defer memguard.WipeBytes(chunkKey)

	nonce, err = randomness.Nonce()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to generate chunk nonce: %w", err)
	}

	ciphertext, err = aeadutil.Seal(chunkKey, nonce, chunkAAD(fileID, index), plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to encrypt chunk %d: %w", index, err)
	}

	return ciphertext, nonce, nil
}

// openChunk decrypts one chunk, failing with an authentication error when the
// ciphertext, its position binding or its nonce was tampered with.
func openChunk(fileKey []byte, fileID uint64, ch ChunkRef, ciphertext []byte) ([]byte, error) {
	chunkKey, err := kdfutil.SubKey(fileKey, chunkInfo(ch.Index))
	if err != nil {
		return nil, fmt.Errorf("unable to derive chunk key: %w", err)
	}
	defer memguard.WipeBytes(chunkKey)

	plaintext, err := aeadutil.Open(chunkKey, ch.Nonce, chunkAAD(fileID, ch.Index), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt chunk %d: %w", ch.Index, ErrAuthentication)
	}

	return plaintext, nil
}

// fileKey derives the per-file key from the session master key.
func (s *Session) fileKey(fileID uint64) ([]byte, error) {
	key, err := kdfutil.SubKey(s.masterKey.Bytes(), "file:"+strconv.FormatUint(fileID, 10))
	if err != nil {
		return nil, fmt.Errorf("unable to derive file key: %w", err)
	}
	return key, nil
}

// chunkInfo is the sub-key derivation label of the chunk at the given index.
func chunkInfo(index uint32) string {
	return "chunk:" + strconv.FormatUint(uint64(index), 10)
}

// chunkAAD binds a chunk ciphertext to its (file, index) position, preventing
// cross-file and intra-file chunk swapping.
func chunkAAD(fileID uint64, index uint32) []byte {
	return []byte(strconv.FormatUint(fileID, 10) + ":" + strconv.FormatUint(uint64(index), 10))
}
