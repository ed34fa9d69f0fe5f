// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
	"github.com/fxamacker/cbor/v2"

	"github.com/DataDog/go-secure-vault/crypto/aeadutil"
	"github.com/DataDog/go-secure-vault/generator/randomness"
	"github.com/DataDog/go-secure-vault/ioutil/atomic"
	"github.com/DataDog/go-secure-vault/log"
)

// Session is the runtime handle of an unlocked container. It owns the master
// key and a mutable in-memory copy of the metadata. Metadata mutations are
// in-memory only until SaveMetadata persists them.
//
// A session is not safe for concurrent use; callers serialise access.
type Session struct {
	path      string
	masterKey *memguard.LockedBuffer
	meta      *Metadata
	closed    bool
}

// Path returns the container file path backing the session.
func (s *Session) Path() string {
	return s.path
}

// Close locks the session and wipes the master key. The session is unusable
// afterwards.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.masterKey.Destroy()
	s.meta = nil

	log.Level(log.DebugLevel).Field("path", s.path).Message("session locked")
}

// RootID returns the id of the root directory.
func (s *Session) RootID() uint64 {
	if s.closed {
		return 0
	}
	return s.meta.RootID
}

// GetNode returns a copy of the node with the given id.
func (s *Session) GetNode(id uint64) (Node, error) {
	if s.closed {
		return Node{}, ErrSessionClosed
	}

	n := s.meta.GetNode(id)
	if n == nil {
		return Node{}, fmt.Errorf("unable to resolve node %d: %w", id, ErrNotFound)
	}
	return cloneNode(n), nil
}

// ChildrenOf returns copies of the nodes under the given parent, sorted
// ascending by name.
func (s *Session) ChildrenOf(parentID uint64) []Node {
	if s.closed {
		return nil
	}

	children := s.meta.ChildrenOf(parentID)
	out := make([]Node, 0, len(children))
	for _, n := range children {
		out = append(out, cloneNode(n))
	}
	return out
}

// Mkdir creates a directory under the given parent in the in-memory metadata
// and returns its id.
func (s *Session) Mkdir(parentID uint64, name string) (uint64, error) {
	if s.closed {
		return 0, ErrSessionClosed
	}
	return s.meta.Mkdir(parentID, name)
}

// Rename changes the name of the given node in the in-memory metadata.
func (s *Session) Rename(id uint64, newName string) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.meta.Rename(id, newName)
}

// RemoveSubtree removes the given node and its descendants from the in-memory
// metadata. Referenced ciphertext stays in the data region until a future
// compaction rewrites the container.
func (s *Session) RemoveSubtree(id uint64) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.meta.RemoveSubtree(id)
}

// SaveMetadata atomically rewrites the container header with the session's
// current metadata. The password is required again because the save re-derives
// the KEK and re-verifies the wrapped master key against the session's; a
// mismatch means the container file was replaced under the unlocked session
// and aborts the save.
func (s *Session) SaveMetadata(password string) error {
	if s.closed {
		return ErrSessionClosed
	}

	// Re-open and re-read the on-disk header
	f, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("unable to open container file: %w", err)
	}
	defer f.Close()

	h, dataStart, err := readHeader(f)
	if err != nil {
		return err
	}
	if err := h.checkIdentity(); err != nil {
		return err
	}

	// Re-derive the KEK and re-verify the wrapped master key
	kek, err := deriveKEK(password, h.Salt, h.KDFMemoryCostKiB, h.KDFTimeCost)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(kek)

	aad := h.aad()
	onDiskMaster, err := aeadutil.Open(kek, h.MasterKeyWrapNonce, aad, h.WrappedMasterKey)
	if err != nil {
		return fmt.Errorf("%s: %w", uniformOpenMessage, ErrAuthentication)
	}
	defer memguard.WipeBytes(onDiskMaster)

	if len(onDiskMaster) != masterKeyLength {
		return fmt.Errorf("unexpected master key length: %w", ErrIntegrity)
	}
	if subtle.ConstantTimeCompare(onDiskMaster, s.masterKey.Bytes()) != 1 {
		return fmt.Errorf("master key mismatch: %w", ErrIntegrity)
	}

	// Seal the current metadata with a fresh nonce. The AAD is unchanged: the
	// fields it covers never change after creation, so the wrapped master key
	// is never re-encrypted.
	metaPlain, err := cbor.Marshal(s.meta)
	if err != nil {
		return fmt.Errorf("unable to serialize metadata: %w", err)
	}
	defer memguard.WipeBytes(metaPlain)

	metaNonce, err := randomness.Nonce()
	if err != nil {
		return fmt.Errorf("unable to generate metadata nonce: %w", err)
	}
	h.MetaNonce = metaNonce
	h.MetaCipher, err = aeadutil.Seal(s.masterKey.Bytes(), metaNonce, aad, metaPlain)
	if err != nil {
		return fmt.Errorf("unable to encrypt metadata: %w", err)
	}
	h.MetaLen = uint32(len(h.MetaCipher))

	encoded, err := h.encode()
	if err != nil {
		return err
	}

	// Stage the new header followed by a verbatim copy of the current data
	// region, then rename over the original.
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("unable to stat container file: %w", err)
	}
	dataRegion := io.NewSectionReader(f, dataStart, fi.Size()-dataStart)

	if err := atomic.WriteFile(s.path, io.MultiReader(bytes.NewReader(encoded), dataRegion)); err != nil {
		return fmt.Errorf("unable to rewrite container file: %w", err)
	}

	log.Level(log.DebugLevel).Field("path", s.path).Field("nodes", len(s.meta.Nodes)).Message("metadata saved")

	return nil
}

// -----------------------------------------------------------------------------

func cloneNode(n *Node) Node {
	out := *n
	out.Chunks = append([]ChunkRef(nil), n.Chunks...)
	return out
}
