// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"sort"
)

// NodeType discriminates directory and file nodes.
type NodeType string

const (
	// NodeTypeDir marks a directory node.
	NodeTypeDir NodeType = "Dir"
	// NodeTypeFile marks a file node.
	NodeTypeFile NodeType = "File"
)

// ChunkRef locates one encrypted chunk of a file inside the container data
// region.
type ChunkRef struct {
	// Index is the 1-based position of the chunk in the file.
	Index uint32 `cbor:"index"`
	// Offset is the byte offset of the ciphertext relative to the data region
	// start.
	Offset uint64 `cbor:"offset"`
	// Len is the ciphertext length, authentication tag included.
	Len uint32 `cbor:"len"`
	// Nonce is the 12 bytes AEAD nonce used to seal the chunk.
	Nonce []byte `cbor:"nonce"`
}

// Node is one entry of the virtual filesystem.
type Node struct {
	ID       uint64     `cbor:"id"`
	ParentID uint64     `cbor:"parent_id"`
	Type     NodeType   `cbor:"node_type"`
	Name     string     `cbor:"name"`
	Size     uint64     `cbor:"size"`
	Chunks   []ChunkRef `cbor:"chunks"`
}

// FreeRange describes a reusable byte span of the data region. The list is
// serialised but never populated; it is reserved for a future compactor.
type FreeRange struct {
	Offset uint64 `cbor:"offset"`
	Len    uint64 `cbor:"len"`
}

// Metadata is the in-memory filesystem object graph of an unlocked container.
type Metadata struct {
	NextID   uint64      `cbor:"next_id"`
	RootID   uint64      `cbor:"root_id"`
	Nodes    []*Node     `cbor:"nodes"`
	FreeList []FreeRange `cbor:"freelist"`
}

// NewMetadata returns the metadata of an empty container: a single root
// directory with id 1 named "/".
func NewMetadata() *Metadata {
	return &Metadata{
		NextID: 2,
		RootID: 1,
		Nodes: []*Node{
			{
				ID:       1,
				ParentID: 0,
				Type:     NodeTypeDir,
				Name:     "/",
			},
		},
		FreeList: []FreeRange{},
	}
}

// AllocID returns the next node id. Ids are monotonic and never reused.
func (m *Metadata) AllocID() uint64 {
	id := m.NextID
	m.NextID++
	return id
}

// GetNode returns the node with the given id.
func (m *Metadata) GetNode(id uint64) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// ChildrenOf returns the nodes under the given parent, sorted ascending by
// name as raw byte sequences. Sibling uniqueness makes the order total.
func (m *Metadata) ChildrenOf(parentID uint64) []*Node {
	var out []*Node
	for _, n := range m.Nodes {
		if n.ParentID == parentID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Mkdir creates a directory under the given parent and returns its id.
func (m *Metadata) Mkdir(parentID uint64, name string) (uint64, error) {
	if err := m.checkInsert(parentID, name); err != nil {
		return 0, err
	}

	id := m.AllocID()
	m.Nodes = append(m.Nodes, &Node{
		ID:       id,
		ParentID: parentID,
		Type:     NodeTypeDir,
		Name:     name,
	})

	return id, nil
}

// AddFile creates a file node under the given parent and returns its id.
func (m *Metadata) AddFile(parentID uint64, name string, size uint64, chunks []ChunkRef) (uint64, error) {
	if err := m.checkInsert(parentID, name); err != nil {
		return 0, err
	}

	id := m.AllocID()
	m.addFileNode(id, parentID, name, size, chunks)

	return id, nil
}

// addFileNode appends a file node with a pre-allocated id. The data plane
// allocates the id before sealing chunks because the per-file key schedule is
// bound to it.
func (m *Metadata) addFileNode(id, parentID uint64, name string, size uint64, chunks []ChunkRef) {
	m.Nodes = append(m.Nodes, &Node{
		ID:       id,
		ParentID: parentID,
		Type:     NodeTypeFile,
		Name:     name,
		Size:     size,
		Chunks:   chunks,
	})
}

// Rename changes the name of the given node. The node itself is excluded from
// the sibling collision check, so renaming to the current name is accepted.
func (m *Metadata) Rename(id uint64, newName string) error {
	n := m.GetNode(id)
	if n == nil {
		return fmt.Errorf("unable to rename node %d: %w", id, ErrNotFound)
	}
	if newName == "" {
		return fmt.Errorf("unable to rename node %d: name must not be empty", id)
	}
	if m.childExists(n.ParentID, newName, id) {
		return fmt.Errorf("unable to rename node %d to %q: %w", id, newName, ErrNameCollision)
	}

	n.Name = newName
	return nil
}

// RemoveSubtree removes the given node and all its transitive descendants.
// Data region space referenced by removed file nodes is not reclaimed.
func (m *Metadata) RemoveSubtree(id uint64) error {
	if id == m.RootID {
		return fmt.Errorf("unable to remove node %d: %w", id, ErrIsRoot)
	}
	if m.GetNode(id) == nil {
		return fmt.Errorf("unable to remove node %d: %w", id, ErrNotFound)
	}

	// Collect the transitive closure via parent-id traversal.
	stack := []uint64{id}
	doomed := map[uint64]struct{}{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		doomed[cur] = struct{}{}
		for _, n := range m.Nodes {
			if n.ParentID == cur {
				stack = append(stack, n.ID)
			}
		}
	}

	kept := m.Nodes[:0]
	for _, n := range m.Nodes {
		if _, ok := doomed[n.ID]; !ok {
			kept = append(kept, n)
		}
	}
	m.Nodes = kept

	return nil
}

// -----------------------------------------------------------------------------

// checkInsert validates the insertion preconditions shared by Mkdir and
// AddFile.
func (m *Metadata) checkInsert(parentID uint64, name string) error {
	parent := m.GetNode(parentID)
	if parent == nil {
		return fmt.Errorf("unable to resolve parent %d: %w", parentID, ErrNotFound)
	}
	if parent.Type != NodeTypeDir {
		return fmt.Errorf("unable to insert under node %d: %w", parentID, ErrNotADirectory)
	}
	if name == "" {
		return fmt.Errorf("unable to insert under node %d: name must not be empty", parentID)
	}
	if m.childExists(parentID, name, 0) {
		return fmt.Errorf("unable to insert %q under node %d: %w", name, parentID, ErrNameCollision)
	}
	return nil
}

// childExists reports whether the parent already holds a child with the given
// name, ignoring the node with the given id. Names compare as raw bytes.
func (m *Metadata) childExists(parentID uint64, name string, excludeID uint64) bool {
	for _, n := range m.Nodes {
		if n.ParentID == parentID && n.ID != excludeID && n.Name == name {
			return true
		}
	}
	return false
}
