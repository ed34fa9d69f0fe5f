// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"crypto/sha256"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeHostFile writes size bytes of deterministic pseudo-random content and
// returns the path.
func writeHostFile(t *testing.T, name string, size int) string {
	t.Helper()

	content := make([]byte, size)
	//nolint:gosec // Deterministic content for tests, not key material
	rand.New(rand.NewSource(int64(size))).Read(content)

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func fileDigest(t *testing.T, path string) [32]byte {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	return sha256.Sum256(raw)
}

func TestImportExportRoundTrip(t *testing.T) {
	t.Parallel()

	const size = 2621440 // 2.5 MiB

	path := createTestVault(t)
	sess := openTestVault(t, path)
	hostPath := writeHostFile(t, "source.bin", size)

	id, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "")
	require.NoError(t, err)

	// Node shape
	n, err := sess.GetNode(id)
	require.NoError(t, err)
	require.Equal(t, NodeTypeFile, n.Type)
	require.Equal(t, "source.bin", n.Name)
	require.Equal(t, uint64(size), n.Size)
	require.Len(t, n.Chunks, 3)

	wantPlainLens := []uint32{1048576, 1048576, 524288}
	for i, ch := range n.Chunks {
		require.Equal(t, uint32(i+1), ch.Index)
		require.Equal(t, wantPlainLens[i]+16, ch.Len)
		require.Len(t, ch.Nonce, 12)
	}

	// Chunks are laid out back to back in insertion order.
	require.Equal(t, uint64(0), n.Chunks[0].Offset)
	require.Equal(t, uint64(n.Chunks[0].Len), n.Chunks[1].Offset)

	// Export round trip
	outPath := filepath.Join(t.TempDir(), "exported.bin")
	require.NoError(t, sess.ExportFile(id, outPath))
	require.Equal(t, fileDigest(t, hostPath), fileDigest(t, outPath))

	// The import survives a reopen.
	reopened := openTestVault(t, path)
	outPath2 := filepath.Join(t.TempDir(), "exported2.bin")
	require.NoError(t, reopened.ExportFile(id, outPath2))
	require.Equal(t, fileDigest(t, hostPath), fileDigest(t, outPath2))
}

func TestImportEmptyFile(t *testing.T) {
	t.Parallel()

	path := createTestVault(t)
	sess := openTestVault(t, path)
	hostPath := writeHostFile(t, "empty.bin", 0)

	id, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "")
	require.NoError(t, err)

	n, err := sess.GetNode(id)
	require.NoError(t, err)
	require.Zero(t, n.Size)
	require.Empty(t, n.Chunks)

	raw, err := sess.ReadFileBytes(id)
	require.NoError(t, err)
	require.Empty(t, raw)
}

func TestImportNameHandling(t *testing.T) {
	t.Parallel()

	path := createTestVault(t)
	sess := openTestVault(t, path)
	hostPath := writeHostFile(t, "source.bin", 128)

	t.Run("override", func(t *testing.T) {
		id, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "renamed.bin")
		require.NoError(t, err)

		n, err := sess.GetNode(id)
		require.NoError(t, err)
		require.Equal(t, "renamed.bin", n.Name)
	})

	t.Run("collision", func(t *testing.T) {
		_, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "renamed.bin")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNameCollision)
	})

	t.Run("missing parent", func(t *testing.T) {
		_, err := sess.ImportFile(testPassword, hostPath, 42, "")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("parent is a file", func(t *testing.T) {
		parent, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "parent.bin")
		require.NoError(t, err)

		_, err = sess.ImportFile(testPassword, hostPath, parent, "child.bin")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNotADirectory)
	})
}

func TestReadFileBytes(t *testing.T) {
	t.Parallel()

	path := createTestVault(t)
	sess := openTestVault(t, path)
	hostPath := writeHostFile(t, "source.bin", 4096)

	id, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "")
	require.NoError(t, err)

	want, err := os.ReadFile(hostPath)
	require.NoError(t, err)

	got, err := sess.ReadFileBytes(id)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	path := createTestVault(t)
	sess := openTestVault(t, path)

	t.Run("not found", func(t *testing.T) {
		err := sess.ExportFile(42, filepath.Join(t.TempDir(), "out.bin"))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("not a file", func(t *testing.T) {
		id, err := sess.Mkdir(sess.RootID(), "docs")
		require.NoError(t, err)

		err = sess.ExportFile(id, filepath.Join(t.TempDir(), "out.bin"))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrNotAFile)
	})
}

// TestTamperedChunk flips one ciphertext byte of the second chunk and expects
// the export to fail on it, while the first chunk still authenticates.
func TestTamperedChunk(t *testing.T) {
	t.Parallel()

	const size = 2621440 // 2.5 MiB

	path := createTestVault(t)
	sess := openTestVault(t, path)
	hostPath := writeHostFile(t, "source.bin", size)

	id, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "")
	require.NoError(t, err)

	n, err := sess.GetNode(id)
	require.NoError(t, err)
	require.Len(t, n.Chunks, 3)

	flipDataByte(t, path, n.Chunks[1].Offset+10)

	t.Run("export fails on the tampered chunk", func(t *testing.T) {
		err := sess.ExportFile(id, filepath.Join(t.TempDir(), "out.bin"))
		require.Error(t, err)
		require.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("preceding chunk still authenticates", func(t *testing.T) {
		var visited int
		err := sess.forEachChunk(id, func(plaintext []byte) error {
			visited++
			require.Len(t, plaintext, chunkSize)
			return nil
		})
		require.Error(t, err)
		require.ErrorIs(t, err, ErrAuthentication)
		require.Equal(t, 1, visited)
	})
}

// TestSwappedChunks exchanges the ciphertexts of two equally sized chunks;
// the per-chunk key and position binding must reject the result.
func TestSwappedChunks(t *testing.T) {
	t.Parallel()

	const size = 2 * chunkSize

	path := createTestVault(t)
	sess := openTestVault(t, path)
	hostPath := writeHostFile(t, "source.bin", size)

	id, err := sess.ImportFile(testPassword, hostPath, sess.RootID(), "")
	require.NoError(t, err)

	n, err := sess.GetNode(id)
	require.NoError(t, err)
	require.Len(t, n.Chunks, 2)
	require.Equal(t, n.Chunks[0].Len, n.Chunks[1].Len)

	swapDataRanges(t, path, n.Chunks[0], n.Chunks[1])

	_, err = sess.ReadFileBytes(id)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrAuthentication)
}

// -----------------------------------------------------------------------------

func dataStartOf(t *testing.T, path string) int64 {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	_, dataStart, err := readHeader(f)
	require.NoError(t, err)
	return dataStart
}

func flipDataByte(t *testing.T, path string, offset uint64) {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	pos := dataStartOf(t, path) + int64(offset)
	raw[pos] ^= 0x01
	require.NoError(t, os.WriteFile(path, raw, 0o600))
}

func swapDataRanges(t *testing.T, path string, a, b ChunkRef) {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	dataStart := dataStartOf(t, path)
	aStart := dataStart + int64(a.Offset)
	bStart := dataStart + int64(b.Offset)

	tmp := append([]byte(nil), raw[aStart:aStart+int64(a.Len)]...)
	copy(raw[aStart:], raw[bStart:bStart+int64(b.Len)])
	copy(raw[bStart:], tmp)

	require.NoError(t, os.WriteFile(path, raw, 0o600))
}
