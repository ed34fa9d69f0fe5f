// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package atomic provides atomic-rename file replacement helpers.
package atomic

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/DataDog/go-secure-vault/log"
)

// TempSuffix is appended to the target filename to build the sibling
// temporary file used during replacement.
const TempSuffix = ".tmp"

// WriteFile atomically replaces the file content of the filename target by the
// reader content. The content is staged in a sibling "<filename>.tmp" file,
// synced to disk, then renamed over the target. If an error occurs before the
// rename, the temporary file is deleted and the target is not touched; a
// failure to sync the parent directory is reported after the target was
// already replaced.
func WriteFile(filename string, r io.Reader) (err error) {
	tmpFilename := filename + TempSuffix

	// Create the sibling temporary file
	f, err := os.OpenFile(tmpFilename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create the temporary file: %w", err)
	}
	defer func() {
		// Ensure that the temporary file is removed in all failure cases.
		if err == nil {
			return
		}
		if rmErr := os.Remove(tmpFilename); rmErr != nil {
			if !errors.Is(rmErr, fs.ErrNotExist) {
				log.Error(rmErr).Messagef("unable to remove temporary file %q", tmpFilename)
			}
		}
	}()
	defer func(closer io.Closer) {
		// Close the temporary file
		if closeErr := closer.Close(); closeErr != nil {
			if !errors.Is(closeErr, fs.ErrClosed) {
				log.Error(closeErr).Message("unable to successfully close the file handler")
			}
		}
	}(f)

	// Use a buffered IO Reader to reduce write syscalls
	bio := bufio.NewWriter(f)

	// Copy the file content
	if _, err := io.Copy(bio, r); err != nil {
		return fmt.Errorf("unable to copy the reader content to the temporary file: %w", err)
	}

	// Flush the buffered writer to ensure that there is no dangling data.
	if err := bio.Flush(); err != nil {
		return fmt.Errorf("unable to flush the buffered writer: %w", err)
	}

	// Ensure that the staged content is synced to disk.
	if err := f.Sync(); err != nil {
		return fmt.Errorf("unable to sync file content: %w", err)
	}

	// Explicitly close the temporary file
	if err = f.Close(); err != nil {
		return fmt.Errorf("unable to close the temporary file: %w", err)
	}

	// Keep similar file modes when replacing an existing target.
	if fi, statErr := os.Stat(filename); statErr == nil {
		if chmodErr := os.Chmod(tmpFilename, fi.Mode()); chmodErr != nil {
			return fmt.Errorf("unable to apply file modes to temporary file %q: %w", tmpFilename, chmodErr)
		}
	} else if !errors.Is(statErr, fs.ErrNotExist) {
		return fmt.Errorf("unable to retrieve target %q file information: %w", filename, statErr)
	}

	// Move the temporary file to the target file
	if err := os.Rename(tmpFilename, filename); err != nil {
		return fmt.Errorf("unable to replace the target file %q by the temporary one: %w", filename, err)
	}

	// Rename durability requires the parent directory to be synced too.
	if err := syncDir(filepath.Dir(filename)); err != nil {
		return fmt.Errorf("unable to sync parent directory of %q: %w", filename, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// syncDir ensure that the directory handle is Synced on disk by explicitly calling
// fsync to the directory handle.
func syncDir(dir string) error {
	// Open the directory
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("unable to open the target directory %q: %w", dir, err)
	}

	// Retrieve file information
	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("unable retrieve file information for %q: %w", dir, err)
	}

	// Ensure the target is a directory
	if !fi.IsDir() {
		return fmt.Errorf("unable to apply directory sync on a file")
	}

	// Sync to disk
	if err := f.Sync(); err != nil {
		return fmt.Errorf("unable sync directory %q: %w", dir, err)
	}

	// Close the directory handle
	if err := f.Close(); err != nil {
		return fmt.Errorf("unable to close the directory handle for %q: %w", dir, err)
	}

	return nil
}
