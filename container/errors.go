// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import "errors"

var (
	// ErrFormat is raised when the container file does not carry a parseable
	// header, carries an unknown magic or an unsupported format version.
	ErrFormat = errors.New("invalid container format")
	// ErrAuthentication is raised on any AEAD authentication failure. At open
	// time it covers both a wrong password and a tampered container; the two
	// cases are deliberately not distinguishable from the error message.
	ErrAuthentication = errors.New("authentication failed")
	// ErrKDFParams is raised when key derivation cost parameters are rejected.
	ErrKDFParams = errors.New("invalid key derivation parameters")
	// ErrIntegrity is raised when an internal consistency check fails, such as
	// an unwrapped master key of the wrong length or a master key mismatch
	// during a metadata save.
	ErrIntegrity = errors.New("container integrity check failed")
	// ErrNotFound is raised when a node id does not resolve.
	ErrNotFound = errors.New("node not found")
	// ErrNotADirectory is raised when a directory operation targets a file node.
	ErrNotADirectory = errors.New("node is not a directory")
	// ErrNotAFile is raised when a file operation targets a directory node.
	ErrNotAFile = errors.New("node is not a file")
	// ErrNameCollision is raised when a sibling with the same name already exists.
	ErrNameCollision = errors.New("name already exists")
	// ErrIsRoot is raised when attempting to remove the root directory.
	ErrIsRoot = errors.New("cannot remove root")
	// ErrSessionClosed is raised when operating on a locked session.
	ErrSessionClosed = errors.New("session is closed")
)

// uniformOpenMessage is the shared open failure message. A wrong password and
// a corrupted container must not be distinguishable from the message text.
const uniformOpenMessage = "wrong password or corrupted vault"
