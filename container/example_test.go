// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"fmt"
	"os"
	"path/filepath"
)

func Example() {
	// Create a vault in a scratch directory. Production code should use the
	// default Argon2id costs; the tiny ones keep the example fast.
	dir, err := os.MkdirTemp("", "vault-example-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "v.dat")
	if err := Create(path, "correct horse battery staple", 8, 1); err != nil {
		panic(err)
	}

	// Unlock it
	sess, err := Open(path, "correct horse battery staple")
	if err != nil {
		panic(err)
	}
	defer sess.Close()

	// Populate a small tree and persist it
	if _, err := sess.Mkdir(sess.RootID(), "pics"); err != nil {
		panic(err)
	}
	if _, err := sess.Mkdir(sess.RootID(), "docs"); err != nil {
		panic(err)
	}
	if err := sess.SaveMetadata("correct horse battery staple"); err != nil {
		panic(err)
	}

	// Children come back sorted by name.
	for _, child := range sess.ChildrenOf(sess.RootID()) {
		fmt.Println(child.Name)
	}

	// Output:
	// docs
	// pics
}
