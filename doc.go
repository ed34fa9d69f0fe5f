// Package securevault provides a single-file encrypted container holding a
// virtual filesystem, sealed by a user password.
//
// The package is a part of the "Secure Vault" project.
//
// A vault stores directories and files inside one host file. File contents and
// filesystem metadata are both confidential and integrity protected; only a
// holder of the password can enumerate, read or modify the contents.
//
// The container engine lives in the container package; the supporting
// cryptographic primitives are split by concern under crypto, generator and
// ioutil. The cmd/vault command is a thin front-end over the container API.
//
// The project is licensed under the Apache License, Version 2.0.
package securevault
