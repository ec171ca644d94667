/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cipher implements the three encryption pipelines the Engine
// can bind against: gpg (hybrid public-key, via an external keyring
// and gpg-agent/pinentry), symmetric (password-derived AES-256-CBC),
// and remote (delegated to a synchronous worker that runs the symmetric
// pipeline, either in process or in a helper subprocess).
package cipher

import (
	"fmt"
	"io"
)

// Pipeline transforms a plaintext stream into an opaque ciphertext
// stream and back. Encrypt may return a non-nil encryptionKey: the
// symmetric variant returns the generated password so the caller can
// persist it on the Record, and the remote variant returns whatever key
// its worker reports (the symmetric password, for LocalWorker); the gpg
// pipeline returns nil because the key material travels inside the
// ciphertext envelope.
//
// Decrypt is given back whatever Encrypt returned, verbatim.
type Pipeline interface {
	Encrypt(r io.Reader, w io.Writer) (encryptionKey *string, err error)
	Decrypt(r io.Reader, w io.Writer, encryptionKey *string) error
}

// Variant names a configured cipher pipeline kind, as selected by the
// pipeline key of the configuration file's [general] section.
type Variant string

const (
	GPG       Variant = "gpg"
	Symmetric Variant = "symmetric"
	Remote    Variant = "remote"
)

// New constructs the Pipeline for variant. keyring is only consulted
// for GPG; recipients/signer name identities within it. worker is only
// consulted for Remote.
func New(variant Variant, keyring *Keyring, recipients []string, signer string, worker RemoteWorker) (Pipeline, error) {
	switch variant {
	case GPG:
		return NewGPGPipeline(keyring, recipients, signer), nil
	case Symmetric:
		return NewSymmetricPipeline(), nil
	case Remote:
		if worker == nil {
			return nil, fmt.Errorf("cipher: remote variant requires a worker")
		}
		return NewRemotePipeline(worker), nil
	default:
		return nil, fmt.Errorf("cipher: unknown variant %q", variant)
	}
}
