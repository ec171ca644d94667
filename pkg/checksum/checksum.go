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

// Package checksum computes the content-addressed SHA-256 digests that
// bind plaintext files to data-bucket and metadata-bucket keys.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Of hashes all of b and returns the lowercase hex digest. The engine
// buffers plaintext and ciphertext in memory before calling it, so no
// streaming variant is offered.
func Of(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// WithExtra hashes b immediately followed by extra, folding the two byte
// strings into one digest. It is used to compute the entry key,
// SHA256(plaintext ‖ path_bytes), without materializing the
// concatenation.
func WithExtra(b, extra []byte) string {
	h := sha256.New()
	h.Write(b)
	h.Write(extra)
	return hex.EncodeToString(h.Sum(nil))
}
