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

// Package backend defines the uniform key→blob store contract that the
// Engine binds against, plus the Factory interface that builds one of
// the two concrete providers (object-bucket, remote-file-server).
package backend

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Retrieve and RetrieveToFile when the key
// does not exist in the bucket.
var ErrNotFound = errors.New("backend: key not found")

// Attrs is back-end-specific metadata about a stored key, surfaced only
// for the CLI's diagnostic list-cloud-keys/list-cloud-data commands.
type Attrs struct {
	Size         int64
	LastModified string
}

// Backend is a key-addressed blob store bound to a single bucket name.
// Storage preserves byte-exactness: Retrieve(Store(k, x)) == x.
//
// A Backend is acquired with Connect and released with Disconnect
// (Disconnect is also Close, so a Backend can be deferred directly);
// both are idempotent.
type Backend interface {
	io.Closer

	// Connect establishes (or reuses) the underlying session. Calling
	// Connect on an already-open Backend returns it unchanged.
	Connect(ctx context.Context) error

	// Disconnect releases the session. Safe to call multiple times.
	Disconnect() error

	// Store writes exactly b under key, overwriting any existing
	// value.
	Store(ctx context.Context, key string, b []byte) error

	// StoreFromFile streams the contents of path and writes them
	// under key.
	StoreFromFile(ctx context.Context, key, path string) error

	// Retrieve reads the full contents stored under key. It returns
	// ErrNotFound if key does not exist.
	Retrieve(ctx context.Context, key string) ([]byte, error)

	// RetrieveToFile streams the contents stored under key into path.
	// The parent directory of path must already exist.
	RetrieveToFile(ctx context.Context, key, path string) error

	// Delete removes key if present. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// List returns every key and its raw content in the bucket. It is
	// intended for small diagnostic buckets, not production-scale
	// enumeration.
	List(ctx context.Context) (map[string][]byte, error)

	// ListKeys enumerates keys and their back-end-specific attrs,
	// without fetching content.
	ListKeys(ctx context.Context) (map[string]Attrs, error)
}
