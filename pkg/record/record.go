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

// Package record defines the metadata record that binds a logical
// backed-up file to its content-addressed data blob, and the equality
// filters used to query for them.
package record

// Version is the only metadata_version this build understands. Any
// metadata bucket object decoding to a different version is rejected.
const Version = 1

// Record is one metadata record: one per logical backed-up file. It is
// marshaled as the JSON payload that gets gpg-encrypted before being
// written to the metadata bucket, and it is the row shape stored in the
// local Index.
type Record struct {
	MetadataVersion int    `json:"metadata_version"`
	BackEndID       string `json:"back_end_id"`
	EntryKey        string `json:"entry_key"`

	Name string `json:"name"`
	Path string `json:"path"`

	Size  int64  `json:"size"`
	Mode  uint32 `json:"mode"`
	UID   int    `json:"uid"`
	GID   int    `json:"gid"`
	Atime int64  `json:"atime"`
	Mtime int64  `json:"mtime"`
	Ctime int64  `json:"ctime"`

	Checksum string `json:"checksum"`

	// EncryptionKey is nil for the gpg pipeline and a random hex token
	// for symmetric/remote.
	EncryptionKey *string `json:"encryption_key"`

	EncryptedSize     int64  `json:"encrypted_size"`
	EncryptedChecksum string `json:"encrypted_checksum"`
}

// Key returns the Index primary key for this record: (back_end_id,
// entry_key). name is intentionally excluded — it is derivable from
// path, and keying on it risks collisions between two distinct records
// that happen to share a basename.
func (r Record) Key() (backEndID, entryKey string) {
	return r.BackEndID, r.EntryKey
}

// Filter is a conjunction of equality predicates over Record fields,
// keyed by JSON field name (e.g. "back_end_id", "checksum", "path").
// Both the Index and the Engine's find/find_one use the same Filter
// type so dedup lookups and CLI "already exists" probes share one
// matching rule.
type Filter map[string]string

// Match reports whether r satisfies every predicate in f.
func (f Filter) Match(r Record) bool {
	for field, want := range f {
		if fieldValue(r, field) != want {
			return false
		}
	}
	return true
}

func fieldValue(r Record, field string) string {
	switch field {
	case "back_end_id":
		return r.BackEndID
	case "entry_key":
		return r.EntryKey
	case "checksum":
		return r.Checksum
	case "path":
		return r.Path
	case "name":
		return r.Name
	case "encrypted_checksum":
		return r.EncryptedChecksum
	default:
		return ""
	}
}
