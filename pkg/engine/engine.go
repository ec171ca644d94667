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

// Package engine binds the Hasher, Cipher, Back-end, and Index
// components into the store/retrieve/delete/sync/list protocol: the
// content-addressed encrypt/store/retrieve engine. It is the one
// package that knows about all of I1-I5 at once.
//
// Grounded on the teacher's pkg/client (sync.go, upload.go, get.go,
// remove.go): one struct binding a transport, a cipher, and local
// state, with every public method a thin, sequential protocol step.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"coldvault/pkg/backend"
	"coldvault/pkg/checksum"
	"coldvault/pkg/cipher"
	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/localindex"
	"coldvault/pkg/record"
)

// Config assembles the collaborators a single Engine instance binds
// together. Nothing here is a package-scope singleton: every
// dependency is an explicit field, constructed once by the caller
// (the CLI's command setup) and passed in.
type Config struct {
	// BackEndID identifies this Engine's metadata back-end instance,
	// e.g. "amazon-s3-bucket:<name>" or "sftp-bucket:<name>". It is
	// stored on every Record and is the Index's partition key.
	BackEndID string

	MetadataBackend backend.Backend
	DataBackend     backend.Backend

	// DataCipher is the configured pipeline (gpg, symmetric, or
	// remote) used to produce and consume data-bucket blobs.
	DataCipher cipher.Pipeline

	// MetadataCipher encrypts every metadata record's JSON, always via
	// the gpg pipeline regardless of DataCipher's variant, so metadata
	// privacy never depends on the data pipeline choice (spec.md
	// §4.1 step 5).
	MetadataCipher cipher.Pipeline

	Index *localindex.Index
}

// Engine is the content-addressed encrypt/store/retrieve engine. The
// zero value is not usable; construct one with New.
type Engine struct {
	id       string
	metaBE   backend.Backend
	dataBE   backend.Backend
	dataCi   cipher.Pipeline
	metaCi   cipher.Pipeline
	index    *localindex.Index
}

// New validates cfg and returns a ready Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.BackEndID == "":
		return nil, fmt.Errorf("engine: BackEndID is required")
	case cfg.MetadataBackend == nil:
		return nil, fmt.Errorf("engine: MetadataBackend is required")
	case cfg.DataBackend == nil:
		return nil, fmt.Errorf("engine: DataBackend is required")
	case cfg.DataCipher == nil:
		return nil, fmt.Errorf("engine: DataCipher is required")
	case cfg.MetadataCipher == nil:
		return nil, fmt.Errorf("engine: MetadataCipher is required")
	case cfg.Index == nil:
		return nil, fmt.Errorf("engine: Index is required")
	}
	return &Engine{
		id:     cfg.BackEndID,
		metaBE: cfg.MetadataBackend,
		dataBE: cfg.DataBackend,
		dataCi: cfg.DataCipher,
		metaCi: cfg.MetadataCipher,
		index:  cfg.Index,
	}, nil
}

// FileAttrs carries the POSIX-style attributes captured at backup
// time (spec.md §3). Zero values mean "unavailable", per the data
// model's explicit "0 when unavailable" rule.
type FileAttrs struct {
	Mode  uint32
	UID   int
	GID   int
	Atime int64
	Mtime int64
	Ctime int64
}

// Store encrypts plaintext and binds it to logicalPath, deduplicating
// against any existing record in this back-end sharing the same
// plaintext checksum (spec.md §4.1 store, steps 1-7).
func (e *Engine) Store(ctx context.Context, plaintext []byte, logicalPath string, attrs FileAttrs) (record.Record, error) {
	sum := checksum.Of(plaintext)
	entryKey := checksum.WithExtra(plaintext, []byte(logicalPath))

	r := record.Record{
		MetadataVersion: record.Version,
		BackEndID:       e.id,
		EntryKey:        entryKey,
		Name:            filepath.Base(logicalPath),
		Path:            logicalPath,
		Size:            int64(len(plaintext)),
		Mode:            attrs.Mode,
		UID:             attrs.UID,
		GID:             attrs.GID,
		Atime:           attrs.Atime,
		Mtime:           attrs.Mtime,
		Ctime:           attrs.Ctime,
		Checksum:        sum,
	}

	dedup, err := e.dedupRecord(sum)
	if err != nil {
		return record.Record{}, err
	}
	if dedup != nil {
		r.EncryptionKey = dedup.EncryptionKey
		r.EncryptedSize = dedup.EncryptedSize
		r.EncryptedChecksum = dedup.EncryptedChecksum
	} else {
		var ciphertext bytes.Buffer
		key, err := e.dataCi.Encrypt(bytes.NewReader(plaintext), &ciphertext)
		if err != nil {
			return record.Record{}, err
		}
		r.EncryptionKey = key
		r.EncryptedSize = int64(ciphertext.Len())
		r.EncryptedChecksum = checksum.Of(ciphertext.Bytes())

		if err := e.writeMetadata(ctx, r); err != nil {
			return record.Record{}, err
		}
		if err := e.dataBE.Store(ctx, sum, ciphertext.Bytes()); err != nil {
			return record.Record{}, coldvaulterr.BackendErrorf(err, "storing data blob %s", sum)
		}
		if err := e.index.Upsert(r); err != nil {
			return record.Record{}, err
		}
		return r, nil
	}

	if err := e.writeMetadata(ctx, r); err != nil {
		return record.Record{}, err
	}
	if err := e.index.Upsert(r); err != nil {
		return record.Record{}, err
	}
	return r, nil
}

// dedupRecord returns an existing live record in this back-end sharing
// sum, or nil if none exists.
func (e *Engine) dedupRecord(sum string) (*record.Record, error) {
	matches, err := e.index.Find(e.id, record.Filter{"checksum": sum})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// writeMetadata marshals r as JSON, encrypts it with the metadata
// cipher (always gpg), and writes it to the metadata bucket under
// r.EntryKey. Metadata is written before any data write on a fresh
// store: an orphan metadata object is self-evident on sync (its data
// is missing), while an orphan data blob is merely wasted space.
func (e *Engine) writeMetadata(ctx context.Context, r record.Record) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("engine: marshaling record %s: %w", r.EntryKey, err)
	}
	var envelope bytes.Buffer
	if _, err := e.metaCi.Encrypt(bytes.NewReader(payload), &envelope); err != nil {
		return err
	}
	if err := e.metaBE.Store(ctx, r.EntryKey, envelope.Bytes()); err != nil {
		return coldvaulterr.BackendErrorf(err, "storing metadata object %s", r.EntryKey)
	}
	return nil
}

// StoreFromFile is Store, reading plaintext and capturing attributes
// from the local file at localPath. The remote cipher variant
// inherently buffers a whole ciphertext in its worker response (spec.md
// §9), so coldvault buffers the plaintext too rather than promising a
// partial-write behavior no pipeline can uniformly honor.
func (e *Engine) StoreFromFile(ctx context.Context, localPath, logicalPath string) (record.Record, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return record.Record{}, coldvaulterr.InputErrorf("opening %s: %v", localPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return record.Record{}, coldvaulterr.InputErrorf("stat %s: %v", localPath, err)
	}
	plaintext, err := io.ReadAll(f)
	if err != nil {
		return record.Record{}, coldvaulterr.InputErrorf("reading %s: %v", localPath, err)
	}

	uid, gid, atime, ctime := statAttrs(fi)
	attrs := FileAttrs{
		Mode:  uint32(fi.Mode().Perm()),
		UID:   uid,
		GID:   gid,
		Atime: atime,
		Mtime: fi.ModTime().Unix(),
		Ctime: ctime,
	}
	return e.Store(ctx, plaintext, logicalPath, attrs)
}

// Retrieve fetches r's ciphertext, verifies its integrity, decrypts
// it, and verifies the plaintext's integrity before returning it
// (spec.md §4.1 retrieve, steps 1-4).
func (e *Engine) Retrieve(ctx context.Context, r record.Record) ([]byte, error) {
	ciphertext, err := e.dataBE.Retrieve(ctx, r.Checksum)
	if err != nil {
		if err == backend.ErrNotFound {
			return nil, coldvaulterr.DataErrorf(r.Checksum, "data blob not found")
		}
		return nil, coldvaulterr.BackendErrorf(err, "retrieving data blob %s", r.Checksum)
	}
	if got := checksum.Of(ciphertext); got != r.EncryptedChecksum {
		return nil, coldvaulterr.DataErrorf(r.Checksum, "encrypted checksum mismatch: want %s, got %s", r.EncryptedChecksum, got)
	}

	var plaintext bytes.Buffer
	if err := e.dataCi.Decrypt(bytes.NewReader(ciphertext), &plaintext, r.EncryptionKey); err != nil {
		return nil, err
	}
	if got := checksum.Of(plaintext.Bytes()); got != r.Checksum {
		return nil, coldvaulterr.DataErrorf(r.Checksum, "plaintext checksum mismatch: want %s, got %s", r.Checksum, got)
	}
	return plaintext.Bytes(), nil
}

// RetrieveToFile is Retrieve, staged through a temp file so that a
// checksum failure never leaves partial plaintext at localPath
// (spec.md §4.5). mode is applied via chmod and (atime, mtime) via
// chtimes once the verified plaintext has been renamed into place.
func (e *Engine) RetrieveToFile(ctx context.Context, r record.Record, localPath string) error {
	plaintext, err := e.Retrieve(ctx, r)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return coldvaulterr.InputErrorf("creating parent directories for %s: %v", localPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".coldvault-tmp-*")
	if err != nil {
		return coldvaulterr.InputErrorf("creating staging file for %s: %v", localPath, err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()
	if err := tmp.Chmod(0o600); err != nil {
		return coldvaulterr.InputErrorf("chmod staging file for %s: %v", localPath, err)
	}
	if _, err := tmp.Write(plaintext); err != nil {
		return coldvaulterr.InputErrorf("writing staging file for %s: %v", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return coldvaulterr.InputErrorf("closing staging file for %s: %v", localPath, err)
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return coldvaulterr.InputErrorf("renaming staging file into %s: %v", localPath, err)
	}
	ok = true

	if r.Mode != 0 {
		if err := os.Chmod(localPath, os.FileMode(r.Mode)); err != nil {
			return coldvaulterr.InputErrorf("chmod %s: %v", localPath, err)
		}
	}
	atime := time.Unix(r.Atime, 0)
	mtime := time.Unix(r.Mtime, 0)
	if err := os.Chtimes(localPath, atime, mtime); err != nil {
		return coldvaulterr.InputErrorf("chtimes %s: %v", localPath, err)
	}
	return nil
}

// Delete removes r's metadata object, its Index row, and - only if no
// other live record in this back-end still references the same data
// blob - the data object itself (spec.md §4.1 delete).
func (e *Engine) Delete(ctx context.Context, r record.Record) error {
	if err := e.metaBE.Delete(ctx, r.EntryKey); err != nil {
		return coldvaulterr.BackendErrorf(err, "deleting metadata object %s", r.EntryKey)
	}
	if err := e.index.DeleteBy(r.BackEndID, r.EntryKey); err != nil {
		return err
	}

	remaining, err := e.index.Find(e.id, record.Filter{"checksum": r.Checksum})
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := e.dataBE.Delete(ctx, r.Checksum); err != nil {
			return coldvaulterr.BackendErrorf(err, "deleting data blob %s", r.Checksum)
		}
	}
	return nil
}

// Sync rebuilds this Engine's slice of the Index from the metadata
// bucket: decrypt and validate every object, then drop this back-end's
// rows and re-insert the decoded records (spec.md §4.1 sync). A single
// malformed metadata object aborts the whole sync with a Metadata error
// naming its key, before the Index has been touched.
func (e *Engine) Sync(ctx context.Context) error {
	objects, err := e.metaBE.List(ctx)
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "listing metadata bucket")
	}

	decoded := make([]record.Record, 0, len(objects))
	for key, envelope := range objects {
		var payload bytes.Buffer
		if err := e.metaCi.Decrypt(bytes.NewReader(envelope), &payload, nil); err != nil {
			return coldvaulterr.MetadataErrorf(key, err, "decrypting metadata object")
		}
		var r record.Record
		if err := json.Unmarshal(payload.Bytes(), &r); err != nil {
			return coldvaulterr.MetadataErrorf(key, err, "parsing metadata object")
		}
		if r.MetadataVersion != record.Version {
			return coldvaulterr.MetadataErrorf(key, nil, "unsupported metadata_version %d", r.MetadataVersion)
		}
		decoded = append(decoded, r)
	}

	if err := e.index.Drop(e.id); err != nil {
		return err
	}
	for _, r := range decoded {
		if err := e.index.Upsert(r); err != nil {
			return err
		}
	}
	return nil
}

// List returns every Index record for this Engine's back-end.
func (e *Engine) List() ([]record.Record, error) {
	return e.index.List(e.id)
}

// Find returns every Index record for this Engine's back-end matching f.
func (e *Engine) Find(f record.Filter) ([]record.Record, error) {
	return e.index.Find(e.id, f)
}

// FindOne returns the first Index record for this Engine's back-end
// matching f.
func (e *Engine) FindOne(f record.Filter) (record.Record, error) {
	return e.index.FindOne(e.id, f)
}

// BackEndID returns the back-end identifier this Engine was
// constructed with.
func (e *Engine) BackEndID() string { return e.id }
