/*
Copyright 2012 The Camlistore Authors.

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

// Package localindex is the local on-disk cache of decrypted Record
// metadata: a sqlite database, authoritatively rebuildable at any time
// from the metadata bucket by re-running Sync against an Engine. It is
// a cache, never the system of record.
//
// Grounded on the teacher's pkg/sorted/sqlkv and pkg/sorted/sqlite
// packages, but specialized to the Record row shape instead of a
// generic sorted.KeyValue, and built on modernc.org/sqlite (pure Go,
// no cgo build tag), the same driver the teacher's sqlite package uses.
package localindex

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	back_end_id         TEXT NOT NULL,
	entry_key           TEXT NOT NULL,
	metadata_version    INTEGER NOT NULL,
	name                TEXT NOT NULL,
	path                TEXT NOT NULL,
	size                INTEGER NOT NULL,
	mode                INTEGER NOT NULL,
	uid                 INTEGER NOT NULL,
	gid                 INTEGER NOT NULL,
	atime               INTEGER NOT NULL,
	mtime               INTEGER NOT NULL,
	ctime               INTEGER NOT NULL,
	checksum            TEXT NOT NULL,
	encryption_key      TEXT,
	encrypted_size      INTEGER NOT NULL,
	encrypted_checksum  TEXT NOT NULL,
	PRIMARY KEY (back_end_id, entry_key)
);
CREATE INDEX IF NOT EXISTS records_checksum ON records (back_end_id, checksum);
CREATE INDEX IF NOT EXISTS records_path ON records (back_end_id, path);
`

// Index is the local metadata cache. The zero value is not usable;
// construct one with Open. A *sql.DB pools its own connections, but
// the mutex below serializes the write statements (Upsert, DeleteBy,
// Drop) across goroutines sharing one Index.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema is current.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, coldvaulterr.MetadataErrorf("", err, "opening index database %s", path)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers ourselves
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, coldvaulterr.MetadataErrorf("", err, "initializing index schema")
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Upsert inserts r, or replaces the existing row sharing r's
// (back_end_id, entry_key) primary key.
func (idx *Index) Upsert(r record.Record) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec(`
		INSERT INTO records (
			back_end_id, entry_key, metadata_version, name, path,
			size, mode, uid, gid, atime, mtime, ctime,
			checksum, encryption_key, encrypted_size, encrypted_checksum
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (back_end_id, entry_key) DO UPDATE SET
			metadata_version = excluded.metadata_version,
			name = excluded.name,
			path = excluded.path,
			size = excluded.size,
			mode = excluded.mode,
			uid = excluded.uid,
			gid = excluded.gid,
			atime = excluded.atime,
			mtime = excluded.mtime,
			ctime = excluded.ctime,
			checksum = excluded.checksum,
			encryption_key = excluded.encryption_key,
			encrypted_size = excluded.encrypted_size,
			encrypted_checksum = excluded.encrypted_checksum
	`,
		r.BackEndID, r.EntryKey, r.MetadataVersion, r.Name, r.Path,
		r.Size, r.Mode, r.UID, r.GID, r.Atime, r.Mtime, r.Ctime,
		r.Checksum, r.EncryptionKey, r.EncryptedSize, r.EncryptedChecksum,
	)
	if err != nil {
		return coldvaulterr.MetadataErrorf(r.EntryKey, err, "upserting index row")
	}
	return nil
}

// DeleteBy removes the row keyed by (backEndID, entryKey), if present.
func (idx *Index) DeleteBy(backEndID, entryKey string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec(`DELETE FROM records WHERE back_end_id = ? AND entry_key = ?`, backEndID, entryKey)
	if err != nil {
		return coldvaulterr.MetadataErrorf(entryKey, err, "deleting index row")
	}
	return nil
}

// Drop removes every row for backEndID, used by Sync to rebuild a
// back-end's slice of the index from scratch.
func (idx *Index) Drop(backEndID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec(`DELETE FROM records WHERE back_end_id = ?`, backEndID)
	if err != nil {
		return coldvaulterr.MetadataErrorf("", err, "dropping index rows for %s", backEndID)
	}
	return nil
}

// Get returns the row keyed by (backEndID, entryKey), or
// coldvaulterr.Metadata wrapping sql.ErrNoRows if absent.
func (idx *Index) Get(backEndID, entryKey string) (record.Record, error) {
	row := idx.db.QueryRow(`
		SELECT back_end_id, entry_key, metadata_version, name, path,
		       size, mode, uid, gid, atime, mtime, ctime,
		       checksum, encryption_key, encrypted_size, encrypted_checksum
		FROM records WHERE back_end_id = ? AND entry_key = ?
	`, backEndID, entryKey)
	r, err := scanRecord(row)
	if err != nil {
		return record.Record{}, coldvaulterr.MetadataErrorf(entryKey, err, "reading index row")
	}
	return r, nil
}

// List returns every row for backEndID.
func (idx *Index) List(backEndID string) ([]record.Record, error) {
	rows, err := idx.db.Query(`
		SELECT back_end_id, entry_key, metadata_version, name, path,
		       size, mode, uid, gid, atime, mtime, ctime,
		       checksum, encryption_key, encrypted_size, encrypted_checksum
		FROM records WHERE back_end_id = ?
	`, backEndID)
	if err != nil {
		return nil, coldvaulterr.MetadataErrorf("", err, "listing index rows for %s", backEndID)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Find returns every row for backEndID matching f.
func (idx *Index) Find(backEndID string, f record.Filter) ([]record.Record, error) {
	all, err := idx.List(backEndID)
	if err != nil {
		return nil, err
	}
	var out []record.Record
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindOne returns the first row for backEndID matching f, or
// coldvaulterr.Metadata wrapping sql.ErrNoRows if none match.
func (idx *Index) FindOne(backEndID string, f record.Filter) (record.Record, error) {
	matches, err := idx.Find(backEndID, f)
	if err != nil {
		return record.Record{}, err
	}
	if len(matches) == 0 {
		return record.Record{}, coldvaulterr.MetadataErrorf("", sql.ErrNoRows, "no index row matches filter")
	}
	return matches[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (record.Record, error) {
	var r record.Record
	err := s.Scan(
		&r.BackEndID, &r.EntryKey, &r.MetadataVersion, &r.Name, &r.Path,
		&r.Size, &r.Mode, &r.UID, &r.GID, &r.Atime, &r.Mtime, &r.Ctime,
		&r.Checksum, &r.EncryptionKey, &r.EncryptedSize, &r.EncryptedChecksum,
	)
	return r, err
}

func scanRecords(rows *sql.Rows) ([]record.Record, error) {
	var out []record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning index row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
