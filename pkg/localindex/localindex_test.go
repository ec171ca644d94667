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

package localindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldvault/pkg/record"
)

func openTest(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func sampleRecord(backEndID, entryKey, checksum, path string) record.Record {
	return record.Record{
		MetadataVersion:   record.Version,
		BackEndID:         backEndID,
		EntryKey:          entryKey,
		Name:              filepath.Base(path),
		Path:              path,
		Size:              4,
		Checksum:          checksum,
		EncryptedSize:     4,
		EncryptedChecksum: "ec-" + checksum,
	}
}

func TestUpsertThenGet(t *testing.T) {
	idx := openTest(t)
	r := sampleRecord("b1", "e1", "c1", "a/x.txt")
	require.NoError(t, idx.Upsert(r))

	got, err := idx.Get("b1", "e1")
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestUpsertOverwritesOnCollidingKey(t *testing.T) {
	idx := openTest(t)
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e1", "c1", "a/x.txt")))
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e1", "c2", "a/x.txt")))

	got, err := idx.Get("b1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.Checksum)

	rows, err := idx.List("b1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestDeleteByRemovesOnlyMatchingRow(t *testing.T) {
	idx := openTest(t)
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e1", "c1", "a/x.txt")))
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e2", "c1", "a/y.txt")))

	require.NoError(t, idx.DeleteBy("b1", "e1"))

	rows, err := idx.List("b1")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, "e2", rows[0].EntryKey)
}

func TestDropRemovesAllRowsForBackEndOnly(t *testing.T) {
	idx := openTest(t)
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e1", "c1", "a/x.txt")))
	require.NoError(t, idx.Upsert(sampleRecord("b2", "e1", "c1", "a/x.txt")))

	require.NoError(t, idx.Drop("b1"))

	rows1, err := idx.List("b1")
	require.NoError(t, err)
	assert.Len(t, rows1, 0)

	rows2, err := idx.List("b2")
	require.NoError(t, err)
	assert.Len(t, rows2, 1)
}

func TestFindAndFindOne(t *testing.T) {
	idx := openTest(t)
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e1", "c1", "a/x.txt")))
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e2", "c1", "a/y.txt")))
	require.NoError(t, idx.Upsert(sampleRecord("b1", "e3", "c2", "a/z.txt")))

	matches, err := idx.Find("b1", record.Filter{"checksum": "c1"})
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	one, err := idx.FindOne("b1", record.Filter{"checksum": "c2"})
	require.NoError(t, err)
	assert.Equal(t, "e3", one.EntryKey)

	_, err = idx.FindOne("b1", record.Filter{"checksum": "no-such-checksum"})
	require.Error(t, err)
}
