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

package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coldvault/pkg/backend"
	"coldvault/pkg/cipher"
	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/localindex"
)

// memBackend is an in-memory backend.Backend fake, grounded on the
// teacher's pkg/blobserver/memory storage type.
type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (b *memBackend) Connect(ctx context.Context) error { return nil }
func (b *memBackend) Disconnect() error                 { return nil }
func (b *memBackend) Close() error                      { return nil }

func (b *memBackend) Store(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := append([]byte(nil), data...)
	b.data[key] = cp
	return nil
}

func (b *memBackend) StoreFromFile(ctx context.Context, key, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return b.Store(ctx, key, content)
}

func (b *memBackend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memBackend) RetrieveToFile(ctx context.Context, key, path string) error {
	data, err := b.Retrieve(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (b *memBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *memBackend) List(ctx context.Context) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string][]byte, len(b.data))
	for k, v := range b.data {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (b *memBackend) ListKeys(ctx context.Context) (map[string]backend.Attrs, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]backend.Attrs, len(b.data))
	for k, v := range b.data {
		out[k] = backend.Attrs{Size: int64(len(v))}
	}
	return out, nil
}

// fakeMetadataCipher stands in for the gpg pipeline in tests that have
// no real keyring: like gpg, it needs no encryption_key to decrypt
// (the key travels inside its own envelope), so Sync's
// Decrypt(..., nil) call works exactly as it would against gpg.
type fakeMetadataCipher struct{}

func (fakeMetadataCipher) Encrypt(r io.Reader, w io.Writer) (*string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	xorInPlace(b)
	_, err = w.Write(b)
	return nil, err
}

func (fakeMetadataCipher) Decrypt(r io.Reader, w io.Writer, _ *string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	xorInPlace(b)
	_, err = w.Write(b)
	return err
}

func xorInPlace(b []byte) {
	for i := range b {
		b[i] ^= 0x5a
	}
}

func newTestEngine(t *testing.T) (*Engine, *memBackend, *memBackend) {
	t.Helper()
	idx, err := localindex.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	metaBE := newMemBackend()
	dataBE := newMemBackend()
	// The metadata cipher is always a distinct Pipeline from the data
	// cipher per spec.md §4.1 step 5; a key-independent fake stands in
	// for gpg here so the test never touches a real keyring.
	eng, err := New(Config{
		BackEndID:       "test-backend:bucket",
		MetadataBackend: metaBE,
		DataBackend:     dataBE,
		DataCipher:      cipher.NewSymmetricPipeline(),
		MetadataCipher:  fakeMetadataCipher{},
		Index:           idx,
	})
	require.NoError(t, err)
	return eng, metaBE, dataBE
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	r, err := eng.Store(ctx, []byte("Data 1"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)

	got, err := eng.Retrieve(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []byte("Data 1"), got)
}

func TestStoreDistinctPathsDistinctEntries(t *testing.T) {
	eng, _, dataBE := newTestEngine(t)
	ctx := context.Background()

	r1, err := eng.Store(ctx, []byte("Data 1"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)
	r2, err := eng.Store(ctx, []byte("Data 2"), "a/y.txt", FileAttrs{})
	require.NoError(t, err)

	assert.NotEqual(t, r1.EntryKey, r2.EntryKey)
	assert.NotEqual(t, r1.Checksum, r2.Checksum)

	rows, err := eng.List()
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	got1, err := eng.Retrieve(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, []byte("Data 1"), got1)
	got2, err := eng.Retrieve(ctx, r2)
	require.NoError(t, err)
	assert.Equal(t, []byte("Data 2"), got2)

	objs, err := dataBE.List(ctx)
	require.NoError(t, err)
	assert.Len(t, objs, 2)
}

func TestStoreDedup(t *testing.T) {
	eng, metaBE, dataBE := newTestEngine(t)
	ctx := context.Background()

	r1, err := eng.Store(ctx, []byte("Dup"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)
	r2, err := eng.Store(ctx, []byte("Dup"), "a/y.txt", FileAttrs{})
	require.NoError(t, err)

	assert.Equal(t, r1.Checksum, r2.Checksum)
	assert.NotEqual(t, r1.EntryKey, r2.EntryKey)
	// Dedup reuses the existing ciphertext's encryption key verbatim.
	if r1.EncryptionKey != nil {
		require.NotNil(t, r2.EncryptionKey)
		assert.Equal(t, *r1.EncryptionKey, *r2.EncryptionKey)
	}

	dataObjs, err := dataBE.List(ctx)
	require.NoError(t, err)
	assert.Len(t, dataObjs, 1)

	metaObjs, err := metaBE.List(ctx)
	require.NoError(t, err)
	assert.Len(t, metaObjs, 2)

	got1, err := eng.Retrieve(ctx, r1)
	require.NoError(t, err)
	assert.Equal(t, []byte("Dup"), got1)
	got2, err := eng.Retrieve(ctx, r2)
	require.NoError(t, err)
	assert.Equal(t, []byte("Dup"), got2)
}

func TestRetrieveCorruptedDataFails(t *testing.T) {
	eng, _, dataBE := newTestEngine(t)
	ctx := context.Background()

	r, err := eng.Store(ctx, []byte("This is my test data!"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)

	blob, err := dataBE.Retrieve(ctx, r.Checksum)
	require.NoError(t, err)
	corrupted := append([]byte(nil), blob...)
	corrupted[0] ^= 0xFF
	require.NoError(t, dataBE.Store(ctx, r.Checksum, corrupted))

	_, err = eng.Retrieve(ctx, r)
	require.Error(t, err)
	assert.Equal(t, coldvaulterr.Data, coldvaulterr.KindOf(err))
}

func TestRetrieveToFileDoesNotWritePartialOutputOnCorruption(t *testing.T) {
	eng, _, dataBE := newTestEngine(t)
	ctx := context.Background()

	r, err := eng.Store(ctx, []byte("some payload bytes"), "a/x.txt", FileAttrs{Mode: 0o640, Mtime: 100})
	require.NoError(t, err)

	blob, err := dataBE.Retrieve(ctx, r.Checksum)
	require.NoError(t, err)
	corrupted := append([]byte(nil), blob...)
	corrupted[len(corrupted)-1] ^= 0xFF
	require.NoError(t, dataBE.Store(ctx, r.Checksum, corrupted))

	dest := filepath.Join(t.TempDir(), "out", "x.txt")
	err = eng.RetrieveToFile(ctx, r, dest)
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRetrieveToFileAppliesModeAndMtime(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	payload := []byte("This is my test data! This is my test data!\n")
	r, err := eng.Store(ctx, payload, "a/x.txt", FileAttrs{Mode: 0o640, Mtime: 1700000000})
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "restored", "x.txt")
	require.NoError(t, eng.RetrieveToFile(ctx, r, dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	fi, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), fi.Mode().Perm())
	assert.Equal(t, int64(1700000000), fi.ModTime().Unix())
}

func TestDeleteSafety(t *testing.T) {
	eng, _, dataBE := newTestEngine(t)
	ctx := context.Background()

	r1, err := eng.Store(ctx, []byte("Dup"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)
	r2, err := eng.Store(ctx, []byte("Dup"), "a/y.txt", FileAttrs{})
	require.NoError(t, err)

	require.NoError(t, eng.Delete(ctx, r1))

	// r2's data blob must survive because r2 still references it.
	got, err := eng.Retrieve(ctx, r2)
	require.NoError(t, err)
	assert.Equal(t, []byte("Dup"), got)

	require.NoError(t, eng.Delete(ctx, r2))
	objs, err := dataBE.List(ctx)
	require.NoError(t, err)
	assert.Len(t, objs, 0)
}

func TestSyncRebuildsIndexFromMetadataBucket(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Store(ctx, []byte("one"), "a/1", FileAttrs{})
	require.NoError(t, err)
	_, err = eng.Store(ctx, []byte("two"), "a/2", FileAttrs{})
	require.NoError(t, err)
	_, err = eng.Store(ctx, []byte("three"), "a/3", FileAttrs{})
	require.NoError(t, err)

	before, err := eng.List()
	require.NoError(t, err)
	require.Len(t, before, 3)

	// Drop the index entirely, then rebuild it from the metadata
	// bucket alone.
	require.NoError(t, eng.index.Drop(eng.id))
	empty, err := eng.List()
	require.NoError(t, err)
	require.Len(t, empty, 0)

	require.NoError(t, eng.Sync(ctx))

	after, err := eng.List()
	require.NoError(t, err)
	assert.Len(t, after, 3)

	for _, r := range after {
		got, err := eng.Retrieve(ctx, r)
		require.NoError(t, err)
		assert.NotEmpty(t, got)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Store(ctx, []byte("one"), "a/1", FileAttrs{})
	require.NoError(t, err)
	_, err = eng.Store(ctx, []byte("two"), "a/2", FileAttrs{})
	require.NoError(t, err)

	require.NoError(t, eng.Sync(ctx))
	first, err := eng.List()
	require.NoError(t, err)

	require.NoError(t, eng.Sync(ctx))
	second, err := eng.List()
	require.NoError(t, err)

	assert.ElementsMatch(t, first, second)
}

func TestPathFoldChangesEntryKey(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	r1, err := eng.Store(ctx, []byte("same bytes"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)
	r2, err := eng.Store(ctx, []byte("same bytes"), "a/z.txt", FileAttrs{})
	require.NoError(t, err)
	assert.NotEqual(t, r1.EntryKey, r2.EntryKey)

	r3, err := eng.Store(ctx, []byte("different bytes"), "a/x.txt", FileAttrs{})
	require.NoError(t, err)
	assert.NotEqual(t, r1.EntryKey, r3.EntryKey)
}
