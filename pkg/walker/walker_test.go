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

package walker

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectFindsAllRegularFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "x.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "y.txt"), []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "z.txt"), []byte("3"), 0o644))

	files, err := Collect(root)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"x.txt", "y.txt", "z.txt"}, names)
}

func TestCollectSkipsEmptyDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "present.txt"), []byte("1"), 0o644))

	files, err := Collect(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "present.txt", filepath.Base(files[0].Path))
}
