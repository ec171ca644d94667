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

// Package walker recursively enumerates the regular files under a
// backup root, the way the CLI's backup command decides what to pass
// to the Engine. A directory with no regular files under it contributes
// nothing to the result.
package walker

import (
	"os"
	"path/filepath"
)

// File is one regular file discovered under a walk root.
type File struct {
	// Path is the walk root joined with the file's path below it; it is
	// absolute only when the root is.
	Path string
	Info os.FileInfo
}

// Walk reports every regular file reachable from root, depth-first,
// in the order filepath.Walk would report them. Symlinks are not
// followed. Empty directories produce no File and so are silently
// skipped, matching the system's content-addressed model: there is
// nothing to hash for a directory with no files in it.
func Walk(root string, fn func(File) error) error {
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		return fn(File{Path: path, Info: fi})
	})
}

// Collect is Walk, buffered into a slice for callers that want the
// full set before starting work (e.g. for progress reporting).
func Collect(root string) ([]File, error) {
	var out []File
	err := Walk(root, func(f File) error {
		out = append(out, f)
		return nil
	})
	return out, err
}
