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

package cli

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/engine"
	"coldvault/pkg/record"
)

// newRestoreCommand decrypts and writes a stored path (or every stored
// path under a directory prefix) back to local disk. When local is
// omitted, each record's own cloud path (relative to the current
// directory) is used as its destination (spec.md §6).
func newRestoreCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <cloud-path> [local-path]",
		Short: "Decrypt and write a stored path (or path prefix) to local disk",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cloud := filepath.ToSlash(path.Clean(args[0]))
			local := cloud
			localProvided := len(args) == 2
			if localProvided {
				local = args[1]
			}

			return runWithApp(cmd, flags, func(a *app) error {
				return restore(cmd.Context(), a.engine, cloud, local, localProvided)
			})
		},
	}
}

// restore looks up cloud as an exact logical path first. Failing that,
// it treats cloud as a directory prefix and restores every record whose
// path starts with "cloud/". Either way it refuses to clobber an
// existing local path, and it reports no matches as an Input error so
// the CLI exits 1 (spec.md §8 scenario 6).
func restore(ctx context.Context, eng *engine.Engine, cloud, local string, localProvided bool) error {
	if r, err := eng.FindOne(record.Filter{"path": cloud}); err == nil {
		return restoreOne(ctx, eng, r, local)
	}

	prefix := cloud + "/"
	all, err := eng.List()
	if err != nil {
		return err
	}
	var matches []record.Record
	for _, r := range all {
		if strings.HasPrefix(r.Path, prefix) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return coldvaulterr.InputErrorf("%s: not found", cloud)
	}

	for _, r := range matches {
		dest := r.Path
		if localProvided {
			dest = filepath.Join(local, strings.TrimPrefix(r.Path, prefix))
		}
		if err := restoreOne(ctx, eng, r, dest); err != nil {
			return err
		}
	}
	return nil
}

// restoreOne refuses to clobber an existing file at dest, then
// retrieves r into it.
func restoreOne(ctx context.Context, eng *engine.Engine, r record.Record, dest string) error {
	if _, statErr := os.Stat(dest); statErr == nil {
		return coldvaulterr.InputErrorf("%s already exists", dest)
	}
	return eng.RetrieveToFile(ctx, r, dest)
}
