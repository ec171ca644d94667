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

	"github.com/spf13/cobra"

	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/engine"
	"coldvault/pkg/record"
	"coldvault/pkg/walker"
)

// newBackupCommand stores a local file or directory tree. When cloud
// is omitted, the local path (cleaned to forward slashes) is used as
// the logical path recorded on every Record (spec.md §6).
func newBackupCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup <local-path> [cloud-path]",
		Short: "Encrypt and store a local file or directory tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := args[0]
			cloud := local
			if len(args) == 2 {
				cloud = args[1]
			}
			cloud = filepath.ToSlash(path.Clean(cloud))

			return runWithApp(cmd, flags, func(a *app) error {
				return backup(cmd.Context(), a.engine, local, cloud)
			})
		},
	}
}

func backup(ctx context.Context, eng *engine.Engine, local, cloud string) error {
	fi, err := os.Stat(local)
	if err != nil {
		return coldvaulterr.InputErrorf("stat %s: %v", local, err)
	}

	if !fi.IsDir() {
		return backupFile(ctx, eng, local, cloud)
	}

	files, err := walker.Collect(local)
	if err != nil {
		return coldvaulterr.InputErrorf("walking %s: %v", local, err)
	}
	for _, f := range files {
		rel, err := filepath.Rel(local, f.Path)
		if err != nil {
			return coldvaulterr.InputErrorf("resolving %s relative to %s: %v", f.Path, local, err)
		}
		logicalPath := path.Join(cloud, filepath.ToSlash(rel))
		if err := backupFile(ctx, eng, f.Path, logicalPath); err != nil {
			return err
		}
	}
	return nil
}

func backupFile(ctx context.Context, eng *engine.Engine, local, logicalPath string) error {
	if _, err := eng.FindOne(record.Filter{"path": logicalPath}); err == nil {
		return coldvaulterr.InputErrorf("%s already exists in this back-end", logicalPath)
	}
	_, err := eng.StoreFromFile(ctx, local, logicalPath)
	return err
}
