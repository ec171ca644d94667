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
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/engine"
	"coldvault/pkg/record"
)

// newRemoveCommand deletes a stored path (or every stored path under a
// directory prefix): its metadata, Index row, and (if no other live
// record shares its plaintext) its data blob.
func newRemoveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <cloud-path>",
		Short: "Remove a stored path or path prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cloud := filepath.ToSlash(path.Clean(args[0]))

			return runWithApp(cmd, flags, func(a *app) error {
				return remove(cmd.Context(), a.engine, cloud)
			})
		},
	}
}

// remove looks up cloud as an exact logical path first. Failing that,
// it treats cloud as a directory prefix and deletes every record whose
// path starts with "cloud/". No matches at all is an Input error so the
// CLI exits 1 (spec.md §6, §8 scenario 6).
func remove(ctx context.Context, eng *engine.Engine, cloud string) error {
	if r, err := eng.FindOne(record.Filter{"path": cloud}); err == nil {
		return eng.Delete(ctx, r)
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
		if err := eng.Delete(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
