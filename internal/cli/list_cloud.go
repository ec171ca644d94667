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
	"fmt"

	"github.com/spf13/cobra"

	"coldvault/pkg/backend"
	"coldvault/pkg/coldvaulterr"
)

// newListCloudKeysCommand is a diagnostic: it enumerates the raw keys
// in both the data and metadata buckets, straight from the back-end,
// bypassing the local index entirely so it stays useful when the
// index is stale or gone (spec.md §6).
func newListCloudKeysCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-cloud-keys",
		Short: "List every key in both buckets, straight from the back-end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, flags, func(a *app) error {
				if err := printKeys(cmd, "data", a.pair.Data); err != nil {
					return err
				}
				return printKeys(cmd, "metadata", a.pair.Metadata)
			})
		},
	}
}

// newListCloudDataCommand is the same diagnostic, but it enumerates
// the raw blobs (full content, not just attrs) stored in both buckets.
func newListCloudDataCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-cloud-data",
		Short: "List every raw blob in both buckets, straight from the back-end",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, flags, func(a *app) error {
				if err := printBlobs(cmd, "data", a.pair.Data); err != nil {
					return err
				}
				return printBlobs(cmd, "metadata", a.pair.Metadata)
			})
		},
	}
}

func printKeys(cmd *cobra.Command, bucket string, be backend.Backend) error {
	attrs, err := be.ListKeys(cmd.Context())
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "listing %s bucket keys", bucket)
	}
	for key, a := range attrs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\t%s\n", bucket, key, a.Size, a.LastModified)
	}
	return nil
}

func printBlobs(cmd *cobra.Command, bucket string, be backend.Backend) error {
	objs, err := be.List(cmd.Context())
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "listing %s bucket blobs", bucket)
	}
	for key, data := range objs {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d bytes\n", bucket, key, len(data))
	}
	return nil
}
