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
)

// newListCommand lists every Record known to the local Index for the
// selected provider.
func newListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every backed-up path known to the local index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, flags, func(a *app) error {
				records, err := a.engine.List()
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", r.Path, r.Size, r.Checksum)
				}
				return nil
			})
		},
	}
}
