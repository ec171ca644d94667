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

// version is stamped by the release build via -ldflags; "dev" covers
// every other build (go install, go run, tests).
var version = "dev"

// globalFlags holds the persistent flags every subcommand inherits.
type globalFlags struct {
	config   string
	provider string
	verbose  bool
}

// NewRootCommand builds the coldvault root command and its full
// subcommand tree (spec.md §6).
//
// Grounded on the teacher's pkg/cmdmain dispatch (one typed error kind
// maps to one exit behavior) reworked onto cobra, the CLI framework
// the rest of the retrieved example pack builds command trees with.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "coldvault",
		Short:         "Encrypted, content-addressed cold storage backup",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.config, "config", "", "path to the coldvault configuration file (required)")
	root.PersistentFlags().StringVar(&flags.provider, "provider", "object-bucket", "back-end provider: object-bucket or remote-file-server")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")
	root.MarkPersistentFlagRequired("config")

	root.AddCommand(
		newListCommand(flags),
		newBackupCommand(flags),
		newRestoreCommand(flags),
		newRemoveCommand(flags),
		newSyncCommand(flags),
		newListCloudKeysCommand(flags),
		newListCloudDataCommand(flags),
	)
	return root
}

// runWithApp opens an app scoped to the command's lifetime, runs fn,
// and always releases the app's resources before returning, including
// when fn or newApp itself fails.
func runWithApp(cmd *cobra.Command, flags *globalFlags, fn func(a *app) error) error {
	a, closeApp, err := newApp(cmd.Context(), flags.config, flags.provider, flags.verbose)
	defer closeApp()
	if err != nil {
		return formatErr(err)
	}
	if err := fn(a); err != nil {
		return formatErr(err)
	}
	return nil
}

// formatErr renders an engine-boundary error the way spec.md §7
// requires: "ERROR: <kind>: <message>: <cause> (key: <k>)" for a typed
// coldvaulterr.Error (whose Error() already carries that shape,
// appending the wrapped cause when present), or "ERROR: <message>" for
// anything else (e.g. an unknown cipher pipeline name). Flag errors are
// reported by cobra before runWithApp runs and do not pass through here.
func formatErr(err error) error {
	return fmt.Errorf("ERROR: %v", err)
}
