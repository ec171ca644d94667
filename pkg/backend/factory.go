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

package backend

import "fmt"

// Provider names one of the two concrete back-end implementations a
// configuration file can select between.
type Provider string

const (
	ObjectBucket     Provider = "object-bucket"
	RemoteFileServer Provider = "remote-file-server"
)

// Pair is the data and metadata Backend bound to the same provider, as
// the Engine requires: every provider config names a data_bucket and a
// metadata_bucket, each surfaced as its own Backend.
type Pair struct {
	ID       string // back_end_id, stored on every Record
	Data     Backend
	Metadata Backend
}

// Factory constructs a provider's Backend Pair from configuration.
// Kept as an interface rather than a free function so internal/cli
// can build providers without objectbucket/remotefs being imported
// by packages that only need the Backend contract.
type Factory interface {
	Build(provider Provider) (Pair, error)
}

// ErrUnknownProvider is returned by a Factory when asked for a
// provider it has no configuration for.
func ErrUnknownProvider(p Provider) error {
	return fmt.Errorf("backend: no configuration for provider %q", p)
}
