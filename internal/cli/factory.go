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

// Package cli wires coldvault's configuration, back-end, cipher, and
// Index packages into the Engine that the coldvault subcommands drive,
// and dispatches those subcommands. It is a thin layer: every
// subcommand's body is a handful of calls into pkg/engine.
//
// Grounded on the teacher's pkg/cmdmain (subcommand registration and
// error-kind-tagged exit) and blobserver.RegisterStorageConstructor's
// factory-by-name pattern (here: backend.Factory.Build keyed on
// --provider).
package cli

import (
	"fmt"
	"path"
	"strings"

	"coldvault/pkg/backend"
	"coldvault/pkg/backend/objectbucket"
	"coldvault/pkg/backend/remotefs"
	"coldvault/pkg/backupconfig"
)

// configFactory builds backend.Pair values from a loaded configuration
// file, so pkg/backend itself never has to import the two concrete
// provider packages.
type configFactory struct {
	cfg *backupconfig.Config
}

func newConfigFactory(cfg *backupconfig.Config) *configFactory {
	return &configFactory{cfg: cfg}
}

func (f *configFactory) Build(provider backend.Provider) (backend.Pair, error) {
	switch provider {
	case backend.ObjectBucket:
		return f.buildObjectBucket()
	case backend.RemoteFileServer:
		return f.buildRemoteFileServer()
	default:
		return backend.Pair{}, backend.ErrUnknownProvider(provider)
	}
}

func (f *configFactory) buildObjectBucket() (backend.Pair, error) {
	ob := f.cfg.ObjectBucket
	if ob.DataBucket == "" || ob.MetadataBucket == "" {
		return backend.Pair{}, fmt.Errorf("backend: [object-bucket] section is not configured")
	}
	data := objectbucket.New(objectbucket.Config{
		AccessKey:       ob.AccessKey,
		SecretAccessKey: ob.SecretAccessKey,
		Bucket:          ob.DataBucket,
	})
	meta := objectbucket.New(objectbucket.Config{
		AccessKey:       ob.AccessKey,
		SecretAccessKey: ob.SecretAccessKey,
		Bucket:          ob.MetadataBucket,
	})
	id := fmt.Sprintf("amazon-s3-bucket:%s", strings.ToLower(ob.AccessKey+"-"+ob.MetadataBucket))
	return backend.Pair{ID: id, Data: data, Metadata: meta}, nil
}

func (f *configFactory) buildRemoteFileServer() (backend.Pair, error) {
	rfs := f.cfg.RemoteFileServer
	if rfs.RemoteDirectory == "" || rfs.DataBucket == "" || rfs.MetadataBucket == "" {
		return backend.Pair{}, fmt.Errorf("backend: [remote-file-server] section is not configured")
	}
	data, err := remotefs.New(remotefs.Config{
		Host:         rfs.Host,
		Port:         rfs.Port,
		Username:     rfs.Username,
		IdentityFile: rfs.IdentityFile,
		Dir:          path.Join(rfs.RemoteDirectory, rfs.DataBucket),
	})
	if err != nil {
		return backend.Pair{}, err
	}
	meta, err := remotefs.New(remotefs.Config{
		Host:         rfs.Host,
		Port:         rfs.Port,
		Username:     rfs.Username,
		IdentityFile: rfs.IdentityFile,
		Dir:          path.Join(rfs.RemoteDirectory, rfs.MetadataBucket),
	})
	if err != nil {
		return backend.Pair{}, err
	}
	id := fmt.Sprintf("sftp-bucket:%s", rfs.MetadataBucket)
	return backend.Pair{ID: id, Data: data, Metadata: meta}, nil
}
