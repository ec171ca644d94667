/*
Copyright 2013 The Camlistore Authors.

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

// Package backupconfig loads coldvault's sectioned key/value
// configuration file: the general database location, the gnupg
// recipients/signer, and the per-provider bucket/transport settings.
// The file is read once at startup and is never watched.
package backupconfig

import (
	"strings"

	"gopkg.in/ini.v1"

	"coldvault/pkg/coldvaulterr"
)

// Config is the fully parsed configuration file.
type Config struct {
	General           General
	GnuPG             GnuPG
	ObjectBucket      ObjectBucket
	RemoteFileServer  RemoteFileServer
	path              string
}

// General holds the [general] section.
type General struct {
	// Database is the URI of the Index store, e.g. a bare filesystem
	// path to a sqlite database file.
	Database string

	// Pipeline selects the data Cipher variant ("gpg", "symmetric", or
	// "remote"); defaults to "gpg" when absent. Not named in spec.md
	// §6's config table, which otherwise leaves the variant selector
	// implicit (design notes §9: "the selector is a configuration
	// enum") — see DESIGN.md for this Open Question's resolution.
	Pipeline string

	// RemoteWorkerCommand, when the remote pipeline is selected, names
	// an external helper program (and its arguments) that the remote
	// cipher variant shells out to for every encrypt/decrypt call. When
	// empty, the remote variant runs in-process via cipher.LocalWorker.
	RemoteWorkerCommand []string
}

// GnuPG holds the [gnupg] section.
type GnuPG struct {
	Recipients []string
	Signer     string
}

// ObjectBucket holds the [object-bucket] section.
type ObjectBucket struct {
	AccessKey       string
	SecretAccessKey string
	DataBucket      string
	MetadataBucket  string
}

// RemoteFileServer holds the [remote-file-server] section.
type RemoteFileServer struct {
	Host             string
	Port             string
	Username         string
	IdentityFile     string
	RemoteDirectory  string
	DataBucket       string
	MetadataBucket   string
}

// Load reads and validates the configuration file at path. Missing
// mandatory keys yield a coldvaulterr.Config error naming the section,
// key, and file path.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, coldvaulterr.ConfigErrorf("reading config file %s: %v", path, err)
	}

	cfg := &Config{path: path}

	general := f.Section("general")
	cfg.General.Database, err = required(path, "general", "database", general)
	if err != nil {
		return nil, err
	}
	cfg.General.Pipeline = general.Key("pipeline").MustString("gpg")
	if cmd := general.Key("remote_worker_command").String(); cmd != "" {
		cfg.General.RemoteWorkerCommand = strings.Fields(cmd)
	}

	gnupg := f.Section("gnupg")
	recipients, err := required(path, "gnupg", "recipients", gnupg)
	if err != nil {
		return nil, err
	}
	for _, r := range strings.Split(recipients, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			cfg.GnuPG.Recipients = append(cfg.GnuPG.Recipients, r)
		}
	}
	cfg.GnuPG.Signer = gnupg.Key("signer").String()

	ob := f.Section("object-bucket")
	if ob.HasKey("access_key") || ob.HasKey("secret_access_key") || ob.HasKey("data_bucket") {
		cfg.ObjectBucket.AccessKey, err = required(path, "object-bucket", "access_key", ob)
		if err != nil {
			return nil, err
		}
		cfg.ObjectBucket.SecretAccessKey, err = required(path, "object-bucket", "secret_access_key", ob)
		if err != nil {
			return nil, err
		}
		cfg.ObjectBucket.DataBucket, err = required(path, "object-bucket", "data_bucket", ob)
		if err != nil {
			return nil, err
		}
		cfg.ObjectBucket.MetadataBucket, err = required(path, "object-bucket", "metadata_bucket", ob)
		if err != nil {
			return nil, err
		}
	}

	rfs := f.Section("remote-file-server")
	if rfs.HasKey("host") || rfs.HasKey("remote_directory") {
		cfg.RemoteFileServer.Host, err = required(path, "remote-file-server", "host", rfs)
		if err != nil {
			return nil, err
		}
		cfg.RemoteFileServer.Port = rfs.Key("port").MustString("22")
		cfg.RemoteFileServer.Username, err = required(path, "remote-file-server", "username", rfs)
		if err != nil {
			return nil, err
		}
		cfg.RemoteFileServer.IdentityFile, err = required(path, "remote-file-server", "identity_file", rfs)
		if err != nil {
			return nil, err
		}
		cfg.RemoteFileServer.RemoteDirectory, err = required(path, "remote-file-server", "remote_directory", rfs)
		if err != nil {
			return nil, err
		}
		cfg.RemoteFileServer.DataBucket, err = required(path, "remote-file-server", "data_bucket", rfs)
		if err != nil {
			return nil, err
		}
		cfg.RemoteFileServer.MetadataBucket, err = required(path, "remote-file-server", "metadata_bucket", rfs)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func required(path, section, key string, sec *ini.Section) (string, error) {
	if !sec.HasKey(key) {
		return "", coldvaulterr.ConfigErrorf("missing required key %q in section [%s] of %s", key, section, path)
	}
	v := sec.Key(key).String()
	if v == "" {
		return "", coldvaulterr.ConfigErrorf("missing required key %q in section [%s] of %s", key, section, path)
	}
	return v, nil
}
