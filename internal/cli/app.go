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
	"fmt"

	"github.com/sirupsen/logrus"

	"coldvault/pkg/backend"
	"coldvault/pkg/backupconfig"
	"coldvault/pkg/cipher"
	"coldvault/pkg/coldvaulterr"
	"coldvault/pkg/engine"
	"coldvault/pkg/localindex"
)

// app is the set of live collaborators a single CLI invocation binds
// together: the Back-end connections are scoped to this invocation and
// released by close, regardless of which exit path the command takes
// (spec.md §5).
type app struct {
	log    *logrus.Logger
	cfg    *backupconfig.Config
	pair   backend.Pair
	engine *engine.Engine
	idx    *localindex.Index
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

// newApp loads configPath, connects the provider's data and metadata
// back-ends, opens the local Index, and constructs the Engine. The
// returned close func releases every scoped resource (back-end
// sessions, the Index handle) and must be deferred by the caller on
// every exit path, including error returns.
func newApp(ctx context.Context, configPath, provider string, verbose bool) (*app, func(), error) {
	log := newLogger(verbose)

	cfg, err := backupconfig.Load(configPath)
	if err != nil {
		return nil, func() {}, err
	}

	factory := newConfigFactory(cfg)
	pair, err := factory.Build(backend.Provider(provider))
	if err != nil {
		return nil, func() {}, coldvaulterr.InputErrorf("%v", err)
	}

	if err := pair.Metadata.Connect(ctx); err != nil {
		return nil, func() {}, err
	}
	if err := pair.Data.Connect(ctx); err != nil {
		pair.Metadata.Disconnect()
		return nil, func() {}, err
	}

	closeBackends := func() {
		pair.Data.Disconnect()
		pair.Metadata.Disconnect()
	}

	idx, err := localindex.Open(cfg.General.Database)
	if err != nil {
		closeBackends()
		return nil, func() {}, err
	}
	closeAll := func() {
		idx.Close()
		closeBackends()
	}

	keyring := cipher.DefaultKeyring()
	metaCipher := cipher.NewGPGPipeline(keyring, cfg.GnuPG.Recipients, cfg.GnuPG.Signer)

	dataCipher, err := selectDataCipher(cfg, keyring)
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}

	eng, err := engine.New(engine.Config{
		BackEndID:       pair.ID,
		MetadataBackend: pair.Metadata,
		DataBackend:     pair.Data,
		DataCipher:      dataCipher,
		MetadataCipher:  metaCipher,
		Index:           idx,
	})
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}

	log.WithFields(logrus.Fields{
		"backend.provider": provider,
		"backend.id":       pair.ID,
		"cipher.pipeline":  cfg.General.Pipeline,
	}).Debug("coldvault: engine ready")

	return &app{log: log, cfg: cfg, pair: pair, engine: eng, idx: idx}, closeAll, nil
}

// selectDataCipher builds the data Cipher pipeline named by
// cfg.General.Pipeline ("gpg", "symmetric", or "remote"; see
// backupconfig.General.Pipeline and DESIGN.md for why this selector
// exists outside spec.md §6's config table).
func selectDataCipher(cfg *backupconfig.Config, keyring *cipher.Keyring) (cipher.Pipeline, error) {
	variant := cipher.Variant(cfg.General.Pipeline)
	if variant == "" {
		variant = cipher.GPG
	}

	var worker cipher.RemoteWorker
	if variant == cipher.Remote {
		if len(cfg.General.RemoteWorkerCommand) > 0 {
			worker = cipher.NewExecWorker(cfg.General.RemoteWorkerCommand[0], cfg.General.RemoteWorkerCommand[1:]...)
		} else {
			worker = cipher.NewLocalWorker()
		}
	}

	p, err := cipher.New(variant, keyring, cfg.GnuPG.Recipients, cfg.GnuPG.Signer, worker)
	if err != nil {
		return nil, fmt.Errorf("cli: selecting data cipher: %w", err)
	}
	return p, nil
}
