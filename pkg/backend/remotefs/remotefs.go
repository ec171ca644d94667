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

// Package remotefs implements the remote-file-server back-end provider
// over SFTP, adapted from the teacher's blobserver/sftp storage type:
// the same connection-caching pattern (without its dial coalescing), but key-based
// rather than password auth, and one flat directory per bucket instead
// of a sharded blob tree.
package remotefs

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"coldvault/pkg/backend"
	"coldvault/pkg/coldvaulterr"
)

// Config is the subset of [remote-file-server] needed to bind to a
// single bucket directory.
type Config struct {
	Host         string
	Port         string // defaults to "22"
	Username     string
	IdentityFile string
	// Dir is the remote directory this Backend stores keys in,
	// typically RemoteDirectory joined with the bucket name.
	Dir string
}

// Backend is the remote-file-server backend.Backend implementation.
type Backend struct {
	cfg  Config
	addr string
	cc   *ssh.ClientConfig

	mu         sync.Mutex
	sc         *sftp.Client
	connCloser io.Closer
}

// New constructs a Backend for cfg. Connect must be called before use.
func New(cfg Config) (*Backend, error) {
	port := cfg.Port
	if port == "" {
		port = "22"
	}
	key, err := os.ReadFile(cfg.IdentityFile)
	if err != nil {
		return nil, coldvaulterr.ConfigErrorf("reading identity file %s: %v", cfg.IdentityFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, coldvaulterr.ConfigErrorf("parsing identity file %s: %v", cfg.IdentityFile, err)
	}
	return &Backend{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, port),
		cc: &ssh.ClientConfig{
			User:            cfg.Username,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         10 * time.Second,
		},
	}, nil
}

func (b *Backend) Connect(ctx context.Context) error {
	sc, err := b.client()
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	if _, err := sc.Stat(b.cfg.Dir); err != nil {
		if err := sc.MkdirAll(b.cfg.Dir); err != nil {
			return coldvaulterr.BackendErrorf(err, "creating remote directory %s", b.cfg.Dir)
		}
		if err := sc.Chmod(b.cfg.Dir, 0o700); err != nil {
			return coldvaulterr.BackendErrorf(err, "setting mode on remote directory %s", b.cfg.Dir)
		}
	}
	return nil
}

func (b *Backend) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markDeadLocked()
	return nil
}

func (b *Backend) Close() error { return b.Disconnect() }

func (b *Backend) markDeadLocked() {
	if b.connCloser != nil {
		go b.connCloser.Close()
	}
	b.sc = nil
	b.connCloser = nil
}

// client returns the cached *sftp.Client, dialing (or redialing) as
// needed. Grounded on Storage.sftp/dialSFTP in the teacher's sftp
// back-end, minus the concurrent-dial coalescing (coldvault's Engine
// serializes back-end calls per process already).
func (b *Backend) client() (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sc != nil {
		if _, err := b.sc.Stat("."); err == nil {
			return b.sc, nil
		}
		b.markDeadLocked()
	}

	sshc, err := ssh.Dial("tcp", b.addr, b.cc)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", b.addr, err)
	}
	sess, err := sshc.NewSession()
	if err != nil {
		sshc.Close()
		return nil, fmt.Errorf("opening ssh session: %w", err)
	}
	pw, err := sess.StdinPipe()
	if err != nil {
		sshc.Close()
		return nil, err
	}
	pr, err := sess.StdoutPipe()
	if err != nil {
		sshc.Close()
		return nil, err
	}
	if err := sess.RequestSubsystem("sftp"); err != nil {
		sshc.Close()
		return nil, fmt.Errorf("requesting sftp subsystem: %w", err)
	}
	sc, err := sftp.NewClientPipe(pr, pw)
	if err != nil {
		sshc.Close()
		return nil, err
	}
	b.sc = sc
	b.connCloser = sshc
	return sc, nil
}

func (b *Backend) path(key string) string {
	return path.Join(b.cfg.Dir, key)
}

func (b *Backend) Store(ctx context.Context, key string, data []byte) error {
	sc, err := b.client()
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	f, err := sc.Create(b.path(key))
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "creating remote file %s", key)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return coldvaulterr.BackendErrorf(err, "writing remote file %s", key)
	}
	return nil
}

func (b *Backend) StoreFromFile(ctx context.Context, key, localPath string) error {
	lf, err := os.Open(localPath)
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "opening %s", localPath)
	}
	defer lf.Close()

	sc, err := b.client()
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	rf, err := sc.Create(b.path(key))
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "creating remote file %s", key)
	}
	defer rf.Close()
	if _, err := io.Copy(rf, lf); err != nil {
		return coldvaulterr.BackendErrorf(err, "uploading %s as %s", localPath, key)
	}
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	sc, err := b.client()
	if err != nil {
		return nil, coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	f, err := sc.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, backend.ErrNotFound
		}
		return nil, coldvaulterr.BackendErrorf(err, "opening remote file %s", key)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, coldvaulterr.BackendErrorf(err, "reading remote file %s", key)
	}
	return data, nil
}

func (b *Backend) RetrieveToFile(ctx context.Context, key, localPath string) error {
	sc, err := b.client()
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	rf, err := sc.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return backend.ErrNotFound
		}
		return coldvaulterr.BackendErrorf(err, "opening remote file %s", key)
	}
	defer rf.Close()
	lf, err := os.Create(localPath)
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "creating %s", localPath)
	}
	defer lf.Close()
	if _, err := io.Copy(lf, rf); err != nil {
		return coldvaulterr.BackendErrorf(err, "downloading remote file %s", key)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	sc, err := b.client()
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	if err := sc.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return coldvaulterr.BackendErrorf(err, "deleting remote file %s", key)
	}
	return nil
}

func (b *Backend) ListKeys(ctx context.Context) (map[string]backend.Attrs, error) {
	sc, err := b.client()
	if err != nil {
		return nil, coldvaulterr.BackendErrorf(err, "connecting to %s", b.addr)
	}
	fis, err := sc.ReadDir(b.cfg.Dir)
	if err != nil {
		return nil, coldvaulterr.BackendErrorf(err, "listing remote directory %s", b.cfg.Dir)
	}
	out := make(map[string]backend.Attrs, len(fis))
	for _, fi := range fis {
		if fi.IsDir() {
			continue
		}
		out[fi.Name()] = backend.Attrs{
			Size:         fi.Size(),
			LastModified: fi.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		}
	}
	return out, nil
}

func (b *Backend) List(ctx context.Context) (map[string][]byte, error) {
	keys, err := b.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for k := range keys {
		data, err := b.Retrieve(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("retrieving %s: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}
