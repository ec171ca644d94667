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

package cipher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"

	"coldvault/pkg/coldvaulterr"
)

// RemoteWorker performs one synchronous encrypt or decrypt operation on
// behalf of the remote cipher variant. Implementations are free to run
// the work in-process (LocalWorker) or hand it to a subprocess
// (ExecWorker); the Engine only ever sees the Pipeline interface.
type RemoteWorker interface {
	EncryptRemote(plaintext []byte) (ciphertext []byte, encryptionKey *string, err error)
	DecryptRemote(ciphertext []byte, encryptionKey *string) (plaintext []byte, err error)
}

// remotePipeline adapts a RemoteWorker to the Pipeline interface by
// buffering the whole stream in memory, since RemoteWorker's contract
// is request/response rather than streaming.
type remotePipeline struct {
	worker RemoteWorker
}

// NewRemotePipeline returns a Pipeline that delegates every call to
// worker.
func NewRemotePipeline(worker RemoteWorker) Pipeline {
	return &remotePipeline{worker: worker}
}

func (p *remotePipeline) Encrypt(r io.Reader, w io.Writer) (*string, error) {
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "reading plaintext")
	}
	ciphertext, key, err := p.worker.EncryptRemote(plaintext)
	if err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "remote encrypt")
	}
	if _, err := w.Write(ciphertext); err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "writing ciphertext")
	}
	return key, nil
}

func (p *remotePipeline) Decrypt(r io.Reader, w io.Writer, encryptionKey *string) error {
	ciphertext, err := io.ReadAll(r)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "reading ciphertext")
	}
	plaintext, err := p.worker.DecryptRemote(ciphertext, encryptionKey)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "remote decrypt")
	}
	if _, err := w.Write(plaintext); err != nil {
		return coldvaulterr.CipherErrorf(err, "writing plaintext")
	}
	return nil
}

// LocalWorker is the in-process reference RemoteWorker: it runs the
// same AES-256-CBC pipeline as Symmetric, so it is useful for testing
// the remote variant's wiring without an external helper process.
type LocalWorker struct {
	inner Pipeline
}

// NewLocalWorker returns a RemoteWorker backed by an in-process
// symmetric cipher.
func NewLocalWorker() *LocalWorker {
	return &LocalWorker{inner: NewSymmetricPipeline()}
}

func (l *LocalWorker) EncryptRemote(plaintext []byte) ([]byte, *string, error) {
	var buf bytes.Buffer
	key, err := l.inner.Encrypt(bytes.NewReader(plaintext), &buf)
	return buf.Bytes(), key, err
}

func (l *LocalWorker) DecryptRemote(ciphertext []byte, encryptionKey *string) ([]byte, error) {
	var buf bytes.Buffer
	if err := l.inner.Decrypt(bytes.NewReader(ciphertext), &buf, encryptionKey); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExecWorker delegates each request to a fresh invocation of an
// external helper program, communicating by a single line of JSON on
// stdin and stdout. Grounded on the teacher's sftp back-end's
// use-system-ssh subprocess-pipe pattern (pkg/blobserver/sftp).
type ExecWorker struct {
	Command string
	Args    []string
}

// NewExecWorker returns a RemoteWorker that shells out to command for
// every operation.
func NewExecWorker(command string, args ...string) *ExecWorker {
	return &ExecWorker{Command: command, Args: args}
}

type execRequest struct {
	Op            string  `json:"op"`
	Data          []byte  `json:"data"`
	EncryptionKey *string `json:"encryption_key,omitempty"`
}

type execResponse struct {
	Data          []byte  `json:"data"`
	EncryptionKey *string `json:"encryption_key,omitempty"`
	Error         string  `json:"error,omitempty"`
}

func (e *ExecWorker) run(req execRequest) (execResponse, error) {
	var resp execResponse
	cmd := exec.Command(e.Command, e.Args...)
	in, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	cmd.Stdin = bytes.NewReader(append(in, '\n'))
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return resp, fmt.Errorf("running %s: %w", e.Command, err)
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		return resp, fmt.Errorf("parsing %s response: %w", e.Command, err)
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s: %s", e.Command, resp.Error)
	}
	return resp, nil
}

func (e *ExecWorker) EncryptRemote(plaintext []byte) ([]byte, *string, error) {
	resp, err := e.run(execRequest{Op: "encrypt", Data: plaintext})
	if err != nil {
		return nil, nil, err
	}
	return resp.Data, resp.EncryptionKey, nil
}

func (e *ExecWorker) DecryptRemote(ciphertext []byte, encryptionKey *string) ([]byte, error) {
	resp, err := e.run(execRequest{Op: "decrypt", Data: ciphertext, EncryptionKey: encryptionKey})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
