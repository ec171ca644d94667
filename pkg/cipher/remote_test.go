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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemotePipelineWithLocalWorkerRoundTrip(t *testing.T) {
	p := NewRemotePipeline(NewLocalWorker())
	plaintext := []byte("delegated to a worker")

	var ciphertext bytes.Buffer
	key, err := p.Encrypt(bytes.NewReader(plaintext), &ciphertext)
	require.NoError(t, err)

	var got bytes.Buffer
	require.NoError(t, p.Decrypt(bytes.NewReader(ciphertext.Bytes()), &got, key))
	assert.Equal(t, plaintext, got.Bytes())
}

func TestNewRequiresWorkerForRemoteVariant(t *testing.T) {
	_, err := New(Remote, nil, nil, "", nil)
	assert.Error(t, err)

	_, err = New(Remote, nil, nil, "", NewLocalWorker())
	assert.NoError(t, err)
}

func TestNewRejectsUnknownVariant(t *testing.T) {
	_, err := New(Variant("made-up"), nil, nil, "", nil)
	assert.Error(t, err)
}
