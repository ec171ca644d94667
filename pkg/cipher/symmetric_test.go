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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymmetricRoundTrip(t *testing.T) {
	p := NewSymmetricPipeline()
	plaintext := []byte(strings.Repeat("This is my test data! This is my test data!\n", 100))

	var ciphertext bytes.Buffer
	key, err := p.Encrypt(bytes.NewReader(plaintext), &ciphertext)
	require.NoError(t, err)
	require.NotNil(t, key)

	var got bytes.Buffer
	require.NoError(t, p.Decrypt(bytes.NewReader(ciphertext.Bytes()), &got, key))
	assert.Equal(t, plaintext, got.Bytes())
}

func TestSymmetricEmptyPlaintext(t *testing.T) {
	p := NewSymmetricPipeline()
	var ciphertext bytes.Buffer
	key, err := p.Encrypt(bytes.NewReader(nil), &ciphertext)
	require.NoError(t, err)

	var got bytes.Buffer
	require.NoError(t, p.Decrypt(bytes.NewReader(ciphertext.Bytes()), &got, key))
	assert.Empty(t, got.Bytes())
}

func TestSymmetricEachEncryptUsesFreshPasswordAndSalt(t *testing.T) {
	p := NewSymmetricPipeline()
	plaintext := []byte("same plaintext twice")

	var c1, c2 bytes.Buffer
	k1, err := p.Encrypt(bytes.NewReader(plaintext), &c1)
	require.NoError(t, err)
	k2, err := p.Encrypt(bytes.NewReader(plaintext), &c2)
	require.NoError(t, err)

	assert.NotEqual(t, *k1, *k2)
	assert.NotEqual(t, c1.Bytes(), c2.Bytes())
}

func TestSymmetricWrongKeyFailsToDecrypt(t *testing.T) {
	p := NewSymmetricPipeline()
	var ciphertext bytes.Buffer
	_, err := p.Encrypt(bytes.NewReader([]byte("secret")), &ciphertext)
	require.NoError(t, err)

	wrongKey := "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="
	var got bytes.Buffer
	err = p.Decrypt(bytes.NewReader(ciphertext.Bytes()), &got, &wrongKey)
	require.Error(t, err)
}

func TestPKCS7PadRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 15, 16, 17, 33} {
		b := bytes.Repeat([]byte{0x42}, n)
		padded := pkcs7Pad(b, 16)
		assert.Equal(t, 0, len(padded)%16)
		unpadded, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, b, unpadded)
	}
}

func TestDeriveKeyIVDeterministic(t *testing.T) {
	password := []byte("a password")
	salt := []byte("0123456789abcdef")

	k1, iv1 := deriveKeyIV(password, salt)
	k2, iv2 := deriveKeyIV(password, salt)
	assert.Equal(t, k1, k2)
	assert.Equal(t, iv1, iv2)
	assert.Len(t, k1, 32)
	assert.Len(t, iv1, 16)
}
