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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"coldvault/pkg/coldvaulterr"
)

const (
	symmetricKeySize  = 32 // AES-256
	symmetricSaltSize = 16
	symmetricPassSize = 32 // 256-bit generated password
)

// symmetricPipeline encrypts with a freshly generated password on every
// Encrypt call, returning it to the caller so the Engine can persist it
// on the Record. The wire format is base64(salt || ciphertext), where
// ciphertext is AES-256-CBC over PKCS7-padded plaintext, with the key
// and IV both derived from (password, salt) by iterated SHA-256.
type symmetricPipeline struct{}

// NewSymmetricPipeline returns the password-derived AES-256-CBC cipher
// Pipeline.
func NewSymmetricPipeline() Pipeline {
	return &symmetricPipeline{}
}

func (symmetricPipeline) Encrypt(r io.Reader, w io.Writer) (*string, error) {
	password := make([]byte, symmetricPassSize)
	if _, err := rand.Read(password); err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "generating symmetric password")
	}
	salt := make([]byte, symmetricSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "generating symmetric salt")
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "reading plaintext")
	}
	ciphertext, err := encryptCBC(password, salt, plaintext)
	if err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "encrypting")
	}

	enc := base64.StdEncoding
	out := make([]byte, enc.EncodedLen(len(salt)+len(ciphertext)))
	enc.Encode(out, append(append([]byte{}, salt...), ciphertext...))
	if _, err := w.Write(out); err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "writing ciphertext")
	}

	key := hex.EncodeToString(password)
	return &key, nil
}

func (symmetricPipeline) Decrypt(r io.Reader, w io.Writer, encryptionKey *string) error {
	if encryptionKey == nil {
		return coldvaulterr.CipherErrorf(nil, "symmetric decryption requires an encryption key")
	}
	password, err := hex.DecodeString(*encryptionKey)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "decoding encryption key")
	}

	encoded, err := io.ReadAll(r)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "reading ciphertext")
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(raw, encoded)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "decoding ciphertext")
	}
	raw = raw[:n]
	if len(raw) < symmetricSaltSize {
		return coldvaulterr.CipherErrorf(nil, "ciphertext too short")
	}
	salt, ciphertext := raw[:symmetricSaltSize], raw[symmetricSaltSize:]

	plaintext, err := decryptCBC(password, salt, ciphertext)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "decrypting")
	}
	if _, err := w.Write(plaintext); err != nil {
		return coldvaulterr.CipherErrorf(err, "writing plaintext")
	}
	return nil
}

// deriveKeyIV derives the AES-256 key and CBC IV from (password, salt):
// D_0 is empty, each block D_i = SHA256(D_{i-1} || password || salt),
// and blocks are concatenated until there are enough bytes for both the
// key and the IV.
func deriveKeyIV(password, salt []byte) (key, iv []byte) {
	need := symmetricKeySize + aes.BlockSize
	var out []byte
	prev := []byte{}
	for len(out) < need {
		sum := sha256.Sum256(append(append(append([]byte{}, prev...), password...), salt...))
		out = append(out, sum[:]...)
		prev = sum[:]
	}
	return out[:symmetricKeySize], out[symmetricKeySize:need]
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	pad := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(b, pad...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(b))
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(b) {
		return nil, fmt.Errorf("invalid padding length %d", padLen)
	}
	for _, p := range b[len(b)-padLen:] {
		if int(p) != padLen {
			return nil, fmt.Errorf("invalid padding bytes")
		}
	}
	return b[:len(b)-padLen], nil
}

func encryptCBC(password, salt, plaintext []byte) ([]byte, error) {
	key, iv := deriveKeyIV(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func decryptCBC(password, salt, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	key, iv := deriveKeyIV(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, aes.BlockSize)
}
