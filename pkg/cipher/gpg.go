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
	"fmt"
	"io"

	"golang.org/x/crypto/openpgp"

	"coldvault/pkg/coldvaulterr"
)

// gpgPipeline encrypts to a set of public-key recipients and, if a
// signer identity is configured, signs the envelope with that
// identity's private key. Decrypt unlocks whichever of the caller's
// secret keys the envelope was addressed to.
//
// Grounded on the teacher's jsonsign package: recipients/signer are
// resolved from an on-disk keyring exactly as jsonsign.NewEntityFetcher
// resolves a signer, and private-key unlocking follows
// sign_normal.go's gpg-agent-then-pinentry fallback chain.
type gpgPipeline struct {
	keyring    *Keyring
	recipients []string
	signer     string
}

// NewGPGPipeline returns the gpg cipher Pipeline. recipients names the
// public keys Encrypt addresses the envelope to; signer, if non-empty,
// names the private key Encrypt signs the envelope with.
func NewGPGPipeline(keyring *Keyring, recipients []string, signer string) Pipeline {
	return &gpgPipeline{keyring: keyring, recipients: recipients, signer: signer}
}

func (p *gpgPipeline) Encrypt(r io.Reader, w io.Writer) (*string, error) {
	to, err := p.keyring.RecipientEntities(p.recipients)
	if err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "resolving gpg recipients")
	}

	var signedBy *openpgp.Entity
	if p.signer != "" {
		signedBy, err = p.keyring.SigningEntity(p.signer)
		if err != nil {
			return nil, coldvaulterr.CipherErrorf(err, "resolving gpg signer %q", p.signer)
		}
	}

	plaintext, err := openpgp.Encrypt(w, to, signedBy, nil, nil)
	if err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "opening gpg envelope")
	}
	if _, err := io.Copy(plaintext, r); err != nil {
		plaintext.Close()
		return nil, coldvaulterr.CipherErrorf(err, "writing gpg plaintext")
	}
	if err := plaintext.Close(); err != nil {
		return nil, coldvaulterr.CipherErrorf(err, "closing gpg envelope")
	}
	return nil, nil
}

func (p *gpgPipeline) Decrypt(r io.Reader, w io.Writer, _ *string) error {
	keyring, err := p.keyring.DecryptionKeyring()
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "loading gpg secret keyring")
	}

	tried := 0
	md, err := openpgp.ReadMessage(r, keyring, func(keys []openpgp.Key, symmetric bool) ([]byte, error) {
		if symmetric || len(keys) == 0 {
			return nil, fmt.Errorf("cipher/gpg: symmetric passphrase prompting is not supported")
		}
		tried++
		if tried > 3 {
			return nil, fmt.Errorf("cipher/gpg: too many failed passphrase attempts")
		}
		id := keys[0].PublicKey.KeyIdShortString()
		desc := fmt.Sprintf("Unlock GPG key %s to decrypt a coldvault entry.", id)
		pass, err := promptPassphrase(id, desc)
		if err != nil {
			return nil, err
		}
		// ReadMessage does not apply the passphrase to asymmetric keys
		// itself; a key left encrypted here makes it call us again.
		for _, k := range keys {
			_ = k.PrivateKey.Decrypt(pass)
		}
		return nil, nil
	}, nil)
	if err != nil {
		return coldvaulterr.CipherErrorf(err, "opening gpg envelope")
	}
	if _, err := io.Copy(w, md.UnverifiedBody); err != nil {
		return coldvaulterr.CipherErrorf(err, "reading gpg plaintext")
	}
	if md.SignatureError != nil {
		return coldvaulterr.CipherErrorf(md.SignatureError, "verifying gpg signature")
	}
	return nil
}
