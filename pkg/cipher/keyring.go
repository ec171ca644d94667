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
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/crypto/openpgp"

	"coldvault/internal/gpgagent"
	"coldvault/internal/pinentry"
)

// Keyring is the external GnuPG keyring the gpg pipeline encrypts
// against and signs/decrypts with. It is constructed once by the
// caller (mirroring the "no module-scope singleton" redesign flag) and
// passed into the gpg Cipher.
type Keyring struct {
	PubringPath string
	SecringPath string
}

// DefaultKeyring returns a Keyring pointed at the conventional
// $GNUPGHOME (or $HOME/.gnupg) pubring/secring files.
func DefaultKeyring() *Keyring {
	home := os.Getenv("GNUPGHOME")
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h + "/.gnupg"
		}
	}
	return &Keyring{
		PubringPath: home + "/pubring.gpg",
		SecringPath: home + "/secring.gpg",
	}
}

func readKeyRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	el, err := openpgp.ReadArmoredKeyRing(f)
	if err == nil {
		return el, nil
	}
	if _, serr := f.Seek(0, 0); serr != nil {
		return nil, err
	}
	return openpgp.ReadKeyRing(f)
}

func matchesIdentity(e *openpgp.Entity, identity string) bool {
	id := strings.ToUpper(identity)
	if e.PrimaryKey != nil {
		if e.PrimaryKey.KeyIdString() == id || e.PrimaryKey.KeyIdShortString() == id {
			return true
		}
	}
	for name := range e.Identities {
		if strings.Contains(strings.ToLower(name), strings.ToLower(identity)) {
			return true
		}
	}
	return false
}

// RecipientEntities resolves each of identities to a public key entity
// from the pubring. It returns a Cipher error (via the caller) if any
// identity cannot be resolved or if identities is empty.
func (k *Keyring) RecipientEntities(identities []string) ([]*openpgp.Entity, error) {
	if len(identities) == 0 {
		return nil, errors.New("no recipients configured")
	}
	el, err := readKeyRing(k.PubringPath)
	if err != nil {
		return nil, fmt.Errorf("reading public keyring %s: %w", k.PubringPath, err)
	}
	var out []*openpgp.Entity
	for _, id := range identities {
		var found *openpgp.Entity
		for _, e := range el {
			if matchesIdentity(e, id) {
				found = e
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("unknown recipient %q: not found in %s", id, k.PubringPath)
		}
		out = append(out, found)
	}
	return out, nil
}

// SigningEntity resolves identity to a private key entity from the
// secring, unlocking it via gpg-agent (or pinentry as a fallback) if
// its private key material is passphrase-protected.
func (k *Keyring) SigningEntity(identity string) (*openpgp.Entity, error) {
	el, err := readKeyRing(k.SecringPath)
	if err != nil {
		return nil, fmt.Errorf("reading secret keyring %s: %w", k.SecringPath, err)
	}
	var found *openpgp.Entity
	for _, e := range el {
		if e.PrivateKey != nil && matchesIdentity(e, identity) {
			found = e
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("unknown signer %q: not found in %s", identity, k.SecringPath)
	}
	if found.PrivateKey.Encrypted {
		if err := unlockPrivateKey(found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// DecryptionKeyring returns the full secret keyring as an openpgp.KeyRing,
// for use as the keyring argument to openpgp.ReadMessage.
func (k *Keyring) DecryptionKeyring() (openpgp.EntityList, error) {
	return readKeyRing(k.SecringPath)
}

// unlockPrivateKey decrypts e's private key material in place, prompting
// through gpg-agent first and falling back to a direct pinentry prompt.
// Grounded on the teacher's jsonsign.FileEntityFetcher.decryptEntity.
func unlockPrivateKey(e *openpgp.Entity) error {
	pub := &e.PrivateKey.PublicKey
	cacheKey := "coldvault:" + pub.KeyIdShortString()
	desc := fmt.Sprintf("Unlock GPG key %s to use it with coldvault.", pub.KeyIdShortString())

	return promptLoop(cacheKey, desc, func(pass string) error {
		return e.PrivateKey.Decrypt([]byte(pass))
	})
}

// promptPassphrase is used by the gpg pipeline's openpgp.ReadMessage
// PromptFunction: it returns a candidate passphrase without decrypting
// anything itself. The PromptFunction applies it to the candidate keys,
// and openpgp calls the PromptFunction again while none is unlocked.
func promptPassphrase(keyID, desc string) ([]byte, error) {
	var pass string
	err := promptLoop("coldvault:"+keyID, desc, func(p string) error {
		pass = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return []byte(pass), nil
}

// promptLoop asks gpg-agent, then pinentry, for a passphrase and hands
// each attempt to try. try should return a non-nil error only when the
// passphrase itself was wrong, so promptLoop knows to reprompt.
func promptLoop(cacheKey, desc string, try func(pass string) error) error {
	conn, err := gpgagent.NewConn()
	switch err {
	case gpgagent.ErrNoAgent:
		log.Printf("cipher/gpg: no gpg-agent found; falling back to pinentry")
	case nil:
		defer conn.Close()
		req := &gpgagent.PassphraseRequest{
			CacheKey: cacheKey,
			Prompt:   "Passphrase",
			Desc:     desc,
		}
		for range 2 {
			pass, perr := conn.GetPassphrase(req)
			if perr == nil {
				if terr := try(pass); terr == nil {
					return nil
				} else {
					req.Error = "Passphrase failed to decrypt: " + terr.Error()
					conn.RemoveFromCache(req.CacheKey)
					continue
				}
			}
			if perr == gpgagent.ErrCancel {
				return errors.New("cipher/gpg: passphrase entry canceled")
			}
			log.Printf("cipher/gpg: gpgagent: %v", perr)
			break
		}
	default:
		log.Printf("cipher/gpg: gpgagent: %v", err)
	}

	pinReq := &pinentry.Request{Desc: desc, Prompt: "Passphrase"}
	for range 2 {
		pass, perr := pinReq.GetPIN()
		if perr == nil {
			if terr := try(pass); terr == nil {
				return nil
			} else {
				pinReq.Error = "Passphrase failed to decrypt: " + terr.Error()
				continue
			}
		}
		if perr == pinentry.ErrCancel {
			return errors.New("cipher/gpg: passphrase entry canceled")
		}
		log.Printf("cipher/gpg: pinentry: %v", perr)
	}
	return fmt.Errorf("cipher/gpg: failed to obtain passphrase for %s", cacheKey)
}
