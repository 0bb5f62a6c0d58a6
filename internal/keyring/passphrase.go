// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package keyring

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"github.com/toeirei/keysetup/internal/db"
	"github.com/toeirei/keysetup/internal/security"
	"golang.org/x/crypto/argon2"
)

// argon2id parameters for the passphrase verifier.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

func deriveVerifier(passphrase security.Secret, salt []byte) []byte {
	return argon2.IDKey(passphrase.Bytes(), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// newMeta builds the verifier for passphrase. An empty passphrase clears it.
func newMeta(passphrase security.Secret) (db.Meta, error) {
	if passphrase.IsEmpty() {
		return db.Meta{}, nil
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return db.Meta{}, fmt.Errorf("generate salt: %w", err)
	}
	return db.Meta{PassphraseSalt: salt, PassphraseHash: deriveVerifier(passphrase, salt)}, nil
}

func verify(meta db.Meta, passphrase security.Secret) bool {
	if !meta.HasPassphrase() {
		return passphrase.IsEmpty()
	}
	got := deriveVerifier(passphrase, meta.PassphraseSalt)
	return subtle.ConstantTimeCompare(got, meta.PassphraseHash) == 1
}
