// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"time"

	"github.com/toeirei/keysetup/internal/model"
	"github.com/uptrace/bun"
)

// KeyModel maps the `keys` table.
type KeyModel struct {
	bun.BaseModel `bun:"table:keys"`
	ID            string    `bun:"id,pk,type:varchar(32)"`
	UserID        string    `bun:"user_id,type:varchar(512),notnull"`
	Algorithm     string    `bun:"algorithm,type:varchar(32),notnull"`
	Fingerprint   string    `bun:"fingerprint,type:varchar(128),notnull"`
	PublicKey     string    `bun:"public_key,type:text,notnull"`
	PrivateKey    string    `bun:"private_key,type:text,notnull"`
	SubkeyPublic  string    `bun:"subkey_public,type:text"`
	SubkeyPrivate string    `bun:"subkey_private,type:text"`
	Encrypted     bool      `bun:"encrypted,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
	ExpiresAt     time.Time `bun:"expires_at,notnull"`
}

// KeyringMetaModel maps the single-row `keyring_meta` table that holds the
// passphrase verifier.
type KeyringMetaModel struct {
	bun.BaseModel  `bun:"table:keyring_meta"`
	ID             int       `bun:"id,pk"`
	PassphraseSalt []byte    `bun:"passphrase_salt"`
	PassphraseHash []byte    `bun:"passphrase_hash"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// PreferenceModel maps the `preferences` table.
type PreferenceModel struct {
	bun.BaseModel `bun:"table:preferences"`
	Name          string `bun:"name,pk,type:varchar(64)"`
	Value         bool   `bun:"value,notnull"`
}

// AuditLogModel maps the `audit_log` table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int       `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp,notnull"`
	Action        string    `bun:"action,type:varchar(64),notnull"`
	Details       string    `bun:"details,type:text"`
}

// SchemaMigrationModel records applied schema versions.
type SchemaMigrationModel struct {
	bun.BaseModel `bun:"table:schema_migrations"`
	Version       int       `bun:"version,pk"`
	AppliedAt     time.Time `bun:"applied_at,notnull"`
}

func keyModelFromModel(k model.Key) KeyModel {
	return KeyModel{
		ID:            k.ID,
		UserID:        k.UserID,
		Algorithm:     k.Algorithm,
		Fingerprint:   k.Fingerprint,
		PublicKey:     k.PublicKey,
		PrivateKey:    k.PrivateKey,
		SubkeyPublic:  k.SubkeyPub,
		SubkeyPrivate: k.SubkeyPriv,
		Encrypted:     k.Encrypted,
		CreatedAt:     k.CreatedAt.UTC(),
		ExpiresAt:     k.ExpiresAt.UTC(),
	}
}

func keyModelToModel(km KeyModel) model.Key {
	return model.Key{
		ID:          km.ID,
		UserID:      km.UserID,
		Algorithm:   km.Algorithm,
		Fingerprint: km.Fingerprint,
		PublicKey:   km.PublicKey,
		PrivateKey:  km.PrivateKey,
		SubkeyPub:   km.SubkeyPublic,
		SubkeyPriv:  km.SubkeyPrivate,
		Encrypted:   km.Encrypted,
		CreatedAt:   km.CreatedAt,
		ExpiresAt:   km.ExpiresAt,
	}
}
