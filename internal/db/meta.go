// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
)

const metaRowID = 1

// Meta is the keyring-wide state kept next to the keys.
type Meta struct {
	PassphraseSalt []byte
	PassphraseHash []byte
	UpdatedAt      time.Time
}

// HasPassphrase reports whether a passphrase verifier is recorded.
func (m Meta) HasPassphrase() bool { return len(m.PassphraseHash) > 0 }

// GetMeta returns the keyring meta row, or the zero Meta for a fresh store.
func (s *Store) GetMeta(ctx context.Context) (Meta, error) {
	var mm KeyringMetaModel
	err := s.bun.NewSelect().Model(&mm).Where("id = ?", metaRowID).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Meta{}, nil
		}
		return Meta{}, err
	}
	return Meta{PassphraseSalt: mm.PassphraseSalt, PassphraseHash: mm.PassphraseHash, UpdatedAt: mm.UpdatedAt}, nil
}

// PutMeta replaces the keyring meta row.
func (s *Store) PutMeta(ctx context.Context, meta Meta) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return putMeta(ctx, tx, meta)
	})
}

// putMeta deletes and re-inserts the row; upsert syntax differs per dialect.
func putMeta(ctx context.Context, tx bun.Tx, meta Meta) error {
	if _, err := tx.NewDelete().Model((*KeyringMetaModel)(nil)).Where("id = ?", metaRowID).Exec(ctx); err != nil {
		return err
	}
	updated := meta.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := tx.NewInsert().Model(&KeyringMetaModel{
		ID:             metaRowID,
		PassphraseSalt: meta.PassphraseSalt,
		PassphraseHash: meta.PassphraseHash,
		UpdatedAt:      updated.UTC(),
	}).Exec(ctx)
	return err
}
