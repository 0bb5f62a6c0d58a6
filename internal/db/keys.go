// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/toeirei/keysetup/internal/model"
	"github.com/uptrace/bun"
)

// ListKeys returns every stored key ordered by creation time.
func (s *Store) ListKeys(ctx context.Context) ([]model.Key, error) {
	var rows []KeyModel
	if err := s.bun.NewSelect().Model(&rows).Order("created_at ASC", "id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Key, 0, len(rows))
	for _, r := range rows {
		out = append(out, keyModelToModel(r))
	}
	return out, nil
}

// CountKeys returns the number of stored keys.
func (s *Store) CountKeys(ctx context.Context) (int, error) {
	return s.bun.NewSelect().Model((*KeyModel)(nil)).Count(ctx)
}

// GetKey returns the key with id, or nil when it does not exist.
func (s *Store) GetKey(ctx context.Context, id string) (*model.Key, error) {
	var km KeyModel
	err := s.bun.NewSelect().Model(&km).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	k := keyModelToModel(km)
	return &k, nil
}

// InsertKeys stores keys in one transaction. A key whose id already exists
// fails the whole batch with ErrDuplicate.
func (s *Store) InsertKeys(ctx context.Context, keys ...model.Key) error {
	if len(keys) == 0 {
		return nil
	}
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, k := range keys {
			km := keyModelFromModel(k)
			if _, err := tx.NewInsert().Model(&km).Exec(ctx); err != nil {
				return fmt.Errorf("insert key %s: %w", k.ID, MapDBError(err))
			}
		}
		return nil
	})
}

// RewriteKeys replaces the private material of keys and the passphrase
// verifier atomically. It is the storage half of a passphrase change.
func (s *Store) RewriteKeys(ctx context.Context, keys []model.Key, meta Meta) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, k := range keys {
			km := keyModelFromModel(k)
			res, err := tx.NewUpdate().Model(&km).
				Column("private_key", "subkey_private", "encrypted").
				WherePK().Exec(ctx)
			if err != nil {
				return fmt.Errorf("update key %s: %w", k.ID, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("update key %s: %w", k.ID, sql.ErrNoRows)
			}
		}
		return putMeta(ctx, tx, meta)
	})
}
