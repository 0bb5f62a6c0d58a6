// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"time"

	"github.com/toeirei/keysetup/internal/model"
)

// LogAction appends an entry to the audit log.
func (s *Store) LogAction(ctx context.Context, action, details string) error {
	_, err := s.bun.NewInsert().Model(&AuditLogModel{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Details:   details,
	}).Exec(ctx)
	return err
}

// AuditLog returns the newest entries first. limit <= 0 returns all.
func (s *Store) AuditLog(ctx context.Context, limit int) ([]model.AuditEntry, error) {
	var rows []AuditLogModel
	q := s.bun.NewSelect().Model(&rows).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AuditEntry{ID: r.ID, Timestamp: r.Timestamp, Action: r.Action, Details: r.Details})
	}
	return out, nil
}
