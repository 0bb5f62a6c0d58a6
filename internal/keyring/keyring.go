// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package keyring is the long-lived cryptographic context: it lists,
// generates, imports and re-keys the keys kept in the store.
package keyring

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	sshfmt "github.com/toeirei/keysetup/internal/crypto/ssh"
	"github.com/toeirei/keysetup/internal/db"
	"github.com/toeirei/keysetup/internal/logging"
	"github.com/toeirei/keysetup/internal/model"
	"github.com/toeirei/keysetup/internal/security"
)

var (
	// ErrLocked is returned by mutating calls while the keyring has a
	// passphrase that has not been supplied in this process.
	ErrLocked = errors.New("keyring is locked")
	// ErrWrongPassphrase is returned when a passphrase does not open the
	// keyring or an imported key.
	ErrWrongPassphrase = errors.New("wrong passphrase")
	// ErrNotFound is returned for unknown key ids.
	ErrNotFound = errors.New("key not found")
)

// Audit actions written by the keyring.
const (
	ActionGenerateKey      = "GENERATE_KEY"
	ActionImportKeys       = "IMPORT_KEYS"
	ActionChangePassphrase = "CHANGE_PASSPHRASE"
)

// Store is the persistence the keyring needs; *db.Store implements it.
type Store interface {
	ListKeys(ctx context.Context) ([]model.Key, error)
	GetKey(ctx context.Context, id string) (*model.Key, error)
	InsertKeys(ctx context.Context, keys ...model.Key) error
	RewriteKeys(ctx context.Context, keys []model.Key, meta db.Meta) error
	GetMeta(ctx context.Context) (db.Meta, error)
	LogAction(ctx context.Context, action, details string) error
}

// Keyring is safe for concurrent use. Mutating calls (GenerateKey, Import,
// ChangePassphrase, Unlock) are serialized.
type Keyring struct {
	store Store
	now   func() time.Time

	opMu sync.Mutex // held for the whole of a mutating call

	mu         sync.RWMutex
	meta       db.Meta
	passphrase security.Secret // nil while locked
}

// Open loads the keyring state from store. A keyring with a passphrase
// starts locked.
func Open(ctx context.Context, store Store) (*Keyring, error) {
	meta, err := store.GetMeta(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keyring meta: %w", err)
	}
	return &Keyring{store: store, now: time.Now, meta: meta}, nil
}

// IsEncrypted reports whether the keyring is protected by a passphrase.
func (k *Keyring) IsEncrypted() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.meta.HasPassphrase()
}

// IsLocked reports whether the keyring has a passphrase that was not
// supplied yet.
func (k *Keyring) IsLocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.meta.HasPassphrase() && k.passphrase == nil
}

// Unlock checks passphrase against the stored verifier and keeps it for
// later mutating calls.
func (k *Keyring) Unlock(_ context.Context, passphrase security.Secret) error {
	k.opMu.Lock()
	defer k.opMu.Unlock()
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.meta.HasPassphrase() {
		return nil
	}
	if !verify(k.meta, passphrase) {
		return ErrWrongPassphrase
	}
	k.passphrase = security.FromBytes(passphrase)
	return nil
}

// currentPassphrase returns the passphrase new material is encrypted with,
// or ErrLocked.
func (k *Keyring) currentPassphrase() (security.Secret, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.meta.HasPassphrase() {
		return nil, nil
	}
	if k.passphrase == nil {
		return nil, ErrLocked
	}
	return k.passphrase, nil
}

// ListKeys returns the keys by id. Without includeAll, expired keys are left
// out.
func (k *Keyring) ListKeys(ctx context.Context, includeAll bool) (map[string]model.KeyInfo, error) {
	keys, err := k.store.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	now := k.now()
	out := make(map[string]model.KeyInfo, len(keys))
	for _, key := range keys {
		if !includeAll && !key.ExpiresAt.IsZero() && key.ExpiresAt.Before(now) {
			continue
		}
		out[key.ID] = key.Info()
	}
	return out, nil
}

// PublicKey returns the authorized_keys line of key id.
func (k *Keyring) PublicKey(ctx context.Context, id string) (string, error) {
	key, err := k.store.GetKey(ctx, id)
	if err != nil {
		return "", err
	}
	if key == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return key.PublicKey, nil
}

// GenerateKey creates a primary key and, when requested, an ECDH subkey,
// and stores them encrypted under the keyring passphrase.
func (k *Keyring) GenerateKey(ctx context.Context, req model.KeyGenerationRequest) (*model.Key, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	k.opMu.Lock()
	defer k.opMu.Unlock()

	pass, err := k.currentPassphrase()
	if err != nil {
		return nil, err
	}

	uid := req.UserID()
	primary, err := sshfmt.GenerateKey(req.Algorithm, req.KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	key, err := k.buildKey(primary, uid, pass)
	if err != nil {
		return nil, err
	}
	if req.SubkeyAlgorithm != "" {
		sub, err := sshfmt.GenerateKey(req.SubkeyAlgorithm, req.SubkeyBits)
		if err != nil {
			return nil, fmt.Errorf("generate subkey: %w", err)
		}
		if err := k.attachSubkey(&key, sub, pass); err != nil {
			return nil, err
		}
	}
	expires := req.ExpiresUnix
	if expires == 0 {
		expires = model.DefaultExpiresUnix
	}
	key.ExpiresAt = time.Unix(expires, 0).UTC()

	if err := k.store.InsertKeys(ctx, key); err != nil {
		return nil, fmt.Errorf("save key: %w", err)
	}
	k.audit(ctx, ActionGenerateKey, fmt.Sprintf("id: %s, uid: %s, algorithm: %s", key.ID, uid, key.Algorithm))
	logging.Infof("keyring: generated %s key %s", key.Algorithm, key.ID)
	return &key, nil
}

func (k *Keyring) buildKey(signer crypto.Signer, uid string, pass security.Secret) (model.Key, error) {
	line, pub, err := sshfmt.AuthorizedKey(signer, uid)
	if err != nil {
		return model.Key{}, err
	}
	priv, err := sshfmt.MarshalPrivateKey(signer, uid, pass)
	if err != nil {
		return model.Key{}, err
	}
	id := sshfmt.KeyID(pub)
	if uid == "" {
		uid = id
	}
	return model.Key{
		ID:          id,
		UserID:      uid,
		Algorithm:   sshfmt.AlgorithmName(pub),
		PublicKey:   line,
		PrivateKey:  priv,
		Fingerprint: sshfmt.FingerprintSHA256(pub),
		Encrypted:   !pass.IsEmpty(),
		CreatedAt:   k.now().UTC(),
		ExpiresAt:   time.Unix(model.DefaultExpiresUnix, 0).UTC(),
	}, nil
}

func (k *Keyring) attachSubkey(key *model.Key, sub crypto.Signer, pass security.Secret) error {
	line, _, err := sshfmt.AuthorizedKey(sub, key.ID+"/"+model.AlgorithmECDH)
	if err != nil {
		return err
	}
	priv, err := sshfmt.MarshalPrivateKey(sub, key.ID, pass)
	if err != nil {
		return err
	}
	key.SubkeyPub = line
	key.SubkeyPriv = priv
	return nil
}

// Describe summarises the keys in raw for a confirmation prompt without
// importing anything.
func (k *Keyring) Describe(raw []byte) (string, error) {
	blocks, err := sshfmt.SplitBlocks(raw)
	if err != nil {
		return "", err
	}
	var lines []string
	for _, b := range blocks {
		signer, err := sshfmt.ParsePrivateKey(b.PEM, nil)
		var line string
		switch {
		case err == nil:
			_, pub, aerr := sshfmt.AuthorizedKey(signer, "")
			if aerr != nil {
				return "", aerr
			}
			line = fmt.Sprintf("%s %s", sshfmt.AlgorithmName(pub), sshfmt.FingerprintSHA256(pub))
		case sshfmt.IsPassphraseMissing(err):
			line = "encrypted key"
			if pub, ok := sshfmt.EncryptedPublicKey(err); ok {
				line = fmt.Sprintf("%s %s (encrypted)", sshfmt.AlgorithmName(pub), sshfmt.FingerprintSHA256(pub))
			}
		default:
			return "", fmt.Errorf("unreadable key block: %w", err)
		}
		switch {
		case b.SubkeyOf != "":
			line = "  sub " + line
		case b.UserID != "":
			line = fmt.Sprintf("pub %s %s", line, b.UserID)
		default:
			line = "pub " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

// Import adds the keys in raw to the keyring. ask is called once for every
// encrypted key whose passphrase is not known yet; keys already present are
// reported as skipped.
func (k *Keyring) Import(ctx context.Context, ask PassphraseFunc, raw []byte) (*model.ImportResult, error) {
	blocks, err := sshfmt.SplitBlocks(raw)
	if err != nil {
		return nil, err
	}
	k.opMu.Lock()
	defer k.opMu.Unlock()

	pass, err := k.currentPassphrase()
	if err != nil {
		return nil, err
	}

	res := &model.ImportResult{}
	primaries := map[string]*model.Key{}
	var order []string
	known := map[string]security.Secret{} // passphrases by key id

	open := func(b sshfmt.Block, uid, fallback string) (crypto.Signer, string, error) {
		signer, err := sshfmt.ParsePrivateKey(b.PEM, nil)
		if err == nil {
			return signer, "", nil
		}
		if !sshfmt.IsPassphraseMissing(err) {
			return nil, "", fmt.Errorf("unreadable key block: %w", err)
		}
		id := fallback
		if pub, ok := sshfmt.EncryptedPublicKey(err); ok {
			id = sshfmt.KeyID(pub)
		}
		if p, ok := known[fallback]; ok && fallback != "" {
			if signer, err := sshfmt.ParsePrivateKey(b.PEM, p); err == nil {
				return signer, id, nil
			}
		}
		label := uid
		if label == "" {
			label = id
		}
		r := NewResolver()
		ask(label, r)
		p, err := r.Wait(ctx)
		if err != nil {
			return nil, "", err
		}
		signer, err = sshfmt.ParsePrivateKey(b.PEM, p)
		if err != nil {
			if errors.Is(err, sshfmt.ErrWrongPassphrase) {
				return nil, "", fmt.Errorf("%w for %s", ErrWrongPassphrase, label)
			}
			return nil, "", err
		}
		known[id] = p
		return signer, id, nil
	}

	var subs []sshfmt.Block
	for _, b := range blocks {
		if b.SubkeyOf != "" {
			subs = append(subs, b)
			continue
		}
		signer, _, err := open(b, b.UserID, "")
		if err != nil {
			return nil, err
		}
		key, err := k.buildKey(signer, b.UserID, pass)
		if err != nil {
			return nil, err
		}
		if _, dup := primaries[key.ID]; dup {
			continue
		}
		primaries[key.ID] = &key
		order = append(order, key.ID)
	}
	for _, b := range subs {
		owner, ok := primaries[b.SubkeyOf]
		if !ok {
			res.Skipped = append(res.Skipped, b.SubkeyOf+"/sub")
			continue
		}
		signer, _, err := open(b, owner.UserID, owner.ID)
		if err != nil {
			return nil, err
		}
		if err := k.attachSubkey(owner, signer, pass); err != nil {
			return nil, err
		}
	}

	var fresh []model.Key
	for _, id := range order {
		existing, err := k.store.GetKey(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		fresh = append(fresh, *primaries[id])
	}
	if err := k.store.InsertKeys(ctx, fresh...); err != nil {
		return nil, fmt.Errorf("save imported keys: %w", err)
	}
	for _, key := range fresh {
		res.Imported = append(res.Imported, key.Info())
	}
	if len(fresh) > 0 {
		k.audit(ctx, ActionImportKeys, fmt.Sprintf("imported: %d, skipped: %d", len(fresh), len(res.Skipped)))
	}
	logging.Infof("keyring: imported %d keys, skipped %d", len(fresh), len(res.Skipped))
	return res, nil
}

// ChangePassphrase re-encrypts every key under newPassphrase. An empty
// passphrase removes the protection.
func (k *Keyring) ChangePassphrase(ctx context.Context, newPassphrase security.Secret) error {
	k.opMu.Lock()
	defer k.opMu.Unlock()

	old, err := k.currentPassphrase()
	if err != nil {
		return err
	}
	keys, err := k.store.ListKeys(ctx)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	for i := range keys {
		if keys[i].PrivateKey, err = rekey(keys[i].PrivateKey, keys[i].UserID, old, newPassphrase); err != nil {
			return fmt.Errorf("re-encrypt %s: %w", keys[i].ID, err)
		}
		if keys[i].SubkeyPriv != "" {
			if keys[i].SubkeyPriv, err = rekey(keys[i].SubkeyPriv, keys[i].ID, old, newPassphrase); err != nil {
				return fmt.Errorf("re-encrypt subkey of %s: %w", keys[i].ID, err)
			}
		}
		keys[i].Encrypted = !newPassphrase.IsEmpty()
	}
	meta, err := newMeta(newPassphrase)
	if err != nil {
		return err
	}
	meta.UpdatedAt = k.now()
	if err := k.store.RewriteKeys(ctx, keys, meta); err != nil {
		return fmt.Errorf("store re-encrypted keys: %w", err)
	}

	k.mu.Lock()
	k.meta = meta
	if newPassphrase.IsEmpty() {
		k.passphrase = nil
	} else {
		k.passphrase = security.FromBytes(newPassphrase)
	}
	k.mu.Unlock()

	k.audit(ctx, ActionChangePassphrase, fmt.Sprintf("keys: %d, protected: %t", len(keys), !newPassphrase.IsEmpty()))
	return nil
}

func rekey(pemText, comment string, old, next security.Secret) (string, error) {
	signer, err := sshfmt.ParsePrivateKey([]byte(pemText), old)
	if err != nil {
		if errors.Is(err, sshfmt.ErrWrongPassphrase) {
			return "", ErrWrongPassphrase
		}
		return "", err
	}
	return sshfmt.MarshalPrivateKey(signer, comment, next)
}

// Export writes the keyring as PEM blocks that Import reads back. Private
// material stays encrypted exactly as stored. With publicOnly, only
// authorized_keys lines are written.
func (k *Keyring) Export(ctx context.Context, w io.Writer, publicOnly bool) (int, error) {
	keys, err := k.store.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list keys: %w", err)
	}
	for _, key := range keys {
		if publicOnly {
			if _, err := fmt.Fprintln(w, key.PublicKey); err != nil {
				return 0, err
			}
			continue
		}
		block, err := sshfmt.WithHeaders(key.PrivateKey, map[string]string{sshfmt.HeaderUserID: key.UserID})
		if err != nil {
			return 0, fmt.Errorf("export %s: %w", key.ID, err)
		}
		if _, err := io.WriteString(w, block); err != nil {
			return 0, err
		}
		if key.SubkeyPriv != "" {
			sub, err := sshfmt.WithHeaders(key.SubkeyPriv, map[string]string{sshfmt.HeaderSubkeyOf: key.ID})
			if err != nil {
				return 0, fmt.Errorf("export subkey of %s: %w", key.ID, err)
			}
			if _, err := io.WriteString(w, sub); err != nil {
				return 0, err
			}
		}
	}
	return len(keys), nil
}

func (k *Keyring) audit(ctx context.Context, action, details string) {
	if err := k.store.LogAction(ctx, action, details); err != nil {
		logging.Warnf("keyring: audit %s failed: %v", action, err)
	}
}
