// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model contains the plain data types shared by the keyring, the
// store and the setup flow.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Algorithm names accepted by the keyring.
const (
	AlgorithmECDSA   = "ecdsa"
	AlgorithmEd25519 = "ed25519"
	AlgorithmECDH    = "ecdh"
)

// DefaultExpiresUnix is 9999-12-31T00:00:00Z, the far-future expiration
// used for keys created from the welcome form.
const DefaultExpiresUnix int64 = 253402214400

// KeyGenerationRequest carries everything the keyring needs to create a new
// primary key and its encryption subkey.
type KeyGenerationRequest struct {
	Algorithm       string
	KeyBits         int
	SubkeyAlgorithm string
	SubkeyBits      int
	Name            string
	Comment         string
	Email           string
	ExpiresUnix     int64
}

// DefaultKeyGenerationRequest returns the request the welcome form submits
// for an email address: ECDSA P-256 with an ECDH P-256 subkey.
func DefaultKeyGenerationRequest(name, email, comment string) KeyGenerationRequest {
	return KeyGenerationRequest{
		Algorithm:       AlgorithmECDSA,
		KeyBits:         256,
		SubkeyAlgorithm: AlgorithmECDH,
		SubkeyBits:      256,
		Name:            name,
		Comment:         comment,
		Email:           email,
		ExpiresUnix:     DefaultExpiresUnix,
	}
}

// UserID renders the request's identity as "Name (Comment) <email>",
// omitting the parts that are empty.
func (r KeyGenerationRequest) UserID() string {
	var parts []string
	if n := strings.TrimSpace(r.Name); n != "" {
		parts = append(parts, n)
	}
	if c := strings.TrimSpace(r.Comment); c != "" {
		parts = append(parts, "("+c+")")
	}
	if e := strings.TrimSpace(r.Email); e != "" {
		parts = append(parts, "<"+e+">")
	}
	return strings.Join(parts, " ")
}

// Validate checks the request for values the keyring cannot serve.
func (r KeyGenerationRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("a name or an email address is required")
	}
	if e := strings.TrimSpace(r.Email); e != "" && (!strings.Contains(e, "@") || strings.ContainsAny(e, " <>")) {
		return fmt.Errorf("invalid email address %q", e)
	}
	switch r.Algorithm {
	case AlgorithmECDSA:
		if r.KeyBits != 256 && r.KeyBits != 384 && r.KeyBits != 521 {
			return fmt.Errorf("unsupported ecdsa key size %d", r.KeyBits)
		}
	case AlgorithmEd25519:
	default:
		return fmt.Errorf("unsupported key algorithm %q", r.Algorithm)
	}
	if r.SubkeyAlgorithm != "" && r.SubkeyAlgorithm != AlgorithmECDH {
		return fmt.Errorf("unsupported subkey algorithm %q", r.SubkeyAlgorithm)
	}
	if r.SubkeyAlgorithm == AlgorithmECDH && r.SubkeyBits != 256 && r.SubkeyBits != 384 && r.SubkeyBits != 521 {
		return fmt.Errorf("unsupported ecdh subkey size %d", r.SubkeyBits)
	}
	if r.ExpiresUnix != 0 && r.ExpiresUnix <= time.Now().Unix() {
		return fmt.Errorf("expiration lies in the past")
	}
	return nil
}

// Key is a key stored in the keyring.
type Key struct {
	ID          string // fingerprint-derived key id
	UserID      string
	Algorithm   string
	PublicKey   string // authorized_keys line
	PrivateKey  string // OpenSSH PEM, encrypted when the keyring has a passphrase
	SubkeyPub   string
	SubkeyPriv  string
	Fingerprint string
	Encrypted   bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Info projects the key onto the listing view.
func (k Key) Info() KeyInfo {
	return KeyInfo{
		ID:          k.ID,
		UserID:      k.UserID,
		Algorithm:   k.Algorithm,
		Fingerprint: k.Fingerprint,
		HasSubkey:   k.SubkeyPub != "",
		Encrypted:   k.Encrypted,
		CreatedAt:   k.CreatedAt,
		ExpiresAt:   k.ExpiresAt,
	}
}

// KeyInfo is the public, listing-level view of a key.
type KeyInfo struct {
	ID          string
	UserID      string
	Algorithm   string
	Fingerprint string
	HasSubkey   bool
	Encrypted   bool
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// String renders a one-line summary used in listings and confirmations.
func (k KeyInfo) String() string {
	return fmt.Sprintf("%s %s %s", k.Algorithm, k.Fingerprint, k.UserID)
}

// ImportResult summarises one import call.
type ImportResult struct {
	Imported []KeyInfo
	Skipped  []string // ids already present in the keyring
}

// Preferences are the user-visible toggles of the welcome screen.
type Preferences struct {
	WelcomeEnabled        bool
	ActionSniffingEnabled bool
}

// DefaultPreferences mirrors a fresh installation.
func DefaultPreferences() Preferences {
	return Preferences{WelcomeEnabled: true, ActionSniffingEnabled: true}
}

// AuditEntry records one keyring mutation.
type AuditEntry struct {
	ID        int
	Timestamp time.Time
	Action    string
	Details   string
}
