// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

// package ssh provides convenience wrappers around the golang.org/x/crypto/ssh package
// for generating, encoding and decoding keyring key material.
package ssh // import "github.com/toeirei/keysetup/internal/crypto/ssh"

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/keysetup/internal/security"
	"golang.org/x/crypto/ssh"
)

// PEM header names written on exported keyring blocks.
const (
	HeaderUserID   = "User-Id"
	HeaderSubkeyOf = "Subkey-Of"
)

// FingerprintSHA256 returns the SHA256 fingerprint of the public key.
var FingerprintSHA256 = ssh.FingerprintSHA256

// ErrWrongPassphrase is returned when an encrypted key cannot be opened with
// the given passphrase.
var ErrWrongPassphrase = errors.New("wrong passphrase")

// GenerateKey creates a new private key for algorithm ("ecdsa", "ecdh",
// "ed25519"). ECDH subkeys are ECDSA keys on the same curve; they are used
// through (*ecdsa.PrivateKey).ECDH.
func GenerateKey(algorithm string, bits int) (crypto.Signer, error) {
	switch algorithm {
	case "ecdsa", "ecdh":
		curve, err := curveFor(bits)
		if err != nil {
			return nil, err
		}
		return ecdsa.GenerateKey(curve, rand.Reader)
	case "ed25519":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

func curveFor(bits int) (elliptic.Curve, error) {
	switch bits {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	}
	return nil, fmt.Errorf("unsupported curve size %d", bits)
}

// MarshalPrivateKey encodes key in the OpenSSH private key format. A
// non-empty passphrase encrypts the block.
func MarshalPrivateKey(key crypto.Signer, comment string, passphrase security.Secret) (string, error) {
	var (
		block *pem.Block
		err   error
	)
	if passphrase.IsEmpty() {
		block, err = ssh.MarshalPrivateKey(key, comment)
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(key, comment, passphrase.Bytes())
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(block)), nil
}

// ParsePrivateKey decodes an OpenSSH or PKCS PEM private key. When the key
// is encrypted and passphrase is empty the returned error satisfies
// IsPassphraseMissing.
func ParsePrivateKey(pemBytes []byte, passphrase security.Secret) (crypto.Signer, error) {
	var (
		raw any
		err error
	)
	if passphrase.IsEmpty() {
		raw, err = ssh.ParseRawPrivateKey(pemBytes)
	} else {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, passphrase.Bytes())
	}
	if err != nil {
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, ErrWrongPassphrase
		}
		return nil, err
	}
	if p, ok := raw.(*ed25519.PrivateKey); ok {
		raw = *p
	}
	signer, ok := raw.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", raw)
	}
	return signer, nil
}

// IsPassphraseMissing reports whether err signals an encrypted key that was
// parsed without a passphrase.
func IsPassphraseMissing(err error) bool {
	var pm *ssh.PassphraseMissingError
	return errors.As(err, &pm)
}

// EncryptedPublicKey returns the public key carried in the unencrypted part
// of an encrypted OpenSSH key, if the format exposes it.
func EncryptedPublicKey(err error) (ssh.PublicKey, bool) {
	var pm *ssh.PassphraseMissingError
	if errors.As(err, &pm) && pm.PublicKey != nil {
		return pm.PublicKey, true
	}
	return nil, false
}

// AuthorizedKey renders the public half of key as an authorized_keys line.
func AuthorizedKey(key crypto.Signer, comment string) (string, ssh.PublicKey, error) {
	pub, err := ssh.NewPublicKey(key.Public())
	if err != nil {
		return "", nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line, pub, nil
}

// KeyID derives the 16 hex digit id of a public key from its SHA256 digest.
func KeyID(pub ssh.PublicKey) string {
	sum := sha256.Sum256(pub.Marshal())
	return strings.ToUpper(hex.EncodeToString(sum[len(sum)-8:]))
}

// AlgorithmName maps an SSH key type to the keyring's algorithm names.
func AlgorithmName(pub ssh.PublicKey) string {
	switch {
	case pub.Type() == ssh.KeyAlgoED25519:
		return "ed25519"
	case strings.HasPrefix(pub.Type(), "ecdsa-"):
		return "ecdsa"
	case pub.Type() == ssh.KeyAlgoRSA:
		return "rsa"
	}
	return pub.Type()
}

// Block is one PEM block of an exported keyring.
type Block struct {
	PEM      []byte
	UserID   string
	SubkeyOf string
}

// SplitBlocks cuts raw into its PEM blocks, keeping the keyring headers.
// Text between blocks is ignored. No blocks at all is an error.
func SplitBlocks(raw []byte) ([]Block, error) {
	var out []Block
	rest := raw
	for {
		var b *pem.Block
		b, rest = pem.Decode(rest)
		if b == nil {
			break
		}
		if !strings.HasSuffix(b.Type, "PRIVATE KEY") {
			continue
		}
		userID := b.Headers[HeaderUserID]
		subkeyOf := b.Headers[HeaderSubkeyOf]
		out = append(out, Block{PEM: pem.EncodeToMemory(b), UserID: userID, SubkeyOf: subkeyOf})
	}
	if len(out) == 0 {
		return nil, errors.New("no private key blocks found")
	}
	return out, nil
}

// WithHeaders re-encodes a PEM private key with keyring headers attached.
func WithHeaders(pemText string, headers map[string]string) (string, error) {
	b, _ := pem.Decode([]byte(pemText))
	if b == nil {
		return "", errors.New("not a PEM block")
	}
	if b.Headers == nil {
		b.Headers = map[string]string{}
	}
	for k, v := range headers {
		if v != "" {
			b.Headers[k] = v
		}
	}
	return string(pem.EncodeToMemory(b)), nil
}
