// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package ssh

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"errors"
	"strings"
	"testing"

	"github.com/toeirei/keysetup/internal/security"
	xssh "golang.org/x/crypto/ssh"
)

func TestGenerateKey_Algorithms(t *testing.T) {
	k, err := GenerateKey("ecdsa", 256)
	if err != nil {
		t.Fatalf("ecdsa: %v", err)
	}
	if _, ok := k.(*ecdsa.PrivateKey); !ok {
		t.Fatalf("expected *ecdsa.PrivateKey, got %T", k)
	}
	sub, err := GenerateKey("ecdh", 256)
	if err != nil {
		t.Fatalf("ecdh: %v", err)
	}
	if _, err := sub.(*ecdsa.PrivateKey).ECDH(); err != nil {
		t.Fatalf("subkey not usable for ECDH: %v", err)
	}
	ed, err := GenerateKey("ed25519", 0)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}
	if _, ok := ed.(ed25519.PrivateKey); !ok {
		t.Fatalf("expected ed25519.PrivateKey, got %T", ed)
	}
	if _, err := GenerateKey("ecdsa", 1024); err == nil {
		t.Fatal("expected error for unsupported curve")
	}
	if _, err := GenerateKey("dsa", 1024); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestMarshalAndParse_Plain(t *testing.T) {
	k, _ := GenerateKey("ed25519", 0)
	priv, err := MarshalPrivateKey(k, "unit-test", nil)
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}
	got, err := ParsePrivateKey([]byte(priv), nil)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if _, ok := got.(ed25519.PrivateKey); !ok {
		t.Fatalf("expected value ed25519 key, got %T", got)
	}
}

func TestMarshalAndParse_WithPassphrase(t *testing.T) {
	k, _ := GenerateKey("ecdsa", 256)
	pass := security.FromString("correct-horse")
	priv, err := MarshalPrivateKey(k, "enc", pass)
	if err != nil {
		t.Fatalf("MarshalPrivateKey: %v", err)
	}

	_, err = ParsePrivateKey([]byte(priv), nil)
	if !IsPassphraseMissing(err) {
		t.Fatalf("expected passphrase missing, got %v", err)
	}
	pub, ok := EncryptedPublicKey(err)
	if !ok {
		t.Fatal("expected public key on passphrase missing error")
	}
	want, _ := xssh.NewPublicKey(k.Public())
	if KeyID(pub) != KeyID(want) {
		t.Fatalf("key id mismatch: %s vs %s", KeyID(pub), KeyID(want))
	}

	if _, err := ParsePrivateKey([]byte(priv), security.FromString("wrong")); !errors.Is(err, ErrWrongPassphrase) {
		t.Fatalf("expected ErrWrongPassphrase, got %v", err)
	}
	if _, err := ParsePrivateKey([]byte(priv), pass); err != nil {
		t.Fatalf("parse with passphrase: %v", err)
	}
}

func TestAuthorizedKeyAndFingerprint(t *testing.T) {
	k, _ := GenerateKey("ecdsa", 256)
	line, pub, err := AuthorizedKey(k, "a@example.com")
	if err != nil {
		t.Fatalf("AuthorizedKey: %v", err)
	}
	parsed, comment, _, _, err := xssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		t.Fatalf("ParseAuthorizedKey: %v", err)
	}
	if comment != "a@example.com" {
		t.Fatalf("unexpected comment %q", comment)
	}
	if FingerprintSHA256(parsed) != FingerprintSHA256(pub) {
		t.Fatal("fingerprint mismatch")
	}
	if AlgorithmName(pub) != "ecdsa" {
		t.Fatalf("unexpected algorithm %q", AlgorithmName(pub))
	}
	if id := KeyID(pub); len(id) != 16 || strings.ToUpper(id) != id {
		t.Fatalf("unexpected key id %q", id)
	}
}

func TestSplitBlocks_HeadersSurvive(t *testing.T) {
	k1, _ := GenerateKey("ed25519", 0)
	k2, _ := GenerateKey("ecdh", 256)
	p1, _ := MarshalPrivateKey(k1, "", nil)
	p2, _ := MarshalPrivateKey(k2, "", nil)
	p1, err := WithHeaders(p1, map[string]string{HeaderUserID: "<a@example.com>"})
	if err != nil {
		t.Fatalf("WithHeaders: %v", err)
	}
	p2, _ = WithHeaders(p2, map[string]string{HeaderSubkeyOf: "ABCDEF0123456789"})

	blocks, err := SplitBlocks([]byte("leading text\n" + p1 + "\n" + p2))
	if err != nil {
		t.Fatalf("SplitBlocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].UserID != "<a@example.com>" || blocks[1].SubkeyOf != "ABCDEF0123456789" {
		t.Fatalf("headers lost: %+v", blocks)
	}
	for i, b := range blocks {
		if _, err := ParsePrivateKey(b.PEM, nil); err != nil {
			t.Fatalf("block %d does not parse: %v", i, err)
		}
	}
	if _, err := SplitBlocks([]byte("nothing here")); err == nil {
		t.Fatal("expected error for input without blocks")
	}
}
