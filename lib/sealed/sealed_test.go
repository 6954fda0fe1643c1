// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	identity, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	defer identity.Close()

	ciphertext, err := Seal([]byte(`{"access_token":"syt_secret"}`), identity.Recipient())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !IsSealed(ciphertext) {
		t.Error("IsSealed(sealed) = false")
	}
	if strings.Contains(string(ciphertext), "syt_secret") {
		t.Error("ciphertext contains the plaintext")
	}

	plaintext, err := Open(ciphertext, identity)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer plaintext.Close()
	if plaintext.String() != `{"access_token":"syt_secret"}` {
		t.Errorf("plaintext = %q", plaintext.String())
	}
}

func TestOpenWithWrongIdentity(t *testing.T) {
	owner, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer owner.Close()
	other, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()

	ciphertext, err := Seal([]byte("data"), owner.Recipient())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := Open(ciphertext, other); err == nil {
		t.Error("Open with the wrong identity succeeded")
	}
	if _, err := Open(ciphertext, nil); err == nil {
		t.Error("Open without an identity succeeded")
	}
}

func TestSealRejectsBadRecipients(t *testing.T) {
	if _, err := Seal([]byte("data")); err == nil {
		t.Error("Seal with no recipients succeeded")
	}
	if _, err := Seal([]byte("data"), "age1notakey"); err == nil {
		t.Error("Seal with an invalid recipient succeeded")
	}
}

func TestIsSealed(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{"json", `{"homeserver": "https://example.org"}`, false},
		{"armored", "-----BEGIN AGE ENCRYPTED FILE-----\nYWdl\n-----END AGE ENCRYPTED FILE-----\n", true},
		{"binary", "age-encryption.org/v1\n-> X25519 abc\n", true},
		{"leading whitespace", "\n\n-----BEGIN AGE ENCRYPTED FILE-----\n", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsSealed([]byte(test.data)); got != test.want {
				t.Errorf("IsSealed = %v, want %v", got, test.want)
			}
		})
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "identity.txt")

	created, isNew, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer created.Close()
	if !isNew {
		t.Error("first call did not create an identity")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("identity mode = %o, want 600", mode)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "# public key: "+created.Recipient()) {
		t.Errorf("identity file missing public key comment:\n%s", content)
	}

	loaded, isNew, err := LoadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer loaded.Close()
	if isNew {
		t.Error("second call created a new identity")
	}
	if loaded.Recipient() != created.Recipient() {
		t.Errorf("recipient = %q, want %q", loaded.Recipient(), created.Recipient())
	}
}

func TestLoadIdentityErrors(t *testing.T) {
	if _, err := LoadIdentity(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file = %v, want ErrNotExist", err)
	}
	path := filepath.Join(t.TempDir(), "identity.txt")
	if err := os.WriteFile(path, []byte("# only comments\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Error("LoadIdentity accepted a file without a key")
	}
}
