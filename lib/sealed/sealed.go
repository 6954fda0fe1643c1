// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/bureau-foundation/roomkeeper/lib/secret"
)

const (
	binaryHeader  = "age-encryption.org/v1\n"
	armoredHeader = armor.Header
	secretPrefix  = "AGE-SECRET-KEY-1"
)

// Identity is an age X25519 identity. Close releases the private key.
type Identity struct {
	privateKey *secret.Buffer
	recipient  string
}

// GenerateIdentity creates a new identity.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("sealed: generating identity: %w", err)
	}
	privateKey, err := secret.NewFromString(generated.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: protecting private key: %w", err)
	}
	return &Identity{privateKey: privateKey, recipient: generated.Recipient().String()}, nil
}

// LoadIdentity reads an age-keygen style identity file. Comment lines
// are skipped; the first secret key line is used.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealed: reading identity: %w", err)
	}
	defer secret.Zero(data)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, secretPrefix) {
			continue
		}
		parsed, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("sealed: %s: %w", path, err)
		}
		privateKey, err := secret.NewFromString(line)
		if err != nil {
			return nil, fmt.Errorf("sealed: protecting private key: %w", err)
		}
		return &Identity{privateKey: privateKey, recipient: parsed.Recipient().String()}, nil
	}
	return nil, fmt.Errorf("sealed: %s: no %s line", path, secretPrefix)
}

// LoadOrCreateIdentity loads the identity at path, generating and
// writing a new one (mode 0600) when the file does not exist. created
// reports whether a new identity was written.
func LoadOrCreateIdentity(path string) (identity *Identity, created bool, err error) {
	identity, err = LoadIdentity(path)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	identity, err = GenerateIdentity()
	if err != nil {
		return nil, false, err
	}
	content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
		time.Now().UTC().Format(time.RFC3339), identity.recipient, identity.privateKey.String())
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		identity.Close()
		return nil, false, fmt.Errorf("sealed: creating directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		identity.Close()
		return nil, false, fmt.Errorf("sealed: writing identity: %w", err)
	}
	_, writeErr := io.WriteString(file, content)
	if closeErr := file.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		identity.Close()
		os.Remove(path)
		return nil, false, fmt.Errorf("sealed: writing identity: %w", writeErr)
	}
	return identity, true, nil
}

// Recipient returns the public age1... recipient string.
func (i *Identity) Recipient() string {
	return i.recipient
}

// Close releases the private key. Idempotent.
func (i *Identity) Close() error {
	if i.privateKey == nil {
		return nil
	}
	return i.privateKey.Close()
}

// IsSealed reports whether data is an age file, armored or binary.
func IsSealed(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte(armoredHeader)) || bytes.HasPrefix(trimmed, []byte(binaryHeader))
}

// Seal encrypts plaintext to the given recipients and returns an
// armored age file.
func Seal(plaintext []byte, recipients ...string) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errors.New("sealed: at least one recipient is required")
	}
	parsed := make([]age.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		value, err := age.ParseX25519Recipient(recipient)
		if err != nil {
			return nil, fmt.Errorf("sealed: recipient %q: %w", recipient, err)
		}
		parsed = append(parsed, value)
	}

	var output bytes.Buffer
	armored := armor.NewWriter(&output)
	encrypted, err := age.Encrypt(armored, parsed...)
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}
	if _, err := encrypted.Write(plaintext); err != nil {
		return nil, fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := encrypted.Close(); err != nil {
		return nil, fmt.Errorf("sealed: encrypting: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("sealed: armoring: %w", err)
	}
	return output.Bytes(), nil
}

// Open decrypts an age file (armored or binary) with identity. The
// plaintext is returned in a secret buffer owned by the caller.
func Open(ciphertext []byte, identity *Identity) (*secret.Buffer, error) {
	if identity == nil || identity.privateKey == nil {
		return nil, errors.New("sealed: no identity to open sealed data with")
	}
	parsed, err := age.ParseX25519Identity(identity.privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("sealed: %w", err)
	}

	var source io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimLeft(ciphertext, " \t\r\n"), []byte(armoredHeader)) {
		source = armor.NewReader(source)
	}
	decrypted, err := age.Decrypt(source, parsed)
	if err != nil {
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(decrypted)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("sealed: decrypting: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, errors.New("sealed: empty plaintext")
	}
	return secret.NewFromBytes(plaintext)
}
