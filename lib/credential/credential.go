// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/sealed"
	"github.com/bureau-foundation/roomkeeper/lib/secret"
)

// Login is the identity the bot authenticates as. Identity fields are
// immutable after Load. Close releases the access token.
type Login struct {
	Homeserver  string
	UserID      ref.UserID
	DeviceID    ref.DeviceID
	AccessToken *secret.Buffer
}

// fileFormat is the on-disk JSON shape.
type fileFormat struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
}

// Load reads and validates a login file. Every missing or malformed
// field is reported in one error. A sealed file is opened with
// identity, which may be nil for plaintext files.
func Load(path string, identity *sealed.Identity) (*Login, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credential: reading %s: %w", path, err)
	}
	if sealed.IsSealed(data) {
		if identity == nil {
			return nil, fmt.Errorf("credential: %s is sealed and no identity is configured (set paths.identity)", path)
		}
		plaintext, err := sealed.Open(data, identity)
		if err != nil {
			return nil, fmt.Errorf("credential: %s: %w", path, err)
		}
		defer plaintext.Close()
		data = bytes.Clone(plaintext.Bytes())
	}
	stripped := jsonc.ToJSON(data)
	secret.Zero(data)

	var raw fileFormat
	err = json.Unmarshal(stripped, &raw)
	secret.Zero(stripped)
	if err != nil {
		return nil, fmt.Errorf("credential: parsing %s: %w", path, err)
	}

	var errs []error
	if raw.Homeserver == "" {
		errs = append(errs, errors.New("homeserver is empty"))
	} else if parsed, err := url.Parse(raw.Homeserver); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver %q is not an absolute URL", raw.Homeserver))
	}
	userID, err := ref.ParseUserID(raw.UserID)
	if err != nil {
		errs = append(errs, fmt.Errorf("user_id: %w", err))
	}
	deviceID, err := ref.ParseDeviceID(raw.DeviceID)
	if err != nil {
		errs = append(errs, fmt.Errorf("device_id: %w", err))
	}
	if raw.AccessToken == "" {
		errs = append(errs, errors.New("access_token is empty"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("credential: %s: %w", path, errors.Join(errs...))
	}

	token, err := secret.NewFromString(raw.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("credential: protecting access token: %w", err)
	}
	return &Login{
		Homeserver:  raw.Homeserver,
		UserID:      userID,
		DeviceID:    deviceID,
		AccessToken: token,
	}, nil
}

// Save writes login to path with mode 0600, creating the parent
// directory if needed. The file is replaced atomically. When recipient
// is non-empty the file is sealed to it.
func Save(path string, login *Login, recipient string) error {
	if login.AccessToken == nil {
		return errors.New("credential: refusing to save a login without an access token")
	}
	encoded, err := json.MarshalIndent(fileFormat{
		Homeserver:  login.Homeserver,
		UserID:      login.UserID.String(),
		DeviceID:    login.DeviceID.String(),
		AccessToken: login.AccessToken.String(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("credential: encoding: %w", err)
	}
	plaintext := append(encoded, '\n')
	defer secret.Zero(plaintext)
	data := plaintext
	if recipient != "" {
		data, err = sealed.Seal(plaintext, recipient)
		if err != nil {
			return fmt.Errorf("credential: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("credential: creating directory: %w", err)
	}
	temporary, err := os.CreateTemp(filepath.Dir(path), ".login-*.json")
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)

	if err := temporary.Chmod(0600); err != nil {
		temporary.Close()
		return fmt.Errorf("credential: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("credential: writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		return fmt.Errorf("credential: replacing %s: %w", path, err)
	}
	return nil
}

// Close releases the access token. Idempotent.
func (l *Login) Close() error {
	if l.AccessToken == nil {
		return nil
	}
	return l.AccessToken.Close()
}
