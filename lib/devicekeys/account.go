// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package devicekeys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"

	"github.com/bureau-foundation/roomkeeper/lib/codec"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/secret"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// MaxOneTimeKeys is how many unclaimed one-time keys the account aims
// to keep on the server. New keys are uploaded once the server's count
// drops below half of it.
const MaxOneTimeKeys = 50

// OneTimeKeyAlgorithm is the only one-time key algorithm published.
const OneTimeKeyAlgorithm = "signed_curve25519"

// Algorithms advertised in the device keys.
var Algorithms = []string{"m.olm.v1.curve25519-aes-sha2", "m.megolm.v1.aes-sha2"}

// fingerprintKey domain-separates device fingerprints from any other
// BLAKE3 use.
var fingerprintKey = blake3.Sum256([]byte("roomkeeper device fingerprint v1"))

// Account is a device's key material. Safe for concurrent use.
type Account struct {
	mu sync.Mutex

	path     string
	userID   ref.UserID
	deviceID ref.DeviceID
	created  bool

	signing         *secret.Buffer // ed25519.PrivateKey, 64 bytes
	identity        *secret.Buffer // curve25519 scalar, 32 bytes
	identityPublic  []byte
	nextKeyID       uint32
	oneTimeKeys     []oneTimeKey
	devicePublished bool
}

type oneTimeKey struct {
	ID        string `cbor:"id"`
	Private   []byte `cbor:"private"`
	Public    []byte `cbor:"public"`
	Published bool   `cbor:"published"`
}

const (
	accountKind    = "roomkeeper.device_keys"
	accountVersion = 1
)

type accountFile struct {
	UserID          ref.UserID   `cbor:"user_id"`
	DeviceID        ref.DeviceID `cbor:"device_id"`
	SigningSeed     []byte       `cbor:"signing_seed"`
	IdentityPrivate []byte       `cbor:"identity_private"`
	NextKeyID       uint32       `cbor:"next_key_id"`
	OneTimeKeys     []oneTimeKey `cbor:"one_time_keys"`
	DevicePublished bool         `cbor:"device_published"`
}

// LoadOrCreate reads the account at path. If the file is missing or
// belongs to a different user or device (the bot logged in again),
// a fresh account is generated and saved.
func LoadOrCreate(path string, userID ref.UserID, deviceID ref.DeviceID) (*Account, error) {
	if deviceID.IsZero() {
		return nil, errors.New("devicekeys: device ID is required")
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("devicekeys: reading %s: %w", path, err)
	default:
		var file accountFile
		_, decodeErr := codec.UnmarshalFile(data, accountKind, accountVersion, &file)
		secret.Zero(data)
		if decodeErr != nil {
			return nil, fmt.Errorf("devicekeys: decoding %s: %w", path, decodeErr)
		}
		if file.UserID == userID && file.DeviceID == deviceID {
			return fromFile(path, &file)
		}
		file.zero()
	}

	account, err := generate(path, userID, deviceID)
	if err != nil {
		return nil, err
	}
	if err := account.Save(); err != nil {
		account.Close()
		return nil, err
	}
	return account, nil
}

func generate(path string, userID ref.UserID, deviceID ref.DeviceID) (*Account, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("devicekeys: generating signing seed: %w", err)
	}
	identity := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(identity); err != nil {
		return nil, fmt.Errorf("devicekeys: generating identity key: %w", err)
	}
	account, err := fromFile(path, &accountFile{
		UserID:          userID,
		DeviceID:        deviceID,
		SigningSeed:     seed,
		IdentityPrivate: identity,
	})
	if err != nil {
		return nil, err
	}
	account.created = true
	return account, nil
}

// fromFile moves key material from file into protected buffers and
// zeroes the file's copies.
func fromFile(path string, file *accountFile) (*Account, error) {
	defer file.zero()
	if len(file.SigningSeed) != ed25519.SeedSize || len(file.IdentityPrivate) != curve25519.ScalarSize {
		return nil, fmt.Errorf("devicekeys: %s holds malformed key material", path)
	}

	privateKey := ed25519.NewKeyFromSeed(file.SigningSeed)
	signing, err := secret.NewFromBytes(privateKey)
	if err != nil {
		return nil, fmt.Errorf("devicekeys: protecting signing key: %w", err)
	}
	identityPublic, err := curve25519.X25519(file.IdentityPrivate, curve25519.Basepoint)
	if err != nil {
		signing.Close()
		return nil, fmt.Errorf("devicekeys: deriving identity key: %w", err)
	}
	identity, err := secret.NewFromBytes(file.IdentityPrivate)
	if err != nil {
		signing.Close()
		return nil, fmt.Errorf("devicekeys: protecting identity key: %w", err)
	}

	oneTimeKeys := make([]oneTimeKey, len(file.OneTimeKeys))
	for index, key := range file.OneTimeKeys {
		oneTimeKeys[index] = oneTimeKey{
			ID:        key.ID,
			Private:   append([]byte(nil), key.Private...),
			Public:    append([]byte(nil), key.Public...),
			Published: key.Published,
		}
	}
	return &Account{
		path:            path,
		userID:          file.UserID,
		deviceID:        file.DeviceID,
		signing:         signing,
		identity:        identity,
		identityPublic:  identityPublic,
		nextKeyID:       file.NextKeyID,
		oneTimeKeys:     oneTimeKeys,
		devicePublished: file.DevicePublished,
	}, nil
}

func (f *accountFile) zero() {
	secret.Zero(f.SigningSeed)
	secret.Zero(f.IdentityPrivate)
	for _, key := range f.OneTimeKeys {
		secret.Zero(key.Private)
	}
}

// Created reports whether LoadOrCreate generated this account rather
// than reading it from disk.
func (a *Account) Created() bool { return a.created }

// Save writes the account to its path with mode 0600, atomically.
func (a *Account) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveLocked()
}

func (a *Account) saveLocked() error {
	file := accountFile{
		UserID:          a.userID,
		DeviceID:        a.deviceID,
		SigningSeed:     ed25519.PrivateKey(a.signing.Bytes()).Seed(),
		IdentityPrivate: append([]byte(nil), a.identity.Bytes()...),
		NextKeyID:       a.nextKeyID,
		OneTimeKeys:     a.oneTimeKeys,
		DevicePublished: a.devicePublished,
	}
	data, err := codec.MarshalFile(accountKind, accountVersion, file)
	secret.Zero(file.SigningSeed)
	secret.Zero(file.IdentityPrivate)
	if err != nil {
		return fmt.Errorf("devicekeys: encoding account: %w", err)
	}
	defer secret.Zero(data)

	if err := os.MkdirAll(filepath.Dir(a.path), 0700); err != nil {
		return fmt.Errorf("devicekeys: %w", err)
	}
	temporary, err := os.CreateTemp(filepath.Dir(a.path), ".device-keys-*.cbor")
	if err != nil {
		return fmt.Errorf("devicekeys: %w", err)
	}
	temporaryPath := temporary.Name()
	defer os.Remove(temporaryPath)
	if err := temporary.Chmod(0600); err != nil {
		temporary.Close()
		return fmt.Errorf("devicekeys: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("devicekeys: writing %s: %w", temporaryPath, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("devicekeys: %w", err)
	}
	if err := os.Rename(temporaryPath, a.path); err != nil {
		return fmt.Errorf("devicekeys: replacing %s: %w", a.path, err)
	}
	return nil
}

// SigningKey returns the unpadded base64 ed25519 public key.
func (a *Account) SigningKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return base64.RawStdEncoding.EncodeToString(a.signingPublicLocked())
}

// IdentityKey returns the unpadded base64 curve25519 public key.
func (a *Account) IdentityKey() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return base64.RawStdEncoding.EncodeToString(a.identityPublic)
}

// Fingerprint is a short, stable identifier for this device's key
// pair, suitable for logs: the first 16 bytes of a keyed BLAKE3 hash
// of both public keys, hex encoded.
func (a *Account) Fingerprint() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	hasher, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		panic("devicekeys: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(a.signingPublicLocked())
	hasher.Write(a.identityPublic)
	return hex.EncodeToString(hasher.Sum(nil)[:16])
}

func (a *Account) signingPublicLocked() ed25519.PublicKey {
	return ed25519.PrivateKey(a.signing.Bytes()).Public().(ed25519.PublicKey)
}

// signLocked returns the signatures map for value.
func (a *Account) signLocked(value any) (map[string]map[string]string, error) {
	canonical, err := canonicalJSON(value)
	if err != nil {
		return nil, err
	}
	signature := ed25519.Sign(ed25519.PrivateKey(a.signing.Bytes()), canonical)
	return map[string]map[string]string{
		a.userID.String(): {
			"ed25519:" + a.deviceID.String(): base64.RawStdEncoding.EncodeToString(signature),
		},
	}, nil
}

func (a *Account) deviceKeysLocked() (*messaging.DeviceKeys, error) {
	keys := &messaging.DeviceKeys{
		UserID:     a.userID,
		DeviceID:   a.deviceID,
		Algorithms: Algorithms,
		Keys: map[string]string{
			"curve25519:" + a.deviceID.String(): base64.RawStdEncoding.EncodeToString(a.identityPublic),
			"ed25519:" + a.deviceID.String():    base64.RawStdEncoding.EncodeToString(a.signingPublicLocked()),
		},
	}
	signatures, err := a.signLocked(keys)
	if err != nil {
		return nil, err
	}
	keys.Signatures = signatures
	return keys, nil
}

// PrepareUpload builds the /keys/upload request given the server's
// current signed_curve25519 count. Device keys are included until they
// have been published once. One-time keys are generated to refill the
// server to MaxOneTimeKeys when its count is below half; keys generated
// for an earlier upload that never completed are sent again. The
// boolean is false when there is nothing to upload.
//
// New key material is saved before the request is returned so that a
// crash after upload cannot lose private keys the server already has.
func (a *Account) PrepareUpload(serverCount int) (messaging.UploadKeysRequest, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var request messaging.UploadKeysRequest
	if !a.devicePublished {
		keys, err := a.deviceKeysLocked()
		if err != nil {
			return request, false, err
		}
		request.DeviceKeys = keys
	}

	pending := 0
	for _, key := range a.oneTimeKeys {
		if !key.Published {
			pending++
		}
	}
	if serverCount < MaxOneTimeKeys/2 {
		for range MaxOneTimeKeys - serverCount - pending {
			if err := a.generateOneTimeKeyLocked(); err != nil {
				return request, false, err
			}
		}
		if err := a.saveLocked(); err != nil {
			return request, false, err
		}
	}

	for _, key := range a.oneTimeKeys {
		if key.Published {
			continue
		}
		signed := messaging.SignedKey{Key: base64.RawStdEncoding.EncodeToString(key.Public)}
		signatures, err := a.signLocked(signed)
		if err != nil {
			return request, false, err
		}
		signed.Signatures = signatures
		if request.OneTimeKeys == nil {
			request.OneTimeKeys = make(map[string]messaging.SignedKey)
		}
		request.OneTimeKeys[OneTimeKeyAlgorithm+":"+key.ID] = signed
	}

	return request, request.DeviceKeys != nil || len(request.OneTimeKeys) > 0, nil
}

func (a *Account) generateOneTimeKeyLocked() error {
	private := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return fmt.Errorf("devicekeys: generating one-time key: %w", err)
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("devicekeys: deriving one-time key: %w", err)
	}
	a.nextKeyID++
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], a.nextKeyID)
	a.oneTimeKeys = append(a.oneTimeKeys, oneTimeKey{
		ID:      base64.RawStdEncoding.EncodeToString(counter[:]),
		Private: private,
		Public:  public,
	})
	return nil
}

// MarkPublished records that the last prepared upload succeeded, then
// saves. Only the newest 2*MaxOneTimeKeys published private keys are
// retained.
func (a *Account) MarkPublished() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.devicePublished = true
	for index := range a.oneTimeKeys {
		a.oneTimeKeys[index].Published = true
	}
	if excess := len(a.oneTimeKeys) - 2*MaxOneTimeKeys; excess > 0 {
		for _, key := range a.oneTimeKeys[:excess] {
			secret.Zero(key.Private)
		}
		a.oneTimeKeys = append([]oneTimeKey(nil), a.oneTimeKeys[excess:]...)
	}
	return a.saveLocked()
}

// Close releases the protected key memory. Idempotent.
func (a *Account) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, key := range a.oneTimeKeys {
		secret.Zero(key.Private)
	}
	return errors.Join(a.signing.Close(), a.identity.Close())
}
