// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrWrongKind is returned by UnmarshalFile when the file was written
// for a different purpose, for example a device key file passed where
// a session snapshot was expected.
var ErrWrongKind = errors.New("codec: wrong file kind")

// ErrUnsupportedVersion is returned by UnmarshalFile for a format
// version newer than the reader understands.
var ErrUnsupportedVersion = errors.New("codec: unsupported file version")

// envelope wraps every state file so a reader can reject files it
// does not own before decoding the body.
type envelope struct {
	Kind    string          `cbor:"kind"`
	Version uint            `cbor:"version"`
	Body    cbor.RawMessage `cbor:"body"`
}

// MarshalFile encodes v inside an envelope naming kind and version.
func MarshalFile(kind string, version uint, v any) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	// The body may hold key material; only the envelope copy survives.
	defer clear(body)
	return encMode.Marshal(envelope{Kind: kind, Version: version, Body: body})
}

// UnmarshalFile decodes a file written by MarshalFile into v. The file
// must carry kind and a version no greater than maxVersion. The
// version read is returned so callers can migrate older layouts.
func UnmarshalFile(data []byte, kind string, maxVersion uint, v any) (uint, error) {
	var wrapped envelope
	if err := decMode.Unmarshal(data, &wrapped); err != nil {
		return 0, err
	}
	defer clear(wrapped.Body)
	if wrapped.Kind != kind {
		return 0, fmt.Errorf("%w: have %q, want %q", ErrWrongKind, wrapped.Kind, kind)
	}
	if wrapped.Version == 0 || wrapped.Version > maxVersion {
		return 0, fmt.Errorf("%w: %s version %d (this build reads up to %d)",
			ErrUnsupportedVersion, kind, wrapped.Version, maxVersion)
	}
	if err := decMode.Unmarshal(wrapped.Body, v); err != nil {
		return 0, err
	}
	return wrapped.Version, nil
}
