// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
	"unicode"
)

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org",
// or "!31hneApxJ_1o-63DmFrpeqnkFfWppnzWso1JvH3ogLM" in room version 12).
//
// Room IDs are server-assigned opaque identifiers. The engine never
// constructs them; they come from sync responses, invite listings, and
// the joined-rooms endpoint, and are parsed into this type there.
//
// RoomID is comparable and is used directly as a map key for the
// per-room membership cache. The zero value is not valid; use IsZero.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string. Two
// forms are accepted: the classic "!opaque:server" and the server-less
// "!opaque" used from room version 12 on, where the opaque part is
// derived from the create event. Returns an error if the string is
// empty, doesn't start with '!', has an empty opaque part or server
// name, or contains whitespace or control characters.
func ParseRoomID(raw string) (RoomID, error) {
	if strings.ContainsFunc(raw, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) {
		return RoomID{}, fmt.Errorf("room ID contains whitespace or control characters: %q", raw)
	}
	if strings.HasPrefix(raw, "!") && !strings.Contains(raw, ":") {
		if len(raw) == 1 {
			return RoomID{}, fmt.Errorf("room ID has empty local part: %q", raw)
		}
		return RoomID{id: raw}, nil
	}
	if _, _, err := parseSigilID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error.
func MustParseRoomID(raw string) RoomID {
	roomID, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return roomID
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value.
func (r RoomID) IsZero() bool { return r.id == "" }

// MarshalText implements encoding.TextMarshaler. This also makes
// RoomID usable as a JSON object key (the rooms.join map in /sync).
func (r RoomID) MarshalText() ([]byte, error) {
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
