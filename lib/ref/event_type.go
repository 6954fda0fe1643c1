// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix event type ("m.room.message",
// "m.room.member"). It is a named string rather than a struct wrapper:
// event types need no parsing, the type only keeps them from being
// mixed up with state keys or message bodies.
type EventType string

// String returns the event type string.
func (t EventType) String() string { return string(t) }
