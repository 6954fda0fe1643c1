// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// Category is the router's classification of an event.
type Category int

const (
	// CategoryOther is every event the engine has no opinion on.
	CategoryOther Category = iota
	// CategoryInvite is an m.room.member invite whose state key is
	// the bot itself.
	CategoryInvite
	// CategoryMembershipChange is any other m.room.member event.
	CategoryMembershipChange
	// CategoryMessage is an m.room.message event.
	CategoryMessage
)

func (c Category) String() string {
	switch c {
	case CategoryInvite:
		return "invite"
	case CategoryMembershipChange:
		return "membership_change"
	case CategoryMessage:
		return "message"
	default:
		return "other"
	}
}

// Event is a transport-neutral room event.
type Event struct {
	ID        ref.EventID
	RoomID    ref.RoomID
	Type      ref.EventType
	Sender    ref.UserID
	StateKey  *string
	Content   map[string]any
	Timestamp time.Time
}

// ContentString returns a string field of the content, or "".
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// Membership returns content.membership for m.room.member events.
func (e Event) Membership() string {
	if e.Type != messaging.EventTypeMember {
		return ""
	}
	return e.ContentString("membership")
}

// Body returns content.body for message events.
func (e Event) Body() string {
	return e.ContentString("body")
}

// Target returns the user a membership event is about (its state
// key), or the zero UserID when the state key is missing or invalid.
func (e Event) Target() ref.UserID {
	if e.StateKey == nil {
		return ref.UserID{}
	}
	userID, err := ref.ParseUserID(*e.StateKey)
	if err != nil {
		return ref.UserID{}
	}
	return userID
}

// Section is which part of a sync response a room came from.
type Section int

const (
	SectionJoined Section = iota
	SectionInvited
	SectionLeft
)

func (s Section) String() string {
	switch s {
	case SectionJoined:
		return "join"
	case SectionInvited:
		return "invite"
	case SectionLeft:
		return "leave"
	default:
		return "unknown"
	}
}

// RoomUpdate is one room's slice of a sync response. Events are in
// server order: state events first, then the timeline.
type RoomUpdate struct {
	RoomID  ref.RoomID
	Section Section
	Events  []Event

	// JoinedMemberCount is the server's room summary count, or zero
	// when the response did not include one.
	JoinedMemberCount int
}

// SyncRequest is one long-poll.
type SyncRequest struct {
	// Cursor resumes from a previous response; empty for an initial
	// sync.
	Cursor string
	// Timeout is how long the server may hold the request open.
	Timeout time.Duration
	// FullState requests the complete state of every room.
	FullState bool
}

// SyncResult is the decoded response to a SyncRequest.
type SyncResult struct {
	// Cursor is the position to resume from next.
	Cursor string
	// Rooms lists updates in dispatch order: joined rooms, then
	// invites, then left rooms, each sorted by room ID.
	Rooms []RoomUpdate
	// Invited lists the rooms with pending invitations in this
	// response, sorted.
	Invited []ref.RoomID
}

// EventCount returns the total number of events across all rooms.
func (r *SyncResult) EventCount() int {
	count := 0
	for _, room := range r.Rooms {
		count += len(room.Events)
	}
	return count
}
