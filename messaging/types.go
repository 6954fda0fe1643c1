// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"slices"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// Event types the bot engine acts on.
const (
	EventTypeMessage ref.EventType = "m.room.message"
	EventTypeMember  ref.EventType = "m.room.member"
)

// Membership values carried in m.room.member content.
const (
	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID   `json:"user_id"`
	AccessToken string       `json:"access_token"`
	DeviceID    ref.DeviceID `json:"device_id"`
}

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string         `json:"type"`
	Identifier               UserIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	DeviceID                 string         `json:"device_id,omitempty"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

// UserIdentifier identifies the account for m.login.password.
type UserIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// NewTextMessage creates a plain m.text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{MsgType: "m.text", Body: body}
}

// Event represents a Matrix event from a sync response. Stripped
// invite-state events carry no EventID.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	StateKey       *string        `json:"state_key,omitempty"`
	Unsigned       *EventUnsigned `json:"unsigned,omitempty"`
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ContentString returns a string field of the event content, or "" if
// absent or not a string.
func (e Event) ContentString(key string) string {
	value, _ := e.Content[key].(string)
	return value
}

// SyncOptions controls the /sync request.
type SyncOptions struct {
	// Since is the next_batch token from the previous sync; empty for
	// an initial sync.
	Since string
	// Timeout is the long-poll timeout in milliseconds.
	Timeout int
	// SetTimeout sends the timeout parameter even when it is zero.
	SetTimeout bool
	// FullState asks for the complete state of every room rather than
	// only changes since Since.
	FullState bool
	// Filter is a filter ID or inline JSON filter.
	Filter string
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`

	// Rejected lists room keys that are not valid room IDs. Those
	// rooms are left out of the maps so the rest of the response
	// still decodes.
	Rejected []string `json:"-"`
}

// UnmarshalJSON decodes each section with string keys and parses them
// one by one, so a single malformed room ID does not fail the sync.
func (r *RoomsSection) UnmarshalJSON(data []byte) error {
	var raw struct {
		Join   map[string]JoinedRoom  `json:"join"`
		Invite map[string]InvitedRoom `json:"invite"`
		Leave  map[string]LeftRoom    `json:"leave"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = RoomsSection{}
	r.Join = parseRoomKeys(raw.Join, &r.Rejected)
	r.Invite = parseRoomKeys(raw.Invite, &r.Rejected)
	r.Leave = parseRoomKeys(raw.Leave, &r.Rejected)
	slices.Sort(r.Rejected)
	return nil
}

func parseRoomKeys[V any](rooms map[string]V, rejected *[]string) map[ref.RoomID]V {
	if rooms == nil {
		return nil
	}
	parsed := make(map[ref.RoomID]V, len(rooms))
	for key, value := range rooms {
		roomID, err := ref.ParseRoomID(key)
		if err != nil {
			*rejected = append(*rejected, key)
			continue
		}
		parsed[roomID] = value
	}
	return parsed
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
	Summary  RoomSummary     `json:"summary"`
}

// RoomSummary carries the heroes and member counts of a joined room.
// Counts are pointers because the server omits unchanged values.
type RoomSummary struct {
	JoinedMemberCount  *int `json:"m.joined_member_count,omitempty"`
	InvitedMemberCount *int `json:"m.invited_member_count,omitempty"`
}

// InvitedRoom contains sync data for a room the user was invited to.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// SendEventResponse is returned by SendEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID   `json:"user_id"`
	DeviceID ref.DeviceID `json:"device_id,omitempty"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// JoinedMembersResponse is returned by /rooms/{roomId}/joined_members.
type JoinedMembersResponse struct {
	Joined map[ref.UserID]JoinedMember `json:"joined"`
}

// JoinedMember is the profile of one joined member.
type JoinedMember struct {
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// DeviceKeys is the signed device_keys object of /keys/upload.
type DeviceKeys struct {
	UserID     ref.UserID                   `json:"user_id"`
	DeviceID   ref.DeviceID                 `json:"device_id"`
	Algorithms []string                     `json:"algorithms"`
	Keys       map[string]string            `json:"keys"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// SignedKey is one signed_curve25519 one-time key.
type SignedKey struct {
	Key        string                       `json:"key"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// UploadKeysRequest is the body of POST /keys/upload. An empty request
// uploads nothing and returns the current one-time key counts.
type UploadKeysRequest struct {
	DeviceKeys  *DeviceKeys          `json:"device_keys,omitempty"`
	OneTimeKeys map[string]SignedKey `json:"one_time_keys,omitempty"`
}

// UploadKeysResponse reports how many unclaimed one-time keys of each
// algorithm the server holds for this device.
type UploadKeysResponse struct {
	OneTimeKeyCounts map[string]int `json:"one_time_key_counts"`
}
