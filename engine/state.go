// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/statestore"
)

// Membership is the bot's own membership in a room.
type Membership int

const (
	MembershipInvited Membership = iota
	MembershipJoinPending
	MembershipJoined
	MembershipLeft
)

func (m Membership) String() string {
	switch m {
	case MembershipInvited:
		return "invited"
	case MembershipJoinPending:
		return "join_pending"
	case MembershipJoined:
		return "joined"
	case MembershipLeft:
		return "left"
	default:
		return fmt.Sprintf("membership(%d)", int(m))
	}
}

func parseMembership(value string) (Membership, error) {
	switch value {
	case "invited":
		return MembershipInvited, nil
	case "join_pending":
		return MembershipJoinPending, nil
	case "joined":
		return MembershipJoined, nil
	case "left":
		return MembershipLeft, nil
	default:
		return 0, fmt.Errorf("unknown membership %q", value)
	}
}

// RoomRecord is the cached view of one room.
type RoomRecord struct {
	RoomID     ref.RoomID
	Membership Membership

	// MemberCount is the last known joined member count; zero when
	// never observed.
	MemberCount int

	// LastRouteRefreshAt is when the Dispatcher last refreshed the
	// route to this room after an unknown-room failure.
	LastRouteRefreshAt time.Time
}

// Identity is who the session is. The access token stays with the
// transport.
type Identity struct {
	Homeserver string
	UserID     ref.UserID
	DeviceID   ref.DeviceID
}

// SessionState is the single source of truth for the sync cursor, the
// key-bootstrap flag, and the room cache. Reads are safe from any
// goroutine. Room records are written by the MembershipPolicy and the
// Dispatcher's route refresh; the cursor only by the SyncLoop.
//
// Every persist writes the whole snapshot, so room changes become
// durable together with the cursor that follows them.
type SessionState struct {
	identity Identity
	store    statestore.Store
	logger   *slog.Logger

	mu           sync.RWMutex
	cursor       string
	keysUploaded bool
	rooms        map[ref.RoomID]*RoomRecord

	// saveMu serializes store writes so a slow save cannot be
	// overtaken by an older snapshot.
	saveMu sync.Mutex
}

// NewSessionState returns an empty state for identity. Call Load to
// restore the persisted snapshot.
func NewSessionState(identity Identity, store statestore.Store, logger *slog.Logger) *SessionState {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionState{
		identity: identity,
		store:    store,
		logger:   logger,
		rooms:    make(map[ref.RoomID]*RoomRecord),
	}
}

// Load replaces the in-memory state with the persisted snapshot.
// Records with an unrecognized membership are dropped with a warning;
// the next seed sync rebuilds them.
func (s *SessionState) Load(ctx context.Context) error {
	snapshot, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading session state: %w", err)
	}

	rooms := make(map[ref.RoomID]*RoomRecord, len(snapshot.Rooms))
	for _, room := range snapshot.Rooms {
		membership, err := parseMembership(room.Membership)
		if err != nil {
			s.logger.Warn("dropping persisted room record",
				"room_id", room.RoomID,
				"error", err,
			)
			continue
		}
		rooms[room.RoomID] = &RoomRecord{
			RoomID:             room.RoomID,
			Membership:         membership,
			MemberCount:        room.MemberCount,
			LastRouteRefreshAt: room.LastRouteRefreshAt,
		}
	}

	s.mu.Lock()
	s.cursor = snapshot.Cursor
	s.keysUploaded = snapshot.KeysUploaded
	s.rooms = rooms
	s.mu.Unlock()

	s.logger.Debug("session state loaded",
		"cursor", snapshot.Cursor,
		"keys_uploaded", snapshot.KeysUploaded,
		"rooms", len(rooms),
	)
	return nil
}

// Identity returns the session identity.
func (s *SessionState) Identity() Identity { return s.identity }

// Cursor returns the last persisted cursor, or "" before the first
// sync.
func (s *SessionState) Cursor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// KeysUploaded reports whether the key bootstrap has completed.
func (s *SessionState) KeysUploaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keysUploaded
}

// PersistCursor advances the cursor and saves the snapshot. The
// in-memory cursor advances even when the save fails so the running
// process never re-dispatches a response; the error tells the caller
// that a restart would.
func (s *SessionState) PersistCursor(ctx context.Context, cursor string) error {
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
	return s.save(ctx)
}

// MarkKeysUploaded records the completed key bootstrap and saves.
func (s *SessionState) MarkKeysUploaded(ctx context.Context) error {
	s.mu.Lock()
	s.keysUploaded = true
	s.mu.Unlock()
	return s.save(ctx)
}

// Room returns a copy of the record for roomID.
func (s *SessionState) Room(roomID ref.RoomID) (RoomRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.rooms[roomID]
	if !ok {
		return RoomRecord{}, false
	}
	return *record, true
}

// Rooms returns copies of all records, sorted by room ID.
func (s *SessionState) Rooms() []RoomRecord {
	s.mu.RLock()
	records := make([]RoomRecord, 0, len(s.rooms))
	for _, record := range s.rooms {
		records = append(records, *record)
	}
	s.mu.RUnlock()
	slices.SortFunc(records, func(a, b RoomRecord) int {
		return compareRoomIDs(a.RoomID, b.RoomID)
	})
	return records
}

// RoomsIn returns the sorted IDs of rooms with the given membership.
func (s *SessionState) RoomsIn(membership Membership) []ref.RoomID {
	s.mu.RLock()
	var roomIDs []ref.RoomID
	for roomID, record := range s.rooms {
		if record.Membership == membership {
			roomIDs = append(roomIDs, roomID)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(roomIDs, compareRoomIDs)
	return roomIDs
}

// setMembership creates or updates a record and returns the previous
// membership (ok is false for a new record).
func (s *SessionState) setMembership(roomID ref.RoomID, membership Membership) (previous Membership, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, exists := s.rooms[roomID]
	if !exists {
		s.rooms[roomID] = &RoomRecord{RoomID: roomID, Membership: membership}
		return 0, false
	}
	previous = record.Membership
	record.Membership = membership
	return previous, true
}

func (s *SessionState) setMemberCount(roomID ref.RoomID, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.rooms[roomID]; ok {
		record.MemberCount = count
	}
}

func (s *SessionState) markRouteRefreshed(roomID ref.RoomID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.rooms[roomID]; ok {
		record.LastRouteRefreshAt = at
	}
}

func (s *SessionState) snapshot() statestore.Snapshot {
	s.mu.RLock()
	snapshot := statestore.Snapshot{
		Cursor:       s.cursor,
		KeysUploaded: s.keysUploaded,
		Rooms:        make([]statestore.Room, 0, len(s.rooms)),
	}
	for _, record := range s.rooms {
		snapshot.Rooms = append(snapshot.Rooms, statestore.Room{
			RoomID:             record.RoomID,
			Membership:         record.Membership.String(),
			MemberCount:        record.MemberCount,
			LastRouteRefreshAt: record.LastRouteRefreshAt,
		})
	}
	s.mu.RUnlock()
	slices.SortFunc(snapshot.Rooms, func(a, b statestore.Room) int {
		return compareRoomIDs(a.RoomID, b.RoomID)
	})
	return snapshot
}

func (s *SessionState) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.store.Save(ctx, s.snapshot()); err != nil {
		return fmt.Errorf("engine: saving session state: %w", err)
	}
	return nil
}

func compareRoomIDs(a, b ref.RoomID) int {
	return strings.Compare(a.String(), b.String())
}
