// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/statestore"
	"github.com/bureau-foundation/roomkeeper/lib/testutil"
)

func TestSessionStatePersistAndReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	state, store := newTestState(t)

	roomA := ref.MustParseRoomID("!a:local")
	roomB := ref.MustParseRoomID("!b:local")
	refreshed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	state.setMembership(roomB, MembershipJoined)
	state.setMembership(roomA, MembershipInvited)
	state.setMemberCount(roomB, 3)
	state.markRouteRefreshed(roomB, refreshed)

	if err := state.PersistCursor(ctx, "s42"); err != nil {
		t.Fatalf("PersistCursor: %v", err)
	}
	if err := state.MarkKeysUploaded(ctx); err != nil {
		t.Fatalf("MarkKeysUploaded: %v", err)
	}
	if store.Saves() != 2 {
		t.Errorf("saves = %d, want 2", store.Saves())
	}

	reloaded := NewSessionState(state.Identity(), store, testutil.Logger(t))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Cursor() != "s42" {
		t.Errorf("cursor = %q, want s42", reloaded.Cursor())
	}
	if !reloaded.KeysUploaded() {
		t.Error("keys uploaded flag lost")
	}

	rooms := reloaded.Rooms()
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	if rooms[0].RoomID != roomA || rooms[1].RoomID != roomB {
		t.Errorf("rooms not sorted: %v, %v", rooms[0].RoomID, rooms[1].RoomID)
	}
	if rooms[0].Membership != MembershipInvited {
		t.Errorf("room A membership = %v, want invited", rooms[0].Membership)
	}
	if rooms[1].Membership != MembershipJoined || rooms[1].MemberCount != 3 {
		t.Errorf("room B = %+v", rooms[1])
	}
	if !rooms[1].LastRouteRefreshAt.Equal(refreshed) {
		t.Errorf("room B refreshed at %v, want %v", rooms[1].LastRouteRefreshAt, refreshed)
	}
}

func TestSessionStateLoadDropsUnknownMembership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	err := store.Save(ctx, statestore.Snapshot{
		Cursor: "s1",
		Rooms: []statestore.Room{
			{RoomID: ref.MustParseRoomID("!good:local"), Membership: "joined"},
			{RoomID: ref.MustParseRoomID("!bad:local"), Membership: "banished"},
		},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	state := NewSessionState(Identity{UserID: botUserID}, store, testutil.Logger(t))
	if err := state.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := state.Room(ref.MustParseRoomID("!bad:local")); ok {
		t.Error("record with unknown membership should be dropped")
	}
	if got := state.RoomsIn(MembershipJoined); len(got) != 1 {
		t.Errorf("joined rooms = %v, want one", got)
	}
}

func TestMembershipStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, membership := range []Membership{MembershipInvited, MembershipJoinPending, MembershipJoined, MembershipLeft} {
		parsed, err := parseMembership(membership.String())
		if err != nil {
			t.Errorf("parseMembership(%q): %v", membership, err)
			continue
		}
		if parsed != membership {
			t.Errorf("parseMembership(%q) = %v", membership, parsed)
		}
	}
}
