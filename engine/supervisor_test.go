// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/clock"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/statestore"
	"github.com/bureau-foundation/roomkeeper/lib/testutil"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

func newTestSupervisor(t *testing.T, transport *fakeTransport, store statestore.Store, manage bool) *Supervisor {
	t.Helper()
	supervisor, err := New(Config{
		Identity:         Identity{Homeserver: "http://local", UserID: botUserID},
		Transport:        transport,
		Store:            store,
		Clock:            clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:           testutil.Logger(t),
		ManageMembership: manage,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return supervisor
}

// startRun runs the supervisor in the background and returns a stop
// function yielding Run's result.
func startRun(t *testing.T, supervisor *Supervisor) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- supervisor.Run(ctx) }()
	return func() error {
		cancel()
		return testutil.RequireReceive(t, done, testTimeout, "Run exit")
	}
}

func TestSupervisorInviteJoinThenLeaveWhenAlone(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), true)
	state := supervisor.State()
	room := ref.MustParseRoomID("!R1:local")

	transport.setMembers(room, aliceUserID)
	transport.queueSync(&SyncResult{Cursor: "s0"})
	transport.queueSync(&SyncResult{
		Cursor:  "s1",
		Rooms:   []RoomUpdate{inviteUpdate(room, aliceUserID)},
		Invited: []ref.RoomID{room},
	})

	stop := startRun(t, supervisor)
	testutil.Eventually(t, testTimeout, func() bool { return state.Cursor() == "s1" }, "invite processed")
	requireMembership(t, state, room, MembershipJoined)

	// Alice leaves; only the bot remains.
	transport.setMembers(room, botUserID)
	transport.queueSync(&SyncResult{
		Cursor: "s2",
		Rooms: []RoomUpdate{{
			RoomID: room, Section: SectionJoined,
			Events: []Event{memberEvent(room, aliceUserID, aliceUserID, messaging.MembershipLeave)},
		}},
	})
	testutil.Eventually(t, testTimeout, func() bool { return state.Cursor() == "s2" }, "departure processed")

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	requireMembership(t, state, room, MembershipLeft)
	if joins := transport.callsMatching("join "); len(joins) != 1 {
		t.Errorf("joins = %v, want one", joins)
	}
	if leaves := transport.callsMatching("leave "); len(leaves) != 1 {
		t.Errorf("leaves = %v, want one", leaves)
	}
}

func TestSupervisorStartupReconciliation(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), true)
	lonely := ref.MustParseRoomID("!lonely:local")
	busy := ref.MustParseRoomID("!busy:local")

	transport.setJoined(lonely, botUserID)
	transport.setJoined(busy, botUserID, aliceUserID, bobUserID)
	transport.queueSync(&SyncResult{
		Cursor: "s1",
		Rooms: []RoomUpdate{
			{RoomID: busy, Section: SectionJoined, JoinedMemberCount: 3},
			{RoomID: lonely, Section: SectionJoined, JoinedMemberCount: 1},
		},
	})

	if err := supervisor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	leaves := transport.callsMatching("leave ")
	if len(leaves) != 1 || leaves[0] != "leave !lonely:local" {
		t.Errorf("leaves = %v, want only !lonely:local", leaves)
	}
	requireMembership(t, supervisor.State(), lonely, MembershipLeft)
	requireMembership(t, supervisor.State(), busy, MembershipJoined)

	// Key bootstrap precedes the seed sync.
	calls := transport.callsMatching("")
	if calls[0] != "upload_keys" || calls[1] != `sync ""` {
		t.Errorf("first calls = %v, want upload_keys then sync", calls[:2])
	}
}

func TestSupervisorKeyBootstrapFailureIsFatal(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.uploadErr = errors.New("keys rejected")
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), true)

	err := supervisor.Run(context.Background())
	if !IsFatal(err) {
		t.Fatalf("Run = %v, want fatal", err)
	}
	if transport.syncCount() != 0 {
		t.Errorf("syncs = %d, want none after a failed key bootstrap", transport.syncCount())
	}
	if supervisor.State().KeysUploaded() {
		t.Error("keys marked uploaded after failure")
	}
}

func TestSupervisorRetriesStartAfterFailure(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.uploadErr = errors.New("homeserver unavailable")
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), false)

	if err := supervisor.Start(context.Background()); !IsFatal(err) {
		t.Fatalf("Start = %v, want fatal", err)
	}

	transport.mu.Lock()
	transport.uploadErr = nil
	transport.mu.Unlock()
	transport.queueSync(&SyncResult{Cursor: "s0"})

	stop := startRun(t, supervisor)
	testutil.Eventually(t, testTimeout, func() bool { return transport.syncCount() == 2 }, "seed then live poll")
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	transport.mu.Lock()
	uploads := transport.uploads
	seed := transport.syncRequests[0]
	transport.mu.Unlock()
	if uploads != 2 {
		t.Errorf("uploads = %d, want the failed attempt and the retry", uploads)
	}
	if !supervisor.State().KeysUploaded() {
		t.Error("keys not marked uploaded after the retried bootstrap")
	}
	if seed.Timeout != 0 {
		t.Errorf("first sync timeout = %v, want a seed sync", seed.Timeout)
	}
}

func TestSupervisorRunReturnsStartFailure(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	transport.queueSyncError(&FatalError{Op: "sync", Err: errors.New("token revoked")})
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), false)

	if err := supervisor.Run(context.Background()); !IsFatal(err) {
		t.Fatalf("Run = %v, want the fatal seed failure", err)
	}
	if got := transport.syncCount(); got != 1 {
		t.Errorf("syncs = %d, want only the failed seed", got)
	}
}

func TestSupervisorSkipsCompletedKeyBootstrap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	if err := store.Save(ctx, statestore.Snapshot{KeysUploaded: true}); err != nil {
		t.Fatal(err)
	}
	transport := newFakeTransport()
	transport.queueSync(&SyncResult{Cursor: "s1"})
	supervisor := newTestSupervisor(t, transport, store, true)

	if err := supervisor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if transport.uploads != 0 {
		t.Errorf("uploads = %d, want 0", transport.uploads)
	}
	if err := supervisor.Start(ctx); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func TestSupervisorResumesFromPersistedCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemoryStore()
	if err := store.Save(ctx, statestore.Snapshot{Cursor: "s9", KeysUploaded: true}); err != nil {
		t.Fatal(err)
	}
	transport := newFakeTransport()
	transport.queueSync(&SyncResult{Cursor: "s10"})
	supervisor := newTestSupervisor(t, transport, store, true)

	stop := startRun(t, supervisor)
	testutil.Eventually(t, testTimeout, func() bool { return transport.syncCount() == 2 }, "live poll")
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	transport.mu.Lock()
	seed, live := transport.syncRequests[0], transport.syncRequests[1]
	transport.mu.Unlock()
	if seed.Cursor != "s9" || seed.FullState {
		t.Errorf("seed request = %+v, want cursor s9 without full state", seed)
	}
	if live.Cursor != "s10" || live.Timeout != DefaultSyncTimeout {
		t.Errorf("live request = %+v", live)
	}

	reloaded, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Cursor != "s10" {
		t.Errorf("persisted cursor = %q, want s10", reloaded.Cursor)
	}
}

func TestSupervisorReportsHandlerErrors(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), false)
	room := ref.MustParseRoomID("!r:local")

	supervisor.Router().On(messaging.EventTypeMessage, func(context.Context, Event) error {
		return errors.New("cannot handle")
	})
	transport.queueSync(&SyncResult{Cursor: "s0"})
	transport.queueSync(&SyncResult{
		Cursor: "s1",
		Rooms: []RoomUpdate{{
			RoomID: room, Section: SectionJoined,
			Events: []Event{messageEvent(room, aliceUserID, "$m", "hi")},
		}},
	})

	stop := startRun(t, supervisor)
	err := testutil.RequireReceive(t, supervisor.Errors(), testTimeout, "handler error")
	var handlerErr *HandlerError
	if !errors.As(err, &handlerErr) || handlerErr.EventID.String() != "$m" {
		t.Errorf("reported %v, want handler error for $m", err)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSupervisorForwardsErrorsToOnError(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	forwarded := make(chan error, 16)
	supervisor, err := New(Config{
		Identity:  Identity{UserID: botUserID},
		Transport: transport,
		Store:     statestore.NewMemoryStore(),
		Clock:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:    testutil.Logger(t),
		OnError:   func(err error) { forwarded <- err },
	})
	if err != nil {
		t.Fatal(err)
	}
	room := ref.MustParseRoomID("!r:local")
	supervisor.Router().On(messaging.EventTypeMessage, func(context.Context, Event) error {
		return errors.New("cannot handle")
	})
	transport.queueSync(&SyncResult{Cursor: "s0"})
	transport.queueSync(&SyncResult{
		Cursor: "s1",
		Rooms: []RoomUpdate{{
			RoomID: room, Section: SectionJoined,
			Events: []Event{messageEvent(room, aliceUserID, "$m", "hi")},
		}},
	})

	stop := startRun(t, supervisor)
	got := testutil.RequireReceive(t, forwarded, testTimeout, "forwarded handler error")
	var handlerErr *HandlerError
	if !errors.As(got, &handlerErr) || handlerErr.EventID.String() != "$m" {
		t.Errorf("forwarded %v, want handler error for $m", got)
	}
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	testutil.RequireNoReceive(t, supervisor.Errors(), 10*time.Millisecond, "error left on the channel")
}

func TestSupervisorForwardsErrorsBufferedBeforeRun(t *testing.T) {
	t.Parallel()
	var recorder errorRecorder
	transport := newFakeTransport()
	transport.queueSyncError(&FatalError{Op: "sync", Err: errors.New("token revoked")})
	supervisor, err := New(Config{
		Identity:  Identity{UserID: botUserID},
		Transport: transport,
		Store:     statestore.NewMemoryStore(),
		Logger:    testutil.Logger(t),
		OnError:   recorder.report,
	})
	if err != nil {
		t.Fatal(err)
	}
	supervisor.report(errors.New("early"))

	if err := supervisor.Run(context.Background()); !IsFatal(err) {
		t.Fatalf("Run = %v, want fatal", err)
	}
	if errs := recorder.all(); len(errs) != 1 || errs[0].Error() != "early" {
		t.Errorf("forwarded = %v, want the early error", errs)
	}
}

func TestSupervisorErrorChannelDropsWhenFull(t *testing.T) {
	t.Parallel()
	supervisor, err := New(Config{
		Identity:    Identity{UserID: botUserID},
		Transport:   newFakeTransport(),
		Store:       statestore.NewMemoryStore(),
		Logger:      testutil.Logger(t),
		ErrorBuffer: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	supervisor.report(errors.New("first"))
	supervisor.report(errors.New("second"))

	got := testutil.RequireReceive(t, supervisor.Errors(), testTimeout, "buffered error")
	if got.Error() != "first" {
		t.Errorf("error = %v, want first", got)
	}
	if supervisor.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", supervisor.dropped.Load())
	}
}

func TestSupervisorRunWaitsForAsyncSends(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	release := make(chan struct{})
	transport.sendHook = func(sentMessage) { <-release }
	transport.queueSync(&SyncResult{Cursor: "s0"})
	supervisor := newTestSupervisor(t, transport, statestore.NewMemoryStore(), false)

	ctx, cancel := context.WithCancel(context.Background())
	if err := supervisor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	message, err := NewTextMessage(ref.MustParseRoomID("!r:local"), "bye")
	if err != nil {
		t.Fatal(err)
	}
	result := supervisor.Dispatcher().SendAsync(ctx, message)

	done := make(chan error, 1)
	go func() { done <- supervisor.Run(ctx) }()
	cancel()
	testutil.RequireNoReceive(t, done, 50*time.Millisecond, "Run returned with a send outstanding")

	close(release)
	if err := testutil.RequireReceive(t, done, testTimeout, "Run exit"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := testutil.RequireReceive(t, result, testTimeout, "send result"); err != nil {
		t.Errorf("send: %v", err)
	}
}

func TestNewLeavesMembershipAutomationOff(t *testing.T) {
	t.Parallel()
	transport := newFakeTransport()
	supervisor, err := New(Config{
		Identity:  Identity{UserID: botUserID},
		Transport: transport,
		Store:     statestore.NewMemoryStore(),
		Clock:     clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Logger:    testutil.Logger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	room := ref.MustParseRoomID("!invited:local")
	transport.queueSync(&SyncResult{Cursor: "s0"})
	transport.queueSync(&SyncResult{
		Cursor:  "s1",
		Rooms:   []RoomUpdate{inviteUpdate(room, aliceUserID)},
		Invited: []ref.RoomID{room},
	})

	stop := startRun(t, supervisor)
	testutil.Eventually(t, testTimeout, func() bool { return supervisor.State().Cursor() == "s1" }, "invite processed")
	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	requireMembership(t, supervisor.State(), room, MembershipInvited)
	if joins := transport.callsMatching("join "); len(joins) != 0 {
		t.Errorf("joins = %v, want none without ManageMembership", joins)
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	valid := Config{
		Identity:  Identity{UserID: botUserID},
		Transport: newFakeTransport(),
		Store:     statestore.NewMemoryStore(),
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(config *Config) { config.Transport = nil }},
		{"store", func(config *Config) { config.Store = nil }},
		{"user", func(config *Config) { config.Identity.UserID = ref.UserID{} }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := valid
			test.mutate(&config)
			if _, err := New(config); err == nil {
				t.Errorf("New without %s succeeded", test.name)
			}
		})
	}
}
