// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/statestore"
	"github.com/bureau-foundation/roomkeeper/lib/testutil"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

var (
	botUserID   = ref.MustParseUserID("@bot:local")
	aliceUserID = ref.MustParseUserID("@alice:local")
	bobUserID   = ref.MustParseUserID("@bob:local")
)

type syncReply struct {
	result *SyncResult
	err    error
}

type sentMessage struct {
	roomID        ref.RoomID
	transactionID string
	content       any
}

// fakeTransport is a scripted Transport that records every call in
// order. Sync replies are consumed from a channel; when none is queued
// Sync blocks until one is or ctx ends.
type fakeTransport struct {
	self ref.UserID

	replies chan syncReply

	mu             sync.Mutex
	calls          []string
	syncRequests   []SyncRequest
	joined         []ref.RoomID
	members        map[ref.RoomID][]ref.UserID
	joinErrors     map[ref.RoomID]error
	leaveErrors    map[ref.RoomID]error
	joinedRoomsErr error
	sendErrors     []error
	sent           []sentMessage
	uploadErr      error
	uploads        int
	idleCloses     int
	sendHook       func(sentMessage)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		self:        botUserID,
		replies:     make(chan syncReply, 16),
		members:     make(map[ref.RoomID][]ref.UserID),
		joinErrors:  make(map[ref.RoomID]error),
		leaveErrors: make(map[ref.RoomID]error),
	}
}

func (f *fakeTransport) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeTransport) queueSync(result *SyncResult) {
	f.replies <- syncReply{result: result}
}

func (f *fakeTransport) queueSyncError(err error) {
	f.replies <- syncReply{err: err}
}

func (f *fakeTransport) Sync(ctx context.Context, request SyncRequest) (*SyncResult, error) {
	f.mu.Lock()
	f.record("sync %q", request.Cursor)
	f.syncRequests = append(f.syncRequests, request)
	f.mu.Unlock()

	select {
	case reply := <-f.replies:
		return reply.result, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Join(_ context.Context, roomID ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("join %s", roomID)
	if err := f.joinErrors[roomID]; err != nil {
		return err
	}
	if !slices.Contains(f.joined, roomID) {
		f.joined = append(f.joined, roomID)
	}
	if !slices.Contains(f.members[roomID], f.self) {
		f.members[roomID] = append(f.members[roomID], f.self)
	}
	return nil
}

func (f *fakeTransport) Leave(_ context.Context, roomID ref.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("leave %s", roomID)
	if err := f.leaveErrors[roomID]; err != nil {
		return err
	}
	f.joined = slices.DeleteFunc(f.joined, func(candidate ref.RoomID) bool { return candidate == roomID })
	f.members[roomID] = slices.DeleteFunc(f.members[roomID], func(candidate ref.UserID) bool { return candidate == f.self })
	return nil
}

func (f *fakeTransport) JoinedRooms(context.Context) ([]ref.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("joined_rooms")
	if f.joinedRoomsErr != nil {
		return nil, f.joinedRoomsErr
	}
	return slices.Clone(f.joined), nil
}

func (f *fakeTransport) Members(_ context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("members %s", roomID)
	return slices.Clone(f.members[roomID]), nil
}

func (f *fakeTransport) SendMessage(_ context.Context, roomID ref.RoomID, transactionID string, content any) (ref.EventID, error) {
	f.mu.Lock()
	f.record("send %s", roomID)
	message := sentMessage{roomID: roomID, transactionID: transactionID, content: content}
	f.sent = append(f.sent, message)
	var err error
	if len(f.sendErrors) > 0 {
		err = f.sendErrors[0]
		f.sendErrors = f.sendErrors[1:]
	}
	count := len(f.sent)
	hook := f.sendHook
	f.mu.Unlock()

	if hook != nil {
		hook(message)
	}
	if err != nil {
		return ref.EventID{}, err
	}
	return ref.MustParseEventID(fmt.Sprintf("$sent%d", count)), nil
}

func (f *fakeTransport) UploadKeysIfRequired(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upload_keys")
	f.uploads++
	return f.uploadErr
}

func (f *fakeTransport) CloseIdleConnections() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idleCloses++
}

func (f *fakeTransport) setJoined(roomID ref.RoomID, members ...ref.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.joined, roomID) {
		f.joined = append(f.joined, roomID)
	}
	f.members[roomID] = members
}

func (f *fakeTransport) setMembers(roomID ref.RoomID, members ...ref.UserID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[roomID] = members
}

// callsMatching returns the recorded calls with the given prefix.
func (f *fakeTransport) callsMatching(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matching []string
	for _, call := range f.calls {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			matching = append(matching, call)
		}
	}
	return matching
}

func (f *fakeTransport) syncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.syncRequests)
}

func (f *fakeTransport) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// Event builders.

func memberEvent(roomID ref.RoomID, sender, target ref.UserID, membership string) Event {
	stateKey := target.String()
	return Event{
		RoomID:   roomID,
		Type:     messaging.EventTypeMember,
		Sender:   sender,
		StateKey: &stateKey,
		Content:  map[string]any{"membership": membership},
	}
}

func messageEvent(roomID ref.RoomID, sender ref.UserID, id, body string) Event {
	return Event{
		ID:      ref.MustParseEventID(id),
		RoomID:  roomID,
		Type:    messaging.EventTypeMessage,
		Sender:  sender,
		Content: map[string]any{"msgtype": "m.text", "body": body},
	}
}

func inviteUpdate(roomID ref.RoomID, inviter ref.UserID) RoomUpdate {
	return RoomUpdate{
		RoomID:  roomID,
		Section: SectionInvited,
		Events:  []Event{memberEvent(roomID, inviter, botUserID, messaging.MembershipInvite)},
	}
}

// newTestState returns a state over a fresh MemoryStore.
func newTestState(t *testing.T) (*SessionState, *statestore.MemoryStore) {
	t.Helper()
	store := statestore.NewMemoryStore()
	state := NewSessionState(Identity{Homeserver: "http://local", UserID: botUserID}, store, testutil.Logger(t))
	return state, store
}

// errorRecorder collects reported errors.
type errorRecorder struct {
	mu     sync.Mutex
	errors []error
}

func (r *errorRecorder) report(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errors)
}

const testTimeout = 5 * time.Second
