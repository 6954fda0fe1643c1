// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/clock"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/testutil"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

var dispatchEpoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T) (*Dispatcher, *SessionState, *fakeTransport) {
	t.Helper()
	state, _ := newTestState(t)
	transport := newFakeTransport()
	dispatcher := NewDispatcher(DispatcherConfig{
		Transport: transport,
		State:     state,
		Clock:     clock.Fake(dispatchEpoch),
		Logger:    testutil.Logger(t),
	})
	return dispatcher, state, transport
}

func newTestMessage(t *testing.T, roomID ref.RoomID, body string) *OutboundMessage {
	t.Helper()
	message, err := NewTextMessage(roomID, body)
	if err != nil {
		t.Fatalf("NewTextMessage: %v", err)
	}
	return message
}

func unknownRoomError(roomID ref.RoomID) error {
	return fmt.Errorf("%w: %s", ErrUnknownRoom, roomID)
}

func TestSendSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	room := ref.MustParseRoomID("!r:local")
	message := newTestMessage(t, room, "hello")

	if err := dispatcher.Send(context.Background(), message); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if message.Status() != StatusSent || message.Attempts() != 1 {
		t.Errorf("status = %v attempts = %d, want sent after 1", message.Status(), message.Attempts())
	}
	if message.EventID().IsZero() {
		t.Error("event ID not recorded")
	}

	sent := transport.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(sent))
	}
	if sent[0].transactionID != message.ID.String() {
		t.Errorf("transaction ID = %q, want message ID %q", sent[0].transactionID, message.ID)
	}
	content, ok := sent[0].content.(messaging.MessageContent)
	if !ok || content.Body != "hello" || content.MsgType != "m.text" {
		t.Errorf("content = %#v", sent[0].content)
	}
}

func TestSendRefreshesAndRetriesOnce(t *testing.T) {
	t.Parallel()
	dispatcher, state, transport := newTestDispatcher(t)
	room := ref.MustParseRoomID("!r:local")
	state.setMembership(room, MembershipJoined)
	transport.sendErrors = []error{unknownRoomError(room)}
	message := newTestMessage(t, room, "hello")

	if err := dispatcher.Send(context.Background(), message); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if message.Status() != StatusSent {
		t.Errorf("status = %v, want sent", message.Status())
	}

	calls := transport.callsMatching("")
	want := []string{"send !r:local", "joined_rooms", "send !r:local"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for index := range want {
		if calls[index] != want[index] {
			t.Errorf("call %d = %q, want %q", index, calls[index], want[index])
		}
	}

	sent := transport.sentMessages()
	if sent[0].transactionID != sent[1].transactionID {
		t.Errorf("retry changed transaction ID: %q then %q", sent[0].transactionID, sent[1].transactionID)
	}
	record, _ := state.Room(room)
	if !record.LastRouteRefreshAt.Equal(dispatchEpoch) {
		t.Errorf("last route refresh = %v, want %v", record.LastRouteRefreshAt, dispatchEpoch)
	}
}

func TestSendFailsAfterTwoUnknownRoomAttempts(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	room := ref.MustParseRoomID("!r:local")
	transport.sendErrors = []error{unknownRoomError(room), unknownRoomError(room), unknownRoomError(room)}
	message := newTestMessage(t, room, "hello")

	err := dispatcher.Send(context.Background(), message)
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("Send = %v, want *SendError", err)
	}
	if sendErr.Attempts != 2 || !errors.Is(err, ErrUnknownRoom) {
		t.Errorf("send error = %+v", sendErr)
	}
	if message.Status() != StatusFailed || message.Err() == nil {
		t.Errorf("status = %v err = %v, want failed", message.Status(), message.Err())
	}
	if sends := transport.callsMatching("send "); len(sends) != 2 {
		t.Errorf("sends = %d, want exactly 2", len(sends))
	}
}

func TestSendDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	room := ref.MustParseRoomID("!r:local")
	transport.sendErrors = []error{&messaging.MatrixError{Code: messaging.ErrCodeLimitExceeded, StatusCode: 429}}
	message := newTestMessage(t, room, "hello")

	if err := dispatcher.Send(context.Background(), message); err == nil {
		t.Fatal("Send succeeded, want failure")
	}
	if sends := transport.callsMatching("send "); len(sends) != 1 {
		t.Errorf("sends = %d, want 1", len(sends))
	}
	if refreshes := transport.callsMatching("joined_rooms"); len(refreshes) != 0 {
		t.Errorf("refreshes = %d, want 0", len(refreshes))
	}
}

func TestSendRetriesEvenWhenRefreshFails(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	room := ref.MustParseRoomID("!r:local")
	transport.sendErrors = []error{unknownRoomError(room)}
	transport.joinedRoomsErr = errors.New("gateway timeout")
	message := newTestMessage(t, room, "hello")

	if err := dispatcher.Send(context.Background(), message); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if message.Attempts() != 2 {
		t.Errorf("attempts = %d, want 2", message.Attempts())
	}
}

func TestSendRejectsSecondDispatch(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	message := newTestMessage(t, ref.MustParseRoomID("!r:local"), "once")

	if err := dispatcher.Send(context.Background(), message); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := dispatcher.Send(context.Background(), message); !errors.Is(err, ErrAlreadyDispatched) {
		t.Errorf("second Send = %v, want ErrAlreadyDispatched", err)
	}
	result := dispatcher.SendAsync(context.Background(), message)
	if err := testutil.RequireReceive(t, result, testTimeout, "async result"); !errors.Is(err, ErrAlreadyDispatched) {
		t.Errorf("SendAsync = %v, want ErrAlreadyDispatched", err)
	}
	if sends := transport.callsMatching("send "); len(sends) != 1 {
		t.Errorf("sends = %d, want 1", len(sends))
	}
}

func TestSendSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	message := newTestMessage(t, ref.MustParseRoomID("!r:local"), "late")
	if err := dispatcher.Send(ctx, message); err != nil {
		t.Fatalf("Send with cancelled context: %v", err)
	}
	if len(transport.sentMessages()) != 1 {
		t.Error("message was not sent")
	}
}

func TestSendPreservesOrder(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	room := ref.MustParseRoomID("!r:local")

	for _, body := range []string{"A", "B", "C"} {
		if err := dispatcher.Send(context.Background(), newTestMessage(t, room, body)); err != nil {
			t.Fatalf("Send %s: %v", body, err)
		}
	}
	sent := transport.sentMessages()
	for index, want := range []string{"A", "B", "C"} {
		if body := sent[index].content.(messaging.MessageContent).Body; body != want {
			t.Errorf("send %d = %q, want %q", index, body, want)
		}
	}
}

func TestSendAsyncCompletesAndWaitReturns(t *testing.T) {
	t.Parallel()
	dispatcher, _, transport := newTestDispatcher(t)
	release := make(chan struct{})
	transport.sendHook = func(sentMessage) { <-release }

	message := newTestMessage(t, ref.MustParseRoomID("!r:local"), "async")
	result := dispatcher.SendAsync(context.Background(), message)

	waited := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(waited)
	}()
	testutil.RequireNoReceive(t, waited, 50*time.Millisecond, "Wait returned before the send finished")

	close(release)
	if err := testutil.RequireReceive(t, result, testTimeout, "async result"); err != nil {
		t.Fatalf("SendAsync: %v", err)
	}
	testutil.RequireClosed(t, result, testTimeout, "result channel")
	testutil.RequireClosed(t, waited, testTimeout, "Wait")
	if message.Status() != StatusSent {
		t.Errorf("status = %v, want sent", message.Status())
	}
}
