// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/devicekeys"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// KeyPublisher supplies the device and one-time keys for the key
// bootstrap. *devicekeys.Account implements it.
type KeyPublisher interface {
	PrepareUpload(serverCount int) (messaging.UploadKeysRequest, bool, error)
	MarkPublished() error
}

var _ KeyPublisher = (*devicekeys.Account)(nil)

// MatrixTransport implements Transport over a messaging.Session. It
// keeps a route cache of joined rooms: sends to a room outside the
// cache fail locally with ErrUnknownRoom, and M_NOT_FOUND on send is
// mapped to ErrUnknownRoom as well, so the Dispatcher's
// refresh-and-retry covers both.
type MatrixTransport struct {
	session messaging.Session
	keys    KeyPublisher
	logger  *slog.Logger

	mu     sync.Mutex
	routes map[ref.RoomID]struct{}
	primed bool
}

// MatrixTransportConfig holds the dependencies of a MatrixTransport.
type MatrixTransportConfig struct {
	Session messaging.Session

	// Keys supplies the key bootstrap. Nil disables it.
	Keys KeyPublisher

	Logger *slog.Logger
}

// NewMatrixTransport returns a transport over config.Session.
func NewMatrixTransport(config MatrixTransportConfig) (*MatrixTransport, error) {
	if config.Session == nil {
		return nil, errors.New("engine: matrix transport requires a session")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MatrixTransport{
		session: config.Session,
		keys:    config.Keys,
		logger:  logger,
		routes:  make(map[ref.RoomID]struct{}),
	}, nil
}

// Sync implements Transport.
func (t *MatrixTransport) Sync(ctx context.Context, request SyncRequest) (*SyncResult, error) {
	response, err := t.session.Sync(ctx, messaging.SyncOptions{
		Since:      request.Cursor,
		Timeout:    int(request.Timeout / time.Millisecond),
		SetTimeout: true,
		FullState:  request.FullState,
	})
	if err != nil {
		return nil, classify("sync", err)
	}

	result := &SyncResult{Cursor: response.NextBatch}
	if len(response.Rooms.Rejected) > 0 {
		t.logger.Warn("skipping rooms with malformed IDs in sync response",
			"room_ids", response.Rooms.Rejected,
			"next_batch", response.NextBatch,
		)
	}

	joined := sortedKeys(response.Rooms.Join)
	for _, roomID := range joined {
		room := response.Rooms.Join[roomID]
		update := RoomUpdate{RoomID: roomID, Section: SectionJoined}
		update.Events = appendEvents(update.Events, roomID, room.State.Events)
		update.Events = appendEvents(update.Events, roomID, room.Timeline.Events)
		if room.Summary.JoinedMemberCount != nil {
			update.JoinedMemberCount = *room.Summary.JoinedMemberCount
		}
		result.Rooms = append(result.Rooms, update)
	}

	invited := sortedKeys(response.Rooms.Invite)
	for _, roomID := range invited {
		room := response.Rooms.Invite[roomID]
		result.Rooms = append(result.Rooms, RoomUpdate{
			RoomID:  roomID,
			Section: SectionInvited,
			Events:  appendEvents(nil, roomID, room.InviteState.Events),
		})
	}
	result.Invited = invited

	left := sortedKeys(response.Rooms.Leave)
	for _, roomID := range left {
		room := response.Rooms.Leave[roomID]
		update := RoomUpdate{RoomID: roomID, Section: SectionLeft}
		update.Events = appendEvents(update.Events, roomID, room.State.Events)
		update.Events = appendEvents(update.Events, roomID, room.Timeline.Events)
		result.Rooms = append(result.Rooms, update)
	}

	t.mu.Lock()
	// An initial or full-state sync lists every joined room, so it
	// replaces the cache instead of extending it.
	if request.Cursor == "" || request.FullState {
		t.routes = make(map[ref.RoomID]struct{}, len(joined))
		t.primed = true
	}
	for _, roomID := range joined {
		t.routes[roomID] = struct{}{}
	}
	for _, roomID := range left {
		delete(t.routes, roomID)
	}
	t.mu.Unlock()

	return result, nil
}

// Join implements Transport.
func (t *MatrixTransport) Join(ctx context.Context, roomID ref.RoomID) error {
	if _, err := t.session.JoinRoom(ctx, roomID); err != nil {
		return classify("join", err)
	}
	t.mu.Lock()
	t.routes[roomID] = struct{}{}
	t.mu.Unlock()
	return nil
}

// Leave implements Transport.
func (t *MatrixTransport) Leave(ctx context.Context, roomID ref.RoomID) error {
	t.mu.Lock()
	delete(t.routes, roomID)
	t.mu.Unlock()
	if err := t.session.LeaveRoom(ctx, roomID); err != nil {
		return classify("leave", err)
	}
	return nil
}

// JoinedRooms implements Transport and replaces the route cache.
func (t *MatrixTransport) JoinedRooms(ctx context.Context) ([]ref.RoomID, error) {
	rooms, err := t.session.JoinedRooms(ctx)
	if err != nil {
		return nil, classify("joined rooms", err)
	}
	slices.SortFunc(rooms, compareRoomIDs)

	routes := make(map[ref.RoomID]struct{}, len(rooms))
	for _, roomID := range rooms {
		routes[roomID] = struct{}{}
	}
	t.mu.Lock()
	t.routes = routes
	t.primed = true
	t.mu.Unlock()
	return rooms, nil
}

// Members implements Transport.
func (t *MatrixTransport) Members(ctx context.Context, roomID ref.RoomID) ([]ref.UserID, error) {
	members, err := t.session.JoinedMembers(ctx, roomID)
	if err != nil {
		return nil, classify("joined members", err)
	}
	userIDs := make([]ref.UserID, 0, len(members))
	for userID := range members {
		userIDs = append(userIDs, userID)
	}
	slices.SortFunc(userIDs, func(a, b ref.UserID) int {
		return strings.Compare(a.String(), b.String())
	})
	return userIDs, nil
}

// SendMessage implements Transport.
func (t *MatrixTransport) SendMessage(ctx context.Context, roomID ref.RoomID, transactionID string, content any) (ref.EventID, error) {
	if !t.hasRoute(roomID) {
		return ref.EventID{}, fmt.Errorf("%w: %s is not in the route cache", ErrUnknownRoom, roomID)
	}
	eventID, err := t.session.SendEvent(ctx, roomID, messaging.EventTypeMessage, transactionID, content)
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			t.mu.Lock()
			delete(t.routes, roomID)
			t.mu.Unlock()
			return ref.EventID{}, fmt.Errorf("%w: %w", ErrUnknownRoom, err)
		}
		return ref.EventID{}, classify("send", err)
	}
	return eventID, nil
}

// UploadKeysIfRequired implements Transport. It reads the server's
// one-time key count, tops the pool up through the KeyPublisher, and
// uploads whatever is unpublished. Any failure is fatal: the session
// cannot be trusted with half-published keys.
func (t *MatrixTransport) UploadKeysIfRequired(ctx context.Context) error {
	if t.keys == nil {
		t.logger.Debug("key bootstrap skipped, no device keys configured")
		return nil
	}

	counts, err := t.session.UploadKeys(ctx, messaging.UploadKeysRequest{})
	if err != nil {
		return &FatalError{Op: "key bootstrap", Err: err}
	}
	serverCount := counts.OneTimeKeyCounts[devicekeys.OneTimeKeyAlgorithm]

	request, needed, err := t.keys.PrepareUpload(serverCount)
	if err != nil {
		return &FatalError{Op: "key bootstrap", Err: err}
	}
	if !needed {
		t.logger.Debug("device keys already published", "one_time_keys", serverCount)
		return nil
	}

	response, err := t.session.UploadKeys(ctx, request)
	if err != nil {
		return &FatalError{Op: "key bootstrap", Err: err}
	}
	if err := t.keys.MarkPublished(); err != nil {
		return &FatalError{Op: "key bootstrap", Err: err}
	}
	t.logger.Info("device keys uploaded",
		"device_keys", request.DeviceKeys != nil,
		"one_time_keys", len(request.OneTimeKeys),
		"server_count", response.OneTimeKeyCounts[devicekeys.OneTimeKeyAlgorithm],
	)
	return nil
}

// CloseIdleConnections drops pooled connections when the session
// supports it.
func (t *MatrixTransport) CloseIdleConnections() {
	if closer, ok := t.session.(idleConnectionCloser); ok {
		closer.CloseIdleConnections()
	}
}

func (t *MatrixTransport) hasRoute(roomID ref.RoomID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.primed {
		return false
	}
	_, ok := t.routes[roomID]
	return ok
}

// classify marks rejected credentials as fatal.
func classify(op string, err error) error {
	if messaging.IsAuthError(err) {
		return &FatalError{Op: op, Err: err}
	}
	return err
}

func appendEvents(events []Event, roomID ref.RoomID, raw []messaging.Event) []Event {
	for _, event := range raw {
		converted := Event{
			ID:       event.EventID,
			RoomID:   roomID,
			Type:     event.Type,
			Sender:   event.Sender,
			StateKey: event.StateKey,
			Content:  event.Content,
		}
		if event.OriginServerTS > 0 {
			converted.Timestamp = time.UnixMilli(event.OriginServerTS)
		}
		events = append(events, converted)
	}
	return events
}

func sortedKeys[V any](rooms map[ref.RoomID]V) []ref.RoomID {
	keys := make([]ref.RoomID, 0, len(rooms))
	for roomID := range rooms {
		keys = append(keys, roomID)
	}
	slices.SortFunc(keys, compareRoomIDs)
	return keys
}
