// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/roomkeeper/lib/clock"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// maxSendAttempts bounds delivery: the first attempt plus one retry
// after a route refresh.
const maxSendAttempts = 2

// DefaultSendTimeout bounds each send attempt when no timeout is
// configured.
const DefaultSendTimeout = 30 * time.Second

// DeliveryStatus is where an OutboundMessage is in its lifecycle.
type DeliveryStatus int

const (
	StatusPending DeliveryStatus = iota
	StatusSent
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAlreadyDispatched is returned when a message is handed to the
// Dispatcher a second time.
var ErrAlreadyDispatched = errors.New("engine: message already dispatched")

// OutboundMessage is one message to deliver. Its ID doubles as the
// protocol transaction ID, so retries are deduplicated server-side.
type OutboundMessage struct {
	ID      uuid.UUID
	RoomID  ref.RoomID
	Content any

	mu       sync.Mutex
	status   DeliveryStatus
	attempts int
	eventID  ref.EventID
	err      error
	claimed  bool
}

// NewOutboundMessage returns a pending message for roomID with a
// fresh time-ordered ID.
func NewOutboundMessage(roomID ref.RoomID, content any) (*OutboundMessage, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("engine: generating message ID: %w", err)
	}
	return &OutboundMessage{ID: id, RoomID: roomID, Content: content}, nil
}

// NewTextMessage is NewOutboundMessage with an m.text body.
func NewTextMessage(roomID ref.RoomID, body string) (*OutboundMessage, error) {
	return NewOutboundMessage(roomID, messaging.NewTextMessage(body))
}

// Status returns the delivery status.
func (m *OutboundMessage) Status() DeliveryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Attempts returns how many send attempts were made.
func (m *OutboundMessage) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// EventID returns the server-assigned event ID once Sent.
func (m *OutboundMessage) EventID() ref.EventID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.eventID
}

// Err returns the final error once Failed.
func (m *OutboundMessage) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *OutboundMessage) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed || m.status != StatusPending {
		return false
	}
	m.claimed = true
	return true
}

func (m *OutboundMessage) recordAttempt() {
	m.mu.Lock()
	m.attempts++
	m.mu.Unlock()
}

func (m *OutboundMessage) finish(status DeliveryStatus, eventID ref.EventID, err error) {
	m.mu.Lock()
	m.status = status
	m.eventID = eventID
	m.err = err
	m.mu.Unlock()
}

// Dispatcher delivers OutboundMessages through a Transport. A send
// that fails with ErrUnknownRoom triggers one route refresh and one
// retry; any other failure, or a second unknown-room failure, ends the
// message Failed.
type Dispatcher struct {
	transport   Transport
	state       *SessionState
	clock       clock.Clock
	sendTimeout time.Duration
	logger      *slog.Logger

	pending sync.WaitGroup
}

// DispatcherConfig holds the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Transport Transport
	State     *SessionState
	Clock     clock.Clock

	// SendTimeout bounds each attempt. Zero uses DefaultSendTimeout.
	SendTimeout time.Duration

	Logger *slog.Logger
}

// NewDispatcher returns a dispatcher.
func NewDispatcher(config DispatcherConfig) *Dispatcher {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultSendTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Dispatcher{
		transport:   config.Transport,
		state:       config.State,
		clock:       config.Clock,
		sendTimeout: config.SendTimeout,
		logger:      config.Logger,
	}
}

// Send delivers message and blocks until it is Sent or Failed. The
// returned error is nil when Sent, a *SendError when Failed, or
// ErrAlreadyDispatched. Cancelling ctx does not abort an attempt in
// flight; each attempt is bounded by the send timeout instead.
func (d *Dispatcher) Send(ctx context.Context, message *OutboundMessage) error {
	if !message.claim() {
		return ErrAlreadyDispatched
	}
	return d.deliver(context.WithoutCancel(ctx), message)
}

// SendAsync starts delivery in the background and returns a channel
// that receives the result of Send and is then closed.
func (d *Dispatcher) SendAsync(ctx context.Context, message *OutboundMessage) <-chan error {
	result := make(chan error, 1)
	if !message.claim() {
		result <- ErrAlreadyDispatched
		close(result)
		return result
	}
	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		defer close(result)
		result <- d.deliver(context.WithoutCancel(ctx), message)
	}()
	return result
}

// Wait blocks until every SendAsync delivery has finished.
func (d *Dispatcher) Wait() {
	d.pending.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, message *OutboundMessage) error {
	transactionID := message.ID.String()
	var lastErr error

	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		eventID, err := d.transport.SendMessage(attemptCtx, message.RoomID, transactionID, message.Content)
		cancel()
		message.recordAttempt()

		if err == nil {
			message.finish(StatusSent, eventID, nil)
			d.logger.Debug("message sent",
				"room_id", message.RoomID,
				"message_id", message.ID,
				"event_id", eventID,
				"attempts", attempt,
			)
			return nil
		}
		lastErr = err

		if !errors.Is(err, ErrUnknownRoom) || IsFatal(err) || attempt == maxSendAttempts {
			break
		}

		d.logger.Info("room route stale, refreshing",
			"room_id", message.RoomID,
			"message_id", message.ID,
			"error", err,
		)
		d.refreshRoutes(ctx, message.RoomID)
	}

	sendErr := &SendError{
		RoomID:    message.RoomID,
		MessageID: message.ID,
		Attempts:  message.Attempts(),
		Err:       lastErr,
	}
	message.finish(StatusFailed, ref.EventID{}, sendErr)
	d.logger.Warn("message delivery failed",
		"room_id", message.RoomID,
		"message_id", message.ID,
		"attempts", sendErr.Attempts,
		"error", lastErr,
	)
	return sendErr
}

// refreshRoutes re-reads the joined room list. A failed refresh is
// logged and the retry proceeds anyway; it then fails on its own.
func (d *Dispatcher) refreshRoutes(ctx context.Context, roomID ref.RoomID) {
	refreshCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	if _, err := d.transport.JoinedRooms(refreshCtx); err != nil {
		d.logger.Warn("route refresh failed", "room_id", roomID, "error", err)
		return
	}
	if d.state != nil {
		d.state.markRouteRefreshed(roomID, d.clock.Now())
	}
}
