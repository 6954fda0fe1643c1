// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// Handler reacts to one event. A returned error is reported and does
// not stop dispatch; a *FatalError stops the engine.
type Handler func(ctx context.Context, event Event) error

type registration struct {
	name      string
	eventType ref.EventType
	handler   Handler
}

// Router classifies events and fans them out: first to the
// MembershipPolicy for invites and membership changes, then to every
// handler registered for the event's type, in registration order.
type Router struct {
	self   ref.UserID
	policy *MembershipPolicy
	report func(error)
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []registration
}

// NewRouter returns a router for the bot identified by self. policy
// may be nil; report receives handler errors and may be nil.
func NewRouter(self ref.UserID, policy *MembershipPolicy, report func(error), logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = func(error) {}
	}
	return &Router{self: self, policy: policy, report: report, logger: logger}
}

// On registers handler for events of eventType. An empty eventType
// matches every event. Handlers registered while a response is being
// dispatched take effect from the next event.
func (r *Router) On(eventType ref.EventType, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := string(eventType)
	if name == "" {
		name = "*"
	}
	r.handlers = append(r.handlers, registration{
		name:      fmt.Sprintf("%s#%d", name, len(r.handlers)),
		eventType: eventType,
		handler:   handler,
	})
}

// Classify returns the category of event for this bot.
func (r *Router) Classify(event Event) Category {
	switch event.Type {
	case messaging.EventTypeMember:
		if event.Membership() == messaging.MembershipInvite && event.Target() == r.self {
			return CategoryInvite
		}
		return CategoryMembershipChange
	case messaging.EventTypeMessage:
		return CategoryMessage
	default:
		return CategoryOther
	}
}

// Dispatch routes one event through the policy and the handlers. It
// returns only fatal errors; everything else is reported.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	return r.dispatch(ctx, event, true)
}

func (r *Router) dispatch(ctx context.Context, event Event, withPolicy bool) error {
	category := r.Classify(event)

	if withPolicy && r.policy != nil {
		var err error
		switch category {
		case CategoryInvite:
			err = r.policy.HandleInvite(ctx, event.RoomID)
		case CategoryMembershipChange:
			err = r.policy.HandleMembershipChange(ctx, event)
		}
		if err != nil {
			if IsFatal(err) {
				return err
			}
			r.report(&HandlerError{Handler: "membership_policy", RoomID: event.RoomID, EventID: event.ID, Err: err})
		}
	}

	r.mu.RLock()
	handlers := make([]registration, 0, len(r.handlers))
	for _, registered := range r.handlers {
		if registered.eventType == "" || registered.eventType == event.Type {
			handlers = append(handlers, registered)
		}
	}
	r.mu.RUnlock()

	for _, registered := range handlers {
		err := r.invoke(ctx, registered, event)
		if err == nil {
			continue
		}
		if IsFatal(err) {
			return err
		}
		r.logger.Warn("event handler failed",
			"handler", registered.name,
			"room_id", event.RoomID,
			"event_id", event.ID,
			"error", err,
		)
		r.report(&HandlerError{Handler: registered.name, RoomID: event.RoomID, EventID: event.ID, Err: err})
	}
	return nil
}

// invoke calls one handler, converting a panic into an error.
func (r *Router) invoke(ctx context.Context, registered registration, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("event handler panicked",
				"handler", registered.name,
				"event_id", event.ID,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return registered.handler(ctx, event)
}
