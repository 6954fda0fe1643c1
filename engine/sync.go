// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/roomkeeper/lib/clock"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

const (
	// DefaultSyncTimeout is the long-poll timeout.
	DefaultSyncTimeout = 30 * time.Second

	// DefaultMaxBackoff caps the delay between failed syncs.
	DefaultMaxBackoff = 30 * time.Second

	initialBackoff = time.Second
)

// SyncLoop long-polls the transport and dispatches each response
// before persisting its cursor. Transient failures are retried with
// exponential backoff; a fatal failure ends the loop.
type SyncLoop struct {
	transport  Transport
	state      *SessionState
	router     *Router
	policy     *MembershipPolicy
	clock      clock.Clock
	timeout    time.Duration
	maxBackoff time.Duration
	report     func(error)
	logger     *slog.Logger
}

// SyncLoopConfig holds the dependencies of a SyncLoop.
type SyncLoopConfig struct {
	Transport Transport
	State     *SessionState
	Router    *Router
	Policy    *MembershipPolicy
	Clock     clock.Clock

	// Timeout is the long-poll timeout. Zero uses DefaultSyncTimeout.
	Timeout time.Duration

	// MaxBackoff caps the retry delay. Zero uses DefaultMaxBackoff.
	MaxBackoff time.Duration

	// Report receives non-fatal errors. May be nil.
	Report func(error)

	Logger *slog.Logger
}

// NewSyncLoop returns a loop.
func NewSyncLoop(config SyncLoopConfig) *SyncLoop {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSyncTimeout
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	if config.Report == nil {
		config.Report = func(error) {}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &SyncLoop{
		transport:  config.Transport,
		state:      config.State,
		router:     config.Router,
		policy:     config.Policy,
		clock:      config.Clock,
		timeout:    config.Timeout,
		maxBackoff: config.MaxBackoff,
		report:     config.Report,
		logger:     config.Logger,
	}
}

// Seed performs the startup sync: an immediate (zero-timeout) sync
// from the persisted cursor whose membership is recorded without
// action, followed by MembershipPolicy.Reconcile. Handlers see the
// seed events only when resuming from a cursor; a cold start would
// otherwise replay the rooms' recent history at them. The cursor is
// persisted last.
func (l *SyncLoop) Seed(ctx context.Context, fullState bool) error {
	cursor := l.state.Cursor()
	resuming := cursor != ""
	result, err := l.syncWithRetry(ctx, SyncRequest{
		Cursor:    cursor,
		FullState: fullState || !resuming,
	})
	if err != nil {
		return err
	}

	// A response in hand is processed to completion even if ctx is
	// cancelled meanwhile.
	detached := context.WithoutCancel(ctx)

	if l.policy != nil {
		for _, room := range result.Rooms {
			l.policy.ObserveMemberCount(room.RoomID, room.JoinedMemberCount)
			for _, event := range room.Events {
				l.policy.Observe(event)
			}
		}
		if err := l.policy.Reconcile(detached, result.Invited); err != nil {
			if IsFatal(err) {
				return err
			}
			l.report(fmt.Errorf("engine: startup reconciliation: %w", err))
		}
	}

	if resuming {
		for _, room := range result.Rooms {
			for _, event := range room.Events {
				if err := l.router.dispatch(detached, event, false); err != nil {
					return err
				}
			}
		}
	}

	l.persist(detached, result)
	l.logger.Info("seed sync complete",
		"resumed", resuming,
		"rooms", len(result.Rooms),
		"invites", len(result.Invited),
		"events", result.EventCount(),
	)
	return nil
}

// Run loops until ctx is cancelled (returning nil) or a fatal error
// occurs (returning it). An iteration whose response has arrived is
// always completed, including the cursor persist, before Run observes
// cancellation.
func (l *SyncLoop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		result, err := l.syncWithRetry(ctx, SyncRequest{
			Cursor:  l.state.Cursor(),
			Timeout: l.timeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := l.process(context.WithoutCancel(ctx), result); err != nil {
			return err
		}
	}
}

// process dispatches every event of result in order, consumes invites
// that arrived without an invite event, then persists the cursor. It
// returns only fatal errors.
func (l *SyncLoop) process(ctx context.Context, result *SyncResult) error {
	invitesSeen := make(map[ref.RoomID]struct{})
	for _, room := range result.Rooms {
		if l.policy != nil {
			l.policy.ObserveMemberCount(room.RoomID, room.JoinedMemberCount)
		}
		for _, event := range room.Events {
			if l.router.Classify(event) == CategoryInvite {
				invitesSeen[event.RoomID] = struct{}{}
			}
			if err := l.router.Dispatch(ctx, event); err != nil {
				return err
			}
		}
	}

	if l.policy != nil {
		for _, roomID := range result.Invited {
			if _, seen := invitesSeen[roomID]; seen {
				continue
			}
			if err := l.policy.HandleInvite(ctx, roomID); err != nil {
				if IsFatal(err) {
					return err
				}
				l.report(&HandlerError{Handler: "membership_policy", RoomID: roomID, Err: err})
			}
		}
	}

	l.persist(ctx, result)
	return nil
}

func (l *SyncLoop) persist(ctx context.Context, result *SyncResult) {
	if err := l.state.PersistCursor(ctx, result.Cursor); err != nil {
		l.logger.Error("persisting sync cursor failed", "cursor", result.Cursor, "error", err)
		l.report(err)
		return
	}
	l.logger.Debug("sync cursor persisted", "cursor", result.Cursor, "events", result.EventCount())
}

// syncWithRetry issues request until it succeeds, fails fatally, or
// ctx is cancelled. Delays start at one second and double up to the
// configured maximum.
func (l *SyncLoop) syncWithRetry(ctx context.Context, request SyncRequest) (*SyncResult, error) {
	backoff := initialBackoff
	for {
		result, err := l.transport.Sync(ctx, request)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsFatal(err) {
			return nil, err
		}

		l.logger.Warn("sync failed, retrying",
			"error", err,
			"backoff", backoff,
		)
		l.report(fmt.Errorf("engine: sync: %w", err))
		if closer, ok := l.transport.(idleConnectionCloser); ok {
			closer.CloseIdleConnections()
		}

		timer := l.clock.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, l.maxBackoff)
	}
}
