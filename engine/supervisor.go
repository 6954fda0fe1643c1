// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/roomkeeper/lib/clock"
	"github.com/bureau-foundation/roomkeeper/lib/statestore"
)

// DefaultErrorBuffer is the capacity of the Errors channel.
const DefaultErrorBuffer = 64

// Config holds everything a Supervisor needs.
type Config struct {
	Identity  Identity
	Transport Transport
	Store     statestore.Store
	Clock     clock.Clock
	Logger    *slog.Logger

	SyncTimeout time.Duration
	MaxBackoff  time.Duration
	SendTimeout time.Duration

	// FullStateOnStart requests full state on the seed sync even
	// when resuming from a cursor.
	FullStateOnStart bool

	// ManageMembership enables automatic join on invite and leave
	// when alone. It is off in the zero Config, so an engine that
	// does not set it only records invites and never joins or
	// leaves on its own. Membership is recorded either way.
	ManageMembership bool

	// ErrorBuffer is the Errors channel capacity. Zero uses
	// DefaultErrorBuffer.
	ErrorBuffer int

	// OnError, when set, receives every non-fatal error while Run is
	// active, called from a single goroutine. The Errors channel is
	// then consumed by Run and should not be read by the caller.
	OnError func(error)
}

// Supervisor owns the engine lifecycle: load state, bootstrap keys,
// seed sync and reconcile, then run the sync loop until cancelled.
type Supervisor struct {
	state      *SessionState
	transport  Transport
	router     *Router
	policy     *MembershipPolicy
	dispatcher *Dispatcher
	loop       *SyncLoop
	logger     *slog.Logger

	fullStateOnStart bool
	onError          func(error)

	errors  chan error
	dropped atomic.Int64

	startMu sync.Mutex
	started bool
}

// New wires an engine from config. Membership automation is opt-in:
// set Config.ManageMembership to auto-join invites and leave rooms
// where the bot is alone. Otherwise invites are recorded and left
// pending for the caller.
func New(config Config) (*Supervisor, error) {
	if config.Transport == nil {
		return nil, errors.New("engine: config requires a transport")
	}
	if config.Store == nil {
		return nil, errors.New("engine: config requires a state store")
	}
	if config.Identity.UserID.IsZero() {
		return nil, errors.New("engine: config requires a user ID")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ErrorBuffer <= 0 {
		config.ErrorBuffer = DefaultErrorBuffer
	}

	supervisor := &Supervisor{
		transport:        config.Transport,
		logger:           config.Logger,
		fullStateOnStart: config.FullStateOnStart,
		onError:          config.OnError,
		errors:           make(chan error, config.ErrorBuffer),
	}
	supervisor.state = NewSessionState(config.Identity, config.Store, config.Logger)
	supervisor.policy = NewMembershipPolicy(supervisor.state, config.Transport, config.ManageMembership, config.Logger)
	supervisor.router = NewRouter(config.Identity.UserID, supervisor.policy, supervisor.report, config.Logger)
	supervisor.dispatcher = NewDispatcher(DispatcherConfig{
		Transport:   config.Transport,
		State:       supervisor.state,
		Clock:       config.Clock,
		SendTimeout: config.SendTimeout,
		Logger:      config.Logger,
	})
	supervisor.loop = NewSyncLoop(SyncLoopConfig{
		Transport:  config.Transport,
		State:      supervisor.state,
		Router:     supervisor.router,
		Policy:     supervisor.policy,
		Clock:      config.Clock,
		Timeout:    config.SyncTimeout,
		MaxBackoff: config.MaxBackoff,
		Report:     supervisor.report,
		Logger:     config.Logger,
	})
	return supervisor, nil
}

// Router returns the router for handler registration. Register
// handlers before Start so the seed sync reaches them.
func (s *Supervisor) Router() *Router { return s.router }

// Dispatcher returns the outbound dispatcher.
func (s *Supervisor) Dispatcher() *Dispatcher { return s.dispatcher }

// State returns the session state.
func (s *Supervisor) State() *SessionState { return s.state }

// Policy returns the membership policy.
func (s *Supervisor) Policy() *MembershipPolicy { return s.policy }

// Errors returns non-fatal errors (handler failures, transient sync
// failures, failed persists). The channel is buffered; when the
// consumer falls behind, new errors are logged and dropped. When
// Config.OnError is set, Run drains this channel itself.
func (s *Supervisor) Errors() <-chan error { return s.errors }

// Start loads persisted state, runs the key bootstrap if it has not
// completed, and performs the seed sync with startup reconciliation.
// After Start returns nil the Dispatcher may be used; Run continues
// with the live loop. A failed Start leaves the supervisor unstarted,
// so Start or Run may retry it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return errors.New("engine: supervisor already started")
	}
	return s.startLocked(ctx)
}

// startLocked does the startup work and marks the supervisor started
// only when all of it succeeded. The caller holds startMu.
func (s *Supervisor) startLocked(ctx context.Context) error {
	if err := s.state.Load(ctx); err != nil {
		return err
	}

	if !s.state.KeysUploaded() {
		if err := s.transport.UploadKeysIfRequired(ctx); err != nil {
			if !IsFatal(err) {
				err = &FatalError{Op: "key bootstrap", Err: err}
			}
			return err
		}
		if err := s.state.MarkKeysUploaded(ctx); err != nil {
			return err
		}
	}

	if err := s.loop.Seed(ctx, s.fullStateOnStart); err != nil {
		return fmt.Errorf("engine: seed sync: %w", err)
	}
	s.started = true
	return nil
}

// Run starts the engine if Start has not succeeded yet, then runs the
// sync loop until ctx is cancelled or a fatal error occurs. With
// Config.OnError set, reported errors are forwarded alongside the
// loop. It waits for outstanding async sends before returning.
// Cancellation returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	s.startMu.Lock()
	var err error
	if !s.started {
		err = s.startLocked(ctx)
	}
	s.startMu.Unlock()
	if err != nil {
		s.forwardPending()
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer s.logger.Info("sync loop stopped")
		return s.loop.Run(groupCtx)
	})
	if s.onError != nil {
		group.Go(func() error {
			s.forwardErrors(groupCtx)
			return nil
		})
	}
	err = group.Wait()

	s.dispatcher.Wait()
	s.forwardPending()
	if dropped := s.dropped.Load(); dropped > 0 {
		s.logger.Warn("errors dropped while the consumer was behind", "count", dropped)
	}
	return err
}

// forwardErrors hands reported errors to OnError until ctx is done.
func (s *Supervisor) forwardErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.errors:
			s.onError(err)
		}
	}
}

// forwardPending hands whatever is still buffered to OnError without
// blocking. It is a no-op when OnError is unset.
func (s *Supervisor) forwardPending() {
	if s.onError == nil {
		return
	}
	for {
		select {
		case err := <-s.errors:
			s.onError(err)
		default:
			return
		}
	}
}

func (s *Supervisor) report(err error) {
	select {
	case s.errors <- err:
	default:
		s.dropped.Add(1)
		s.logger.Warn("error channel full, dropping error", "error", err)
	}
}
