// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/roomkeeper/engine"
	"github.com/bureau-foundation/roomkeeper/lib/clock"
	"github.com/bureau-foundation/roomkeeper/lib/config"
	"github.com/bureau-foundation/roomkeeper/lib/credential"
	"github.com/bureau-foundation/roomkeeper/lib/devicekeys"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/lib/sealed"
	"github.com/bureau-foundation/roomkeeper/lib/statestore"
	"github.com/bureau-foundation/roomkeeper/lib/version"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// deviceKeysFile is the account file name inside the state directory.
const deviceKeysFile = "device_keys.cbor"

// bot is an engine wired from configuration, plus everything that
// must be released when the command finishes.
type bot struct {
	self       ref.UserID
	supervisor *engine.Supervisor
	logger     *slog.Logger

	session *messaging.DirectSession
	store   statestore.Store
	keys    *devicekeys.Account
}

// openBot loads credentials and state and wires a supervisor. manage
// enables membership automation.
func openBot(cfg *config.Config, logger *slog.Logger, manage bool) (*bot, error) {
	var identity *sealed.Identity
	if cfg.Paths.Identity != "" {
		loaded, err := sealed.LoadIdentity(cfg.Paths.Identity)
		if err != nil {
			return nil, err
		}
		defer loaded.Close()
		identity = loaded
	}
	login, err := credential.Load(cfg.Paths.Login, identity)
	if err != nil {
		return nil, fmt.Errorf("%w (run 'roomkeeper login' to create it)", err)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: login.Homeserver,
		Logger:        logger,
		UserAgent:     version.UserAgent(),
	})
	if err != nil {
		login.Close()
		return nil, err
	}
	// The session owns the token buffer from here on.
	session := client.SessionFromToken(login.UserID, login.DeviceID, login.AccessToken)
	opened := &bot{self: login.UserID, session: session, logger: logger}

	if err := os.MkdirAll(cfg.Paths.StateDir, 0700); err != nil {
		opened.Close()
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	opened.store, err = statestore.Open(statestore.Backend(cfg.Store.Backend), cfg.Paths.StateDir, logger)
	if err != nil {
		opened.Close()
		return nil, err
	}

	opened.keys, err = devicekeys.LoadOrCreate(filepath.Join(cfg.Paths.StateDir, deviceKeysFile), login.UserID, login.DeviceID)
	if err != nil {
		opened.Close()
		return nil, err
	}
	logger.Info("device keys ready",
		"user_id", login.UserID,
		"device_id", login.DeviceID,
		"fingerprint", opened.keys.Fingerprint(),
		"created", opened.keys.Created(),
	)

	transport, err := engine.NewMatrixTransport(engine.MatrixTransportConfig{
		Session: session,
		Keys:    opened.keys,
		Logger:  logger,
	})
	if err != nil {
		opened.Close()
		return nil, err
	}

	opened.supervisor, err = engine.New(engine.Config{
		Identity: engine.Identity{
			Homeserver: login.Homeserver,
			UserID:     login.UserID,
			DeviceID:   login.DeviceID,
		},
		Transport:        transport,
		Store:            opened.store,
		Clock:            clock.Real(),
		Logger:           logger,
		SyncTimeout:      cfg.Sync.Timeout.Std(),
		MaxBackoff:       cfg.Sync.MaxBackoff.Std(),
		SendTimeout:      cfg.Dispatch.SendTimeout.Std(),
		FullStateOnStart: cfg.Sync.FullStateOnStart,
		ManageMembership: manage,
		OnError:          opened.logReportedError,
	})
	if err != nil {
		opened.Close()
		return nil, err
	}
	return opened, nil
}

// logReportedError receives engine errors forwarded by Run. The router
// and sync loop already log at the point of failure, so these are
// debug-level.
func (b *bot) logReportedError(err error) {
	b.logger.Debug("engine reported error", "error", err)
}

// run drives the supervisor until ctx is cancelled or a fatal error.
func (b *bot) run(ctx context.Context) error {
	err := b.supervisor.Run(ctx)
	if err != nil && engine.IsFatal(err) {
		return fmt.Errorf("stopped: %w", err)
	}
	return err
}

// Close releases the store, keys, and access token.
func (b *bot) Close() error {
	var errs []error
	if b.keys != nil {
		errs = append(errs, b.keys.Close())
	}
	if b.store != nil {
		errs = append(errs, b.store.Close())
	}
	errs = append(errs, b.session.Close())
	return errors.Join(errs...)
}

// sendText delivers body to roomID through the dispatcher.
func (b *bot) sendText(ctx context.Context, roomID ref.RoomID, body string) error {
	message, err := engine.NewTextMessage(roomID, body)
	if err != nil {
		return err
	}
	return b.supervisor.Dispatcher().Send(ctx, message)
}
