// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine is a resumable Matrix bot session: it owns the sync
// cursor, tracks per-room membership, routes incoming events to
// handlers, automates joining invited rooms and leaving rooms the bot
// is alone in, and delivers outbound messages with a bounded
// refresh-and-retry for stale room routes.
//
// The pieces, leaves first:
//
//   - [SessionState]: cursor, key-bootstrap flag, and the [RoomRecord]
//     cache, persisted through a statestore.Store.
//   - [Transport]: the request/response boundary to the homeserver.
//     [MatrixTransport] implements it over messaging.Session.
//   - [SyncLoop]: long-polls the transport, dispatches every event in
//     server order, then persists the cursor.
//   - [Router]: classifies events and calls the membership policy and
//     then the registered handlers, isolating handler failures.
//   - [MembershipPolicy]: join-or-leave on invite, leave when the bot
//     is the last member, and the startup reconciliation of both.
//   - [Dispatcher]: sends [OutboundMessage] values, refreshing the
//     room route and retrying once on [ErrUnknownRoom].
//   - [Supervisor]: wires the rest together and runs the lifecycle
//     (load, key bootstrap, seed sync, reconcile, loop, shutdown).
//
// # Delivery guarantees
//
// Events in one sync response reach handlers in server order, and the
// cursor is persisted only after the last of them has been dispatched.
// A crash between dispatch and persist re-delivers that response on
// restart; nothing is lost. Membership actions are idempotent against
// such replays: an invite for a room already joined or being joined is
// a no-op, and a room already left is not left again.
//
// # Concurrency
//
// Dispatch is sequential: one sync response at a time, one event at a
// time. Handlers may send synchronously through the Dispatcher (the
// send completes before the next event is dispatched) or use
// SendAsync; the Supervisor waits for outstanding async sends before
// Run returns. Sends are detached from the caller's cancellation so
// that shutdown never leaves a message's delivery status ambiguous.
package engine
