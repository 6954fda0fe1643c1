// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that the sync
// loop's backoff and the session's route-refresh timestamps can be
// driven deterministically in tests.
//
// Production code holds a Clock field and is given Real(). Tests give
// it Fake(start) and move time with Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	loop := engine.NewSyncLoop(..., fake, ...)
//	go loop.Run(ctx)
//	fake.WaitForTimers(1)      // the loop is sleeping in backoff
//	fake.Advance(time.Second)  // wake it up
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
