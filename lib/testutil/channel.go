// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// Fataler is the subset of testing.TB the helpers need.
type Fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive reads one value from ch within timeout or fails the
// test.
//
//	err := testutil.RequireReceive(t, supervisor.Errors(), 5*time.Second, "handler error")
func RequireReceive[T any](t Fataler, ch <-chan T, timeout time.Duration, message string, args ...any) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed without a value: %s", fmt.Sprintf(message, args...))
		}
		return value
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v: %s", timeout, fmt.Sprintf(message, args...))
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close (or deliver) within timeout.
func RequireClosed[T any](t Fataler, ch <-chan T, timeout time.Duration, message string, args ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout): //nolint:realclock test hang prevention
		t.Fatalf("timed out after %v waiting for close: %s", timeout, fmt.Sprintf(message, args...))
	}
}

// RequireNoReceive asserts that nothing arrives on ch within window.
func RequireNoReceive[T any](t Fataler, ch <-chan T, window time.Duration, message string, args ...any) {
	t.Helper()
	select {
	case value := <-ch:
		t.Fatalf("unexpected value %v: %s", value, fmt.Sprintf(message, args...))
	case <-time.After(window): //nolint:realclock bounded negative check
	}
}

// Eventually polls condition every few milliseconds until it returns
// true or timeout passes, then fails the test.
func Eventually(t Fataler, timeout time.Duration, condition func() bool, message string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout) //nolint:realclock test hang prevention
	for {
		if condition() {
			return
		}
		if time.Now().After(deadline) { //nolint:realclock test hang prevention
			t.Fatalf("condition not met within %v: %s", timeout, fmt.Sprintf(message, args...))
		}
		time.Sleep(5 * time.Millisecond) //nolint:realclock polling interval
	}
}
