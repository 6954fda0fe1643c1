// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/bureau-foundation/roomkeeper/engine"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// textSender delivers a text body to a room.
type textSender func(ctx context.Context, roomID ref.RoomID, body string) error

// textBody returns the body of an m.text message, or "" for anything
// else (notices, media, edits without a body).
func textBody(event engine.Event) string {
	if event.ContentString("msgtype") != "m.text" {
		return ""
	}
	return event.Body()
}

// echoHandler replies to every text message not sent by self with
// format applied to its body.
func echoHandler(self ref.UserID, format string, send textSender) engine.Handler {
	return func(ctx context.Context, event engine.Event) error {
		if event.Sender == self {
			return nil
		}
		body := textBody(event)
		if body == "" {
			return nil
		}
		return send(ctx, event.RoomID, strings.Replace(format, "%s", body, 1))
	}
}

// watchHandler prints every text message to output.
func watchHandler(output io.Writer) engine.Handler {
	var mu sync.Mutex
	return func(_ context.Context, event engine.Event) error {
		body := textBody(event)
		if body == "" {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		renderWatchedMessage(output, event.RoomID, event.Sender, body)
		return nil
	}
}
