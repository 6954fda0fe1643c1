// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/roomkeeper/engine"
	"github.com/bureau-foundation/roomkeeper/lib/ref"
)

// Console styles. lipgloss drops the colors when stdout is not a
// terminal, so piped output stays plain.
var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	roomStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	senderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	sentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	faintStyle   = lipgloss.NewStyle().Faint(true)
)

func renderWatchedMessage(output io.Writer, roomID ref.RoomID, sender ref.UserID, body string) {
	fmt.Fprintf(output, "Message received in room %s\n", roomStyle.Render(roomID.String()))
	fmt.Fprintf(output, "%s | %s\n", senderStyle.Render(sender.String()), body)
}

func renderInvites(output io.Writer, invites []ref.RoomID) {
	if len(invites) == 0 {
		fmt.Fprintln(output, faintStyle.Render("No pending invitations."))
		return
	}
	fmt.Fprintln(output, headingStyle.Render(fmt.Sprintf("Pending invitations (%d):", len(invites))))
	for _, roomID := range invites {
		fmt.Fprintf(output, "  %s\n", roomStyle.Render(roomID.String()))
	}
}

func renderJoinedRooms(output io.Writer, rooms []ref.RoomID) {
	fmt.Fprintln(output, headingStyle.Render(fmt.Sprintf("Joined rooms (%d):", len(rooms))))
	for _, roomID := range rooms {
		fmt.Fprintf(output, "  %s\n", roomStyle.Render(roomID.String()))
	}
}

// broadcastResult is the outcome of one room's send.
type broadcastResult struct {
	roomID  ref.RoomID
	message *engine.OutboundMessage
	err     error
}

// renderBroadcastSummary prints one line per room and returns how many
// sends failed.
func renderBroadcastSummary(output io.Writer, results []broadcastResult) int {
	failed := 0
	fmt.Fprintln(output, headingStyle.Render("Broadcast summary:"))
	width := 0
	for _, result := range results {
		width = max(width, len(result.roomID.String()))
	}
	for _, result := range results {
		name := roomStyle.Render(fmt.Sprintf("%-*s", width, result.roomID.String()))
		if result.err == nil {
			fmt.Fprintf(output, "  %s  %s\n", name, sentStyle.Render("Sent"))
			continue
		}
		failed++
		fmt.Fprintf(output, "  %s  %s %s\n", name, failedStyle.Render("Failed"), faintStyle.Render(result.err.Error()))
	}
	fmt.Fprintf(output, "%d sent, %d failed\n", len(results)-failed, failed)
	return failed
}
