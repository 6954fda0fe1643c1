// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/roomkeeper/lib/ref"
	"github.com/bureau-foundation/roomkeeper/messaging"
)

// MembershipPolicy owns the bot's own room membership. It always
// records membership it observes. When automation is enabled it also
// joins rooms it is invited to (leaving again if the join fails) and
// leaves rooms where it has become the only member.
//
// Every action is idempotent against replayed events: an invite for a
// room that is Joined or JoinPending does nothing, and a room that is
// already Left is never left again.
type MembershipPolicy struct {
	state     *SessionState
	transport Transport
	self      ref.UserID
	automate  bool
	logger    *slog.Logger

	// mu serializes policy actions so a startup reconciliation and
	// a live event can never race on the same room.
	mu sync.Mutex
}

// NewMembershipPolicy returns a policy acting for state's identity.
func NewMembershipPolicy(state *SessionState, transport Transport, automate bool, logger *slog.Logger) *MembershipPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &MembershipPolicy{
		state:     state,
		transport: transport,
		self:      state.Identity().UserID,
		automate:  automate,
		logger:    logger,
	}
}

// Automated reports whether the policy joins and leaves rooms.
func (p *MembershipPolicy) Automated() bool { return p.automate }

// HandleInvite consumes an invitation to roomID.
func (p *MembershipPolicy) HandleInvite(ctx context.Context, roomID ref.RoomID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handleInviteLocked(ctx, roomID)
}

func (p *MembershipPolicy) handleInviteLocked(ctx context.Context, roomID ref.RoomID) error {
	if record, ok := p.state.Room(roomID); ok {
		switch record.Membership {
		case MembershipJoined, MembershipJoinPending:
			p.logger.Debug("invite already handled", "room_id", roomID, "membership", record.Membership)
			return nil
		}
	}

	if !p.automate {
		p.state.setMembership(roomID, MembershipInvited)
		p.logger.Info("invite recorded", "room_id", roomID)
		return nil
	}

	p.state.setMembership(roomID, MembershipJoinPending)
	joinErr := p.transport.Join(ctx, roomID)
	if joinErr == nil {
		p.state.setMembership(roomID, MembershipJoined)
		p.logger.Info("joined room", "room_id", roomID)
		return nil
	}
	if IsFatal(joinErr) {
		p.state.setMembership(roomID, MembershipInvited)
		return joinErr
	}

	// The invite is unusable: decline it so it does not linger.
	p.logger.Warn("join failed, declining invite", "room_id", roomID, "error", joinErr)
	if leaveErr := p.transport.Leave(ctx, roomID); leaveErr != nil {
		if IsFatal(leaveErr) {
			return leaveErr
		}
		p.logger.Warn("declining invite failed", "room_id", roomID, "error", leaveErr)
	}
	p.state.setMembership(roomID, MembershipLeft)
	return nil
}

// HandleMembershipChange consumes any m.room.member event other than
// an invite for the bot.
func (p *MembershipPolicy) HandleMembershipChange(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	membership := event.Membership()
	if event.Target() == p.self {
		p.observeOwnLocked(event.RoomID, membership)
		return nil
	}

	switch membership {
	case messaging.MembershipLeave, messaging.MembershipBan:
	default:
		return nil
	}
	if !p.automate {
		return nil
	}
	record, ok := p.state.Room(event.RoomID)
	if !ok || record.Membership != MembershipJoined {
		return nil
	}
	return p.checkSoleMemberLocked(ctx, event.RoomID)
}

// Observe records the bot's own membership from event without taking
// any action. The seed sync uses it so that startup state is rebuilt
// before reconciliation decides what to do.
func (p *MembershipPolicy) Observe(event Event) {
	if event.Type != messaging.EventTypeMember || event.Target() != p.self {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observeOwnLocked(event.RoomID, event.Membership())
}

func (p *MembershipPolicy) observeOwnLocked(roomID ref.RoomID, membership string) {
	var next Membership
	switch membership {
	case messaging.MembershipJoin:
		next = MembershipJoined
	case messaging.MembershipLeave, messaging.MembershipBan:
		next = MembershipLeft
	case messaging.MembershipInvite:
		// An invite echo must not demote a room being joined.
		if record, ok := p.state.Room(roomID); ok && record.Membership != MembershipLeft {
			return
		}
		next = MembershipInvited
	default:
		return
	}
	previous, existed := p.state.setMembership(roomID, next)
	if !existed || previous != next {
		p.logger.Debug("own membership changed", "room_id", roomID, "membership", next)
	}
}

// ObserveMemberCount records a server-reported member count.
func (p *MembershipPolicy) ObserveMemberCount(roomID ref.RoomID, count int) {
	if count > 0 {
		p.state.setMemberCount(roomID, count)
	}
}

// Reconcile applies the policy to state that accumulated while the
// bot was offline: every pending invite is consumed, then every joined
// room is checked for the sole-member condition. The joined set comes
// from the transport, which also refreshes its routes.
func (p *MembershipPolicy) Reconcile(ctx context.Context, invited []ref.RoomID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := slices.Clone(invited)
	pending = append(pending, p.state.RoomsIn(MembershipInvited)...)
	slices.SortFunc(pending, compareRoomIDs)
	pending = slices.Compact(pending)

	var firstErr error
	for _, roomID := range pending {
		if err := p.handleInviteLocked(ctx, roomID); err != nil {
			if IsFatal(err) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	joined, err := p.transport.JoinedRooms(ctx)
	if err != nil {
		if IsFatal(err) {
			return err
		}
		return fmt.Errorf("engine: listing joined rooms: %w", err)
	}

	current := make(map[ref.RoomID]struct{}, len(joined))
	for _, roomID := range joined {
		current[roomID] = struct{}{}
		p.state.setMembership(roomID, MembershipJoined)
	}
	for _, roomID := range p.state.RoomsIn(MembershipJoined) {
		if _, ok := current[roomID]; !ok {
			p.state.setMembership(roomID, MembershipLeft)
		}
	}

	if !p.automate {
		return firstErr
	}
	for _, roomID := range joined {
		if err := p.checkSoleMemberLocked(ctx, roomID); err != nil {
			if IsFatal(err) {
				return err
			}
			p.logger.Warn("sole member check failed", "room_id", roomID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// checkSoleMemberLocked leaves roomID when the bot is its only joined
// member. The record moves to Left only after the leave succeeds, so
// a failed leave is retried on the next membership event.
func (p *MembershipPolicy) checkSoleMemberLocked(ctx context.Context, roomID ref.RoomID) error {
	members, err := p.transport.Members(ctx, roomID)
	if err != nil {
		return fmt.Errorf("engine: listing members of %s: %w", roomID, err)
	}
	p.state.setMemberCount(roomID, len(members))

	if !slices.Contains(members, p.self) {
		p.state.setMembership(roomID, MembershipLeft)
		return nil
	}
	if len(members) > 1 {
		return nil
	}

	p.logger.Info("leaving room, no other members", "room_id", roomID)
	if err := p.transport.Leave(ctx, roomID); err != nil {
		return fmt.Errorf("engine: leaving %s: %w", roomID, err)
	}
	p.state.setMembership(roomID, MembershipLeft)
	return nil
}
