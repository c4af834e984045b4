package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"arena_server/models"

	"github.com/google/uuid"
)

// TicketHooks lets the party layer repair matchmaking state on membership
// changes without a hard dependency on the ticket machine.
type TicketHooks interface {
	HandlePartyMemberChange(ctx context.Context, playerID, partyID string)
}

// PartyService coordinates group membership and invitations. Party writes
// touch keys owned by different players (the party body plus some player's
// pointer), so instead of a lock-ordering convention across arbitrary player
// ids they use optimistic compare-and-swap with a bounded retry.
type PartyService struct {
	KV       KV
	Messages *MessageService
	Tickets  TicketHooks // set after construction; optional
	// OperationDeadline bounds the CAS retry loop. Zero means 2s.
	OperationDeadline time.Duration
}

const (
	partyNotifyQueue   = "parties"
	inviteCounterKey   = "parties:invite_id_counter"
	defaultCASDeadline = 2 * time.Second
)

func (s *PartyService) deadline() time.Duration {
	if s.OperationDeadline > 0 {
		return s.OperationDeadline
	}
	return defaultCASDeadline
}

// GetPartyID returns the party the player belongs to, or "".
func (s *PartyService) GetPartyID(ctx context.Context, playerID string) (string, error) {
	pointer, err := s.KV.Get(ctx, models.PlayerPartyKey(playerID))
	if err != nil {
		return "", err
	}
	return string(pointer), nil
}

// GetMemberIDs enumerates the party's members.
func (s *PartyService) GetMemberIDs(ctx context.Context, partyID string) ([]string, error) {
	party, _, err := s.loadParty(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if party == nil {
		return nil, &models.NotFoundError{Message: fmt.Sprintf("party %s not found", partyID)}
	}
	return party.MemberIDs, nil
}

// GetParty returns the caller's party.
func (s *PartyService) GetParty(ctx context.Context, playerID string) (*models.Party, error) {
	partyID, err := s.GetPartyID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if partyID == "" {
		return nil, &models.NotFoundError{Message: "player is not in a party"}
	}
	party, _, err := s.loadParty(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if party == nil {
		return nil, &models.NotFoundError{Message: fmt.Sprintf("party %s not found", partyID)}
	}
	return party, nil
}

// CreateInvite invites another player into the inviter's party, creating the
// party when the inviter has none yet.
func (s *PartyService) CreateInvite(ctx context.Context, inviterID, inviteeID string) (*models.PartyInvite, error) {
	if inviterID == inviteeID {
		return nil, &models.InvalidRequestError{Message: "cannot invite yourself"}
	}
	inviteePartyID, err := s.GetPartyID(ctx, inviteeID)
	if err != nil {
		return nil, err
	}
	if inviteePartyID != "" {
		return nil, &models.InvalidRequestError{Message: "player is already in a party"}
	}

	inviteID, err := s.KV.Incr(ctx, inviteCounterKey)
	if err != nil {
		return nil, err
	}
	invite := &models.PartyInvite{
		InviteID:   inviteID,
		InviterID:  inviterID,
		InviteeID:  inviteeID,
		CreateDate: time.Now().UTC().Format(time.RFC3339),
	}

	var partyID string
	err = CompareAndSwapRetry(ctx, s.deadline(), func(ctx context.Context) (bool, error) {
		pointerKey := models.PlayerPartyKey(inviterID)
		pointer, err := s.KV.Get(ctx, pointerKey)
		if err != nil {
			return false, err
		}
		if pointer == nil {
			// First invite from a partyless player creates the party.
			partyID = uuid.NewString()
			party := &models.Party{
				PartyID:    partyID,
				MemberIDs:  []string{inviterID},
				Invites:    []models.PartyInvite{*invite},
				CreateDate: time.Now().UTC().Format(time.RFC3339),
			}
			encoded, err := json.Marshal(party)
			if err != nil {
				return false, err
			}
			return s.KV.CompareAndSwap(ctx,
				CASPair{Key: models.PartyKey(partyID), Expect: nil, Value: encoded, TTL: models.PartyTTL},
				CASPair{Key: pointerKey, Expect: nil, Value: []byte(partyID), TTL: models.PartyTTL},
			)
		}
		partyID = string(pointer)
		party, raw, err := s.loadParty(ctx, partyID)
		if err != nil {
			return false, err
		}
		if party == nil {
			return false, &models.NotFoundError{Message: fmt.Sprintf("party %s not found", partyID)}
		}
		for _, existing := range party.InvitesFrom(inviterID) {
			if existing.InviteeID == inviteeID {
				*invite = existing
				return true, nil
			}
		}
		party.Invites = append(party.Invites, *invite)
		encoded, err := json.Marshal(party)
		if err != nil {
			return false, err
		}
		return s.KV.CompareAndSwap(ctx,
			CASPair{Key: models.PartyKey(partyID), Expect: raw, Value: encoded, TTL: models.PartyTTL},
		)
	})
	if err != nil {
		return nil, err
	}
	if err := s.Messages.PostToPlayer(ctx, inviteeID, partyNotifyQueue, models.EventPartyInviteCreated, map[string]interface{}{
		"inviteId":  invite.InviteID,
		"partyId":   partyID,
		"inviterId": inviterID,
	}); err != nil {
		return nil, err
	}
	return invite, nil
}

// AcceptInvite consumes the invite and adds the invitee to the party. The
// party body and the invitee's pointer swap together, so two racing accepts
// can never leave a player in two member sets.
func (s *PartyService) AcceptInvite(ctx context.Context, inviteeID, partyID string, inviteID int64) (*models.Party, error) {
	var joined *models.Party
	err := CompareAndSwapRetry(ctx, s.deadline(), func(ctx context.Context) (bool, error) {
		party, raw, err := s.loadParty(ctx, partyID)
		if err != nil {
			return false, err
		}
		if party == nil {
			return false, &models.NotFoundError{Message: fmt.Sprintf("party %s not found", partyID)}
		}
		invite := party.Invite(inviteID)
		if invite == nil || invite.InviteeID != inviteeID {
			return false, &models.NotFoundError{Message: "invite not found"}
		}
		pointerKey := models.PlayerPartyKey(inviteeID)
		pointer, err := s.KV.Get(ctx, pointerKey)
		if err != nil {
			return false, err
		}
		if pointer != nil {
			return false, &models.InvalidRequestError{Message: "player is already in a party"}
		}
		next := *party
		next.Invites = removeInvite(party.Invites, inviteID)
		next.MemberIDs = append(append([]string(nil), party.MemberIDs...), inviteeID)
		encoded, err := json.Marshal(&next)
		if err != nil {
			return false, err
		}
		swapped, err := s.KV.CompareAndSwap(ctx,
			CASPair{Key: models.PartyKey(partyID), Expect: raw, Value: encoded, TTL: models.PartyTTL},
			CASPair{Key: pointerKey, Expect: nil, Value: []byte(partyID), TTL: models.PartyTTL},
		)
		if swapped {
			joined = &next
		}
		return swapped, err
	})
	if err != nil {
		return nil, err
	}
	if s.Tickets != nil {
		// Membership changed; neither the invitee's old ticket nor the
		// party's can match the new composition.
		s.Tickets.HandlePartyMemberChange(ctx, inviteeID, partyID)
	}
	s.Messages.PostToPlayers(ctx, joined.MemberIDs, partyNotifyQueue, models.EventPartyMemberJoined, map[string]interface{}{
		"partyId":  partyID,
		"playerId": inviteeID,
	})
	return joined, nil
}

// DeclineInvite consumes the invite without joining.
func (s *PartyService) DeclineInvite(ctx context.Context, inviteeID, partyID string, inviteID int64) error {
	var inviterID string
	err := CompareAndSwapRetry(ctx, s.deadline(), func(ctx context.Context) (bool, error) {
		party, raw, err := s.loadParty(ctx, partyID)
		if err != nil {
			return false, err
		}
		if party == nil {
			return false, &models.NotFoundError{Message: fmt.Sprintf("party %s not found", partyID)}
		}
		invite := party.Invite(inviteID)
		if invite == nil || invite.InviteeID != inviteeID {
			return false, &models.NotFoundError{Message: "invite not found"}
		}
		inviterID = invite.InviterID
		next := *party
		next.Invites = removeInvite(party.Invites, inviteID)
		encoded, err := json.Marshal(&next)
		if err != nil {
			return false, err
		}
		return s.KV.CompareAndSwap(ctx,
			CASPair{Key: models.PartyKey(partyID), Expect: raw, Value: encoded, TTL: models.PartyTTL},
		)
	})
	if err != nil {
		return err
	}
	return s.Messages.PostToPlayer(ctx, inviterID, partyNotifyQueue, models.EventPartyInviteDeclined, map[string]interface{}{
		"partyId":  partyID,
		"playerId": inviteeID,
	})
}

// LeaveParty removes the caller; the last member out deletes the party.
// Outstanding invites from the leaver go with them.
func (s *PartyService) LeaveParty(ctx context.Context, playerID string) error {
	var partyID string
	var remaining []string
	err := CompareAndSwapRetry(ctx, s.deadline(), func(ctx context.Context) (bool, error) {
		pointerKey := models.PlayerPartyKey(playerID)
		pointer, err := s.KV.Get(ctx, pointerKey)
		if err != nil {
			return false, err
		}
		if pointer == nil {
			return false, &models.NotFoundError{Message: "player is not in a party"}
		}
		partyID = string(pointer)
		party, raw, err := s.loadParty(ctx, partyID)
		if err != nil {
			return false, err
		}
		if party == nil {
			// Stale pointer; just clear it.
			return s.KV.CompareAndSwap(ctx, CASPair{Key: pointerKey, Expect: pointer})
		}
		next := *party
		next.MemberIDs = removeString(party.MemberIDs, playerID)
		next.Invites = removeInvitesFrom(party.Invites, playerID)
		remaining = next.MemberIDs
		if len(next.MemberIDs) == 0 {
			return s.KV.CompareAndSwap(ctx,
				CASPair{Key: models.PartyKey(partyID), Expect: raw},
				CASPair{Key: pointerKey, Expect: pointer},
			)
		}
		encoded, err := json.Marshal(&next)
		if err != nil {
			return false, err
		}
		return s.KV.CompareAndSwap(ctx,
			CASPair{Key: models.PartyKey(partyID), Expect: raw, Value: encoded, TTL: models.PartyTTL},
			CASPair{Key: pointerKey, Expect: pointer},
		)
	})
	if err != nil {
		return err
	}
	if s.Tickets != nil {
		s.Tickets.HandlePartyMemberChange(ctx, playerID, partyID)
	}
	if len(remaining) > 0 {
		s.Messages.PostToPlayers(ctx, remaining, partyNotifyQueue, models.EventPartyMemberLeft, map[string]interface{}{
			"partyId":  partyID,
			"playerId": playerID,
		})
	}
	return nil
}

func (s *PartyService) loadParty(ctx context.Context, partyID string) (*models.Party, []byte, error) {
	raw, err := s.KV.Get(ctx, models.PartyKey(partyID))
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, nil
	}
	party := &models.Party{}
	if err := unmarshalJSON(raw, party); err != nil {
		return nil, nil, err
	}
	return party, raw, nil
}

func removeInvite(invites []models.PartyInvite, inviteID int64) []models.PartyInvite {
	out := make([]models.PartyInvite, 0, len(invites))
	for _, inv := range invites {
		if inv.InviteID != inviteID {
			out = append(out, inv)
		}
	}
	return out
}

func removeInvitesFrom(invites []models.PartyInvite, inviterID string) []models.PartyInvite {
	out := make([]models.PartyInvite, 0, len(invites))
	for _, inv := range invites {
		if inv.InviterID != inviterID {
			out = append(out, inv)
		}
	}
	return out
}

func removeString(values []string, target string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != target {
			out = append(out, v)
		}
	}
	return out
}
