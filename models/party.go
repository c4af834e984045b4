package models

// PartyInvite links exactly one inviter to one invitee. Invite ids come from a
// shared counter, so id order is creation order; an invite is consumed
// (removed) on accept or decline.
type PartyInvite struct {
	InviteID   int64  `json:"inviteId"`
	InviterID  string `json:"inviterId"`
	InviteeID  string `json:"inviteeId"`
	CreateDate string `json:"createDate"`
}

// Party is a social grouping of players that travels together into
// matchmaking and lobbies. Each player has at most one party pointer
// (PlayerPartyKey(id) -> PartyID); party body and pointers are kept in step
// with optimistic compare-and-swap, not locks, because the two keys belong to
// different owners.
type Party struct {
	PartyID    string        `json:"partyId"`
	MemberIDs  []string      `json:"memberIds"`
	Invites    []PartyInvite `json:"invites,omitempty"`
	CreateDate string        `json:"createDate"`
}

// HasMember reports whether the player is in the party.
func (p *Party) HasMember(playerID string) bool {
	for _, id := range p.MemberIDs {
		if id == playerID {
			return true
		}
	}
	return false
}

// Invite returns the invite with the given id, or nil.
func (p *Party) Invite(inviteID int64) *PartyInvite {
	for i := range p.Invites {
		if p.Invites[i].InviteID == inviteID {
			return &p.Invites[i]
		}
	}
	return nil
}

// InvitesFrom returns the inviter's outstanding invites in creation order.
func (p *Party) InvitesFrom(inviterID string) []PartyInvite {
	var out []PartyInvite
	for _, inv := range p.Invites {
		if inv.InviterID == inviterID {
			out = append(out, inv)
		}
	}
	return out
}
