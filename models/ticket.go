package models

import "time"

// TicketPlayer is one member of a matchmaking request (solo player or a party
// member), with the attributes and measured latencies handed to the gateway.
type TicketPlayer struct {
	PlayerID   string             `json:"playerId"`
	PlayerName string             `json:"playerName"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
	Latencies  map[string]int     `json:"latencies,omitempty"`
}

// ConnectionInfo carries what a client needs to reach a live game session.
type ConnectionInfo struct {
	IPAddress      string            `json:"ipAddress"`
	Port           int32             `json:"port"`
	PlayerSessions map[string]string `json:"playerSessions,omitempty"` // playerId -> playerSessionId
}

// MatchmakingTicket tracks one matchmaking request from issue to a terminal
// state. Stored under TicketKey(TicketID); the owning key (player or party)
// holds a pointer to it whose TTL depends on Status.
type MatchmakingTicket struct {
	TicketID       string          `json:"ticketId"`
	Key            string          `json:"key"` // owning pointer key (player or party)
	PartyID        string          `json:"partyId,omitempty"`
	Players        []TicketPlayer  `json:"players"`
	Status         string          `json:"status"`
	MatchID        string          `json:"matchId,omitempty"`
	ConnectionInfo *ConnectionInfo `json:"connectionInfo,omitempty"`
	CreateDate     string          `json:"createDate"`
}

// IsLive reports whether the ticket still counts as its owner's active request.
func (t *MatchmakingTicket) IsLive() bool {
	return LiveTicketStatuses[t.Status]
}

// PlayerIDs returns the member ids in ticket order.
func (t *MatchmakingTicket) PlayerIDs() []string {
	ids := make([]string, 0, len(t.Players))
	for _, p := range t.Players {
		ids = append(ids, p.PlayerID)
	}
	return ids
}

// HasPlayer reports whether the given player is a member of the ticket.
func (t *MatchmakingTicket) HasPlayer(playerID string) bool {
	for _, p := range t.Players {
		if p.PlayerID == playerID {
			return true
		}
	}
	return false
}

// PointerTTL is the TTL of the owning pointer for the ticket's current status:
// short while a match is being stood up, long after completion so players can
// rejoin, default otherwise.
func (t *MatchmakingTicket) PointerTTL() time.Duration {
	switch t.Status {
	case TicketStatusPlacing, TicketStatusRequiresAcceptance:
		return TicketTTLPlacing
	case TicketStatusCompleted, TicketStatusMatchComplete:
		return TicketTTLCompleted
	default:
		return TicketTTLDefault
	}
}
