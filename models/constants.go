package models

import (
	"fmt"
	"time"
)

// ✅ Matchmaking Ticket Statuses
const (
	TicketStatusQueued             = "QUEUED"
	TicketStatusSearching          = "SEARCHING"
	TicketStatusRequiresAcceptance = "REQUIRES_ACCEPTANCE"
	TicketStatusPlacing            = "PLACING"
	TicketStatusCompleted          = "COMPLETED"
	TicketStatusCancelling         = "CANCELLING"
	TicketStatusCancelled          = "CANCELLED"
	TicketStatusTimedOut           = "TIMED_OUT"
	TicketStatusFailed             = "FAILED"
	TicketStatusMatchComplete      = "MATCH_COMPLETE"
)

// LiveTicketStatuses are the statuses in which a ticket still counts as the
// owner's one active matchmaking request.
var LiveTicketStatuses = map[string]bool{
	TicketStatusQueued:             true,
	TicketStatusSearching:          true,
	TicketStatusRequiresAcceptance: true,
	TicketStatusPlacing:            true,
	TicketStatusCompleted:          true,
}

// NonCancelableTicketStatuses cannot be cancelled; the match is already being
// stood up and the gateway would reject a stop request.
var NonCancelableTicketStatuses = map[string]bool{
	TicketStatusCompleted:          true,
	TicketStatusPlacing:            true,
	TicketStatusRequiresAcceptance: true,
}

// ✅ Lobby Statuses
const (
	LobbyStatusIdle      = "idle"
	LobbyStatusStarting  = "starting"
	LobbyStatusStarted   = "started"
	LobbyStatusCancelled = "cancelled"
	LobbyStatusTimedOut  = "timed_out"
	LobbyStatusFailed    = "failed"
)

// ✅ Match Placement Statuses
const (
	PlacementStatusPending   = "pending"
	PlacementStatusCompleted = "completed"
	PlacementStatusCancelled = "cancelled"
	PlacementStatusTimedOut  = "timed_out"
	PlacementStatusFailed    = "failed"
)

// Notification event names posted to member streams
const (
	EventMatchmakingStarted       = "MatchmakingStarted"
	EventMatchmakingSearching     = "MatchmakingSearching"
	EventMatchmakingStopped       = "MatchmakingStopped"
	EventMatchmakingCancelled     = "MatchmakingCancelled"
	EventPotentialMatchCreated    = "PotentialMatchCreated"
	EventMatchmakingSuccess       = "MatchmakingSuccess"
	EventMatchmakingMatchAccepted = "MatchmakingMatchAccepted"
	EventMatchmakingTimedOut      = "MatchmakingTimedOut"
	EventMatchmakingFailed        = "MatchmakingFailed"
	EventLobbyMemberJoined        = "LobbyMemberJoined"
	EventLobbyMemberLeft          = "LobbyMemberLeft"
	EventLobbyMemberKicked        = "LobbyMemberKicked"
	EventLobbyUpdated             = "LobbyUpdated"
	EventLobbyMatchStarted        = "LobbyMatchStarted"
	EventLobbyDeleted             = "LobbyDeleted"
	EventPartyInviteCreated       = "PartyInviteCreated"
	EventPartyMemberJoined        = "PartyMemberJoined"
	EventPartyMemberLeft          = "PartyMemberLeft"
	EventPartyInviteDeclined      = "PartyInviteDeclined"
	EventMatchPlacementFulfilled  = "MatchPlacementFulfilled"
	EventMatchPlacementCancelled  = "MatchPlacementCancelled"
	EventMatchPlacementTimedOut   = "MatchPlacementTimedOut"
	EventMatchPlacementFailed     = "MatchPlacementFailed"
)

// TTLs. Every entity is TTL-bounded; expiry is the backstop against entries
// orphaned by crashed workers.
const (
	LockTTL = 30 * time.Second

	TicketTTLDefault   = 10 * time.Minute
	TicketTTLPlacing   = 3 * time.Minute
	TicketTTLCompleted = 24 * time.Hour

	LobbyTTL     = 24 * time.Hour
	PlacementTTL = 1 * time.Hour
	PartyTTL     = 7 * 24 * time.Hour
	LatencyTTL   = 1 * time.Hour
	MessageTTL   = 24 * time.Hour
)

// LatencyWindowSize caps how many samples per region feed the reported average.
const LatencyWindowSize = 3

// MessageStreamLimit caps a notification stream; oldest entries are dropped.
const MessageStreamLimit = 100

// Key builders. All shared session state lives under these keys; nothing
// outside the lock/guard path may read-modify-write them.
func PlayerTicketKey(playerID string) string { return fmt.Sprintf("player:%s:flexmatch", playerID) }
func PartyTicketKey(partyID string) string   { return fmt.Sprintf("party:%s:flexmatch", partyID) }
func TicketKey(ticketID string) string       { return fmt.Sprintf("flexmatch_tickets:%s", ticketID) }
func PlayerLobbyKey(playerID string) string  { return fmt.Sprintf("player:%s:lobby", playerID) }
func LobbyKey(lobbyID string) string         { return fmt.Sprintf("lobby:%s", lobbyID) }
func PlayerPlacementKey(playerID string) string {
	return fmt.Sprintf("player:%s:match-placement", playerID)
}
func PlacementKey(placementID string) string { return fmt.Sprintf("match-placement:%s", placementID) }
func PlayerPartyKey(playerID string) string  { return fmt.Sprintf("player:%s:party", playerID) }
func PartyKey(partyID string) string         { return fmt.Sprintf("party:%s", partyID) }
func PlayerLatencyKey(playerID, region string) string {
	return fmt.Sprintf("player:%s:latency:%s", playerID, region)
}
func MessageStreamKey(exchange, exchangeID string) string {
	return fmt.Sprintf("messages:%s:%s", exchange, exchangeID)
}
func MessageSequenceKey(exchange, exchangeID string) string {
	return fmt.Sprintf("messages:%s:%s:seq", exchange, exchangeID)
}
