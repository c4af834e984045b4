package models

// Inbound webhook payloads from the matchmaking/placement gateway. Shapes
// follow the EventBridge envelope GameLift publishes; events whose account id
// does not match ours belong to another tenant and are dropped.

// FlexMatch event detail types
const (
	FlexMatchEventSearching            = "MatchmakingSearching"
	FlexMatchEventPotentialMatch       = "PotentialMatchCreated"
	FlexMatchEventSucceeded            = "MatchmakingSucceeded"
	FlexMatchEventCancelled            = "MatchmakingCancelled"
	FlexMatchEventAcceptMatch          = "AcceptMatch"
	FlexMatchEventAcceptMatchCompleted = "AcceptMatchCompleted"
	FlexMatchEventTimedOut             = "MatchmakingTimedOut"
	FlexMatchEventFailed               = "MatchmakingFailed"
)

// Placement event detail types
const (
	PlacementEventFulfilled = "PlacementFulfilled"
	PlacementEventCancelled = "PlacementCancelled"
	PlacementEventTimedOut  = "PlacementTimedOut"
	PlacementEventFailed    = "PlacementFailed"
)

// EventPlayer is one ticket/player pair inside a gateway event.
type EventPlayer struct {
	PlayerID        string `json:"playerId"`
	PlayerSessionID string `json:"playerSessionId,omitempty"`
	Accepted        *bool  `json:"accepted,omitempty"`
}

// EventTicket identifies one ticket affected by a matchmaking event.
type EventTicket struct {
	TicketID  string        `json:"ticketId"`
	StartTime string        `json:"startTime,omitempty"`
	Players   []EventPlayer `json:"players"`
}

// GameSessionInfo carries the session connection details of a succeeded match.
type GameSessionInfo struct {
	GameSessionARN string        `json:"gameSessionArn"`
	IPAddress      string        `json:"ipAddress"`
	Port           int32         `json:"port"`
	Players        []EventPlayer `json:"players"`
}

// FlexMatchEventDetail is the nested detail payload of a matchmaking event.
type FlexMatchEventDetail struct {
	Type               string           `json:"type"`
	MatchID            string           `json:"matchId,omitempty"`
	Tickets            []EventTicket    `json:"tickets"`
	GameSessionInfo    *GameSessionInfo `json:"gameSessionInfo,omitempty"`
	AcceptanceRequired bool             `json:"acceptanceRequired,omitempty"`
	AcceptanceTimeout  int              `json:"acceptanceTimeout,omitempty"`
	Reason             string           `json:"reason,omitempty"`
	Message            string           `json:"message,omitempty"`
}

// FlexMatchEvent is the webhook envelope for matchmaking events.
type FlexMatchEvent struct {
	Version    string               `json:"version"`
	ID         string               `json:"id"`
	DetailType string               `json:"detail-type"`
	Source     string               `json:"source"`
	Account    string               `json:"account"`
	Time       string               `json:"time"`
	Region     string               `json:"region"`
	Detail     FlexMatchEventDetail `json:"detail"`
}

// PlacedPlayerSession maps a participant to the player session minted for it.
type PlacedPlayerSession struct {
	PlayerID        string `json:"playerId"`
	PlayerSessionID string `json:"playerSessionId"`
}

// PlacementEventDetail is the nested detail payload of a placement event.
type PlacementEventDetail struct {
	Type                 string                `json:"type"`
	PlacementID          string                `json:"placementId"`
	GameSessionARN       string                `json:"gameSessionArn,omitempty"`
	IPAddress            string                `json:"ipAddress,omitempty"`
	Port                 int32                 `json:"port,omitempty,string"`
	PlacedPlayerSessions []PlacedPlayerSession `json:"placedPlayerSessions,omitempty"`
}

// PlacementEvent is the webhook envelope for placement events.
type PlacementEvent struct {
	Version    string               `json:"version"`
	ID         string               `json:"id"`
	DetailType string               `json:"detail-type"`
	Source     string               `json:"source"`
	Account    string               `json:"account"`
	Time       string               `json:"time"`
	Region     string               `json:"region"`
	Detail     PlacementEventDetail `json:"detail"`
}
