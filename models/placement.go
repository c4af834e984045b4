package models

// MatchPlacement tracks a request for a live game session. Exactly one of
// PlayerID, PartyID, LobbyID is meaningful as the owner; every participating
// player additionally has a reverse pointer PlayerPlacementKey(id) -> PlacementID.
type MatchPlacement struct {
	PlacementID    string          `json:"placementId"`
	Status         string          `json:"status"`
	PlayerID       string          `json:"playerId,omitempty"`
	PartyID        string          `json:"partyId,omitempty"`
	LobbyID        string          `json:"lobbyId,omitempty"`
	QueueName      string          `json:"queueName"`
	MapName        string          `json:"mapName,omitempty"`
	MaxPlayers     int             `json:"maxPlayers"`
	CustomData     string          `json:"customData,omitempty"`
	PlayerIDs      []string        `json:"playerIds"`
	GameSessionARN string          `json:"gameSessionArn,omitempty"`
	ConnectionInfo *ConnectionInfo `json:"connectionInfo,omitempty"`
	CreateDate     string          `json:"createDate"`
}

// HasPlayer reports whether the player participates in the placement.
func (p *MatchPlacement) HasPlayer(playerID string) bool {
	for _, id := range p.PlayerIDs {
		if id == playerID {
			return true
		}
	}
	return false
}
