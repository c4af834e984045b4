package models

// LobbyMember is one player inside a lobby. JoinDate drives host election:
// when the host leaves, the remaining member with the earliest JoinDate is
// promoted, independent of request arrival order.
type LobbyMember struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	TeamName   string `json:"teamName,omitempty"`
	Ready      bool   `json:"ready"`
	Host       bool   `json:"host"`
	JoinDate   string `json:"joinDate"`
}

// Lobby is a player-hosted pre-match grouping with teams. Each member also has
// a reverse pointer PlayerLobbyKey(playerId) -> LobbyID which must always
// agree with Members; both are only mutated inside the same critical section,
// player pointer lock first, then the lobby body.
type Lobby struct {
	LobbyID          string        `json:"lobbyId"`
	LobbyName        string        `json:"lobbyName"`
	MapName          string        `json:"mapName"`
	TeamCapacity     int           `json:"teamCapacity"`
	TeamNames        []string      `json:"teamNames"`
	Members          []LobbyMember `json:"members"`
	Status           string        `json:"status"`
	PlacementID      string        `json:"placementId,omitempty"`
	ConnectionString string        `json:"connectionString,omitempty"`
	CreateDate       string        `json:"createDate"`
	StartDate        string        `json:"startDate,omitempty"`
}

// Member returns the member entry for a player, or nil.
func (l *Lobby) Member(playerID string) *LobbyMember {
	for i := range l.Members {
		if l.Members[i].PlayerID == playerID {
			return &l.Members[i]
		}
	}
	return nil
}

// Host returns the current host member, or nil.
func (l *Lobby) Host() *LobbyMember {
	for i := range l.Members {
		if l.Members[i].Host {
			return &l.Members[i]
		}
	}
	return nil
}

// HasTeam reports whether teamName is one of the lobby's configured teams.
func (l *Lobby) HasTeam(teamName string) bool {
	for _, t := range l.TeamNames {
		if t == teamName {
			return true
		}
	}
	return false
}

// TeamCount counts current assignees of a team. Capacity is enforced by
// counting, not by reserving slots.
func (l *Lobby) TeamCount(teamName string) int {
	n := 0
	for i := range l.Members {
		if l.Members[i].TeamName == teamName {
			n++
		}
	}
	return n
}
