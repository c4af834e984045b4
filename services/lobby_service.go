package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"arena_server/models"

	"github.com/google/uuid"
)

// TicketChecker is the entry-check view of the matchmaking layer: lobby
// membership and a live ticket are mutually exclusive at entry (best-effort,
// checked at entry only).
type TicketChecker interface {
	HasLiveTicket(ctx context.Context, playerID string) (bool, error)
}

// LobbySettings are the host-editable lobby fields.
type LobbySettings struct {
	LobbyName    string   `json:"lobbyName"`
	MapName      string   `json:"mapName"`
	TeamCapacity int      `json:"teamCapacity"`
	TeamNames    []string `json:"teamNames"`
}

// LobbyService runs private-lobby membership and settings. Every mutation of
// a member's reverse pointer and the lobby body happens in one critical
// section, always locking the player pointer first and the lobby body second,
// so concurrent operations on the same lobby agree on acquisition order.
type LobbyService struct {
	KV       KV
	Locks    *LockService
	Messages *MessageService
	Players  PlayerDirectory
	Tickets  TicketChecker
	Parties  PartyMembers
	// LeaveGrace blocks leaving for this long after a placement enters
	// starting; past the window the leave is allowed as a recoverable anomaly.
	LeaveGrace time.Duration
}

const lobbyQueue = "lobby"

func (s *LobbyService) checkEntry(ctx context.Context, playerID string) error {
	hasTicket, err := s.Tickets.HasLiveTicket(ctx, playerID)
	if err != nil {
		return err
	}
	if hasTicket {
		return &models.InvalidRequestError{Message: "player has a live matchmaking ticket"}
	}
	partyID, err := s.Parties.GetPartyID(ctx, playerID)
	if err != nil {
		return err
	}
	if partyID != "" {
		return &models.InvalidRequestError{Message: "player is in a party"}
	}
	return nil
}

func (s *LobbyService) validateSettings(settings *LobbySettings) error {
	if settings.TeamCapacity <= 0 {
		return &models.InvalidRequestError{Message: "team capacity must be positive"}
	}
	if len(settings.TeamNames) == 0 {
		return &models.InvalidRequestError{Message: "at least one team is required"}
	}
	return nil
}

// CreateLobby creates a lobby with the caller as host.
func (s *LobbyService) CreateLobby(ctx context.Context, playerID string, settings LobbySettings) (*models.Lobby, error) {
	if err := s.checkEntry(ctx, playerID); err != nil {
		return nil, err
	}
	if err := s.validateSettings(&settings); err != nil {
		return nil, err
	}

	pointerKey := models.PlayerLobbyKey(playerID)
	pointerLock, err := s.Locks.Acquire(ctx, pointerKey, defaultLockWait)
	if err != nil {
		return nil, err
	}
	defer pointerLock.Release(ctx)

	pointer, err := s.KV.Get(ctx, pointerKey)
	if err != nil {
		return nil, err
	}
	if pointer != nil {
		return nil, &models.InvalidRequestError{Message: "player is already in a lobby"}
	}

	name, err := s.Players.GetDisplayName(ctx, playerID)
	if err != nil {
		return nil, err
	}
	lobbyID := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	lobby, err := WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		return &models.Lobby{
			LobbyID:      lobbyID,
			LobbyName:    settings.LobbyName,
			MapName:      settings.MapName,
			TeamCapacity: settings.TeamCapacity,
			TeamNames:    settings.TeamNames,
			Status:       models.LobbyStatusIdle,
			CreateDate:   now,
			Members: []models.LobbyMember{{
				PlayerID:   playerID,
				PlayerName: name,
				Host:       true,
				JoinDate:   now,
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ensureOwned(ctx, pointerLock, pointerKey); err != nil {
		return nil, err
	}
	if err := s.KV.Set(ctx, pointerKey, []byte(lobbyID), models.LobbyTTL); err != nil {
		return nil, err
	}
	return lobby, nil
}

// JoinLobby adds the caller to a lobby. Joining a lobby the player is already
// in returns it unchanged and notifies nobody, so racing duplicate requests
// land the member exactly once.
func (s *LobbyService) JoinLobby(ctx context.Context, playerID, lobbyID string) (*models.Lobby, error) {
	pointerKey := models.PlayerLobbyKey(playerID)
	pointerLock, err := s.Locks.Acquire(ctx, pointerKey, defaultLockWait)
	if err != nil {
		return nil, err
	}
	defer pointerLock.Release(ctx)

	pointer, err := s.KV.Get(ctx, pointerKey)
	if err != nil {
		return nil, err
	}
	if pointer != nil {
		if string(pointer) == lobbyID {
			return s.getLobby(ctx, lobbyID)
		}
		return nil, &models.InvalidRequestError{Message: "player is already in another lobby"}
	}
	if err := s.checkEntry(ctx, playerID); err != nil {
		return nil, err
	}

	name, err := s.Players.GetDisplayName(ctx, playerID)
	if err != nil {
		return nil, err
	}
	var existingMembers []string
	lobby, err := WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("lobby %s not found", lobbyID)}
		}
		if current.Status != models.LobbyStatusIdle {
			return nil, &models.InvalidRequestError{Message: "lobby is no longer joinable"}
		}
		if current.Member(playerID) == nil {
			for _, m := range current.Members {
				existingMembers = append(existingMembers, m.PlayerID)
			}
			current.Members = append(current.Members, models.LobbyMember{
				PlayerID:   playerID,
				PlayerName: name,
				JoinDate:   time.Now().UTC().Format(time.RFC3339Nano),
			})
		}
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	if err := ensureOwned(ctx, pointerLock, pointerKey); err != nil {
		return nil, err
	}
	if err := s.KV.Set(ctx, pointerKey, []byte(lobbyID), models.LobbyTTL); err != nil {
		return nil, err
	}
	if len(existingMembers) > 0 {
		s.Messages.PostToPlayers(ctx, existingMembers, lobbyQueue, models.EventLobbyMemberJoined, map[string]interface{}{
			"lobbyId":    lobbyID,
			"playerId":   playerID,
			"playerName": name,
		})
	}
	return lobby, nil
}

// LeaveLobby removes the caller. The host leaving promotes the remaining
// member with the earliest join date; the last member leaving deletes the
// lobby.
func (s *LobbyService) LeaveLobby(ctx context.Context, playerID string) error {
	pointerKey := models.PlayerLobbyKey(playerID)
	pointerLock, err := s.Locks.Acquire(ctx, pointerKey, defaultLockWait)
	if err != nil {
		return err
	}
	defer pointerLock.Release(ctx)

	pointer, err := s.KV.Get(ctx, pointerKey)
	if err != nil {
		return err
	}
	if pointer == nil {
		return &models.NotFoundError{Message: "player is not in a lobby"}
	}
	lobbyID := string(pointer)

	var remaining []string
	var newHost string
	_, err = WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists {
			return nil, nil
		}
		if err := s.checkLeaveWindow(current); err != nil {
			return nil, err
		}
		member := current.Member(playerID)
		if member == nil {
			return current, nil
		}
		wasHost := member.Host
		current.Members = removeMember(current.Members, playerID)
		if len(current.Members) == 0 {
			return nil, nil
		}
		if wasHost {
			newHost = electHost(current.Members)
		}
		for _, m := range current.Members {
			remaining = append(remaining, m.PlayerID)
		}
		return current, nil
	})
	if err != nil {
		return err
	}
	if err := ensureOwned(ctx, pointerLock, pointerKey); err != nil {
		return err
	}
	if err := s.KV.Delete(ctx, pointerKey); err != nil {
		return err
	}
	if len(remaining) > 0 {
		data := map[string]interface{}{
			"lobbyId":  lobbyID,
			"playerId": playerID,
		}
		if newHost != "" {
			data["newHostId"] = newHost
		}
		s.Messages.PostToPlayers(ctx, remaining, lobbyQueue, models.EventLobbyMemberLeft, data)
	}
	return nil
}

// checkLeaveWindow blocks leaving for the grace window after a placement
// enters starting; a window that elapsed without resolution is treated as a
// recoverable anomaly, not an indefinite block.
func (s *LobbyService) checkLeaveWindow(lobby *models.Lobby) error {
	if lobby.Status != models.LobbyStatusStarting || lobby.StartDate == "" {
		return nil
	}
	started, err := time.Parse(time.RFC3339Nano, lobby.StartDate)
	if err != nil {
		log.Printf("Unparseable start date on lobby %s: %v", lobby.LobbyID, err)
		return nil
	}
	if time.Since(started) < s.LeaveGrace {
		return &models.InvalidRequestError{Message: "a match is starting, cannot leave right now"}
	}
	log.Printf("Lobby %s stuck in starting beyond the grace window, allowing leave", lobby.LobbyID)
	return nil
}

// KickMember removes another member; host only.
func (s *LobbyService) KickMember(ctx context.Context, hostID, targetID string) error {
	if hostID == targetID {
		return &models.InvalidRequestError{Message: "use leave to exit your own lobby"}
	}
	targetPointerKey := models.PlayerLobbyKey(targetID)
	pointerLock, err := s.Locks.Acquire(ctx, targetPointerKey, defaultLockWait)
	if err != nil {
		return err
	}
	defer pointerLock.Release(ctx)

	pointer, err := s.KV.Get(ctx, targetPointerKey)
	if err != nil {
		return err
	}
	if pointer == nil {
		return &models.NotFoundError{Message: "player is not in a lobby"}
	}
	lobbyID := string(pointer)

	var remaining []string
	_, err = WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("lobby %s not found", lobbyID)}
		}
		host := current.Host()
		if host == nil || host.PlayerID != hostID {
			return nil, &models.ForbiddenError{Message: "only the host may kick members"}
		}
		if current.Member(targetID) == nil {
			return nil, &models.NotFoundError{Message: "player is not in this lobby"}
		}
		current.Members = removeMember(current.Members, targetID)
		for _, m := range current.Members {
			remaining = append(remaining, m.PlayerID)
		}
		return current, nil
	})
	if err != nil {
		return err
	}
	if err := ensureOwned(ctx, pointerLock, targetPointerKey); err != nil {
		return err
	}
	if err := s.KV.Delete(ctx, targetPointerKey); err != nil {
		return err
	}
	if err := s.Messages.PostToPlayer(ctx, targetID, lobbyQueue, models.EventLobbyMemberKicked, map[string]interface{}{
		"lobbyId": lobbyID,
	}); err != nil {
		log.Printf("Failed to notify kicked player %s: %v", targetID, err)
	}
	s.Messages.PostToPlayers(ctx, remaining, lobbyQueue, models.EventLobbyMemberLeft, map[string]interface{}{
		"lobbyId":  lobbyID,
		"playerId": targetID,
		"kicked":   true,
	})
	return nil
}

// UpdateLobby changes lobby settings; host only. Members whose team no longer
// exists or no longer fits are unassigned, never rejected.
func (s *LobbyService) UpdateLobby(ctx context.Context, hostID string, settings LobbySettings) (*models.Lobby, error) {
	if err := s.checkEntry(ctx, hostID); err != nil {
		return nil, err
	}
	if err := s.validateSettings(&settings); err != nil {
		return nil, err
	}
	lobbyID, err := s.lobbyIDFor(ctx, hostID)
	if err != nil {
		return nil, err
	}
	var members []string
	lobby, err := WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("lobby %s not found", lobbyID)}
		}
		host := current.Host()
		if host == nil || host.PlayerID != hostID {
			return nil, &models.ForbiddenError{Message: "only the host may update the lobby"}
		}
		if current.Status != models.LobbyStatusIdle {
			return nil, &models.InvalidRequestError{Message: "lobby settings are frozen while a match is starting"}
		}
		current.LobbyName = settings.LobbyName
		current.MapName = settings.MapName
		current.TeamCapacity = settings.TeamCapacity
		current.TeamNames = settings.TeamNames
		reconcileTeams(current)
		for _, m := range current.Members {
			members = append(members, m.PlayerID)
		}
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	s.Messages.PostToPlayers(ctx, members, lobbyQueue, models.EventLobbyUpdated, map[string]interface{}{
		"lobbyId": lobbyID,
	})
	return lobby, nil
}

// UpdateMember sets the caller's team assignment and ready flag.
func (s *LobbyService) UpdateMember(ctx context.Context, playerID, teamName string, ready bool) (*models.Lobby, error) {
	lobbyID, err := s.lobbyIDFor(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("lobby %s not found", lobbyID)}
		}
		member := current.Member(playerID)
		if member == nil {
			return nil, &models.NotFoundError{Message: "player is not in this lobby"}
		}
		if teamName != "" {
			if !current.HasTeam(teamName) {
				return nil, &models.InvalidRequestError{Message: fmt.Sprintf("no team named %s", teamName)}
			}
			if member.TeamName != teamName && current.TeamCount(teamName) >= current.TeamCapacity {
				return nil, &models.InvalidRequestError{Message: fmt.Sprintf("team %s is full", teamName)}
			}
		}
		member.TeamName = teamName
		member.Ready = ready
		return current, nil
	})
}

// GetLobby returns the caller's current lobby.
func (s *LobbyService) GetLobby(ctx context.Context, playerID string) (*models.Lobby, error) {
	lobbyID, err := s.lobbyIDFor(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return s.getLobby(ctx, lobbyID)
}

// BeginStart flips the lobby into starting on behalf of the placement state
// machine; host only, idle only.
func (s *LobbyService) BeginStart(ctx context.Context, hostID, placementID string) (*models.Lobby, error) {
	lobbyID, err := s.lobbyIDFor(ctx, hostID)
	if err != nil {
		return nil, err
	}
	return WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("lobby %s not found", lobbyID)}
		}
		host := current.Host()
		if host == nil || host.PlayerID != hostID {
			return nil, &models.ForbiddenError{Message: "only the host may start the match"}
		}
		if current.Status != models.LobbyStatusIdle {
			return nil, &models.InvalidRequestError{Message: "a match is already starting"}
		}
		current.Status = models.LobbyStatusStarting
		current.PlacementID = placementID
		current.StartDate = time.Now().UTC().Format(time.RFC3339Nano)
		return current, nil
	})
}

// AbortStart rolls a failed start back to idle.
func (s *LobbyService) AbortStart(ctx context.Context, lobbyID, placementID string) {
	_, err := WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists || current.PlacementID != placementID {
			return current, nil
		}
		current.Status = models.LobbyStatusIdle
		current.PlacementID = ""
		current.StartDate = ""
		return current, nil
	})
	if err != nil {
		log.Printf("Failed to roll lobby %s back to idle: %v", lobbyID, err)
	}
}

// ApplyPlacementResult records the outcome of the lobby's placement and
// returns the updated lobby for fan-out, or nil when the placement no longer
// belongs to the lobby.
func (s *LobbyService) ApplyPlacementResult(ctx context.Context, lobbyID, placementID, status, connectionString string) (*models.Lobby, error) {
	var stale bool
	lobby, err := WithResource(ctx, s.Locks, s.KV, models.LobbyKey(lobbyID), models.LobbyTTL, func(current *models.Lobby, exists bool) (*models.Lobby, error) {
		if !exists || current.PlacementID != placementID {
			stale = true
			return current, nil
		}
		current.Status = status
		current.ConnectionString = connectionString
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, nil
	}
	return lobby, nil
}

func (s *LobbyService) lobbyIDFor(ctx context.Context, playerID string) (string, error) {
	pointer, err := s.KV.Get(ctx, models.PlayerLobbyKey(playerID))
	if err != nil {
		return "", err
	}
	if pointer == nil {
		return "", &models.NotFoundError{Message: "player is not in a lobby"}
	}
	return string(pointer), nil
}

func (s *LobbyService) getLobby(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	raw, err := s.KV.Get(ctx, models.LobbyKey(lobbyID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &models.NotFoundError{Message: fmt.Sprintf("lobby %s not found", lobbyID)}
	}
	lobby := &models.Lobby{}
	if err := unmarshalJSON(raw, lobby); err != nil {
		return nil, err
	}
	return lobby, nil
}

func removeMember(members []models.LobbyMember, playerID string) []models.LobbyMember {
	out := members[:0]
	for _, m := range members {
		if m.PlayerID != playerID {
			out = append(out, m)
		}
	}
	return out
}

// electHost picks the remaining member with the earliest join timestamp,
// breaking ties by player id so the outcome is the same no matter which
// worker runs the election.
func electHost(members []models.LobbyMember) string {
	best := -1
	for i := range members {
		if best < 0 ||
			members[i].JoinDate < members[best].JoinDate ||
			(members[i].JoinDate == members[best].JoinDate && members[i].PlayerID < members[best].PlayerID) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	for i := range members {
		members[i].Host = i == best
	}
	return members[best].PlayerID
}

// reconcileTeams clears assignments to teams that no longer exist and trims
// teams over the new capacity, keeping the earliest members.
func reconcileTeams(lobby *models.Lobby) {
	counts := make(map[string]int)
	for i := range lobby.Members {
		m := &lobby.Members[i]
		if m.TeamName == "" {
			continue
		}
		if !lobby.HasTeam(m.TeamName) {
			m.TeamName = ""
			continue
		}
		counts[m.TeamName]++
		if counts[m.TeamName] > lobby.TeamCapacity {
			counts[m.TeamName]--
			m.TeamName = ""
		}
	}
}
