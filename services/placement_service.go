package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"arena_server/models"

	"github.com/google/uuid"
)

// PlacementRequest describes a new game-session placement.
type PlacementRequest struct {
	QueueName  string `json:"queueName"`
	MapName    string `json:"mapName"`
	MaxPlayers int    `json:"maxPlayers"`
	CustomData string `json:"customData"`
}

// PlacementService tracks requests for live game sessions. A placement is
// owned by exactly one of a player, a party, or a lobby; every participant
// carries a reverse pointer to it.
type PlacementService struct {
	KV       KV
	Locks    *LockService
	Gateway  PlacementGateway
	Messages *MessageService
	Parties  PartyMembers
	Lobbies  *LobbyService
	// DefaultQueue is used when a request does not name one.
	DefaultQueue string
	// AccountID filters inbound events, like the matchmaking side.
	AccountID string
}

const placementQueue = "match_placements"

// StartPlayerPlacement requests a session for a single player.
func (s *PlacementService) StartPlayerPlacement(ctx context.Context, playerID string, req PlacementRequest) (*models.MatchPlacement, error) {
	placement := s.newPlacement(req)
	placement.PlayerID = playerID
	placement.PlayerIDs = []string{playerID}
	if err := s.startPlacement(ctx, placement); err != nil {
		return nil, err
	}
	return placement, nil
}

// StartPartyPlacement requests a session for the caller's whole party.
func (s *PlacementService) StartPartyPlacement(ctx context.Context, playerID string, req PlacementRequest) (*models.MatchPlacement, error) {
	partyID, err := s.Parties.GetPartyID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if partyID == "" {
		return nil, &models.InvalidRequestError{Message: "player is not in a party"}
	}
	memberIDs, err := s.Parties.GetMemberIDs(ctx, partyID)
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, &models.NotFoundError{Message: fmt.Sprintf("party %s has no members", partyID)}
	}
	placement := s.newPlacement(req)
	placement.PartyID = partyID
	placement.PlayerIDs = memberIDs
	if err := s.startPlacement(ctx, placement); err != nil {
		return nil, err
	}
	return placement, nil
}

// StartLobbyPlacement requests a session for the caller's lobby; host only.
// The lobby is flipped to starting first and rolled back if the placement
// cannot be issued.
func (s *PlacementService) StartLobbyPlacement(ctx context.Context, hostID string, req PlacementRequest) (*models.MatchPlacement, error) {
	placement := s.newPlacement(req)
	lobby, err := s.Lobbies.BeginStart(ctx, hostID, placement.PlacementID)
	if err != nil {
		return nil, err
	}
	placement.LobbyID = lobby.LobbyID
	if placement.MapName == "" {
		placement.MapName = lobby.MapName
	}
	if placement.MaxPlayers == 0 {
		placement.MaxPlayers = lobby.TeamCapacity * len(lobby.TeamNames)
	}
	for _, m := range lobby.Members {
		placement.PlayerIDs = append(placement.PlayerIDs, m.PlayerID)
	}
	if err := s.startPlacement(ctx, placement); err != nil {
		s.Lobbies.AbortStart(ctx, lobby.LobbyID, placement.PlacementID)
		return nil, err
	}
	s.Messages.PostToPlayers(ctx, placement.PlayerIDs, placementQueue, models.EventLobbyMatchStarted, map[string]interface{}{
		"lobbyId":     lobby.LobbyID,
		"placementId": placement.PlacementID,
		"status":      placement.Status,
	})
	return placement, nil
}

func (s *PlacementService) newPlacement(req PlacementRequest) *models.MatchPlacement {
	queue := req.QueueName
	if queue == "" {
		queue = s.DefaultQueue
	}
	maxPlayers := req.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = 1
	}
	return &models.MatchPlacement{
		PlacementID: uuid.NewString(),
		Status:      models.PlacementStatusPending,
		QueueName:   queue,
		MapName:     req.MapName,
		MaxPlayers:  maxPlayers,
		CustomData:  req.CustomData,
		CreateDate:  time.Now().UTC().Format(time.RFC3339),
	}
}

// startPlacement is the common issue path: lock every participant's pointer
// (sorted, so concurrent multi-player attempts cannot deadlock), verify
// nobody already has a pending placement, ask the gateway, then re-validate
// before writing anything. A violation after the gateway call means the
// gateway placement is cancelled again and no local state is left behind.
func (s *PlacementService) startPlacement(ctx context.Context, placement *models.MatchPlacement) error {
	pointerKeys := make([]string, 0, len(placement.PlayerIDs))
	for _, id := range placement.PlayerIDs {
		pointerKeys = append(pointerKeys, models.PlayerPlacementKey(id))
	}
	locks, err := s.Locks.AcquireMany(ctx, pointerKeys, defaultLockWait)
	if err != nil {
		return err
	}
	defer ReleaseAll(ctx, locks)

	for _, key := range pointerKeys {
		if err := s.checkNoPendingPlacement(ctx, key); err != nil {
			return err
		}
	}

	if err := s.Gateway.StartGameSessionPlacement(ctx, placement.PlacementID, placement.QueueName, placement.MapName, placement.CustomData, placement.MaxPlayers, placement.PlayerIDs); err != nil {
		return err
	}

	// The gateway call may have outlived our lock TTLs; holding a lost lock
	// means another worker may have assigned these players meanwhile.
	for i, lock := range locks {
		owned, err := lock.Owned(ctx)
		if err == nil && owned {
			err = s.checkNoPendingPlacement(ctx, pointerKeys[i])
		} else if err == nil {
			err = &models.ConflictError{Message: "lost a participant lock while the gateway call was in flight"}
		}
		if err != nil {
			if stopErr := s.Gateway.StopGameSessionPlacement(ctx, placement.PlacementID); stopErr != nil {
				log.Printf("Failed to roll back placement %s with the gateway: %v", placement.PlacementID, stopErr)
			}
			return err
		}
	}

	encoded, err := json.Marshal(placement)
	if err != nil {
		return fmt.Errorf("failed to marshal placement %s: %w", placement.PlacementID, err)
	}
	if err := s.KV.Set(ctx, models.PlacementKey(placement.PlacementID), encoded, models.PlacementTTL); err != nil {
		return err
	}
	for _, key := range pointerKeys {
		if err := s.KV.Set(ctx, key, []byte(placement.PlacementID), models.PlacementTTL); err != nil {
			return err
		}
	}
	return nil
}

func (s *PlacementService) checkNoPendingPlacement(ctx context.Context, pointerKey string) error {
	pointer, err := s.KV.Get(ctx, pointerKey)
	if err != nil {
		return err
	}
	if pointer == nil {
		return nil
	}
	existing, err := s.getPlacement(ctx, string(pointer))
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == models.PlacementStatusPending {
		return &models.ConflictError{Message: "a placement is already pending for a participant"}
	}
	return nil
}

// StopPlacement cancels the caller's pending placement with the gateway and
// removes all local state for it. A lobby-owned placement takes its lobby to
// cancelled in the same call; the body is gone by the time the gateway's own
// cancellation event arrives, so that event cannot reach the lobby.
func (s *PlacementService) StopPlacement(ctx context.Context, playerID string) error {
	pointer, err := s.KV.Get(ctx, models.PlayerPlacementKey(playerID))
	if err != nil {
		return err
	}
	if pointer == nil {
		return &models.NotFoundError{Message: "player has no match placement"}
	}
	placementID := string(pointer)

	var participants []string
	var lobbyID string
	_, err = WithResource(ctx, s.Locks, s.KV, models.PlacementKey(placementID), models.PlacementTTL, func(current *models.MatchPlacement, exists bool) (*models.MatchPlacement, error) {
		if !exists {
			return nil, &models.NotFoundError{Message: fmt.Sprintf("placement %s not found", placementID)}
		}
		if !current.HasPlayer(playerID) {
			return nil, &models.ForbiddenError{Message: "player is not part of this placement"}
		}
		if current.Status != models.PlacementStatusPending {
			return nil, &models.InvalidRequestError{Message: fmt.Sprintf("placement is %s, not pending", current.Status)}
		}
		if err := s.Gateway.StopGameSessionPlacement(ctx, placementID); err != nil {
			return nil, err
		}
		participants = current.PlayerIDs
		lobbyID = current.LobbyID
		return nil, nil
	})
	if err != nil {
		return err
	}
	if lobbyID != "" {
		if _, err := s.Lobbies.ApplyPlacementResult(ctx, lobbyID, placementID, models.LobbyStatusCancelled, ""); err != nil {
			log.Printf("Failed to apply cancelled placement %s to lobby %s: %v", placementID, lobbyID, err)
		}
	}
	s.deletePointers(ctx, participants, placementID)
	s.Messages.PostToPlayers(ctx, participants, placementQueue, models.EventMatchPlacementCancelled, map[string]interface{}{
		"placementId": placementID,
	})
	return nil
}

// GetPlacement returns the caller's current placement.
func (s *PlacementService) GetPlacement(ctx context.Context, playerID string) (*models.MatchPlacement, error) {
	pointer, err := s.KV.Get(ctx, models.PlayerPlacementKey(playerID))
	if err != nil {
		return nil, err
	}
	if pointer == nil {
		return nil, &models.NotFoundError{Message: "player has no match placement"}
	}
	placement, err := s.getPlacement(ctx, string(pointer))
	if err != nil {
		return nil, err
	}
	if placement == nil {
		return nil, &models.NotFoundError{Message: "placement expired"}
	}
	return placement, nil
}

// GetPlayerConnection mints a fresh player session on the placed game session
// so a participant can rejoin.
func (s *PlacementService) GetPlayerConnection(ctx context.Context, playerID string) (map[string]interface{}, error) {
	placement, err := s.GetPlacement(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if placement.Status != models.PlacementStatusCompleted || placement.ConnectionInfo == nil {
		return nil, &models.InvalidRequestError{Message: "placement has no live game session"}
	}
	if !placement.HasPlayer(playerID) {
		return nil, &models.ForbiddenError{Message: "player is not part of this placement"}
	}
	sessionID, err := s.Gateway.CreatePlayerSession(ctx, placement.GameSessionARN, playerID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"connection":      fmt.Sprintf("%s:%d", placement.ConnectionInfo.IPAddress, placement.ConnectionInfo.Port),
		"playerSessionId": sessionID,
	}, nil
}

// ----- inbound gateway events -----

var placementEventStatus = map[string]string{
	models.PlacementEventFulfilled: models.PlacementStatusCompleted,
	models.PlacementEventCancelled: models.PlacementStatusCancelled,
	models.PlacementEventTimedOut:  models.PlacementStatusTimedOut,
	models.PlacementEventFailed:    models.PlacementStatusFailed,
}

// HandleEvent applies one inbound placement event. Unknown placements are
// accepted and dropped; the event may belong to another tenant or region, or
// the placement may simply have expired already.
func (s *PlacementService) HandleEvent(ctx context.Context, event *models.PlacementEvent) error {
	if s.AccountID != "" && event.Account != "" && event.Account != s.AccountID {
		log.Printf("Dropping placement event %s for foreign account %s", event.ID, event.Account)
		return nil
	}
	detail := &event.Detail
	status, ok := placementEventStatus[detail.Type]
	if !ok {
		log.Printf("Dropping placement event of unknown type %q", detail.Type)
		return nil
	}

	raw, err := s.KV.Get(ctx, models.PlacementKey(detail.PlacementID))
	if err != nil {
		return err
	}
	if raw == nil {
		log.Printf("Dropping %s for unknown placement %s", detail.Type, detail.PlacementID)
		return nil
	}

	var updated *models.MatchPlacement
	_, err = WithResource(ctx, s.Locks, s.KV, models.PlacementKey(detail.PlacementID), models.PlacementTTL, func(current *models.MatchPlacement, exists bool) (*models.MatchPlacement, error) {
		if !exists {
			return nil, nil
		}
		if current.Status != models.PlacementStatusPending {
			log.Printf("Ignoring %s for placement %s in status %s", detail.Type, detail.PlacementID, current.Status)
			return current, nil
		}
		current.Status = status
		current.GameSessionARN = detail.GameSessionARN
		if status == models.PlacementStatusCompleted {
			sessions := make(map[string]string, len(detail.PlacedPlayerSessions))
			for _, p := range detail.PlacedPlayerSessions {
				sessions[p.PlayerID] = p.PlayerSessionID
			}
			current.ConnectionInfo = &models.ConnectionInfo{
				IPAddress:      detail.IPAddress,
				Port:           detail.Port,
				PlayerSessions: sessions,
			}
		}
		updated = current
		return current, nil
	})
	if err != nil || updated == nil || updated.Status == models.PlacementStatusPending {
		return err
	}

	if updated.Status != models.PlacementStatusCompleted {
		// Free the participants for their next attempt.
		s.deletePointers(ctx, updated.PlayerIDs, updated.PlacementID)
	}
	if updated.LobbyID != "" {
		s.fanOutLobby(ctx, updated)
	} else {
		s.fanOutDirect(ctx, updated)
	}
	return nil
}

var placementLobbyStatus = map[string]string{
	models.PlacementStatusCompleted: models.LobbyStatusStarted,
	models.PlacementStatusCancelled: models.LobbyStatusCancelled,
	models.PlacementStatusTimedOut:  models.LobbyStatusTimedOut,
	models.PlacementStatusFailed:    models.LobbyStatusFailed,
}

// fanOutLobby pushes the outcome into the owning lobby and notifies every
// member individually: team members get their own join token, everyone else
// gets a spectator connection.
func (s *PlacementService) fanOutLobby(ctx context.Context, placement *models.MatchPlacement) {
	connection := ""
	if placement.ConnectionInfo != nil {
		connection = fmt.Sprintf("%s:%d", placement.ConnectionInfo.IPAddress, placement.ConnectionInfo.Port)
	}
	lobby, err := s.Lobbies.ApplyPlacementResult(ctx, placement.LobbyID, placement.PlacementID, placementLobbyStatus[placement.Status], connection)
	if err != nil {
		log.Printf("Failed to apply placement %s to lobby %s: %v", placement.PlacementID, placement.LobbyID, err)
		return
	}
	if lobby == nil {
		log.Printf("Placement %s no longer belongs to lobby %s, skipping fan-out", placement.PlacementID, placement.LobbyID)
		return
	}
	event := placementOutcomeEvent(placement.Status)
	for _, member := range lobby.Members {
		data := map[string]interface{}{
			"lobbyId":     lobby.LobbyID,
			"placementId": placement.PlacementID,
			"status":      lobby.Status,
		}
		if placement.Status == models.PlacementStatusCompleted {
			data["connection"] = connection
			if member.TeamName != "" && placement.ConnectionInfo != nil {
				data["playerSessionId"] = placement.ConnectionInfo.PlayerSessions[member.PlayerID]
			} else {
				data["spectator"] = true
			}
		}
		if err := s.Messages.PostToPlayer(ctx, member.PlayerID, placementQueue, event, data); err != nil {
			log.Printf("Failed to notify lobby member %s: %v", member.PlayerID, err)
		}
	}
}

// fanOutDirect notifies each participant of a party or solo placement with
// their own connection token.
func (s *PlacementService) fanOutDirect(ctx context.Context, placement *models.MatchPlacement) {
	event := placementOutcomeEvent(placement.Status)
	for _, playerID := range placement.PlayerIDs {
		data := map[string]interface{}{
			"placementId": placement.PlacementID,
			"status":      placement.Status,
		}
		if placement.Status == models.PlacementStatusCompleted && placement.ConnectionInfo != nil {
			data["connection"] = fmt.Sprintf("%s:%d", placement.ConnectionInfo.IPAddress, placement.ConnectionInfo.Port)
			data["playerSessionId"] = placement.ConnectionInfo.PlayerSessions[playerID]
		}
		if err := s.Messages.PostToPlayer(ctx, playerID, placementQueue, event, data); err != nil {
			log.Printf("Failed to notify participant %s: %v", playerID, err)
		}
	}
}

func placementOutcomeEvent(status string) string {
	switch status {
	case models.PlacementStatusCompleted:
		return models.EventMatchPlacementFulfilled
	case models.PlacementStatusCancelled:
		return models.EventMatchPlacementCancelled
	case models.PlacementStatusTimedOut:
		return models.EventMatchPlacementTimedOut
	default:
		return models.EventMatchPlacementFailed
	}
}

func (s *PlacementService) deletePointers(ctx context.Context, playerIDs []string, placementID string) {
	for _, id := range playerIDs {
		key := models.PlayerPlacementKey(id)
		swapped, err := s.KV.CompareAndSwap(ctx, CASPair{Key: key, Expect: []byte(placementID)})
		if err != nil {
			log.Printf("Failed to clear placement pointer for %s: %v", id, err)
		} else if !swapped {
			// The player already points elsewhere; leave it alone.
			continue
		}
	}
}

func (s *PlacementService) getPlacement(ctx context.Context, placementID string) (*models.MatchPlacement, error) {
	raw, err := s.KV.Get(ctx, models.PlacementKey(placementID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	placement := &models.MatchPlacement{}
	if err := unmarshalJSON(raw, placement); err != nil {
		return nil, err
	}
	return placement, nil
}
