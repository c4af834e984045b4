package controllers

import (
	"net/http"

	"arena_server/services"
)

// PlacementController handles HTTP requests for match placements
type PlacementController struct {
	PlacementService *services.PlacementService
}

// NewPlacementController creates a new PlacementController instance
func NewPlacementController(placementService *services.PlacementService) *PlacementController {
	return &PlacementController{PlacementService: placementService}
}

type placementBody struct {
	QueueName  string `json:"queueName"`
	MapName    string `json:"mapName"`
	MaxPlayers int    `json:"maxPlayers"`
	CustomData string `json:"customData"`
}

func (b placementBody) toRequest() services.PlacementRequest {
	return services.PlacementRequest{
		QueueName:  b.QueueName,
		MapName:    b.MapName,
		MaxPlayers: b.MaxPlayers,
		CustomData: b.CustomData,
	}
}

// StartPlayerPlacement requests a game session for the caller alone
func (pc *PlacementController) StartPlayerPlacement(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body placementBody
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	placement, err := pc.PlacementService.StartPlayerPlacement(r.Context(), playerID, body.toRequest())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, placement)
}

// StartPartyPlacement requests a game session for the caller's whole party
func (pc *PlacementController) StartPartyPlacement(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body placementBody
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	placement, err := pc.PlacementService.StartPartyPlacement(r.Context(), playerID, body.toRequest())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, placement)
}

// StartLobbyPlacement requests a game session for the caller's lobby (host only)
func (pc *PlacementController) StartLobbyPlacement(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body placementBody
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	placement, err := pc.PlacementService.StartLobbyPlacement(r.Context(), playerID, body.toRequest())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, placement)
}

// StopPlacement cancels the caller's pending placement
func (pc *PlacementController) StopPlacement(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	if err := pc.PlacementService.StopPlacement(r.Context(), playerID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "placement cancelled"})
}

// GetPlacement returns the caller's current placement
func (pc *PlacementController) GetPlacement(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	placement, err := pc.PlacementService.GetPlacement(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, placement)
}

// GetPlayerConnection creates a player session on the placed game session
func (pc *PlacementController) GetPlayerConnection(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	connection, err := pc.PlacementService.GetPlayerConnection(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, connection)
}
