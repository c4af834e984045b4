package controllers

import (
	"net/http"

	"arena_server/services"

	"github.com/gorilla/mux"
)

// LobbyController handles HTTP requests for game lobbies
type LobbyController struct {
	LobbyService *services.LobbyService
}

// NewLobbyController creates a new LobbyController instance
func NewLobbyController(lobbyService *services.LobbyService) *LobbyController {
	return &LobbyController{LobbyService: lobbyService}
}

type lobbySettingsBody struct {
	LobbyName    string   `json:"lobbyName"`
	MapName      string   `json:"mapName"`
	TeamCapacity int      `json:"teamCapacity"`
	TeamNames    []string `json:"teamNames"`
}

func (b lobbySettingsBody) toSettings() services.LobbySettings {
	return services.LobbySettings{
		LobbyName:    b.LobbyName,
		MapName:      b.MapName,
		TeamCapacity: b.TeamCapacity,
		TeamNames:    b.TeamNames,
	}
}

// CreateLobby creates a new lobby hosted by the caller
func (lc *LobbyController) CreateLobby(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body lobbySettingsBody
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	lobby, err := lc.LobbyService.CreateLobby(r.Context(), playerID, body.toSettings())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, lobby)
}

// JoinLobby adds the caller to an existing lobby
func (lc *LobbyController) JoinLobby(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	lobbyID := mux.Vars(r)["lobbyId"]
	if playerID == "" || lobbyID == "" {
		http.Error(w, "playerId and lobbyId are required", http.StatusBadRequest)
		return
	}
	lobby, err := lc.LobbyService.JoinLobby(r.Context(), playerID, lobbyID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, lobby)
}

// LeaveLobby removes the caller from their lobby
func (lc *LobbyController) LeaveLobby(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	if err := lc.LobbyService.LeaveLobby(r.Context(), playerID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "left lobby"})
}

// KickMember removes another member from the caller's lobby (host only)
func (lc *LobbyController) KickMember(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	targetID := mux.Vars(r)["targetId"]
	if playerID == "" || targetID == "" {
		http.Error(w, "playerId and targetId are required", http.StatusBadRequest)
		return
	}
	if err := lc.LobbyService.KickMember(r.Context(), playerID, targetID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "member kicked"})
}

// UpdateLobby changes lobby settings (host only, idle lobbies only)
func (lc *LobbyController) UpdateLobby(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body lobbySettingsBody
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	lobby, err := lc.LobbyService.UpdateLobby(r.Context(), playerID, body.toSettings())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, lobby)
}

// UpdateMember changes the caller's team assignment or ready flag
func (lc *LobbyController) UpdateMember(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body struct {
		TeamName string `json:"teamName"`
		Ready    bool   `json:"ready"`
	}
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	lobby, err := lc.LobbyService.UpdateMember(r.Context(), playerID, body.TeamName, body.Ready)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, lobby)
}

// GetLobby returns the caller's current lobby
func (lc *LobbyController) GetLobby(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	lobby, err := lc.LobbyService.GetLobby(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, lobby)
}
