package controllers

import (
	"net/http"

	"arena_server/services"
)

// MatchmakingController handles HTTP requests for matchmaking tickets
type MatchmakingController struct {
	FlexMatchService *services.FlexMatchService
}

// NewMatchmakingController creates a new MatchmakingController instance
func NewMatchmakingController(flexMatchService *services.FlexMatchService) *MatchmakingController {
	return &MatchmakingController{FlexMatchService: flexMatchService}
}

// StartMatchmaking submits (or refreshes) the caller's matchmaking ticket
func (mc *MatchmakingController) StartMatchmaking(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	ticket, err := mc.FlexMatchService.UpsertTicket(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, ticket)
}

// GetTicket returns the caller's current matchmaking ticket
func (mc *MatchmakingController) GetTicket(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	ticket, err := mc.FlexMatchService.GetTicket(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, ticket)
}

// StopMatchmaking cancels the caller's matchmaking ticket
func (mc *MatchmakingController) StopMatchmaking(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	status, err := mc.FlexMatchService.CancelTicket(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"status": status})
}

// UpdateAcceptance records the caller's accept/reject vote for a proposed match
func (mc *MatchmakingController) UpdateAcceptance(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body struct {
		TicketID string `json:"ticketId"`
		MatchID  string `json:"matchId"`
		Accept   bool   `json:"accept"`
	}
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	if body.TicketID == "" || body.MatchID == "" {
		http.Error(w, "ticketId and matchId are required", http.StatusBadRequest)
		return
	}
	if err := mc.FlexMatchService.UpdateAcceptance(r.Context(), playerID, body.TicketID, body.MatchID, body.Accept); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "acceptance recorded"})
}

// LeaveMatch marks the caller's completed match as left
func (mc *MatchmakingController) LeaveMatch(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	if err := mc.FlexMatchService.HandleMatchLeft(r.Context(), playerID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "match left"})
}

// ReportLatencies stores the caller's latest latency samples per region
func (mc *MatchmakingController) ReportLatencies(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body struct {
		Latencies map[string]int `json:"latencies"`
	}
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	if len(body.Latencies) == 0 {
		http.Error(w, "latencies are required", http.StatusBadRequest)
		return
	}
	if err := mc.FlexMatchService.ReportLatencies(r.Context(), playerID, body.Latencies); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "latencies recorded"})
}

// GetLatencyAverages returns the caller's rolling latency averages per region
func (mc *MatchmakingController) GetLatencyAverages(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	averages, err := mc.FlexMatchService.GetLatencyAverages(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, averages)
}
