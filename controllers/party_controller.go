package controllers

import (
	"net/http"
	"strconv"

	"arena_server/services"

	"github.com/gorilla/mux"
)

// PartyController handles HTTP requests for parties and invitations
type PartyController struct {
	PartyService *services.PartyService
}

// NewPartyController creates a new PartyController instance
func NewPartyController(partyService *services.PartyService) *PartyController {
	return &PartyController{PartyService: partyService}
}

// CreateInvite invites another player into the caller's party
func (pc *PartyController) CreateInvite(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var body struct {
		InviteeID string `json:"inviteeId"`
	}
	if !DecodeJSONBody(w, r, &body) {
		return
	}
	if body.InviteeID == "" {
		http.Error(w, "inviteeId is required", http.StatusBadRequest)
		return
	}
	invite, err := pc.PartyService.CreateInvite(r.Context(), playerID, body.InviteeID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, invite)
}

// AcceptInvite joins the caller to the inviting party
func (pc *PartyController) AcceptInvite(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	vars := mux.Vars(r)
	partyID := vars["partyId"]
	inviteID, err := strconv.ParseInt(vars["inviteId"], 10, 64)
	if playerID == "" || partyID == "" || err != nil {
		http.Error(w, "playerId, partyId and inviteId are required", http.StatusBadRequest)
		return
	}
	party, err := pc.PartyService.AcceptInvite(r.Context(), playerID, partyID, inviteID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, party)
}

// DeclineInvite rejects a pending invitation
func (pc *PartyController) DeclineInvite(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	vars := mux.Vars(r)
	partyID := vars["partyId"]
	inviteID, err := strconv.ParseInt(vars["inviteId"], 10, 64)
	if playerID == "" || partyID == "" || err != nil {
		http.Error(w, "playerId, partyId and inviteId are required", http.StatusBadRequest)
		return
	}
	if err := pc.PartyService.DeclineInvite(r.Context(), playerID, partyID, inviteID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "invite declined"})
}

// LeaveParty removes the caller from their party
func (pc *PartyController) LeaveParty(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	if err := pc.PartyService.LeaveParty(r.Context(), playerID); err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "left party"})
}

// GetParty returns the caller's current party
func (pc *PartyController) GetParty(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	party, err := pc.PartyService.GetParty(r.Context(), playerID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, party)
}
