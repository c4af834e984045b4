package routes

import (
	"arena_server/controllers"
	"arena_server/services"

	"github.com/gorilla/mux"
)

// RegisterPartyRoutes sets up routes for parties under /api/parties
func RegisterPartyRoutes(r *mux.Router, partyService *services.PartyService) {
	controller := controllers.NewPartyController(partyService)

	partyRouter := r.PathPrefix("/api/parties").Subrouter()

	partyRouter.HandleFunc("/current", controller.GetParty).Methods("GET")
	partyRouter.HandleFunc("/current/leave", controller.LeaveParty).Methods("POST")
	partyRouter.HandleFunc("/invites", controller.CreateInvite).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/invites/{inviteId}/accept", controller.AcceptInvite).Methods("POST")
	partyRouter.HandleFunc("/{partyId}/invites/{inviteId}/decline", controller.DeclineInvite).Methods("POST")
}
