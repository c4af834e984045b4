package routes

import (
	"arena_server/controllers"
	"arena_server/services"

	"github.com/gorilla/mux"
)

// RegisterLobbyRoutes sets up routes for lobbies under /api/lobbies
func RegisterLobbyRoutes(r *mux.Router, lobbyService *services.LobbyService) {
	controller := controllers.NewLobbyController(lobbyService)

	lobbyRouter := r.PathPrefix("/api/lobbies").Subrouter()

	lobbyRouter.HandleFunc("", controller.CreateLobby).Methods("POST")
	lobbyRouter.HandleFunc("/current", controller.GetLobby).Methods("GET")
	lobbyRouter.HandleFunc("/current", controller.UpdateLobby).Methods("PATCH")
	lobbyRouter.HandleFunc("/current/leave", controller.LeaveLobby).Methods("POST")
	lobbyRouter.HandleFunc("/current/member", controller.UpdateMember).Methods("PATCH")
	lobbyRouter.HandleFunc("/current/members/{targetId}", controller.KickMember).Methods("DELETE")
	lobbyRouter.HandleFunc("/{lobbyId}/join", controller.JoinLobby).Methods("POST")
}
