package routes

import (
	"arena_server/controllers"
	"arena_server/services"

	"github.com/gorilla/mux"
)

// RegisterPlacementRoutes sets up routes for match placements under /api/placements
func RegisterPlacementRoutes(r *mux.Router, placementService *services.PlacementService) {
	controller := controllers.NewPlacementController(placementService)

	placementRouter := r.PathPrefix("/api/placements").Subrouter()

	placementRouter.HandleFunc("/player", controller.StartPlayerPlacement).Methods("POST")
	placementRouter.HandleFunc("/party", controller.StartPartyPlacement).Methods("POST")
	placementRouter.HandleFunc("/lobby", controller.StartLobbyPlacement).Methods("POST")
	placementRouter.HandleFunc("/current", controller.GetPlacement).Methods("GET")
	placementRouter.HandleFunc("/current", controller.StopPlacement).Methods("DELETE")
	placementRouter.HandleFunc("/current/connection", controller.GetPlayerConnection).Methods("GET")
}
