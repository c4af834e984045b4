package routes

import (
	"arena_server/controllers"
	"arena_server/services"

	"github.com/gorilla/mux"
)

// RegisterEventRoutes sets up webhook routes for cloud event deliveries under /api/events
func RegisterEventRoutes(r *mux.Router, flexMatchService *services.FlexMatchService, placementService *services.PlacementService) {
	controller := controllers.NewEventController(flexMatchService, placementService)

	eventRouter := r.PathPrefix("/api/events").Subrouter()

	eventRouter.HandleFunc("/matchmaking", controller.HandleFlexMatchEvent).Methods("POST")
	eventRouter.HandleFunc("/placement", controller.HandlePlacementEvent).Methods("POST")
}
