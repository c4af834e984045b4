package routes

import (
	"arena_server/controllers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up the top-level routes for the application
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", controllers.HealthCheckHandler).Methods("GET")
}
