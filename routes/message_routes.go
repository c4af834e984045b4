package routes

import (
	"arena_server/controllers"
	"arena_server/services"

	"github.com/gorilla/mux"
)

// RegisterMessageRoutes sets up routes for notification polling under /api/messages
func RegisterMessageRoutes(r *mux.Router, messageService *services.MessageService) {
	controller := controllers.NewMessageController(messageService)

	messageRouter := r.PathPrefix("/api/messages").Subrouter()

	messageRouter.HandleFunc("", controller.GetMessages).Methods("GET")
}
