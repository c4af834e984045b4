package routes

import (
	"arena_server/controllers"
	"arena_server/services"

	"github.com/gorilla/mux"
)

// RegisterMatchmakingRoutes sets up routes for matchmaking under /api/matchmaking
func RegisterMatchmakingRoutes(r *mux.Router, flexMatchService *services.FlexMatchService) {
	controller := controllers.NewMatchmakingController(flexMatchService)

	matchmakingRouter := r.PathPrefix("/api/matchmaking").Subrouter()

	matchmakingRouter.HandleFunc("/ticket", controller.StartMatchmaking).Methods("POST")
	matchmakingRouter.HandleFunc("/ticket", controller.GetTicket).Methods("GET")
	matchmakingRouter.HandleFunc("/ticket", controller.StopMatchmaking).Methods("DELETE")
	matchmakingRouter.HandleFunc("/acceptance", controller.UpdateAcceptance).Methods("POST")
	matchmakingRouter.HandleFunc("/match/leave", controller.LeaveMatch).Methods("POST")
	matchmakingRouter.HandleFunc("/latencies", controller.ReportLatencies).Methods("POST")
	matchmakingRouter.HandleFunc("/latencies", controller.GetLatencyAverages).Methods("GET")
}
