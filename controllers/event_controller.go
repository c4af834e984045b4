package controllers

import (
	"log"
	"net/http"

	"arena_server/models"
	"arena_server/services"
)

// EventController receives matchmaking and placement events forwarded from
// the cloud event bus. Handlers always return 200 for events about unknown
// entities so the bus does not retry stale deliveries forever.
type EventController struct {
	FlexMatchService *services.FlexMatchService
	PlacementService *services.PlacementService
}

// NewEventController creates a new EventController instance
func NewEventController(flexMatchService *services.FlexMatchService, placementService *services.PlacementService) *EventController {
	return &EventController{FlexMatchService: flexMatchService, PlacementService: placementService}
}

// HandleFlexMatchEvent processes a matchmaking event notification
func (ec *EventController) HandleFlexMatchEvent(w http.ResponseWriter, r *http.Request) {
	var event models.FlexMatchEvent
	if !DecodeJSONBody(w, r, &event) {
		return
	}
	if err := ec.FlexMatchService.HandleEvent(r.Context(), &event); err != nil {
		log.Printf("❌ FlexMatch event %s failed: %v", event.Detail.Type, err)
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "event processed"})
}

// HandlePlacementEvent processes a game session placement event notification
func (ec *EventController) HandlePlacementEvent(w http.ResponseWriter, r *http.Request) {
	var event models.PlacementEvent
	if !DecodeJSONBody(w, r, &event) {
		return
	}
	if err := ec.PlacementService.HandleEvent(r.Context(), &event); err != nil {
		log.Printf("❌ Placement event %s failed: %v", event.Detail.Type, err)
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "event processed"})
}
