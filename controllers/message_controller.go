package controllers

import (
	"net/http"
	"strconv"

	"arena_server/models"
	"arena_server/services"
)

// MessageController handles polling reads of notification streams
type MessageController struct {
	MessageService *services.MessageService
}

// NewMessageController creates a new MessageController instance
func NewMessageController(messageService *services.MessageService) *MessageController {
	return &MessageController{MessageService: messageService}
}

// GetMessages returns the caller's notifications newer than ?after=<sequence>
func (mc *MessageController) GetMessages(w http.ResponseWriter, r *http.Request) {
	playerID := CallerID(r)
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "after must be an integer", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	messages, err := mc.MessageService.GetAfter(r.Context(), models.ExchangePlayers, playerID, after)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSONResponse(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
