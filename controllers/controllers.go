package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"arena_server/models"
)

// HealthCheckHandler provides a basic health check
func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSONResponse(w, http.StatusOK, map[string]string{"message": "Server is running!"})
}

// WriteJSONResponse writes a JSON payload with the given status code
func WriteJSONResponse(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			log.Printf("❌ Failed to encode response: %v", err)
		}
	}
}

// WriteServiceError maps service-level errors to HTTP status codes
func WriteServiceError(w http.ResponseWriter, err error) {
	var (
		notFound   *models.NotFoundError
		unauth     *models.UnauthorizedError
		forbidden  *models.ForbiddenError
		invalid    *models.InvalidRequestError
		conflict   *models.ConflictError
		tryLater   *models.TryLaterError
		gameliftCE *models.GameliftClientError
	)
	switch {
	case errors.As(err, &notFound):
		http.Error(w, notFound.Error(), http.StatusNotFound)
	case errors.As(err, &unauth):
		http.Error(w, unauth.Error(), http.StatusUnauthorized)
	case errors.As(err, &forbidden):
		http.Error(w, forbidden.Error(), http.StatusForbidden)
	case errors.As(err, &invalid):
		http.Error(w, invalid.Error(), http.StatusBadRequest)
	case errors.As(err, &conflict):
		http.Error(w, conflict.Error(), http.StatusConflict)
	case errors.As(err, &tryLater):
		http.Error(w, tryLater.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &gameliftCE):
		http.Error(w, gameliftCE.Error(), http.StatusBadGateway)
	default:
		log.Printf("❌ Unhandled service error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// CallerID extracts the authenticated player id forwarded by the gateway.
// Falls back to the playerId query parameter for local development.
func CallerID(r *http.Request) string {
	if id := r.Header.Get("X-Player-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("playerId")
}

// DecodeJSONBody decodes the request body into dst, reporting a 400 on failure
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
