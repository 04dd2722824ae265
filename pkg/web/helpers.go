package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

func RespondJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}

	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("Error encoding response to JSON", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

func RespondError(w http.ResponseWriter, logger *slog.Logger, status int, message string) {
	RespondJSON(w, logger, status, map[string]string{"error": message})
}

// RespondValidationError writes a 400 with per-field failures when err is a validator error,
// and a generic bad request otherwise.
func RespondValidationError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		errorResponse := make(map[string]string, len(validationErrors))
		for _, fieldErr := range validationErrors {
			errorResponse[fieldErr.Field()] = "failed on rule: " + fieldErr.Tag()
		}
		logger.Warn("Validation errors occurred", "errors", errorResponse)
		RespondJSON(w, logger, http.StatusBadRequest, map[string]any{"validation_errors": errorResponse})
		return
	}
	logger.Error("Error validating request body", "error", err)
	RespondError(w, logger, http.StatusBadRequest, "Invalid request body")
}

// ParseProductID extracts the numeric product ID from the {id} path parameter.
// Returns the ID and a boolean indicating success.
func ParseProductID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, logger, http.StatusBadRequest, fmt.Sprintf("Invalid ID: %s", raw))
		return 0, false
	}
	return id, true
}

// GetSessionID retrieves the session ID placed in the context by SessionMiddleware.
func GetSessionID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (string, bool) {
	sessionID := SessionIDFromContext(r.Context())
	if sessionID == "" {
		RespondError(w, logger, http.StatusBadRequest, "Missing session ID")
		return "", false
	}
	return sessionID, true
}

// GetUserID retrieves the numeric user ID placed in the context by one of the auth middlewares.
func GetUserID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (int64, bool) {
	raw := UserIDFromContext(r.Context())
	userID, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || userID <= 0 {
		logger.WarnContext(r.Context(), "Missing or invalid user ID", "user_id", raw)
		RespondError(w, logger, http.StatusUnauthorized, "Unauthorized: Missing or invalid user ID")
		return 0, false
	}
	return userID, true
}
