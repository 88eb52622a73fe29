package utils

import (
	"encoding/json"
	"net/http"

	"gas_oracle/internal/apperr"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status        int    `json:"status"`
	Error         string `json:"error"`
	Message       string `json:"message"`
	ServerMessage string `json:"serverMessage,omitempty"`
}

// MessageResponse is a plain informational body.
type MessageResponse struct {
	Message string `json:"message"`
}

// RespondWithError sends an error response
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorResponse{
		Status:  code,
		Error:   http.StatusText(code),
		Message: message,
	})
}

// RespondWithAppError renders a tagged error. Untagged errors are reported as 500.
func RespondWithAppError(w http.ResponseWriter, err error) {
	appErr := apperr.From(err)
	status := appErr.Kind.Status()
	RespondWithJSON(w, status, ErrorResponse{
		Status:        status,
		Error:         appErr.Kind.String(),
		Message:       appErr.Message,
		ServerMessage: appErr.ServerMessage(),
	})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
