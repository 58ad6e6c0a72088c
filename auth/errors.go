package auth

import (
	"encoding/json"
	"net/http"
)

// --- Error Handling ---

type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

func RespondWithError(w http.ResponseWriter, code int, message string) {
	JSON(w, code, ErrorResponse{Error: message})
}

// RespondWithFailure writes a structured failure: a machine-readable reason
// and, when set, the view the client should fall back to.
func RespondWithFailure(w http.ResponseWriter, status int, reason, message, redirect string) {
	JSON(w, status, ErrorResponse{Error: message, Code: reason, Redirect: redirect})
}

func JSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		return
	}
}
