// Package response writes JSON bodies for the HTTP API. Success bodies are
// endpoint specific; every error body has the shape {"error": "<message>"}.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorBody struct {
	Error string `json:"error"`
}

// JSON writes v with status 200.
func JSON(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

// Created writes v with status 201.
func Created(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusCreated, v)
}

// Status writes v with an arbitrary status.
func Status(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

// Error writes {"error": message} with the given status.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response body", "error", err)
	}
}
