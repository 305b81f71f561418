package server

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform response shape for the HTTP surface.
type envelope struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Status  int         `json:"status"`
}

func respond(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Message: message, Data: data, Status: status})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, message, nil)
}
