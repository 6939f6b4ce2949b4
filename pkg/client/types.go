package client

import (
	"encoding/json"
	"time"
)

// StartResponse is returned by a successful start.
type StartResponse struct {
	Name string `json:"name"`
	Port int    `json:"port"`
	URL  string `json:"url"`
}

type listResponse struct {
	Names []string `json:"names"`
}

type reconcileRequest struct {
	Names []string `json:"names"`
}

// ReconcileResponse maps each started name to its URL. Error is set when
// some names could not be reconciled; Servers still holds the rest.
type ReconcileResponse struct {
	Servers map[string]string `json:"servers"`
	Error   string            `json:"error,omitempty"`
}

// Artifact is one request recorded by a server.
type Artifact struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Body       string            `json:"body,omitempty"`
	JSON       json.RawMessage   `json:"json,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Token is a bearer token issued by the control API.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
