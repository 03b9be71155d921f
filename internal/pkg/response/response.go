// Package response provides JSON response helpers for the OSB API handlers.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/cloud-gov/external-domain-broker/internal/pkg/brokererr"
)

// JSON writes a JSON response with the given status code. The body is
// encoded before any header is written so an encode failure can still
// surface as a clean 500.
func JSON(w http.ResponseWriter, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"InternalServerError","description":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// Error writes a broker error in its OSB wire shape.
func Error(w http.ResponseWriter, err error) {
	e := brokererr.As(err)
	JSON(w, e.StatusCode, e)
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Accepted writes a 202 Accepted response.
func Accepted(w http.ResponseWriter, data any) {
	JSON(w, http.StatusAccepted, data)
}
