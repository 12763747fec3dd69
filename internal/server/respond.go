package server

import (
	"encoding/json"
	"net/http"
)

// problem is the JSON body of every error response.
type problem struct {
	Status int          `json:"status"`
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, msg string, fields ...fieldError) {
	writeJSON(w, status, problem{Status: status, Error: msg, Fields: fields})
}
