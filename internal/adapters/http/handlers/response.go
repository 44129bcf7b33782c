// Package handlers agrupa os handlers HTTP da API.
package handlers

import (
	"encoding/json"
	"net/http"
)

type errorResponse struct {
	Detail any `json:"detail"`
}

// validationIssue segue o formato {loc, msg, type} usado nos erros 422.
type validationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// NotFound e MethodNotAllowed mantêm o envelope {detail} também para rotas desconhecidas.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeDetail(w, http.StatusNotFound, "Not Found")
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}
