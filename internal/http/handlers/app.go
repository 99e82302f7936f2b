package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gurumnyang/dccon-exporter/internal/infra"
	"github.com/gurumnyang/dccon-exporter/internal/queue"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Logger *infra.Logger
	Queue  *queue.Service
}

func NewApp(logger *infra.Logger, q *queue.Service) *App {
	return &App{Logger: logger, Queue: q}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: code, Message: message})
}
