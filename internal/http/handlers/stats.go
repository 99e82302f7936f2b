package handlers

import (
	"net/http"
)

// Stats reports aggregate queue counts for monitoring.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Queue.Stats())
}
