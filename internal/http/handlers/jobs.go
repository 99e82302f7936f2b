package handlers

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gurumnyang/dccon-exporter/internal/domain"
	"github.com/gurumnyang/dccon-exporter/internal/middleware"
	"github.com/gurumnyang/dccon-exporter/internal/queue"
)

// sessionHeader identifies the caller; the query parameter is the fallback
// for clients that cannot set headers.
const (
	sessionHeader     = "X-Session-Id"
	sessionQueryParam = "session_id"
)

func sessionFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(sessionHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(sessionQueryParam))
}

type createJobRequest struct {
	URL    string          `json:"url"`
	Resize json.RawMessage `json:"resize"`
}

// parseResize reads the resize option leniently: numbers and numeric strings
// count, anything else means no resizing.
func parseResize(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

// JobsCreate enqueues a new download job and answers immediately with the
// queued record.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	job, err := a.Queue.Create(sessionFromRequest(r), req.URL, queue.CreateOptions{Resize: parseResize(req.Resize)})
	if err != nil {
		a.queueError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, job)
}

// JobsList returns the caller's jobs in creation order.
func (a *App) JobsList(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.Queue.List(sessionFromRequest(r))
	if err != nil {
		a.queueError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, jobs)
}

// JobsGet returns one job; other sessions' jobs look exactly like missing ones.
func (a *App) JobsGet(w http.ResponseWriter, r *http.Request) {
	job, err := a.Queue.Get(sessionFromRequest(r), chi.URLParam(r, "job_id"))
	if err != nil {
		a.queueError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// JobsDownload streams the finished archive as an attachment.
func (a *App) JobsDownload(w http.ResponseWriter, r *http.Request) {
	archive, err := a.Queue.DownloadData(sessionFromRequest(r), chi.URLParam(r, "job_id"))
	if err != nil {
		a.queueError(w, r, err)
		return
	}
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": archive.Filename})
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(archive.Size))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive.Data)
}

// queueError maps domain errors onto the HTTP contract. Anything
// unclassified is logged with its request id and reported generically.
func (a *App) queueError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionRequired),
		errors.Is(err, domain.ErrURLRequired),
		errors.Is(err, domain.ErrInvalidPackageURL):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrJobNotFound):
		a.error(w, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrJobNotReady):
		a.error(w, http.StatusConflict, "not_ready", "job has not completed yet")
	default:
		a.Logger.Error().
			Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Msg("handlers: unexpected queue error")
		a.error(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
