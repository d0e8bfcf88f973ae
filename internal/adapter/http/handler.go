package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
	"github.com/bnema/vidpipe/internal/infrastructure/logger"
	"github.com/bnema/vidpipe/internal/port"
	"github.com/bnema/vidpipe/internal/service"
)

const maxBodyBytes = 64 << 10

// playlistTimeout bounds a playlist expansion started from a request.
const playlistTimeout = 2 * time.Minute

type Pipeline interface {
	Add(locator string, quality domain.Quality) (string, error)
	AddPlaylist(ctx context.Context, locator string, quality domain.Quality) ([]string, error)
	Items() port.State
	Item(id string) (domain.Item, bool)
	Progress(id string) (service.Progress, bool)
	Counts() map[domain.Status]int
	Start(ctx context.Context) error
	Pause()
	Resume()
	Stop()
	Reset() error
	RetryFailed() int
	ClearFinished() int
	Running() bool
	Paused() bool
}

type Handlers struct {
	pipeline Pipeline
	// runCtx outlives requests; passes started over HTTP hang off it.
	runCtx context.Context
}

func NewHandlers(runCtx context.Context, pipeline Pipeline) *Handlers {
	return &Handlers{pipeline: pipeline, runCtx: runCtx}
}

type addRequest struct {
	Locator string `json:"locator"`
	Quality string `json:"quality"`
}

type itemsResponse struct {
	Running bool                     `json:"running"`
	Paused  bool                     `json:"paused"`
	Counts  map[string]int           `json:"counts"`
	Stages  map[string][]domain.Item `json:"stages"`
}

type itemResponse struct {
	Item     domain.Item       `json:"item"`
	Progress *service.Progress `json:"progress,omitempty"`
}

func (h *Handlers) AddItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, quality, ok := decodeAdd(w, r)
		if !ok {
			return
		}

		id, err := h.pipeline.Add(req.Locator, quality)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (h *Handlers) AddPlaylist() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, quality, ok := decodeAdd(w, r)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), playlistTimeout)
		defer cancel()

		ids, err := h.pipeline.AddPlaylist(ctx, req.Locator, quality)
		if err != nil {
			if errors.Is(err, service.ErrNoPlaylists) {
				writeError(w, http.StatusNotImplemented, err.Error())
				return
			}
			logger.Error.Printf("playlist %s: %v", logger.SanitizeForLog(req.Locator), err)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string][]string{"ids": ids})
	}
}

func (h *Handlers) ListItems() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := h.pipeline.Items()
		resp := itemsResponse{
			Running: h.pipeline.Running(),
			Paused:  h.pipeline.Paused(),
			Counts:  make(map[string]int, len(domain.Stages)),
			Stages:  make(map[string][]domain.Item, len(domain.Stages)),
		}
		for _, st := range domain.Stages {
			items := state.Stages[st]
			if items == nil {
				items = []domain.Item{}
			}
			resp.Stages[string(st)] = items
			resp.Counts[string(st)] = len(items)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (h *Handlers) GetItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		item, ok := h.pipeline.Item(id)
		if !ok {
			writeError(w, http.StatusNotFound, domain.ErrNotFound.Error())
			return
		}

		resp := itemResponse{Item: item}
		if p, ok := h.pipeline.Progress(id); ok {
			resp.Progress = &p
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Control dispatches POST /api/pipeline/{action}.
func (h *Handlers) Control() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := r.PathValue("action")
		switch action {
		case "start":
			if err := h.pipeline.Start(h.runCtx); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
		case "pause":
			h.pipeline.Pause()
			writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
		case "resume":
			h.pipeline.Resume()
			writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
		case "stop":
			h.pipeline.Stop()
			writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
		case "reset":
			if err := h.pipeline.Reset(); err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
		case "retry-failed":
			writeJSON(w, http.StatusOK, map[string]int{"count": h.pipeline.RetryFailed()})
		case "clear-finished":
			writeJSON(w, http.StatusOK, map[string]int{"count": h.pipeline.ClearFinished()})
		default:
			writeError(w, http.StatusNotFound, "unknown action")
		}
	}
}

func (h *Handlers) IssueTicket(authSvc AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]string{"ticket": authSvc.IssueTicket()})
	}
}

func decodeAdd(w http.ResponseWriter, r *http.Request) (addRequest, domain.Quality, bool) {
	var req addRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return req, "", false
	}

	if req.Quality == "" {
		return req, "", true
	}
	quality, err := domain.ParseQuality(req.Quality)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	return req, quality, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidLocator), errors.Is(err, domain.ErrInvalidQuality):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
