package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/ambulance-dispatch/internal/db"
	"github.com/ukydev/ambulance-dispatch/internal/dispatch"
	"github.com/ukydev/ambulance-dispatch/internal/middleware"
	"github.com/ukydev/ambulance-dispatch/internal/models"
)

// JournalReader lists recorded dispatch events.
type JournalReader interface {
	List(ctx context.Context, f db.JournalFilter) ([]models.DispatchEvent, error)
}

// DispatchHandler exposes the dispatch service over HTTP.
type DispatchHandler struct {
	svc     *dispatch.Service
	journal JournalReader
	log     logrus.FieldLogger
}

// NewDispatchHandler wraps svc. journal may be nil.
func NewDispatchHandler(svc *dispatch.Service, journal JournalReader, log logrus.FieldLogger) *DispatchHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DispatchHandler{svc: svc, journal: journal, log: log}
}

func (h *DispatchHandler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "User context not found")
	}
	return actor, ok
}

func idParam(r *http.Request) models.ID {
	return models.ID(chi.URLParam(r, "id"))
}

func (h *DispatchHandler) ListAmbulances(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	status := models.AmbulanceStatus(r.URL.Query().Get("status"))
	if status == "ALL" {
		status = ""
	}
	list, err := h.svc.ListAmbulances(actor, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DispatchHandler) GetAmbulance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	a, err := h.svc.GetAmbulance(actor, idParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *DispatchHandler) CreateAmbulance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.CreateAmbulanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.svc.CreateAmbulance(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *DispatchHandler) SetAmbulanceStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.UpdateAmbulanceStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.svc.SetAmbulanceStatus(r.Context(), actor, idParam(r), req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *DispatchHandler) UpdateAmbulanceLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.UpdateAmbulanceLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.svc.UpdateAmbulanceLocation(r.Context(), actor, idParam(r), models.Location{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *DispatchHandler) RemoveAmbulance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.svc.RemoveAmbulance(r.Context(), actor, idParam(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DispatchHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListIncidents(actor, dispatch.IncidentView(r.URL.Query().Get("view")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DispatchHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	inc, err := h.svc.GetIncident(actor, idParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *DispatchHandler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.CreateIncidentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inc, err := h.svc.CreateIncident(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inc)
}

func (h *DispatchHandler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.UpdateIncidentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inc, err := h.svc.UpdateIncidentDescription(r.Context(), actor, idParam(r), req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (h *DispatchHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	list, err := h.svc.Candidates(actor, idParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DispatchHandler) Assign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.AssignAmbulanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := h.svc.AssignAmbulance(r.Context(), actor, idParam(r), req.AmbulanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *DispatchHandler) AutoAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	a, err := h.svc.AutoAssign(r.Context(), actor, idParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *DispatchHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rel, err := h.svc.ResolveIncident(r.Context(), actor, idParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (h *DispatchHandler) Stats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Stats(actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Journal lists dispatch events, newest first. Query parameters:
// incidentId, ambulanceId, since (RFC 3339) and limit.
func (h *DispatchHandler) Journal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeMessage(w, http.StatusNotFound, "Dispatch journal is not configured")
		return
	}
	q := r.URL.Query()
	f := db.JournalFilter{
		IncidentID:  models.ID(q.Get("incidentId")),
		AmbulanceID: models.ID(q.Get("ambulanceId")),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = since
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	events, err := h.journal.List(r.Context(), f)
	if err != nil {
		h.log.WithError(err).Error("Failed to read dispatch journal")
		writeMessage(w, http.StatusServiceUnavailable, "Dispatch journal unavailable")
		return
	}
	writeJSON(w, http.StatusOK, events)
}
