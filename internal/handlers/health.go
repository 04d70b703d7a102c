package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/ambulance-dispatch/internal/syncer"
)

// SyncStatus reports the outcome of the last store refreshes.
type SyncStatus interface {
	Status() syncer.Status
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string        `json:"status"`
	Uptime    string        `json:"uptime"`
	Sync      syncer.Status `json:"sync"`
	StoreOK   bool          `json:"storeOk"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// HealthHandler reports liveness and how fresh the registry is.
type HealthHandler struct {
	sync      SyncStatus
	startedAt time.Time
	now       func() time.Time
}

func NewHealthHandler(sync SyncStatus) *HealthHandler {
	return &HealthHandler{sync: sync, startedAt: time.Now(), now: time.Now}
}

// Health always answers 200 while the process serves requests; a failing
// backing store shows up as status "degraded".
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := HealthResponse{
		Status:    "ok",
		Uptime:    now.Sub(h.startedAt).Round(time.Second).String(),
		StoreOK:   true,
		CheckedAt: now,
	}
	if h.sync != nil {
		resp.Sync = h.sync.Status()
		if resp.Sync.LastError != "" || resp.Sync.LastSuccess.IsZero() {
			resp.Status = "degraded"
			resp.StoreOK = false
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
