package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/session"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status          string   `json:"status"`
	Uptime          string   `json:"uptime"`
	ConnectionState string   `json:"connection_state"`
	InRoom          bool     `json:"in_room"`
	UsersOnline     int      `json:"users_online"`
	Entries         int      `json:"entries"`
	Version         string   `json:"version,omitempty"`
	Timestamp       string   `json:"timestamp"`
	Details         *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	Identity   string  `json:"identity,omitempty"`
	Goroutines int     `json:"goroutines"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Source provides the session snapshot to report on.
type Source interface {
	View() session.View
}

// Handler serves the health check endpoint.
type Handler struct {
	startTime time.Time
	source    Source
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler.
func NewHandler(src Source, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		source:    src,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP reports ok while the relay connection is up and degraded (503)
// otherwise, so systemd and monitoring can alert on a stuck client.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v := h.source.View()

	status := "ok"
	httpCode := http.StatusOK
	if v.Status != lifecycle.Connected {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	resp := Response{
		Status:          status,
		Uptime:          time.Since(h.startTime).Round(time.Second).String(),
		ConnectionState: v.Status.String(),
		InRoom:          v.InRoom,
		UsersOnline:     len(v.Presence.Users),
		Entries:         len(v.Entries),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			Identity:   v.Identity,
			Goroutines: runtime.NumGoroutine(),
			MemoryMB:   float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
