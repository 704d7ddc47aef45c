package webui

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/cortexuvula/roomchat/internal/journal"
	"github.com/cortexuvula/roomchat/internal/render"
)

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime          string  `json:"uptime"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	ConnectionState string  `json:"connection_state"`
	Identity        string  `json:"identity,omitempty"`
	UsersOnline     int     `json:"users_online"`
	Entries         int     `json:"entries"`
	MemoryMB        float64 `json:"memory_mb"`
	Goroutines      int     `json:"goroutines"`
	Version         string  `json:"version"`
	BuildTime       string  `json:"build_time"`
	GitCommit       string  `json:"git_commit"`
}

func (ui *WebUI) handleStatus(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(ui.deps.StartTime)
	v := ui.deps.Session.View()

	resp := statusResponse{
		Uptime:          uptime.Round(time.Second).String(),
		UptimeSeconds:   uptime.Seconds(),
		ConnectionState: v.Status.String(),
		Identity:        v.Identity,
		UsersOnline:     len(v.Presence.Users),
		Entries:         len(v.Entries),
		MemoryMB:        float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:      runtime.NumGoroutine(),
		Version:         ui.deps.Version,
		BuildTime:       ui.deps.BuildTime,
		GitCommit:       ui.deps.GitCommit,
	}

	writeJSON(w, http.StatusOK, resp)
}

func (ui *WebUI) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ui.deps.Session.View())
}

func (ui *WebUI) handleTranscript(w http.ResponseWriter, r *http.Request) {
	page, err := render.HTML(ui.deps.Session.View())
	if err != nil {
		slog.Error("rendering transcript", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(page))
}

func (ui *WebUI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if ui.deps.Journal == nil {
		writeJSON(w, http.StatusOK, []journal.Record{})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var dir journal.Direction
	switch v := journal.Direction(r.URL.Query().Get("direction")); v {
	case journal.Inbound, journal.Outbound, journal.Lifecycle:
		dir = v
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			since = t
		}
	}

	records := ui.deps.Journal.Recent(limit, dir, since)
	if records == nil {
		records = []journal.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// configResponse is the JSON body for GET /api/v1/config.
type configResponse struct {
	Reloadable configReloadable `json:"reloadable"`
	ReadOnly   configReadOnly   `json:"read_only"`
}

type configReloadable struct {
	LogLevel          string `json:"log_level"`
	QuietWindow       string `json:"typing_quiet_window"`
	MessagesPerSecond int    `json:"messages_per_second"`
	RequestsPerMinute int    `json:"status_requests_per_minute"`
}

type configReadOnly struct {
	RelayURL             string `json:"relay_url"`
	Origin               string `json:"origin"`
	IdentityName         string `json:"identity_name,omitempty"`
	PersistentIdentity   bool   `json:"persistent_identity"`
	StatusAddress        string `json:"status_address"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	AuthRequired         bool   `json:"auth_required"`
}

func (ui *WebUI) handleConfig(w http.ResponseWriter, r *http.Request) {
	if ui.deps.GetConfig == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "config not available"})
		return
	}
	cfg := ui.deps.GetConfig()

	resp := configResponse{
		Reloadable: configReloadable{
			LogLevel:          cfg.Logging.Level,
			QuietWindow:       cfg.Typing.QuietWindow.String(),
			MessagesPerSecond: cfg.Relay.MessagesPerSecond,
			RequestsPerMinute: cfg.Status.RequestsPerMinute,
		},
		ReadOnly: configReadOnly{
			RelayURL:             cfg.Relay.URL,
			Origin:               cfg.Relay.Origin,
			IdentityName:         cfg.Identity.Name,
			PersistentIdentity:   cfg.Identity.StateDir != "",
			StatusAddress:        cfg.Status.ListenAddress,
			MaxReconnectAttempts: cfg.Relay.MaxReconnectAttempts,
			AuthRequired:         cfg.Status.AuthToken != "",
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (ui *WebUI) handleReload(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}

	if ui.deps.ReloadFunc == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reload not available"})
		return
	}

	if err := ui.deps.ReloadFunc(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// requireJSON checks that the Content-Type header is application/json.
// Returns false (and writes an error response) if the check fails.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Content-Type must be application/json"})
		return false
	}
	return true
}
