package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexuvula/roomchat/internal/config"
	"github.com/cortexuvula/roomchat/internal/health"
	"github.com/cortexuvula/roomchat/internal/journal"
	"github.com/cortexuvula/roomchat/internal/lifecycle"
	"github.com/cortexuvula/roomchat/internal/logging"
	"github.com/cortexuvula/roomchat/internal/metrics"
	"github.com/cortexuvula/roomchat/internal/security"
	"github.com/cortexuvula/roomchat/internal/session"
	"github.com/cortexuvula/roomchat/internal/webui"
)

const (
	journalCapacity = 1000
	shutdownTimeout = 5 * time.Second
)

// entryLogger logs every transcript row and state change once.
type entryLogger struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	status lifecycle.State
}

func newEntryLogger() *entryLogger {
	return &entryLogger{seen: make(map[string]struct{})}
}

func (l *entryLogger) observe(v session.View) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v.Status != l.status {
		slog.Info("connection state changed", "from", l.status.String(), "to", v.Status.String())
		l.status = v.Status
	}

	current := make(map[string]struct{}, len(v.Entries))
	for _, e := range v.Entries {
		current[e.ID] = struct{}{}
		if _, ok := l.seen[e.ID]; ok {
			continue
		}
		if e.Notice {
			slog.Info("notice", "text", e.Body, "at", e.At)
		} else {
			slog.Info("message", "author", e.Author, "body", e.Body, "self", e.Self, "at", e.At)
		}
	}
	l.seen = current
}

func runWatch(configPath, name string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	lj := logging.Setup(cfg.Logging, os.Stderr)
	defer func() {
		if lj != nil {
			lj.Close()
		}
	}()

	slog.Info("starting roomchat watch",
		"version", Version,
		"relay", cfg.Relay.URL,
		"status", cfg.Status.ListenAddress,
	)

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	j := journal.New(journalCapacity)
	e, err := newEngine(cfg, j, m)
	if err != nil {
		return err
	}
	e.sess.OnUpdate(newEntryLogger().observe)

	limiter := security.NewRateLimiter(cfg.Status.RequestsPerMinute)
	defer limiter.Stop()

	var cfgMu sync.Mutex
	getConfig := func() *config.Config {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		return cfg
	}

	reload := func() error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("reloading config: %w", err)
		}
		for _, w := range config.IsReloadSafe(getConfig(), newCfg) {
			slog.Warn("config reload warning", "warning", w)
		}

		cfgMu.Lock()
		cfg = cfg.ApplyReloadableFields(newCfg)
		current := cfg
		cfgMu.Unlock()

		prev := lj
		lj = logging.Setup(current.Logging, os.Stderr)
		if prev != nil && prev != lj {
			prev.Close()
		}
		e.sess.SetQuietWindow(current.Typing.QuietWindow)
		e.tr.SetMessagesPerSecond(current.Relay.MessagesPerSecond)
		limiter.UpdateRate(current.Status.RequestsPerMinute)

		slog.Info("config reloaded successfully")
		return nil
	}

	var statusServer *http.Server
	if cfg.Status.Enabled {
		deps := webui.Dependencies{
			Session:     e.sess,
			Journal:     j,
			Health:      health.NewHandler(e.sess, Version, cfg.Status.Detailed),
			MetricsPath: cfg.Monitoring.MetricsEndpoint,
			Version:     Version,
			BuildTime:   BuildTime,
			GitCommit:   GitCommit,
			StartTime:   time.Now(),
			ReloadFunc:  serialized(reload),
			GetConfig:   getConfig,
			AuthToken:   cfg.Status.AuthToken,
			Limiter:     limiter,
		}
		if m != nil {
			deps.Metrics = promhttp.Handler()
		}
		statusServer = &http.Server{
			Addr:              cfg.Status.ListenAddress,
			Handler:           webui.New(deps).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("status listener started", "address", cfg.Status.ListenAddress)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status server error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if name == "" {
		name = cfg.Identity.Name
	}
	e.start(ctx, name)

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat every 15s for a 30s WatchdogSec
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	hup := serialized(reload)
	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			if err := hup(); err != nil {
				slog.Error("config reload failed", "error", err)
			}

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal", "signal", sig.String())
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			if statusServer != nil {
				sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
				statusServer.Shutdown(sctx)
				scancel()
			}
			e.shutdown()
			cancel()

			slog.Info("shutdown complete")
			return nil
		}
	}
	return nil
}

var reloadMu sync.Mutex

// serialized keeps SIGHUP and HTTP reloads from running at the same time.
func serialized(fn func() error) func() error {
	return func() error {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		return fn()
	}
}
