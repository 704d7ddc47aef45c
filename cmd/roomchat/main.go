package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cortexuvula/roomchat/internal/config"
	"github.com/cortexuvula/roomchat/internal/identity"
	"github.com/cortexuvula/roomchat/internal/journal"
	"github.com/cortexuvula/roomchat/internal/metrics"
	"github.com/cortexuvula/roomchat/internal/protocol"
	"github.com/cortexuvula/roomchat/internal/session"
	"github.com/cortexuvula/roomchat/internal/setup"
	"github.com/cortexuvula/roomchat/internal/transport"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomchat",
		Short: "Realtime chat client for a shared relay room",
	}

	var configPath string
	var name string
	var verbose bool

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the room in an interactive terminal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(configPath, name)
		},
	}
	chatCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	chatCmd.Flags().StringVarP(&name, "name", "n", "", "Join as this name (overrides identity.name)")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Observe the room headlessly and serve the status listener",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(configPath, name, verbose)
		},
	}
	watchCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	watchCmd.Flags().StringVarP(&name, "name", "n", "", "Join as this name (overrides identity.name)")
	watchCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("roomchat %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without connecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Relay: %s\n", cfg.Relay.URL)
			fmt.Printf("  Typing quiet window: %s\n", cfg.Typing.QuietWindow)
			if cfg.Identity.StateDir != "" {
				fmt.Printf("  Identity store: %s\n", cfg.Identity.StateDir)
			} else {
				fmt.Printf("  Identity store: memory\n")
			}
			if cfg.Status.Enabled {
				fmt.Printf("  Status: %s\n", cfg.Status.ListenAddress)
			}
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8091/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/roomchat/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(chatCmd, watchCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// engine is a session wired to a relay transport.
type engine struct {
	sess       *session.Session
	tr         *transport.Client
	closeStore func() error
}

// newEngine builds the session and its transport. j and m may be nil.
func newEngine(cfg *config.Config, j *journal.Journal, m *metrics.Metrics) (*engine, error) {
	store, closeStore, err := identity.Open(cfg.Identity.StateDir)
	if err != nil {
		return nil, fmt.Errorf("opening identity store: %w", err)
	}

	var sess *session.Session
	handler := func(ev protocol.Event) { sess.Handle(ev) }
	if j != nil {
		handler = j.Tap(handler)
	}

	tr := transport.New(cfg.Relay, handler, transport.WithMetrics(m))

	var emitter session.Emitter = tr
	if j != nil {
		emitter = j.Wrap(tr)
	}
	sess = session.New(session.Options{
		Emitter:     emitter,
		Store:       store,
		QuietWindow: cfg.Typing.QuietWindow,
		Metrics:     m,
	})

	return &engine{sess: sess, tr: tr, closeStore: closeStore}, nil
}

// start connects to the relay and joins under name, the persisted identity,
// or not at all.
func (e *engine) start(ctx context.Context, name string) {
	e.sess.Open()
	if name = strings.TrimSpace(name); name != "" {
		e.sess.Login(name)
	} else {
		e.sess.Restore()
	}
	e.tr.Start(ctx)
}

// shutdown leaves the room before the transport closes so the leave is
// flushed.
func (e *engine) shutdown() {
	e.sess.Close()
	if err := e.tr.Close(); err != nil {
		slog.Warn("closing transport", "error", err)
	}
	if err := e.closeStore(); err != nil {
		slog.Warn("closing identity store", "error", err)
	}
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=roomchat - headless chat room observer
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=roomchat
Group=roomchat
ExecStartPre=/usr/local/bin/roomchat validate --config /etc/roomchat/config.yaml
ExecStart=/usr/local/bin/roomchat watch --config /etc/roomchat/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/roomchat
LogsDirectory=roomchat
StateDirectory=roomchat
MemoryMax=64M

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=roomchat

[Install]
WantedBy=multi-user.target
`)
}
