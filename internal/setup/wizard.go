// Package setup implements the interactive `roomchat setup` wizard that
// writes a config file.
package setup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"gopkg.in/yaml.v3"

	"github.com/cortexuvula/roomchat/internal/config"
)

const (
	defaultConfigPath   = "/etc/roomchat/config.yaml"
	defaultSystemState  = "/var/lib/roomchat"
	defaultStatusPort   = "8091"
	serviceName         = "roomchat"
	relayCheckTimeout   = 3 * time.Second
	configHeaderComment = "# roomchat configuration\n# Generated by: roomchat setup\n\n"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string                  // Override default config path
	CheckRelay func(io.Writer, string) // Override relay check (for testing)
	StateDir   string                  // Override the suggested identity state dir
	// StartService overrides the systemd start step (for testing).
	StartService func(io.Writer) error
}

// RunWizard runs the interactive setup wizard.
// It takes io.Reader/io.Writer for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// Check if running as root; fall back to local config if not
	isRoot := os.Geteuid() == 0
	if !isRoot && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo roomchat setup\n\n")
	}

	fmt.Fprintln(out, "roomchat Setup")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)

	cfg := config.DefaultConfig()

	// Step 1: Relay URL
	cfg.Relay.URL = prompt(scanner, out,
		fmt.Sprintf("Relay URL [%s]: ", cfg.Relay.URL),
		cfg.Relay.URL)

	u, err := url.Parse(cfg.Relay.URL)
	if err != nil || u.Host == "" || !knownScheme(u.Scheme) {
		fmt.Fprintf(out, "  WARNING: %q may not be a valid relay URL (expected ws://, wss://, http:// or https://)\n\n", cfg.Relay.URL)
	} else {
		relayCheck := checkRelay
		if opts.CheckRelay != nil {
			relayCheck = opts.CheckRelay
		}
		relayCheck(out, cfg.Relay.URL)
	}

	// Step 2: Origin
	defaultOrigin := originFor(u, cfg.Relay.Origin)
	cfg.Relay.Origin = prompt(scanner, out,
		fmt.Sprintf("Origin header [%s]: ", defaultOrigin),
		defaultOrigin)

	// Step 3: Display name
	cfg.Identity.Name = prompt(scanner, out,
		"Display name (leave empty to choose at startup): ", "")

	// Step 4: Persistent identity
	remember := prompt(scanner, out,
		"Remember the name between runs? [y/N]: ", "n")
	if strings.HasPrefix(strings.ToLower(remember), "y") {
		defaultDir := opts.StateDir
		if defaultDir == "" {
			defaultDir = defaultStateDir(isRoot)
		}
		cfg.Identity.StateDir = prompt(scanner, out,
			fmt.Sprintf("Identity state directory [%s]: ", defaultDir),
			defaultDir)
	}

	// Step 5: Status port
	statusPort := promptPort(scanner, out,
		fmt.Sprintf("Status listener port [%s]: ", defaultStatusPort),
		defaultStatusPort)
	cfg.Status.ListenAddress = net.JoinHostPort("127.0.0.1", statusPort)

	if reason := checkPortAvailable("127.0.0.1", statusPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", statusPort, reason)
	}

	// Step 6: Metrics
	metricsAnswer := prompt(scanner, out,
		"Expose Prometheus metrics on the status listener? [y/N]: ", "n")
	cfg.Monitoring.MetricsEnabled = strings.HasPrefix(strings.ToLower(metricsAnswer), "y")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid answers: %w", err)
	}

	// Step 7: Check for existing config
	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	// Step 8: Write config
	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	content, err := generateConfig(cfg)
	if err != nil {
		return err
	}
	if err := writeConfig(configPath, content, isRoot, out); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	// Step 9: Validate the written config
	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	// Step 10: Offer to start the watch service (Linux + root only)
	start := opts.StartService
	if start == nil && isRoot && isSystemdAvailable() {
		start = startSystemdService
	}
	if start != nil {
		fmt.Fprintln(out)
		startService := prompt(scanner, out,
			"Start roomchat watch service now? [Y/n]: ", "y")
		if strings.HasPrefix(strings.ToLower(startService), "y") {
			if err := start(out); err != nil {
				fmt.Fprintf(out, "  WARNING: Failed to start service: %v\n", err)
				fmt.Fprintln(out, "  You can start it manually: sudo systemctl start roomchat")
			}
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:       %s\n", configPath)
	fmt.Fprintf(out, "  Relay:        %s\n", cfg.Relay.URL)
	fmt.Fprintf(out, "  Status:       http://%s/health\n", cfg.Status.ListenAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintln(out, "  Chat:           roomchat chat --config "+configPath)
	fmt.Fprintln(out, "  Validate:       roomchat validate --config "+configPath)
	fmt.Fprintf(out, "  Check health:   curl http://%s/health\n", cfg.Status.ListenAddress)

	return nil
}

// prompt displays a message and reads a line from the scanner.
// Returns defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
// Returns defaultVal on empty/EOF input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

func knownScheme(scheme string) bool {
	switch scheme {
	case "ws", "wss", "http", "https":
		return true
	}
	return false
}

// originFor derives an http(s) origin from the relay URL.
func originFor(u *url.URL, fallback string) string {
	if u == nil || u.Host == "" {
		return fallback
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func defaultStateDir(isRoot bool) string {
	if isRoot {
		return defaultSystemState
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "roomchat")
	}
	return "./state"
}

// checkRelay performs a WebSocket handshake against the relay.
func checkRelay(out io.Writer, relayURL string) {
	ctx, cancel := context.WithTimeout(context.Background(), relayCheckTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, toWS(relayURL), &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: relayCheckTimeout},
	})
	if err != nil {
		fmt.Fprintf(out, "  WARNING: Relay at %s is not reachable: %v\n", relayURL, err)
		fmt.Fprintln(out, "  (This is OK if the relay is not running yet)")
		fmt.Fprintln(out)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "setup check")
	fmt.Fprintf(out, "  Relay at %s is reachable.\n\n", relayURL)
}

func toWS(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// checkPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func checkPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return "permission denied (try sudo or a port >= 1024)"
		}
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

// isSystemdAvailable checks if systemctl is available.
func isSystemdAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// startSystemdService starts (or restarts) the roomchat watch service.
func startSystemdService(out io.Writer) error {
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := exec.Command("systemctl", "restart", serviceName).Run(); err != nil {
		if err := exec.Command("systemctl", "start", serviceName).Run(); err != nil {
			return err
		}
	}

	time.Sleep(2 * time.Second)
	output, err := exec.Command("systemctl", "is-active", serviceName).Output()
	if err != nil {
		return fmt.Errorf("service did not start (status: %s)", strings.TrimSpace(string(output)))
	}
	status := strings.TrimSpace(string(output))
	if status == "active" {
		fmt.Fprintln(out, "  Service started successfully.")
	} else {
		fmt.Fprintf(out, "  Service status: %s\n", status)
	}
	return nil
}

// generateConfig renders cfg as YAML under a short header.
func generateConfig(cfg *config.Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return configHeaderComment + string(data), nil
}

// writeConfig writes the config file, creating parent directories as needed.
func writeConfig(path, content string, setOwnership bool, out io.Writer) error {
	path = filepath.Clean(path)

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if setOwnership {
		chownToService(path, out)
	}
	return nil
}

// chownToService hands path to the roomchat service account when it exists.
func chownToService(path string, out io.Writer) {
	u, err := user.Lookup(serviceName)
	if err != nil {
		fmt.Fprintf(out, "  WARNING: Could not look up user %s: %v\n", serviceName, err)
		return
	}
	g, err := user.LookupGroup(serviceName)
	if err != nil {
		fmt.Fprintf(out, "  WARNING: Could not look up group %s: %v\n", serviceName, err)
		return
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		fmt.Fprintf(out, "  WARNING: Could not parse UID %q for user %s: %v\n", u.Uid, serviceName, err)
		return
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		fmt.Fprintf(out, "  WARNING: Could not parse GID %q for group %s: %v\n", g.Gid, serviceName, err)
		return
	}
	if err := os.Chown(path, uid, gid); err != nil {
		fmt.Fprintf(out, "  WARNING: Could not set ownership to %s:%s: %v\n", serviceName, serviceName, err)
	}
}
