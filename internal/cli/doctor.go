package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"dmsrelay/internal/config"
	"dmsrelay/internal/dms"
	"dmsrelay/internal/receipts"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the relay setup",
		Long: `Run diagnostic checks on the relay configuration.

This command checks:
- Configuration file presence
- DMS connection settings
- DMS platform reachability
- Receipt broker connectivity, when enabled
- Whether a local server is running`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			results := runChecks(cmd.Context(), cliCtx.Config, cliCtx.ConfigPath)
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}

	return cmd
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func runChecks(ctx context.Context, cfg *config.Config, configPath string) []checkResult {
	return []checkResult{
		checkConfigFile(configPath),
		checkDMSSettings(cfg.DMS),
		checkDMSPlatform(ctx, cfg.DMS),
		checkReceiptBroker(cfg.Receipts),
		checkServer(cfg.Gateway),
	}
}

func printResults(w io.Writer, results []checkResult) {
	fmt.Fprintln(w, "dmsrelay doctor")
	fmt.Fprintln(w, "===============")
	fmt.Fprintln(w)

	hasErrors, hasWarnings := false, false
	for _, r := range results {
		icon := "✓"
		switch r.status {
		case "warning":
			icon = "⚠️"
			hasWarnings = true
		case "error":
			icon = "✗"
			hasErrors = true
		}
		fmt.Fprintf(w, "%s %s: %s\n", icon, r.name, r.message)
	}

	fmt.Fprintln(w)
	switch {
	case hasErrors:
		fmt.Fprintln(w, "❌ Some checks failed. Please address the issues above.")
	case hasWarnings:
		fmt.Fprintln(w, "⚠️  Some warnings detected. The relay should start but may not deliver messages.")
	default:
		fmt.Fprintln(w, "✅ All checks passed.")
	}
}

func checkConfigFile(path string) checkResult {
	if path == "" {
		return checkResult{name: "Config File", status: "warning", message: "No config file (using defaults and environment)"}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return checkResult{name: "Config File", status: "warning", message: fmt.Sprintf("Not found: %s (run: dmsrelay init)", path)}
	}
	return checkResult{name: "Config File", status: "ok", message: fmt.Sprintf("Found: %s", path)}
}

func checkDMSSettings(c config.DMSConfig) checkResult {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "jwt_secret")
	}
	if c.ChannelID == "" {
		missing = append(missing, "channel_id")
	}
	if c.APIURL == "" {
		missing = append(missing, "api_url")
	}
	if len(missing) > 0 {
		return checkResult{name: "DMS Settings", status: "error", message: fmt.Sprintf("Missing: %v", missing)}
	}
	if c.WebhookURL == "" {
		return checkResult{name: "DMS Settings", status: "warning", message: "webhook_url not set"}
	}
	return checkResult{name: "DMS Settings", status: "ok", message: fmt.Sprintf("Channel %s", c.ChannelID)}
}

func checkDMSPlatform(ctx context.Context, c config.DMSConfig) checkResult {
	if !c.Configured() {
		return checkResult{name: "DMS Platform", status: "warning", message: "Skipped (settings incomplete)"}
	}

	client := dms.New(dms.Settings{
		JWTSecret: c.JWTSecret,
		ChannelID: c.ChannelID,
		APIURL:    c.APIURL,
		Timeout:   c.Timeout,
	})
	resp, err := client.Ping(ctx)
	if err != nil {
		return checkResult{name: "DMS Platform", status: "error", message: fmt.Sprintf("Connection failed: %v", err)}
	}
	if !resp.OK() {
		return checkResult{name: "DMS Platform", status: "error", message: fmt.Sprintf("Platform replied %d %s", resp.StatusCode, resp.StatusText)}
	}
	return checkResult{name: "DMS Platform", status: "ok", message: fmt.Sprintf("Reachable (%d)", resp.StatusCode)}
}

func checkReceiptBroker(c config.ReceiptsConfig) checkResult {
	if !c.Enabled {
		return checkResult{name: "Receipt Broker", status: "ok", message: "Disabled"}
	}
	pub, err := receipts.NewAMQPPublisher(c.URL, c.Exchange)
	if err != nil {
		return checkResult{name: "Receipt Broker", status: "error", message: err.Error()}
	}
	_ = pub.Close()
	return checkResult{name: "Receipt Broker", status: "ok", message: fmt.Sprintf("Connected (exchange %s)", c.Exchange)}
}

func checkServer(g config.GatewayConfig) checkResult {
	url := serverURL(g) + "/api/v1/health"
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return checkResult{name: "Server", status: "warning", message: "Not running. Start with: dmsrelay serve"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return checkResult{name: "Server", status: "error", message: fmt.Sprintf("Health check returned %d", resp.StatusCode)}
	}

	var health struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return checkResult{name: "Server", status: "ok", message: fmt.Sprintf("Running on port %d", g.Port)}
	}
	return checkResult{
		name:    "Server",
		status:  "ok",
		message: fmt.Sprintf("Running on port %d (status: %s, version: %s)", g.Port, health.Status, health.Version),
	}
}

// serverURL returns the local base URL of the configured gateway.
func serverURL(g config.GatewayConfig) string {
	host := g.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(g.Port))
}
