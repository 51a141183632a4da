package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	v1 "dmsrelay/api/v1"
	"dmsrelay/internal/cron"
	"dmsrelay/internal/gateway/handlers"
)

// NewJobsCmd creates the jobs command.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"cron"},
		Short:   "Inspect maintenance jobs of a running server",
		Long:    `List or trigger the pending-sweep and ledger-stats jobs of a running server.`,
	}

	cmd.PersistentFlags().String("url", "", "server URL (default: from gateway config)")

	cmd.AddCommand(newJobsListCmd())
	cmd.AddCommand(newJobsRunCmd())

	return cmd
}

func newJobsListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsList(cmd.OutOrStdout(), jobsServerURL(cmd), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newJobsRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Run a job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobsRun(cmd.OutOrStdout(), jobsServerURL(cmd), args[0])
		},
	}
}

func jobsServerURL(cmd *cobra.Command) string {
	if u, _ := cmd.Flags().GetString("url"); u != "" {
		return u
	}
	if cliCtx := GetCLIContext(cmd); cliCtx != nil {
		return serverURL(cliCtx.Config.Gateway)
	}
	return "http://localhost:3000"
}

type jobsListResponse struct {
	Jobs []cron.JobInfo `json:"jobs"`
}

func runJobsList(w io.Writer, serverURL string, jsonOutput bool) error {
	client := &http.Client{Timeout: 30 * time.Second}

	resp, err := client.Get(serverURL + "/api/v1/debug/jobs")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w\nIs the server running? Start it with: dmsrelay serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var response jobsListResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	jobs := response.Jobs

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs registered.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCHEDULE\tRUNS\tFAILURES\tLAST RUN\tNEXT RUN")
	fmt.Fprintln(tw, "----\t--------\t----\t--------\t--------\t--------")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			j.Name,
			j.Schedule,
			j.Runs,
			j.Failures,
			formatJobTime(j.Prev),
			formatJobTime(j.Next),
		)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nTotal: %d jobs\n", len(jobs))
	return nil
}

func runJobsRun(w io.Writer, serverURL, name string) error {
	client := &http.Client{Timeout: 2 * time.Minute}

	endpoint := fmt.Sprintf("%s/api/v1/debug/jobs/%s/run", serverURL, url.PathEscape(name))
	resp, err := client.Post(endpoint, "application/json", nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w\nIs the server running? Start it with: dmsrelay serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var result v1.RunJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintf(w, "Job %s finished\n", result.Name)
	return nil
}

// apiError turns an error response body into an error.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e handlers.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error.Message)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

func formatJobTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("01-02 15:04:05")
}
