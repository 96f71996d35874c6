package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GGPrompts/vibe4vets-sub003/directory"
)

var (
	runDryRun     bool
	runConnectors []string
	runJSON       bool

	historyServer string
	historyLimit  int
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run one job now and print its result",
	Long: `Runs refresh, freshness, link_checker or cleanup once against the configured
database and exits. --dry-run and --connectors apply to refresh.`,
	Example: `  $ vetdir run refresh --connectors va_locations,nonprofit_feed
  $ vetdir run cleanup --json`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs with their schedules and next run",
	Args:  cobra.NoArgs,
	RunE:  listJobs,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent job results from a running server",
	Args:  cobra.NoArgs,
	RunE:  showHistory,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "extract and plan without writing")
	runCmd.Flags().StringSliceVar(&runConnectors, "connectors", nil, "connector subset for refresh")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")

	historyCmd.Flags().StringVar(&historyServer, "server", env("DIRECTORY_URL", "http://localhost:8080"), "admin API base URL")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of results")
}

func runJob(cmd *cobra.Command, args []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()

	params := directory.JobParams{}
	if runDryRun {
		params["dry_run"] = true
	}
	if len(runConnectors) > 0 {
		params["connectors"] = runConnectors
	}
	res, err := svc.RunJobWait(cmd.Context(), args[0], params)
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResults(os.Stdout, []*directory.JobResult{res})
	}
	if res.Error != "" {
		return fmt.Errorf("%s failed: %s", res.JobName, res.Error)
	}
	return nil
}

func listJobs(_ *cobra.Command, _ []string) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer svc.Close()
	printJobs(os.Stdout, svc.ScheduledJobs())
	return nil
}

func showHistory(cmd *cobra.Command, _ []string) error {
	u, err := url.JoinPath(strings.TrimRight(historyServer, "/"), "api", "jobs", "history")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, fmt.Sprintf("%s?limit=%d", u, historyLimit), nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history: %s", resp.Status)
	}
	var results []*directory.JobResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return fmt.Errorf("history: decode: %w", err)
	}
	printResults(os.Stdout, results)
	return nil
}
