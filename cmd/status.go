package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/axialfit/internal/server"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors GET /api/v1/jobs/{id}/status.
type jobStatus struct {
	ID           string     `json:"id"`
	State        string     `json:"state"`
	Mode         string     `json:"mode"`
	Run          int        `json:"run"`
	Iterations   int        `json:"iterations"`
	LastParams   []float64  `json:"lastParams"`
	CostFinal    *float64   `json:"costFinal"`
	RRMSWFEFinal *float64   `json:"rrmswfeFinal"`
	Elapsed      float64    `json:"elapsed"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime"`
	Error        string     `json:"error"`
	ErrorKind    string     `json:"errorKind"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimRight(serverURL, "/")
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), base+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", base, jobID), jobID)
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(w io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Fprintf(w, "Job ID: %s\n", job.ID)
		fmt.Fprintf(w, "  State: %s\n", job.State)
		fmt.Fprintf(w, "  Mode: %s\n", job.Mode)
		fmt.Fprintf(w, "  Terms: %v\n", job.Experiment.Codex)
		fmt.Fprintf(w, "  Iterations: %d\n", job.Iterations)
		if job.CostFinal != nil {
			fmt.Fprintf(w, "  Final Cost: %.6g\n", *job.CostFinal)
		}
		fmt.Fprintln(w)
	}

	return nil
}

func getJobStatus(w io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	fmt.Fprintf(w, "Mode: %s\n", status.Mode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Start: %d\n", status.Run)
	fmt.Fprintf(w, "  Iterations: %d\n", status.Iterations)
	if status.LastParams != nil {
		fmt.Fprintf(w, "  Last Params: %v\n", status.LastParams)
	}
	if status.CostFinal != nil {
		fmt.Fprintf(w, "  Final Cost: %.6g\n", *status.CostFinal)
	}
	if status.RRMSWFEFinal != nil {
		fmt.Fprintf(w, "  Final Residual RMS WFE: %.6g waves\n", *status.RRMSWFEFinal)
	}

	elapsed := time.Duration(status.Elapsed * float64(time.Second))
	fmt.Fprintf(w, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Fprintf(w, "\nError (%s): %s\n", status.ErrorKind, status.Error)
	}

	return nil
}
