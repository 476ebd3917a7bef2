package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/axialfit/internal/server"
)

func TestListJobs_Empty(t *testing.T) {
	ts := httptest.NewServer(server.NewServer("", nil).Handler())
	defer ts.Close()

	var out bytes.Buffer
	if err := listJobs(&out, ts.URL+"/api/v1/jobs"); err != nil {
		t.Fatalf("listJobs failed: %v", err)
	}
	if !strings.Contains(out.String(), "No jobs found") {
		t.Errorf("Unexpected output: %s", out.String())
	}
}

func TestGetJobStatus_NotFound(t *testing.T) {
	ts := httptest.NewServer(server.NewServer("", nil).Handler())
	defer ts.Close()

	var out bytes.Buffer
	err := getJobStatus(&out, ts.URL+"/api/v1/jobs/missing/status", "missing")
	if err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Errorf("Expected job not found, got %v", err)
	}
}

func TestGetJobStatus_Unreachable(t *testing.T) {
	var out bytes.Buffer
	if err := listJobs(&out, "http://127.0.0.1:1/api/v1/jobs"); err == nil {
		t.Error("Expected a connection error")
	}
}

func TestGetJobStatus_ReportsErrorKind(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "j1", "state": "failed", "mode": "single", "error": "diagnostics: 4 parameter vectors but 3 parsed costs", "errorKind": "diagnostics"}`))
	}))
	defer ts.Close()

	var out bytes.Buffer
	if err := getJobStatus(&out, ts.URL, "j1"); err != nil {
		t.Fatalf("getJobStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), "Error (diagnostics): diagnostics: 4 parameter vectors") {
		t.Errorf("Status should name the error kind:\n%s", out.String())
	}
}

func TestStatusCommand_Job(t *testing.T) {
	srv := server.NewServer("", nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(t.Context())

	body := `{"mode": "single", "experiment": {"codex": ["Z9"], "truth": {"params": [0.03]},
		"sim": {"samples": 32, "focus_planes": 3, "focus_range_waves": 1, "freqs": [100, 200, 300]},
		"solver": {"max_iterations": 20, "gtol": 1e-6}}}`
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}

	var jobs bytes.Buffer
	if err := listJobs(&jobs, ts.URL+"/api/v1/jobs"); err != nil {
		t.Fatalf("listJobs failed: %v", err)
	}
	if !strings.Contains(jobs.String(), "Found 1 job(s)") || !strings.Contains(jobs.String(), "Terms: [Z9]") {
		t.Errorf("Unexpected listing:\n%s", jobs.String())
	}
	id := strings.TrimSpace(strings.SplitN(strings.SplitN(jobs.String(), "Job ID: ", 2)[1], "\n", 2)[0])

	// wait for the job to finish
	deadline := time.Now().Add(30 * time.Second)
	var out bytes.Buffer
	for time.Now().Before(deadline) {
		out.Reset()
		if err := getJobStatus(&out, ts.URL+"/api/v1/jobs/"+id+"/status", id); err != nil {
			t.Fatalf("getJobStatus failed: %v", err)
		}
		if strings.Contains(out.String(), "State: completed") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if !strings.Contains(out.String(), "State: completed") {
		t.Fatalf("Job did not complete:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Final Cost:") {
		t.Errorf("Status should report the final cost:\n%s", out.String())
	}
}
