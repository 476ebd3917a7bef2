package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/axialfit/internal/store"
)

// jobBody encodes the test experiment as a job request.
func jobBody(t *testing.T, mode string) []byte {
	t.Helper()
	exp, err := json.Marshal(testExperiment(t))
	if err != nil {
		t.Fatalf("Failed to encode experiment: %v", err)
	}
	body, _ := json.Marshal(JobRequest{Mode: mode, Experiment: exp})
	return body
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, *store.FSStore) {
	t.Helper()
	fs, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(":0", fs)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.jobManager.CancelAll()
		ts.Close()
	})
	return s, ts, fs
}

func createJob(t *testing.T, ts *httptest.Server, mode string) Job {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", bytes.NewReader(jobBody(t, mode)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 201, got %d: %s", resp.StatusCode, msg)
	}
	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return job
}

func waitForJob(t *testing.T, s *Server, id string) *Job {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := s.jobManager.GetJob(id)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", id)
	return nil
}

func TestServer_CreateJob(t *testing.T) {
	s, ts, _ := newTestServer(t)

	job := createJob(t, ts, "single")
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}

	done := waitForJob(t, s, job.ID)
	if done.State != StateCompleted {
		t.Errorf("Expected completed job, got %s: %s", done.State, done.Error)
	}
}

func TestServer_CreateJobRejectsBadRequests(t *testing.T) {
	_, ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing experiment", `{"mode":"single"}`},
		{"unknown mode", `{"mode":"anneal","experiment":{"codex":["Z9"],"truth":{"params":[0.1]}}}`},
		{"invalid experiment", `{"experiment":{"codex":["Z9"]}}`},
		{"wrong types", `{"experiment":{"codex":"Z9"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/api/v1/jobs", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	s, ts, _ := newTestServer(t)

	s.jobManager.CreateJob(testExperiment(t), "single")
	s.jobManager.CreateJob(testExperiment(t), "global")

	resp, err := http.Get(ts.URL + "/api/v1/jobs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var jobs []Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_JobStatus(t *testing.T) {
	s, ts, _ := newTestServer(t)
	job := s.jobManager.CreateJob(testExperiment(t), "single")

	for _, path := range []string{"/api/v1/jobs/" + job.ID, "/api/v1/jobs/" + job.ID + "/status"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var status map[string]any
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, resp.StatusCode)
		}
		if status["id"] != job.ID || status["state"] != string(StatePending) {
			t.Errorf("%s: unexpected status %v", path, status)
		}
	}

	resp, _ := http.Get(ts.URL + "/api/v1/jobs/nonexistent/status")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/jobs/")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without job ID, got %d", resp.StatusCode)
	}

	resp, _ = http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/best.png")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown subpath, got %d", resp.StatusCode)
	}
}

func TestServer_JobDocument(t *testing.T) {
	s, ts, fs := newTestServer(t)

	job := createJob(t, ts, "global")

	// no document until the job has finished
	pending := s.jobManager.CreateJob(testExperiment(t), "single")
	resp, _ := http.Get(ts.URL + "/api/v1/jobs/" + pending.ID + "/document")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for unfinished job, got %d", resp.StatusCode)
	}

	if done := waitForJob(t, s, job.ID); done.State != StateCompleted {
		t.Fatalf("Job failed: %s", done.Error)
	}

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/document")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"global", "cost_iter", "rrmswfe_final", "nrandomstart", "best_run"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("Document is missing %q", key)
		}
	}
	if string(doc["global"]) != "true" {
		t.Errorf("Expected a global document, got global=%s", doc["global"])
	}

	// also persisted and served from the store
	if _, err := fs.LoadDocument(job.ID); err != nil {
		t.Errorf("Document should be stored: %v", err)
	}
	resp2, err := http.Get(ts.URL + "/api/v1/documents")
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	var infos []store.RecordInfo
	json.NewDecoder(resp2.Body).Decode(&infos)
	if len(infos) != 1 || infos[0].ID != job.ID || infos[0].Kind != store.KindGlobal {
		t.Errorf("Unexpected document listing: %+v", infos)
	}

	resp3, _ := http.Get(ts.URL + "/api/v1/documents/" + job.ID)
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusOK {
		t.Errorf("Expected stored document, got %d", resp3.StatusCode)
	}
	resp4, _ := http.Get(ts.URL + "/api/v1/documents/unknown")
	resp4.Body.Close()
	if resp4.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown document, got %d", resp4.StatusCode)
	}
}

func TestServer_DocumentTrace(t *testing.T) {
	s, ts, fs := newTestServer(t)

	job := createJob(t, ts, "global")
	if done := waitForJob(t, s, job.ID); done.State != StateCompleted {
		t.Fatalf("Job failed: %s", done.Error)
	}
	rec, err := fs.LoadDocument(job.ID)
	if err != nil {
		t.Fatalf("Document should be stored: %v", err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/documents/" + job.ID + "/trace")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var entries []store.TraceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode trace: %v", err)
	}
	want := len(rec.Global.CostIter[0]) + len(rec.Global.CostIter[1])
	if len(entries) != want {
		t.Fatalf("Expected %d trace entries, got %d", want, len(entries))
	}
	if entries[0].Run != 0 || entries[0].Iteration != 0 || entries[0].Cost != rec.Global.CostIter[0][0] {
		t.Errorf("First entry should be the guess of start 0, got %+v", entries[0])
	}
	if entries[len(entries)-1].Run != 1 {
		t.Errorf("Last entry should belong to start 1, got %+v", entries[len(entries)-1])
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/documents/unknown/trace", http.StatusNotFound},
		{"/api/v1/documents/" + job.ID + "/params", http.StatusNotFound},
		{"/api/v1/documents/", http.StatusBadRequest},
	}
	for _, tt := range tests {
		r, err := http.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatal(err)
		}
		r.Body.Close()
		if r.StatusCode != tt.code {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.code, r.StatusCode)
		}
	}
}

func TestServer_Stream(t *testing.T) {
	s, ts, _ := newTestServer(t)
	job := s.jobManager.CreateJob(testExperiment(t), "single")

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %s", ct)
	}

	var events []ProgressEvent
	names := map[string]int{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names[name]++
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var ev ProgressEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("Bad event %q: %v", data, err)
			}
			events = append(events, ev)
			if len(events) == 1 {
				// the client is subscribed once the initial event arrives
				go runJob(s.baseCtx, s.jobManager, s.store, job.ID)
			}
		}
	}

	if len(events) < 2 {
		t.Fatalf("Expected several events, got %d", len(events))
	}
	if events[0].State != StatePending {
		t.Errorf("First event should report the pending state, got %s", events[0].State)
	}
	last := events[len(events)-1]
	if last.State != StateCompleted || last.CostFinal == nil {
		t.Errorf("Stream should end with completion, got %+v", last)
	}
	if names["iteration"] == 0 {
		t.Error("Expected at least one iteration event")
	}

	// a finished job streams its final state and closes
	resp2, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if !strings.Contains(string(body), fmt.Sprintf(`"state":%q`, StateCompleted)) {
		t.Errorf("Expected completed state, got %s", body)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s, ts, _ := newTestServer(t)
	job := s.jobManager.CreateJob(testExperiment(t), "single")

	url := ts.URL + "/api/v1/jobs/" + job.ID + "/cancel"
	resp, _ := http.Get(url)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", resp.StatusCode)
	}

	resp, _ = http.Post(url, "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for a job that is not running, got %d", resp.StatusCode)
	}

	resp, _ = http.Post(ts.URL+"/api/v1/jobs/nonexistent/cancel", "application/json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "axialfit_pool_workers") {
		t.Error("Expected axialfit collectors in metrics output")
	}
}

func TestServer_CORS(t *testing.T) {
	_, ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for preflight, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS header")
	}
}
