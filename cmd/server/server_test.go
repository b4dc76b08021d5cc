package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const testRules = `{
	"version": "v1",
	"rules": {
		"deal_size": {"type": "formula", "formula": "seats * price_per_seat"},
		"tier": {
			"type": "decision_tree",
			"branches": [
				{"condition": {"seats": {"gte": 100}}, "output": "ENTERPRISE"}
			],
			"fallback": "STANDARD"
		}
	}
}`

func newFileServer(t *testing.T) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatalf("failed to write rules file: %v", err)
	}
	s, err := NewServer("", path)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServerRequiresDocumentSource(t *testing.T) {
	if _, err := NewServer("", ""); err == nil {
		t.Error("expected error without DATABASE_URL or RULES_FILE")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newFileServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["activeVersion"] != "v1" {
		t.Errorf("activeVersion = %v, want v1", body["activeVersion"])
	}
}

func TestExecuteEndpoint(t *testing.T) {
	s := newFileServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Rule:  "deal_size",
		Input: map[string]any{"seats": 40, "price_per_seat": 99},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.ExecutionID == "" {
		t.Error("expected a non-empty executionId")
	}
	if resp.Result == nil || resp.Result.Result != 3960.0 {
		t.Errorf("result = %+v, want 3960", resp.Result)
	}
	if resp.Result.Failed() {
		t.Errorf("unexpected execution error: %s", resp.Result.Error)
	}
}

func TestExecuteEndpointCapturesEvaluationError(t *testing.T) {
	s := newFileServer(t)

	// seats is a string: the gte branch is a type mismatch, which must
	// come back as a captured error, not a transport failure.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/execute", ExecuteRequest{
		Rule:  "tier",
		Input: map[string]any{"seats": "forty"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Result == nil || !resp.Result.Failed() {
		t.Errorf("expected a captured evaluation error, got %+v", resp.Result)
	}
}

func TestExecuteEndpointValidation(t *testing.T) {
	s := newFileServer(t)

	testCases := []struct {
		name string
		req  ExecuteRequest
		want int
	}{
		{"missing rule", ExecuteRequest{Input: map[string]any{"x": 1}}, http.StatusBadRequest},
		{"missing input", ExecuteRequest{Rule: "deal_size"}, http.StatusBadRequest},
		{"unknown rule", ExecuteRequest{Rule: "nope", Input: map[string]any{"x": 1}}, http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/execute", tc.req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed body", rec.Code)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	s := newFileServer(t)

	// Upload a new version.
	v2 := map[string]any{
		"version": "v2",
		"rules": map[string]any{
			"deal_size": map[string]any{"type": "formula", "formula": "seats * price_per_seat * 1.1"},
		},
	}
	rec := doJSON(t, s, http.MethodPost, "/api/v1/documents/", v2)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// Duplicate version conflicts.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/documents/", v2)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", rec.Code)
	}

	// Structurally invalid documents are rejected before storage.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/documents/", map[string]any{"version": "v3"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid create status = %d, want 400", rec.Code)
	}

	// Both versions are listed.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/documents/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listing struct {
		Documents []struct {
			Version string `json:"version"`
			Active  bool   `json:"active"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("invalid list body: %v", err)
	}
	if len(listing.Documents) != 2 {
		t.Fatalf("listed %d documents, want 2", len(listing.Documents))
	}

	// Fetch one version back.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/documents/v2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/api/v1/documents/v9", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get unknown status = %d, want 404", rec.Code)
	}

	// Activating v2 swaps the serving engine.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/documents/v2/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if s.manager.ActiveVersion() != "v2" {
		t.Errorf("active version = %q, want v2", s.manager.ActiveVersion())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/documents/v9/activate", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("activate unknown status = %d, want 404", rec.Code)
	}
}

func TestExperimentEndpoints(t *testing.T) {
	s := newFileServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/experiment/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	// Stage a candidate version, then install the experiment.
	v2 := map[string]any{
		"version": "v2",
		"rules": map[string]any{
			"deal_size": map[string]any{"type": "formula", "formula": "seats * price_per_seat * 1.1"},
		},
	}
	if rec = doJSON(t, s, http.MethodPost, "/api/v1/documents/", v2); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}

	exp := map[string]any{
		"name":             "pricing-uplift",
		"control":          "v1",
		"candidate":        "v2",
		"candidatePercent": 25,
	}
	rec = doJSON(t, s, http.MethodPut, "/api/v1/experiment/", exp)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	if got := s.manager.Experiment(); got == nil || got.Name != "pricing-uplift" {
		t.Errorf("installed experiment = %+v", got)
	}

	// Invalid experiments are rejected.
	rec = doJSON(t, s, http.MethodPut, "/api/v1/experiment/", map[string]any{
		"name": "bad", "control": "v1", "candidate": "v1", "candidatePercent": 10,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid put status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/v1/experiment/", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
	if s.manager.Experiment() != nil {
		t.Error("experiment should be cleared")
	}
}
