package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSyncCommandRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sync": `{"succeeded":3,"failed":1}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/sync", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.Succeeded != 3 || result.Failed != 1 {
		t.Errorf("result = %+v, want succeeded=3 failed=1", result)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", ts.requests[0].Auth)
	}
}

func TestPendingCommandRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /pending": `[{"id":"iv-00112233","survey_id":"sv-1","status":"completed","updated_at":"2026-03-01T12:00:00Z"}]`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/pending")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var pending []struct {
		ID       string `json:"id"`
		SurveyID string `json:"survey_id"`
	}
	if err := decodeJSON(resp, &pending); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if len(pending) != 1 || pending[0].ID != "iv-00112233" {
		t.Fatalf("pending = %v", pending)
	}
}

func TestLocationCommandBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PUT /location": `{"status":"accepted"}`,
	})

	client := ts.client()
	resp, err := client.put(ctx, "/location", map[string]any{"lat": -23.55, "lng": -46.63, "accuracy": 8.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "accepted" {
		t.Errorf("status = %q, want accepted", result["status"])
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["lat"] != -23.55 || body["lng"] != -46.63 {
		t.Errorf("body = %v", body)
	}
}

func TestLocationCommandRejectsBadCoordinates(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"location", "--lat", "123.0", "--lng", "-46.63"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for out-of-range latitude")
	}
	if !strings.Contains(err.Error(), "latitude") {
		t.Errorf("error = %q, want it to mention 'latitude'", err.Error())
	}

	rootCmd.SetArgs([]string{"location", "--lat", "-23.55"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing --lng")
	}
}

func TestConnectivityCommandBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /connectivity": `{"status":"accepted","online":true}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/connectivity", map[string]any{"online": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["online"] != true {
		t.Errorf("body.online = %v, want true", body["online"])
	}
}

func TestClearCommandRequiresConfirm(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	// Without --confirm the command warns and exits without touching the
	// agent; no API client is even constructed.
	rootCmd.SetArgs([]string{"clear"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClearCommandRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"DELETE /data": `{"status":"cleared"}`,
	})

	client := ts.client()
	resp, err := client.delete(ctx, "/data")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["status"] != "cleared" {
		t.Errorf("status = %q, want cleared", result["status"])
	}
	if ts.requests[0].Method != "DELETE" {
		t.Errorf("method = %q, want DELETE", ts.requests[0].Method)
	}
}

func TestStatusCommandStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped agent")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestDecodeJSONErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/status")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestClientOmitsAuthWithoutToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestLogLevelParsing(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}
	for _, tt := range tests {
		if got := logLevel(tt.name).String(); got != tt.want {
			t.Errorf("logLevel(%q) = %s, want %s", tt.name, got, tt.want)
		}
	}
}
