package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lemonberrylabs/miniexpr/pkg/expr"
	"github.com/lemonberrylabs/miniexpr/pkg/store"
)

func setupTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s := store.New()
	return New(s, Options{}), s
}

// do sends a request and decodes the JSON response body.
func do(t *testing.T, srv *Server, method, url string, body interface{}) (int, map[string]interface{}, http.Header) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, url, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("invalid JSON response %q: %v", raw, err)
		}
	}
	return resp.StatusCode, out, resp.Header
}

func errorStatus(resp map[string]interface{}) string {
	e, _ := resp["error"].(map[string]interface{})
	s, _ := e["status"].(string)
	return s
}

func TestEvaluate(t *testing.T) {
	srv, _ := setupTestServer(t)

	tests := []struct {
		expression string
		variables  map[string]interface{}
		want       interface{}
	}{
		{"2 + 3 * 4", nil, 20.0},
		{"2 + (3 * 4)", nil, 14.0},
		{"x ^ 2", map[string]interface{}{"x": 3}, 9.0},
		{"x * 2", map[string]interface{}{"x": "-Inf"}, "-Inf"},
		{"sqrt(-1)", nil, "NaN"},
		{"1 / 0", nil, "+Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			code, resp, _ := do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{
				"expression": tt.expression,
				"variables":  tt.variables,
			})
			if code != 200 {
				t.Fatalf("expected 200, got %d: %v", code, resp)
			}
			if resp["result"] != tt.want {
				t.Errorf("result = %v, want %v", resp["result"], tt.want)
			}
		})
	}
}

func TestEvaluateDiagnostics(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, _ := do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{
		"expression": "x + (2 +",
	})
	if code != 200 {
		t.Fatalf("expected 200, got %d: %v", code, resp)
	}
	if resp["result"] != 2.0 {
		t.Errorf("result = %v, want 2", resp["result"])
	}
	diags, _ := resp["diagnostics"].([]interface{})
	if len(diags) == 0 {
		t.Fatal("expected diagnostics")
	}
	var tags []string
	for _, d := range diags {
		m := d.(map[string]interface{})
		tags = append(tags, m["tag"].(string))
	}
	if !strings.Contains(strings.Join(tags, ","), "UnknownVariable") {
		t.Errorf("tags = %v, want UnknownVariable among them", tags)
	}
	if vars, _ := resp["variables"].([]interface{}); len(vars) != 1 || vars[0] != "x" {
		t.Errorf("variables = %v", resp["variables"])
	}
}

func TestEvaluateWithEnvironment(t *testing.T) {
	srv, s := setupTestServer(t)
	s.PutEnvironment("dev", expr.Environment{"x": 2, "y": 5})

	code, resp, _ := do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{
		"expression":  "x * y",
		"environment": "dev",
		"variables":   map[string]interface{}{"y": 10},
	})
	if code != 200 {
		t.Fatalf("expected 200, got %d: %v", code, resp)
	}
	if resp["result"] != 20.0 {
		t.Errorf("result = %v, want 20 (request variables override the environment)", resp["result"])
	}

	code, resp, _ = do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{
		"expression":  "x",
		"environment": "missing",
	})
	if code != 404 || errorStatus(resp) != "NOT_FOUND" {
		t.Errorf("missing environment: %d %v", code, resp)
	}
}

func TestEvaluateBadBody(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, _ := do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{
		"expression": "x",
		"variables":  map[string]interface{}{"x": "abc"},
	})
	if code != 400 || errorStatus(resp) != "INVALID_ARGUMENT" {
		t.Errorf("expected INVALID_ARGUMENT, got %d %v", code, resp)
	}
}

func TestSourceLengthLimit(t *testing.T) {
	srv, _ := setupTestServer(t)
	long := strings.Repeat("(", 4<<20-64) + "1"

	code, resp, _ := do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{"expression": long})
	if code != 400 || errorStatus(resp) != "INVALID_ARGUMENT" {
		t.Errorf("evaluate: got %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "POST", "/v1/expressions?expressionId=long", map[string]interface{}{
		"source": strings.Repeat("1+", expr.MaxExpressionLength) + "1",
	})
	if code != 400 || errorStatus(resp) != "INVALID_ARGUMENT" {
		t.Errorf("create: got %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "POST", "/v1/expressions?expressionId=short", map[string]interface{}{"source": "1"})
	if code != 200 {
		t.Fatalf("create: got %d %v", code, resp)
	}
	code, resp, _ = do(t, srv, "PATCH", "/v1/expressions/short", map[string]interface{}{
		"source": strings.Repeat("-", expr.MaxExpressionLength+1) + "1",
	})
	if code != 400 || errorStatus(resp) != "INVALID_ARGUMENT" {
		t.Errorf("update: got %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "POST", "/v1/evaluate", map[string]interface{}{
		"expression": strings.Repeat("(", 200) + "7" + strings.Repeat(")", 200),
	})
	if code != 200 || resp["result"] != 7.0 {
		t.Errorf("nested within limits: got %d %v", code, resp)
	}
}

func TestExpressionCRUD(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, hdr := do(t, srv, "POST", "/v1/expressions?expressionId=area", map[string]interface{}{
		"source":      "r ^ 2 * PI",
		"description": "circle area",
	})
	if code != 200 {
		t.Fatalf("create: expected 200, got %d: %v", code, resp)
	}
	if resp["name"] != "expressions/area" || resp["tree"] != "((r ^ 2) * 3.1415)" {
		t.Errorf("create response = %v", resp)
	}
	etag := hdr.Get("ETag")
	if etag == "" || etag != resp["fingerprint"] {
		t.Errorf("ETag = %q, fingerprint = %v", etag, resp["fingerprint"])
	}

	code, resp, _ = do(t, srv, "POST", "/v1/expressions?expressionId=area", map[string]interface{}{"source": "1"})
	if code != 409 || errorStatus(resp) != "ALREADY_EXISTS" {
		t.Errorf("duplicate: %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "POST", "/v1/expressions?expressionId=Bad%20ID", map[string]interface{}{"source": "1"})
	if code != 400 {
		t.Errorf("invalid ID: %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "POST", "/v1/expressions/area:evaluate", map[string]interface{}{
		"variables": map[string]interface{}{"r": 1},
	})
	if code != 200 || resp["result"] != 3.1415 {
		t.Errorf("evaluate: %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "PATCH", "/v1/expressions/area", map[string]interface{}{"source": "r * r"})
	if code != 200 || resp["revisionId"] != "000002-000" || resp["description"] != "circle area" {
		t.Errorf("update: %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "GET", "/v1/expressions", nil)
	if items, _ := resp["expressions"].([]interface{}); code != 200 || len(items) != 1 {
		t.Errorf("list: %d %v", code, resp)
	}

	code, _, _ = do(t, srv, "DELETE", "/v1/expressions/area", nil)
	if code != 200 {
		t.Errorf("delete: %d", code)
	}
	code, resp, _ = do(t, srv, "GET", "/v1/expressions/area", nil)
	if code != 404 || errorStatus(resp) != "NOT_FOUND" {
		t.Errorf("get after delete: %d %v", code, resp)
	}
}

func TestEvaluateStoredWithoutBody(t *testing.T) {
	srv, s := setupTestServer(t)
	if _, err := s.CreateExpression("broken", "(1 +", ""); err != nil {
		t.Fatal(err)
	}

	code, resp, _ := do(t, srv, "POST", "/v1/expressions/broken:evaluate", nil)
	if code != 200 || resp["result"] != 1.0 {
		t.Fatalf("evaluate: %d %v", code, resp)
	}
	if diags, _ := resp["diagnostics"].([]interface{}); len(diags) == 0 {
		t.Error("stored parse diagnostics were not returned")
	}
}

func TestEnvironments(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, _ := do(t, srv, "PUT", "/v1/environments/dev", map[string]interface{}{
		"variables": map[string]interface{}{"x": 1.5, "big": "+Inf"},
	})
	if code != 200 {
		t.Fatalf("put: %d %v", code, resp)
	}
	vars, _ := resp["variables"].(map[string]interface{})
	if vars["x"] != 1.5 || vars["big"] != "+Inf" {
		t.Errorf("variables = %v", vars)
	}

	code, resp, _ = do(t, srv, "GET", "/v1/environments", nil)
	if items, _ := resp["environments"].([]interface{}); code != 200 || len(items) != 1 {
		t.Errorf("list: %d %v", code, resp)
	}

	code, _, _ = do(t, srv, "DELETE", "/v1/environments/dev", nil)
	if code != 200 {
		t.Errorf("delete: %d", code)
	}
	code, _, _ = do(t, srv, "GET", "/v1/environments/dev", nil)
	if code != 404 {
		t.Errorf("get after delete: %d", code)
	}
}

const circleSheet = `
vars:
  d: r * 2
print:
  - d
  - { text: done }
`

// waitForRun polls a run until it leaves the ACTIVE state.
func waitForRun(t *testing.T, srv *Server, name string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, resp, _ := do(t, srv, "GET", "/v1/"+name, nil)
		if resp["state"] != "ACTIVE" {
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", name)
	return nil
}

func TestSheetRuns(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, _ := do(t, srv, "POST", "/v1/sheets?sheetId=circle", map[string]interface{}{
		"sourceContents": circleSheet,
	})
	if code != 200 {
		t.Fatalf("create sheet: %d %v", code, resp)
	}
	if resp["bindingCount"] != 1.0 || resp["stepCount"] != 2.0 {
		t.Errorf("sheet = %v", resp)
	}

	code, resp, _ = do(t, srv, "POST", "/v1/sheets/circle/runs", map[string]interface{}{
		"variables": map[string]interface{}{"r": 3},
	})
	if code != 200 {
		t.Fatalf("create run: %d %v", code, resp)
	}
	runName, _ := resp["name"].(string)
	if !strings.HasPrefix(runName, "sheets/circle/runs/") {
		t.Fatalf("run name = %q", runName)
	}

	run := waitForRun(t, srv, runName)
	if run["state"] != "SUCCEEDED" {
		t.Fatalf("run = %v", run)
	}
	lines, _ := run["lines"].([]interface{})
	if len(lines) != 2 || lines[0] != "6" || lines[1] != "done" {
		t.Errorf("lines = %v", lines)
	}

	code, resp, _ = do(t, srv, "GET", "/v1/sheets/circle/runs", nil)
	if items, _ := resp["runs"].([]interface{}); code != 200 || len(items) != 1 {
		t.Errorf("list runs: %d %v", code, resp)
	}

	code, resp, _ = do(t, srv, "POST", "/"+"v1/"+runName+":cancel", nil)
	if code != 400 || errorStatus(resp) != "FAILED_PRECONDITION" {
		t.Errorf("cancel finished run: %d %v", code, resp)
	}
}

// blockingWriter holds the first run diagnostic until release is closed.
type blockingWriter struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("/runs/")) {
		w.once.Do(func() {
			close(w.entered)
			<-w.release
		})
	}
	return len(p), nil
}

func TestCancelActiveRun(t *testing.T) {
	w := &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	logger := zerolog.New(w)
	srv := New(store.New(), Options{Logger: &logger})

	code, resp, _ := do(t, srv, "POST", "/v1/sheets?sheetId=slow", map[string]interface{}{
		"sourceContents": "print:\n  - missing\n  - 1\n",
	})
	if code != 200 {
		t.Fatalf("create sheet: %d %v", code, resp)
	}

	_, resp, _ = do(t, srv, "POST", "/v1/sheets/slow/runs", nil)
	name, _ := resp["name"].(string)

	select {
	case <-w.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not start")
	}
	code, resp, _ = do(t, srv, "POST", "/v1/"+name+":cancel", nil)
	close(w.release)
	if code != 200 || resp["state"] != "ACTIVE" {
		t.Fatalf("cancel: %d %v", code, resp)
	}

	run := waitForRun(t, srv, name)
	if run["state"] != "FAILED" {
		t.Fatalf("state = %v, want FAILED", run["state"])
	}
	if msg, _ := run["error"].(string); !strings.Contains(msg, "cancelled") {
		t.Errorf("error = %q, want it to mention cancellation", msg)
	}
	if lines, _ := run["lines"].([]interface{}); len(lines) != 0 {
		t.Errorf("lines = %v, want none", lines)
	}
}

func TestSheetFailedRun(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, _ := do(t, srv, "POST", "/v1/sheets?sheetId=bad-count", map[string]interface{}{
		"sourceContents": "print:\n  - repeat: 1 / 0\n    do: [ \"1\" ]\n",
	})
	if code != 200 {
		t.Fatalf("create sheet: %d %v", code, resp)
	}

	_, resp, _ = do(t, srv, "POST", "/v1/sheets/bad-count/runs", nil)
	run := waitForRun(t, srv, resp["name"].(string))
	if run["state"] != "FAILED" || run["error"] == nil {
		t.Errorf("run = %v", run)
	}
}

func TestSheetErrors(t *testing.T) {
	srv, _ := setupTestServer(t)

	code, resp, _ := do(t, srv, "POST", "/v1/sheets?sheetId=broken", map[string]interface{}{
		"sourceContents": "steps: []",
	})
	if code != 400 || errorStatus(resp) != "INVALID_ARGUMENT" {
		t.Errorf("invalid sheet: %d %v", code, resp)
	}

	code, _, _ = do(t, srv, "POST", "/v1/sheets/missing/runs", nil)
	if code != 404 {
		t.Errorf("run of missing sheet: %d", code)
	}
	code, _, _ = do(t, srv, "GET", "/v1/sheets/missing/runs", nil)
	if code != 404 {
		t.Errorf("runs of missing sheet: %d", code)
	}
}

func TestWatchDir(t *testing.T) {
	srv, s := setupTestServer(t)
	dir := t.TempDir()

	files := map[string]string{
		"circle.yaml":  circleSheet,
		"Upper.yml":    "print: [ \"1\" ]\n",
		"broken.yaml":  "nope: 1\n",
		"notes.txt":    "ignored",
		"9bad.json":    `{"print": ["1"]}`,
		"counter.json": `{"vars": {"i": "0"}, "print": ["i"]}`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := srv.WatchDir(dir); err != nil {
		t.Fatalf("WatchDir: %v", err)
	}

	var names []string
	for _, sh := range s.ListSheets() {
		names = append(names, sh.Name)
	}
	want := "sheets/circle,sheets/counter,sheets/upper"
	if strings.Join(names, ",") != want {
		t.Errorf("loaded sheets = %v, want %s", names, want)
	}

	if err := srv.WatchDir(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing directory")
	}
}
