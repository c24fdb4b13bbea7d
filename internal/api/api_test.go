package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eldlib/shelfreg/internal/config"
	"github.com/eldlib/shelfreg/internal/db"
	"github.com/eldlib/shelfreg/internal/registry"
)

func newTestServer(t *testing.T, limits config.LimitsConfig) *httptest.Server {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "tools.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger, _ := zap.NewDevelopment()
	reg := registry.New(database, logger, 5*time.Second)

	mux := http.NewServeMux()
	New(reg, logger, limits).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func defaultLimits() config.LimitsConfig {
	return config.DefaultConfig().Limits
}

func pushTool(t *testing.T, srv *httptest.Server, name string, body map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/tools/"+name, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("push %s: %v", name, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decoding push response: %v", err)
	}
	return resp, decoded
}

func TestPushCreateThenUpdate(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	resp, body := pushTool(t, srv, "flipbook", map[string]any{
		"label":  "Flipbook",
		"script": "render_flipbook()",
		"author": "mei",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	if body["version"].(float64) != 1 {
		t.Fatalf("create: expected version 1, got %v", body["version"])
	}
	if body["checksum"] == "" {
		t.Fatal("create: missing checksum")
	}

	resp, body = pushTool(t, srv, "flipbook", map[string]any{
		"label":  "Flipbook",
		"script": "render_flipbook(fps=24)",
		"author": "mei",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	if body["version"].(float64) != 2 {
		t.Fatalf("update: expected version 2, got %v", body["version"])
	}
}

func TestPushNoOp(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	payload := map[string]any{"label": "L", "script": "same()", "author": "a"}
	_, first := pushTool(t, srv, "noop", payload)
	resp, second := pushTool(t, srv, "noop", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("no-op: expected 200, got %d", resp.StatusCode)
	}
	if second["no_op"] != true {
		t.Fatalf("expected no_op true, got %v", second["no_op"])
	}
	if second["version"] != first["version"] || second["checksum"] != first["checksum"] {
		t.Fatal("no-op changed version or checksum")
	}
}

func TestPushValidationErrors(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	// Missing script.
	resp, body := pushTool(t, srv, "tool", map[string]any{"label": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["kind"] != "validation" {
		t.Fatalf("expected kind validation, got %v", body["kind"])
	}

	// Malformed body.
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/tools/tool",
		bytes.NewReader([]byte("{not json")))
	resp2, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", resp2.StatusCode)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	resp, err := srv.Client().Get(srv.URL + "/api/tools/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["kind"] != "not_found" {
		t.Fatalf("expected kind not_found, got %q", body["kind"])
	}
}

func TestDeleteFlow(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	pushTool(t, srv, "wedge", map[string]any{"script": "wedge()"})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/tools/wedge", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}

	// Deleting again is a clean 404, not a failure.
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/tools/wedge", nil)
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}

	resp, err = srv.Client().Get(srv.URL + "/api/tools/wedge")
	if err != nil {
		t.Fatalf("fetch after delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("fetch after delete: expected 404, got %d", resp.StatusCode)
	}
}

func TestListEmptyRegistryIsArray(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	resp, err := srv.Client().Get(srv.URL + "/api/tools")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Fresh deployments must serve an iterable array, never null.
	tools, ok := body["tools"].([]any)
	if !ok {
		t.Fatalf("tools is %T, want JSON array", body["tools"])
	}
	if len(tools) != 0 || body["count"].(float64) != 0 {
		t.Fatalf("expected empty list, got %v", body)
	}
}

func TestListOrdering(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	for _, name := range []string{"b", "a", "c"} {
		pushTool(t, srv, name, map[string]any{"script": "s-" + name})
	}

	resp, err := srv.Client().Get(srv.URL + "/api/tools")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 3 {
		t.Fatalf("expected 3 tools, got %d", body.Count)
	}
	for i, want := range []string{"a", "b", "c"} {
		if body.Tools[i].Name != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, body.Tools[i].Name)
		}
	}
}

func TestIconEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	// PNG magic so content sniffing has something to chew on.
	icon := []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	pushTool(t, srv, "iconic", map[string]any{"script": "x()", "icon": icon})
	pushTool(t, srv, "plain", map[string]any{"script": "y()"})

	resp, err := srv.Client().Get(srv.URL + "/api/tools/iconic/icon")
	if err != nil {
		t.Fatalf("icon: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("icon: expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(raw, icon) {
		t.Fatalf("icon bytes mismatch: %v", raw)
	}

	resp, err = srv.Client().Get(srv.URL + "/api/tools/plain/icon")
	if err != nil {
		t.Fatalf("plain icon: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("iconless tool: expected 404, got %d", resp.StatusCode)
	}
}

func TestIconSizeLimit(t *testing.T) {
	limits := defaultLimits()
	limits.MaxIconBytes = 8
	srv := newTestServer(t, limits)

	resp, body := pushTool(t, srv, "bigicon", map[string]any{
		"script": "x()",
		"icon":   bytes.Repeat([]byte{0xff}, 16),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body["kind"] != "validation" {
		t.Fatalf("expected kind validation, got %v", body["kind"])
	}
}

func TestRevisionsEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	pushTool(t, srv, "history", map[string]any{"script": "v1"})
	pushTool(t, srv, "history", map[string]any{"script": "v2"})

	resp, err := srv.Client().Get(srv.URL + "/api/tools/history/revisions")
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Revisions []struct {
			Version int `json:"version"`
		} `json:"revisions"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 2 {
		t.Fatalf("expected 2 revisions, got %d", body.Count)
	}
	if body.Revisions[0].Version != 2 {
		t.Fatalf("expected newest first, got version %d", body.Revisions[0].Version)
	}

	resp, err = srv.Client().Get(srv.URL + "/api/tools/ghost/revisions")
	if err != nil {
		t.Fatalf("ghost revisions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown name: expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, defaultLimits())

	pushTool(t, srv, "one", map[string]any{"script": "x"})

	resp, err := srv.Client().Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["tools"].(float64) != 1 {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestPushRateLimit(t *testing.T) {
	limits := defaultLimits()
	limits.PushRateLimit = 3
	limits.PushRateWindow = 60
	srv := newTestServer(t, limits)

	var last int
	for i := 0; i < 5; i++ {
		resp, _ := pushTool(t, srv, "limited", map[string]any{
			"script": fmt.Sprintf("v%d", i),
		})
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding limit, got %d", last)
	}
}
