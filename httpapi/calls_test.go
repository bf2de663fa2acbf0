package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/agentmux/internal/persist"
	"pkt.systems/agentmux/schema"
)

func newTestServer(t *testing.T, stub *serviceStub) (*Server, *persist.Store) {
	t.Helper()
	store, err := persist.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	hub := NewHub(stub, store, nil)
	return NewServer(Config{Addr: ":0"}, stub, store, hub, nil, nil), store
}

func call(t *testing.T, handler http.Handler, method string, args ...any) schema.CallResult {
	t.Helper()
	raws := make([]json.RawMessage, 0, len(args))
	for _, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			t.Fatalf("marshal arg: %v", err)
		}
		raws = append(raws, data)
	}
	body, err := json.Marshal(schema.CallRequest{Method: method, Args: raws})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/call", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("call %s: expected 200, got %d: %s", method, rec.Code, rec.Body.String())
	}
	var result schema.CallResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("call %s: result unreadable: %v", method, err)
	}
	return result
}

func TestCallUnknownMethodFailsInsideEnvelope(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	handler := server.Handler()

	result := call(t, handler, "no-such-method")
	if result.Success {
		t.Fatalf("unknown method must fail")
	}
	if !strings.Contains(result.Error, "no-such-method") {
		t.Fatalf("error should name the method: %q", result.Error)
	}
}

func TestCallRejectsNonPost(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	req := httptest.NewRequest(http.MethodGet, "/api/call", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCallItemLifecycle(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	handler := server.Handler()

	result := call(t, handler, "create-item", schema.UnifiedItem{
		Type: schema.ItemProject,
		Name: "Demo",
		Path: "/work/demo",
	})
	if !result.Success {
		t.Fatalf("create-item failed: %s", result.Error)
	}
	created, ok := result.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected create-item data: %T", result.Data)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("created item has no id: %+v", created)
	}

	result = call(t, handler, "list-items")
	if !result.Success {
		t.Fatalf("list-items failed: %s", result.Error)
	}
	items, ok := result.Data.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("expected one item, got %+v", result.Data)
	}

	result = call(t, handler, "delete-item", id)
	if !result.Success {
		t.Fatalf("delete-item failed: %s", result.Error)
	}
	result = call(t, handler, "delete-item", id)
	if result.Success {
		t.Fatalf("second delete must fail")
	}
}

func TestCallStartSessionResolvesStoredItem(t *testing.T) {
	stub := &serviceStub{}
	server, store := newTestServer(t, stub)
	handler := server.Handler()

	item, err := store.CreateItem(schema.UnifiedItem{
		Type:       schema.ItemProject,
		Name:       "Demo",
		Path:       "/work/demo",
		RunCommand: "make dev",
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	result := call(t, handler, "start-session", map[string]any{"projectId": item.ID})
	if !result.Success {
		t.Fatalf("start-session failed: %s", result.Error)
	}
	if len(stub.started) != 1 {
		t.Fatalf("service not called: %+v", stub.started)
	}
	req := stub.started[0]
	if req.Path != "/work/demo" || req.RunCommand != "make dev" || string(req.DisplayName) != "Demo" {
		t.Fatalf("stored item not resolved into request: %+v", req)
	}
}

func TestCallStartSessionUnknownItem(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	result := call(t, server.Handler(), "start-session", map[string]any{"projectId": "missing"})
	if result.Success {
		t.Fatalf("expected failure for unknown item")
	}
}

func TestCallSendInputForwardsData(t *testing.T) {
	stub := &serviceStub{}
	server, _ := newTestServer(t, stub)

	result := call(t, server.Handler(), "send-input", "demo", "ls\n")
	if !result.Success {
		t.Fatalf("send-input failed: %s", result.Error)
	}
	if len(stub.inputs) != 1 || string(stub.inputs[0].Data) != "ls\n" {
		t.Fatalf("input not forwarded: %+v", stub.inputs)
	}
}

func TestCallSendInputMissingArgument(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	result := call(t, server.Handler(), "send-input", "demo")
	if result.Success {
		t.Fatalf("expected failure without data argument")
	}
}

func TestCallSettingsRoundTrip(t *testing.T) {
	server, store := newTestServer(t, &serviceStub{})
	handler := server.Handler()

	off := false
	result := call(t, handler, "update-settings", schema.Settings{Theme: "dark", NotificationsOn: &off})
	if !result.Success {
		t.Fatalf("update-settings failed: %s", result.Error)
	}

	result = call(t, handler, "get-settings")
	if !result.Success {
		t.Fatalf("get-settings failed: %s", result.Error)
	}
	settings, ok := result.Data.(map[string]any)
	if !ok || settings["theme"] != "dark" {
		t.Fatalf("unexpected settings: %+v", result.Data)
	}
	if store.Settings().NotificationsEnabled() {
		t.Fatalf("notification preference not persisted")
	}
}

func TestCallMissingDependenciesWithoutChecker(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	result := call(t, server.Handler(), "missing-dependencies")
	if !result.Success {
		t.Fatalf("missing-dependencies failed: %s", result.Error)
	}
	deps, ok := result.Data.([]any)
	if !ok || len(deps) != 0 {
		t.Fatalf("expected empty list, got %+v", result.Data)
	}
}

func TestCallLocalAddressReportsConfiguredPort(t *testing.T) {
	stub := &serviceStub{}
	store, err := persist.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	server := NewServer(Config{Addr: ":27490"}, stub, store, NewHub(stub, store, nil), nil, nil)

	result := call(t, server.Handler(), "local-address")
	if !result.Success {
		t.Fatalf("local-address failed: %s", result.Error)
	}
	addr, ok := result.Data.(map[string]any)
	if !ok {
		t.Fatalf("unexpected data: %+v", result.Data)
	}
	if addr["port"] != "27490" {
		t.Fatalf("expected port 27490, got %v", addr["port"])
	}
	if host, _ := addr["host"].(string); host == "" {
		t.Fatalf("expected a host, got %v", addr["host"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &serviceStub{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "true") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestCallGitOnNonProjectItemFails(t *testing.T) {
	server, store := newTestServer(t, &serviceStub{})
	item, err := store.CreateItem(schema.UnifiedItem{Type: schema.ItemPanel, Name: "Dashboard", URL: "https://grafana.local"})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	result := call(t, server.Handler(), "git-status", item.ID)
	if result.Success {
		t.Fatalf("git call against a panel must fail")
	}
	result = call(t, server.Handler(), "file-tree", fmt.Sprintf("%s-missing", item.ID))
	if result.Success {
		t.Fatalf("file-tree against an unknown item must fail")
	}
}
