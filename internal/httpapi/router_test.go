package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"procregd/internal/cluster"
	"procregd/internal/scope"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestLookupReturnsRegisteredPid(t *testing.T) {
	mesh := scope.NewMesh()
	mgr := cluster.NewManager("a", mesh)
	mgr.NewScope("s1", nil, nil)
	t.Cleanup(mgr.Stop)

	pid := mgr.Spawn()
	if _, err := mgr.Register("s1", "alpha", pid, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, func() bool {
		_, _, found := mgr.Lookup("s1", "alpha")
		return found
	})

	r := NewRouter(mgr)
	req := httptest.NewRequest("GET", "/scopes/s1/lookup/alpha", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["success"] != true {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestLookupUnknownScopeReturns404NotPanic(t *testing.T) {
	mesh := scope.NewMesh()
	mgr := cluster.NewManager("a", mesh)
	t.Cleanup(mgr.Stop)

	r := NewRouter(mgr)
	req := httptest.NewRequest("GET", "/scopes/nope/lookup/alpha", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLookupUnknownNameReturns404(t *testing.T) {
	mesh := scope.NewMesh()
	mgr := cluster.NewManager("a", mesh)
	mgr.NewScope("s1", nil, nil)
	t.Cleanup(mgr.Stop)

	r := NewRouter(mgr)
	req := httptest.NewRequest("GET", "/scopes/s1/lookup/ghost", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthzAndStatus(t *testing.T) {
	mesh := scope.NewMesh()
	mgr := cluster.NewManager("a", mesh)
	mgr.NewScope("s1", nil, nil)
	t.Cleanup(mgr.Stop)

	r := NewRouter(mgr)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	scopes, _ := body["scopes"].([]interface{})
	if len(scopes) != 1 || scopes[0] != "s1" {
		t.Fatalf("expected scopes=[s1], got %+v", body["scopes"])
	}
}
