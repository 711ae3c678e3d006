// Package httpapi is the read-only HTTP control plane over a
// cluster.Manager.
//
// It never exposes register/unregister/join — those remain a Go
// function-call API, not a wire protocol, keeping a clean split between
// cluster.Manager (a Go API) and this package (an HTTP veneer over it
// for operators).
package httpapi

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"procregd/internal/cluster"
)

// Handler serves the introspection endpoints for one Manager.
type Handler struct {
	mgr *cluster.Manager
}

// NewHandler builds a Handler backed by mgr.
func NewHandler(mgr *cluster.Manager) *Handler {
	return &Handler{mgr: mgr}
}

// NewRouter builds a mux.Router with every route registered and the
// teacher's request-logging middleware applied.
func NewRouter(mgr *cluster.Manager) *mux.Router {
	h := NewHandler(mgr)
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/status", h.Status).Methods("GET")
	r.HandleFunc("/scopes", h.Scopes).Methods("GET")
	r.HandleFunc("/scopes/{scope}/lookup/{name}", h.Lookup).Methods("GET")
	r.HandleFunc("/scopes/{scope}/members/{group}", h.Members).Methods("GET")
	r.HandleFunc("/peers", h.Peers).Methods("GET")
	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[httpapi] %s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Status returns this node's scopes and visible peers.
// GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"scopes":  h.mgr.Scopes(),
		"peers":   h.mgr.Peers(),
	})
}

// Scopes lists every scope brought up on this node.
// GET /scopes
func (h *Handler) Scopes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"scopes":  h.mgr.Scopes(),
	})
}

// Peers lists every node currently visible on the mesh.
// GET /peers
func (h *Handler) Peers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"peers":   h.mgr.Peers(),
	})
}

// Lookup resolves one registered name within a scope.
// GET /scopes/{scope}/lookup/{name}
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !h.mgr.HasScope(vars["scope"]) {
		respondError(w, http.StatusNotFound, "no such scope")
		return
	}
	pid, meta, found := h.mgr.Lookup(vars["scope"], vars["name"])
	if !found {
		respondError(w, http.StatusNotFound, "no such name in scope")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pid":     pid,
		"meta":    meta,
	})
}

// Members lists every pid currently in a group.
// GET /scopes/{scope}/members/{group}
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !h.mgr.HasScope(vars["scope"]) {
		respondError(w, http.StatusNotFound, "no such scope")
		return
	}
	members := h.mgr.GetMembers(vars["scope"], vars["group"])
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"members": members,
	})
}

// Healthz is an unauthenticated liveness probe for load balancers.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
