package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"procregd/internal/audit"
	"procregd/internal/cluster"
	"procregd/internal/eventfeed"
	"procregd/internal/httpapi"
	"procregd/internal/procid"
	"procregd/internal/scope"
)

const Version = "1.0.0"

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:9100", "HTTP listen address for the control plane and event feed")
	nodeID := flag.String("node-id", "", "This node's id (default: /etc/machine-id prefix, falling back to hostname)")
	auditDBPath := flag.String("audit-db", "/var/lib/procregd/audit.db", "Path to the SQLite audit trail database")
	auditKeyPath := flag.String("audit-key", "/var/lib/procregd/audit.key", "Path to the HMAC key used to chain the audit trail")
	defaultScope := flag.String("default-scope", cluster.DefaultScope, "Scope name brought up at startup")
	flag.Parse()

	id := *nodeID
	if id == "" {
		id = localNodeID()
	}
	node := procid.NodeID(id)

	db, err := sql.Open("sqlite3", *auditDBPath+"?_journal_mode=WAL&_busy_timeout=30000&_synchronous=FULL")
	if err != nil {
		log.Fatalf("failed to open audit database: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(audit.Schema); err != nil {
		log.Fatalf("audit schema initialization failed: %v", err)
	}

	auditKey, err := audit.LoadOrCreateAuditKey(*auditKeyPath)
	if err != nil {
		log.Printf("WARNING: audit HMAC key unavailable (%v) — chain disabled", err)
		auditKey = nil
	}
	bufferedLogger := audit.NewBufferedLogger(db, 100, 5*time.Second, auditKey)
	bufferedLogger.Start()
	defer bufferedLogger.Stop()

	// The mesh is an in-process simulation of the out-of-scope wire
	// transport (see internal/scope.Mesh) — this single daemon process
	// owns one node's view of the cluster. Wiring a real transport
	// binding (gossip over UDP/TCP) to the mesh interface is future
	// work, not something this control plane needs to know about.
	mesh := scope.NewMesh()
	mgr := cluster.NewManager(node, mesh)
	mgr.Audit = audit.NewRecorder(node, bufferedLogger, nil, func() int64 { return time.Now().UnixNano() })

	feed := eventfeed.NewHub()
	go feed.Run()
	mgr.EventFeed = feed

	mgr.NewScope(*defaultScope, nil, nil)
	defer mgr.Stop()

	router := httpapi.NewRouter(mgr)
	router.Handle("/events", feed).Methods("GET")

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("procregd node=%s listening on %s", node, *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	log.Println("server stopped")
}

// localNodeID returns the machine ID from /etc/machine-id, falling back
// to the hostname.
func localNodeID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		id := strings.TrimSpace(string(data))
		if len(id) > 8 {
			id = id[:8]
		}
		return id
	}
	host, _ := os.Hostname()
	return host
}
