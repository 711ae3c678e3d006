// Package audit is a side, best-effort audit trail of registry and group
// lifecycle events. It is never the registry's source of truth — the
// in-memory tables in internal/table remain authoritative, same as the
// teacher's audit package trails filesystem/ZFS/docker operations without
// backing them.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"
)

// Event is one registry/group lifecycle occurrence.
type Event struct {
	Timestamp int64
	Node      string
	Scope     string
	Action    string // "register", "reregister", "unregister", "conflict_resolved"
	Name      string // registry name or group name
	Pid       string
	Details   string
	Success   bool
}

// BufferedLogger implements batched audit logging for high-throughput
// SQLite writes: a scope that churns registrations should not pay one
// SQLite INSERT per event.
type BufferedLogger struct {
	db            *sql.DB
	buffer        []Event
	bufferMutex   sync.Mutex
	flushTicker   *time.Ticker
	stopChan      chan struct{}
	maxBuffer     int
	flushInterval time.Duration
	hmacKey       []byte // 32-byte key for audit chain integrity; nil = chain disabled
}

// NewBufferedLogger creates a new buffered audit logger.
//
// Flushes every flushInterval OR when the buffer reaches maxBuffer,
// whichever comes first.
func NewBufferedLogger(db *sql.DB, maxBuffer int, flushInterval time.Duration, hmacKey []byte) *BufferedLogger {
	if maxBuffer <= 0 {
		maxBuffer = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &BufferedLogger{
		db:            db,
		buffer:        make([]Event, 0, maxBuffer),
		maxBuffer:     maxBuffer,
		flushInterval: flushInterval,
		stopChan:      make(chan struct{}),
		hmacKey:       hmacKey,
	}
}

// Start begins the background flushing goroutine.
func (bl *BufferedLogger) Start() {
	bl.flushTicker = time.NewTicker(bl.flushInterval)

	go func() {
		for {
			select {
			case <-bl.flushTicker.C:
				if err := bl.Flush(); err != nil {
					log.Printf("[audit] flush: %v", err)
				}
			case <-bl.stopChan:
				bl.flushTicker.Stop()
				if err := bl.Flush(); err != nil {
					log.Printf("[audit] final flush: %v", err)
				}
				return
			}
		}
	}()
}

// Stop gracefully stops the buffered logger.
func (bl *BufferedLogger) Stop() {
	close(bl.stopChan)
}

// ConflictActions bypass the buffer and write directly to SQLite: a
// conflict resolution kills a pid, and an operator investigating a
// disputed name should never find that row missing because the daemon
// crashed before the next periodic flush.
var ConflictActions = map[string]bool{
	"conflict_resolved": true,
}

// Log adds an event to the buffer. Conflict-resolution events bypass the
// buffer and are written directly to guarantee they survive a crash
// before the next flush.
//
// Thread-safe: can be called from multiple goroutines.
func (bl *BufferedLogger) Log(event Event) error {
	if ConflictActions[event.Action] {
		return bl.writeDirect([]Event{event})
	}

	bl.bufferMutex.Lock()
	bl.buffer = append(bl.buffer, event)
	needFlush := len(bl.buffer) >= bl.maxBuffer
	bl.bufferMutex.Unlock()

	if needFlush {
		return bl.Flush()
	}
	return nil
}

// writeDirect writes events synchronously to SQLite, bypassing the buffer.
func (bl *BufferedLogger) writeDirect(events []Event) error {
	tx, err := bl.db.Begin()
	if err != nil {
		return fmt.Errorf("audit direct write: begin: %w", err)
	}
	defer tx.Rollback()

	var prevHash string
	if bl.hmacKey != nil {
		_ = tx.QueryRow(
			`SELECT COALESCE(row_hash,'') FROM process_events ORDER BY id DESC LIMIT 1`,
		).Scan(&prevHash)
	}

	stmt, err := tx.Prepare(`INSERT INTO process_events
		(timestamp, node, scope, action, name, pid, details, success, prev_hash, row_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("audit direct write: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		rowHash := computeRowHash(bl.hmacKey, prevHash, e)
		_, err := stmt.Exec(e.Timestamp, e.Node, e.Scope, e.Action, e.Name, e.Pid, e.Details, e.Success, prevHash, rowHash)
		if err != nil {
			log.Printf("[audit] direct write exec: %v", err)
			continue
		}
		prevHash = rowHash
	}
	return tx.Commit()
}

// Flush writes all buffered events to SQLite in a single transaction.
func (bl *BufferedLogger) Flush() error {
	bl.bufferMutex.Lock()

	if len(bl.buffer) == 0 {
		bl.bufferMutex.Unlock()
		return nil
	}

	events := make([]Event, len(bl.buffer))
	copy(events, bl.buffer)
	bl.buffer = bl.buffer[:0]

	bl.bufferMutex.Unlock()

	tx, err := bl.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Fetch the row_hash of the most recent row to continue the chain.
	// Run inside the transaction so we see a consistent snapshot.
	var prevHash string
	if bl.hmacKey != nil {
		_ = tx.QueryRow(
			`SELECT COALESCE(row_hash,'') FROM process_events ORDER BY id DESC LIMIT 1`,
		).Scan(&prevHash)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO process_events (
			timestamp, node, scope, action, name, pid, details, success,
			prev_hash, row_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		rowHash := computeRowHash(bl.hmacKey, prevHash, event)
		_, err := stmt.Exec(
			event.Timestamp,
			event.Node,
			event.Scope,
			event.Action,
			event.Name,
			event.Pid,
			event.Details,
			event.Success,
			prevHash,
			rowHash,
		)
		if err != nil {
			log.Printf("[audit] insert event: %v", err)
			continue
		}
		prevHash = rowHash
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("[audit] flushed %d events", len(events))
	return nil
}

// Schema returns the DDL for the process_events table. Called once at
// daemon startup before the first Log.
const Schema = `
CREATE TABLE IF NOT EXISTS process_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  INTEGER NOT NULL,
	node       TEXT NOT NULL,
	scope      TEXT NOT NULL,
	action     TEXT NOT NULL,
	name       TEXT NOT NULL,
	pid        TEXT NOT NULL,
	details    TEXT,
	success    INTEGER NOT NULL,
	prev_hash  TEXT,
	row_hash   TEXT
);
`

// Stats returns buffer statistics.
func (bl *BufferedLogger) Stats() map[string]interface{} {
	bl.bufferMutex.Lock()
	defer bl.bufferMutex.Unlock()

	return map[string]interface{}{
		"buffer_size":     len(bl.buffer),
		"max_buffer":      bl.maxBuffer,
		"flush_interval":  bl.flushInterval.String(),
		"buffer_capacity": cap(bl.buffer),
	}
}
