/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"database/sql"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stensrud/srpd/srp"
)

// AuditLog is a write-only sqlite3 log of every event the Commit Engine
// and the Lease Timer produce. It is never read back at startup: the
// registry stays exactly what spec.md requires it to be, a volatile,
// in-memory, re-derived-from-the-network structure. The database only
// exists so an operator can answer "what happened to instance X at
// 14:32" after the fact, grounded on the teacher's sqlite-backed KeyDB
// in db.go/keystore.go but repurposed from authoritative storage to a
// plain append log.
type AuditLog struct {
	db *sql.DB
}

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        DATETIME NOT NULL,
	kind      TEXT NOT NULL,
	host_name TEXT NOT NULL,
	svc_name  TEXT
)`

func NewAuditLog(path string) (*AuditLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createAuditTableSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &AuditLog{db: db}, nil
}

const insertEventSQL = `INSERT INTO events (ts, kind, host_name, svc_name) VALUES (?, ?, ?, ?)`

// HandleEvent implements srp.EventSink. Failures to write are logged, not
// propagated: a stuck or corrupt audit database must never block the
// update pipeline.
func (a *AuditLog) HandleEvent(e srp.Event) {
	if a == nil || a.db == nil {
		return
	}
	if _, err := a.db.Exec(insertEventSQL, time.Now().UTC(), e.Kind.String(), e.HostName, e.ServiceName); err != nil {
		log.Printf("AuditLog: failed to record event %s/%s/%s: %v", e.Kind, e.HostName, e.ServiceName, err)
	}
}

func (a *AuditLog) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
