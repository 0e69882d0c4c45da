// Copyright 2026 MissionBay Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/missionbay/agentflow/pkg/protocol"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLMemoryConfig configures a database-backed memory.
type SQLMemoryConfig struct {
	// Driver is one of sqlite3, postgres, mysql.
	Driver string `yaml:"driver" mapstructure:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// Scope partitions histories, typically per user or per session.
	Scope string `yaml:"scope" mapstructure:"scope"`

	Priority int `yaml:"priority" mapstructure:"priority"`
}

// SQLMemory stores node history in a relational database. Histories survive
// flow runs and process restarts.
//
// Writes are serialized per (scope, nodeID); reads go straight to the pool.
type SQLMemory struct {
	db       *sql.DB
	driver   string
	scope    string
	priority int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

const createNodeHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS node_messages (
    scope VARCHAR(255) NOT NULL,
    node_id VARCHAR(255) NOT NULL,
    message_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    message_json TEXT NOT NULL,
    feedback TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope, node_id, message_id)
);
`

// NewSQLMemory opens the database and ensures the schema exists.
func NewSQLMemory(cfg SQLMemoryConfig) (*SQLMemory, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, fmt.Errorf("sql memory: driver and dsn are required")
	}
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql memory: open %s: %w", cfg.Driver, err)
	}

	m := &SQLMemory{
		db:       db,
		driver:   cfg.Driver,
		scope:    cfg.Scope,
		priority: cfg.Priority,
		locks:    make(map[string]*sync.Mutex),
	}

	if _, err := db.Exec(createNodeHistoryTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sql memory: create schema: %w", err)
	}

	return m, nil
}

// rebind converts ? placeholders to $N for postgres.
func (m *SQLMemory) rebind(query string) string {
	if m.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (m *SQLMemory) nodeLock(nodeID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.scope + "\x00" + nodeID
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

func (m *SQLMemory) LoadNodeHistory(ctx context.Context, nodeID string) ([]protocol.Message, error) {
	rows, err := m.db.QueryContext(ctx, m.rebind(
		`SELECT message_json, feedback FROM node_messages
		 WHERE scope = ? AND node_id = ?
		 ORDER BY sequence_num ASC`), m.scope, nodeID)
	if err != nil {
		return nil, fmt.Errorf("sql memory: load history for '%s': %w", nodeID, err)
	}
	defer rows.Close()

	var history []protocol.Message
	for rows.Next() {
		var raw string
		var feedback sql.NullString
		if err := rows.Scan(&raw, &feedback); err != nil {
			return nil, fmt.Errorf("sql memory: scan message: %w", err)
		}
		var msg protocol.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("sql memory: decode message: %w", err)
		}
		if feedback.Valid {
			msg.Feedback = feedback.String
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

func (m *SQLMemory) AppendNodeHistory(ctx context.Context, nodeID string, msg protocol.Message) error {
	lock := m.nodeLock(nodeID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("sql memory: encode message: %w", err)
	}

	var seq int
	row := m.db.QueryRowContext(ctx, m.rebind(
		`SELECT COALESCE(MAX(sequence_num), 0) FROM node_messages
		 WHERE scope = ? AND node_id = ?`), m.scope, nodeID)
	if err := row.Scan(&seq); err != nil {
		return fmt.Errorf("sql memory: next sequence for '%s': %w", nodeID, err)
	}

	_, err = m.db.ExecContext(ctx, m.rebind(
		`INSERT INTO node_messages
		 (scope, node_id, message_id, role, message_json, feedback, sequence_num, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		m.scope, nodeID, msg.ID, string(msg.Role), string(raw),
		nullable(msg.Feedback), seq+1, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sql memory: append to '%s': %w", nodeID, err)
	}
	return nil
}

func (m *SQLMemory) SetFeedback(ctx context.Context, nodeID, messageID, feedback string) (bool, error) {
	lock := m.nodeLock(nodeID)
	lock.Lock()
	defer lock.Unlock()

	res, err := m.db.ExecContext(ctx, m.rebind(
		`UPDATE node_messages SET feedback = ?
		 WHERE scope = ? AND node_id = ? AND message_id = ?`),
		feedback, m.scope, nodeID, messageID)
	if err != nil {
		return false, fmt.Errorf("sql memory: set feedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report affected rows; treat the write as applied.
		return true, nil
	}
	return affected > 0, nil
}

func (m *SQLMemory) ResetNodeHistory(ctx context.Context, nodeID string) error {
	lock := m.nodeLock(nodeID)
	lock.Lock()
	defer lock.Unlock()

	_, err := m.db.ExecContext(ctx, m.rebind(
		`DELETE FROM node_messages WHERE scope = ? AND node_id = ?`), m.scope, nodeID)
	if err != nil {
		return fmt.Errorf("sql memory: reset '%s': %w", nodeID, err)
	}
	return nil
}

func (m *SQLMemory) Priority() int {
	return m.priority
}

// Close closes the underlying pool.
func (m *SQLMemory) Close() error {
	return m.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
