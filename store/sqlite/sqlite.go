// Package sqlite implements mirix.Store using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mirix-ai/mirix"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements mirix.Store backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done
// in-process using brute-force cosine distance.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ mirix.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: dbPath, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS episodic_events (
			id TEXT PRIMARY KEY,
			occurred_at INTEGER NOT NULL,
			actor TEXT NOT NULL,
			event_type TEXT NOT NULL,
			summary TEXT NOT NULL,
			details TEXT NOT NULL,
			metadata TEXT,
			summary_embedding TEXT,
			details_embedding TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS semantic_items (
			id TEXT PRIMARY KEY,
			concept TEXT NOT NULL,
			definition TEXT NOT NULL,
			details TEXT NOT NULL,
			source TEXT,
			metadata TEXT,
			concept_embedding TEXT,
			definition_embedding TEXT,
			details_embedding TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS procedural_items (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			description TEXT NOT NULL,
			steps TEXT NOT NULL,
			metadata TEXT,
			description_embedding TEXT,
			steps_embedding TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resource_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			resource_type TEXT,
			content TEXT,
			metadata TEXT,
			summary_embedding TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_vault (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			source TEXT,
			sensitivity TEXT NOT NULL,
			secret_value TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata TEXT,
			description_embedding TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS core_blocks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			label TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE(agent_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT,
			tool_calls TEXT,
			step_id TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cloud_file_mapping (
			id TEXT PRIMARY KEY,
			local_file_id TEXT NOT NULL,
			cloud_file_id TEXT NOT NULL,
			uri TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS provider_keys (
			provider TEXT PRIMARY KEY,
			key TEXT NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_agent ON messages(agent_id, created_at)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cloud_local ON cloud_file_mapping(local_file_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_cloud_remote ON cloud_file_mapping(cloud_file_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Backend identifies the store backend in snapshot metadata.
func (s *Store) Backend() string { return "sqlite" }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Core blocks ---

// GetCoreBlock returns the block for (agentID, label).
func (s *Store) GetCoreBlock(ctx context.Context, agentID, label string) (*mirix.CoreBlock, error) {
	var b mirix.CoreBlock
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, label, value, created_at, updated_at FROM core_blocks WHERE agent_id = ? AND label = ?`,
		agentID, label,
	).Scan(&b.ID, &b.AgentID, &b.Label, &b.Value, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "core block", ID: agentID + "/" + label}
	}
	if err != nil {
		return nil, fmt.Errorf("get core block: %w", err)
	}
	b.CreatedAt, b.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &b, nil
}

// UpsertCoreBlock inserts or replaces the value for (agent, label).
func (s *Store) UpsertCoreBlock(ctx context.Context, b *mirix.CoreBlock) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO core_blocks (id, agent_id, label, value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, label) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		b.ID, b.AgentID, b.Label, b.Value, toUnixNano(b.CreatedAt), toUnixNano(b.UpdatedAt),
	)
	if err != nil {
		s.logger.Error("sqlite: upsert core block failed", "agent_id", b.AgentID, "label", b.Label, "error", err)
		return fmt.Errorf("upsert core block: %w", err)
	}
	s.logger.Debug("sqlite: upsert core block ok", "agent_id", b.AgentID, "label", b.Label, "duration", time.Since(start))
	return nil
}

// ListCoreBlocks returns every block for one agent, oldest first.
func (s *Store) ListCoreBlocks(ctx context.Context, agentID string) ([]*mirix.CoreBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, label, value, created_at, updated_at FROM core_blocks WHERE agent_id = ? ORDER BY created_at`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list core blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*mirix.CoreBlock
	for rows.Next() {
		var b mirix.CoreBlock
		var created, updated int64
		if err := rows.Scan(&b.ID, &b.AgentID, &b.Label, &b.Value, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan core block: %w", err)
		}
		b.CreatedAt, b.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// --- Message log ---

// AppendMessage inserts one message into the append-only log.
func (s *Store) AppendMessage(ctx context.Context, m *mirix.Message) error {
	start := time.Now()
	var callsJSON *string
	if len(m.ToolCalls) > 0 {
		data, _ := json.Marshal(m.ToolCalls)
		v := string(data)
		callsJSON = &v
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, agent_id, role, text, tool_calls, step_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Role, m.Text, callsJSON, m.StepID, toUnixNano(m.CreatedAt),
	)
	if err != nil {
		s.logger.Error("sqlite: append message failed", "id", m.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("append message: %w", err)
	}
	s.logger.Debug("sqlite: append message ok", "id", m.ID, "agent_id", m.AgentID, "duration", time.Since(start))
	return nil
}

// RecentMessages returns the most recent messages for an agent,
// ordered chronologically (oldest first).
func (s *Store) RecentMessages(ctx context.Context, agentID string, limit int) ([]*mirix.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, role, text, tool_calls, step_id, created_at
		 FROM messages WHERE agent_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*mirix.Message
	for rows.Next() {
		var m mirix.Message
		var callsJSON sql.NullString
		var stepID sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Role, &m.Text, &callsJSON, &stepID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if callsJSON.Valid {
			_ = json.Unmarshal([]byte(callsJSON.String), &m.ToolCalls)
		}
		if stepID.Valid {
			m.StepID = stepID.String
		}
		m.CreatedAt = fromUnixNano(created)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// --- Cloud file mappings ---

// CreateCloudMapping inserts one local-to-cloud file mapping.
func (s *Store) CreateCloudMapping(ctx context.Context, m *mirix.CloudFileMapping) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cloud_file_mapping (id, local_file_id, cloud_file_id, uri, timestamp, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.LocalFileID, m.CloudFileID, m.URI, toUnixNano(m.Timestamp), m.Status, toUnixNano(m.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create cloud mapping: %w", err)
	}
	s.logger.Debug("sqlite: cloud mapping created", "local", m.LocalFileID, "remote", m.CloudFileID)
	return nil
}

// CloudMappingByLocal returns the newest non-deleted mapping for a local file.
func (s *Store) CloudMappingByLocal(ctx context.Context, localFileID string) (*mirix.CloudFileMapping, error) {
	var m mirix.CloudFileMapping
	var ts, created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, local_file_id, cloud_file_id, uri, timestamp, status, created_at
		 FROM cloud_file_mapping
		 WHERE local_file_id = ? AND status != ?
		 ORDER BY created_at DESC LIMIT 1`,
		localFileID, mirix.CloudFileDeleted,
	).Scan(&m.ID, &m.LocalFileID, &m.CloudFileID, &m.URI, &ts, &m.Status, &created)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "cloud mapping", ID: localFileID}
	}
	if err != nil {
		return nil, fmt.Errorf("cloud mapping by local: %w", err)
	}
	m.Timestamp, m.CreatedAt = fromUnixNano(ts), fromUnixNano(created)
	return &m, nil
}

// SetCloudMappingStatus updates the status of every mapping for one remote
// file.
func (s *Store) SetCloudMappingStatus(ctx context.Context, cloudFileID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cloud_file_mapping SET status = ? WHERE cloud_file_id = ?`, status, cloudFileID)
	if err != nil {
		return fmt.Errorf("set cloud mapping status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "cloud mapping", ID: cloudFileID}
	}
	return nil
}

// ListCloudMappings returns every mapping, oldest first.
func (s *Store) ListCloudMappings(ctx context.Context) ([]*mirix.CloudFileMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, local_file_id, cloud_file_id, uri, timestamp, status, created_at
		 FROM cloud_file_mapping ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cloud mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*mirix.CloudFileMapping
	for rows.Next() {
		var m mirix.CloudFileMapping
		var ts, created int64
		if err := rows.Scan(&m.ID, &m.LocalFileID, &m.CloudFileID, &m.URI, &ts, &m.Status, &created); err != nil {
			return nil, fmt.Errorf("scan cloud mapping: %w", err)
		}
		m.Timestamp, m.CreatedAt = fromUnixNano(ts), fromUnixNano(created)
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

// DeleteCloudMapping removes one mapping row.
func (s *Store) DeleteCloudMapping(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cloud_file_mapping WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cloud mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "cloud mapping", ID: id}
	}
	return nil
}

// --- Provider keys ---

// ProviderKey returns the stored key for a provider, or *NotFoundError.
func (s *Store) ProviderKey(ctx context.Context, provider string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `SELECT key FROM provider_keys WHERE provider = ?`, provider).Scan(&key)
	if err == sql.ErrNoRows {
		return "", &mirix.NotFoundError{Kind: "provider key", ID: provider}
	}
	if err != nil {
		return "", fmt.Errorf("provider key: %w", err)
	}
	return key, nil
}

// SetProviderKey stores (or replaces) a provider key.
func (s *Store) SetProviderKey(ctx context.Context, provider, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO provider_keys (provider, key) VALUES (?, ?)`, provider, key)
	if err != nil {
		return fmt.Errorf("set provider key: %w", err)
	}
	return nil
}

// --- Snapshot / restore ---

const snapshotFile = "sqlite.db"

// Snapshot writes a consistent copy of the database into dir using
// VACUUM INTO, which also compacts it.
func (s *Store) Snapshot(ctx context.Context, dir string) error {
	start := time.Now()
	dest := filepath.Join(dir, snapshotFile)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	s.logger.Info("sqlite: snapshot written", "dest", dest, "duration", time.Since(start))
	return nil
}

// Restore replaces the live database file with the snapshot in dir and
// reopens the connection.
func (s *Store) Restore(ctx context.Context, dir string) error {
	start := time.Now()
	src := filepath.Join(dir, snapshotFile)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("restore: close: %w", err)
	}
	if err := copyFile(src, s.path); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("restore: reopen: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	s.logger.Info("sqlite: restored from snapshot", "src", src, "duration", time.Since(start))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// --- Helpers shared with memory.go ---

func toUnixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

func nullableEmbedding(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	s := serializeEmbedding(v)
	return &s
}

func nullableJSON(v map[string]any) *string {
	if len(v) == 0 {
		return nil
	}
	data, _ := json.Marshal(v)
	s := string(data)
	return &s
}
