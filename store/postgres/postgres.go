// Package postgres implements mirix.Store using PostgreSQL with pgvector
// for native vector similarity search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirix-ai/mirix"
)

// Store implements mirix.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool   *pgxpool.Pool
	cfg    pgConfig
	logger *slog.Logger
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithEmbeddingDimension sets the vector column dimension. When set,
// CREATE TABLE uses vector(N) instead of untyped vector, enabling better
// index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(s *Store) { s.cfg.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory.
func WithHNSWM(m int) Option {
	return func(s *Store) { s.cfg.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds.
func WithEFConstruction(ef int) Option {
	return func(s *Store) { s.cfg.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Applied via SET during Init.
func WithEFSearch(ef int) Option {
	return func(s *Store) { s.cfg.hnswEFSearch = ef }
}

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var _ mirix.Store = (*Store)(nil)

// Backend identifies the store backend in snapshot metadata.
func (s *Store) Backend() string { return "postgres" }

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS episodic_events (
			id TEXT PRIMARY KEY,
			occurred_at BIGINT NOT NULL,
			actor TEXT NOT NULL,
			event_type TEXT NOT NULL,
			summary TEXT NOT NULL,
			details TEXT NOT NULL,
			metadata JSONB,
			summary_embedding %s,
			details_embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS episodic_summary_emb_idx ON episodic_events USING hnsw (summary_embedding vector_cosine_ops)%s`, hnswWith),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS episodic_details_emb_idx ON episodic_events USING hnsw (details_embedding vector_cosine_ops)%s`, hnswWith),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS semantic_items (
			id TEXT PRIMARY KEY,
			concept TEXT NOT NULL,
			definition TEXT NOT NULL,
			details TEXT NOT NULL,
			source TEXT,
			metadata JSONB,
			concept_embedding %s,
			definition_embedding %s,
			details_embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype, vtype, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS semantic_concept_emb_idx ON semantic_items USING hnsw (concept_embedding vector_cosine_ops)%s`, hnswWith),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS procedural_items (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			description TEXT NOT NULL,
			steps JSONB NOT NULL,
			metadata JSONB,
			description_embedding %s,
			steps_embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS procedural_desc_emb_idx ON procedural_items USING hnsw (description_embedding vector_cosine_ops)%s`, hnswWith),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS resource_items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			resource_type TEXT,
			content TEXT,
			metadata JSONB,
			summary_embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS resource_summary_emb_idx ON resource_items USING hnsw (summary_embedding vector_cosine_ops)%s`, hnswWith),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_vault (
			id TEXT PRIMARY KEY,
			entry_type TEXT NOT NULL,
			source TEXT,
			sensitivity TEXT NOT NULL,
			secret_value TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata JSONB,
			description_embedding %s,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS vault_desc_emb_idx ON knowledge_vault USING hnsw (description_embedding vector_cosine_ops)%s`, hnswWith),

		`CREATE TABLE IF NOT EXISTS core_blocks (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			label TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE(agent_id, label)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT,
			tool_calls JSONB,
			step_id TEXT,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_agent ON messages(agent_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS cloud_file_mapping (
			id TEXT PRIMARY KEY,
			local_file_id TEXT NOT NULL,
			cloud_file_id TEXT NOT NULL,
			uri TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cloud_local ON cloud_file_mapping(local_file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cloud_remote ON cloud_file_mapping(cloud_file_id)`,

		`CREATE TABLE IF NOT EXISTS provider_keys (
			provider TEXT PRIMARY KEY,
			key TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	s.logger.Info("postgres: init completed")
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

// --- Core blocks ---

// GetCoreBlock returns the block for (agentID, label).
func (s *Store) GetCoreBlock(ctx context.Context, agentID, label string) (*mirix.CoreBlock, error) {
	var b mirix.CoreBlock
	var created, updated int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, label, value, created_at, updated_at FROM core_blocks WHERE agent_id = $1 AND label = $2`,
		agentID, label,
	).Scan(&b.ID, &b.AgentID, &b.Label, &b.Value, &created, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "core block", ID: agentID + "/" + label}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get core block: %w", err)
	}
	b.CreatedAt, b.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &b, nil
}

// UpsertCoreBlock inserts or replaces the value for (agent, label).
func (s *Store) UpsertCoreBlock(ctx context.Context, b *mirix.CoreBlock) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO core_blocks (id, agent_id, label, value, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (agent_id, label) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		b.ID, b.AgentID, b.Label, b.Value, toUnixNano(b.CreatedAt), toUnixNano(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: upsert core block: %w", err)
	}
	return nil
}

// ListCoreBlocks returns every block for one agent, oldest first.
func (s *Store) ListCoreBlocks(ctx context.Context, agentID string) ([]*mirix.CoreBlock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, label, value, created_at, updated_at FROM core_blocks WHERE agent_id = $1 ORDER BY created_at`,
		agentID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list core blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*mirix.CoreBlock
	for rows.Next() {
		var b mirix.CoreBlock
		var created, updated int64
		if err := rows.Scan(&b.ID, &b.AgentID, &b.Label, &b.Value, &created, &updated); err != nil {
			return nil, fmt.Errorf("postgres: scan core block: %w", err)
		}
		b.CreatedAt, b.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

// --- Message log ---

// AppendMessage inserts one message into the append-only log.
func (s *Store) AppendMessage(ctx context.Context, m *mirix.Message) error {
	var callsJSON *string
	if len(m.ToolCalls) > 0 {
		data, _ := json.Marshal(m.ToolCalls)
		v := string(data)
		callsJSON = &v
	}
	var stepID *string
	if m.StepID != "" {
		stepID = &m.StepID
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, agent_id, role, text, tool_calls, step_id, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)`,
		m.ID, m.AgentID, m.Role, m.Text, callsJSON, stepID, toUnixNano(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: append message: %w", err)
	}
	return nil
}

// RecentMessages returns the most recent messages for an agent,
// ordered chronologically (oldest first).
func (s *Store) RecentMessages(ctx context.Context, agentID string, limit int) ([]*mirix.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent_id, role, text, tool_calls, step_id, created_at
		 FROM messages WHERE agent_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*mirix.Message
	for rows.Next() {
		var m mirix.Message
		var callsJSON []byte
		var stepID *string
		var created int64
		if err := rows.Scan(&m.ID, &m.AgentID, &m.Role, &m.Text, &callsJSON, &stepID, &created); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		if callsJSON != nil {
			_ = json.Unmarshal(callsJSON, &m.ToolCalls)
		}
		if stepID != nil {
			m.StepID = *stepID
		}
		m.CreatedAt = fromUnixNano(created)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cloud_file_mapping (id, local_file_id, cloud_file_id, uri, timestamp, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.LocalFileID, m.CloudFileID, m.URI, toUnixNano(m.Timestamp), m.Status, toUnixNano(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create cloud mapping: %w", err)
	}
	return nil
}

// CloudMappingByLocal returns the newest non-deleted mapping for a local file.
func (s *Store) CloudMappingByLocal(ctx context.Context, localFileID string) (*mirix.CloudFileMapping, error) {
	var m mirix.CloudFileMapping
	var ts, created int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, local_file_id, cloud_file_id, uri, timestamp, status, created_at
		 FROM cloud_file_mapping
		 WHERE local_file_id = $1 AND status != $2
		 ORDER BY created_at DESC LIMIT 1`,
		localFileID, mirix.CloudFileDeleted,
	).Scan(&m.ID, &m.LocalFileID, &m.CloudFileID, &m.URI, &ts, &m.Status, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "cloud mapping", ID: localFileID}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: cloud mapping by local: %w", err)
	}
	m.Timestamp, m.CreatedAt = fromUnixNano(ts), fromUnixNano(created)
	return &m, nil
}

// SetCloudMappingStatus updates the status of every mapping for one remote
// file.
func (s *Store) SetCloudMappingStatus(ctx context.Context, cloudFileID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cloud_file_mapping SET status = $1 WHERE cloud_file_id = $2`, status, cloudFileID)
	if err != nil {
		return fmt.Errorf("postgres: set cloud mapping status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "cloud mapping", ID: cloudFileID}
	}
	return nil
}

// ListCloudMappings returns every mapping, oldest first.
func (s *Store) ListCloudMappings(ctx context.Context) ([]*mirix.CloudFileMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, local_file_id, cloud_file_id, uri, timestamp, status, created_at
		 FROM cloud_file_mapping ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cloud mappings: %w", err)
	}
	defer rows.Close()

	var mappings []*mirix.CloudFileMapping
	for rows.Next() {
		var m mirix.CloudFileMapping
		var ts, created int64
		if err := rows.Scan(&m.ID, &m.LocalFileID, &m.CloudFileID, &m.URI, &ts, &m.Status, &created); err != nil {
			return nil, fmt.Errorf("postgres: scan cloud mapping: %w", err)
		}
		m.Timestamp, m.CreatedAt = fromUnixNano(ts), fromUnixNano(created)
		mappings = append(mappings, &m)
	}
	return mappings, rows.Err()
}

// DeleteCloudMapping removes one mapping row.
func (s *Store) DeleteCloudMapping(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cloud_file_mapping WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete cloud mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "cloud mapping", ID: id}
	}
	return nil
}

// --- Provider keys ---

// ProviderKey returns the stored key for a provider, or *NotFoundError.
func (s *Store) ProviderKey(ctx context.Context, provider string) (string, error) {
	var key string
	err := s.pool.QueryRow(ctx, `SELECT key FROM provider_keys WHERE provider = $1`, provider).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", &mirix.NotFoundError{Kind: "provider key", ID: provider}
	}
	if err != nil {
		return "", fmt.Errorf("postgres: provider key: %w", err)
	}
	return key, nil
}

// SetProviderKey stores (or replaces) a provider key.
func (s *Store) SetProviderKey(ctx context.Context, provider, key string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_keys (provider, key) VALUES ($1, $2)
		 ON CONFLICT (provider) DO UPDATE SET key = EXCLUDED.key`,
		provider, key)
	if err != nil {
		return fmt.Errorf("postgres: set provider key: %w", err)
	}
	return nil
}

// --- Snapshot / restore ---

const (
	dumpSQLFile    = "dump.sql"
	dumpNativeFile = "dump.pgdump"
)

// Snapshot shells out to pg_dump twice: a plain SQL dump used by Restore,
// and a custom-format dump usable with pg_restore for selective recovery.
// pg_dump must be on PATH.
func (s *Store) Snapshot(ctx context.Context, dir string) error {
	dsn := s.pool.Config().ConnString()

	sqlPath := filepath.Join(dir, dumpSQLFile)
	cmd := exec.CommandContext(ctx, "pg_dump", "--clean", "--if-exists", "--no-owner",
		"--dbname", dsn, "-f", sqlPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("postgres: snapshot: pg_dump: %w: %s", err, out)
	}

	nativePath := filepath.Join(dir, dumpNativeFile)
	cmd = exec.CommandContext(ctx, "pg_dump", "-Fc", "--no-owner",
		"--dbname", dsn, "-f", nativePath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("postgres: snapshot: pg_dump native: %w: %s", err, out)
	}

	s.logger.Info("postgres: snapshot written", "dir", dir)
	return nil
}

// Restore replays the plain SQL dump from dir. The dump was produced with
// --clean, so existing tables are dropped and recreated. psql must be on
// PATH.
func (s *Store) Restore(ctx context.Context, dir string) error {
	dsn := s.pool.Config().ConnString()
	sqlPath := filepath.Join(dir, dumpSQLFile)

	cmd := exec.CommandContext(ctx, "psql", "--quiet", "--single-transaction",
		"--dbname", dsn, "-f", sqlPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("postgres: restore: psql: %w: %s", err, out)
	}

	s.logger.Info("postgres: restored from snapshot", "dir", dir)
	return nil
}

// --- Helpers shared with memory.go ---

func toUnixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

// serializeEmbedding converts []float32 to pgvector's text input format,
// "[0.1,0.2,0.3]".
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// deserializeEmbedding parses pgvector's text output format back to
// []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
		out[i] = float32(f)
	}
	return out, nil
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
