package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mirix-ai/mirix"
)

// Per-kind searchable fields, mapping to (text column, embedding column).
// An unknown field falls back to the kind's default.
var (
	episodicFields = map[string][2]string{
		"summary": {"summary", "summary_embedding"},
		"details": {"details", "details_embedding"},
	}
	semanticFields = map[string][2]string{
		"concept":    {"concept", "concept_embedding"},
		"definition": {"definition", "definition_embedding"},
		"details":    {"details", "details_embedding"},
	}
	proceduralFields = map[string][2]string{
		"description": {"description", "description_embedding"},
		"steps":       {"steps", "steps_embedding"},
	}
	resourceFields = map[string][2]string{
		"summary": {"summary", "summary_embedding"},
		"title":   {"title", "summary_embedding"},
		"content": {"content", "summary_embedding"},
	}
	vaultFields = map[string][2]string{
		"description": {"description", "description_embedding"},
	}
)

func fieldColumns(fields map[string][2]string, field, def string) (text, emb string) {
	if cols, ok := fields[field]; ok {
		return cols[0], cols[1]
	}
	cols := fields[def]
	return cols[0], cols[1]
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

// searchSQL builds the query for one search method over one table.
// Semantic ranking is done by pgvector with the contractual tie-break on
// created_at then id.
func searchSQL(columns, table string, q mirix.SearchQuery, textCol, embCol string) (string, []any) {
	switch q.Method {
	case mirix.SearchStringMatch:
		return `SELECT ` + columns + ` FROM ` + table + `
			WHERE position(lower($1) in lower(` + textCol + `)) > 0
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit), []any{q.Text}
	case mirix.SearchSemanticMatch:
		return `SELECT ` + columns + ` FROM ` + table + `
			WHERE ` + embCol + ` IS NOT NULL
			ORDER BY ` + embCol + ` <=> $1::vector, created_at, id` + limitClause(q.Limit),
			[]any{serializeEmbedding(q.Embedding)}
	default:
		return `SELECT ` + columns + ` FROM ` + table + `
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit), nil
	}
}

// --- Episodic events ---

const episodicColumns = `id, occurred_at, actor, event_type, summary, details, metadata,
	summary_embedding::text, details_embedding::text, created_at, updated_at`

// CreateEpisodic inserts one event.
func (s *Store) CreateEpisodic(ctx context.Context, ev *mirix.EpisodicEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO episodic_events
		 (id, occurred_at, actor, event_type, summary, details, metadata, summary_embedding, details_embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::vector, $9::vector, $10, $11)`,
		ev.ID, toUnixNano(ev.OccurredAt), string(ev.Actor), ev.EventType, ev.Summary, ev.Details,
		nullableJSON(ev.Metadata), nullableEmbedding(ev.SummaryEmbedding), nullableEmbedding(ev.DetailsEmbedding),
		toUnixNano(ev.CreatedAt), toUnixNano(ev.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create episodic: %w", err)
	}
	return nil
}

func scanEpisodic(row pgx.Row) (*mirix.EpisodicEvent, error) {
	var ev mirix.EpisodicEvent
	var actor string
	var occurred, created, updated int64
	var metaJSON []byte
	var sumEmb, detEmb *string
	err := row.Scan(&ev.ID, &occurred, &actor, &ev.EventType, &ev.Summary, &ev.Details,
		&metaJSON, &sumEmb, &detEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	ev.Actor = mirix.Actor(actor)
	ev.OccurredAt = fromUnixNano(occurred)
	ev.CreatedAt, ev.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &ev.Metadata)
	}
	if sumEmb != nil {
		ev.SummaryEmbedding, _ = deserializeEmbedding(*sumEmb)
	}
	if detEmb != nil {
		ev.DetailsEmbedding, _ = deserializeEmbedding(*detEmb)
	}
	return &ev, nil
}

// GetEpisodic returns one event by id.
func (s *Store) GetEpisodic(ctx context.Context, id string) (*mirix.EpisodicEvent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+episodicColumns+` FROM episodic_events WHERE id = $1`, id)
	ev, err := scanEpisodic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "episodic event", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get episodic: %w", err)
	}
	return ev, nil
}

// UpdateEpisodic overwrites every mutable column of an event.
func (s *Store) UpdateEpisodic(ctx context.Context, ev *mirix.EpisodicEvent) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE episodic_events SET occurred_at=$1, actor=$2, event_type=$3, summary=$4, details=$5, metadata=$6::jsonb,
		 summary_embedding=$7::vector, details_embedding=$8::vector, updated_at=$9 WHERE id=$10`,
		toUnixNano(ev.OccurredAt), string(ev.Actor), ev.EventType, ev.Summary, ev.Details,
		nullableJSON(ev.Metadata), nullableEmbedding(ev.SummaryEmbedding), nullableEmbedding(ev.DetailsEmbedding),
		toUnixNano(ev.UpdatedAt), ev.ID)
	if err != nil {
		return fmt.Errorf("postgres: update episodic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "episodic event", ID: ev.ID}
	}
	return nil
}

// DeleteEpisodic removes one event.
func (s *Store) DeleteEpisodic(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM episodic_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete episodic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "episodic event", ID: id}
	}
	return nil
}

// SearchEpisodic lists events per q.
func (s *Store) SearchEpisodic(ctx context.Context, q mirix.SearchQuery) ([]*mirix.EpisodicEvent, error) {
	textCol, embCol := fieldColumns(episodicFields, q.Field, "summary")
	query, args := searchSQL(episodicColumns, "episodic_events", q, textCol, embCol)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search episodic: %w", err)
	}
	defer rows.Close()

	var events []*mirix.EpisodicEvent
	for rows.Next() {
		ev, err := scanEpisodic(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan episodic: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Semantic items ---

const semanticColumns = `id, concept, definition, details, source, metadata,
	concept_embedding::text, definition_embedding::text, details_embedding::text, created_at, updated_at`

// CreateSemantic inserts one item.
func (s *Store) CreateSemantic(ctx context.Context, it *mirix.SemanticItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO semantic_items
		 (id, concept, definition, details, source, metadata, concept_embedding, definition_embedding, details_embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::vector, $8::vector, $9::vector, $10, $11)`,
		it.ID, it.Concept, it.Definition, it.Details, it.Source, nullableJSON(it.Metadata),
		nullableEmbedding(it.ConceptEmbedding), nullableEmbedding(it.DefinitionEmbedding), nullableEmbedding(it.DetailsEmbedding),
		toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create semantic: %w", err)
	}
	return nil
}

func scanSemantic(row pgx.Row) (*mirix.SemanticItem, error) {
	var it mirix.SemanticItem
	var source, conEmb, defEmb, detEmb *string
	var metaJSON []byte
	var created, updated int64
	err := row.Scan(&it.ID, &it.Concept, &it.Definition, &it.Details, &source, &metaJSON,
		&conEmb, &defEmb, &detEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	if source != nil {
		it.Source = *source
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &it.Metadata)
	}
	if conEmb != nil {
		it.ConceptEmbedding, _ = deserializeEmbedding(*conEmb)
	}
	if defEmb != nil {
		it.DefinitionEmbedding, _ = deserializeEmbedding(*defEmb)
	}
	if detEmb != nil {
		it.DetailsEmbedding, _ = deserializeEmbedding(*detEmb)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetSemantic returns one item by id.
func (s *Store) GetSemantic(ctx context.Context, id string) (*mirix.SemanticItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+semanticColumns+` FROM semantic_items WHERE id = $1`, id)
	it, err := scanSemantic(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "semantic item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get semantic: %w", err)
	}
	return it, nil
}

// UpdateSemantic overwrites every mutable column of an item.
func (s *Store) UpdateSemantic(ctx context.Context, it *mirix.SemanticItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE semantic_items SET concept=$1, definition=$2, details=$3, source=$4, metadata=$5::jsonb,
		 concept_embedding=$6::vector, definition_embedding=$7::vector, details_embedding=$8::vector, updated_at=$9 WHERE id=$10`,
		it.Concept, it.Definition, it.Details, it.Source, nullableJSON(it.Metadata),
		nullableEmbedding(it.ConceptEmbedding), nullableEmbedding(it.DefinitionEmbedding), nullableEmbedding(it.DetailsEmbedding),
		toUnixNano(it.UpdatedAt), it.ID)
	if err != nil {
		return fmt.Errorf("postgres: update semantic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "semantic item", ID: it.ID}
	}
	return nil
}

// DeleteSemantic removes one item.
func (s *Store) DeleteSemantic(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM semantic_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete semantic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "semantic item", ID: id}
	}
	return nil
}

// SearchSemantic lists items per q.
func (s *Store) SearchSemantic(ctx context.Context, q mirix.SearchQuery) ([]*mirix.SemanticItem, error) {
	textCol, embCol := fieldColumns(semanticFields, q.Field, "concept")
	query, args := searchSQL(semanticColumns, "semantic_items", q, textCol, embCol)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search semantic: %w", err)
	}
	defer rows.Close()

	var items []*mirix.SemanticItem
	for rows.Next() {
		it, err := scanSemantic(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan semantic: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Procedural items ---

const proceduralColumns = `id, entry_type, description, steps, metadata,
	description_embedding::text, steps_embedding::text, created_at, updated_at`

// CreateProcedural inserts one item. Steps are stored as a JSON array.
func (s *Store) CreateProcedural(ctx context.Context, it *mirix.ProceduralItem) error {
	stepsJSON, _ := json.Marshal(it.Steps)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO procedural_items
		 (id, entry_type, description, steps, metadata, description_embedding, steps_embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::vector, $7::vector, $8, $9)`,
		it.ID, it.EntryType, it.Description, string(stepsJSON), nullableJSON(it.Metadata),
		nullableEmbedding(it.DescriptionEmbedding), nullableEmbedding(it.StepsEmbedding),
		toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create procedural: %w", err)
	}
	return nil
}

func scanProcedural(row pgx.Row) (*mirix.ProceduralItem, error) {
	var it mirix.ProceduralItem
	var stepsJSON, metaJSON []byte
	var descEmb, stepsEmb *string
	var created, updated int64
	err := row.Scan(&it.ID, &it.EntryType, &it.Description, &stepsJSON, &metaJSON,
		&descEmb, &stepsEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(stepsJSON, &it.Steps)
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &it.Metadata)
	}
	if descEmb != nil {
		it.DescriptionEmbedding, _ = deserializeEmbedding(*descEmb)
	}
	if stepsEmb != nil {
		it.StepsEmbedding, _ = deserializeEmbedding(*stepsEmb)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetProcedural returns one item by id.
func (s *Store) GetProcedural(ctx context.Context, id string) (*mirix.ProceduralItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+proceduralColumns+` FROM procedural_items WHERE id = $1`, id)
	it, err := scanProcedural(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "procedural item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get procedural: %w", err)
	}
	return it, nil
}

// UpdateProcedural overwrites every mutable column of an item.
func (s *Store) UpdateProcedural(ctx context.Context, it *mirix.ProceduralItem) error {
	stepsJSON, _ := json.Marshal(it.Steps)
	tag, err := s.pool.Exec(ctx,
		`UPDATE procedural_items SET entry_type=$1, description=$2, steps=$3::jsonb, metadata=$4::jsonb,
		 description_embedding=$5::vector, steps_embedding=$6::vector, updated_at=$7 WHERE id=$8`,
		it.EntryType, it.Description, string(stepsJSON), nullableJSON(it.Metadata),
		nullableEmbedding(it.DescriptionEmbedding), nullableEmbedding(it.StepsEmbedding),
		toUnixNano(it.UpdatedAt), it.ID)
	if err != nil {
		return fmt.Errorf("postgres: update procedural: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "procedural item", ID: it.ID}
	}
	return nil
}

// DeleteProcedural removes one item.
func (s *Store) DeleteProcedural(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM procedural_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete procedural: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "procedural item", ID: id}
	}
	return nil
}

// SearchProcedural lists items per q. String match against steps runs over
// the JSON array text.
func (s *Store) SearchProcedural(ctx context.Context, q mirix.SearchQuery) ([]*mirix.ProceduralItem, error) {
	textCol, embCol := fieldColumns(proceduralFields, q.Field, "description")
	if textCol == "steps" {
		textCol = "steps::text"
	}
	query, args := searchSQL(proceduralColumns, "procedural_items", q, textCol, embCol)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search procedural: %w", err)
	}
	defer rows.Close()

	var items []*mirix.ProceduralItem
	for rows.Next() {
		it, err := scanProcedural(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan procedural: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Resource items ---

const resourceColumns = `id, title, summary, resource_type, content, metadata,
	summary_embedding::text, created_at, updated_at`

// CreateResource inserts one item.
func (s *Store) CreateResource(ctx context.Context, it *mirix.ResourceItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resource_items
		 (id, title, summary, resource_type, content, metadata, summary_embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::vector, $8, $9)`,
		it.ID, it.Title, it.Summary, it.ResourceType, it.Content, nullableJSON(it.Metadata),
		nullableEmbedding(it.SummaryEmbedding), toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create resource: %w", err)
	}
	return nil
}

func scanResource(row pgx.Row) (*mirix.ResourceItem, error) {
	var it mirix.ResourceItem
	var resourceType, content, sumEmb *string
	var metaJSON []byte
	var created, updated int64
	err := row.Scan(&it.ID, &it.Title, &it.Summary, &resourceType, &content, &metaJSON,
		&sumEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	if resourceType != nil {
		it.ResourceType = *resourceType
	}
	if content != nil {
		it.Content = *content
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &it.Metadata)
	}
	if sumEmb != nil {
		it.SummaryEmbedding, _ = deserializeEmbedding(*sumEmb)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetResource returns one item by id.
func (s *Store) GetResource(ctx context.Context, id string) (*mirix.ResourceItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resource_items WHERE id = $1`, id)
	it, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "resource item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get resource: %w", err)
	}
	return it, nil
}

// UpdateResource overwrites every mutable column of an item.
func (s *Store) UpdateResource(ctx context.Context, it *mirix.ResourceItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE resource_items SET title=$1, summary=$2, resource_type=$3, content=$4, metadata=$5::jsonb,
		 summary_embedding=$6::vector, updated_at=$7 WHERE id=$8`,
		it.Title, it.Summary, it.ResourceType, it.Content, nullableJSON(it.Metadata),
		nullableEmbedding(it.SummaryEmbedding), toUnixNano(it.UpdatedAt), it.ID)
	if err != nil {
		return fmt.Errorf("postgres: update resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "resource item", ID: it.ID}
	}
	return nil
}

// DeleteResource removes one item.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM resource_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete resource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "resource item", ID: id}
	}
	return nil
}

// SearchResource lists items per q. Semantic search always ranks against the
// summary embedding.
func (s *Store) SearchResource(ctx context.Context, q mirix.SearchQuery) ([]*mirix.ResourceItem, error) {
	textCol, embCol := fieldColumns(resourceFields, q.Field, "summary")
	query, args := searchSQL(resourceColumns, "resource_items", q, textCol, embCol)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search resource: %w", err)
	}
	defer rows.Close()

	var items []*mirix.ResourceItem
	for rows.Next() {
		it, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resource: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Knowledge vault ---

const vaultColumns = `id, entry_type, source, sensitivity, secret_value, description, metadata,
	description_embedding::text, created_at, updated_at`

// CreateVaultItem inserts one entry.
func (s *Store) CreateVaultItem(ctx context.Context, it *mirix.KnowledgeVaultItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO knowledge_vault
		 (id, entry_type, source, sensitivity, secret_value, description, metadata, description_embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::vector, $9, $10)`,
		it.ID, it.EntryType, it.Source, string(it.Sensitivity), it.SecretValue, it.Description,
		nullableJSON(it.Metadata), nullableEmbedding(it.DescriptionEmbedding),
		toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt))
	if err != nil {
		return fmt.Errorf("postgres: create vault item: %w", err)
	}
	return nil
}

func scanVaultItem(row pgx.Row) (*mirix.KnowledgeVaultItem, error) {
	var it mirix.KnowledgeVaultItem
	var sensitivity string
	var source, descEmb *string
	var metaJSON []byte
	var created, updated int64
	err := row.Scan(&it.ID, &it.EntryType, &source, &sensitivity, &it.SecretValue, &it.Description,
		&metaJSON, &descEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	it.Sensitivity = mirix.Sensitivity(sensitivity)
	if source != nil {
		it.Source = *source
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &it.Metadata)
	}
	if descEmb != nil {
		it.DescriptionEmbedding, _ = deserializeEmbedding(*descEmb)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetVaultItem returns one entry by id.
func (s *Store) GetVaultItem(ctx context.Context, id string) (*mirix.KnowledgeVaultItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+vaultColumns+` FROM knowledge_vault WHERE id = $1`, id)
	it, err := scanVaultItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &mirix.NotFoundError{Kind: "knowledge vault item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get vault item: %w", err)
	}
	return it, nil
}

// UpdateVaultItem overwrites every mutable column of an entry.
func (s *Store) UpdateVaultItem(ctx context.Context, it *mirix.KnowledgeVaultItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE knowledge_vault SET entry_type=$1, source=$2, sensitivity=$3, secret_value=$4, description=$5, metadata=$6::jsonb,
		 description_embedding=$7::vector, updated_at=$8 WHERE id=$9`,
		it.EntryType, it.Source, string(it.Sensitivity), it.SecretValue, it.Description, nullableJSON(it.Metadata),
		nullableEmbedding(it.DescriptionEmbedding), toUnixNano(it.UpdatedAt), it.ID)
	if err != nil {
		return fmt.Errorf("postgres: update vault item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "knowledge vault item", ID: it.ID}
	}
	return nil
}

// DeleteVaultItem removes one entry.
func (s *Store) DeleteVaultItem(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM knowledge_vault WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete vault item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &mirix.NotFoundError{Kind: "knowledge vault item", ID: id}
	}
	return nil
}

// SearchVault lists entries per q. Matching runs over the description only;
// secret values are never searched.
func (s *Store) SearchVault(ctx context.Context, q mirix.SearchQuery) ([]*mirix.KnowledgeVaultItem, error) {
	textCol, embCol := fieldColumns(vaultFields, q.Field, "description")
	query, args := searchSQL(vaultColumns, "knowledge_vault", q, textCol, embCol)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search vault: %w", err)
	}
	defer rows.Close()

	var items []*mirix.KnowledgeVaultItem
	for rows.Next() {
		it, err := scanVaultItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan vault item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
