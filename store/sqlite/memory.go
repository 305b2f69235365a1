package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

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

// semanticOrder sorts candidates ascending by cosine distance, tie-broken by
// created_at then id, both ascending, and trims to limit.
type semanticCandidate struct {
	idx     int
	dist    float64
	created int64
	id      string
}

func semanticOrder(cands []semanticCandidate, limit int) []int {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		if cands[i].created != cands[j].created {
			return cands[i].created < cands[j].created
		}
		return cands[i].id < cands[j].id
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]int, len(cands))
	for i, c := range cands {
		out[i] = c.idx
	}
	return out
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

// --- Episodic events ---

// CreateEpisodic inserts one event.
func (s *Store) CreateEpisodic(ctx context.Context, ev *mirix.EpisodicEvent) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodic_events
		 (id, occurred_at, actor, event_type, summary, details, metadata, summary_embedding, details_embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, toUnixNano(ev.OccurredAt), string(ev.Actor), ev.EventType, ev.Summary, ev.Details,
		nullableJSON(ev.Metadata), nullableEmbedding(ev.SummaryEmbedding), nullableEmbedding(ev.DetailsEmbedding),
		toUnixNano(ev.CreatedAt), toUnixNano(ev.UpdatedAt),
	)
	if err != nil {
		s.logger.Error("sqlite: create episodic failed", "id", ev.ID, "error", err)
		return fmt.Errorf("create episodic: %w", err)
	}
	s.logger.Debug("sqlite: create episodic ok", "id", ev.ID, "duration", time.Since(start))
	return nil
}

func scanEpisodic(scan func(dest ...any) error) (*mirix.EpisodicEvent, error) {
	var ev mirix.EpisodicEvent
	var actor string
	var occurred, created, updated int64
	var metaJSON, sumEmb, detEmb sql.NullString
	err := scan(&ev.ID, &occurred, &actor, &ev.EventType, &ev.Summary, &ev.Details,
		&metaJSON, &sumEmb, &detEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	ev.Actor = mirix.Actor(actor)
	ev.OccurredAt = fromUnixNano(occurred)
	ev.CreatedAt, ev.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &ev.Metadata)
	}
	if sumEmb.Valid {
		ev.SummaryEmbedding, _ = deserializeEmbedding(sumEmb.String)
	}
	if detEmb.Valid {
		ev.DetailsEmbedding, _ = deserializeEmbedding(detEmb.String)
	}
	return &ev, nil
}

const episodicColumns = `id, occurred_at, actor, event_type, summary, details, metadata, summary_embedding, details_embedding, created_at, updated_at`

// GetEpisodic returns one event by id.
func (s *Store) GetEpisodic(ctx context.Context, id string) (*mirix.EpisodicEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodicColumns+` FROM episodic_events WHERE id = ?`, id)
	ev, err := scanEpisodic(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "episodic event", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get episodic: %w", err)
	}
	return ev, nil
}

// UpdateEpisodic overwrites every mutable column of an event.
func (s *Store) UpdateEpisodic(ctx context.Context, ev *mirix.EpisodicEvent) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodic_events SET occurred_at=?, actor=?, event_type=?, summary=?, details=?, metadata=?,
		 summary_embedding=?, details_embedding=?, updated_at=? WHERE id=?`,
		toUnixNano(ev.OccurredAt), string(ev.Actor), ev.EventType, ev.Summary, ev.Details,
		nullableJSON(ev.Metadata), nullableEmbedding(ev.SummaryEmbedding), nullableEmbedding(ev.DetailsEmbedding),
		toUnixNano(ev.UpdatedAt), ev.ID,
	)
	if err != nil {
		return fmt.Errorf("update episodic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "episodic event", ID: ev.ID}
	}
	return nil
}

// DeleteEpisodic removes one event.
func (s *Store) DeleteEpisodic(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodic_events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete episodic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "episodic event", ID: id}
	}
	return nil
}

// SearchEpisodic lists events per q.
func (s *Store) SearchEpisodic(ctx context.Context, q mirix.SearchQuery) ([]*mirix.EpisodicEvent, error) {
	start := time.Now()
	textCol, embCol := fieldColumns(episodicFields, q.Field, "summary")

	var query string
	var args []any
	switch q.Method {
	case mirix.SearchStringMatch:
		query = `SELECT ` + episodicColumns + ` FROM episodic_events
			WHERE instr(lower(` + textCol + `), lower(?)) > 0
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
		args = append(args, q.Text)
	case mirix.SearchSemanticMatch:
		query = `SELECT ` + episodicColumns + ` FROM episodic_events WHERE ` + embCol + ` IS NOT NULL`
	default:
		query = `SELECT ` + episodicColumns + ` FROM episodic_events
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search episodic: %w", err)
	}
	defer rows.Close()

	var events []*mirix.EpisodicEvent
	for rows.Next() {
		ev, err := scanEpisodic(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan episodic: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodic: %w", err)
	}

	if q.Method == mirix.SearchSemanticMatch {
		cands := make([]semanticCandidate, 0, len(events))
		for i, ev := range events {
			stored := ev.SummaryEmbedding
			if embCol == "details_embedding" {
				stored = ev.DetailsEmbedding
			}
			cands = append(cands, semanticCandidate{
				idx: i, dist: mirix.CosineDistance(q.Embedding, stored),
				created: toUnixNano(ev.CreatedAt), id: ev.ID,
			})
		}
		order := semanticOrder(cands, q.Limit)
		ranked := make([]*mirix.EpisodicEvent, len(order))
		for i, idx := range order {
			ranked[i] = events[idx]
		}
		events = ranked
	}

	s.logger.Debug("sqlite: search episodic ok", "method", string(q.Method), "returned", len(events), "duration", time.Since(start))
	return events, nil
}

// --- Semantic items ---

const semanticColumns = `id, concept, definition, details, source, metadata, concept_embedding, definition_embedding, details_embedding, created_at, updated_at`

// CreateSemantic inserts one item.
func (s *Store) CreateSemantic(ctx context.Context, it *mirix.SemanticItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO semantic_items
		 (id, concept, definition, details, source, metadata, concept_embedding, definition_embedding, details_embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Concept, it.Definition, it.Details, it.Source, nullableJSON(it.Metadata),
		nullableEmbedding(it.ConceptEmbedding), nullableEmbedding(it.DefinitionEmbedding), nullableEmbedding(it.DetailsEmbedding),
		toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create semantic: %w", err)
	}
	s.logger.Debug("sqlite: create semantic ok", "id", it.ID)
	return nil
}

func scanSemantic(scan func(dest ...any) error) (*mirix.SemanticItem, error) {
	var it mirix.SemanticItem
	var source, metaJSON, conEmb, defEmb, detEmb sql.NullString
	var created, updated int64
	err := scan(&it.ID, &it.Concept, &it.Definition, &it.Details, &source, &metaJSON,
		&conEmb, &defEmb, &detEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	if source.Valid {
		it.Source = source.String
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &it.Metadata)
	}
	if conEmb.Valid {
		it.ConceptEmbedding, _ = deserializeEmbedding(conEmb.String)
	}
	if defEmb.Valid {
		it.DefinitionEmbedding, _ = deserializeEmbedding(defEmb.String)
	}
	if detEmb.Valid {
		it.DetailsEmbedding, _ = deserializeEmbedding(detEmb.String)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetSemantic returns one item by id.
func (s *Store) GetSemantic(ctx context.Context, id string) (*mirix.SemanticItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+semanticColumns+` FROM semantic_items WHERE id = ?`, id)
	it, err := scanSemantic(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "semantic item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get semantic: %w", err)
	}
	return it, nil
}

// UpdateSemantic overwrites every mutable column of an item.
func (s *Store) UpdateSemantic(ctx context.Context, it *mirix.SemanticItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE semantic_items SET concept=?, definition=?, details=?, source=?, metadata=?,
		 concept_embedding=?, definition_embedding=?, details_embedding=?, updated_at=? WHERE id=?`,
		it.Concept, it.Definition, it.Details, it.Source, nullableJSON(it.Metadata),
		nullableEmbedding(it.ConceptEmbedding), nullableEmbedding(it.DefinitionEmbedding), nullableEmbedding(it.DetailsEmbedding),
		toUnixNano(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return fmt.Errorf("update semantic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "semantic item", ID: it.ID}
	}
	return nil
}

// DeleteSemantic removes one item.
func (s *Store) DeleteSemantic(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM semantic_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete semantic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "semantic item", ID: id}
	}
	return nil
}

// SearchSemantic lists items per q.
func (s *Store) SearchSemantic(ctx context.Context, q mirix.SearchQuery) ([]*mirix.SemanticItem, error) {
	textCol, embCol := fieldColumns(semanticFields, q.Field, "concept")

	var query string
	var args []any
	switch q.Method {
	case mirix.SearchStringMatch:
		query = `SELECT ` + semanticColumns + ` FROM semantic_items
			WHERE instr(lower(` + textCol + `), lower(?)) > 0
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
		args = append(args, q.Text)
	case mirix.SearchSemanticMatch:
		query = `SELECT ` + semanticColumns + ` FROM semantic_items WHERE ` + embCol + ` IS NOT NULL`
	default:
		query = `SELECT ` + semanticColumns + ` FROM semantic_items
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search semantic: %w", err)
	}
	defer rows.Close()

	var items []*mirix.SemanticItem
	for rows.Next() {
		it, err := scanSemantic(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan semantic: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate semantic: %w", err)
	}

	if q.Method == mirix.SearchSemanticMatch {
		cands := make([]semanticCandidate, 0, len(items))
		for i, it := range items {
			stored := it.ConceptEmbedding
			switch embCol {
			case "definition_embedding":
				stored = it.DefinitionEmbedding
			case "details_embedding":
				stored = it.DetailsEmbedding
			}
			cands = append(cands, semanticCandidate{
				idx: i, dist: mirix.CosineDistance(q.Embedding, stored),
				created: toUnixNano(it.CreatedAt), id: it.ID,
			})
		}
		order := semanticOrder(cands, q.Limit)
		ranked := make([]*mirix.SemanticItem, len(order))
		for i, idx := range order {
			ranked[i] = items[idx]
		}
		items = ranked
	}
	return items, nil
}

// --- Procedural items ---

const proceduralColumns = `id, entry_type, description, steps, metadata, description_embedding, steps_embedding, created_at, updated_at`

// CreateProcedural inserts one item. Steps are stored as a JSON array.
func (s *Store) CreateProcedural(ctx context.Context, it *mirix.ProceduralItem) error {
	stepsJSON, _ := json.Marshal(it.Steps)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO procedural_items
		 (id, entry_type, description, steps, metadata, description_embedding, steps_embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.EntryType, it.Description, string(stepsJSON), nullableJSON(it.Metadata),
		nullableEmbedding(it.DescriptionEmbedding), nullableEmbedding(it.StepsEmbedding),
		toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create procedural: %w", err)
	}
	s.logger.Debug("sqlite: create procedural ok", "id", it.ID)
	return nil
}

func scanProcedural(scan func(dest ...any) error) (*mirix.ProceduralItem, error) {
	var it mirix.ProceduralItem
	var stepsJSON string
	var metaJSON, descEmb, stepsEmb sql.NullString
	var created, updated int64
	err := scan(&it.ID, &it.EntryType, &it.Description, &stepsJSON, &metaJSON,
		&descEmb, &stepsEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(stepsJSON), &it.Steps)
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &it.Metadata)
	}
	if descEmb.Valid {
		it.DescriptionEmbedding, _ = deserializeEmbedding(descEmb.String)
	}
	if stepsEmb.Valid {
		it.StepsEmbedding, _ = deserializeEmbedding(stepsEmb.String)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetProcedural returns one item by id.
func (s *Store) GetProcedural(ctx context.Context, id string) (*mirix.ProceduralItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proceduralColumns+` FROM procedural_items WHERE id = ?`, id)
	it, err := scanProcedural(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "procedural item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get procedural: %w", err)
	}
	return it, nil
}

// UpdateProcedural overwrites every mutable column of an item.
func (s *Store) UpdateProcedural(ctx context.Context, it *mirix.ProceduralItem) error {
	stepsJSON, _ := json.Marshal(it.Steps)
	res, err := s.db.ExecContext(ctx,
		`UPDATE procedural_items SET entry_type=?, description=?, steps=?, metadata=?,
		 description_embedding=?, steps_embedding=?, updated_at=? WHERE id=?`,
		it.EntryType, it.Description, string(stepsJSON), nullableJSON(it.Metadata),
		nullableEmbedding(it.DescriptionEmbedding), nullableEmbedding(it.StepsEmbedding),
		toUnixNano(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return fmt.Errorf("update procedural: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "procedural item", ID: it.ID}
	}
	return nil
}

// DeleteProcedural removes one item.
func (s *Store) DeleteProcedural(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM procedural_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete procedural: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "procedural item", ID: id}
	}
	return nil
}

// SearchProcedural lists items per q.
func (s *Store) SearchProcedural(ctx context.Context, q mirix.SearchQuery) ([]*mirix.ProceduralItem, error) {
	textCol, embCol := fieldColumns(proceduralFields, q.Field, "description")

	var query string
	var args []any
	switch q.Method {
	case mirix.SearchStringMatch:
		query = `SELECT ` + proceduralColumns + ` FROM procedural_items
			WHERE instr(lower(` + textCol + `), lower(?)) > 0
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
		args = append(args, q.Text)
	case mirix.SearchSemanticMatch:
		query = `SELECT ` + proceduralColumns + ` FROM procedural_items WHERE ` + embCol + ` IS NOT NULL`
	default:
		query = `SELECT ` + proceduralColumns + ` FROM procedural_items
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search procedural: %w", err)
	}
	defer rows.Close()

	var items []*mirix.ProceduralItem
	for rows.Next() {
		it, err := scanProcedural(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan procedural: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate procedural: %w", err)
	}

	if q.Method == mirix.SearchSemanticMatch {
		cands := make([]semanticCandidate, 0, len(items))
		for i, it := range items {
			stored := it.DescriptionEmbedding
			if embCol == "steps_embedding" {
				stored = it.StepsEmbedding
			}
			cands = append(cands, semanticCandidate{
				idx: i, dist: mirix.CosineDistance(q.Embedding, stored),
				created: toUnixNano(it.CreatedAt), id: it.ID,
			})
		}
		order := semanticOrder(cands, q.Limit)
		ranked := make([]*mirix.ProceduralItem, len(order))
		for i, idx := range order {
			ranked[i] = items[idx]
		}
		items = ranked
	}
	return items, nil
}

// --- Resource items ---

const resourceColumns = `id, title, summary, resource_type, content, metadata, summary_embedding, created_at, updated_at`

// CreateResource inserts one item.
func (s *Store) CreateResource(ctx context.Context, it *mirix.ResourceItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resource_items
		 (id, title, summary, resource_type, content, metadata, summary_embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.Title, it.Summary, it.ResourceType, it.Content, nullableJSON(it.Metadata),
		nullableEmbedding(it.SummaryEmbedding), toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}
	s.logger.Debug("sqlite: create resource ok", "id", it.ID)
	return nil
}

func scanResource(scan func(dest ...any) error) (*mirix.ResourceItem, error) {
	var it mirix.ResourceItem
	var resourceType, content, metaJSON, sumEmb sql.NullString
	var created, updated int64
	err := scan(&it.ID, &it.Title, &it.Summary, &resourceType, &content, &metaJSON,
		&sumEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	if resourceType.Valid {
		it.ResourceType = resourceType.String
	}
	if content.Valid {
		it.Content = content.String
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &it.Metadata)
	}
	if sumEmb.Valid {
		it.SummaryEmbedding, _ = deserializeEmbedding(sumEmb.String)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetResource returns one item by id.
func (s *Store) GetResource(ctx context.Context, id string) (*mirix.ResourceItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceColumns+` FROM resource_items WHERE id = ?`, id)
	it, err := scanResource(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "resource item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return it, nil
}

// UpdateResource overwrites every mutable column of an item.
func (s *Store) UpdateResource(ctx context.Context, it *mirix.ResourceItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE resource_items SET title=?, summary=?, resource_type=?, content=?, metadata=?,
		 summary_embedding=?, updated_at=? WHERE id=?`,
		it.Title, it.Summary, it.ResourceType, it.Content, nullableJSON(it.Metadata),
		nullableEmbedding(it.SummaryEmbedding), toUnixNano(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return fmt.Errorf("update resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "resource item", ID: it.ID}
	}
	return nil
}

// DeleteResource removes one item.
func (s *Store) DeleteResource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM resource_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "resource item", ID: id}
	}
	return nil
}

// SearchResource lists items per q. Semantic search always ranks against the
// summary embedding.
func (s *Store) SearchResource(ctx context.Context, q mirix.SearchQuery) ([]*mirix.ResourceItem, error) {
	textCol, _ := fieldColumns(resourceFields, q.Field, "summary")

	var query string
	var args []any
	switch q.Method {
	case mirix.SearchStringMatch:
		query = `SELECT ` + resourceColumns + ` FROM resource_items
			WHERE instr(lower(` + textCol + `), lower(?)) > 0
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
		args = append(args, q.Text)
	case mirix.SearchSemanticMatch:
		query = `SELECT ` + resourceColumns + ` FROM resource_items WHERE summary_embedding IS NOT NULL`
	default:
		query = `SELECT ` + resourceColumns + ` FROM resource_items
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search resource: %w", err)
	}
	defer rows.Close()

	var items []*mirix.ResourceItem
	for rows.Next() {
		it, err := scanResource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource: %w", err)
	}

	if q.Method == mirix.SearchSemanticMatch {
		cands := make([]semanticCandidate, 0, len(items))
		for i, it := range items {
			cands = append(cands, semanticCandidate{
				idx: i, dist: mirix.CosineDistance(q.Embedding, it.SummaryEmbedding),
				created: toUnixNano(it.CreatedAt), id: it.ID,
			})
		}
		order := semanticOrder(cands, q.Limit)
		ranked := make([]*mirix.ResourceItem, len(order))
		for i, idx := range order {
			ranked[i] = items[idx]
		}
		items = ranked
	}
	return items, nil
}

// --- Knowledge vault ---

const vaultColumns = `id, entry_type, source, sensitivity, secret_value, description, metadata, description_embedding, created_at, updated_at`

// CreateVaultItem inserts one entry.
func (s *Store) CreateVaultItem(ctx context.Context, it *mirix.KnowledgeVaultItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_vault
		 (id, entry_type, source, sensitivity, secret_value, description, metadata, description_embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.EntryType, it.Source, string(it.Sensitivity), it.SecretValue, it.Description,
		nullableJSON(it.Metadata), nullableEmbedding(it.DescriptionEmbedding),
		toUnixNano(it.CreatedAt), toUnixNano(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create vault item: %w", err)
	}
	s.logger.Debug("sqlite: create vault item ok", "id", it.ID)
	return nil
}

func scanVaultItem(scan func(dest ...any) error) (*mirix.KnowledgeVaultItem, error) {
	var it mirix.KnowledgeVaultItem
	var sensitivity string
	var source, metaJSON, descEmb sql.NullString
	var created, updated int64
	err := scan(&it.ID, &it.EntryType, &source, &sensitivity, &it.SecretValue, &it.Description,
		&metaJSON, &descEmb, &created, &updated)
	if err != nil {
		return nil, err
	}
	it.Sensitivity = mirix.Sensitivity(sensitivity)
	if source.Valid {
		it.Source = source.String
	}
	if metaJSON.Valid {
		_ = json.Unmarshal([]byte(metaJSON.String), &it.Metadata)
	}
	if descEmb.Valid {
		it.DescriptionEmbedding, _ = deserializeEmbedding(descEmb.String)
	}
	it.CreatedAt, it.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return &it, nil
}

// GetVaultItem returns one entry by id.
func (s *Store) GetVaultItem(ctx context.Context, id string) (*mirix.KnowledgeVaultItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vaultColumns+` FROM knowledge_vault WHERE id = ?`, id)
	it, err := scanVaultItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, &mirix.NotFoundError{Kind: "knowledge vault item", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get vault item: %w", err)
	}
	return it, nil
}

// UpdateVaultItem overwrites every mutable column of an entry.
func (s *Store) UpdateVaultItem(ctx context.Context, it *mirix.KnowledgeVaultItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_vault SET entry_type=?, source=?, sensitivity=?, secret_value=?, description=?, metadata=?,
		 description_embedding=?, updated_at=? WHERE id=?`,
		it.EntryType, it.Source, string(it.Sensitivity), it.SecretValue, it.Description, nullableJSON(it.Metadata),
		nullableEmbedding(it.DescriptionEmbedding), toUnixNano(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return fmt.Errorf("update vault item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "knowledge vault item", ID: it.ID}
	}
	return nil
}

// DeleteVaultItem removes one entry.
func (s *Store) DeleteVaultItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_vault WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete vault item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &mirix.NotFoundError{Kind: "knowledge vault item", ID: id}
	}
	return nil
}

// SearchVault lists entries per q. Matching runs over the description only;
// secret values are never searched.
func (s *Store) SearchVault(ctx context.Context, q mirix.SearchQuery) ([]*mirix.KnowledgeVaultItem, error) {
	textCol, _ := fieldColumns(vaultFields, q.Field, "description")

	var query string
	var args []any
	switch q.Method {
	case mirix.SearchStringMatch:
		query = `SELECT ` + vaultColumns + ` FROM knowledge_vault
			WHERE instr(lower(` + textCol + `), lower(?)) > 0
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
		args = append(args, q.Text)
	case mirix.SearchSemanticMatch:
		query = `SELECT ` + vaultColumns + ` FROM knowledge_vault WHERE description_embedding IS NOT NULL`
	default:
		query = `SELECT ` + vaultColumns + ` FROM knowledge_vault
			ORDER BY created_at DESC, id DESC` + limitClause(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search vault: %w", err)
	}
	defer rows.Close()

	var items []*mirix.KnowledgeVaultItem
	for rows.Next() {
		it, err := scanVaultItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan vault item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault: %w", err)
	}

	if q.Method == mirix.SearchSemanticMatch {
		cands := make([]semanticCandidate, 0, len(items))
		for i, it := range items {
			cands = append(cands, semanticCandidate{
				idx: i, dist: mirix.CosineDistance(q.Embedding, it.DescriptionEmbedding),
				created: toUnixNano(it.CreatedAt), id: it.ID,
			})
		}
		order := semanticOrder(cands, q.Limit)
		ranked := make([]*mirix.KnowledgeVaultItem, len(order))
		for i, idx := range order {
			ranked[i] = items[idx]
		}
		items = ranked
	}
	return items, nil
}
