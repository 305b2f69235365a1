package mirix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Tool names shared between the router and the tool surfaces.
const (
	ToolTriggerMemoryUpdate = "trigger_memory_update"
	ToolFinishMemoryUpdate  = "finish_memory_update"
)

func toolDef(name, desc, params string) ToolDefinition {
	return ToolDefinition{Name: name, Description: desc, Parameters: json.RawMessage(params)}
}

// finishDef terminates a memory agent's tool loop.
var finishDef = toolDef(ToolFinishMemoryUpdate,
	"Signal that the memory update for this prompt is complete.",
	`{"type":"object","properties":{}}`)

// TriggerMemoryUpdateDefinition is the single tool exposed to the
// meta-memory agent. The engine executes it by fanning the prompt out to the
// named memory types.
func TriggerMemoryUpdateDefinition() ToolDefinition {
	return toolDef(ToolTriggerMemoryUpdate,
		"Route the current content to the memory types that should absorb it, with one instruction per type.",
		`{"type":"object","properties":{"memory_types":{"type":"array","items":{"type":"string","enum":["core","episodic","resource","procedural","knowledge_vault","semantic"]}},"instructions":{"type":"array","items":{"type":"string"}}},"required":["memory_types"]}`)
}

// MetaTool is the tool surface of the meta-memory agent. trigger calls are
// executed by the router, not here.
type MetaTool struct{}

func (MetaTool) Definitions() []ToolDefinition {
	return []ToolDefinition{TriggerMemoryUpdateDefinition(), finishDef}
}

func (MetaTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	switch name {
	case ToolTriggerMemoryUpdate, ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return ToolResult{}, fmt.Errorf("unknown tool %q", name)
}

func unknownTool(name string) (ToolResult, error) {
	return ToolResult{}, fmt.Errorf("unknown tool %q", name)
}

func parseArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, v)
}

func okResult(format string, a ...any) ToolResult {
	return ToolResult{Content: fmt.Sprintf(format, a...)}
}

// --- Episodic ---

// EpisodicTool exposes episodic memory mutation to the episodic agent.
type EpisodicTool struct {
	mgr *EpisodicManager
}

func NewEpisodicTool(mgr *EpisodicManager) *EpisodicTool { return &EpisodicTool{mgr: mgr} }

type episodicEventArgs struct {
	OccurredAt string `json:"occurred_at"`
	Actor      string `json:"actor"`
	EventType  string `json:"event_type"`
	Summary    string `json:"summary"`
	Details    string `json:"details"`
}

func (e episodicEventArgs) toInsert() (EpisodicInsert, error) {
	in := EpisodicInsert{
		Actor:     Actor(e.Actor),
		EventType: e.EventType,
		Summary:   e.Summary,
		Details:   e.Details,
	}
	if e.OccurredAt != "" {
		ts, err := time.Parse(time.RFC3339, e.OccurredAt)
		if err != nil {
			return EpisodicInsert{}, fmt.Errorf("bad occurred_at %q: %w", e.OccurredAt, err)
		}
		in.OccurredAt = ts
	}
	return in, nil
}

func (t *EpisodicTool) Definitions() []ToolDefinition {
	event := `{"type":"object","properties":{"occurred_at":{"type":"string"},"actor":{"type":"string","enum":["user","assistant","system"]},"event_type":{"type":"string"},"summary":{"type":"string"},"details":{"type":"string"}},"required":["event_type","summary","details"]}`
	return []ToolDefinition{
		toolDef("episodic_memory_insert",
			"Insert new episodic events. occurred_at is RFC 3339; omit for now.",
			`{"type":"object","properties":{"events":{"type":"array","items":`+event+`}},"required":["events"]}`),
		toolDef("episodic_memory_append",
			"Merge a continuation into an existing event: new_summary overwrites the summary (include the old information), new_details is added to the details.",
			`{"type":"object","properties":{"event_id":{"type":"string"},"new_summary":{"type":"string"},"new_details":{"type":"string"}},"required":["event_id"]}`),
		toolDef("episodic_memory_replace",
			"Merge repeated events: delete every event in event_ids and insert new_items in their place. Mostly new_items should be one event.",
			`{"type":"object","properties":{"event_ids":{"type":"array","items":{"type":"string"}},"new_items":{"type":"array","items":`+event+`}},"required":["event_ids","new_items"]}`),
		toolDef("episodic_memory_delete",
			"Delete episodic events by id.",
			`{"type":"object","properties":{"event_ids":{"type":"array","items":{"type":"string"}}},"required":["event_ids"]}`),
		toolDef("check_episodic_memory",
			"Fetch episodic events by id to inspect them before merging.",
			`{"type":"object","properties":{"event_ids":{"type":"array","items":{"type":"string"}}},"required":["event_ids"]}`),
		finishDef,
	}
}

func (t *EpisodicTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	switch name {
	case "episodic_memory_insert":
		var a struct {
			Events []episodicEventArgs `json:"events"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		var ids []string
		for _, e := range a.Events {
			in, err := e.toInsert()
			if err != nil {
				return ToolResult{}, err
			}
			ev, err := t.mgr.Insert(ctx, in)
			if err != nil {
				return ToolResult{}, err
			}
			ids = append(ids, ev.ID)
		}
		return okResult("inserted %d events: %s", len(ids), strings.Join(ids, ", ")), nil

	case "episodic_memory_append":
		var a struct {
			EventID    string `json:"event_id"`
			NewSummary string `json:"new_summary"`
			NewDetails string `json:"new_details"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		ev, err := t.mgr.Merge(ctx, a.EventID, a.NewSummary, a.NewDetails)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("updated %s; summary: %s; details: %s", ev.ID, ev.Summary, ev.Details), nil

	case "episodic_memory_replace":
		var a struct {
			EventIDs []string            `json:"event_ids"`
			NewItems []episodicEventArgs `json:"new_items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		items := make([]EpisodicInsert, 0, len(a.NewItems))
		for _, e := range a.NewItems {
			in, err := e.toInsert()
			if err != nil {
				return ToolResult{}, err
			}
			items = append(items, in)
		}
		created, err := t.mgr.ReplaceAll(ctx, a.EventIDs, items)
		if err != nil {
			return ToolResult{}, err
		}
		var ids []string
		for _, ev := range created {
			ids = append(ids, ev.ID)
		}
		return okResult("replaced %d events with %d: %s", len(a.EventIDs), len(created), strings.Join(ids, ", ")), nil

	case "episodic_memory_delete":
		var a struct {
			EventIDs []string `json:"event_ids"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		for _, id := range a.EventIDs {
			if err := t.mgr.DeleteByID(ctx, id); err != nil {
				return ToolResult{}, err
			}
		}
		return okResult("deleted %d events", len(a.EventIDs)), nil

	case "check_episodic_memory":
		var a struct {
			EventIDs []string `json:"event_ids"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		var sb strings.Builder
		for _, id := range a.EventIDs {
			ev, err := t.mgr.Get(ctx, id)
			if err != nil {
				return ToolResult{}, err
			}
			fmt.Fprintf(&sb, "%s [%s] %s %s: %s; details: %s\n",
				ev.ID, ev.OccurredAt.Format(time.RFC3339), ev.Actor, ev.EventType, ev.Summary, ev.Details)
		}
		return ToolResult{Content: sb.String()}, nil

	case ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return unknownTool(name)
}

// --- Semantic ---

// SemanticTool exposes semantic memory mutation to the semantic agent.
// semantic_memory_update deletes old_ids and inserts new_items in one call;
// an empty new_items makes it a pure delete.
type SemanticTool struct {
	mgr *SemanticManager
}

func NewSemanticTool(mgr *SemanticManager) *SemanticTool { return &SemanticTool{mgr: mgr} }

type semanticItemArgs struct {
	Concept    string `json:"concept"`
	Definition string `json:"definition"`
	Details    string `json:"details"`
	Source     string `json:"source"`
}

func (t *SemanticTool) Definitions() []ToolDefinition {
	item := `{"type":"object","properties":{"concept":{"type":"string"},"definition":{"type":"string"},"details":{"type":"string"},"source":{"type":"string"}},"required":["concept","definition"]}`
	return []ToolDefinition{
		toolDef("semantic_memory_insert",
			"Insert new semantic items.",
			`{"type":"object","properties":{"items":{"type":"array","items":`+item+`}},"required":["items"]}`),
		toolDef("semantic_memory_update",
			"Delete the items in old_ids and insert new_items. Empty new_items deletes only.",
			`{"type":"object","properties":{"old_ids":{"type":"array","items":{"type":"string"}},"new_items":{"type":"array","items":`+item+`}},"required":["old_ids"]}`),
		finishDef,
	}
}

func (t *SemanticTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	insert := func(items []semanticItemArgs) ([]string, error) {
		var ids []string
		for _, it := range items {
			created, err := t.mgr.Insert(ctx, SemanticInsert{
				Concept: it.Concept, Definition: it.Definition, Details: it.Details, Source: it.Source,
			})
			if err != nil {
				return nil, err
			}
			ids = append(ids, created.ID)
		}
		return ids, nil
	}

	switch name {
	case "semantic_memory_insert":
		var a struct {
			Items []semanticItemArgs `json:"items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		ids, err := insert(a.Items)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("inserted %d items: %s", len(ids), strings.Join(ids, ", ")), nil

	case "semantic_memory_update":
		var a struct {
			OldIDs   []string           `json:"old_ids"`
			NewItems []semanticItemArgs `json:"new_items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		for _, id := range a.OldIDs {
			if err := t.mgr.DeleteByID(ctx, id); err != nil {
				return ToolResult{}, err
			}
		}
		ids, err := insert(a.NewItems)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("deleted %d, inserted %d items", len(a.OldIDs), len(ids)), nil

	case ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return unknownTool(name)
}

// --- Procedural ---

// ProceduralTool exposes procedural memory mutation to the procedural agent.
type ProceduralTool struct {
	mgr *ProceduralManager
}

func NewProceduralTool(mgr *ProceduralManager) *ProceduralTool { return &ProceduralTool{mgr: mgr} }

type proceduralItemArgs struct {
	EntryType   string   `json:"entry_type"`
	Description string   `json:"description"`
	Steps       []string `json:"steps"`
}

func (t *ProceduralTool) Definitions() []ToolDefinition {
	item := `{"type":"object","properties":{"entry_type":{"type":"string"},"description":{"type":"string"},"steps":{"type":"array","items":{"type":"string"}}},"required":["entry_type","description","steps"]}`
	return []ToolDefinition{
		toolDef("procedural_memory_insert",
			"Insert new procedures.",
			`{"type":"object","properties":{"items":{"type":"array","items":`+item+`}},"required":["items"]}`),
		toolDef("procedural_memory_update",
			"Delete the items in old_ids and insert new_items. Empty new_items deletes only.",
			`{"type":"object","properties":{"old_ids":{"type":"array","items":{"type":"string"}},"new_items":{"type":"array","items":`+item+`}},"required":["old_ids"]}`),
		finishDef,
	}
}

func (t *ProceduralTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	insert := func(items []proceduralItemArgs) ([]string, error) {
		var ids []string
		for _, it := range items {
			created, err := t.mgr.Insert(ctx, ProceduralInsert{
				EntryType: it.EntryType, Description: it.Description, Steps: it.Steps,
			})
			if err != nil {
				return nil, err
			}
			ids = append(ids, created.ID)
		}
		return ids, nil
	}

	switch name {
	case "procedural_memory_insert":
		var a struct {
			Items []proceduralItemArgs `json:"items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		ids, err := insert(a.Items)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("inserted %d items: %s", len(ids), strings.Join(ids, ", ")), nil

	case "procedural_memory_update":
		var a struct {
			OldIDs   []string             `json:"old_ids"`
			NewItems []proceduralItemArgs `json:"new_items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		for _, id := range a.OldIDs {
			if err := t.mgr.DeleteByID(ctx, id); err != nil {
				return ToolResult{}, err
			}
		}
		ids, err := insert(a.NewItems)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("deleted %d, inserted %d items", len(a.OldIDs), len(ids)), nil

	case ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return unknownTool(name)
}

// --- Resource ---

// ResourceTool exposes resource memory mutation to the resource agent.
type ResourceTool struct {
	mgr *ResourceManager
}

func NewResourceTool(mgr *ResourceManager) *ResourceTool { return &ResourceTool{mgr: mgr} }

type resourceItemArgs struct {
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	ResourceType string `json:"resource_type"`
	Content      string `json:"content"`
}

func (t *ResourceTool) Definitions() []ToolDefinition {
	item := `{"type":"object","properties":{"title":{"type":"string"},"summary":{"type":"string"},"resource_type":{"type":"string"},"content":{"type":"string"}},"required":["title","summary"]}`
	return []ToolDefinition{
		toolDef("resource_memory_insert",
			"Insert new resources (documents the user interacted with).",
			`{"type":"object","properties":{"items":{"type":"array","items":`+item+`}},"required":["items"]}`),
		toolDef("resource_memory_update",
			"Delete the items in old_ids and insert new_items. Empty new_items deletes only.",
			`{"type":"object","properties":{"old_ids":{"type":"array","items":{"type":"string"}},"new_items":{"type":"array","items":`+item+`}},"required":["old_ids"]}`),
		finishDef,
	}
}

func (t *ResourceTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	insert := func(items []resourceItemArgs) ([]string, error) {
		var ids []string
		for _, it := range items {
			created, err := t.mgr.Insert(ctx, ResourceInsert{
				Title: it.Title, Summary: it.Summary, ResourceType: it.ResourceType, Content: it.Content,
			})
			if err != nil {
				return nil, err
			}
			ids = append(ids, created.ID)
		}
		return ids, nil
	}

	switch name {
	case "resource_memory_insert":
		var a struct {
			Items []resourceItemArgs `json:"items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		ids, err := insert(a.Items)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("inserted %d items: %s", len(ids), strings.Join(ids, ", ")), nil

	case "resource_memory_update":
		var a struct {
			OldIDs   []string           `json:"old_ids"`
			NewItems []resourceItemArgs `json:"new_items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		for _, id := range a.OldIDs {
			if err := t.mgr.DeleteByID(ctx, id); err != nil {
				return ToolResult{}, err
			}
		}
		ids, err := insert(a.NewItems)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("deleted %d, inserted %d items", len(a.OldIDs), len(ids)), nil

	case ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return unknownTool(name)
}

// --- Knowledge vault ---

// VaultTool exposes knowledge vault mutation to the vault agent.
type VaultTool struct {
	mgr *VaultManager
}

func NewVaultTool(mgr *VaultManager) *VaultTool { return &VaultTool{mgr: mgr} }

type vaultItemArgs struct {
	EntryType   string `json:"entry_type"`
	Source      string `json:"source"`
	Sensitivity string `json:"sensitivity"`
	SecretValue string `json:"secret_value"`
	Description string `json:"description"`
}

func (t *VaultTool) Definitions() []ToolDefinition {
	item := `{"type":"object","properties":{"entry_type":{"type":"string"},"source":{"type":"string"},"sensitivity":{"type":"string","enum":["low","medium","high"]},"secret_value":{"type":"string"},"description":{"type":"string"}},"required":["entry_type","sensitivity","secret_value","description"]}`
	return []ToolDefinition{
		toolDef("knowledge_vault_insert",
			"Insert new vault entries (verbatim values like addresses or account numbers).",
			`{"type":"object","properties":{"items":{"type":"array","items":`+item+`}},"required":["items"]}`),
		toolDef("knowledge_vault_update",
			"Delete the entries in old_ids and insert new_items. Empty new_items deletes only.",
			`{"type":"object","properties":{"old_ids":{"type":"array","items":{"type":"string"}},"new_items":{"type":"array","items":`+item+`}},"required":["old_ids"]}`),
		finishDef,
	}
}

func (t *VaultTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	insert := func(items []vaultItemArgs) ([]string, error) {
		var ids []string
		for _, it := range items {
			switch Sensitivity(it.Sensitivity) {
			case SensitivityLow, SensitivityMedium, SensitivityHigh:
			default:
				return nil, fmt.Errorf("vault entry %q: sensitivity must be low, medium, or high", it.EntryType)
			}
			created, err := t.mgr.Insert(ctx, VaultInsert{
				EntryType:   it.EntryType,
				Source:      it.Source,
				Sensitivity: Sensitivity(it.Sensitivity),
				SecretValue: it.SecretValue,
				Description: it.Description,
			})
			if err != nil {
				return nil, err
			}
			ids = append(ids, created.ID)
		}
		return ids, nil
	}

	switch name {
	case "knowledge_vault_insert":
		var a struct {
			Items []vaultItemArgs `json:"items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		ids, err := insert(a.Items)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("inserted %d entries: %s", len(ids), strings.Join(ids, ", ")), nil

	case "knowledge_vault_update":
		var a struct {
			OldIDs   []string        `json:"old_ids"`
			NewItems []vaultItemArgs `json:"new_items"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		for _, id := range a.OldIDs {
			if err := t.mgr.DeleteByID(ctx, id); err != nil {
				return ToolResult{}, err
			}
		}
		ids, err := insert(a.NewItems)
		if err != nil {
			return ToolResult{}, err
		}
		return okResult("deleted %d, inserted %d entries", len(a.OldIDs), len(ids)), nil

	case ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return unknownTool(name)
}

// --- Core ---

// CoreTool exposes core memory mutation to the core agent. The blocks
// mutated belong to the configured chat agent so the edits land in its
// always-in-context memory.
type CoreTool struct {
	mgr     *CoreManager
	agentID string
}

func NewCoreTool(mgr *CoreManager, agentID string) *CoreTool {
	return &CoreTool{mgr: mgr, agentID: agentID}
}

func (t *CoreTool) Definitions() []ToolDefinition {
	return []ToolDefinition{
		toolDef("core_memory_append",
			"Append content to a core memory block (persona or human).",
			`{"type":"object","properties":{"label":{"type":"string","enum":["persona","human"]},"content":{"type":"string"}},"required":["label","content"]}`),
		toolDef("core_memory_replace",
			"Replace an exact passage in a core memory block. old_content must occur verbatim; new_content empty deletes the passage.",
			`{"type":"object","properties":{"label":{"type":"string","enum":["persona","human"]},"old_content":{"type":"string"},"new_content":{"type":"string"}},"required":["label","old_content","new_content"]}`),
		finishDef,
	}
}

func (t *CoreTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	switch name {
	case "core_memory_append":
		var a struct {
			Label   string `json:"label"`
			Content string `json:"content"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		if _, err := t.mgr.Append(ctx, t.agentID, a.Label, a.Content); err != nil {
			return ToolResult{}, err
		}
		return okResult("appended to %s", a.Label), nil

	case "core_memory_replace":
		var a struct {
			Label      string `json:"label"`
			OldContent string `json:"old_content"`
			NewContent string `json:"new_content"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		if _, err := t.mgr.Replace(ctx, t.agentID, a.Label, a.OldContent, a.NewContent); err != nil {
			return ToolResult{}, err
		}
		return okResult("replaced in %s", a.Label), nil

	case ToolFinishMemoryUpdate:
		return ToolResult{Content: "ok"}, nil
	}
	return unknownTool(name)
}

// --- Chat-side retrieval ---

// SearchTool exposes read-only memory search to the chat agent, plus
// send_message for surfacing the final reply.
type SearchTool struct {
	episodic   *EpisodicManager
	semantic   *SemanticManager
	procedural *ProceduralManager
	resource   *ResourceManager
	vault      *VaultManager
	core       *CoreManager
	agentID    string
}

func NewSearchTool(ep *EpisodicManager, sem *SemanticManager, proc *ProceduralManager, res *ResourceManager, v *VaultManager, core *CoreManager, agentID string) *SearchTool {
	return &SearchTool{episodic: ep, semantic: sem, procedural: proc, resource: res, vault: v, core: core, agentID: agentID}
}

func (t *SearchTool) Definitions() []ToolDefinition {
	return []ToolDefinition{
		toolDef("search_in_memory",
			"Search one memory type. method is one of \"\", string_match, fuzzy_match, semantic_match.",
			`{"type":"object","properties":{"memory_type":{"type":"string","enum":["episodic","semantic","procedural","resource","knowledge_vault","core"]},"query":{"type":"string"},"field":{"type":"string"},"method":{"type":"string"},"limit":{"type":"integer"}},"required":["memory_type"]}`),
		toolDef("send_message",
			"Send the final reply to the user.",
			`{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`),
	}
}

func (t *SearchTool) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	switch name {
	case "search_in_memory":
		var a struct {
			MemoryType string `json:"memory_type"`
			Query      string `json:"query"`
			Field      string `json:"field"`
			Method     string `json:"method"`
			Limit      int    `json:"limit"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		q := ListQuery{Method: SearchMethod(a.Method), Field: a.Field, Text: a.Query, Limit: a.Limit}
		out, err := t.search(ctx, a.MemoryType, q)
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Content: out}, nil

	case "send_message":
		var a struct {
			Message string `json:"message"`
		}
		if err := parseArgs(args, &a); err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Content: a.Message}, nil
	}
	return unknownTool(name)
}

func (t *SearchTool) search(ctx context.Context, memoryType string, q ListQuery) (string, error) {
	marshal := func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	switch memoryType {
	case "episodic":
		evs, err := t.episodic.List(ctx, q)
		if err != nil {
			return "", err
		}
		return marshal(evs)
	case "semantic":
		items, err := t.semantic.List(ctx, q)
		if err != nil {
			return "", err
		}
		return marshal(items)
	case "procedural":
		items, err := t.procedural.List(ctx, q)
		if err != nil {
			return "", err
		}
		return marshal(items)
	case "resource":
		items, err := t.resource.List(ctx, q)
		if err != nil {
			return "", err
		}
		return marshal(items)
	case "knowledge_vault":
		items, err := t.vault.List(ctx, q)
		if err != nil {
			return "", err
		}
		return marshal(items)
	case "core":
		blocks, err := t.core.Blocks(ctx, t.agentID)
		if err != nil {
			return "", err
		}
		return marshal(blocks)
	}
	return "", fmt.Errorf("unknown memory type %q", memoryType)
}
