package mirix

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// memStore is an in-memory Store for tests. Search implements recency order,
// substring matching, and cosine ranking the way the real backends do, so
// manager tests exercise the same contracts.
type memStore struct {
	mu        sync.Mutex
	episodic  map[string]*EpisodicEvent
	semantic  map[string]*SemanticItem
	procedur  map[string]*ProceduralItem
	resource  map[string]*ResourceItem
	vault     map[string]*KnowledgeVaultItem
	blocks    map[string]*CoreBlock // agentID+"/"+label
	messages  []*Message
	mappings  []*CloudFileMapping
	keys      map[string]string
	snapshots map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		episodic:  make(map[string]*EpisodicEvent),
		semantic:  make(map[string]*SemanticItem),
		procedur:  make(map[string]*ProceduralItem),
		resource:  make(map[string]*ResourceItem),
		vault:     make(map[string]*KnowledgeVaultItem),
		blocks:    make(map[string]*CoreBlock),
		keys:      make(map[string]string),
		snapshots: make(map[string]bool),
	}
}

func (s *memStore) Init(ctx context.Context) error { return nil }
func (s *memStore) Close() error                   { return nil }
func (s *memStore) Backend() string                { return "memory" }

func (s *memStore) CreateEpisodic(ctx context.Context, ev *EpisodicEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	s.episodic[ev.ID] = &cp
	return nil
}

func (s *memStore) GetEpisodic(ctx context.Context, id string) (*EpisodicEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.episodic[id]
	if !ok {
		return nil, &NotFoundError{Kind: "episodic event", ID: id}
	}
	cp := *ev
	return &cp, nil
}

func (s *memStore) UpdateEpisodic(ctx context.Context, ev *EpisodicEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodic[ev.ID]; !ok {
		return &NotFoundError{Kind: "episodic event", ID: ev.ID}
	}
	cp := *ev
	s.episodic[ev.ID] = &cp
	return nil
}

func (s *memStore) DeleteEpisodic(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.episodic[id]; !ok {
		return &NotFoundError{Kind: "episodic event", ID: id}
	}
	delete(s.episodic, id)
	return nil
}

func (s *memStore) SearchEpisodic(ctx context.Context, q SearchQuery) ([]*EpisodicEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*EpisodicEvent
	for _, ev := range s.episodic {
		cp := *ev
		all = append(all, &cp)
	}
	return searchRows(all, q,
		func(ev *EpisodicEvent) (time.Time, string) { return ev.CreatedAt, ev.ID },
		func(ev *EpisodicEvent) string {
			if q.Field == "details" {
				return ev.Details
			}
			return ev.Summary
		},
		func(ev *EpisodicEvent) []float32 {
			if q.Field == "details" {
				return ev.DetailsEmbedding
			}
			return ev.SummaryEmbedding
		}), nil
}

func (s *memStore) CreateSemantic(ctx context.Context, it *SemanticItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.semantic[it.ID] = &cp
	return nil
}

func (s *memStore) GetSemantic(ctx context.Context, id string) (*SemanticItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.semantic[id]
	if !ok {
		return nil, &NotFoundError{Kind: "semantic item", ID: id}
	}
	cp := *it
	return &cp, nil
}

func (s *memStore) UpdateSemantic(ctx context.Context, it *SemanticItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.semantic[it.ID]; !ok {
		return &NotFoundError{Kind: "semantic item", ID: it.ID}
	}
	cp := *it
	s.semantic[it.ID] = &cp
	return nil
}

func (s *memStore) DeleteSemantic(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.semantic[id]; !ok {
		return &NotFoundError{Kind: "semantic item", ID: id}
	}
	delete(s.semantic, id)
	return nil
}

func (s *memStore) SearchSemantic(ctx context.Context, q SearchQuery) ([]*SemanticItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*SemanticItem
	for _, it := range s.semantic {
		cp := *it
		all = append(all, &cp)
	}
	return searchRows(all, q,
		func(it *SemanticItem) (time.Time, string) { return it.CreatedAt, it.ID },
		func(it *SemanticItem) string { return it.Concept },
		func(it *SemanticItem) []float32 { return it.ConceptEmbedding }), nil
}

func (s *memStore) CreateProcedural(ctx context.Context, it *ProceduralItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.procedur[it.ID] = &cp
	return nil
}

func (s *memStore) GetProcedural(ctx context.Context, id string) (*ProceduralItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.procedur[id]
	if !ok {
		return nil, &NotFoundError{Kind: "procedural item", ID: id}
	}
	cp := *it
	return &cp, nil
}

func (s *memStore) UpdateProcedural(ctx context.Context, it *ProceduralItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procedur[it.ID]; !ok {
		return &NotFoundError{Kind: "procedural item", ID: it.ID}
	}
	cp := *it
	s.procedur[it.ID] = &cp
	return nil
}

func (s *memStore) DeleteProcedural(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procedur[id]; !ok {
		return &NotFoundError{Kind: "procedural item", ID: id}
	}
	delete(s.procedur, id)
	return nil
}

func (s *memStore) SearchProcedural(ctx context.Context, q SearchQuery) ([]*ProceduralItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*ProceduralItem
	for _, it := range s.procedur {
		cp := *it
		all = append(all, &cp)
	}
	return searchRows(all, q,
		func(it *ProceduralItem) (time.Time, string) { return it.CreatedAt, it.ID },
		func(it *ProceduralItem) string { return it.Description },
		func(it *ProceduralItem) []float32 { return it.DescriptionEmbedding }), nil
}

func (s *memStore) CreateResource(ctx context.Context, it *ResourceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.resource[it.ID] = &cp
	return nil
}

func (s *memStore) GetResource(ctx context.Context, id string) (*ResourceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.resource[id]
	if !ok {
		return nil, &NotFoundError{Kind: "resource item", ID: id}
	}
	cp := *it
	return &cp, nil
}

func (s *memStore) UpdateResource(ctx context.Context, it *ResourceItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resource[it.ID]; !ok {
		return &NotFoundError{Kind: "resource item", ID: it.ID}
	}
	cp := *it
	s.resource[it.ID] = &cp
	return nil
}

func (s *memStore) DeleteResource(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resource[id]; !ok {
		return &NotFoundError{Kind: "resource item", ID: id}
	}
	delete(s.resource, id)
	return nil
}

func (s *memStore) SearchResource(ctx context.Context, q SearchQuery) ([]*ResourceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*ResourceItem
	for _, it := range s.resource {
		cp := *it
		all = append(all, &cp)
	}
	return searchRows(all, q,
		func(it *ResourceItem) (time.Time, string) { return it.CreatedAt, it.ID },
		func(it *ResourceItem) string { return it.Summary },
		func(it *ResourceItem) []float32 { return it.SummaryEmbedding }), nil
}

func (s *memStore) CreateVaultItem(ctx context.Context, it *KnowledgeVaultItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *it
	s.vault[it.ID] = &cp
	return nil
}

func (s *memStore) GetVaultItem(ctx context.Context, id string) (*KnowledgeVaultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.vault[id]
	if !ok {
		return nil, &NotFoundError{Kind: "vault item", ID: id}
	}
	cp := *it
	return &cp, nil
}

func (s *memStore) UpdateVaultItem(ctx context.Context, it *KnowledgeVaultItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vault[it.ID]; !ok {
		return &NotFoundError{Kind: "vault item", ID: it.ID}
	}
	cp := *it
	s.vault[it.ID] = &cp
	return nil
}

func (s *memStore) DeleteVaultItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vault[id]; !ok {
		return &NotFoundError{Kind: "vault item", ID: id}
	}
	delete(s.vault, id)
	return nil
}

func (s *memStore) SearchVault(ctx context.Context, q SearchQuery) ([]*KnowledgeVaultItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*KnowledgeVaultItem
	for _, it := range s.vault {
		cp := *it
		all = append(all, &cp)
	}
	// Only the description is ever a search target.
	return searchRows(all, q,
		func(it *KnowledgeVaultItem) (time.Time, string) { return it.CreatedAt, it.ID },
		func(it *KnowledgeVaultItem) string { return it.Description },
		func(it *KnowledgeVaultItem) []float32 { return it.DescriptionEmbedding }), nil
}

func (s *memStore) GetCoreBlock(ctx context.Context, agentID, label string) (*CoreBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[agentID+"/"+label]
	if !ok {
		return nil, &NotFoundError{Kind: "core block", ID: agentID + "/" + label}
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) UpsertCoreBlock(ctx context.Context, b *CoreBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[b.AgentID+"/"+b.Label] = &cp
	return nil
}

func (s *memStore) ListCoreBlocks(ctx context.Context, agentID string) ([]*CoreBlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*CoreBlock
	for _, b := range s.blocks {
		if b.AgentID == agentID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *memStore) AppendMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memStore) RecentMessages(ctx context.Context, agentID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.messages {
		if m.AgentID == agentID {
			cp := *m
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) CreateCloudMapping(ctx context.Context, m *CloudFileMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.mappings = append(s.mappings, &cp)
	return nil
}

func (s *memStore) CloudMappingByLocal(ctx context.Context, localFileID string) (*CloudFileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.mappings) - 1; i >= 0; i-- {
		m := s.mappings[i]
		if m.LocalFileID == localFileID && m.Status != CloudFileDeleted {
			cp := *m
			return &cp, nil
		}
	}
	return nil, &NotFoundError{Kind: "cloud mapping", ID: localFileID}
}

func (s *memStore) SetCloudMappingStatus(ctx context.Context, cloudFileID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.CloudFileID == cloudFileID && m.Status != CloudFileDeleted {
			m.Status = status
			return nil
		}
	}
	return &NotFoundError{Kind: "cloud mapping", ID: cloudFileID}
}

func (s *memStore) ListCloudMappings(ctx context.Context) ([]*CloudFileMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CloudFileMapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) DeleteCloudMapping(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.mappings {
		if m.ID == id {
			s.mappings = append(s.mappings[:i], s.mappings[i+1:]...)
			return nil
		}
	}
	return &NotFoundError{Kind: "cloud mapping", ID: id}
}

func (s *memStore) ProviderKey(ctx context.Context, provider string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[provider]
	if !ok {
		return "", &NotFoundError{Kind: "provider key", ID: provider}
	}
	return key, nil
}

func (s *memStore) SetProviderKey(ctx context.Context, provider, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[provider] = key
	return nil
}

func (s *memStore) Snapshot(ctx context.Context, dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[dir] = true
	return nil
}

func (s *memStore) Restore(ctx context.Context, dir string) error { return nil }

var _ Store = (*memStore)(nil)

// searchRows applies the Store search contract over in-memory rows.
func searchRows[T any](all []T, q SearchQuery, keyOf func(T) (time.Time, string), textOf func(T) string, embOf func(T) []float32) []T {
	switch q.Method {
	case SearchStringMatch:
		var out []T
		for _, row := range all {
			if strings.Contains(strings.ToLower(textOf(row)), strings.ToLower(q.Text)) {
				out = append(out, row)
			}
		}
		sortRecent(out, keyOf)
		return clip(out, q.Limit)
	case SearchSemanticMatch:
		var out []T
		for _, row := range all {
			if len(embOf(row)) > 0 {
				out = append(out, row)
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			di := CosineDistance(q.Embedding, embOf(out[i]))
			dj := CosineDistance(q.Embedding, embOf(out[j]))
			if di != dj {
				return di < dj
			}
			ti, idi := keyOf(out[i])
			tj, idj := keyOf(out[j])
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return idi < idj
		})
		return clip(out, q.Limit)
	default:
		sortRecent(all, keyOf)
		return clip(all, q.Limit)
	}
}

func sortRecent[T any](rows []T, keyOf func(T) (time.Time, string)) {
	sort.SliceStable(rows, func(i, j int) bool {
		ti, idi := keyOf(rows[i])
		tj, idj := keyOf(rows[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return idi > idj
	})
}

func clip[T any](rows []T, limit int) []T {
	if limit > 0 && len(rows) > limit {
		return rows[:limit]
	}
	return rows
}

// stubEmbedding returns deterministic low-dimension vectors. Texts mapped in
// vecs get that vector; everything else embeds to fallback.
type stubEmbedding struct {
	mu       sync.Mutex
	vecs     map[string][]float32
	fallback []float32
	calls    []string
	err      error
}

func newStubEmbedding() *stubEmbedding {
	return &stubEmbedding{vecs: map[string][]float32{}, fallback: []float32{1, 0, 0}}
}

func (e *stubEmbedding) Name() string    { return "stub" }
func (e *stubEmbedding) Dimensions() int { return 3 }

func (e *stubEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		e.calls = append(e.calls, t)
		if v, ok := e.vecs[t]; ok {
			out[i] = append([]float32(nil), v...)
		} else {
			out[i] = append([]float32(nil), e.fallback...)
		}
	}
	return out, nil
}

func (e *stubEmbedding) embedCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// scriptClient replays canned responses per agent ID, recording every request.
// When an agent's script runs out, the client answers with a bare
// finish_memory_update call.
type scriptClient struct {
	mu      sync.Mutex
	scripts map[string][]*LLMResponse
	reqs    []LLMRequest
	err     error
}

func newScriptClient() *scriptClient {
	return &scriptClient{scripts: map[string][]*LLMResponse{}}
}

func (c *scriptClient) enqueue(agentID string, resp *LLMResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[agentID] = append(c.scripts[agentID], resp)
}

func (c *scriptClient) SendMessage(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.reqs = append(c.reqs, req)
	if queue := c.scripts[req.AgentID]; len(queue) > 0 {
		resp := queue[0]
		c.scripts[req.AgentID] = queue[1:]
		return resp, nil
	}
	return &LLMResponse{Messages: []ResponseMessage{toolCallMsg(ToolFinishMemoryUpdate, `{}`)}}, nil
}

func (c *scriptClient) requests() []LLMRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LLMRequest(nil), c.reqs...)
}

func (c *scriptClient) requestsFor(agentID string) []LLMRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []LLMRequest
	for _, r := range c.reqs {
		if r.AgentID == agentID {
			out = append(out, r)
		}
	}
	return out
}

func toolCallMsg(name, args string) ResponseMessage {
	return ResponseMessage{
		Type:     MessageTypeToolCall,
		ToolCall: &ToolCall{ID: name, Name: name, Args: []byte(args)},
	}
}

// fakeBlob is a BlobStore double. Uploads succeed after failFirst failures
// per path; every operation is recorded.
type fakeBlob struct {
	mu        sync.Mutex
	seq       int
	failFirst int
	attempts  map[string]int
	uploaded  []string
	deleted   []string
	refs      []BlobRef
	uploadErr error
}

func newFakeBlob() *fakeBlob {
	return &fakeBlob{attempts: map[string]int{}}
}

func (b *fakeBlob) Upload(ctx context.Context, localPath string) (BlobRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[localPath]++
	if b.uploadErr != nil {
		return BlobRef{}, b.uploadErr
	}
	if b.attempts[localPath] <= b.failFirst {
		return BlobRef{}, fmt.Errorf("upload unavailable")
	}
	b.seq++
	ref := BlobRef{
		Name:       fmt.Sprintf("files/blob-%d", b.seq),
		URI:        fmt.Sprintf("https://blob.test/files/blob-%d", b.seq),
		CreateTime: time.Now().UTC(),
	}
	b.uploaded = append(b.uploaded, localPath)
	b.refs = append(b.refs, ref)
	return ref, nil
}

func (b *fakeBlob) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, name)
	return nil
}

func (b *fakeBlob) List(ctx context.Context) ([]BlobRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BlobRef(nil), b.refs...), nil
}

func (b *fakeBlob) deletedNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

var _ BlobStore = (*fakeBlob)(nil)

// stubTranscriber joins segment payloads, standing in for a speech model.
type stubTranscriber struct {
	err error
}

func (t *stubTranscriber) Process(ctx context.Context, segments []AudioSegment) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	var parts []string
	for _, seg := range segments {
		parts = append(parts, string(seg.Data))
	}
	return strings.Join(parts, " "), nil
}
