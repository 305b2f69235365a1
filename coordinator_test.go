package mirix

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sendMessageMsg(text string) ResponseMessage {
	args, _ := json.Marshal(map[string]string{"message": text})
	return ResponseMessage{
		Type:     MessageTypeToolCall,
		ToolCall: &ToolCall{ID: "send_message", Name: "send_message", Args: args},
	}
}

func TestExtractChatReply(t *testing.T) {
	tests := []struct {
		name string
		msgs []ResponseMessage
		want string
	}{
		{
			"bare send_message",
			[]ResponseMessage{sendMessageMsg("hello")},
			"hello",
		},
		{
			"assistant commentary before the call",
			[]ResponseMessage{{Type: MessageTypeAssistant, Content: "thinking"}, sendMessageMsg("hello")},
			"hello",
		},
		{
			"trailing call and return pair after send_message",
			[]ResponseMessage{
				sendMessageMsg("hello"),
				toolCallMsg("search_in_memory", `{}`),
				{Type: MessageTypeToolReturn, Content: "[]"},
			},
			"hello",
		},
		{
			"empty transcript",
			nil,
			ErrorInvalidResponseStructure,
		},
		{
			"assistant only",
			[]ResponseMessage{{Type: MessageTypeAssistant, Content: "hi"}},
			ErrorNoToolCall,
		},
		{
			"unbalanced trailing returns",
			[]ResponseMessage{
				{Type: MessageTypeToolReturn, Content: "a"},
				{Type: MessageTypeToolReturn, Content: "b"},
			},
			ErrorInvalidResponseStructure,
		},
		{
			"malformed args",
			[]ResponseMessage{{Type: MessageTypeToolCall, ToolCall: &ToolCall{Name: "send_message", Args: []byte(`{"message":`)}}},
			ErrorParsingException,
		},
		{
			"missing message key",
			[]ResponseMessage{{Type: MessageTypeToolCall, ToolCall: &ToolCall{Name: "send_message", Args: []byte(`{}`)}}},
			ErrorNoMessageInArgs,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractChatReply(&LLMResponse{Messages: tt.msgs}); got != tt.want {
				t.Errorf("ExtractChatReply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsErrorToken(t *testing.T) {
	for _, token := range []string{
		ErrorResponseFailed, ErrorInvalidResponseStructure, ErrorNoToolCall,
		ErrorNoMessageInArgs, ErrorParsingException,
	} {
		if !IsErrorToken(token) {
			t.Errorf("IsErrorToken(%q) = false", token)
		}
	}
	if IsErrorToken("a normal reply") {
		t.Error("normal reply classified as error token")
	}
}

func newTestCoordinator(t *testing.T, client LLMClient, cfg CoordinatorConfig, opts ...CoordinatorOption) (*Coordinator, *memStore) {
	t.Helper()
	store := newMemStore()
	opts = append([]CoordinatorOption{WithAgents(DefaultAgents())}, opts...)
	c := NewCoordinator(store, client, newStubEmbedding(), nil, nil, cfg, opts...)
	t.Cleanup(func() { c.Close() })
	return c, store
}

func conversationTurns(c *Coordinator) int {
	a := c.Accumulator()
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.convo[len(a.convo)-1])
}

func TestChatToolRoundThenReply(t *testing.T) {
	store := newMemStore()
	client := newScriptClient()
	client.enqueue("agent-chat", &LLMResponse{Messages: []ResponseMessage{
		toolCallMsg("search_in_memory", `{"memory_type":"episodic","query":"dentist","method":"string_match"}`),
	}})
	client.enqueue("agent-chat", &LLMResponse{Messages: []ResponseMessage{sendMessageMsg("you went on Tuesday")}})
	c := NewCoordinator(store, client, newStubEmbedding(), nil, nil, CoordinatorConfig{}, WithAgents(DefaultAgents()))
	defer c.Close()

	reply := c.Chat(context.Background(), "when was my dentist appointment?")
	if reply != "you went on Tuesday" {
		t.Fatalf("reply = %q", reply)
	}

	reqs := client.requestsFor("agent-chat")
	if len(reqs) != 2 {
		t.Fatalf("chat rounds = %d, want 2", len(reqs))
	}
	if !strings.HasPrefix(reqs[1].Parts[0].Text, "[Tool Return] search_in_memory:") {
		t.Errorf("second round parts = %+v", reqs[1].Parts)
	}
	if got := conversationTurns(c); got != 2 {
		t.Errorf("conversation turns = %d, want user+assistant pair", got)
	}
}

func TestChatNoToolCall(t *testing.T) {
	client := newScriptClient()
	client.enqueue("agent-chat", &LLMResponse{Messages: []ResponseMessage{
		{Type: MessageTypeAssistant, Content: "plain text with no tool call"},
	}})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if reply := c.Chat(context.Background(), "hi"); reply != ErrorNoToolCall {
		t.Errorf("reply = %q, want %q", reply, ErrorNoToolCall)
	}
	if got := conversationTurns(c); got != 0 {
		t.Errorf("error reply recorded into the conversation window (%d turns)", got)
	}
}

func TestChatRequestFailure(t *testing.T) {
	client := newScriptClient()
	client.err = errors.New("provider down")
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if reply := c.Chat(context.Background(), "hi"); reply != ErrorResponseFailed {
		t.Errorf("reply = %q, want %q", reply, ErrorResponseFailed)
	}
}

func TestAskDoesNotRecordConversation(t *testing.T) {
	client := newScriptClient()
	client.enqueue("agent-chat", &LLMResponse{Messages: []ResponseMessage{sendMessageMsg("42")}})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if reply := c.Ask(context.Background(), "meaning of life?"); reply != "42" {
		t.Fatalf("reply = %q", reply)
	}
	if got := conversationTurns(c); got != 0 {
		t.Errorf("Ask recorded %d conversation turns", got)
	}
}

func TestScreenMonitorDirective(t *testing.T) {
	client := newScriptClient()
	client.enqueue("agent-chat", &LLMResponse{Messages: []ResponseMessage{sendMessageMsg("ok")}})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{}, WithScreenMonitor(true))

	if reply := c.Chat(context.Background(), "what am I working on?"); reply != "ok" {
		t.Fatalf("reply = %q", reply)
	}
	reqs := client.requestsFor("agent-chat")
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	first := reqs[0].Parts[0].Text
	if !strings.Contains(first, "screen monitor") {
		t.Errorf("first part = %q, want the screen monitor directive", first)
	}

	// Without the flag the prompt starts with the user message.
	client2 := newScriptClient()
	client2.enqueue("agent-chat", &LLMResponse{Messages: []ResponseMessage{sendMessageMsg("ok")}})
	c2, _ := newTestCoordinator(t, client2, CoordinatorConfig{})
	c2.Chat(context.Background(), "what am I working on?")
	if got := client2.requestsFor("agent-chat")[0].Parts[0].Text; got != "what am I working on?" {
		t.Errorf("first part without the flag = %q", got)
	}
}

func TestMemorizeFlushesAtLimit(t *testing.T) {
	client := newScriptClient()
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{SkipMeta: true, MessageLimit: 2})
	ctx := context.Background()

	if err := c.Memorize(ctx, Observation{Text: "first"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	if got := len(client.requests()); got != 0 {
		t.Fatalf("dispatched %d requests below the limit", got)
	}
	if err := c.Memorize(ctx, Observation{Text: "second"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}

	// Direct mode fans out to all six memory agents.
	byAgent := map[string]int{}
	for _, r := range client.requests() {
		byAgent[r.AgentID]++
	}
	if len(byAgent) != 6 {
		t.Errorf("dispatched to %d agents, want 6: %v", len(byAgent), byAgent)
	}
	if c.Accumulator().Len() != 0 {
		t.Errorf("buffer len = %d after flush", c.Accumulator().Len())
	}
}

func TestPersonaRoundTrip(t *testing.T) {
	c, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{})
	ctx := context.Background()

	p, err := c.Persona(ctx)
	if err != nil || p != "" {
		t.Fatalf("unset persona = %q, %v", p, err)
	}
	if err := c.SetPersona(ctx, "curious and direct"); err != nil {
		t.Fatal(err)
	}
	p, err = c.Persona(ctx)
	if err != nil || p != "curious and direct" {
		t.Fatalf("persona = %q, %v", p, err)
	}
}

func TestSetModelKeyTracking(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	c, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{})
	ctx := context.Background()

	st, err := c.SetModel(ctx, "gemini-2.5-flash")
	if err != nil {
		t.Fatal(err)
	}
	if st.Success || len(st.MissingKeys) != 1 || st.MissingKeys[0] != "GEMINI_API_KEY" {
		t.Errorf("status without key = %+v", st)
	}
	// The switch persists even with a missing key.
	if chat, _ := c.Models(); chat != "gemini-2.5-flash" {
		t.Errorf("chat model = %q", chat)
	}

	if err := c.ProvideAPIKey(ctx, "gemini", "stored-key"); err != nil {
		t.Fatal(err)
	}
	st, err = c.SetModel(ctx, "gemini-2.5-pro")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Success {
		t.Errorf("status with stored key = %+v", st)
	}

	if _, err := c.SetModel(ctx, "mystery-model"); err == nil {
		t.Error("unsupported model accepted")
	}
	if err := c.ProvideAPIKey(ctx, "unknown-provider", "k"); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestSetMemoryModelAllowList(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	c, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{},
		WithModels("gemini-2.5-flash", "gemini-2.5-flash"))
	ctx := context.Background()

	st, err := c.SetMemoryModel(ctx, "gemini-2.0-flash")
	if err != nil || !st.Success {
		t.Fatalf("allow-listed model rejected: %+v, %v", st, err)
	}
	if _, memory := c.Models(); memory != "gemini-2.0-flash" {
		t.Errorf("memory model = %q", memory)
	}

	// Capable but expensive models stay off the memory path.
	if _, err := c.SetMemoryModel(ctx, "gemini-2.5-pro"); err == nil {
		t.Error("off-list model accepted")
	}
	if _, err := c.SetMemoryModel(ctx, "gpt-4o"); err == nil {
		t.Error("off-list provider accepted")
	}
	if _, memory := c.Models(); memory != "gemini-2.0-flash" {
		t.Errorf("memory model changed by rejected switch: %q", memory)
	}
}

func TestSetTimezone(t *testing.T) {
	c, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{})
	if err := c.SetTimezone("America/New_York"); err != nil {
		t.Fatalf("SetTimezone: %v", err)
	}
	if err := c.SetTimezone("Not/AZone"); err == nil {
		t.Error("invalid timezone accepted")
	}
}

func TestClearOldScreenshots(t *testing.T) {
	store := newMemStore()
	blob := newFakeBlob()
	client := newScriptClient()
	c := NewCoordinator(store, client, newStubEmbedding(), blob, nil, CoordinatorConfig{},
		WithAgents(DefaultAgents()), WithMaxTrackedImages(1))
	defer c.Close()
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range []string{"files/old", "files/mid", "files/new"} {
		ref := BlobRef{Name: name, URI: "https://blob.test/" + name, CreateTime: base.Add(time.Duration(i) * time.Hour)}
		c.Accumulator().TrackURI(ref)
		if err := store.CreateCloudMapping(ctx, &CloudFileMapping{
			ID: NewID(PrefixCloudMapping), LocalFileID: name, CloudFileID: name,
			URI: ref.URI, Status: CloudFileUploaded, CreatedAt: NowUTC(),
		}); err != nil {
			t.Fatal(err)
		}
	}

	// Cleanup defers while a request is in flight.
	gate := newGateClient()
	g := gate.gate("busy")
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Queue().Send(ctx, gate, LLMRequest{AgentID: "busy"}, AgentTypeChat)
	}()
	waitFor(t, func() bool { return c.Queue().Len() == 1 }, "request never enqueued")
	c.ClearOldScreenshots(ctx)
	if c.Accumulator().TrackedURICount() != 3 {
		t.Fatal("cleanup ran while the queue was busy")
	}
	close(g)
	<-done

	c.ClearOldScreenshots(ctx)
	if c.Accumulator().TrackedURICount() != 1 {
		t.Fatalf("tracked = %d after cleanup, want 1", c.Accumulator().TrackedURICount())
	}
	waitFor(t, func() bool { return len(blob.deletedNames()) == 2 }, "blobs never deleted")
	deleted := blob.deletedNames()
	if deleted[0] != "files/old" || deleted[1] != "files/mid" {
		t.Errorf("deleted = %v, want the two oldest", deleted)
	}
	waitFor(t, func() bool {
		m, err := store.CloudMappingByLocal(ctx, "files/old")
		return err != nil || m.Status == CloudFileDeleted
	}, "mapping never marked deleted")
}

func TestReconcile(t *testing.T) {
	store := newMemStore()
	blob := newFakeBlob()
	blob.refs = []BlobRef{
		{Name: "files/live", URI: "https://blob.test/files/live", CreateTime: time.Now().UTC()},
	}
	ctx := context.Background()
	for _, m := range []*CloudFileMapping{
		{ID: NewID(PrefixCloudMapping), LocalFileID: "a.png", CloudFileID: "files/live", URI: "https://blob.test/files/live", Status: CloudFileUploaded, CreatedAt: NowUTC()},
		{ID: NewID(PrefixCloudMapping), LocalFileID: "b.png", CloudFileID: "files/gone", URI: "https://blob.test/files/gone", Status: CloudFileUploaded, CreatedAt: NowUTC()},
	} {
		if err := store.CreateCloudMapping(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	c := NewCoordinator(store, newScriptClient(), newStubEmbedding(), blob, nil, CoordinatorConfig{}, WithAgents(DefaultAgents()))
	defer c.Close()

	if err := c.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if got := c.Accumulator().TrackedURICount(); got != 1 {
		t.Errorf("tracked URIs = %d, want the one live blob", got)
	}
	if m, err := store.CloudMappingByLocal(ctx, "b.png"); err == nil && m.Status != CloudFileDeleted {
		t.Errorf("gone mapping status = %s, want deleted", m.Status)
	}
}

func TestReflect(t *testing.T) {
	client := newScriptClient()
	client.enqueue("agent-reflexion", &LLMResponse{Messages: []ResponseMessage{
		{Type: MessageTypeAssistant, Content: "Conflict: episodic says Monday, semantic says Tuesday"},
	}})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if err := c.Reflect(context.Background()); err != nil {
		t.Fatalf("Reflect: %v", err)
	}

	if got := client.requestsFor("agent-reflexion"); len(got) != 1 {
		t.Errorf("reflexion agent requests = %d, want 1", len(got))
	}
	// Episodic: redundancy phase + conflict resolution.
	ep := client.requestsFor("agent-episodic")
	if len(ep) != 2 {
		t.Fatalf("episodic requests = %d, want 2", len(ep))
	}
	if !strings.Contains(ep[0].Parts[0].Text, "redundant or overlapping entries") {
		t.Errorf("phase 1 prompt = %q", ep[0].Parts[0].Text)
	}
	if !strings.Contains(ep[1].Parts[0].Text, "Conflict findings from the reflexion agent") {
		t.Errorf("conflict resolution prompt = %q", ep[1].Parts[0].Text)
	}
	// Semantic additionally runs the pattern phase.
	sem := client.requestsFor("agent-semantic")
	if len(sem) != 3 {
		t.Errorf("semantic requests = %d, want 3", len(sem))
	}
}

func TestReflectNoFindingsSkipsResolution(t *testing.T) {
	client := newScriptClient()
	client.enqueue("agent-reflexion", &LLMResponse{Messages: []ResponseMessage{
		toolCallMsg(ToolFinishMemoryUpdate, `{}`),
	}})
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if err := c.Reflect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ep := client.requestsFor("agent-episodic"); len(ep) != 1 {
		t.Errorf("episodic requests = %d, want only the redundancy phase", len(ep))
	}
}

func TestReflectAllPhasesFailed(t *testing.T) {
	client := newScriptClient()
	client.err = errors.New("provider down")
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if err := c.Reflect(context.Background()); err == nil {
		t.Error("Reflect succeeded with every phase failing")
	}
}

func TestReflectFailsWhenOnlyFindingsSucceed(t *testing.T) {
	// The reflexion agent reports findings, but every memory agent is down,
	// so no phase produces a usable outcome.
	client := &funcClient{fn: func(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
		if req.AgentID == "agent-reflexion" {
			return &LLMResponse{Messages: []ResponseMessage{
				{Type: MessageTypeAssistant, Content: "Conflict: two birthdays on record"},
			}}, nil
		}
		return nil, errors.New("provider down")
	}}
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if err := c.Reflect(context.Background()); err == nil {
		t.Error("Reflect succeeded although nothing was compacted, resolved, or distilled")
	}
}

func TestReflectSucceedsOnPartialOutcome(t *testing.T) {
	// One working agent is enough for the pass to count.
	client := &funcClient{fn: func(ctx context.Context, req LLMRequest) (*LLMResponse, error) {
		if req.AgentID == "agent-semantic" {
			return &LLMResponse{Messages: []ResponseMessage{toolCallMsg(ToolFinishMemoryUpdate, `{}`)}}, nil
		}
		return nil, errors.New("provider down")
	}}
	c, _ := newTestCoordinator(t, client, CoordinatorConfig{})

	if err := c.Reflect(context.Background()); err != nil {
		t.Errorf("Reflect = %v, want success with one live agent", err)
	}
}

func TestExportMemoriesToCSV(t *testing.T) {
	c, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{})
	ctx := context.Background()

	if _, err := c.Episodic().Insert(ctx, EpisodicInsert{EventType: "activity", Summary: "ran 5k"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Vault().Insert(ctx, VaultInsert{EntryType: "api_key", SecretValue: "sk-secret", Description: "ci token"}); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPersona(ctx, "direct"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := c.ExportMemoriesToCSV(ctx, dir); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"episodic.csv", "semantic.csv", "procedural.csv", "resource.csv", "knowledge_vault.csv", "core.csv"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing export %s: %v", name, err)
		}
	}

	ep, err := os.ReadFile(filepath.Join(dir, "episodic.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ep), "ran 5k") {
		t.Errorf("episodic.csv missing row:\n%s", ep)
	}
	vault, err := os.ReadFile(filepath.Join(dir, "knowledge_vault.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(vault), "sk-secret") {
		t.Error("knowledge_vault.csv leaked a secret value")
	}
	if !strings.Contains(string(vault), "ci token") {
		t.Errorf("knowledge_vault.csv missing description:\n%s", vault)
	}
}

func TestSaveAndLoad(t *testing.T) {
	c, store := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{}, WithAgentName("helper"), WithModels("gemini-2.5-flash", "gemini-2.5-flash-lite"))
	ctx := context.Background()
	if err := c.SetPersona(ctx, "direct"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := c.Save(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if !store.snapshots[dir] {
		t.Error("store snapshot never taken")
	}

	if err := c.Load(ctx, dir); err != nil {
		t.Fatal(err)
	}
	chat, memory := c.Models()
	if chat != "gemini-2.5-flash" || memory != "gemini-2.5-flash-lite" {
		t.Errorf("models after load = %q / %q", chat, memory)
	}
}

func TestSaveWritesSnapshotMetadata(t *testing.T) {
	c, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{},
		WithAgentName("helper"), WithScreenMonitor(true))
	ctx := context.Background()

	dir := t.TempDir()
	if err := c.Save(ctx, dir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "agent_config.json"))
	if err != nil {
		t.Fatal(err)
	}
	var st struct {
		AgentName                string `json:"agent_name"`
		IncludeRecentScreenshots bool   `json:"include_recent_screenshots"`
		IsScreenMonitor          bool   `json:"is_screen_monitor"`
		BackupType               string `json:"backup_type"`
		BackupTimestamp          string `json:"backup_timestamp"`
	}
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.AgentName != "helper" || !st.IncludeRecentScreenshots || !st.IsScreenMonitor {
		t.Errorf("metadata = %+v", st)
	}
	if st.BackupType != "memory" {
		t.Errorf("backup_type = %q", st.BackupType)
	}
	if _, err := time.Parse(time.RFC3339, st.BackupTimestamp); err != nil {
		t.Errorf("backup_timestamp %q: %v", st.BackupTimestamp, err)
	}

	// Load restores the monitor flag into a fresh coordinator.
	c2, _ := newTestCoordinator(t, newScriptClient(), CoordinatorConfig{})
	if err := c2.Load(ctx, dir); err != nil {
		t.Fatal(err)
	}
	if !c2.isScreenMonitor() {
		t.Error("screen monitor flag lost across save/load")
	}
}
