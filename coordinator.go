package mirix

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mirix-ai/mirix/internal/config"
)

// DefaultMaxTrackedImages caps how many uploaded screenshots stay referenced
// in chat context before the oldest are deleted from cloud storage.
const DefaultMaxTrackedImages = 50

// Coordinator is the façade over the memory engine: it owns the accumulator,
// upload manager, queue, router, and the six memory managers, and exposes the
// two entry points (memorize and chat) plus runtime administration.
type Coordinator struct {
	store       Store
	client      LLMClient
	embed       EmbeddingProvider
	blob        BlobStore
	transcriber Transcriber

	queue   *MessageQueue
	uploads *UploadManager
	accum   *Accumulator
	router  *Router

	episodic   *EpisodicManager
	semantic   *SemanticManager
	procedural *ProceduralManager
	resource   *ResourceManager
	vault      *VaultManager
	core       *CoreManager

	chatTool *SearchTool
	agents   AgentSet

	mu               sync.RWMutex
	agentName        string
	chatModel        string
	memoryModel      string
	timezoneName     string
	screenshotsInCtx bool
	screenMonitor    bool
	maxTracked       int
	maxChatRounds    int

	logger *slog.Logger
	tracer Tracer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAgents sets the agent identities used for dispatch.
func WithAgents(a AgentSet) CoordinatorOption {
	return func(c *Coordinator) { c.agents = a }
}

// WithAgentName names the assistant (persisted in snapshots).
func WithAgentName(name string) CoordinatorOption {
	return func(c *Coordinator) { c.agentName = name }
}

// WithModels sets the chat and memory model names.
func WithModels(chat, memory string) CoordinatorOption {
	return func(c *Coordinator) { c.chatModel, c.memoryModel = chat, memory }
}

// WithIncludeRecentScreenshots controls whether chat prompts carry the most
// recent buffered screenshots as context.
func WithIncludeRecentScreenshots(on bool) CoordinatorOption {
	return func(c *Coordinator) { c.screenshotsInCtx = on }
}

// WithScreenMonitor marks the deployment as a screen monitor: the chat
// agent is told that screenshots of the user's screen accompany the
// conversation.
func WithScreenMonitor(on bool) CoordinatorOption {
	return func(c *Coordinator) { c.screenMonitor = on }
}

// WithMaxTrackedImages overrides DefaultMaxTrackedImages.
func WithMaxTrackedImages(n int) CoordinatorOption {
	return func(c *Coordinator) { c.maxTracked = n }
}

// WithCoordinatorLogger sets a structured logger shared by all components
// the coordinator constructs.
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// WithCoordinatorTracer sets a tracer shared by all constructed components.
func WithCoordinatorTracer(t Tracer) CoordinatorOption {
	return func(c *Coordinator) { c.tracer = t }
}

// CoordinatorConfig carries the tunables forwarded to the components the
// coordinator constructs.
type CoordinatorConfig struct {
	SkipMeta          bool
	MessageLimit      int
	UploadWaitTimeout time.Duration
	UploadWorkers     int
}

// NewCoordinator wires the full engine. blob and transcriber may be nil for
// text-only deployments.
func NewCoordinator(store Store, client LLMClient, embed EmbeddingProvider, blob BlobStore, transcriber Transcriber, cfg CoordinatorConfig, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:            store,
		client:           client,
		embed:            embed,
		blob:             blob,
		transcriber:      transcriber,
		agentName:        "mirix",
		timezoneName:     "UTC",
		screenshotsInCtx: true,
		maxTracked:       DefaultMaxTrackedImages,
		maxChatRounds:    5,
		logger:           nopLogger,
	}
	for _, o := range opts {
		o(c)
	}

	c.queue = NewMessageQueue(WithQueueLogger(c.logger))

	uploadOpts := []UploadOption{WithUploadLogger(c.logger), WithUploadTracer(c.tracer)}
	if cfg.UploadWorkers > 0 {
		uploadOpts = append(uploadOpts, WithUploadWorkers(cfg.UploadWorkers))
	}
	if blob != nil {
		c.uploads = NewUploadManager(blob, store, uploadOpts...)
	}

	accumOpts := []AccumOption{WithAccumLogger(c.logger), WithAccumTracer(c.tracer)}
	if cfg.MessageLimit > 0 {
		accumOpts = append(accumOpts, WithMessageLimit(cfg.MessageLimit))
	}
	if cfg.UploadWaitTimeout > 0 {
		accumOpts = append(accumOpts, WithUploadWaitTimeout(cfg.UploadWaitTimeout))
	}
	c.accum = NewAccumulator(c.uploads, store, transcriber, accumOpts...)

	mgrOpts := []ManagerOption{WithManagerLogger(c.logger), WithManagerTracer(c.tracer)}
	c.episodic = NewEpisodicManager(store, embed, mgrOpts...)
	c.semantic = NewSemanticManager(store, embed, mgrOpts...)
	c.procedural = NewProceduralManager(store, embed, mgrOpts...)
	c.resource = NewResourceManager(store, embed, mgrOpts...)
	c.vault = NewVaultManager(store, embed, mgrOpts...)
	c.core = NewCoreManager(store, mgrOpts...)

	c.chatTool = NewSearchTool(c.episodic, c.semantic, c.procedural, c.resource, c.vault, c.core, c.agents.Chat)
	tools := map[string]Tool{
		AgentTypeMetaMemory:     MetaTool{},
		AgentTypeEpisodic:       NewEpisodicTool(c.episodic),
		AgentTypeSemantic:       NewSemanticTool(c.semantic),
		AgentTypeProcedural:     NewProceduralTool(c.procedural),
		AgentTypeResource:       NewResourceTool(c.resource),
		AgentTypeKnowledgeVault: NewVaultTool(c.vault),
		AgentTypeCore:           NewCoreTool(c.core, c.agents.Chat),
		AgentTypeChat:           c.chatTool,
		AgentTypeReflexion:      c.chatTool,
	}
	c.router = NewRouter(c.queue, client, c.agents, store, tools,
		WithSkipMeta(cfg.SkipMeta), WithRouterLogger(c.logger), WithRouterTracer(c.tracer))

	return c
}

// Close stops background workers and closes the store.
func (c *Coordinator) Close() error {
	if c.uploads != nil {
		c.uploads.Close()
	}
	return c.store.Close()
}

// Accumulator exposes the accumulator, e.g. for wiring external capture loops.
func (c *Coordinator) Accumulator() *Accumulator { return c.accum }

// Queue exposes the per-agent-type dispatch queue.
func (c *Coordinator) Queue() *MessageQueue { return c.queue }

// Episodic returns the episodic memory manager. The remaining managers have
// matching accessors.
func (c *Coordinator) Episodic() *EpisodicManager     { return c.episodic }
func (c *Coordinator) Semantic() *SemanticManager     { return c.semantic }
func (c *Coordinator) Procedural() *ProceduralManager { return c.procedural }
func (c *Coordinator) Resource() *ResourceManager     { return c.resource }
func (c *Coordinator) Vault() *VaultManager           { return c.vault }
func (c *Coordinator) Core() *CoreManager             { return c.core }

// --- Memorize path ---

// Memorize buffers one observation and, when the resolved prefix reaches the
// message limit, flushes it into memory and prunes old screenshots.
func (c *Coordinator) Memorize(ctx context.Context, obs Observation, timestamp time.Time, async bool) error {
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	if err := c.accum.Add(ctx, obs, timestamp, async); err != nil {
		return err
	}
	ready := c.accum.ShouldFlush()
	if ready == nil {
		return nil
	}
	if err := c.accum.Flush(ctx, c.router, ready); err != nil {
		return err
	}
	c.ClearOldScreenshots(ctx)
	return nil
}

// --- Chat path ---

// Chat runs one conversational turn against the chat agent, executing its
// retrieval tool calls until it sends a reply. Failures return one of the
// sentinel error tokens rather than an error, so callers can surface a
// recoverable message.
func (c *Coordinator) Chat(ctx context.Context, message string) string {
	return c.chat(ctx, message, true)
}

// Ask is a pure retrieval question: like Chat but without screenshot context
// and without recording the exchange into the conversation window.
func (c *Coordinator) Ask(ctx context.Context, question string) string {
	return c.chat(ctx, question, false)
}

func (c *Coordinator) chat(ctx context.Context, message string, conversational bool) string {
	ctx, span := startSpan(ctx, c.tracer, "coordinator.chat", BoolAttr("conversational", conversational))
	reply := c.chatSteps(ctx, message, conversational)
	endSpan(span, nil)

	if conversational && !IsErrorToken(reply) {
		c.accum.AddUserConversation(message, reply)
	}
	return reply
}

// screenMonitorDirective frames the chat agent when the deployment watches
// the user's screen.
const screenMonitorDirective = "[System Message] This assistant runs alongside a screen monitor: recent screenshots from the user's computer may accompany the conversation. Ground answers about the user's activity in them."

func (c *Coordinator) chatSteps(ctx context.Context, message string, conversational bool) string {
	var parts []PromptPart
	if c.isScreenMonitor() {
		parts = append(parts, TextPart(screenMonitorDirective))
	}
	if conversational && c.includeScreenshots() && c.uploads != nil {
		images := c.accum.RecentImagesForChat(time.Now())
		if len(images) > 0 {
			parts = append(parts, TextPart("The following are the recent screenshots from the user's computer:"))
			loc := c.location()
			for _, im := range images {
				parts = append(parts, TextPart("Timestamp: "+im.Timestamp.In(loc).Format("2006-01-02 15:04:05")))
				parts = append(parts, BlobURIPart(im.Ref.URI))
			}
		}
	}
	parts = append(parts, TextPart(message))

	uris := c.accum.TrackedURIs()
	for round := 0; round < c.maxChatRounds; round++ {
		req := LLMRequest{
			AgentID:          c.agents.Chat,
			Role:             "user",
			Parts:            parts,
			Tools:            c.chatTool.Definitions(),
			ExistingFileURIs: uris,
		}
		resp, err := c.queue.Send(ctx, c.client, req, AgentTypeChat)
		if err != nil {
			c.logger.Warn("coordinator: chat request failed", "error", err)
			return ErrorResponseFailed
		}

		if hasSendMessage(resp) {
			return ExtractChatReply(resp)
		}

		var followup []PromptPart
		for _, msg := range resp.Messages {
			if msg.Type != MessageTypeToolCall || msg.ToolCall == nil {
				continue
			}
			result, err := c.chatTool.Execute(ctx, msg.ToolCall.Name, msg.ToolCall.Args)
			if err != nil {
				result = ToolResult{Error: err.Error()}
			}
			followup = append(followup, toolReturnPart(msg.ToolCall.Name, result))
		}
		if len(followup) == 0 {
			return ErrorNoToolCall
		}
		parts = followup
	}
	return ErrorResponseFailed
}

func hasSendMessage(resp *LLMResponse) bool {
	for _, msg := range resp.Messages {
		if msg.Type == MessageTypeToolCall && msg.ToolCall != nil && msg.ToolCall.Name == "send_message" {
			return true
		}
	}
	return false
}

// ExtractChatReply pulls the user-visible reply out of a chat transcript.
// The terminal send_message tool call is located by counting the trailing
// tool_return messages and stepping back over the matching call/return
// pairs. Malformed transcripts yield a sentinel error token.
func ExtractChatReply(resp *LLMResponse) string {
	msgs := resp.Messages
	if len(msgs) == 0 {
		return ErrorInvalidResponseStructure
	}
	trailing := 0
	for trailing < len(msgs) && msgs[len(msgs)-1-trailing].Type == MessageTypeToolReturn {
		trailing++
	}
	idx := len(msgs) - (trailing*2 + 1)
	if idx < 0 || idx >= len(msgs) {
		return ErrorInvalidResponseStructure
	}
	msg := msgs[idx]
	if msg.Type != MessageTypeToolCall || msg.ToolCall == nil {
		return ErrorNoToolCall
	}
	var args struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(msg.ToolCall.Args, &args); err != nil {
		return ErrorParsingException
	}
	if args.Message == nil {
		return ErrorNoMessageInArgs
	}
	return *args.Message
}

// IsErrorToken reports whether s is one of the sentinel retrieval tokens.
func IsErrorToken(s string) bool {
	switch s {
	case ErrorResponseFailed, ErrorInvalidResponseStructure, ErrorNoToolCall,
		ErrorNoMessageInArgs, ErrorParsingException:
		return true
	}
	return false
}

// --- Screenshot retention ---

// ClearOldScreenshots deletes the oldest tracked screenshots from cloud
// storage once the tracked set exceeds the cap. Skipped while agent requests
// are in flight so a prompt never references a just-deleted blob.
func (c *Coordinator) ClearOldScreenshots(ctx context.Context) {
	if c.blob == nil {
		return
	}
	if c.queue.Len() > 0 {
		c.logger.Debug("coordinator: screenshot cleanup deferred, queue busy", "depth", c.queue.Len())
		return
	}
	names := c.accum.EvictOldestURIs(c.maxTrackedCap())
	if len(names) == 0 {
		return
	}
	go func() {
		for _, name := range names {
			if err := c.blob.Delete(context.Background(), name); err != nil {
				c.logger.Warn("coordinator: blob delete failed", "name", name, "error", err)
				continue
			}
			if err := c.store.SetCloudMappingStatus(context.Background(), name, CloudFileDeleted); err != nil {
				c.logger.Warn("coordinator: mapping delete mark failed", "name", name, "error", err)
			}
		}
		c.logger.Info("coordinator: cleared old screenshots", "count", len(names))
	}()
}

// Reconcile aligns cloud mappings with remote storage at startup: mappings
// whose blob still exists are re-tracked for upload reuse and chat context;
// mappings whose blob is gone are marked deleted.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	if c.blob == nil {
		return nil
	}
	refs, err := c.blob.List(ctx)
	if err != nil {
		return err
	}
	remote := make(map[string]BlobRef, len(refs))
	for _, r := range refs {
		remote[r.Name] = r
	}
	mappings, err := c.store.ListCloudMappings(ctx)
	if err != nil {
		return err
	}
	tracked, gone := 0, 0
	for _, m := range mappings {
		if m.Status == CloudFileDeleted {
			continue
		}
		ref, ok := remote[m.CloudFileID]
		if !ok {
			gone++
			if err := c.store.SetCloudMappingStatus(ctx, m.CloudFileID, CloudFileDeleted); err != nil {
				c.logger.Warn("coordinator: reconcile mark failed", "name", m.CloudFileID, "error", err)
			}
			continue
		}
		if c.uploads != nil {
			c.uploads.TrackExisting(ref)
		}
		if m.Status == CloudFileUploaded {
			c.accum.TrackURI(ref)
			tracked++
		}
	}
	c.logger.Info("coordinator: reconciled cloud files", "tracked", tracked, "gone", gone)
	return nil
}

// --- Runtime administration ---

func (c *Coordinator) includeScreenshots() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.screenshotsInCtx
}

func (c *Coordinator) isScreenMonitor() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.screenMonitor
}

func (c *Coordinator) maxTrackedCap() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxTracked
}

func (c *Coordinator) location() *time.Location {
	c.mu.RLock()
	name := c.timezoneName
	c.mu.RUnlock()
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SetTimezone switches the timezone used for prompt timestamps and read-side
// timestamp conversion across all managers.
func (c *Coordinator) SetTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	c.mu.Lock()
	c.timezoneName = name
	c.mu.Unlock()
	c.accum.SetTimezone(loc)
	c.episodic.SetTimezone(loc)
	c.semantic.SetTimezone(loc)
	c.procedural.SetTimezone(loc)
	c.resource.SetTimezone(loc)
	c.vault.SetTimezone(loc)
	c.core.SetTimezone(loc)
	return nil
}

// Persona returns the chat agent's persona core block, or "" when unset.
func (c *Coordinator) Persona(ctx context.Context) (string, error) {
	b, err := c.core.GetBlock(ctx, c.agents.Chat, CoreLabelPersona)
	if err != nil {
		if IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return b.Value, nil
}

// SetPersona overwrites the chat agent's persona core block.
func (c *Coordinator) SetPersona(ctx context.Context, text string) error {
	_, err := c.core.SetBlock(ctx, c.agents.Chat, CoreLabelPersona, text)
	return err
}

// Known model providers, by model-name prefix, and the env var holding each
// provider's key when none is stored in the database.
var modelProviders = []struct {
	prefix   string
	provider string
}{
	{"gpt-", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
	{"gemini-", "gemini"},
	{"claude-", "anthropic"},
}

var providerEnvKeys = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
}

func providerForModel(model string) (string, bool) {
	for _, mp := range modelProviders {
		if strings.HasPrefix(model, mp.prefix) {
			return mp.provider, true
		}
	}
	return "", false
}

// ModelStatus is the outcome of a model switch: the switch persists even
// when keys are missing, so the caller can supply them afterwards.
type ModelStatus struct {
	Model       string   `json:"model"`
	Provider    string   `json:"provider"`
	Success     bool     `json:"success"`
	MissingKeys []string `json:"missing_keys,omitempty"`
}

// SetModel switches the chat agent's model.
func (c *Coordinator) SetModel(ctx context.Context, model string) (ModelStatus, error) {
	st, err := c.modelStatus(ctx, model)
	if err != nil {
		return st, err
	}
	c.mu.Lock()
	c.chatModel = model
	c.mu.Unlock()
	return st, nil
}

// Models the memory agents may run on. Memory updates are high-volume, so
// only cheap, fast models are accepted.
var allowedMemoryModels = []string{"gemini-2.0-flash", "gemini-2.5-flash-lite", "gemini-2.5-flash"}

// SetMemoryModel switches the model used by the memory agents. The model
// must be on the memory allow-list.
func (c *Coordinator) SetMemoryModel(ctx context.Context, model string) (ModelStatus, error) {
	allowed := false
	for _, m := range allowedMemoryModels {
		if m == model {
			allowed = true
			break
		}
	}
	if !allowed {
		return ModelStatus{Model: model}, fmt.Errorf("memory model %q not allowed; use one of %s",
			model, strings.Join(allowedMemoryModels, ", "))
	}
	st, err := c.modelStatus(ctx, model)
	if err != nil {
		return st, err
	}
	c.mu.Lock()
	c.memoryModel = model
	c.mu.Unlock()
	return st, nil
}

// Models reports the current chat and memory model names.
func (c *Coordinator) Models() (chat, memory string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatModel, c.memoryModel
}

func (c *Coordinator) modelStatus(ctx context.Context, model string) (ModelStatus, error) {
	provider, ok := providerForModel(model)
	if !ok {
		return ModelStatus{Model: model}, fmt.Errorf("unsupported model %q", model)
	}
	st := ModelStatus{Model: model, Provider: provider, Success: true}
	if !c.hasProviderKey(ctx, provider) {
		st.Success = false
		st.MissingKeys = append(st.MissingKeys, providerEnvKeys[provider])
	}
	return st, nil
}

// hasProviderKey checks the database first, then the provider's env var.
func (c *Coordinator) hasProviderKey(ctx context.Context, provider string) bool {
	if key, err := c.store.ProviderKey(ctx, provider); err == nil && key != "" {
		return true
	}
	if env := providerEnvKeys[provider]; env != "" && os.Getenv(env) != "" {
		return true
	}
	return false
}

// ProvideAPIKey stores a provider key in the database, where it takes
// precedence over the env var.
func (c *Coordinator) ProvideAPIKey(ctx context.Context, provider, key string) error {
	if _, ok := providerEnvKeys[provider]; !ok {
		return fmt.Errorf("unknown provider %q", provider)
	}
	return c.store.SetProviderKey(ctx, provider, key)
}

// CheckAPIKeyStatus reports per-provider key availability.
func (c *Coordinator) CheckAPIKeyStatus(ctx context.Context) map[string]bool {
	out := make(map[string]bool, len(providerEnvKeys))
	for provider := range providerEnvKeys {
		out[provider] = c.hasProviderKey(ctx, provider)
	}
	return out
}

// --- Snapshot / export ---

// Save snapshots the database and the mutable agent state into dir.
func (c *Coordinator) Save(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := c.store.Snapshot(ctx, dir); err != nil {
		return err
	}
	persona, err := c.Persona(ctx)
	if err != nil {
		return err
	}
	c.mu.RLock()
	st := &config.AgentState{
		AgentName:                c.agentName,
		Model:                    c.chatModel,
		MemoryModel:              c.memoryModel,
		Timezone:                 c.timezoneName,
		Persona:                  persona,
		IncludeRecentScreenshots: c.screenshotsInCtx,
		IsScreenMonitor:          c.screenMonitor,
		BackupType:               c.backendName(),
		BackupTimestamp:          NowUTC().Format(time.RFC3339),
	}
	c.mu.RUnlock()
	return config.SaveState(dir, st)
}

// backendName reports the store backend recorded in snapshot metadata.
func (c *Coordinator) backendName() string {
	if b, ok := c.store.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return "unknown"
}

// Load restores the database and agent state from a directory written by
// Save on the same backend.
func (c *Coordinator) Load(ctx context.Context, dir string) error {
	if err := c.store.Restore(ctx, dir); err != nil {
		return err
	}
	st, err := config.LoadState(dir)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.agentName = st.AgentName
	c.chatModel = st.Model
	c.memoryModel = st.MemoryModel
	c.screenshotsInCtx = st.IncludeRecentScreenshots
	c.screenMonitor = st.IsScreenMonitor
	c.mu.Unlock()
	if st.Timezone != "" {
		if err := c.SetTimezone(st.Timezone); err != nil {
			c.logger.Warn("coordinator: snapshot timezone invalid", "timezone", st.Timezone, "error", err)
		}
	}
	return nil
}

// ExportMemoriesToCSV writes one CSV file per memory type into dir.
func (c *Coordinator) ExportMemoriesToCSV(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	all := ListQuery{Method: SearchRecent, Limit: -1}

	evs, err := c.episodic.List(ctx, ListQuery{Method: SearchRecent, Limit: all.Limit})
	if err != nil {
		return err
	}
	rows := [][]string{{"id", "occurred_at", "actor", "event_type", "summary", "details"}}
	for _, ev := range evs {
		rows = append(rows, []string{ev.ID, ev.OccurredAt.Format(time.RFC3339), string(ev.Actor), ev.EventType, ev.Summary, ev.Details})
	}
	if err := writeCSV(filepath.Join(dir, "episodic.csv"), rows); err != nil {
		return err
	}

	sems, err := c.semantic.List(ctx, all)
	if err != nil {
		return err
	}
	rows = [][]string{{"id", "concept", "definition", "details", "source"}}
	for _, it := range sems {
		rows = append(rows, []string{it.ID, it.Concept, it.Definition, it.Details, it.Source})
	}
	if err := writeCSV(filepath.Join(dir, "semantic.csv"), rows); err != nil {
		return err
	}

	procs, err := c.procedural.List(ctx, all)
	if err != nil {
		return err
	}
	rows = [][]string{{"id", "entry_type", "description", "steps"}}
	for _, it := range procs {
		rows = append(rows, []string{it.ID, it.EntryType, it.Description, joinSteps(it.Steps)})
	}
	if err := writeCSV(filepath.Join(dir, "procedural.csv"), rows); err != nil {
		return err
	}

	ress, err := c.resource.List(ctx, all)
	if err != nil {
		return err
	}
	rows = [][]string{{"id", "title", "resource_type", "summary"}}
	for _, it := range ress {
		rows = append(rows, []string{it.ID, it.Title, it.ResourceType, it.Summary})
	}
	if err := writeCSV(filepath.Join(dir, "resource.csv"), rows); err != nil {
		return err
	}

	vaults, err := c.vault.List(ctx, all)
	if err != nil {
		return err
	}
	// Secret values stay out of exports.
	rows = [][]string{{"id", "entry_type", "source", "sensitivity", "description"}}
	for _, it := range vaults {
		rows = append(rows, []string{it.ID, it.EntryType, it.Source, string(it.Sensitivity), it.Description})
	}
	if err := writeCSV(filepath.Join(dir, "knowledge_vault.csv"), rows); err != nil {
		return err
	}

	blocks, err := c.core.Blocks(ctx, c.agents.Chat)
	if err != nil {
		return err
	}
	rows = [][]string{{"id", "label", "value"}}
	for _, b := range blocks {
		rows = append(rows, []string{b.ID, b.Label, b.Value})
	}
	return writeCSV(filepath.Join(dir, "core.csv"), rows)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
