package mirix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// AgentSet holds the identities of the agents the engine dispatches to.
type AgentSet struct {
	Chat           string
	MetaMemory     string
	Episodic       string
	Procedural     string
	KnowledgeVault string
	Semantic       string
	Core           string
	Resource       string
	Reflexion      string
}

// memoryAgentTypes are the six memory agent types a flush fans out to.
var memoryAgentTypes = []string{
	AgentTypeEpisodic,
	AgentTypeProcedural,
	AgentTypeKnowledgeVault,
	AgentTypeSemantic,
	AgentTypeCore,
	AgentTypeResource,
}

// IDForType maps an agent type tag to the configured agent ID.
func (s AgentSet) IDForType(agentType string) string {
	switch agentType {
	case AgentTypeChat:
		return s.Chat
	case AgentTypeMetaMemory:
		return s.MetaMemory
	case AgentTypeEpisodic:
		return s.Episodic
	case AgentTypeProcedural:
		return s.Procedural
	case AgentTypeKnowledgeVault:
		return s.KnowledgeVault
	case AgentTypeSemantic:
		return s.Semantic
	case AgentTypeCore:
		return s.Core
	case AgentTypeResource:
		return s.Resource
	case AgentTypeReflexion:
		return s.Reflexion
	}
	return ""
}

// DefaultAgents returns an AgentSet with one stable identity per agent type.
func DefaultAgents() AgentSet {
	return AgentSet{
		Chat:           "agent-chat",
		MetaMemory:     "agent-meta-memory",
		Episodic:       "agent-episodic",
		Procedural:     "agent-procedural",
		KnowledgeVault: "agent-knowledge-vault",
		Semantic:       "agent-semantic",
		Core:           "agent-core",
		Resource:       "agent-resource",
		Reflexion:      "agent-reflexion",
	}
}

// agentTypeForMemoryName maps trigger_memory_update memory type names to
// agent type tags.
func agentTypeForMemoryName(name string) (string, bool) {
	switch name {
	case "core":
		return AgentTypeCore, true
	case "episodic":
		return AgentTypeEpisodic, true
	case "resource":
		return AgentTypeResource, true
	case "procedural":
		return AgentTypeProcedural, true
	case "knowledge_vault":
		return AgentTypeKnowledgeVault, true
	case "semantic":
		return AgentTypeSemantic, true
	}
	return "", false
}

// Router takes a batched prompt and mutates memory, either through a
// meta-memory agent that decides which memory types to update (routed mode)
// or by fanning out the prompt to all six memory agents in parallel (direct
// mode). Within one memory type, successive flushes run in submission order;
// across types, progress is independent.
type Router struct {
	queue  *MessageQueue
	client LLMClient
	agents AgentSet
	store  Store // message log; may be nil
	tools  map[string]Tool

	skipMeta  bool
	maxRounds int
	logger    *slog.Logger
	tracer    Tracer
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSkipMeta selects direct fan-out mode instead of routing through the
// meta-memory agent.
func WithSkipMeta(skip bool) RouterOption {
	return func(r *Router) { r.skipMeta = skip }
}

// WithRouterLogger sets a structured logger.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithRouterTracer sets a tracer; each agent dispatch becomes one span.
func WithRouterTracer(t Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithMaxToolRounds bounds the execute-and-continue tool loop per dispatch
// (default 5).
func WithMaxToolRounds(n int) RouterOption {
	return func(r *Router) { r.maxRounds = n }
}

// NewRouter creates a router. tools maps agent type tags to the tool surface
// handed to that agent; store (optional) receives the message log.
func NewRouter(queue *MessageQueue, client LLMClient, agents AgentSet, store Store, tools map[string]Tool, opts ...RouterOption) *Router {
	r := &Router{
		queue:     queue,
		client:    client,
		agents:    agents,
		store:     store,
		tools:     tools,
		maxRounds: 5,
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dispatch implements Dispatcher: it appends the mode's trailing system
// directive and routes the prompt per the configured mode. Per-agent
// failures are logged without aborting sibling dispatches; an error is
// returned only when no dispatch succeeded.
func (r *Router) Dispatch(ctx context.Context, parts []PromptPart, existingFileURIs []string, hasConversation bool) error {
	parts = append(parts, TextPart(r.directive(hasConversation)))
	if r.skipMeta {
		return r.dispatchDirect(ctx, parts, existingFileURIs)
	}
	return r.dispatchRouted(ctx, parts, existingFileURIs)
}

func (r *Router) directive(hasConversation bool) string {
	if r.skipMeta {
		if hasConversation {
			return "[System Message] Interpret the provided content and the conversations between the user and the chat agent; according to what the user is doing, extract the important information matching your memory type and save it into the memory."
		}
		return "[System Message] Interpret the provided content; according to what the user is doing, extract the important information matching your memory type and save it into the memory."
	}
	if hasConversation {
		return "[System Message] As the meta memory manager, analyze the provided content and the conversations between the user and the chat agent. Based on what the user is doing, determine which memories need to be updated (episodic, procedural, knowledge vault, semantic, core, and resource) and call trigger_memory_update."
	}
	return "[System Message] As the meta memory manager, analyze the provided content. Based on the content, determine which memories need to be updated (episodic, procedural, knowledge vault, semantic, core, and resource) and call trigger_memory_update."
}

// dispatchDirect fans the prompt out to all six memory agents concurrently.
func (r *Router) dispatchDirect(ctx context.Context, parts []PromptPart, uris []string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(memoryAgentTypes))
	for i, agentType := range memoryAgentTypes {
		wg.Add(1)
		go func(i int, agentType string) {
			defer wg.Done()
			_, err := r.runAgent(ctx, agentType, parts, uris)
			if err != nil {
				r.logger.Warn("router: memory agent dispatch failed", "agent_type", agentType, "error", err)
				errs[i] = fmt.Errorf("%s: %w", agentType, err)
			}
		}(i, agentType)
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return errors.Join(errs...)
}

// dispatchRouted sends the prompt to the meta-memory agent and fans out to
// the memory types it names via trigger_memory_update.
func (r *Router) dispatchRouted(ctx context.Context, parts []PromptPart, uris []string) error {
	resp, err := r.runAgent(ctx, AgentTypeMetaMemory, parts, uris)
	if err != nil {
		return err
	}

	type target struct {
		agentType   string
		instruction string
	}
	var targets []target
	for _, msg := range resp.Messages {
		if msg.Type != MessageTypeToolCall || msg.ToolCall == nil || msg.ToolCall.Name != "trigger_memory_update" {
			continue
		}
		var args struct {
			MemoryTypes  []string `json:"memory_types"`
			Instructions []string `json:"instructions"`
		}
		if err := json.Unmarshal(msg.ToolCall.Args, &args); err != nil {
			r.logger.Warn("router: bad trigger_memory_update args", "error", err)
			continue
		}
		for i, name := range args.MemoryTypes {
			agentType, ok := agentTypeForMemoryName(name)
			if !ok {
				r.logger.Warn("router: unknown memory type from meta agent", "memory_type", name)
				continue
			}
			instruction := ""
			if i < len(args.Instructions) {
				instruction = args.Instructions[i]
			}
			targets = append(targets, target{agentType, instruction})
		}
	}
	if len(targets) == 0 {
		r.logger.Debug("router: meta agent triggered no memory updates")
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			routed := parts
			if t.instruction != "" {
				routed = append(append([]PromptPart{}, parts...),
					TextPart("[Instruction from Meta Memory Manager]: "+t.instruction))
			}
			if _, err := r.runAgent(ctx, t.agentType, routed, uris); err != nil {
				r.logger.Warn("router: routed dispatch failed", "agent_type", t.agentType, "error", err)
				errs[i] = fmt.Errorf("%s: %w", t.agentType, err)
			}
		}(i, t)
	}
	wg.Wait()

	for _, err := range errs {
		if err == nil {
			return nil
		}
	}
	return errors.Join(errs...)
}

// runAgent submits one request through the queue (preserving per-type FIFO)
// and executes the tool calls the agent returns, feeding results back for up
// to maxRounds rounds. finish_memory_update ends the loop.
func (r *Router) runAgent(ctx context.Context, agentType string, parts []PromptPart, uris []string) (*LLMResponse, error) {
	ctx, span := startSpan(ctx, r.tracer, "router.dispatch", StringAttr("agent_type", agentType))
	resp, err := r.runAgentSteps(ctx, agentType, parts, uris)
	endSpan(span, err)
	return resp, err
}

func (r *Router) runAgentSteps(ctx context.Context, agentType string, parts []PromptPart, uris []string) (*LLMResponse, error) {
	agentID := r.agents.IDForType(agentType)
	tool := r.tools[agentType]

	var defs []ToolDefinition
	if tool != nil {
		defs = tool.Definitions()
	}

	var first *LLMResponse
	for round := 0; round < r.maxRounds; round++ {
		req := LLMRequest{
			AgentID:          agentID,
			Role:             "user",
			Parts:            parts,
			Tools:            defs,
			ExistingFileURIs: uris,
		}
		resp, err := r.queue.Send(ctx, r.client, req, agentType)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = resp
		}
		r.logStep(ctx, agentID, parts, resp)

		finished := false
		var followup []PromptPart
		for _, msg := range resp.Messages {
			if msg.Type != MessageTypeToolCall || msg.ToolCall == nil {
				continue
			}
			switch msg.ToolCall.Name {
			case "finish_memory_update":
				finished = true
			case "trigger_memory_update":
				// Executed by the router itself in dispatchRouted.
			default:
				if tool == nil {
					continue
				}
				result, err := tool.Execute(ctx, msg.ToolCall.Name, msg.ToolCall.Args)
				if err != nil {
					result = ToolResult{Error: err.Error()}
				}
				followup = append(followup, toolReturnPart(msg.ToolCall.Name, result))
			}
		}
		if finished || len(followup) == 0 {
			return first, nil
		}
		parts = followup
	}
	return first, nil
}

func toolReturnPart(name string, result ToolResult) PromptPart {
	if result.Error != "" {
		return TextPart(fmt.Sprintf("[Tool Return] %s failed: %s", name, result.Error))
	}
	return TextPart(fmt.Sprintf("[Tool Return] %s: %s", name, result.Content))
}

// logStep appends the dispatched prompt and the agent's reply to the
// append-only message log.
func (r *Router) logStep(ctx context.Context, agentID string, parts []PromptPart, resp *LLMResponse) {
	if r.store == nil {
		return
	}
	stepID := NewID(PrefixMessage)
	userText := ""
	for _, p := range parts {
		if p.Type == PartText {
			userText += p.Text + "\n"
		}
	}
	if err := r.store.AppendMessage(ctx, &Message{
		ID:        NewID(PrefixMessage),
		AgentID:   agentID,
		Role:      "user",
		Text:      userText,
		StepID:    stepID,
		CreatedAt: NowUTC(),
	}); err != nil {
		r.logger.Warn("router: message log append failed", "agent_id", agentID, "error", err)
		return
	}
	var calls []ToolCall
	assistantText := ""
	for _, msg := range resp.Messages {
		switch msg.Type {
		case MessageTypeToolCall:
			if msg.ToolCall != nil {
				calls = append(calls, *msg.ToolCall)
			}
		case MessageTypeAssistant:
			assistantText += msg.Content
		}
	}
	if err := r.store.AppendMessage(ctx, &Message{
		ID:        NewID(PrefixMessage),
		AgentID:   agentID,
		Role:      "assistant",
		Text:      assistantText,
		ToolCalls: calls,
		StepID:    stepID,
		CreatedAt: NowUTC(),
	}); err != nil {
		r.logger.Warn("router: message log append failed", "agent_id", agentID, "error", err)
	}
}
