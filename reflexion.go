package mirix

import (
	"context"
	"errors"
	"fmt"
)

// Reflexion prompts. The reflexion pass runs offline, reorganizing memory in
// three phases: per-type redundancy cleanup, cross-memory conflict
// resolution, and pattern extraction into semantic memory.
const (
	reflexionRedundancyPrompt = "[System Message] Review your memory for redundant or overlapping entries. Merge entries that describe the same thing, delete exact duplicates, and keep the most complete version. Call finish_memory_update when done."

	reflexionConflictPrompt = "[System Message] Search across all memory types for entries that contradict each other (conflicting facts, outdated information superseded by newer entries, inconsistent user preferences). Report each conflict you find, naming the memory type and the conflicting entries."

	reflexionPatternPrompt = "[System Message] Review recent episodic events and extract recurring patterns of user behavior (habits, routines, repeated workflows) as general knowledge. Insert each pattern as a semantic item. Call finish_memory_update when done."
)

// Reflect runs the three-phase reflexion pass. Per-agent failures in phase
// one are collected but do not stop the later phases; the pass fails only
// when a phase produces no usable outcome at all.
func (c *Coordinator) Reflect(ctx context.Context) error {
	ctx, span := startSpan(ctx, c.tracer, "coordinator.reflexion")
	err := c.reflect(ctx)
	endSpan(span, err)
	return err
}

func (c *Coordinator) reflect(ctx context.Context) error {
	var errs []error

	// Phase 1: each memory agent compacts its own store. The phase succeeds
	// if any agent does.
	redundancyOK := false
	for _, agentType := range memoryAgentTypes {
		if _, err := c.router.runAgent(ctx, agentType, []PromptPart{TextPart(reflexionRedundancyPrompt)}, nil); err != nil {
			c.logger.Warn("reflexion: redundancy phase failed", "agent_type", agentType, "error", err)
			errs = append(errs, fmt.Errorf("redundancy %s: %w", agentType, err))
		} else {
			redundancyOK = true
		}
	}

	// Phase 2: the reflexion agent hunts for cross-memory conflicts; its
	// findings are fanned back out as correction instructions. The phase
	// succeeds when there is nothing to resolve or any agent resolves.
	conflictOK := false
	resp, err := c.router.runAgent(ctx, AgentTypeReflexion, []PromptPart{TextPart(reflexionConflictPrompt)}, nil)
	if err != nil {
		c.logger.Warn("reflexion: conflict phase failed", "error", err)
		errs = append(errs, fmt.Errorf("conflict: %w", err))
	} else if findings := assistantText(resp); findings != "" {
		parts := []PromptPart{TextPart("[Conflict findings from the reflexion agent]:\n" + findings +
			"\nResolve the conflicts that concern your memory type. Call finish_memory_update when done.")}
		for _, agentType := range memoryAgentTypes {
			if _, err := c.router.runAgent(ctx, agentType, parts, nil); err != nil {
				c.logger.Warn("reflexion: conflict resolution failed", "agent_type", agentType, "error", err)
				errs = append(errs, fmt.Errorf("resolve %s: %w", agentType, err))
			} else {
				conflictOK = true
			}
		}
	} else {
		conflictOK = true
	}

	// Phase 3: distill recurring behavior into semantic memory.
	patternOK := true
	if _, err := c.router.runAgent(ctx, AgentTypeSemantic, []PromptPart{TextPart(reflexionPatternPrompt)}, nil); err != nil {
		c.logger.Warn("reflexion: pattern phase failed", "error", err)
		errs = append(errs, fmt.Errorf("pattern: %w", err))
		patternOK = false
	}

	// The pass fails only when no phase produced a usable outcome.
	if !redundancyOK && !conflictOK && !patternOK {
		return errors.Join(errs...)
	}
	c.logger.Info("reflexion: pass complete", "failures", len(errs))
	return nil
}

func assistantText(resp *LLMResponse) string {
	if resp == nil {
		return ""
	}
	out := ""
	for _, msg := range resp.Messages {
		if msg.Type == MessageTypeAssistant {
			out += msg.Content
		}
	}
	return out
}
