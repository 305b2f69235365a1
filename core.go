package mirix

import (
	"context"
	"strings"
)

// CoreManager owns always-in-context core memory: one labeled text block per
// (agent, label), mutated by append/replace rather than insert/delete. Core
// blocks are not embedded.
type CoreManager struct {
	managerBase
}

// NewCoreManager creates a core memory manager.
func NewCoreManager(store Store, opts ...ManagerOption) *CoreManager {
	m := &CoreManager{}
	initManagerBase(&m.managerBase, store, nil, opts...)
	return m
}

// GetBlock fetches one block; a miss returns *NotFoundError.
func (m *CoreManager) GetBlock(ctx context.Context, agentID, label string) (*CoreBlock, error) {
	return m.store.GetCoreBlock(ctx, agentID, label)
}

// Blocks lists every block for one agent.
func (m *CoreManager) Blocks(ctx context.Context, agentID string) ([]*CoreBlock, error) {
	return m.store.ListCoreBlocks(ctx, agentID)
}

// SetBlock overwrites (or creates) a block's value wholesale.
func (m *CoreManager) SetBlock(ctx context.Context, agentID, label, value string) (*CoreBlock, error) {
	b, err := m.store.GetCoreBlock(ctx, agentID, label)
	if err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		now := NowUTC()
		b = &CoreBlock{
			ID:        NewID(PrefixCoreBlock),
			AgentID:   agentID,
			Label:     label,
			CreatedAt: now,
		}
	}
	b.Value = value
	b.UpdatedAt = NowUTC()
	if err := m.store.UpsertCoreBlock(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Append adds content to the end of a block on a new line, creating the
// block if absent. Content is whitespace-trimmed; empty content is a no-op.
func (m *CoreManager) Append(ctx context.Context, agentID, label, content string) (*CoreBlock, error) {
	ctx, span := startSpan(ctx, m.tracer, "core.append", StringAttr("label", label))
	b, err := m.append(ctx, agentID, label, content)
	endSpan(span, err)
	return b, err
}

func (m *CoreManager) append(ctx context.Context, agentID, label, content string) (*CoreBlock, error) {
	content = strings.TrimSpace(content)
	b, err := m.store.GetCoreBlock(ctx, agentID, label)
	if err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		if content == "" {
			return nil, err
		}
		return m.SetBlock(ctx, agentID, label, content)
	}
	if content == "" {
		return b, nil
	}
	if b.Value == "" {
		b.Value = content
	} else {
		b.Value = strings.TrimSpace(b.Value) + "\n" + content
	}
	b.UpdatedAt = NowUTC()
	if err := m.store.UpsertCoreBlock(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Debug("core: appended", "agent_id", agentID, "label", label)
	return b, nil
}

// Replace substitutes old with new within a block's value. old must occur
// verbatim in the current value or the call fails with
// *InvariantViolationError and the block is left untouched. Replacing with
// an empty string deletes the passage.
func (m *CoreManager) Replace(ctx context.Context, agentID, label, old, new string) (*CoreBlock, error) {
	ctx, span := startSpan(ctx, m.tracer, "core.replace", StringAttr("label", label))
	b, err := m.replace(ctx, agentID, label, old, new)
	endSpan(span, err)
	return b, err
}

func (m *CoreManager) replace(ctx context.Context, agentID, label, old, new string) (*CoreBlock, error) {
	b, err := m.store.GetCoreBlock(ctx, agentID, label)
	if err != nil {
		return nil, err
	}
	if old == "" {
		return nil, &InvariantViolationError{Op: "core_memory_replace", Msg: "old content must be non-empty"}
	}
	if !strings.Contains(b.Value, old) {
		return nil, &InvariantViolationError{
			Op:  "core_memory_replace",
			Msg: "old content not found in core memory block " + label,
		}
	}
	b.Value = strings.Replace(b.Value, old, new, 1)
	b.UpdatedAt = NowUTC()
	if err := m.store.UpsertCoreBlock(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Debug("core: replaced", "agent_id", agentID, "label", label)
	return b, nil
}
