package mirix

import (
	"context"
	"log/slog"
	"sync"
)

// Agent type tags used by the MessageQueue and Router. Submissions with the
// same tag are serialized FIFO; different tags run concurrently.
const (
	AgentTypeChat           = "chat"
	AgentTypeMetaMemory     = "meta_memory"
	AgentTypeEpisodic       = "episodic_memory"
	AgentTypeProcedural     = "procedural_memory"
	AgentTypeKnowledgeVault = "knowledge_vault"
	AgentTypeSemantic       = "semantic_memory"
	AgentTypeCore           = "core_memory"
	AgentTypeResource       = "resource_memory"
	AgentTypeReflexion      = "reflexion"
)

// MessageQueue serializes in-flight LLM requests per agent type while
// letting different agent types run concurrently. A submission becomes
// eligible to execute only once every earlier submission with the same
// agent type has finished.
type MessageQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	nextSeq uint64
	entries []*queueEntry
	logger  *slog.Logger
}

type queueEntry struct {
	seq       uint64
	agentType string
	started   bool
	finished  bool
}

// QueueOption configures a MessageQueue.
type QueueOption func(*MessageQueue)

// WithQueueLogger sets a structured logger for queue events.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *MessageQueue) { q.logger = l }
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue(opts ...QueueOption) *MessageQueue {
	q := &MessageQueue{logger: nopLogger}
	q.cond = sync.NewCond(&q.mu)
	for _, o := range opts {
		o(q)
	}
	return q
}

// Len reports the number of in-flight submissions (queued or executing).
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Send enqueues req for agentType and blocks until every earlier same-type
// submission has finished, then runs the request on client. The entry is
// removed from the queue on completion. A queued-but-not-started entry whose
// ctx is cancelled is dropped without executing.
func (q *MessageQueue) Send(ctx context.Context, client LLMClient, req LLMRequest, agentType string) (*LLMResponse, error) {
	q.mu.Lock()
	e := &queueEntry{seq: q.nextSeq, agentType: agentType}
	q.nextSeq++
	q.entries = append(q.entries, e)
	q.logger.Debug("queue: enqueued", "seq", e.seq, "agent_type", agentType, "depth", len(q.entries))

	// Wake waiters when the caller's deadline fires so the eligibility
	// loop can notice cancellation.
	stop := context.AfterFunc(ctx, func() { q.cond.Broadcast() })
	defer stop()

	for !q.eligibleLocked(e) {
		if ctx.Err() != nil {
			q.removeLocked(e)
			q.cond.Broadcast()
			q.mu.Unlock()
			return nil, ctx.Err()
		}
		q.cond.Wait()
	}
	e.started = true
	q.mu.Unlock()

	resp, err := client.SendMessage(ctx, req)

	q.mu.Lock()
	e.finished = true
	q.removeLocked(e)
	q.cond.Broadcast()
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("queue: request failed", "seq", e.seq, "agent_type", agentType, "error", err)
		return nil, err
	}
	return resp, nil
}

// eligibleLocked reports whether no earlier unfinished entry shares e's
// agent type. Caller holds mu.
func (q *MessageQueue) eligibleLocked(e *queueEntry) bool {
	for _, other := range q.entries {
		if other.seq >= e.seq {
			break
		}
		if other.agentType == e.agentType && !other.finished {
			return false
		}
	}
	return true
}

func (q *MessageQueue) removeLocked(e *queueEntry) {
	for i, other := range q.entries {
		if other == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}
