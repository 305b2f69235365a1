package mirix

import (
	"errors"
	"fmt"
	"time"
)

// NotFoundError reports a missed entity lookup. Surfaced to the caller,
// never retried.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// InvariantViolationError reports a tool call that would break a memory
// invariant, e.g. core_memory_replace with non-substring old content.
type InvariantViolationError struct {
	Op  string
	Msg string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

// UploadError reports a failed blob upload. Transient errors are retried
// within the upload budget; permanent errors drop the placeholder.
type UploadError struct {
	Path      string
	Transient bool
	Err       error
}

func (e *UploadError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("upload %s: %s: %v", e.Path, kind, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// UploadTimeoutError reports a placeholder that exceeded its wait budget.
type UploadTimeoutError struct {
	Path    string
	Timeout time.Duration
}

func (e *UploadTimeoutError) Error() string {
	return fmt.Sprintf("upload timeout after %s for %s", e.Timeout, e.Path)
}

// LLMError reports a network or schema error from an LLM provider.
type LLMError struct {
	AgentID string
	Message string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm agent %s: %s", e.AgentID, e.Message)
}

// Sentinel retrieval responses. Coordinator-level errors in retrieval return
// one of these tokens so the chat UI can show a recoverable message.
const (
	ErrorResponseFailed           = "ERROR_RESPONSE_FAILED"
	ErrorInvalidResponseStructure = "ERROR_INVALID_RESPONSE_STRUCTURE"
	ErrorNoToolCall               = "ERROR_NO_TOOL_CALL"
	ErrorNoMessageInArgs          = "ERROR_NO_MESSAGE_IN_ARGS"
	ErrorParsingException         = "ERROR_PARSING_EXCEPTION"
)
