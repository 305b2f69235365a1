package mirix

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Accumulator defaults.
const (
	// DefaultTemporaryMessageLimit is how many fully-resolved observations
	// must be buffered before a flush is triggered.
	DefaultTemporaryMessageLimit = 20
	// DefaultUploadWaitTimeout is the per-placeholder budget; an observation
	// whose upload stays pending longer is evicted from the buffer.
	DefaultUploadWaitTimeout = 10 * time.Second
	// syncUploadTimeout bounds the blocking upload in Add(async=false).
	syncUploadTimeout = 90 * time.Second
)

// ReadyObservation is a buffered observation whose uploads have all resolved.
type ReadyObservation struct {
	Timestamp time.Time
	Text      string
	Images    []BlobRef
	Audio     []AudioSegment
}

// TimedBlobRef pairs a resolved image with its capture timestamp.
type TimedBlobRef struct {
	Timestamp time.Time
	Ref       BlobRef
}

type imageSlot struct {
	placeholder Placeholder
	ref         BlobRef
	resolved    bool
}

type bufferEntry struct {
	ts     time.Time
	text   string
	audio  []AudioSegment
	images []imageSlot
}

type uriInfo struct {
	name       string
	createTime time.Time
}

// Dispatcher receives an assembled batched prompt. Implemented by Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, parts []PromptPart, existingFileURIs []string, hasConversation bool) error
}

// Accumulator buffers arriving observations in strict temporal order, waits
// for pending media uploads, and emits a batched multi-modal prompt when
// enough observations are ready.
//
// All operations take the accumulator's mutex; none holds it across a
// network call (mutate-then-release). The URI-to-create-time map shared with
// the coordinator is owned here and only ever mutated under the mutex.
type Accumulator struct {
	mu              sync.Mutex
	buffer          []*bufferEntry
	convo           [][]ConversationTurn // batches; the last one is current
	uploadStartedAt map[string]time.Time // placeholder id → submit time
	uriCreateTime   map[string]uriInfo   // blob URI → remote name + create time

	uploads       *UploadManager
	store         Store
	transcriber   Transcriber
	limit         int
	uploadTimeout time.Duration
	timezone      *time.Location
	logger        *slog.Logger
	tracer        Tracer
}

// AccumOption configures an Accumulator.
type AccumOption func(*Accumulator)

// WithMessageLimit overrides DefaultTemporaryMessageLimit.
func WithMessageLimit(n int) AccumOption {
	return func(a *Accumulator) { a.limit = n }
}

// WithUploadWaitTimeout overrides DefaultUploadWaitTimeout.
func WithUploadWaitTimeout(d time.Duration) AccumOption {
	return func(a *Accumulator) { a.uploadTimeout = d }
}

// WithAccumTimezone sets the timezone used to render prompt timestamps.
func WithAccumTimezone(loc *time.Location) AccumOption {
	return func(a *Accumulator) { a.timezone = loc }
}

// WithAccumLogger sets a structured logger.
func WithAccumLogger(l *slog.Logger) AccumOption {
	return func(a *Accumulator) { a.logger = l }
}

// WithAccumTracer sets a tracer; each flush becomes one span.
func WithAccumTracer(t Tracer) AccumOption {
	return func(a *Accumulator) { a.tracer = t }
}

// NewAccumulator creates an accumulator. uploads may be nil when no media
// observations will be added; store may be nil to skip processed-marking.
func NewAccumulator(uploads *UploadManager, store Store, transcriber Transcriber, opts ...AccumOption) *Accumulator {
	a := &Accumulator{
		convo:           [][]ConversationTurn{{}},
		uploadStartedAt: make(map[string]time.Time),
		uriCreateTime:   make(map[string]uriInfo),
		uploads:         uploads,
		store:           store,
		transcriber:     transcriber,
		limit:           DefaultTemporaryMessageLimit,
		uploadTimeout:   DefaultUploadWaitTimeout,
		timezone:        time.UTC,
		logger:          nopLogger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetTimezone changes the timezone used to render prompt timestamps.
func (a *Accumulator) SetTimezone(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	a.mu.Lock()
	a.timezone = loc
	a.mu.Unlock()
}

// Add appends an observation to the buffer. With async=true image uploads
// are submitted in the background and tracked as placeholders; with
// async=false each image is uploaded synchronously before Add returns.
func (a *Accumulator) Add(ctx context.Context, obs Observation, timestamp time.Time, async bool) error {
	var slots []imageSlot
	now := time.Now()
	for _, path := range obs.ImagePaths {
		if a.uploads == nil {
			return fmt.Errorf("accumulator: image observation without an upload manager")
		}
		if async {
			p := a.uploads.SubmitAsync(path, timestamp)
			slots = append(slots, imageSlot{placeholder: p})
			a.mu.Lock()
			a.uploadStartedAt[p.ID] = now
			a.mu.Unlock()
		} else {
			p := a.uploads.SubmitAsync(path, timestamp)
			ref, err := a.uploads.Wait(ctx, p, syncUploadTimeout)
			a.uploads.Cleanup(p)
			if err != nil {
				return err
			}
			slots = append(slots, imageSlot{ref: ref, resolved: true})
			a.trackURI(ref)
		}
	}

	a.mu.Lock()
	a.buffer = append(a.buffer, &bufferEntry{
		ts:     timestamp,
		text:   obs.Text,
		audio:  obs.Audio,
		images: slots,
	})
	depth := len(a.buffer)
	a.mu.Unlock()

	a.logger.Debug("accum: observation added", "depth", depth, "images", len(slots), "audio", len(obs.Audio), "async", async)
	return nil
}

// AddUserConversation records a user↔assistant exchange into the current
// conversation window.
func (a *Accumulator) AddUserConversation(userMessage, assistantResponse string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := len(a.convo) - 1
	a.convo[cur] = append(a.convo[cur],
		ConversationTurn{Role: "user", Content: userMessage},
		ConversationTurn{Role: "assistant", Content: assistantResponse},
	)
}

// Len reports the number of buffered observations.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}

// DetectTimeouts evicts every buffered observation with a placeholder
// pending longer than the upload timeout, along with its tracking state.
// Returns the number of evicted observations.
func (a *Accumulator) DetectTimeouts() int {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	timedOut := make(map[string]bool)
	for id, started := range a.uploadStartedAt {
		if now.Sub(started) > a.uploadTimeout {
			timedOut[id] = true
		}
	}
	if len(timedOut) == 0 {
		return 0
	}

	kept := a.buffer[:0]
	evicted := 0
	for _, e := range a.buffer {
		evict := false
		for _, slot := range e.images {
			if !slot.resolved && timedOut[slot.placeholder.ID] {
				evict = true
				break
			}
		}
		if evict {
			evicted++
			for _, slot := range e.images {
				if !slot.resolved {
					delete(a.uploadStartedAt, slot.placeholder.ID)
					a.uploads.Cleanup(slot.placeholder)
				}
			}
			continue
		}
		kept = append(kept, e)
	}
	a.buffer = kept
	for id := range timedOut {
		delete(a.uploadStartedAt, id)
	}
	if evicted > 0 {
		a.logger.Warn("accum: evicted observations with timed-out uploads", "evicted", evicted, "timeout", a.uploadTimeout)
	}
	return evicted
}

// ShouldFlush scans the buffer in temporal order, resolving placeholders
// without blocking. Scanning stops at the first observation with an
// unresolved upload; nothing past it is considered. When the fully-resolved
// prefix reaches the message limit, the prefix is returned; otherwise nil.
func (a *Accumulator) ShouldFlush() []ReadyObservation {
	a.DetectTimeouts()

	a.mu.Lock()
	defer a.mu.Unlock()

	var ready []ReadyObservation
	kept := a.buffer[:0]
	stopped := false
	for _, e := range a.buffer {
		if stopped {
			kept = append(kept, e)
			continue
		}
		pending, failed := a.resolveEntryLocked(e)
		if failed {
			// Fatal to the placeholder: drop the whole observation.
			continue
		}
		if pending {
			stopped = true
			kept = append(kept, e)
			continue
		}
		kept = append(kept, e)
		ready = append(ready, readyFromEntry(e))
	}
	a.buffer = kept

	if len(ready) >= a.limit {
		return ready
	}
	return nil
}

// resolveEntryLocked polls every unresolved slot of e. It reports whether
// any slot is still pending, and whether any slot failed permanently.
func (a *Accumulator) resolveEntryLocked(e *bufferEntry) (pending, failed bool) {
	for i := range e.images {
		slot := &e.images[i]
		if slot.resolved {
			continue
		}
		ref, done, err := a.uploads.TryResolve(slot.placeholder)
		if !done {
			return true, false
		}
		if err != nil {
			delete(a.uploadStartedAt, slot.placeholder.ID)
			a.uploads.Cleanup(slot.placeholder)
			a.logger.Warn("accum: dropping observation, upload failed", "path", slot.placeholder.LocalPath, "error", err)
			return false, true
		}
		slot.ref = ref
		slot.resolved = true
		delete(a.uploadStartedAt, slot.placeholder.ID)
		a.uploads.Cleanup(slot.placeholder)
		a.trackURILocked(ref)
	}
	return false, false
}

func readyFromEntry(e *bufferEntry) ReadyObservation {
	obs := ReadyObservation{Timestamp: e.ts, Text: e.text, Audio: e.audio}
	for _, slot := range e.images {
		obs.Images = append(obs.Images, slot.ref)
	}
	return obs
}

// RecentImagesForChat returns the last ≤limit resolved images for inclusion
// in a chat prompt, skipping still-pending ones. Non-blocking.
func (a *Accumulator) RecentImagesForChat(now time.Time) []TimedBlobRef {
	a.DetectTimeouts()

	a.mu.Lock()
	defer a.mu.Unlock()

	start := len(a.buffer) - a.limit
	if start < 0 {
		start = 0
	}
	var images []TimedBlobRef
	for _, e := range a.buffer[start:] {
		for i := range e.images {
			slot := &e.images[i]
			if !slot.resolved {
				ref, done, err := a.uploads.TryResolve(slot.placeholder)
				if !done || err != nil {
					continue
				}
				slot.ref = ref
				slot.resolved = true
				delete(a.uploadStartedAt, slot.placeholder.ID)
				a.uploads.Cleanup(slot.placeholder)
				a.trackURILocked(ref)
			}
			images = append(images, TimedBlobRef{Timestamp: e.ts, Ref: slot.ref})
		}
	}
	return images
}

// Flush assembles the batched multi-modal prompt from ready and hands it to
// the dispatcher. On success the ready prefix is trimmed from the buffer,
// the corresponding cloud mappings are marked processed, and the
// conversation window rotates.
func (a *Accumulator) Flush(ctx context.Context, d Dispatcher, ready []ReadyObservation) error {
	if len(ready) == 0 {
		return nil
	}
	ctx, span := startSpan(ctx, a.tracer, "accum.flush", IntAttr("observations", len(ready)))

	transcript, err := a.transcribe(ctx, ready)
	if err != nil {
		// Transcription failure degrades to a text/image-only flush.
		a.logger.Warn("accum: transcription failed", "error", err)
	}

	a.mu.Lock()
	convo := a.convo[len(a.convo)-1]
	parts := a.buildPromptLocked(ready, transcript, convo)
	uris := make([]string, 0, len(a.uriCreateTime))
	for uri := range a.uriCreateTime {
		uris = append(uris, uri)
	}
	a.mu.Unlock()

	err = d.Dispatch(ctx, parts, uris, len(convo) > 0)
	endSpan(span, err)
	if err != nil {
		return err
	}

	a.mu.Lock()
	n := len(ready)
	if n > len(a.buffer) {
		n = len(a.buffer)
	}
	a.buffer = a.buffer[n:]
	if len(convo) > 0 {
		a.convo = append(a.convo, []ConversationTurn{})
		if len(a.convo) > 1 {
			a.convo = a.convo[1:]
		}
	}
	a.mu.Unlock()

	if a.store != nil {
		for _, obs := range ready {
			for _, ref := range obs.Images {
				if err := a.store.SetCloudMappingStatus(ctx, ref.Name, CloudFileProcessed); err != nil {
					a.logger.Warn("accum: mark processed failed", "name", ref.Name, "error", err)
				}
			}
		}
	}
	a.logger.Info("accum: flushed", "observations", len(ready))
	return nil
}

func (a *Accumulator) transcribe(ctx context.Context, ready []ReadyObservation) (string, error) {
	var segments []AudioSegment
	for _, obs := range ready {
		segments = append(segments, obs.Audio...)
	}
	if len(segments) == 0 || a.transcriber == nil {
		return "", nil
	}
	return a.transcriber.Process(ctx, segments)
}

// buildPromptLocked constructs the ordered prompt parts of a flush: image
// groups with timestamp markers, the voice transcription, text fragments,
// and the concurrent user↔assistant conversation. The trailing system
// directive is appended by the dispatcher, which knows its routing mode.
func (a *Accumulator) buildPromptLocked(ready []ReadyObservation, transcript string, convo []ConversationTurn) []PromptPart {
	var parts []PromptPart

	hasImages := false
	for _, obs := range ready {
		if len(obs.Images) > 0 {
			hasImages = true
			break
		}
	}
	if hasImages {
		parts = append(parts, TextPart("The following are the screenshots from the user's computer:"))
		idx := 0
		for _, obs := range ready {
			if len(obs.Images) == 0 {
				continue
			}
			parts = append(parts, TextPart(fmt.Sprintf("Timestamp: %s Image Index %d:", a.formatTime(obs.Timestamp), idx)))
			for _, ref := range obs.Images {
				parts = append(parts, BlobURIPart(ref.URI))
			}
			idx++
		}
	}

	if transcript != "" {
		parts = append(parts, TextPart("The following are the voice recordings and their transcriptions:\n"+transcript))
	}

	hasText := false
	for _, obs := range ready {
		if obs.Text != "" {
			hasText = true
			break
		}
	}
	if hasText {
		parts = append(parts, TextPart("The following are text messages from the user:"))
		for _, obs := range ready {
			if obs.Text == "" {
				continue
			}
			parts = append(parts, TextPart(fmt.Sprintf("Timestamp: %s Text:\n%s", a.formatTime(obs.Timestamp), obs.Text)))
		}
	}

	if len(convo) > 0 {
		var b strings.Builder
		b.WriteString("The following are the conversations between the user and the chat agent while capturing this content:\n")
		for _, turn := range convo {
			fmt.Fprintf(&b, "role: %s; content: %s\n", turn.Role, turn.Content)
		}
		parts = append(parts, TextPart(strings.TrimSpace(b.String())))
	}

	return parts
}

func (a *Accumulator) formatTime(t time.Time) string {
	return t.In(a.timezone).Format("2006-01-02 15:04:05")
}

// --- URI tracking (shared with the coordinator, owned here) ---

func (a *Accumulator) trackURI(ref BlobRef) {
	a.mu.Lock()
	a.trackURILocked(ref)
	a.mu.Unlock()
}

func (a *Accumulator) trackURILocked(ref BlobRef) {
	a.uriCreateTime[ref.URI] = uriInfo{name: ref.Name, createTime: ref.CreateTime}
}

// TrackURI records an already-uploaded blob, e.g. during startup
// reconciliation of cloud mappings.
func (a *Accumulator) TrackURI(ref BlobRef) { a.trackURI(ref) }

// TrackedURICount reports how many blob URIs are currently tracked.
func (a *Accumulator) TrackedURICount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.uriCreateTime)
}

// TrackedURIs returns all tracked blob URIs.
func (a *Accumulator) TrackedURIs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	uris := make([]string, 0, len(a.uriCreateTime))
	for uri := range a.uriCreateTime {
		uris = append(uris, uri)
	}
	return uris
}

// EvictOldestURIs removes the oldest tracked URIs by create time until at
// most max remain, returning the remote blob names of the evicted entries
// so the caller can delete them from cloud storage.
func (a *Accumulator) EvictOldestURIs(max int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	excess := len(a.uriCreateTime) - max
	if excess <= 0 {
		return nil
	}
	type tracked struct {
		uri  string
		info uriInfo
	}
	all := make([]tracked, 0, len(a.uriCreateTime))
	for uri, info := range a.uriCreateTime {
		all = append(all, tracked{uri, info})
	}
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].info.createTime.Before(all[j-1].info.createTime); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	names := make([]string, 0, excess)
	for _, t := range all[:excess] {
		delete(a.uriCreateTime, t.uri)
		names = append(names, t.info.name)
	}
	return names
}
