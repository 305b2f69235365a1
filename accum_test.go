package mirix

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureDispatcher records the last Dispatch call.
type captureDispatcher struct {
	mu      sync.Mutex
	parts   []PromptPart
	uris    []string
	hasConv bool
	calls   int
	err     error
}

func (d *captureDispatcher) Dispatch(ctx context.Context, parts []PromptPart, existingFileURIs []string, hasConversation bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.parts = parts
	d.uris = existingFileURIs
	d.hasConv = hasConversation
	d.calls++
	return nil
}

func textOfParts(parts []PromptPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func TestAccumTextOnlyFlushCycle(t *testing.T) {
	a := NewAccumulator(nil, nil, nil, WithMessageLimit(2))
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := a.Add(ctx, Observation{Text: "opened the budget doc"}, ts, true); err != nil {
		t.Fatal(err)
	}
	if got := a.ShouldFlush(); got != nil {
		t.Fatalf("ShouldFlush below limit = %v, want nil", got)
	}
	if err := a.Add(ctx, Observation{Text: "emailed Dana"}, ts.Add(time.Minute), true); err != nil {
		t.Fatal(err)
	}

	ready := a.ShouldFlush()
	if len(ready) != 2 {
		t.Fatalf("ready = %d observations, want 2", len(ready))
	}
	if ready[0].Text != "opened the budget doc" || ready[1].Text != "emailed Dana" {
		t.Errorf("temporal order broken: %+v", ready)
	}

	d := &captureDispatcher{}
	if err := a.Flush(ctx, d, ready); err != nil {
		t.Fatal(err)
	}
	if a.Len() != 0 {
		t.Errorf("buffer len = %d after flush, want 0", a.Len())
	}
	text := textOfParts(d.parts)
	if !strings.Contains(text, "text messages from the user") {
		t.Errorf("prompt missing text section:\n%s", text)
	}
	if !strings.Contains(text, "Timestamp: 2026-03-01 10:00:00 Text:\nopened the budget doc") {
		t.Errorf("prompt missing timestamped text:\n%s", text)
	}
	if d.hasConv {
		t.Error("hasConversation = true with no recorded conversation")
	}
}

func TestAccumStopsAtFirstPendingUpload(t *testing.T) {
	blob := newFakeBlob()
	blob.failFirst = 1000 // keep every upload failing
	uploads := NewUploadManager(blob, nil, WithUploadWorkers(1), WithRetryDelay(time.Hour))
	defer uploads.Close()
	a := NewAccumulator(uploads, nil, nil, WithMessageLimit(1))
	ctx := context.Background()

	img := writeTempFile(t, "shot.png", pngBytes(t, 4, 4))
	if err := a.Add(ctx, Observation{ImagePaths: []string{img}}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	if err := a.Add(ctx, Observation{Text: "later text"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}

	// First entry's upload is pending; the ready prefix is empty even though
	// the second entry is fully resolved.
	if got := a.ShouldFlush(); got != nil {
		t.Fatalf("ShouldFlush = %v, want nil while head upload is pending", got)
	}
	if a.Len() != 2 {
		t.Errorf("buffer len = %d, want both entries retained", a.Len())
	}
}

func TestAccumDropsObservationOnFailedUpload(t *testing.T) {
	blob := newFakeBlob()
	blob.failFirst = 3 // exhaust all attempts
	uploads := NewUploadManager(blob, nil, WithUploadWorkers(1), WithRetryDelay(time.Millisecond))
	defer uploads.Close()
	a := NewAccumulator(uploads, nil, nil, WithMessageLimit(1))
	ctx := context.Background()

	img := writeTempFile(t, "shot.png", pngBytes(t, 4, 4))
	if err := a.Add(ctx, Observation{ImagePaths: []string{img}}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	if err := a.Add(ctx, Observation{Text: "still here"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}

	var ready []ReadyObservation
	waitFor(t, func() bool {
		ready = a.ShouldFlush()
		return ready != nil
	}, "failed upload never unblocked the buffer")

	if len(ready) != 1 || ready[0].Text != "still here" {
		t.Fatalf("ready = %+v, want only the text observation", ready)
	}
	if a.Len() != 1 {
		t.Errorf("buffer len = %d, want 1 (failed observation dropped)", a.Len())
	}
}

func TestAccumEvictsTimedOutUploads(t *testing.T) {
	blob := newFakeBlob()
	blob.failFirst = 1000
	uploads := NewUploadManager(blob, nil, WithUploadWorkers(1), WithRetryDelay(time.Hour))
	defer uploads.Close()
	a := NewAccumulator(uploads, nil, nil, WithUploadWaitTimeout(10*time.Millisecond))
	ctx := context.Background()

	img := writeTempFile(t, "shot.png", pngBytes(t, 4, 4))
	if err := a.Add(ctx, Observation{ImagePaths: []string{img}}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if evicted := a.DetectTimeouts(); evicted != 1 {
		t.Fatalf("DetectTimeouts = %d, want 1", evicted)
	}
	if a.Len() != 0 {
		t.Errorf("buffer len = %d after eviction, want 0", a.Len())
	}
}

func TestAccumSyncUploadResolvesImmediately(t *testing.T) {
	blob := newFakeBlob()
	store := newMemStore()
	uploads := NewUploadManager(blob, store, WithUploadWorkers(1))
	defer uploads.Close()
	a := NewAccumulator(uploads, store, nil, WithMessageLimit(1))
	ctx := context.Background()

	img := writeTempFile(t, "shot.png", pngBytes(t, 4, 4))
	if err := a.Add(ctx, Observation{ImagePaths: []string{img}}, time.Now(), false); err != nil {
		t.Fatal(err)
	}
	if a.TrackedURICount() != 1 {
		t.Errorf("tracked URIs = %d, want 1 after sync upload", a.TrackedURICount())
	}

	ready := a.ShouldFlush()
	if len(ready) != 1 || len(ready[0].Images) != 1 {
		t.Fatalf("ready = %+v, want one observation with one image", ready)
	}

	d := &captureDispatcher{}
	if err := a.Flush(ctx, d, ready); err != nil {
		t.Fatal(err)
	}
	text := textOfParts(d.parts)
	if !strings.Contains(text, "screenshots from the user's computer") {
		t.Errorf("prompt missing screenshots header:\n%s", text)
	}
	if !strings.Contains(text, "Image Index 0:") {
		t.Errorf("prompt missing image index marker:\n%s", text)
	}
	foundURI := false
	for _, p := range d.parts {
		if p.Type == PartBlobURI && p.URI == ready[0].Images[0].URI {
			foundURI = true
		}
	}
	if !foundURI {
		t.Error("prompt missing blob URI part")
	}
	if len(d.uris) != 1 {
		t.Errorf("existing file URIs = %v, want the tracked upload", d.uris)
	}

	// The mapping moves to processed once the flush lands.
	mapping, err := store.CloudMappingByLocal(ctx, img)
	if err != nil {
		t.Fatal(err)
	}
	if mapping.Status != CloudFileProcessed {
		t.Errorf("mapping status = %s, want processed", mapping.Status)
	}
}

func TestAccumConversationRotation(t *testing.T) {
	a := NewAccumulator(nil, nil, nil, WithMessageLimit(1))
	ctx := context.Background()

	a.AddUserConversation("what did I do today", "you reviewed the budget")
	if err := a.Add(ctx, Observation{Text: "obs"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	ready := a.ShouldFlush()
	d := &captureDispatcher{}
	if err := a.Flush(ctx, d, ready); err != nil {
		t.Fatal(err)
	}
	if !d.hasConv {
		t.Error("hasConversation = false, want true")
	}
	text := textOfParts(d.parts)
	if !strings.Contains(text, "role: user; content: what did I do today") {
		t.Errorf("prompt missing conversation dump:\n%s", text)
	}

	// After rotation the next flush carries no conversation.
	if err := a.Add(ctx, Observation{Text: "obs2"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	ready = a.ShouldFlush()
	d2 := &captureDispatcher{}
	if err := a.Flush(ctx, d2, ready); err != nil {
		t.Fatal(err)
	}
	if d2.hasConv {
		t.Error("conversation window did not rotate after flush")
	}
}

func TestAccumFailedDispatchKeepsBuffer(t *testing.T) {
	a := NewAccumulator(nil, nil, nil, WithMessageLimit(1))
	ctx := context.Background()
	if err := a.Add(ctx, Observation{Text: "obs"}, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	ready := a.ShouldFlush()
	d := &captureDispatcher{err: context.DeadlineExceeded}
	if err := a.Flush(ctx, d, ready); err == nil {
		t.Fatal("Flush succeeded despite dispatcher error")
	}
	if a.Len() != 1 {
		t.Errorf("buffer len = %d after failed flush, want 1", a.Len())
	}
}

func TestAccumTranscriptionInPrompt(t *testing.T) {
	a := NewAccumulator(nil, nil, &stubTranscriber{}, WithMessageLimit(1))
	ctx := context.Background()
	obs := Observation{Audio: []AudioSegment{{Data: []byte("remind me"), Mime: "audio/wav"}, {Data: []byte("about rent"), Mime: "audio/wav"}}}
	if err := a.Add(ctx, obs, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	ready := a.ShouldFlush()
	d := &captureDispatcher{}
	if err := a.Flush(ctx, d, ready); err != nil {
		t.Fatal(err)
	}
	text := textOfParts(d.parts)
	if !strings.Contains(text, "voice recordings and their transcriptions:\nremind me about rent") {
		t.Errorf("prompt missing transcription:\n%s", text)
	}
}

func TestAccumTranscriptionFailureDegrades(t *testing.T) {
	a := NewAccumulator(nil, nil, &stubTranscriber{err: context.DeadlineExceeded}, WithMessageLimit(1))
	ctx := context.Background()
	obs := Observation{Text: "note", Audio: []AudioSegment{{Data: []byte("x"), Mime: "audio/wav"}}}
	if err := a.Add(ctx, obs, time.Now(), true); err != nil {
		t.Fatal(err)
	}
	ready := a.ShouldFlush()
	d := &captureDispatcher{}
	if err := a.Flush(ctx, d, ready); err != nil {
		t.Fatalf("Flush failed on transcription error: %v", err)
	}
	text := textOfParts(d.parts)
	if strings.Contains(text, "voice recordings") {
		t.Error("prompt contains a transcription section despite failure")
	}
	if !strings.Contains(text, "note") {
		t.Error("prompt lost the text observation")
	}
}

func TestEvictOldestURIs(t *testing.T) {
	a := NewAccumulator(nil, nil, nil)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a.TrackURI(BlobRef{
			Name:       "files/n" + string(rune('0'+i)),
			URI:        "https://blob.test/u" + string(rune('0'+i)),
			CreateTime: base.Add(time.Duration(i) * time.Hour),
		})
	}

	names := a.EvictOldestURIs(3)
	if len(names) != 2 {
		t.Fatalf("evicted = %v, want 2 names", names)
	}
	if names[0] != "files/n0" || names[1] != "files/n1" {
		t.Errorf("evicted = %v, want the two oldest", names)
	}
	if a.TrackedURICount() != 3 {
		t.Errorf("tracked = %d, want 3", a.TrackedURICount())
	}
	if a.EvictOldestURIs(3) != nil {
		t.Error("second eviction should be a no-op")
	}
}
