package mirix

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // screenshot decoding
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"
)

// Compression bounds for screenshots before upload.
const (
	compressMaxWidth  = 1920
	compressMaxHeight = 1080
	compressQuality   = 85
)

// Upload budget defaults.
const (
	defaultUploadWorkers     = 4
	defaultAttemptTimeout    = 30 * time.Second
	defaultRetryDelay        = time.Second
	defaultMaxUploadAttempts = 3
	defaultCleanupThreshold  = 100
)

// Placeholder is the immediately-returned token for a pending blob upload.
// It later resolves to a BlobRef or an error via TryResolve/Wait.
type Placeholder struct {
	ID        string
	LocalPath string
	Pending   bool
}

type uploadJob struct {
	id        string
	localPath string
	timestamp time.Time
}

type uploadResult struct {
	ref  BlobRef
	err  error
	done chan struct{}
}

// UploadManager offloads blob uploads from the accumulator's critical path.
// A bounded pool of workers drains a FIFO job channel; results are published
// in an in-memory table keyed by placeholder id. Upload errors are non-fatal
// to the system but fatal to the placeholder.
type UploadManager struct {
	blob  BlobStore
	store Store

	mu      sync.Mutex
	cond    *sync.Cond
	pending []uploadJob
	results map[string]*uploadResult

	workers          int
	attemptTimeout   time.Duration
	retryDelay       time.Duration
	maxAttempts      int
	cleanupThreshold int

	// Remote files known at startup, by blob name. Used to reuse an
	// existing upload when the store already maps the local path.
	existingMu sync.Mutex
	existing   map[string]BlobRef

	logger *slog.Logger
	tracer Tracer

	wg     sync.WaitGroup
	closed chan struct{}
}

// UploadOption configures an UploadManager.
type UploadOption func(*UploadManager)

// WithUploadWorkers sets the worker pool size (default 4).
func WithUploadWorkers(n int) UploadOption {
	return func(m *UploadManager) { m.workers = n }
}

// WithUploadLogger sets a structured logger for upload events.
func WithUploadLogger(l *slog.Logger) UploadOption {
	return func(m *UploadManager) { m.logger = l }
}

// WithUploadTracer sets a tracer; each upload job becomes one span.
func WithUploadTracer(t Tracer) UploadOption {
	return func(m *UploadManager) { m.tracer = t }
}

// WithAttemptTimeout sets the per-attempt upload timeout (default 30s).
func WithAttemptTimeout(d time.Duration) UploadOption {
	return func(m *UploadManager) { m.attemptTimeout = d }
}

// WithRetryDelay sets the delay between upload attempts (default 1s).
func WithRetryDelay(d time.Duration) UploadOption {
	return func(m *UploadManager) { m.retryDelay = d }
}

// WithExistingFiles seeds the remote-file table used for upload reuse,
// normally from BlobStore.List at startup.
func WithExistingFiles(refs []BlobRef) UploadOption {
	return func(m *UploadManager) {
		for _, r := range refs {
			m.existing[r.Name] = r
		}
	}
}

// NewUploadManager creates the manager and starts its worker pool.
// store may be nil, disabling mapping reuse and mapping inserts.
func NewUploadManager(blob BlobStore, store Store, opts ...UploadOption) *UploadManager {
	m := &UploadManager{
		blob:             blob,
		store:            store,
		results:          make(map[string]*uploadResult),
		workers:          defaultUploadWorkers,
		attemptTimeout:   defaultAttemptTimeout,
		retryDelay:       defaultRetryDelay,
		maxAttempts:      defaultMaxUploadAttempts,
		cleanupThreshold: defaultCleanupThreshold,
		existing:         make(map[string]BlobRef),
		logger:           nopLogger,
		closed:           make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.cond = sync.NewCond(&m.mu)
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// SubmitAsync queues localPath for background upload and returns a pending
// placeholder immediately. The job queue is unbounded, so this never blocks
// regardless of worker backlog.
func (m *UploadManager) SubmitAsync(localPath string, timestamp time.Time) Placeholder {
	id := NewID(PrefixUpload)
	m.mu.Lock()
	m.results[id] = &uploadResult{done: make(chan struct{})}
	m.pending = append(m.pending, uploadJob{id: id, localPath: localPath, timestamp: timestamp})
	m.mu.Unlock()
	m.cond.Signal()
	return Placeholder{ID: id, LocalPath: localPath, Pending: true}
}

// TryResolve polls a placeholder without blocking. ok reports whether the
// upload has finished; a finished upload carries either the ref or the error.
func (m *UploadManager) TryResolve(p Placeholder) (ref BlobRef, ok bool, err error) {
	if !p.Pending {
		return BlobRef{}, false, nil
	}
	m.mu.Lock()
	r, exists := m.results[p.ID]
	m.mu.Unlock()
	if !exists {
		// Purged by periodic cleanup; treat as unresolvable.
		return BlobRef{}, true, &UploadError{Path: p.LocalPath, Err: errors.New("result discarded")}
	}
	select {
	case <-r.done:
		return r.ref, true, r.err
	default:
		return BlobRef{}, false, nil
	}
}

// Wait blocks up to timeout for the placeholder to resolve. It fails with
// *UploadTimeoutError on expiry or propagates the underlying upload error.
func (m *UploadManager) Wait(ctx context.Context, p Placeholder, timeout time.Duration) (BlobRef, error) {
	if !p.Pending {
		return BlobRef{}, &UploadError{Path: p.LocalPath, Err: errors.New("not a pending placeholder")}
	}
	m.mu.Lock()
	r, exists := m.results[p.ID]
	m.mu.Unlock()
	if !exists {
		return BlobRef{}, &UploadError{Path: p.LocalPath, Err: errors.New("result discarded")}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return r.ref, r.err
	case <-timer.C:
		return BlobRef{}, &UploadTimeoutError{Path: p.LocalPath, Timeout: timeout}
	case <-ctx.Done():
		return BlobRef{}, ctx.Err()
	}
}

// Cleanup removes a consumed result from the in-memory table.
func (m *UploadManager) Cleanup(p Placeholder) {
	m.mu.Lock()
	delete(m.results, p.ID)
	m.mu.Unlock()
}

// TrackExisting records a remote file for later reuse checks.
func (m *UploadManager) TrackExisting(ref BlobRef) {
	m.existingMu.Lock()
	m.existing[ref.Name] = ref
	m.existingMu.Unlock()
}

// Close drains no further jobs and waits for in-flight workers to stop.
// Queued jobs that have not started are abandoned.
func (m *UploadManager) Close() {
	close(m.closed)
	m.cond.Broadcast()
	m.wg.Wait()
}

func (m *UploadManager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

func (m *UploadManager) worker() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.pending) == 0 && !m.isClosed() {
			m.cond.Wait()
		}
		if m.isClosed() {
			m.mu.Unlock()
			return
		}
		job := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		m.runJob(job)
	}
}

func (m *UploadManager) runJob(job uploadJob) {
	ctx, span := startSpan(context.Background(), m.tracer, "upload.job",
		StringAttr("local_path", job.localPath))
	start := time.Now()

	ref, err := m.uploadFile(ctx, job)
	if err != nil {
		m.logger.Warn("upload: job failed", "path", job.localPath, "error", err)
	} else {
		m.logger.Debug("upload: job completed", "path", job.localPath, "uri", ref.URI, "duration", time.Since(start))
	}
	endSpan(span, err)

	m.mu.Lock()
	if r, exists := m.results[job.id]; exists {
		r.ref, r.err = ref, err
		close(r.done)
	}
	m.maybeCleanupLocked()
	m.mu.Unlock()
}

// uploadFile performs one job: mapping reuse, compression, bounded retries,
// and fallback from compressed to original.
func (m *UploadManager) uploadFile(ctx context.Context, job uploadJob) (BlobRef, error) {
	// Reuse a prior upload when the store still maps this local path and
	// the remote file still exists.
	if m.store != nil {
		if mapping, err := m.store.CloudMappingByLocal(ctx, job.localPath); err == nil {
			m.existingMu.Lock()
			ref, live := m.existing[mapping.CloudFileID]
			m.existingMu.Unlock()
			if live {
				m.logger.Debug("upload: reusing existing upload", "path", job.localPath, "name", ref.Name)
				return ref, nil
			}
		}
	}

	uploadPath := job.localPath
	compressed, cerr := compressImage(job.localPath)
	if cerr != nil {
		m.logger.Debug("upload: compression skipped", "path", job.localPath, "reason", cerr)
	} else {
		uploadPath = compressed
		defer os.Remove(compressed)
	}

	ref, err := m.uploadWithRetries(ctx, uploadPath)
	if err != nil && uploadPath != job.localPath {
		m.logger.Warn("upload: compressed upload exhausted retries, trying original", "path", job.localPath)
		ref, err = m.uploadWithRetries(ctx, job.localPath)
	}
	if err != nil {
		return BlobRef{}, &UploadError{Path: job.localPath, Err: err}
	}

	m.TrackExisting(ref)
	if m.store != nil {
		mapping := &CloudFileMapping{
			ID:          NewID(PrefixCloudMapping),
			LocalFileID: job.localPath,
			CloudFileID: ref.Name,
			URI:         ref.URI,
			Timestamp:   job.timestamp,
			Status:      CloudFileUploaded,
			CreatedAt:   NowUTC(),
		}
		if err := m.store.CreateCloudMapping(ctx, mapping); err != nil {
			m.logger.Warn("upload: mapping insert failed", "path", job.localPath, "error", err)
		}
	}
	return ref, nil
}

func (m *UploadManager) uploadWithRetries(ctx context.Context, path string) (BlobRef, error) {
	var last error
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.attemptTimeout)
		ref, err := m.blob.Upload(attemptCtx, path)
		cancel()
		if err == nil {
			return ref, nil
		}
		last = err
		m.logger.Warn("upload: attempt failed", "path", path, "attempt", attempt+1, "max_attempts", m.maxAttempts, "error", err)
		if attempt < m.maxAttempts-1 {
			select {
			case <-time.After(m.retryDelay):
			case <-ctx.Done():
				return BlobRef{}, ctx.Err()
			case <-m.closed:
				return BlobRef{}, errors.New("upload manager closed")
			}
		}
	}
	return BlobRef{}, last
}

// maybeCleanupLocked purges all resolved results once the table exceeds the
// threshold. Callers are responsible for having consumed them by then.
func (m *UploadManager) maybeCleanupLocked() {
	if len(m.results) <= m.cleanupThreshold {
		return
	}
	purged := 0
	for id, r := range m.results {
		select {
		case <-r.done:
			delete(m.results, id)
			purged++
		default:
		}
	}
	if purged > 0 {
		m.logger.Debug("upload: purged resolved results", "purged", purged, "remaining", len(m.results))
	}
}

// compressImage re-encodes path as an RGB JPEG at quality 85, downscaled to
// fit within 1920×1080, into a sibling *_compressed.jpg file. Non-image
// files return an error and are uploaded as-is.
func compressImage(path string) (string, error) {
	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".png") && !strings.HasSuffix(lower, ".jpg") && !strings.HasSuffix(lower, ".jpeg") {
		return "", fmt.Errorf("not a compressible image: %s", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", err
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := 1.0
	if sw := float64(compressMaxWidth) / float64(w); sw < scale {
		scale = sw
	}
	if sh := float64(compressMaxHeight) / float64(h); sh < scale {
		scale = sh
	}
	if scale < 1.0 {
		dw, dh := int(float64(w)*scale), int(float64(h)*scale)
		dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	outPath := strings.TrimSuffix(path, filepath.Ext(path)) + "_compressed.jpg"
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	if err := jpeg.Encode(out, src, &jpeg.Options{Quality: compressQuality}); err != nil {
		out.Close()
		os.Remove(outPath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return "", err
	}
	return outPath, nil
}
