package mirix

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestUploadLifecycle(t *testing.T) {
	blob := newFakeBlob()
	store := newMemStore()
	m := NewUploadManager(blob, store, WithUploadWorkers(1))
	defer m.Close()

	path := writeTempFile(t, "note.txt", []byte("hello"))
	p := m.SubmitAsync(path, time.Now())
	if !p.Pending || p.LocalPath != path {
		t.Fatalf("placeholder = %+v, want pending for %s", p, path)
	}

	var ref BlobRef
	waitFor(t, func() bool {
		r, ok, err := m.TryResolve(p)
		if ok && err == nil {
			ref = r
			return true
		}
		return false
	}, "upload never resolved")

	if ref.URI == "" || !strings.HasPrefix(ref.Name, "files/") {
		t.Errorf("resolved ref = %+v", ref)
	}

	// A mapping row records the upload.
	mapping, err := store.CloudMappingByLocal(context.Background(), path)
	if err != nil {
		t.Fatalf("CloudMappingByLocal: %v", err)
	}
	if mapping.CloudFileID != ref.Name || mapping.Status != CloudFileUploaded {
		t.Errorf("mapping = %+v, want cloud file %s with status uploaded", mapping, ref.Name)
	}

	m.Cleanup(p)
	if _, ok, err := m.TryResolve(p); !ok || err == nil {
		t.Error("resolved-then-cleaned placeholder should report a discarded result")
	}
}

// stallBlob holds every upload until release is closed.
type stallBlob struct {
	release chan struct{}
}

func (b *stallBlob) Upload(ctx context.Context, localPath string) (BlobRef, error) {
	select {
	case <-b.release:
		return BlobRef{Name: "files/stalled", URI: "https://blob.test/files/stalled"}, nil
	case <-ctx.Done():
		return BlobRef{}, ctx.Err()
	}
}

func (b *stallBlob) Delete(ctx context.Context, name string) error { return nil }
func (b *stallBlob) List(ctx context.Context) ([]BlobRef, error)   { return nil, nil }

func TestSubmitAsyncNeverBlocks(t *testing.T) {
	blob := &stallBlob{release: make(chan struct{})}
	m := NewUploadManager(blob, nil, WithUploadWorkers(1))
	defer m.Close()

	path := writeTempFile(t, "note.txt", []byte("x"))

	// With one worker wedged on the first upload, every further submit must
	// still return immediately.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			m.SubmitAsync(path, time.Now())
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SubmitAsync blocked on a full backlog")
	}
	close(blob.release)
}

func TestUploadRetriesThenSucceeds(t *testing.T) {
	blob := newFakeBlob()
	blob.failFirst = 2 // first two attempts fail, third succeeds
	m := NewUploadManager(blob, nil, WithUploadWorkers(1), WithRetryDelay(time.Millisecond))
	defer m.Close()

	path := writeTempFile(t, "note.txt", []byte("x"))
	p := m.SubmitAsync(path, time.Now())
	ref, err := m.Wait(context.Background(), p, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ref.Name == "" {
		t.Error("empty ref after successful retry")
	}
	blob.mu.Lock()
	attempts := blob.attempts[path]
	blob.mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestUploadExhaustedRetriesFails(t *testing.T) {
	blob := newFakeBlob()
	blob.uploadErr = errors.New("storage down")
	m := NewUploadManager(blob, nil, WithUploadWorkers(1), WithRetryDelay(time.Millisecond))
	defer m.Close()

	path := writeTempFile(t, "note.txt", []byte("x"))
	p := m.SubmitAsync(path, time.Now())
	_, err := m.Wait(context.Background(), p, 2*time.Second)
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UploadError", err)
	}
	if ue.Path != path {
		t.Errorf("UploadError.Path = %s, want %s", ue.Path, path)
	}
}

func TestUploadWaitTimeout(t *testing.T) {
	blob := newFakeBlob()
	blob.uploadErr = errors.New("slow")
	// Long retry delay keeps the job in flight past the wait window.
	m := NewUploadManager(blob, nil, WithUploadWorkers(1), WithRetryDelay(10*time.Second))
	defer m.Close()

	path := writeTempFile(t, "note.txt", []byte("x"))
	p := m.SubmitAsync(path, time.Now())
	_, err := m.Wait(context.Background(), p, 20*time.Millisecond)
	var te *UploadTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *UploadTimeoutError", err)
	}
	if te.Timeout != 20*time.Millisecond {
		t.Errorf("Timeout = %v", te.Timeout)
	}
}

func TestUploadReusesExistingMapping(t *testing.T) {
	blob := newFakeBlob()
	store := newMemStore()
	path := writeTempFile(t, "note.txt", []byte("x"))

	prior := BlobRef{Name: "files/prior", URI: "https://blob.test/files/prior", CreateTime: time.Now().UTC()}
	if err := store.CreateCloudMapping(context.Background(), &CloudFileMapping{
		ID:          NewID(PrefixCloudMapping),
		LocalFileID: path,
		CloudFileID: prior.Name,
		URI:         prior.URI,
		Status:      CloudFileUploaded,
		CreatedAt:   NowUTC(),
	}); err != nil {
		t.Fatal(err)
	}

	m := NewUploadManager(blob, store, WithUploadWorkers(1), WithExistingFiles([]BlobRef{prior}))
	defer m.Close()

	p := m.SubmitAsync(path, time.Now())
	ref, err := m.Wait(context.Background(), p, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ref.Name != prior.Name {
		t.Errorf("ref = %+v, want reuse of %s", ref, prior.Name)
	}
	blob.mu.Lock()
	attempts := blob.attempts[path]
	blob.mu.Unlock()
	if attempts != 0 {
		t.Errorf("blob uploaded %d times despite live mapping", attempts)
	}
}

func TestUploadIgnoresDeadMapping(t *testing.T) {
	// A mapping whose remote file is gone must not short-circuit the upload.
	blob := newFakeBlob()
	store := newMemStore()
	path := writeTempFile(t, "note.txt", []byte("x"))
	if err := store.CreateCloudMapping(context.Background(), &CloudFileMapping{
		ID:          NewID(PrefixCloudMapping),
		LocalFileID: path,
		CloudFileID: "files/gone",
		Status:      CloudFileUploaded,
		CreatedAt:   NowUTC(),
	}); err != nil {
		t.Fatal(err)
	}

	m := NewUploadManager(blob, store, WithUploadWorkers(1))
	defer m.Close()

	p := m.SubmitAsync(path, time.Now())
	ref, err := m.Wait(context.Background(), p, 2*time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ref.Name == "files/gone" {
		t.Error("reused a mapping whose remote file no longer exists")
	}
}

func TestCompressImage(t *testing.T) {
	path := writeTempFile(t, "shot.png", pngBytes(t, 3840, 2160))
	out, err := compressImage(path)
	if err != nil {
		t.Fatalf("compressImage: %v", err)
	}
	defer os.Remove(out)

	if !strings.HasSuffix(out, "_compressed.jpg") {
		t.Errorf("output path = %s", out)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if format != "jpeg" {
		t.Errorf("format = %s, want jpeg", format)
	}
	if cfg.Width > compressMaxWidth || cfg.Height > compressMaxHeight {
		t.Errorf("compressed to %dx%d, want within %dx%d", cfg.Width, cfg.Height, compressMaxWidth, compressMaxHeight)
	}
}

func TestCompressImageSkipsNonImages(t *testing.T) {
	path := writeTempFile(t, "audio.wav", []byte("RIFF"))
	if _, err := compressImage(path); err == nil {
		t.Error("expected error for a non-image file")
	}
}

func TestCompressImageKeepsSmallDimensions(t *testing.T) {
	path := writeTempFile(t, "small.png", pngBytes(t, 100, 80))
	out, err := compressImage(path)
	if err != nil {
		t.Fatalf("compressImage: %v", err)
	}
	defer os.Remove(out)
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != 100 || cfg.Height != 80 {
		t.Errorf("small image rescaled to %dx%d", cfg.Width, cfg.Height)
	}
}
