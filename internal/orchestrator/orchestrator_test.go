package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bgremover/internal/domain"
	"bgremover/internal/engine"
	"bgremover/internal/fetch"
	"bgremover/internal/storage"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type runnerFunc func(ctx context.Context, in, out string) engine.Outcome

func (f runnerFunc) Run(ctx context.Context, in, out string) engine.Outcome { return f(ctx, in, out) }

// copyRunner mimics a well-behaved engine: it copies the input to the output.
var copyRunner = runnerFunc(func(_ context.Context, in, out string) engine.Outcome {
	data, err := os.ReadFile(in)
	if err != nil {
		return engine.Classify(1, "", err.Error())
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return engine.Classify(1, "", err.Error())
	}
	return engine.Classify(0, engine.SuccessMarker+"\n", "")
})

type fetcherFunc func(ctx context.Context, rawURL string) (*fetch.Image, error)

func (f fetcherFunc) Fetch(ctx context.Context, rawURL string) (*fetch.Image, error) {
	return f(ctx, rawURL)
}

type recorder struct {
	mu   sync.Mutex
	jobs []domain.ProcessingJob
}

func (r *recorder) Record(_ context.Context, job *domain.ProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, *job)
	return nil
}

func (r *recorder) states() []domain.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.JobState, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.State)
	}
	return out
}

type fixture struct {
	ns  *storage.Namespace
	rec *recorder
	orc *Orchestrator
}

func newFixture(t *testing.T, runner engine.Runner, fetcher fetch.Fetcher) *fixture {
	t.Helper()
	ns, err := storage.NewNamespace(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNamespace: %v", err)
	}
	if err := ns.EnsureLayout(); err != nil {
		t.Fatalf("EnsureLayout: %v", err)
	}
	t.Cleanup(func() { _ = ns.Close(context.Background()) })
	rec := &recorder{}
	orc := New(ns, runner, fetcher, rec, Options{CleanupDelay: time.Hour}, zerolog.Nop())
	return &fixture{ns: ns, rec: rec, orc: orc}
}

func fileHeader(name, contentType string, size int64) *multipart.FileHeader {
	h := textproto.MIMEHeader{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &multipart.FileHeader{Filename: name, Header: h, Size: size}
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	return len(entries)
}

func TestStageUploadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		file   io.Reader
		header *multipart.FileHeader
		want   string
	}{
		{"missing file", nil, nil, "No image file provided"},
		{"disallowed type", bytes.NewReader([]byte("GIF89a")), fileHeader("a.gif", "image/gif", 6), "Only image files (JPEG, PNG, WebP) are allowed"},
		{"no type", bytes.NewReader(pngBytes), fileHeader("a.png", "", int64(len(pngBytes))), "Only image files (JPEG, PNG, WebP) are allowed"},
		{"too large", bytes.NewReader(pngBytes), fileHeader("a.png", "image/png", DefaultMaxUploadBytes+1), "File too large. Maximum size is 10MB."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, copyRunner, nil)
			_, err := fx.orc.StageUpload(context.Background(), tc.file, tc.header, "req")
			if !errors.Is(err, domain.ErrClientInput) {
				t.Fatalf("error = %v, want client input error", err)
			}
			if domain.Detail(err) != tc.want {
				t.Fatalf("detail = %q, want %q", domain.Detail(err), tc.want)
			}
			if n := dirEntries(t, fx.ns.UploadDir()); n != 0 {
				t.Fatalf("expected nothing staged, found %d files", n)
			}
		})
	}
}

func TestStageUploadAcceptsTypeWithParameters(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	job, err := fx.orc.StageUpload(context.Background(), bytes.NewReader(pngBytes), fileHeader("a.jpg", "image/JPEG; q=1", int64(len(pngBytes))), "req")
	if err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	if job.Origin != domain.OriginUpload || job.State != domain.JobStateStaging || job.OriginalName != "a.jpg" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if !strings.HasSuffix(job.InputPath, "-a.jpg") || !strings.HasSuffix(job.OutputPath, "processed-"+lastElem(job.InputPath)) {
		t.Fatalf("unexpected paths: %s %s", job.InputPath, job.OutputPath)
	}
}

func lastElem(path string) string {
	return path[strings.LastIndex(path, string(os.PathSeparator))+1:]
}

func TestUploadSuccessDeliversAndCleansUp(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	ctx := context.Background()
	job, err := fx.orc.StageUpload(ctx, bytes.NewReader(pngBytes), fileHeader("cat.png", "image/png", int64(len(pngBytes))), "req-1")
	if err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	if err := fx.orc.Process(ctx, job); err != nil {
		t.Fatalf("Process: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/remove-background", nil)
	if err := fx.orc.Deliver(rec, req, job); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), pngBytes) {
		t.Fatalf("body mismatch")
	}
	if job.State != domain.JobStateDone {
		t.Fatalf("state = %s", job.State)
	}

	// Files survive until the deferred release fires.
	if !fx.ns.Exists(job.InputPath) || !fx.ns.Exists(job.OutputPath) {
		t.Fatalf("files released before the cleanup delay")
	}
	if fx.ns.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", fx.ns.Pending())
	}
	if err := fx.ns.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fx.ns.Exists(job.InputPath) || fx.ns.Exists(job.OutputPath) {
		t.Fatalf("files not released")
	}
	if got := fx.rec.states(); len(got) != 1 || got[0] != domain.JobStateDone {
		t.Fatalf("recorded states = %v", got)
	}
}

func TestDeliverUsesShortCleanupDelay(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	fx.orc.cleanupDelay = 20 * time.Millisecond
	ctx := context.Background()
	job, err := fx.orc.StageUpload(ctx, bytes.NewReader([]byte("\xff\xd8\xff\xe0jpeg")), fileHeader("p.jpg", "image/jpeg", 8), "req")
	if err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	if err := fx.orc.Process(ctx, job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	rec := httptest.NewRecorder()
	if err := fx.orc.Deliver(rec, httptest.NewRequest(http.MethodPost, "/", nil), job); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("content type = %q", ct)
	}
	deadline := time.Now().Add(2 * time.Second)
	for fx.ns.Exists(job.InputPath) || fx.ns.Exists(job.OutputPath) {
		if time.Now().After(deadline) {
			t.Fatalf("files still present after cleanup delay")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProcessFailureReleasesInputImmediately(t *testing.T) {
	cases := []struct {
		name    string
		outcome engine.Outcome
		kind    error
		detail  string
	}{
		{"non-zero exit", engine.Classify(1, "", "model crashed"), domain.ErrEngineRun, "Engine failed: model crashed"},
		{"missing marker", engine.Classify(0, "done", ""), domain.ErrEngineRun, "Engine failed: done"},
		{"spawn failure", engine.Outcome{Kind: engine.KindSpawnFailure, Reason: "not found"}, domain.ErrEngineSpawn, "Failed to start engine process: not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := runnerFunc(func(_ context.Context, _, out string) engine.Outcome {
				_ = os.WriteFile(out, []byte("partial"), 0o644)
				return tc.outcome
			})
			fx := newFixture(t, runner, nil)
			ctx := context.Background()
			job, err := fx.orc.StageUpload(ctx, bytes.NewReader(pngBytes), fileHeader("cat.png", "image/png", int64(len(pngBytes))), "req")
			if err != nil {
				t.Fatalf("StageUpload: %v", err)
			}
			err = fx.orc.Process(ctx, job)
			if !errors.Is(err, tc.kind) || domain.Detail(err) != tc.detail {
				t.Fatalf("error = %v, want %v %q", err, tc.kind, tc.detail)
			}
			if domain.HTTPStatus(err) != http.StatusInternalServerError {
				t.Fatalf("status = %d", domain.HTTPStatus(err))
			}
			if fx.ns.Exists(job.InputPath) || fx.ns.Exists(job.OutputPath) {
				t.Fatalf("files not released immediately")
			}
			if job.State != domain.JobStateAborted || job.Error != tc.detail {
				t.Fatalf("job = %+v", job)
			}
			if got := fx.rec.states(); len(got) != 1 || got[0] != domain.JobStateAborted {
				t.Fatalf("recorded states = %v", got)
			}
		})
	}
}

func TestProcessSuccessWithoutOutput(t *testing.T) {
	runner := runnerFunc(func(context.Context, string, string) engine.Outcome {
		return engine.Classify(0, "SUCCESS", "")
	})
	fx := newFixture(t, runner, nil)
	ctx := context.Background()
	job, err := fx.orc.StageUpload(ctx, bytes.NewReader(pngBytes), fileHeader("cat.png", "image/png", int64(len(pngBytes))), "req")
	if err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	err = fx.orc.Process(ctx, job)
	if !errors.Is(err, domain.ErrOutputMissing) || domain.Detail(err) != "Output file was not created" {
		t.Fatalf("error = %v", err)
	}
	if fx.ns.Exists(job.InputPath) {
		t.Fatalf("input not released")
	}
}

func TestStageURL(t *testing.T) {
	var gotURL string
	fetcher := fetcherFunc(func(_ context.Context, rawURL string) (*fetch.Image, error) {
		gotURL = rawURL
		return &fetch.Image{Data: pngBytes, ContentType: "image/png"}, nil
	})
	fx := newFixture(t, copyRunner, fetcher)
	job, err := fx.orc.StageURL(context.Background(), "  https://example.com/cat.png ", "req")
	if err != nil {
		t.Fatalf("StageURL: %v", err)
	}
	if gotURL != "https://example.com/cat.png" || job.SourceURL != gotURL || job.Origin != domain.OriginURL {
		t.Fatalf("unexpected job: %+v (fetched %q)", job, gotURL)
	}
	name := lastElem(job.InputPath)
	if !strings.HasPrefix(name, "url-image-") || !strings.HasSuffix(name, ".jpg") {
		t.Fatalf("unexpected staged name %q", name)
	}
	data, err := os.ReadFile(job.InputPath)
	if err != nil || !bytes.Equal(data, pngBytes) {
		t.Fatalf("staged content mismatch: %v", err)
	}
}

func TestStageURLFailuresStageNothing(t *testing.T) {
	cases := []struct {
		name string
		url  string
		err  error
		kind error
	}{
		{"missing url", "  ", nil, domain.ErrClientInput},
		{"upstream not found", "https://example.com/x.png", domain.NewError(domain.ErrUpstreamFetch, "Failed to fetch image: Not Found"), domain.ErrUpstreamFetch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := fetcherFunc(func(context.Context, string) (*fetch.Image, error) {
				return nil, tc.err
			})
			fx := newFixture(t, copyRunner, fetcher)
			_, err := fx.orc.StageURL(context.Background(), tc.url, "req")
			if !errors.Is(err, tc.kind) {
				t.Fatalf("error = %v, want %v", err, tc.kind)
			}
			if n := dirEntries(t, fx.ns.UploadDir()); n != 0 {
				t.Fatalf("expected nothing staged, found %d", n)
			}
		})
	}
}

func TestDeliverMissingOutputBeforeWrite(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	ctx := context.Background()
	job, err := fx.orc.StageUpload(ctx, bytes.NewReader(pngBytes), fileHeader("cat.png", "image/png", int64(len(pngBytes))), "req")
	if err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	rec := httptest.NewRecorder()
	err = fx.orc.Deliver(rec, httptest.NewRequest(http.MethodPost, "/", nil), job)
	if !errors.Is(err, domain.ErrDelivery) {
		t.Fatalf("error = %v, want delivery error", err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("nothing should be written on early delivery failure")
	}
	if fx.ns.Pending() != 1 {
		t.Fatalf("cleanup not scheduled")
	}
	if job.State != domain.JobStateAborted {
		t.Fatalf("state = %s", job.State)
	}
}

func TestConcurrentUploadsWithIdenticalNames(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	const n = 16
	var wg sync.WaitGroup
	jobs := make([]*domain.ProcessingJob, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("payload-%d", i))
			job, err := fx.orc.StageUpload(context.Background(), bytes.NewReader(payload), fileHeader("same.png", "image/png", int64(len(payload))), "req")
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = fx.orc.Process(context.Background(), job)
			jobs[i] = job
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, 2*n)
	for i, job := range jobs {
		if errs[i] != nil {
			t.Fatalf("job %d: %v", i, errs[i])
		}
		if seen[job.InputPath] || seen[job.OutputPath] {
			t.Fatalf("job %d shares a path", i)
		}
		seen[job.InputPath], seen[job.OutputPath] = true, true
		data, err := os.ReadFile(job.OutputPath)
		if err != nil || string(data) != fmt.Sprintf("payload-%d", i) {
			t.Fatalf("job %d got output %q (%v)", i, data, err)
		}
	}
}

func TestSizeLabel(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{10 << 20, "10MB"},
		{1 << 20, "1MB"},
		{512 << 10, "512KB"},
		{3<<20 + 512<<10, "3584KB"},
		{1000, "1000 bytes"},
		{1<<20 + 1, "1048577 bytes"},
	}
	for _, tc := range tests {
		if got := sizeLabel(tc.n); got != tc.want {
			t.Fatalf("sizeLabel(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestTooLargeMessageForSubMegabyteCap(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	fx.orc.maxUpload = 512 << 10
	_, err := fx.orc.StageUpload(context.Background(), bytes.NewReader(pngBytes), fileHeader("a.png", "image/png", 600<<10), "req")
	if got := domain.Detail(err); got != "File too large. Maximum size is 512KB." {
		t.Fatalf("detail = %q", got)
	}
}

func TestStagingLogsCarryJobFields(t *testing.T) {
	var buf bytes.Buffer
	fetcher := fetcherFunc(func(context.Context, string) (*fetch.Image, error) {
		return &fetch.Image{Data: pngBytes}, nil
	})
	fx := newFixture(t, copyRunner, fetcher)
	fx.orc.logger = zerolog.New(&buf)

	up, err := fx.orc.StageUpload(context.Background(), bytes.NewReader(pngBytes), fileHeader("cat.png", "image/png", int64(len(pngBytes))), "req-up")
	if err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	byURL, err := fx.orc.StageURL(context.Background(), "https://example.com/a.png", "req-url")
	if err != nil {
		t.Fatalf("StageURL: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"message":"upload staged"`, `"message":"url image staged"`, up.ID, byURL.ID, `"request_id":"req-url"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestStagingFailureHidesPaths(t *testing.T) {
	fx := newFixture(t, copyRunner, nil)
	if err := os.RemoveAll(fx.ns.UploadDir()); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	_, err := fx.orc.StageUpload(context.Background(), bytes.NewReader(pngBytes), fileHeader("cat.png", "image/png", int64(len(pngBytes))), "req")
	if !errors.Is(err, domain.ErrStaging) {
		t.Fatalf("error = %v, want staging error", err)
	}
	if strings.Contains(domain.Detail(err), fx.ns.Root()) {
		t.Fatalf("detail leaks workspace path: %q", domain.Detail(err))
	}
	if !strings.Contains(domain.Cause(err).Error(), fx.ns.UploadDir()) {
		t.Fatalf("cause should keep the path for logs: %v", domain.Cause(err))
	}
}
