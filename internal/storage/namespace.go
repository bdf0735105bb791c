// Package storage owns the per-request file namespace: where inputs are
// staged, where the engine writes outputs, and when both are deleted.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bgremover/internal/domain"
)

const (
	UploadsDir = "uploads"
	OutputsDir = "outputs"
	TempDir    = "temp"

	outputPrefix  = "processed-"
	syntheticStem = "url-image-"
)

// Namespace provisions unique input/output paths under a root directory and
// deletes them, either immediately or after a delay.
type Namespace struct {
	root      string
	uploadDir string
	outputDir string
	tempDir   string
	logger    zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]*pendingRelease
	closed  bool
	wg      sync.WaitGroup
}

type pendingRelease struct {
	paths []string
	timer *time.Timer
}

// NewNamespace initializes a namespace rooted at root. Directories are not
// created until EnsureLayout is called.
func NewNamespace(root string, logger zerolog.Logger) (*Namespace, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: root path is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	return &Namespace{
		root:      abs,
		uploadDir: filepath.Join(abs, UploadsDir),
		outputDir: filepath.Join(abs, OutputsDir),
		tempDir:   filepath.Join(abs, TempDir),
		logger:    logger.With().Str("component", "storage").Logger(),
		pending:   make(map[uint64]*pendingRelease),
	}, nil
}

// Root returns the absolute namespace root.
func (n *Namespace) Root() string { return n.root }

// UploadDir returns the directory staged inputs are written to.
func (n *Namespace) UploadDir() string { return n.uploadDir }

// OutputDir returns the directory the engine writes results to.
func (n *Namespace) OutputDir() string { return n.outputDir }

// EnsureLayout creates the uploads, outputs and temp directories. It is safe
// to call repeatedly. Failures are logged and returned joined; callers treat
// them as non-fatal.
func (n *Namespace) EnsureLayout() error {
	var errs []error
	for _, dir := range []string{n.uploadDir, n.outputDir, n.tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			n.logger.Warn().Err(err).Str("dir", dir).Msg("directory could not be created")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stage writes r to a fresh file named `<uuid>-<suggestedName>` under the
// uploads directory and returns its absolute path.
func (n *Namespace) Stage(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	return n.write(ctx, r, uuid.NewString()+"-"+SanitizeName(suggestedName))
}

// StageSynthetic stages an image that has no caller-supplied name, such as a
// fetched URL body. The file is named `url-image-<uuid><ext>`.
func (n *Namespace) StageSynthetic(ctx context.Context, r io.Reader, ext string) (string, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || !strings.HasPrefix(ext, ".") || strings.ContainsAny(ext, `/\`) {
		ext = ".jpg"
	}
	return n.write(ctx, r, syntheticStem+uuid.NewString()+ext)
}

func (n *Namespace) write(ctx context.Context, r io.Reader, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(n.uploadDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("storage: create staged file: %w", err)
	}
	if _, err := io.Copy(f, contextReader{ctx: ctx, r: r}); err != nil {
		_ = f.Close()
		n.removePartial(path)
		return "", fmt.Errorf("storage: write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		n.removePartial(path)
		return "", fmt.Errorf("storage: close staged file: %w", err)
	}
	return path, nil
}

func (n *Namespace) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		n.logger.Warn().Err(err).Str("path", path).Msg("partial staged file left behind")
	}
}

// OutputPathFor derives the engine output location for a staged input:
// `outputs/processed-<basename(input)>`.
func (n *Namespace) OutputPathFor(inputPath string) string {
	return filepath.Join(n.outputDir, outputPrefix+filepath.Base(inputPath))
}

// Exists reports whether path is present as a regular file.
func (n *Namespace) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Release deletes each path if present and returns how many were removed.
// Missing files are not errors; other failures are logged and swallowed.
// Paths outside the namespace root are never touched.
func (n *Namespace) Release(paths ...string) int {
	removed := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if !n.contains(path) {
			n.logger.Warn().Str("path", path).Msg("refusing to delete path outside namespace")
			continue
		}
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			n.logger.Warn().Err(fmt.Errorf("%w: %w", domain.ErrCleanup, err)).Str("path", path).Msg("could not clean up file")
		}
	}
	return removed
}

// ReleaseAfter schedules Release for paths once delay has elapsed. The release
// runs on its own timer, independent of the caller. After Close, or with a
// non-positive delay, paths are released immediately.
func (n *Namespace) ReleaseAfter(delay time.Duration, paths ...string) {
	paths = compactPaths(paths)
	if len(paths) == 0 {
		return
	}
	n.mu.Lock()
	if n.closed || delay <= 0 {
		n.mu.Unlock()
		n.releaseLogged(paths)
		return
	}
	n.seq++
	id := n.seq
	p := &pendingRelease{paths: paths}
	n.wg.Add(1)
	p.timer = time.AfterFunc(delay, func() { n.fire(id) })
	n.pending[id] = p
	n.mu.Unlock()
}

func (n *Namespace) fire(id uint64) {
	n.mu.Lock()
	p, ok := n.pending[id]
	delete(n.pending, id)
	n.mu.Unlock()
	if !ok {
		return
	}
	defer n.wg.Done()
	n.releaseLogged(p.paths)
}

func (n *Namespace) releaseLogged(paths []string) {
	removed := n.Release(paths...)
	n.logger.Debug().Strs("paths", paths).Int("removed", removed).Msg("cleaned up temporary files")
}

// Pending returns the number of deferred releases not yet run.
func (n *Namespace) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.pending)
}

// Close runs every pending deferred release now and waits for in-flight ones.
// Later ReleaseAfter calls release immediately.
func (n *Namespace) Close(ctx context.Context) error {
	n.mu.Lock()
	n.closed = true
	pending := n.pending
	n.pending = make(map[uint64]*pendingRelease)
	n.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		n.releaseLogged(p.paths)
		n.wg.Done()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepStale removes files in uploads/ and outputs/ last modified before
// now-olderThan. It recovers space leaked by a crash that skipped deferred
// cleanup and must only run while this process holds the workspace lock.
func (n *Namespace) SweepStale(olderThan time.Duration, now time.Time) (int, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-olderThan)
	removed := 0
	var errs []error
	for _, dir := range []string{n.uploadDir, n.outputDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			removed += n.Release(filepath.Join(dir, entry.Name()))
		}
	}
	return removed, errors.Join(errs...)
}

func (n *Namespace) contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(n.root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func compactPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
