// Package downloads coordinates media file retrieval: it deduplicates
// concurrent requests for the same resource, bounds parallelism with a
// counting semaphore, and downloads into a staging directory for atomic
// promotion into the cache.
package downloads

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/sonata/internal/domain"
)

// DefaultWaitTimeout bounds how long a deduplicated caller waits for another
// caller's in-flight download before giving up
const DefaultWaitTimeout = 20 * time.Second

// Stage identifies a point in a download's lifecycle
type Stage int

const (
	StageQueued Stage = iota
	StageProgress
	StageDone
	StageCancelled
	StageError
)

// Progress is one download lifecycle notification
type Progress struct {
	ID       string // Caller-supplied label (song or cover art ID)
	Stage    Stage
	Received int64
	Total    int64 // 0 when the server did not report a length
	Err      error // Set for StageError
}

// ProgressFunc receives lifecycle notifications. Called from the downloading
// goroutine; implementations must not block.
type ProgressFunc func(Progress)

// Request describes one fetch
type Request struct {
	URI          string
	ID           string // Label for progress reporting and the active set
	ExpectedSize int64  // Verified after download when > 0
	Progress     ProgressFunc
}

// call is one in-flight download; losers of the dedup race wait on done
type call struct {
	done chan struct{}
	path string
	err  error
}

// Coordinator deduplicates and rate-limits downloads
type Coordinator struct {
	client      *http.Client
	stagingDir  string
	gate        chan struct{}
	waitTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]*call
	active   map[string]int // Label refcounts, for status overlays
	shutdown bool

	cancelMu  sync.Mutex
	cancelled map[string]struct{} // Labels whose pending batch items are skipped

	jobCancel context.CancelFunc
	jobCtx    context.Context
	wg        sync.WaitGroup
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLimit sets the maximum number of simultaneous downloads
func WithLimit(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.gate = make(chan struct{}, n)
		}
	}
}

// WithWaitTimeout bounds how long deduplicated callers wait for the winner
func WithWaitTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.waitTimeout = d
		}
	}
}

// WithHTTPClient overrides the HTTP client used for downloads
func WithHTTPClient(client *http.Client) Option {
	return func(c *Coordinator) { c.client = client }
}

// New creates a coordinator downloading into stagingDir. The staging directory
// should live on the same filesystem as the cache so promotion is a rename.
func New(stagingDir string, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	jobCtx, jobCancel := context.WithCancel(context.Background())
	c := &Coordinator{
		client:      &http.Client{Timeout: 10 * time.Minute},
		stagingDir:  stagingDir,
		gate:        make(chan struct{}, 5),
		waitTimeout: DefaultWaitTimeout,
		logger:      logger,
		inflight:    make(map[string]*call),
		active:      make(map[string]int),
		cancelled:   make(map[string]struct{}),
		jobCtx:      jobCtx,
		jobCancel:   jobCancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token derives the dedup key for a resource URI
func Token(uri string) string {
	sum := sha1.Sum([]byte(uri))
	return hex.EncodeToString(sum[:])
}

// Fetch downloads req.URI into the staging directory and returns the staging
// path. Concurrent fetches of the same URI share one network transfer: the
// first caller downloads, the rest wait for its outcome. Waiters give up with
// domain.ErrDownloadTimeout after the configured bound.
func (c *Coordinator) Fetch(ctx context.Context, req Request) (string, error) {
	token := Token(req.URI)

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return "", domain.ErrCancelled
	}
	if existing, ok := c.inflight[token]; ok {
		c.mu.Unlock()
		return c.wait(ctx, existing)
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[token] = cl
	if req.ID != "" {
		c.active[req.ID]++
	}
	c.mu.Unlock()

	notify(req.Progress, Progress{ID: req.ID, Stage: StageQueued})

	cl.path, cl.err = c.download(ctx, token, req)

	c.mu.Lock()
	delete(c.inflight, token)
	if req.ID != "" {
		if c.active[req.ID]--; c.active[req.ID] <= 0 {
			delete(c.active, req.ID)
		}
	}
	c.mu.Unlock()
	close(cl.done)

	switch {
	case cl.err == nil:
		notify(req.Progress, Progress{ID: req.ID, Stage: StageDone})
	case ctx.Err() != nil:
		notify(req.Progress, Progress{ID: req.ID, Stage: StageCancelled})
	default:
		notify(req.Progress, Progress{ID: req.ID, Stage: StageError, Err: cl.err})
	}
	return cl.path, cl.err
}

// wait blocks a deduplicated caller until the winner's download resolves
func (c *Coordinator) wait(ctx context.Context, cl *call) (string, error) {
	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case <-cl.done:
		return cl.path, cl.err
	case <-timer.C:
		return "", domain.ErrDownloadTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) download(ctx context.Context, token string, req Request) (string, error) {
	// Hold a semaphore slot for the duration of the transfer. Waiters never
	// hold slots, so the limit counts network transfers only.
	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.gate }()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URI, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed: unexpected status %d", resp.StatusCode)
	}

	// Subsonic servers report errors as a 200 with a JSON envelope where the
	// binary payload should be
	if isJSONResponse(resp.Header.Get("Content-Type")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("server returned an error instead of media data: %s", strings.TrimSpace(string(body)))
	}

	staging := filepath.Join(c.stagingDir, token)
	f, err := os.Create(staging)
	if err != nil {
		return "", err
	}

	written, err := io.Copy(f, &progressReader{
		r:     resp.Body,
		total: resp.ContentLength,
		id:    req.ID,
		fn:    req.Progress,
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(staging)
		return "", fmt.Errorf("download failed: %w", err)
	}

	if req.ExpectedSize > 0 && written != req.ExpectedSize {
		os.Remove(staging)
		return "", fmt.Errorf("incomplete download: got %d of %d bytes", written, req.ExpectedSize)
	}

	c.logger.Debug("downloaded resource", "id", req.ID, "bytes", written)
	return staging, nil
}

func isJSONResponse(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func notify(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

// progressReader reports received byte counts as the body is consumed
type progressReader struct {
	r        io.Reader
	total    int64
	received int64
	id       string
	fn       ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.received += int64(n)
		notify(p.fn, Progress{ID: p.id, Stage: StageProgress, Received: p.received, Total: p.total})
	}
	return n, err
}

// Active reports whether any download labelled with id is in flight
func (c *Coordinator) Active(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[id] > 0
}

// ActiveIDs returns a snapshot of all labels with in-flight downloads
func (c *Coordinator) ActiveIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.active))
	for id := range c.active {
		ids = append(ids, id)
	}
	return ids
}

// === Batch jobs ===

// BatchOptions controls a batch job
type BatchOptions struct {
	// OneAtATime processes items serially instead of letting them race for
	// semaphore slots
	OneAtATime bool
	// Delay sleeps between items, for servers that throttle bursts
	Delay time.Duration
}

// Batch runs fetch over each ID on a background goroutine and returns a job
// identifier. Items whose ID has been cancelled (CancelIDs) are skipped;
// shutdown aborts the remainder. Fetch errors are logged, not returned.
func (c *Coordinator) Batch(ids []string, fetch func(ctx context.Context, id string) error, opts BatchOptions) string {
	jobID := uuid.NewString()

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return jobID
	}
	c.wg.Add(1)
	c.mu.Unlock()

	// Items previously cancelled are live again for this job
	c.cancelMu.Lock()
	for _, id := range ids {
		delete(c.cancelled, id)
	}
	c.cancelMu.Unlock()

	go func() {
		defer c.wg.Done()
		var itemWG sync.WaitGroup
		for _, id := range ids {
			if c.jobCtx.Err() != nil {
				c.logger.Debug("batch aborted by shutdown", "job", jobID)
				break
			}
			if c.isCancelled(id) {
				continue
			}

			if opts.OneAtATime {
				c.runItem(jobID, id, fetch)
			} else {
				itemWG.Add(1)
				go func(id string) {
					defer itemWG.Done()
					c.runItem(jobID, id, fetch)
				}(id)
			}

			if opts.Delay > 0 {
				select {
				case <-time.After(opts.Delay):
				case <-c.jobCtx.Done():
				}
			}
		}
		itemWG.Wait()
		c.logger.Debug("batch finished", "job", jobID, "items", len(ids))
	}()

	return jobID
}

func (c *Coordinator) runItem(jobID, id string, fetch func(ctx context.Context, id string) error) {
	// Re-check: the item may have been cancelled while queued behind others
	if c.isCancelled(id) {
		return
	}
	if err := fetch(c.jobCtx, id); err != nil {
		c.logger.Warn("batch item failed", "job", jobID, "id", id, "error", err)
	}
}

// CancelIDs marks labels so their pending batch items are skipped. Transfers
// already in flight for other callers are not interrupted.
func (c *Coordinator) CancelIDs(ids []string) {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	for _, id := range ids {
		c.cancelled[id] = struct{}{}
	}
}

func (c *Coordinator) isCancelled(id string) bool {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	_, ok := c.cancelled[id]
	return ok
}

// Shutdown rejects new work, cancels batch jobs and waits for them to wind
// down. In-flight staging files are left for the OS temp cleaner.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.mu.Unlock()

	c.jobCancel()
	c.wg.Wait()
}
