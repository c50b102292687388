package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/clinicd/internal/documents"
	"github.com/fyrsmithlabs/clinicd/internal/partition"
	"github.com/fyrsmithlabs/clinicd/internal/sanitize"
)

var (
	// ErrWatcherFailed indicates the filesystem watcher failed to initialize
	ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

	// ErrNotDirectory indicates the inbox path is not a directory
	ErrNotDirectory = errors.New("inbox path is not a directory")
)

// DefaultSettle is how long a file must stay unchanged before ingestion.
const DefaultSettle = 500 * time.Millisecond

// Ingester stores and extracts one uploaded document.
type Ingester interface {
	Ingest(ctx context.Context, up documents.Upload) (documents.Document, error)
}

// Result reports the outcome of ingesting one file.
type Result struct {
	Path       string
	DocumentID string
	Err        error
	Timestamp  time.Time
}

// Options configures a Watcher.
type Options struct {
	UseLLM bool
	// Settle overrides DefaultSettle.
	Settle time.Duration
	Logger *zap.Logger
}

// Watcher ingests *.json element files and *.pdf files written into a
// directory. Each path is ingested once per burst of writes, after it has
// been quiet for the settle interval.
type Watcher struct {
	dir      string
	ingester Ingester
	useLLM   bool
	settle   time.Duration
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	results chan Result
	stop    chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, ingester Ingester, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Watcher{
		dir:      dir,
		ingester: ingester,
		useLLM:   opts.UseLLM,
		settle:   opts.Settle,
		logger:   opts.Logger,
		watcher:  watcher,
		results:  make(chan Result, 16),
		stop:     make(chan struct{}),
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. Ingestion runs with ctx until Stop is called or ctx
// is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	go w.processEvents(ctx)

	w.logger.Info("inbox watching", zap.String("dir", w.dir))
	return nil
}

// Stop stops the watcher and cancels pending ingestions.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}

	w.mu.Lock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
}

// Results returns the channel of ingestion outcomes. Results are dropped
// when nobody reads them.
func (w *Watcher) Results() <-chan Result {
	return w.results
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && Accepts(event.Name) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scheduleLocked(ctx, path)
}

// scheduleLocked requires w.mu. A timer that already fired cannot be
// re-armed: its callback may be waiting on w.mu. It is replaced instead, and
// the stale callback sees it no longer owns the pending entry and returns.
func (w *Watcher) scheduleLocked(ctx context.Context, path string) {
	if timer, ok := w.pending[path]; ok && timer.Stop() {
		timer.Reset(w.settle)
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		current := w.pending[path] == timer
		if current {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if !current {
			return
		}

		select {
		case <-w.stop:
			return
		default:
		}
		w.emit(w.ingest(ctx, path))
	})
	w.pending[path] = timer
}

func (w *Watcher) ingest(ctx context.Context, path string) Result {
	result := Result{Path: path, Timestamp: time.Now()}

	name, err := sanitize.SafeBasename(path)
	if err != nil {
		result.Err = err
		return result
	}
	up := documents.Upload{
		Filename: name,
		UseLLM:   w.useLLM,
	}

	f, err := os.Open(path)
	if err != nil {
		result.Err = fmt.Errorf("open %s: %w", path, err)
		return result
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		elements, err := partition.ReadElements(f)
		if err != nil {
			result.Err = err
			w.logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
			return result
		}
		up.Elements = elements
	} else {
		up.PDF = f
	}

	doc, err := w.ingester.Ingest(ctx, up)
	result.DocumentID = doc.ID
	if err != nil {
		result.Err = err
		w.logger.Warn("inbox ingestion failed", zap.String("path", path), zap.Error(err))
		return result
	}

	w.logger.Info("inbox document ingested",
		zap.String("path", path),
		zap.String("document.id", doc.ID))
	return result
}

func (w *Watcher) emit(r Result) {
	select {
	case w.results <- r:
	default:
	}
}

// Accepts reports whether path has an extension the inbox ingests.
func Accepts(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".pdf":
		return true
	default:
		return false
	}
}
