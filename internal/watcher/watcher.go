// Package watcher ingests files dropped into an inbox directory. Each subdirectory of the
// inbox is named after a knowledge base: <inbox>/<kb_id>/<file>.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/indexer"
	"github.com/hyperjump/hybridkb/internal/models"
	"github.com/hyperjump/hybridkb/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives the documents found in the inbox.
type Sink interface {
	AddDocument(ctx context.Context, kbID string, doc *models.ProcessedDocument) (*models.IngestResult, error)
	RemoveDocument(ctx context.Context, kbID, filename string) (bool, error)
}

type docRef struct {
	kbID     string
	filename string
}

// Watcher watches the inbox and forwards file changes to a Sink.
type Watcher struct {
	inbox      string
	extensions []string
	sink       Sink
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	docs     map[string]docRef
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay unchanged before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a watcher for inbox. Empty extensions fall back to the file types
// the loader understands.
func NewWatcher(inbox string, extensions []string, sink Sink, opts ...Option) *Watcher {
	if len(extensions) == 0 {
		extensions = indexer.DefaultExtensions
	}
	w := &Watcher{
		inbox:      filepath.Clean(inbox),
		extensions: extensions,
		sink:       sink,
		debounce:   defaultDebounce,
		timers:     make(map[string]*time.Timer),
		docs:       make(map[string]docRef),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start creates the inbox if needed, watches it with every subdirectory, and handles
// events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.inbox, 0755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	if err := w.addTreeLocked(w.inbox); err != nil {
		_ = fsw.Close()
		w.watcher = nil
		return err
	}
	w.ctx = ctx
	w.started = true
	w.logger.Debug("watcher started", zap.String("inbox", w.inbox), zap.Strings("extensions", w.extensions))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	kbID, ok := w.knowledgeBase(path)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if w.matches(path) {
			w.schedule(kbID, path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		if w.matches(path) {
			w.remove(kbID, path)
		}
	}
}

func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	if w.watcher != nil {
		if err := w.addTreeLocked(dir); err != nil {
			w.logger.Warn("watch directory failed", zap.String("path", dir), zap.Error(err))
		}
	}
	ctx := w.ctx
	w.mu.Unlock()
	w.syncTree(ctx, dir)
}

// knowledgeBase returns the knowledge base a path inside the inbox belongs to. Files
// directly in the inbox belong to none.
func (w *Watcher) knowledgeBase(path string) (string, bool) {
	rel, err := filepath.Rel(w.inbox, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	if len(parts) < 2 {
		// a knowledge base directory itself
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			return parts[0], true
		}
		return "", false
	}
	return parts[0], true
}

func (w *Watcher) matches(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return indexer.ExtensionAllowed(filepath.Ext(path), w.extensions)
}

func (w *Watcher) schedule(kbID, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.ingest(ctx, kbID, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, kbID, path string) bool {
	if ctx == nil || ctx.Err() != nil {
		return false
	}
	doc, err := indexer.LoadFile(path)
	if err != nil {
		w.logger.Warn("load inbox file failed", zap.String("path", path), zap.Error(err))
		return false
	}
	res, err := w.sink.AddDocument(ctx, kbID, doc)
	if err != nil {
		w.logger.Warn("ingest inbox file failed", zap.String("kb_id", kbID), zap.String("path", path), zap.Error(err))
		return false
	}
	w.mu.Lock()
	w.docs[path] = docRef{kbID: kbID, filename: documentName(doc)}
	w.mu.Unlock()
	w.logger.Info("inbox file ingested",
		zap.String("kb_id", kbID),
		zap.String("path", path),
		zap.Bool("skipped", res.Skipped),
		zap.Int("chunks", res.Chunks),
	)
	return !res.Skipped
}

func (w *Watcher) remove(kbID, path string) {
	w.mu.Lock()
	ref, ok := w.docs[path]
	delete(w.docs, path)
	ctx := w.ctx
	w.mu.Unlock()
	if !ok {
		ref = docRef{kbID: kbID, filename: defaultName(path)}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	removed, err := w.sink.RemoveDocument(ctx, ref.kbID, ref.filename)
	if err != nil {
		w.logger.Warn("remove inbox document failed", zap.String("kb_id", ref.kbID), zap.String("filename", ref.filename), zap.Error(err))
		return
	}
	w.logger.Info("inbox document removed", zap.String("kb_id", ref.kbID), zap.String("filename", ref.filename), zap.Bool("existed", removed))
}

func documentName(doc *models.ProcessedDocument) string {
	if doc.Filename != "" {
		return doc.Filename
	}
	return doc.Metadata.Filename
}

// defaultName is the filename LoadFile assigns when the file itself names none.
func defaultName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".json") {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// SyncExisting ingests every matching file already in the inbox and returns how many
// were new or changed.
func (w *Watcher) SyncExisting(ctx context.Context) int {
	return w.syncTree(ctx, w.inbox)
}

func (w *Watcher) syncTree(ctx context.Context, root string) int {
	n := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		kbID, ok := w.knowledgeBase(path)
		if !ok || !w.matches(path) {
			return nil
		}
		if w.ingest(ctx, kbID, path) {
			n++
		}
		return nil
	})
	return n
}

// Inbox returns the watched directory.
func (w *Watcher) Inbox() string { return w.inbox }

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
