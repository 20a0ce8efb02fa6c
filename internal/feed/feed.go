package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signetai/signet/internal/logging"
	"github.com/signetai/signet/internal/store"
	"github.com/signetai/signet/internal/types"
)

const (
	debounceDelay       = 500 * time.Millisecond
	sectionImportance   = 0.65
	paragraphImportance = 0.55
	indexFile           = "MEMORY.md"
)

// Feed watches dir for markdown notes and ingests their chunks through
// the remember pipeline. Re-saves of unchanged content are skipped via
// an in-memory hash per path.
type Feed struct {
	store  *store.Store
	dir    string
	target int
	opts   store.RememberOptions

	watcher *fsnotify.Watcher

	mu     sync.Mutex
	seen   map[string]string
	timers map[string]*time.Timer
	closed bool

	done chan struct{}
}

// New builds a feed over dir. targetChars bounds chunk sizes; opts is
// passed through to every Remember call.
func New(st *store.Store, dir string, targetChars int, opts store.RememberOptions) *Feed {
	return &Feed{
		store:  st,
		dir:    dir,
		target: targetChars,
		opts:   opts,
		seen:   make(map[string]string),
		timers: make(map[string]*time.Timer),
	}
}

// Start scans the directory once, then watches it for created and
// modified markdown files.
func (f *Feed) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return err
	}
	f.watcher = watcher
	f.done = make(chan struct{})

	f.initialScan()
	go f.run()
	logging.Feed("watching %s", f.dir)
	return nil
}

// Stop closes the watcher, cancels pending debounce timers, and waits
// for the event loop.
func (f *Feed) Stop() {
	if f.watcher == nil {
		return
	}
	f.mu.Lock()
	f.closed = true
	for path, timer := range f.timers {
		timer.Stop()
		delete(f.timers, path)
	}
	f.mu.Unlock()

	f.watcher.Close()
	<-f.done
	f.watcher = nil
	logging.Feed("stopped watching %s", f.dir)
}

func (f *Feed) initialScan() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		logging.FeedWarn("initial scan of %s failed: %v", f.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(f.dir, entry.Name())
		if !eligible(path) {
			continue
		}
		if _, err := f.IngestFile(context.Background(), path); err != nil {
			logging.FeedWarn("initial ingest of %s failed: %v", path, err)
		}
	}
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !eligible(ev.Name) {
				continue
			}
			f.schedule(ev.Name)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logging.FeedWarn("watch error: %v", err)
		}
	}
}

// schedule arms (or re-arms) the per-path debounce timer. Editors fire
// bursts of writes per save; only the last one triggers an ingest.
func (f *Feed) schedule(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if timer, ok := f.timers[path]; ok {
		timer.Reset(debounceDelay)
		return
	}
	f.timers[path] = time.AfterFunc(debounceDelay, func() {
		f.mu.Lock()
		delete(f.timers, path)
		closed := f.closed
		f.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := f.IngestFile(ctx, path); err != nil {
			logging.FeedWarn("ingest of %s failed: %v", path, err)
		}
	})
}

// IngestFile reads one markdown file and remembers its chunks. Returns
// how many new memories it produced; an unchanged file produces zero.
func (f *Feed) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	hash := types.ShortHash(string(data))

	f.mu.Lock()
	unchanged := f.seen[path] == hash
	f.mu.Unlock()
	if unchanged {
		logging.FeedDebug("%s unchanged, skipping", path)
		return 0, nil
	}

	fileTags := FileTags(path)
	ingested := 0
	for _, chunk := range SplitMarkdown(string(data), f.target) {
		importance := sectionImportance
		if chunk.Paragraph {
			importance = paragraphImportance
		}
		tags := append([]string{}, fileTags...)
		if chunk.Section != "" {
			tags = append(tags, chunk.Section)
		}

		res, err := f.store.Remember(ctx, types.RememberRequest{
			Content:    chunk.Text,
			Who:        "feed",
			Importance: &importance,
			Tags:       tags,
			SourceType: "feed",
			SourceID:   path,
		}, f.opts, types.MutationContext{ActorType: types.ActorDaemon})
		if err != nil {
			return ingested, err
		}
		if !res.Deduplicated {
			ingested++
		}
	}

	f.mu.Lock()
	f.seen[path] = hash
	f.mu.Unlock()

	if ingested > 0 {
		logging.Feed("ingested %d chunks from %s", ingested, filepath.Base(path))
	}
	return ingested, nil
}

func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.EqualFold(base, indexFile) {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".md")
}
