package memory

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"
)

// watcherRingCapacity bounds the number of recent file-change events kept
// per watched directory.
const watcherRingCapacity = 20

// watcherDebounce collapses repeated events for the same path within this
// window into a single boost-keyword update.
const watcherDebounce = 500 * time.Millisecond

// watchedExtensions is the allow-list of file extensions a change to which
// is considered relevant to MemoryPilot's working-directory boosts.
var watchedExtensions = map[string]struct{}{
	".rs": {}, ".ts": {}, ".svelte": {}, ".py": {}, ".js": {},
	".go": {}, ".tsx": {}, ".jsx": {}, ".md": {},
}

// dirWatcher tracks the state of a single watched directory: its
// fsnotify.Watcher, a bounded ring of recently changed paths, and the
// debounce timestamps used to collapse bursts of filesystem events.
type dirWatcher struct {
	mu          sync.Mutex
	dir         string
	watcher     *fsnotify.Watcher
	ring        []string
	lastSeen    map[string]time.Time
	stop        chan struct{}
}

// watcherRegistry lazily starts one dirWatcher per directory the first
// time a search or recall call references it, and never tears one down
// except on process shutdown (spec.md §4.5: no teardown API).
type watcherRegistry struct {
	mu       sync.Mutex
	watchers map[string]*dirWatcher
}

func newWatcherRegistry() *watcherRegistry {
	return &watcherRegistry{watchers: make(map[string]*dirWatcher)}
}

// EnsureWatching lazily starts a watcher for dir if one is not already
// running. Errors (e.g. the directory not existing) are swallowed: the
// file watcher is a best-effort boost signal, never a hard dependency of
// search or recall.
func (r *watcherRegistry) EnsureWatching(dir string) {
	if dir == "" {
		return
	}
	dir = filepath.Clean(dir)

	r.mu.Lock()
	if _, ok := r.watchers[dir]; ok {
		r.mu.Unlock()
		return
	}
	dw := &dirWatcher{dir: dir, lastSeen: make(map[string]time.Time), stop: make(chan struct{})}
	r.watchers[dir] = dw
	r.mu.Unlock()

	go dw.run()
}

func (r *watcherRegistry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dw := range r.watchers {
		close(dw.stop)
		if dw.watcher != nil {
			dw.watcher.Close()
		}
	}
}

// BoostKeywords returns the keyword set derived from every path recorded
// in dir's ring buffer, for use as a multiplicative search-relevance
// boost. Returns nil if dir has no running watcher.
func (r *watcherRegistry) BoostKeywords(dir string) map[string]struct{} {
	if dir == "" {
		return nil
	}
	dir = filepath.Clean(dir)
	r.mu.Lock()
	dw, ok := r.watchers[dir]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return dw.keywords()
}

func (dw *dirWatcher) run() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	dw.mu.Lock()
	dw.watcher = w
	dw.mu.Unlock()

	if err := addRecursive(w, dw.dir); err != nil {
		w.Close()
		return
	}

	for {
		select {
		case <-dw.stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			dw.handleEvent(ev)
		case <-w.Errors:
			// best-effort: a watch error never aborts the loop.
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ignoredPath(path) {
			return nil
		}
		if info.IsDir() {
			_ = w.Add(path)
		}
		return nil
	})
}

func ignoredPath(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if seg == "" {
			continue
		}
		if strings.HasPrefix(seg, ".") || seg == "node_modules" || seg == "target" {
			return true
		}
	}
	return false
}

func (dw *dirWatcher) handleEvent(ev fsnotify.Event) {
	if ignoredPath(ev.Name) {
		return
	}
	ext := strings.ToLower(filepath.Ext(ev.Name))
	if _, ok := watchedExtensions[ext]; !ok {
		return
	}

	dw.mu.Lock()
	defer dw.mu.Unlock()

	now := time.Now()
	if last, ok := dw.lastSeen[ev.Name]; ok && now.Sub(last) < watcherDebounce {
		dw.lastSeen[ev.Name] = now
		return
	}
	dw.lastSeen[ev.Name] = now

	dw.ring = append(dw.ring, ev.Name)
	if len(dw.ring) > watcherRingCapacity {
		dw.ring = dw.ring[len(dw.ring)-watcherRingCapacity:]
	}
}

func (dw *dirWatcher) keywords() map[string]struct{} {
	dw.mu.Lock()
	paths := append([]string{}, dw.ring...)
	dw.mu.Unlock()

	out := make(map[string]struct{})
	for _, p := range paths {
		for _, kw := range stemKeywords(p) {
			out[kw] = struct{}{}
		}
	}
	return out
}

// stemKeywords derives boost keywords from a file path's stem by splitting
// on CamelCase boundaries, '-', and '_', lowercasing, and dropping
// fragments shorter than three characters.
func stemKeywords(path string) []string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	var parts []string
	var cur strings.Builder
	flushPart := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	runes := []rune(stem)
	for i, r := range runes {
		switch {
		case r == '-' || r == '_' || r == '.':
			flushPart()
		case unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]):
			flushPart()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flushPart()

	var out []string
	for _, p := range parts {
		lower := strings.ToLower(p)
		if len(lower) >= 3 {
			out = append(out, lower)
		}
	}
	return out
}
