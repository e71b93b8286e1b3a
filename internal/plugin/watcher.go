package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce coalesces the burst of filesystem events an editor
// save produces into a single reload.
const watchDebounce = 500 * time.Millisecond

// Watcher reloads plugins when their sources change on disk. It is a
// development convenience and watches the configured plugin roots plus
// each plugin directory under them.
type Watcher struct {
	manager *Manager
	log     zerolog.Logger

	fw     *fsnotify.Watcher
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*time.Timer // plugin id -> debounce timer
}

// NewWatcher creates a watcher over the manager's plugin roots.
func NewWatcher(manager *Manager, log zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		manager: manager,
		log:     log,
		fw:      fw,
		pending: make(map[string]*time.Timer),
	}

	for _, root := range manager.scanner.Paths() {
		if err := fw.Add(root); err != nil {
			w.log.Warn().Str("root", root).Err(err).Msg("cannot watch plugin root")
			continue
		}
		for _, cand := range manager.scanner.Discover() {
			if strings.HasPrefix(cand.Dir, root) {
				if err := fw.Add(cand.Dir); err != nil {
					w.log.Warn().Str("dir", cand.Dir).Err(err).Msg("cannot watch plugin dir")
				}
			}
		}
	}

	return w, nil
}

// Start begins watching until the context is canceled or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Stop halts the watcher and waits for in-flight reloads.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.fw.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, t := range w.pending {
		t.Stop()
	}
	w.pending = make(map[string]*time.Timer)
	w.mu.Unlock()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ctx, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("plugin watcher error")
		}
	}
}

// handle maps a filesystem event to the owning plugin and schedules a
// debounced reload. Only manifest and script changes count.
func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	name := filepath.Base(event.Name)
	if name != ManifestFileName && !strings.HasSuffix(name, ".lua") {
		// A brand-new plugin directory: start watching it so the
		// manifest write that follows is seen.
		if event.Op&fsnotify.Create != 0 {
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				_ = w.fw.Add(event.Name)
			}
		}
		return
	}

	id := w.pluginFor(filepath.Dir(event.Name))
	if id == "" {
		return
	}
	w.schedule(ctx, id)
}

// pluginFor resolves a directory to a loaded plugin id.
func (w *Watcher) pluginFor(dir string) string {
	w.manager.mu.RLock()
	defer w.manager.mu.RUnlock()

	for id, rec := range w.manager.records {
		if rec.manifest != nil && rec.manifest.Dir() == dir {
			return id
		}
	}
	return ""
}

// schedule arms (or re-arms) the debounce timer for one plugin.
func (w *Watcher) schedule(ctx context.Context, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[id]; ok {
		t.Reset(watchDebounce)
		return
	}

	w.pending[id] = time.AfterFunc(watchDebounce, func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		w.log.Info().Str("plugin", id).Msg("source changed, reloading")
		if err := w.manager.Reload(ctx, id); err != nil {
			w.log.Error().Str("plugin", id).Err(err).Msg("hot reload failed")
		}
	})
}
