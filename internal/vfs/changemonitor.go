package vfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/forgecache/internal/debug"
	"github.com/standardbeagle/forgecache/internal/depval"
)

// ChangeMonitor watches a directory tree via the OS and, after
// debouncing rapid-fire events, pushes a fresh vfs.Snapshot for each
// changed path into a depval.System. It is the OS-raw backend's
// change-monitor (§4.2), adapted from the teacher's
// internal/indexing/watcher.go FileWatcher: same fsnotify-plus-debounce
// shape, retargeted from "reindex a file" to "invalidate a DepVal".
type ChangeMonitor struct {
	watcher   *fsnotify.Watcher
	root      string
	sys       *depval.System
	debouncer *changeDebouncer
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	statsMu    sync.Mutex
	eventCount int64
}

// NewChangeMonitor roots a monitor at root, whose recursive contents
// will be watched. sys receives NotifyFileState calls as the debounced
// event queue flushes.
func NewChangeMonitor(root string, sys *depval.System, debounce time.Duration) (*ChangeMonitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("vfs: creating watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cm := &ChangeMonitor{
		watcher: w,
		root:    root,
		sys:     sys,
		ctx:     ctx,
		cancel:  cancel,
	}
	cm.debouncer = newChangeDebouncer(debounce, cm.flushOne)
	return cm, nil
}

// Start adds recursive watches under root and begins processing events.
func (cm *ChangeMonitor) Start() error {
	if err := cm.addWatches(cm.root); err != nil {
		return fmt.Errorf("vfs: adding watches under %s: %w", cm.root, err)
	}
	cm.wg.Add(1)
	go cm.processEvents()
	debug.Log("vfs", "change monitor started at %s", cm.root)
	return nil
}

// Stop tears down the watcher and waits for the processing goroutine.
// Events pending in the debouncer at shutdown are dropped, matching
// the teacher's own "don't flush on shutdown, it can deadlock" rule.
func (cm *ChangeMonitor) Stop() error {
	cm.cancel()
	err := cm.watcher.Close()
	cm.wg.Wait()
	return err
}

func (cm *ChangeMonitor) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true
		if err := cm.watcher.Add(path); err != nil {
			debug.Log("vfs", "failed to watch %s: %v", path, err)
		}
		return nil
	})
}

func (cm *ChangeMonitor) processEvents() {
	defer cm.wg.Done()
	for {
		select {
		case <-cm.ctx.Done():
			return
		case ev, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			cm.handleEvent(ev)
		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			debug.Log("vfs", "watcher error: %v", err)
		}
	}
}

func (cm *ChangeMonitor) handleEvent(ev fsnotify.Event) {
	info, err := os.Stat(ev.Name)
	if err != nil {
		if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
			cm.debouncer.addEvent(ev.Name)
		}
		return
	}
	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			if err := cm.watcher.Add(ev.Name); err != nil {
				debug.Log("vfs", "failed to watch new directory %s: %v", ev.Name, err)
			}
		}
		return
	}
	cm.debouncer.addEvent(ev.Name)
}

func (cm *ChangeMonitor) flushOne(path string) {
	cm.statsMu.Lock()
	cm.eventCount++
	cm.statsMu.Unlock()

	snap := Snapshot{State: StateMissing}
	if info, err := os.Stat(path); err == nil {
		snap = Snapshot{State: StatePresent, ModTime: info.ModTime().UnixNano()}
	}
	cm.sys.NotifyFileState(path, snap)
}

// EventCount reports how many debounced events have been flushed, for
// diagnostics.
func (cm *ChangeMonitor) EventCount() int64 {
	cm.statsMu.Lock()
	defer cm.statsMu.Unlock()
	return cm.eventCount
}

// changeDebouncer batches rapid-fire events per path so a burst of
// writes to one file produces one invalidation, not a storm of them.
type changeDebouncer struct {
	mu       sync.Mutex
	pending  map[string]struct{}
	debounce time.Duration
	timer    *time.Timer
	flushOne func(path string)
}

func newChangeDebouncer(debounce time.Duration, flushOne func(path string)) *changeDebouncer {
	return &changeDebouncer{
		pending:  make(map[string]struct{}),
		debounce: debounce,
		flushOne: flushOne,
	}
}

func (d *changeDebouncer) addEvent(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[path] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
}

func (d *changeDebouncer) flush() {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]struct{})
	d.mu.Unlock()

	for path := range pending {
		d.flushOne(path)
	}
}
