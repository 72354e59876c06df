// Package watcher reports external changes to a single file, such as the
// JSON storage document being edited or deleted by another process.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Op is the kind of change reported to the callback.
type Op int

const (
	// Changed means the target was written, created or replaced.
	Changed Op = iota
	// Deleted means the target (or its directory) was removed and not recreated
	// within the debounce window.
	Deleted
)

func (o Op) String() string {
	if o == Deleted {
		return "deleted"
	}
	return "changed"
}

// DefaultDebounce coalesces bursts of events such as a temp-file rename.
const DefaultDebounce = 100 * time.Millisecond

// Watcher monitors a file and calls onEvent after changes settle.
// It watches the parent directory since fsnotify cannot watch non-existent
// files and atomic replacements swap the inode.
type Watcher struct {
	targetPath string
	parentPath string
	onEvent    func(Op)
	watcher    *fsnotify.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	running    bool
	debounce   time.Duration
}

// New creates a Watcher for targetPath.
func New(targetPath string, onEvent func(Op)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	targetPath = filepath.Clean(targetPath)

	return &Watcher{
		targetPath: targetPath,
		parentPath: filepath.Dir(targetPath),
		onEvent:    onEvent,
		watcher:    fsw,
		ctx:        ctx,
		cancel:     cancel,
		debounce:   DefaultDebounce,
	}, nil
}

// SetDebounce changes the settle delay. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.addWatch(); err != nil {
		log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to add initial watch")
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) addWatch() error {
	if _, err := os.Stat(w.parentPath); os.IsNotExist(err) {
		return err
	}
	return w.watcher.Add(w.parentPath)
}

func (w *Watcher) watchLoop() {
	var (
		timer   *time.Timer
		pending Op
		mu      sync.Mutex
	)

	schedule := func(op Op) {
		mu.Lock()
		defer mu.Unlock()
		pending = op
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			mu.Lock()
			op := pending
			mu.Unlock()
			w.fire(op)
		})
	}

	for {
		select {
		case <-w.ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			eventPath := filepath.Clean(event.Name)

			switch {
			case eventPath == w.parentPath && event.Has(fsnotify.Remove):
				log.Info().Str("path", w.parentPath).Msg("Parent directory deleted")
				schedule(Deleted)

			case eventPath == w.parentPath && event.Has(fsnotify.Create):
				log.Info().Str("path", w.parentPath).Msg("Parent directory recreated, re-establishing watch")
				_ = w.addWatch()

			case eventPath != w.targetPath:
				// Sibling files, including our own temp files.

			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				log.Debug().Str("path", w.targetPath).Msg("Target removed")
				schedule(Deleted)

			case event.Has(fsnotify.Create) || event.Has(fsnotify.Write):
				// A recreate inside the window supersedes a pending delete.
				schedule(Changed)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire(op Op) {
	if w.ctx.Err() != nil {
		return
	}
	log.Debug().Str("path", w.targetPath).Stringer("op", op).Msg("Triggering watch callback")

	if w.onEvent != nil {
		w.onEvent(op)
	}

	if op == Deleted {
		// The parent may have been recreated; re-add after a short delay.
		go func() {
			time.Sleep(500 * time.Millisecond)
			if w.ctx.Err() != nil {
				return
			}
			if err := w.addWatch(); err != nil {
				log.Warn().Err(err).Str("path", w.parentPath).Msg("Failed to re-establish watch after deletion")
			}
		}()
	}
}
