package voicecache

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// modelWatcher reports loaded model files that disappear. Directories are
// watched rather than files so renames and editor-style replacements are
// seen.
type modelWatcher struct {
	w      *fsnotify.Watcher
	onGone func(path string)

	mu    sync.Mutex
	files map[string]bool
	dirs  map[string]int
}

func newModelWatcher(onGone func(path string)) (*modelWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &modelWatcher{
		w:      w,
		onGone: onGone,
		files:  make(map[string]bool),
		dirs:   make(map[string]int),
	}, nil
}

func (mw *modelWatcher) add(path string) {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if mw.files[path] {
		return
	}
	dir := filepath.Dir(path)
	if mw.dirs[dir] == 0 {
		if err := mw.w.Add(dir); err != nil {
			log.Debug("cannot watch voice directory", "dir", dir, "error", err)
			return
		}
		log.Debug("watching voice directory", "dir", dir)
	}
	mw.dirs[dir]++
	mw.files[path] = true
}

func (mw *modelWatcher) remove(path string) {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	if !mw.files[path] {
		return
	}
	delete(mw.files, path)
	dir := filepath.Dir(path)
	mw.dirs[dir]--
	if mw.dirs[dir] > 0 {
		return
	}
	delete(mw.dirs, dir)
	if err := mw.w.Remove(dir); err != nil {
		log.Debug("fsnotify fail to unwatch dir", "dir", dir, "error", err)
	}
}

func (mw *modelWatcher) removeAll() {
	mw.mu.Lock()
	files := make([]string, 0, len(mw.files))
	for f := range mw.files {
		files = append(files, f)
	}
	mw.mu.Unlock()

	for _, f := range files {
		mw.remove(f)
	}
}

func (mw *modelWatcher) watching(path string) bool {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.files[path]
}

// run delivers events until ctx ends.
func (mw *modelWatcher) run(ctx context.Context) error {
	defer mw.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-mw.w.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !mw.watching(event.Name) {
				continue
			}
			log.Info("voice model removed from disk, unloading", "path", event.Name, "event", event.Op)
			mw.onGone(event.Name)
		case err, ok := <-mw.w.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "error", err)
		}
	}
}
