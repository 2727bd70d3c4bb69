// Package filewatch runs a self-healing fsnotify loop over a set of files.
//
// Editors often replace files instead of writing them in place, so the
// parent directories are watched and events are matched by base name.
// Bursts of events collapse into one callback after the debounce window.
package filewatch

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "deliveryd/pkg/logx"
)

const (
	DefaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Options configures Watch.
type Options struct {
	Debounce time.Duration
	Log      logx.Logger
}

// Watch calls onChange after any of paths changes. It blocks until ctx is
// done and recreates the watcher if fsnotify breaks.
func Watch(ctx context.Context, paths []string, opts Options, onChange func()) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := opts.Log

	dirs := map[string]struct{}{}
	files := map[string]struct{}{}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		dirs[filepath.Dir(p)] = struct{}{}
		files[strings.ToLower(filepath.Base(p))] = struct{}{}
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(opts.Debounce, func() {
			if ctx.Err() == nil {
				onChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	wait := func() bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < restartBackoffMax {
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("watch init failed", logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}
		added := true
		for dir := range dirs {
			if err := w.Add(dir); err != nil {
				log.Warn("watch add failed", logx.String("dir", dir), logx.Err(err))
				added = false
				break
			}
		}
		if !added {
			_ = w.Close()
			if !wait() {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		log.Debug("watcher started", logx.Int("dirs", len(dirs)), logx.Int("files", len(files)))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if _, hit := files[strings.ToLower(filepath.Base(ev.Name))]; !hit {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					log.Debug("change detected; scheduling reload", logx.String("path", ev.Name))
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events were missed; reload once and keep going.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					log.Warn("watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				log.Warn("watch error", logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		log.Warn("watcher stopped; restarting")
		if !wait() {
			return nil
		}
	}
	return nil
}
