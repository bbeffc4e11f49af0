package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchedExts are the files inside a watched directory that trigger a
// reload.
var watchedExts = map[string]bool{
	".cue":  true,
	".rego": true,
	".json": true,
	".env":  true,
}

// Watcher calls back when configuration, env or policy files change.
type Watcher struct {
	logger zerolog.Logger
	delay  time.Duration
}

// NewWatcher creates a watcher that coalesces bursts of writes.
func NewWatcher(logger zerolog.Logger) *Watcher {
	return &Watcher{
		logger: logger.With().Str("component", "config-watcher").Logger(),
		delay:  250 * time.Millisecond,
	}
}

// watchSet is what one Watch call reacts to.
type watchSet struct {
	files map[string]bool
	dirs  map[string]bool
}

func (s *watchSet) relevant(name string) bool {
	name = filepath.Clean(name)
	if s.files[name] {
		return true
	}
	return s.dirs[filepath.Dir(name)] && watchedExts[filepath.Ext(name)]
}

// Watch blocks until ctx is done, calling onChange once after each burst
// of changes. Files are watched through their parent directory so editors
// that replace a file by rename are still seen; a file that does not exist
// yet is picked up when it is created.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func()) error {
	fw, set, err := w.add(paths)
	if err != nil {
		return err
	}
	defer fw.Close()
	return w.loop(ctx, fw, set, onChange)
}

func (w *Watcher) add(paths []string) (*fsnotify.Watcher, *watchSet, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	set := &watchSet{files: map[string]bool{}, dirs: map[string]bool{}}
	added := map[string]bool{}
	for _, path := range paths {
		if path == "" {
			continue
		}
		path = filepath.Clean(path)

		dir := filepath.Dir(path)
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			dir = path
			set.dirs[path] = true
		} else {
			set.files[path] = true
		}

		if added[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		added[dir] = true
	}
	if len(added) == 0 {
		_ = fw.Close()
		return nil, nil, fmt.Errorf("nothing to watch")
	}

	w.logger.Info().Int("paths", len(set.files)+len(set.dirs)).Msg("Watching configuration")
	return fw, set, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, set *watchSet, onChange func()) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 || !set.relevant(event.Name) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Configuration changed")

			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
