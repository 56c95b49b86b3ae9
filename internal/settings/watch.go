package settings

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceInterval = 200 * time.Millisecond

// ChangeCallback receives the settings after each reload.
type ChangeCallback func(Settings)

// Watch reloads the store whenever the settings file changes and calls fn
// with the result, until ctx is cancelled. The parent directory is watched
// so that editors which replace the file are picked up.
func (s *Store) Watch(ctx context.Context, fn ChangeCallback) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return err
	}

	go s.watchLoop(ctx, fsW, fn)
	return nil
}

// watchLoop processes fsnotify events with debouncing.
func (s *Store) watchLoop(ctx context.Context, fsW *fsnotify.Watcher, fn ChangeCallback) {
	defer fsW.Close()

	var timer *time.Timer
	name := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-fsW.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				s.reload(ctx, fn)
			})

		case err, ok := <-fsW.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the file and calls fn. A timer that fires after the
// watch ended does nothing.
func (s *Store) reload(ctx context.Context, fn ChangeCallback) {
	if ctx.Err() != nil {
		return
	}
	if err := s.Load(); err != nil {
		s.logger.Warn("failed to reload settings", zap.String("path", s.path), zap.Error(err))
		return
	}
	typed, err := s.Typed()
	if err != nil {
		s.logger.Warn("invalid settings", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Info("settings reloaded", zap.String("path", s.path))
	if fn != nil && ctx.Err() == nil {
		fn(typed)
	}
}
