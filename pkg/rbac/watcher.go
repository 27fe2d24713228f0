package rbac

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/warden/pkg/observability"
)

// TemplateWatcher re-applies a templates file whenever it is written
type TemplateWatcher struct {
	policy   *Policy
	path     string
	debounce time.Duration
	logger   *observability.Logger
	applied  chan error
}

// NewTemplateWatcher creates a watcher for path
func NewTemplateWatcher(policy *Policy, path string, logger *observability.Logger) *TemplateWatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TemplateWatcher{
		policy:   policy,
		path:     filepath.Clean(path),
		debounce: 250 * time.Millisecond,
		logger:   logger.WithField("templates_file", path),
	}
}

// Run watches the file's directory until ctx is done. Editors often replace
// files instead of writing them in place, so the directory is watched and
// events are filtered by name.
func (w *TemplateWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Templates watcher error")
		}
	}
}

func (w *TemplateWatcher) reload(ctx context.Context) {
	err := w.apply(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Failed to reload permission templates")
	} else {
		w.logger.Info("Permission templates reloaded")
	}
	if w.applied != nil {
		w.applied <- err
	}
}

func (w *TemplateWatcher) apply(ctx context.Context) error {
	tf, err := LoadTemplates(w.path)
	if err != nil {
		return err
	}
	return w.policy.ApplyTemplates(ctx, tf)
}
