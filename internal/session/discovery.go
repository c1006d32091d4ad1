package session

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// pollFallbackInterval bounds how long a change can go unnoticed if the
// underlying fsnotify watch silently stops delivering events (seen in
// practice on some network filesystems).
const pollFallbackInterval = 30 * time.Second

// Watcher notifies a callback whenever a session artifact under one of the
// configured per-source roots is created or modified, combining an
// fsnotify watch per root with a bounded poll fallback.
type Watcher struct {
	roots    map[Source]string
	onChange func(Source)
}

// NewWatcher constructs a Watcher over the given per-source root
// directories. onChange is invoked, possibly from multiple goroutines,
// whenever a source's directory changes or the poll fallback fires.
func NewWatcher(roots map[Source]string, onChange func(Source)) *Watcher {
	return &Watcher{roots: roots, onChange: onChange}
}

// Run watches every configured root until ctx is cancelled, fanning the
// per-root watch loops out with errgroup. A single root's watch failing to
// start does not prevent the others from running.
func (w *Watcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for src, root := range w.roots {
		src, root := src, root
		if root == "" {
			continue
		}
		g.Go(func() error {
			return w.watchRoot(ctx, src, root)
		})
	}
	return g.Wait()
}

func (w *Watcher) watchRoot(ctx context.Context, src Source, root string) error {
	// If fsnotify cannot start, events and errs stay nil (never ready) and
	// this root runs on the poll fallback alone.
	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		// Best-effort: a root that does not exist yet (module not yet used
		// in this workspace) simply never fires fsnotify events; the poll
		// fallback still ticks so onChange is eventually invoked once the
		// directory appears and the caller decides to re-discover.
		_ = watcher.Add(root)
		events, errs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				w.onChange(src)
			}
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			_ = err // surfaced only via missed events; poll fallback covers it
		case <-ticker.C:
			w.onChange(src)
		}
	}
}
