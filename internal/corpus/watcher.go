package corpus

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"jokeapi/internal/catalog"
	"jokeapi/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the corpus when a data file in dir changes and swaps it into the holder.
// A reload that fails validation leaves the previous corpus in place.
type Watcher struct {
	dir      string
	cat      *catalog.Catalog
	holder   *Holder
	debounce time.Duration
	onReload func(*Corpus, error)
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithReloadHook is called after every reload attempt.
func WithReloadHook(fn func(*Corpus, error)) WatcherOption {
	return func(w *Watcher) {
		w.onReload = fn
	}
}

func NewWatcher(dir string, cat *catalog.Catalog, holder *Holder, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      dir,
		cat:      cat,
		holder:   holder,
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isJokeFile(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) {
				continue
			}
			logger.Debug("Joke file changed",
				logger.String("file", ev.Name),
				logger.String("op", ev.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
			pending = true

		case <-timerC:
			timerC = nil
			if pending {
				pending = false
				w.reload()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", logger.Err(err))
		}
	}
}

func (w *Watcher) reload() {
	c, err := Load(w.dir, w.cat)
	if err != nil {
		logger.Error("Corpus reload failed, keeping previous corpus", logger.Err(err))
	} else {
		w.holder.Swap(c)
		logger.Info("Corpus reloaded", logger.Int("total", c.Stats().TotalCount))
	}
	if w.onReload != nil {
		w.onReload(c, err)
	}
}

func isJokeFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, filePrefix) && strings.HasSuffix(base, fileExtension)
}
