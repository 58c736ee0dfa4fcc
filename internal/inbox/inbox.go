// Package inbox turns files dropped into a directory into receive requests.
// A file is handed over once it has been quiet for the settle interval;
// requests are processed one at a time in arrival order.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/cgeo/cgeofiles/internal/common"
	"github.com/cgeo/cgeofiles/internal/filex"
	"github.com/cgeo/cgeofiles/internal/logging"
	"github.com/cgeo/cgeofiles/internal/receiver"
)

const DefaultSettle = 2 * time.Second

// partial downloads of common browsers and tools
var ignoredSuffixes = []string{".part", ".crdownload", ".tmp", ".download"}

type Receiver interface {
	Receive(ctx context.Context, req receiver.Request, onProgress receiver.ProgressFunc) receiver.Result
}

type ResultFunc func(req receiver.Request, res receiver.Result)

type Watcher struct {
	dir      string
	settle   time.Duration
	receiver Receiver
	log      logging.Logger
	onResult ResultFunc
	skip     func(path string) bool
}

type Option func(*Watcher)

func WithLogger(l logging.Logger) Option {
	return func(w *Watcher) { w.log = l }
}

// WithResultFunc registers fn to be called after every processed file.
func WithResultFunc(fn ResultFunc) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// WithSkip makes the watcher ignore files for which fn returns true, e.g.
// files that already sit in the offline maps folder.
func WithSkip(fn func(path string) bool) Option {
	return func(w *Watcher) { w.skip = fn }
}

func New(dir string, settle time.Duration, r Receiver, opts ...Option) *Watcher {
	if settle <= 0 {
		settle = DefaultSettle
	}
	w := &Watcher{dir: dir, settle: settle, receiver: r, log: logging.Nop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory until ctx is done. Files already present are
// picked up first.
func (w *Watcher) Run(ctx context.Context) error {
	dir, err := filex.EnsureDir(w.dir)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	w.log.Info(ctx, "watching inbox", "dir", dir, "settle", w.settle.String())

	work := make(chan string)
	retry := make(chan string, 16)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(work)
		return w.loop(ctx, dir, fsw, work, retry)
	})
	g.Go(func() error {
		for p := range work {
			if w.process(ctx, p) {
				select {
				case retry <- p:
				default:
					w.log.Warn(ctx, "retry queue full, dropping inbox file", "path", p)
				}
			}
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Watcher) loop(ctx context.Context, dir string, fsw *fsnotify.Watcher, work chan<- string, retry <-chan string) error {
	seen := make(map[string]time.Time)
	var queue []string
	queued := make(map[string]bool)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, e := range entries {
		if e.Type().IsRegular() && !ignored(e.Name()) {
			seen[filepath.Join(dir, e.Name())] = now
		}
	}

	tick := time.NewTicker(tickInterval(w.settle))
	defer tick.Stop()

	for {
		var next chan<- string
		var head string
		if len(queue) > 0 {
			next = work
			head = queue[0]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case next <- head:
			queue = queue[1:]
			delete(queued, head)

		case p := <-retry:
			seen[p] = time.Now()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ignored(filepath.Base(ev.Name)) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(seen, ev.Name)
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				seen[ev.Name] = time.Now()
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "inbox watcher error", "err", err)

		case now := <-tick.C:
			for p, last := range seen {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(seen, p)
				if queued[p] || !filex.IsRegular(p) || (w.skip != nil && w.skip(p)) {
					continue
				}
				queued[p] = true
				queue = append(queue, p)
			}
		}
	}
}

// process receives one file and reports whether it should be retried.
func (w *Watcher) process(ctx context.Context, p string) bool {
	req := receiver.Request{Source: p, Filename: filepath.Base(p)}
	res := w.receiver.Receive(ctx, req, nil)
	if errors.Is(res.Err, common.ErrorBusy) {
		w.log.Debug(ctx, "receiver busy, retrying inbox file later", "path", p)
		return true
	}

	w.log.Info(ctx, "inbox file processed", "path", p, "state", res.State.String())
	if w.onResult != nil {
		w.onResult(req, res)
	}
	return false
}

func ignored(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	lower := strings.ToLower(name)
	for _, s := range ignoredSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}

func tickInterval(settle time.Duration) time.Duration {
	d := settle / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}
