// Package watcher schedules log files dropped into an upload directory.
//
// The directory is watched with fsnotify. Create and write events are
// debounced per file so a file still being copied is only scheduled once
// it has been quiet for the debounce interval. Eligibility is decided by
// the pipeline, the watcher only skips directories and hidden files.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/internal/scheduler"
	"github.com/dshills/logsift/pkg/types"
)

// DefaultDebounce is the quiet period before a changed file is scheduled
const DefaultDebounce = 500 * time.Millisecond

// Scheduler accepts uploaded files for a project
type Scheduler interface {
	ScheduleFiles(ctx context.Context, project string, files []types.UploadedFile) (map[string]scheduler.Outcome, error)
}

// Options configures a Watcher
type Options struct {
	Dir          string        // Upload directory to watch
	Project      string        // Project the files are scheduled into
	Debounce     time.Duration // Quiet period per file (default: 500ms)
	ScanExisting bool          // Schedule files already present at start
}

// Watcher turns filesystem events into scheduled uploads
type Watcher struct {
	opts  Options
	sched Scheduler
	log   *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New validates options and returns a Watcher
func New(opts Options, sched Scheduler, logger *zap.SugaredLogger) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, errors.New("watch directory is required")
	}
	if opts.Project == "" {
		return nil, types.ErrProjectRequired
	}
	if sched == nil {
		return nil, errors.New("scheduler is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", opts.Dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Newf("%s is not a directory", dir)
	}
	opts.Dir = dir

	return &Watcher{
		opts:    opts,
		sched:   sched,
		log:     logging.Component(logger, "watcher").With(logging.FieldProject, opts.Project),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run watches the directory until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create watcher")
	}
	defer fw.Close()

	if err := fw.Add(w.opts.Dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", w.opts.Dir)
	}
	w.log.Infow("Watching upload directory", logging.FieldPath, w.opts.Dir)

	if w.opts.ScanExisting {
		w.scanExisting(ctx)
	}

	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.touch(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warnw("Watcher error", logging.FieldError, err)
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		w.log.Warnw("Failed to scan upload directory", logging.FieldError, err)
		return
	}
	files := make([]types.UploadedFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || ignored(e.Name()) {
			continue
		}
		if f, ok := uploaded(filepath.Join(w.opts.Dir, e.Name())); ok {
			files = append(files, f)
		}
	}
	if len(files) > 0 {
		w.schedule(ctx, files)
	}
}

// touch (re)starts the debounce timer for path
func (w *Watcher) touch(ctx context.Context, path string) {
	if ignored(filepath.Base(path)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if f, ok := uploaded(path); ok {
			w.schedule(ctx, []types.UploadedFile{f})
		}
	})
}

func (w *Watcher) schedule(ctx context.Context, files []types.UploadedFile) {
	outcomes, err := w.sched.ScheduleFiles(ctx, w.opts.Project, files)
	if err != nil {
		w.log.Errorw("Failed to schedule uploads", logging.FieldCount, len(files), logging.FieldError, err)
		return
	}
	for name, outcome := range outcomes {
		w.log.Debugw("Upload scheduled", logging.FieldFile, name, "outcome", outcome)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// Pending returns the number of files waiting out their debounce period
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func uploaded(path string) (types.UploadedFile, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return types.UploadedFile{}, false
	}
	name := filepath.Base(path)
	return types.UploadedFile{
		InternalName: name,
		Path:         path,
		OriginalName: name,
		Size:         info.Size(),
		UploadedAt:   info.ModTime(),
	}, true
}

// ignored reports hidden files and editor temporaries
func ignored(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}
