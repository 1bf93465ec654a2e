// Package filelock implements a cooperative, path-scoped lock usable across
// OS processes.
//
// A lock is a file created with O_EXCL next to the resource it protects. The
// file records the holder's PID, host, a random token and the acquisition
// time so that contenders can reclaim locks whose holder is gone (PID no
// longer alive on this host) or that are older than the staleness threshold.
package filelock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/logging"
	"github.com/dshills/logsift/pkg/types"
)

// Suffix is appended to a resource path to name its lock file
const Suffix = ".lock"

// ErrAlreadyHeld is returned when Acquire is called on a lock this handle already holds
var ErrAlreadyHeld = errors.New("lock already held by this handle")

// Options tunes contention handling
type Options struct {
	StaleAfter    time.Duration // Locks older than this are reclaimed
	RetryInterval time.Duration // Wait between attempts when blocking
	Attempts      int           // Maximum attempts when blocking
	Logger        *zap.SugaredLogger
}

// DefaultOptions returns the defaults used by the scheduler
func DefaultOptions() Options {
	return Options{
		StaleAfter:    10 * time.Minute,
		RetryInterval: 100 * time.Millisecond,
		Attempts:      300,
	}
}

// Budget is the longest a blocking Acquire waits before giving up
func (o Options) Budget() time.Duration {
	return time.Duration(o.Attempts) * o.RetryInterval
}

// holder is the JSON content of a lock file
type holder struct {
	PID        int       `json:"pid"`
	Host       string    `json:"host"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a handle on one lock file. A handle is safe for concurrent use but
// holds the lock at most once.
type Lock struct {
	path  string
	opts  Options
	log   *zap.SugaredLogger
	mu    sync.Mutex
	held  bool
	token string
}

// New returns a handle for the lock file at path
func New(path string, opts Options) *Lock {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	return &Lock{
		path: path,
		opts: opts,
		log:  logging.Component(opts.Logger, "filelock"),
	}
}

// For returns a handle on the lock guarding resource
func For(resource string, opts Options) *Lock {
	return New(resource+Suffix, opts)
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Held reports whether this handle currently holds the lock
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Budget is the longest a blocking Acquire on this handle waits
func (l *Lock) Budget() time.Duration {
	return l.opts.Budget()
}

// Acquire tries to take the lock. With blocking set it retries up to the
// configured attempts, sleeping RetryInterval between tries; otherwise it
// tries once. It returns false without error when the lock stays contended.
func (l *Lock) Acquire(ctx context.Context, blocking bool) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false, ErrAlreadyHeld
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, errors.Wrapf(err, "failed to create lock directory for %s", l.path)
	}

	attempts := 0
	for {
		token, err := l.tryCreate()
		if err == nil {
			l.held = true
			l.token = token
			return true, nil
		}
		if !os.IsExist(err) {
			l.log.Debugw("Lock attempt failed", logging.FieldPath, l.path, logging.FieldError, err)
		} else if stale, staleToken := l.isStale(); stale {
			if l.reclaim(staleToken) {
				l.log.Warnw("Reclaimed stale lock", logging.FieldPath, l.path)
				continue
			}
		}

		attempts++
		if !blocking || attempts >= l.opts.Attempts {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.opts.RetryInterval):
		}
	}
}

// Release drops the lock. It is safe to call more than once and only removes
// the lock file if it still belongs to this handle.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false

	current, err := readHolder(l.path)
	if err == nil && current.Token != l.token {
		l.log.Warnw("Lock was reclaimed by another holder", logging.FieldPath, l.path)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove lock %s", l.path)
	}
	return nil
}

func (l *Lock) tryCreate() (string, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}

	h := holder{
		PID:        os.Getpid(),
		Host:       hostname(),
		Token:      newToken(),
		AcquiredAt: time.Now(),
	}
	data, _ := json.Marshal(h)
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(l.path)
		return "", errors.CombineErrors(werr, cerr)
	}
	return h.Token, nil
}

// isStale reports whether the current lock file may be reclaimed, along with
// the token it carried (empty when unreadable)
func (l *Lock) isStale() (bool, string) {
	h, err := readHolder(l.path)
	if err != nil {
		// Half-written or foreign lock file, fall back to its age
		info, statErr := os.Stat(l.path)
		if statErr != nil {
			return false, ""
		}
		return time.Since(info.ModTime()) > l.opts.StaleAfter, ""
	}

	if h.PID > 0 && h.Host == hostname() && !pidAlive(h.PID) {
		return true, h.Token
	}
	return time.Since(h.AcquiredAt) > l.opts.StaleAfter, h.Token
}

// reclaim moves the stale lock aside and deletes it. If another contender
// replaced the lock in the meantime the fresh lock is put back.
func (l *Lock) reclaim(staleToken string) bool {
	aside := l.path + ".stale." + newToken()
	if err := os.Rename(l.path, aside); err != nil {
		return false
	}

	h, err := readHolder(aside)
	if err == nil && h.Token != staleToken {
		// Not the lock we judged stale, restore it unless someone already took the path
		if linkErr := os.Link(aside, l.path); linkErr != nil {
			l.log.Warnw("Could not restore live lock", logging.FieldPath, l.path, logging.FieldError, linkErr)
		}
		_ = os.Remove(aside)
		return false
	}
	_ = os.Remove(aside)
	return true
}

// WithLock runs fn while holding the lock guarding resource. Failing to get
// the lock within the blocking budget returns an error wrapping
// types.ErrLockContention. The lock is released even if fn panics.
func WithLock(ctx context.Context, resource string, opts Options, fn func() error) error {
	lock := For(resource, opts)
	ok, err := lock.Acquire(ctx, true)
	if err != nil {
		return errors.Wrapf(err, "failed to acquire lock for %s", resource)
	}
	if !ok {
		return errors.Wrapf(types.ErrLockContention,
			"could not acquire lock %s after %d attempts", lock.Path(), lock.opts.Attempts)
	}
	defer func() { _ = lock.Release() }()
	return fn()
}

func readHolder(path string) (holder, error) {
	var h holder
	data, err := os.ReadFile(path)
	if err != nil {
		return h, err
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, err
	}
	if h.Token == "" {
		return h, errors.New("lock file has no token")
	}
	return h, nil
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		// Unknown, never reclaim on an error
		return true
	}
	return alive
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func newToken() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
