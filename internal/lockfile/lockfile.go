package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"quotarun/internal/fileutil"
	"quotarun/internal/logging"
)

var (
	// ErrAlreadyRunning reports a live process holding the lock.
	ErrAlreadyRunning = errors.New("another instance is already running")
	// ErrLivenessUnknown reports a lock owner whose liveness could not be probed.
	ErrLivenessUnknown = errors.New("lock owner liveness unknown")
)

const (
	claimTimeout = 5 * time.Second
	claimRetry   = 50 * time.Millisecond
)

// Handle is proof of ownership returned by Acquire.
type Handle struct {
	PID        int
	AcquiredAt time.Time

	path string
	once sync.Once
}

// Path returns the lock file this handle owns.
func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

// Owner describes the current lock file state without claiming it.
type Owner struct {
	Present   bool
	PID       int
	Malformed bool
	// Alive is meaningful only when LivenessErr is nil.
	Alive       bool
	LivenessErr error
	ModTime     time.Time
}

// Guard claims and releases the single-instance lock file.
type Guard struct {
	path           string
	checker        ProcessChecker
	recoverUnknown bool
	pid            int
	logger         *slog.Logger
	now            func() time.Time
}

// Option customizes a Guard.
type Option func(*Guard)

// WithChecker overrides the liveness probe.
func WithChecker(checker ProcessChecker) Option {
	return func(g *Guard) {
		if checker != nil {
			g.checker = checker
		}
	}
}

// WithRecoverUnknown lets Acquire take over a lock whose owner liveness
// cannot be determined.
func WithRecoverUnknown(enabled bool) Option {
	return func(g *Guard) { g.recoverUnknown = enabled }
}

// WithPID overrides the pid written into the lock file.
func WithPID(pid int) Option {
	return func(g *Guard) {
		if pid > 0 {
			g.pid = pid
		}
	}
}

// WithLogger attaches a logger for stale lock recovery messages.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) { g.logger = logger }
}

// New constructs a guard for the lock file at path.
func New(path string, opts ...Option) *Guard {
	g := &Guard{
		path:    path,
		checker: SystemChecker(),
		pid:     os.Getpid(),
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.NewComponentLogger(g.logger, "lockfile")
	return g
}

// Path returns the guarded lock file path.
func (g *Guard) Path() string {
	return g.path
}

// Acquire claims the lock. It returns ErrAlreadyRunning when the recorded
// owner is alive and ErrLivenessUnknown when its liveness cannot be probed
// and recovery of unknown owners is disabled.
func (g *Guard) Acquire(ctx context.Context) (*Handle, error) {
	if strings.TrimSpace(g.path) == "" {
		return nil, errors.New("lock file path is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	claim := flock.New(g.path + ".flock")
	claimCtx, cancel := context.WithTimeout(ctx, claimTimeout)
	defer cancel()
	locked, err := claim.TryLockContext(claimCtx, claimRetry)
	if err != nil {
		return nil, fmt.Errorf("serialize lock claim: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("serialize lock claim: %w", ErrAlreadyRunning)
	}
	defer func() {
		_ = claim.Unlock()
	}()

	owner, err := g.read()
	if err != nil {
		return nil, err
	}
	if owner.Present {
		if err := g.checkOwner(owner); err != nil {
			return nil, err
		}
	}

	acquired := g.now()
	if err := fileutil.WriteFileAtomic(g.path, []byte(strconv.Itoa(g.pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Handle{PID: g.pid, AcquiredAt: acquired, path: g.path}, nil
}

func (g *Guard) checkOwner(owner Owner) error {
	if owner.Malformed {
		logging.WarnWithContext(g.logger, "lock file unreadable; treating as stale", "lock_recovered",
			logging.String("path", g.path),
			logging.String(logging.FieldImpact, "previous lock record overwritten"),
		)
		return nil
	}
	alive, err := g.checker.Alive(owner.PID)
	if err != nil {
		if !g.recoverUnknown {
			return fmt.Errorf("%w: pid %d: %v", ErrLivenessUnknown, owner.PID, err)
		}
		logging.WarnWithContext(g.logger, "lock owner liveness unknown; recovering lock", "lock_recovered",
			logging.Int("pid", owner.PID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set lock.recover_unknown_liveness = false to refuse instead"),
			logging.String(logging.FieldImpact, "a live owner may be displaced"),
		)
		return nil
	}
	if alive {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, owner.PID)
	}
	g.logger.Info("stale lock recovered",
		logging.Int("pid", owner.PID),
		logging.String(logging.FieldEventType, "lock_recovered"),
	)
	return nil
}

// Release removes the lock file. Repeated calls with the same handle are
// no-ops.
func (g *Guard) Release(h *Handle) error {
	if h == nil {
		return nil
	}
	var err error
	h.once.Do(func() {
		if removeErr := os.Remove(h.path); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			err = fmt.Errorf("remove lock file: %w", removeErr)
		}
	})
	return err
}

// Inspect reports the recorded owner and its liveness.
func (g *Guard) Inspect() (Owner, error) {
	owner, err := g.read()
	if err != nil || !owner.Present || owner.Malformed {
		return owner, err
	}
	owner.Alive, owner.LivenessErr = g.checker.Alive(owner.PID)
	return owner, nil
}

func (g *Guard) read() (Owner, error) {
	info, err := os.Stat(g.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Owner{}, nil
		}
		return Owner{}, fmt.Errorf("stat lock file: %w", err)
	}
	data, err := os.ReadFile(g.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Owner{}, nil
		}
		return Owner{}, fmt.Errorf("read lock file: %w", err)
	}
	owner := Owner{Present: true, ModTime: info.ModTime()}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		owner.Malformed = true
		return owner, nil
	}
	owner.PID = pid
	return owner, nil
}
