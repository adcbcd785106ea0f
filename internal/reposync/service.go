// ABOUTME: Repo sync service owning an ephemeral local clone of a remote git repository
// ABOUTME: Optionally polls for updates, with serialized pulls and idempotent teardown

package reposync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gitplan/gitplan/internal/vcs"
)

// DefaultPollInterval is how often the polling variant fast-forwards its
// clone when no interval is configured.
const DefaultPollInterval = 5 * time.Minute

// Service errors
var (
	ErrAlreadyRunning = errors.New("sync service already running")
	ErrStopped        = errors.New("sync service stopped")
	ErrNotRunning     = errors.New("sync service not running")
)

// service lifecycle states
type state int

const (
	stateUnstarted state = iota
	stateRunning
	stateStopped
)

// Config configures a Service.
type Config struct {
	// RemoteURL is the git remote to clone.
	RemoteURL string
	// Interval enables background polling when positive. When zero, a
	// service with an OnSync hook polls at DefaultPollInterval; without a
	// hook, zero means clone-once and the clone is never pulled
	// automatically.
	Interval time.Duration
	// OnSync runs after the initial clone and after every successful pull,
	// with the clone directory as argument. Used by the credential variant
	// to reload the directory. May be nil.
	OnSync func(dir string) error
	// Shell performs the git operations. Defaults to vcs.NewShell().
	Shell *vcs.Shell
	// Logger for sync events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Service owns exactly one ephemeral clone directory between Start and Stop.
// A stopped service cannot be restarted; create a new one instead.
type Service struct {
	remoteURL string
	interval  time.Duration
	onSync    func(dir string) error
	shell     *vcs.Shell
	logger    *slog.Logger

	mu     sync.Mutex // guards lifecycle state and dir
	st     state
	dir    string
	stopCh chan struct{}
	done   chan struct{}

	pullMu sync.Mutex // serializes pulls against the clone, timer or manual
}

// New creates a sync service. Start must be called before the clone exists.
func New(cfg Config) *Service {
	shell := cfg.Shell
	if shell == nil {
		shell = vcs.NewShell()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval == 0 && cfg.OnSync != nil {
		interval = DefaultPollInterval
	}
	return &Service{
		remoteURL: cfg.RemoteURL,
		interval:  interval,
		onSync:    cfg.OnSync,
		shell:     shell,
		logger:    logger.With("component", "reposync"),
	}
}

// Start clones the remote into a fresh temporary directory, runs the initial
// sync hook, and begins polling when an interval is configured. Starting a
// running or stopped service is an error.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.st {
	case stateRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case stateStopped:
		s.mu.Unlock()
		return ErrStopped
	}
	s.st = stateRunning
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	dir, err := os.MkdirTemp("", "gitplan-clone-*")
	if err != nil {
		s.failStart()
		return fmt.Errorf("creating clone directory: %w", err)
	}

	s.logger.Info("cloning repository", "remote", s.remoteURL, "dir", dir)
	if err := s.shell.Clone(ctx, s.remoteURL, dir); err != nil {
		_ = os.RemoveAll(dir)
		s.failStart()
		return fmt.Errorf("cloning %s: %w", s.remoteURL, err)
	}

	s.mu.Lock()
	if s.st != stateRunning {
		// Stopped while the clone was in flight; don't leave the directory.
		s.mu.Unlock()
		_ = os.RemoveAll(dir)
		return ErrStopped
	}
	s.dir = dir
	s.mu.Unlock()

	if s.onSync != nil {
		if err := s.onSync(dir); err != nil {
			s.Stop()
			return fmt.Errorf("initial sync: %w", err)
		}
	}

	if s.interval > 0 {
		s.mu.Lock()
		s.done = make(chan struct{})
		s.mu.Unlock()
		go s.pollLoop()
	}

	return nil
}

// failStart reverts a failed Start to the stopped state so the clone
// directory can never be resurrected by a retry on the same instance.
func (s *Service) failStart() {
	s.mu.Lock()
	s.st = stateStopped
	s.mu.Unlock()
}

// pollLoop pulls on a fixed interval until Stop. Pull failures are logged
// and contained: stale-but-valid data beats no data.
func (s *Service) pollLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Pull(context.Background()); err != nil {
				s.logger.Warn("background pull failed, keeping last-good state", "error", err)
			}
		}
	}
}

// Pull fast-forwards the clone and re-runs the sync hook. Pulls are
// serialized with each other regardless of whether the timer or an
// application call triggered them; the clone directory has one writer.
func (s *Service) Pull(ctx context.Context) error {
	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	s.mu.Lock()
	dir := s.dir
	running := s.st == stateRunning
	s.mu.Unlock()

	if !running || dir == "" {
		return ErrNotRunning
	}

	if err := s.shell.Pull(ctx, dir); err != nil {
		return fmt.Errorf("pulling %s: %w", s.remoteURL, err)
	}
	if s.onSync != nil {
		if err := s.onSync(dir); err != nil {
			return fmt.Errorf("sync after pull: %w", err)
		}
	}
	return nil
}

// Dir returns the clone directory, or "" when not running.
func (s *Service) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != stateRunning {
		return ""
	}
	return s.dir
}

// Stop tears the service down: the poll timer is cancelled first so no pull
// can race the deletion, then the clone directory is removed best-effort,
// then in-memory references are cleared. Stop is idempotent; a repeat call
// retries cleanup that previously failed and never errors.
func (s *Service) Stop() {
	s.mu.Lock()
	var done chan struct{}
	if s.st == stateRunning {
		close(s.stopCh)
		done = s.done
	}
	s.st = stateStopped
	s.mu.Unlock()

	if done != nil {
		<-done
	}

	// Hold the pull mutex so an in-flight manual pull finishes before the
	// directory disappears under it.
	s.pullMu.Lock()
	defer s.pullMu.Unlock()

	s.mu.Lock()
	dir := s.dir
	s.mu.Unlock()
	if dir == "" {
		return
	}

	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove clone directory", "dir", dir, "error", err)
		return
	}

	s.mu.Lock()
	s.dir = ""
	s.done = nil
	s.mu.Unlock()
	s.logger.Info("sync service stopped", "remote", s.remoteURL)
}
