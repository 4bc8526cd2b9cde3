// Package scheduler provides cron-based maintenance for the upload
// scratch area: scratch directories left behind by crashed or interrupted
// imports are swept out on a schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically removes stale scratch directories under a root
// directory. A scratch directory is stale when its modification time is
// older than the configured maximum age.
type Sweeper struct {
	cron   *cron.Cron
	root   string
	maxAge time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	entryID  cron.EntryID
	running  bool
	lastRun  time.Time
	lastErr  error
	started  bool
	stopped  bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	schedule string
}

// NewSweeper creates a sweeper for the given scratch root. The cron
// expression is validated immediately.
func NewSweeper(root, cronExpr string, maxAge time.Duration) (*Sweeper, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		root:     root,
		maxAge:   maxAge,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
		schedule: cronExpr,
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running {
			s.mu.Unlock()
			return
		}
		s.running = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runSweep()
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	s.entryID = entryID
	return s, nil
}

// WithLogger sets the logger for the sweeper.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// Start begins executing the scheduled sweep.
func (s *Sweeper) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scratch sweeper started",
		"root", s.root,
		"schedule", s.schedule,
		"next_run", s.cron.Entry(s.entryID).Next)
}

// IsRunning returns true if the sweeper has been started and not yet stopped.
func (s *Sweeper) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop gracefully stops the sweeper and waits for an in-flight sweep to
// finish. Returns a context that is done when all work completes.
func (s *Sweeper) Stop() context.Context {
	s.logger.Info("scratch sweeper stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

// TriggerSweep runs a sweep immediately, outside the schedule. Returns an
// error if a sweep is already running or the sweeper has been stopped.
func (s *Sweeper) TriggerSweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("sweeper is stopped")
	}
	if s.running {
		return fmt.Errorf("sweep already running")
	}

	s.running = true
	s.wg.Add(1)
	go s.runSweep()
	return nil
}

// LastResult reports the time and error of the most recent completed sweep.
func (s *Sweeper) LastResult() (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastErr
}

// runSweep executes one sweep. The caller must have already called
// wg.Add(1) and set running = true.
func (s *Sweeper) runSweep() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	removed, err := s.sweep()

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scratch sweep failed",
			"duration", time.Since(start),
			"error", err)
		return
	}
	s.logger.Info("scratch sweep completed",
		"removed", removed,
		"duration", time.Since(start))
}

// sweep removes stale entries under the scratch root and returns how many
// it deleted. A missing root is not an error.
func (s *Sweeper) sweep() (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	cutoff := time.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if s.ctx.Err() != nil {
			return removed, s.ctx.Err()
		}

		path := filepath.Join(s.root, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// Raced with a concurrent delete.
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		if err := os.RemoveAll(path); err != nil {
			s.logger.Warn("failed to remove stale scratch entry",
				"path", path,
				"error", err)
			continue
		}
		s.logger.Debug("removed stale scratch entry", "path", path)
		removed++
	}
	return removed, nil
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
