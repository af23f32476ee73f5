package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultCleanupInterval is the default interval between sweeps.
const DefaultCleanupInterval = 5 * time.Minute

// Sweeper purges expired sessions.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// CleanupJob sweeps expired sessions on a fixed interval.
type CleanupJob struct {
	sweeper  Sweeper
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewCleanupJob creates a job that sweeps every interval.
func NewCleanupJob(sweeper Sweeper, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupJob{
		sweeper:  sweeper,
		interval: interval,
	}
}

// Start begins the periodic sweep in a goroutine. Calling Start on a running
// job is a no-op.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})
	j.done = make(chan struct{})

	go j.run(ctx, j.stopChan, j.done)

	slog.Info("session cleanup job started", "interval", j.interval)
}

// Stop stops the job and waits for an in-flight sweep to finish.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopChan)
	done := j.done
	j.running = false
	j.mu.Unlock()

	<-done
	slog.Info("session cleanup job stopped")
}

// RunOnce executes a single sweep immediately.
func (j *CleanupJob) RunOnce(ctx context.Context) (int, error) {
	return j.sweeper.SweepExpired(ctx)
}

// IsRunning returns whether the job is currently running.
func (j *CleanupJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *CleanupJob) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.mu.Lock()
			j.running = false
			j.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			if purged, err := j.sweeper.SweepExpired(ctx); err != nil {
				slog.Error("session cleanup failed", "error", err)
			} else if purged > 0 {
				slog.Info("session cleanup completed", "purged", purged)
			}
		}
	}
}
