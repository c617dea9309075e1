package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/inkboard/inkboard/internal/jobs"
)

// DefaultSweepRetention keeps expired grants around for a month of audit lookups.
const DefaultSweepRetention = 30 * 24 * time.Hour

// ExpiredGrantDeleter removes grants that expired before cutoff.
type ExpiredGrantDeleter interface {
	DeleteExpiredGrants(ctx context.Context, cutoff time.Time) (int64, error)
}

// GrantSweepJob deletes long-expired grants. Expired rows are already inert
// for authorization, so the sweep never invalidates cached decisions.
type GrantSweepJob struct {
	Store     ExpiredGrantDeleter
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	Retention time.Duration
	clock     func() time.Time
}

// NewGrantSweepJob initialises the sweep handler.
func NewGrantSweepJob(store ExpiredGrantDeleter, logger *slog.Logger, metrics *jobmetrics.Metrics, retention time.Duration) *GrantSweepJob {
	if retention <= 0 {
		retention = DefaultSweepRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantSweepJob{
		Store:     store,
		Logger:    logger,
		Metrics:   metrics,
		Retention: retention,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes TaskRBACGrantSweep.
func (j *GrantSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("grant sweep: handler not configured")
	}
	var payload GrantSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("grant sweep: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload.Retention())
	return err
}

// Run deletes grants that expired more than retention ago; zero uses the
// configured retention.
func (j *GrantSweepJob) Run(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = j.Retention
	}
	tracker := j.Metrics.Track(TaskRBACGrantSweep)
	cutoff := j.clock().Add(-retention)
	deleted, err := j.Store.DeleteExpiredGrants(ctx, cutoff)
	if err != nil {
		j.Logger.Error("grant sweep failed", slog.Time("cutoff", cutoff), slog.Any("error", err))
		return 0, tracker.End(fmt.Errorf("grant sweep: %w", err))
	}
	j.Metrics.AddSwept(deleted)
	j.Logger.Info("grant sweep completed",
		slog.String("job", TaskRBACGrantSweep),
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", deleted))
	return deleted, tracker.End(nil)
}
