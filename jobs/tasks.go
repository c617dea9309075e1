package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskRBACGrantSweep deletes grants that expired before the retention window.
	TaskRBACGrantSweep = "rbac:grant_sweep"
)

// GrantSweepPayload carries an optional retention override.
type GrantSweepPayload struct {
	RetentionSeconds int64 `json:"retention_seconds,omitempty"`
}

// Retention returns the override, or zero when the job default applies.
func (p GrantSweepPayload) Retention() time.Duration {
	return time.Duration(p.RetentionSeconds) * time.Second
}

// NewGrantSweepTask constructs an Asynq task.
func NewGrantSweepTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(GrantSweepPayload{RetentionSeconds: int64(retention / time.Second)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRBACGrantSweep, data, asynq.MaxRetry(3), asynq.Timeout(5*time.Minute)), nil
}
