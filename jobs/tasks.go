package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/aegisgate/aegisgate/internal/signedcache"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvalidateUser removes every cached auth snapshot for one user.
	TaskInvalidateUser = "cache:invalidate_user"
	// TaskInvalidateAll flushes every cached auth snapshot.
	TaskInvalidateAll = "cache:invalidate_all"
	// TaskSweepIndexes prunes per-user token indexes of expired members.
	TaskSweepIndexes = "cache:sweep_indexes"
)

// InvalidateUserPayload names the user whose cache entries must go.
type InvalidateUserPayload struct {
	Username string `json:"username"`
	Reason   string `json:"reason,omitempty"`
}

// NewInvalidateUserTask constructs an Asynq task.
func NewInvalidateUserTask(payload InvalidateUserPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvalidateUser, data), nil
}

// NewInvalidateAllTask constructs an Asynq task with an empty payload.
func NewInvalidateAllTask() *asynq.Task {
	return asynq.NewTask(TaskInvalidateAll, nil)
}

// NewSweepIndexesTask constructs the periodic index sweep task.
func NewSweepIndexesTask() *asynq.Task {
	return asynq.NewTask(TaskSweepIndexes, nil)
}

// HandleInvalidateUserTask processes TaskInvalidateUser tasks.
func HandleInvalidateUserTask(store *signedcache.Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload InvalidateUserPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Username == "" {
			return asynq.SkipRetry
		}
		deleted, err := store.DeleteForUser(ctx, payload.Username)
		if err != nil {
			return err
		}
		logger.Info("invalidated user cache",
			slog.String("username", payload.Username),
			slog.String("reason", payload.Reason),
			slog.Int64("deleted", deleted))
		return nil
	}
}

// HandleInvalidateAllTask processes TaskInvalidateAll tasks.
func HandleInvalidateAllTask(store *signedcache.Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		deleted, err := store.DeleteAll(ctx)
		if err != nil {
			return err
		}
		logger.Info("flushed auth cache", slog.Int64("deleted", deleted))
		return nil
	}
}

// HandleSweepIndexesTask processes TaskSweepIndexes tasks.
func HandleSweepIndexesTask(store *signedcache.Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		removed, err := store.SweepUserIndexes(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("swept user token indexes", slog.Int64("removed", removed))
		}
		return nil
	}
}
