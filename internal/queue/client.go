package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// ErrAlreadyQueued is returned when a job already has a live task.
var ErrAlreadyQueued = errors.New("job already queued")

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

type Client struct {
	client    enqueuer
	inspector taskInspector
	queue     string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queueName,
	}
}

// taskOptions uses the job id as task id so a job is never queued twice.
func (c *Client) taskOptions(jobID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(MaxRetry),
		asynq.Timeout(TaskTimeout),
	}
}

// EnqueueApplyEffect queues the job. A task left archived or completed by an
// earlier run of the same job is removed first so a failed job can restart.
func (c *Client) EnqueueApplyEffect(ctx context.Context, payload ApplyEffectPayload) (*asynq.TaskInfo, error) {
	task, err := NewApplyEffectTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.enqueue(ctx, task, payload.JobID)
	if !errors.Is(err, ErrAlreadyQueued) {
		return info, err
	}

	released, err := c.releaseFinished(payload.JobID)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, payload.JobID)
	}
	return c.enqueue(ctx, task, payload.JobID)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task, jobID string) (*asynq.TaskInfo, error) {
	info, err := c.client.EnqueueContext(ctx, task, c.taskOptions(jobID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyQueued, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", TypeApplyEffect, err)
	}
	return info, nil
}

// releaseFinished deletes the task holding jobID when it will never run again.
func (c *Client) releaseFinished(jobID string) (bool, error) {
	if c.inspector == nil {
		return false, nil
	}

	info, err := c.inspector.GetTaskInfo(c.queue, jobID)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		// Gone between the conflict and the lookup.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect task %s: %w", jobID, err)
	}

	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}

	if err := c.inspector.DeleteTask(c.queue, jobID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, fmt.Errorf("delete finished task %s: %w", jobID, err)
	}
	return true, nil
}

func (c *Client) Close() error {
	var inspectErr error
	if c.inspector != nil {
		inspectErr = c.inspector.Close()
	}
	return errors.Join(c.client.Close(), inspectErr)
}
