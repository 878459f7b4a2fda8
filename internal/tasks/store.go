// Package tasks runs long operations in the background and keeps their state
// in redis so clients can poll for the result.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task lifecycle states.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrTaskNotFound indicates the task id does not exist or has expired.
var ErrTaskNotFound = errors.New("tasks: task not found")

// Task is one background operation and its outcome.
type Task struct {
	ID        string    `json:"id"`
	UserID    uint64    `json:"user_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Output    string    `json:"output,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Remaining int       `json:"remaining"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists tasks in redis with a TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore constructs a Store. A non-positive ttl falls back to 24 hours.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func taskKey(id string) string {
	return "lexiflow:task:" + id
}

// Create stores a new pending task and returns it.
func (s *Store) Create(ctx context.Context, userID uint64, kind string) (*Task, error) {
	now := time.Now().UTC()
	task := &Task{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errSave := s.save(ctx, task); errSave != nil {
		return nil, errSave
	}
	return task, nil
}

// Get loads a task owned by the given user.
func (s *Store) Get(ctx context.Context, userID uint64, id string) (*Task, error) {
	data, errGet := s.rdb.Get(ctx, taskKey(id)).Bytes()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("tasks: load task: %w", errGet)
	}
	var task Task
	if errUnmarshal := json.Unmarshal(data, &task); errUnmarshal != nil {
		return nil, fmt.Errorf("tasks: decode task: %w", errUnmarshal)
	}
	if task.UserID != userID {
		return nil, ErrTaskNotFound
	}
	return &task, nil
}

// SetRunning marks the task as in progress.
func (s *Store) SetRunning(ctx context.Context, task *Task) error {
	task.Status = StatusRunning
	task.UpdatedAt = time.Now().UTC()
	return s.save(ctx, task)
}

// SetResult marks the task as finished with its output.
func (s *Store) SetResult(ctx context.Context, task *Task, output, provider string, remaining int) error {
	task.Status = StatusSuccess
	task.Output = output
	task.Provider = provider
	task.Remaining = remaining
	task.Error = ""
	task.UpdatedAt = time.Now().UTC()
	return s.save(ctx, task)
}

// SetError marks the task as failed.
func (s *Store) SetError(ctx context.Context, task *Task, message string) error {
	task.Status = StatusFailed
	task.Error = message
	task.UpdatedAt = time.Now().UTC()
	return s.save(ctx, task)
}

func (s *Store) save(ctx context.Context, task *Task) error {
	data, errMarshal := json.Marshal(task)
	if errMarshal != nil {
		return fmt.Errorf("tasks: encode task: %w", errMarshal)
	}
	if errSet := s.rdb.Set(ctx, taskKey(task.ID), data, s.ttl).Err(); errSet != nil {
		return fmt.Errorf("tasks: store task: %w", errSet)
	}
	return nil
}
