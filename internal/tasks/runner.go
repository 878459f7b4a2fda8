package tasks

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lexiflow/lexiflow-server/internal/dispatch"
	"github.com/lexiflow/lexiflow-server/internal/quota"
	"github.com/lexiflow/lexiflow-server/internal/relay"
)

// jobTimeout bounds one background job, covering vendor polling.
const jobTimeout = 10 * time.Minute

// Runner executes relayed operations in the background, recording progress
// in the task store.
type Runner struct {
	store *Store
	relay *relay.Service
}

// NewRunner constructs a Runner.
func NewRunner(store *Store, relayService *relay.Service) *Runner {
	return &Runner{store: store, relay: relayService}
}

// Submit creates a pending task and starts its execution in a goroutine. The
// job runs detached from the request context so it survives the response.
func (r *Runner) Submit(ctx context.Context, userID uint64, typ quota.ResourceType, op dispatch.Operation, input dispatch.Input, primary string, fallbacks []string) (*Task, error) {
	task, errCreate := r.store.Create(ctx, userID, string(typ))
	if errCreate != nil {
		return nil, errCreate
	}

	go r.run(task, userID, typ, op, input, primary, fallbacks)
	return task, nil
}

func (r *Runner) run(task *Task, userID uint64, typ quota.ResourceType, op dispatch.Operation, input dispatch.Input, primary string, fallbacks []string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if errRunning := r.store.SetRunning(ctx, task); errRunning != nil {
		log.WithError(errRunning).WithField("task_id", task.ID).Error("mark task running failed")
	}

	outcome, errExecute := r.relay.Execute(ctx, userID, typ, op, input, primary, fallbacks)
	if errExecute != nil {
		if errStore := r.store.SetError(ctx, task, errExecute.Error()); errStore != nil {
			log.WithError(errStore).WithField("task_id", task.ID).Error("store task failure failed")
		}
		return
	}
	if errStore := r.store.SetResult(ctx, task, outcome.Output, outcome.Provider, outcome.Remaining); errStore != nil {
		log.WithError(errStore).WithField("task_id", task.ID).Error("store task result failed")
	}
}
