package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Iron-Ham/roster/internal/errors"
	"github.com/Iron-Ham/roster/internal/event"
	"github.com/Iron-Ham/roster/internal/logging"
	"github.com/Iron-Ham/roster/internal/record"
)

// idAlphabet keeps generated ids readable and safe as record key segments.
const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 10
)

// Backlog stores task descriptions under the backlog/ prefix. Entries are
// shared by every process using the same store.
type Backlog struct {
	store  record.Store
	retry  record.RetryPolicy
	now    func() time.Time
	bus    *event.Bus
	logger *logging.Logger
}

// BacklogKey returns the record store key for a task id.
func BacklogKey(id string) string {
	return record.BacklogPrefix + id
}

// Add appends a task and returns its id.
func (b *Backlog) Add(ctx context.Context, req AddRequest) (string, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return "", errors.NewValidationError("task title", req.Title, "must not be empty")
	}
	id := req.ID
	if id == "" {
		generated, err := gonanoid.Generate(idAlphabet, idLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate task id: %w", err)
		}
		id = generated
	}
	if err := record.ValidateKey(BacklogKey(id)); err != nil {
		return "", err
	}
	for _, dep := range req.DependsOn {
		if dep == id {
			return "", errors.NewValidationError("depends_on", dep, "task cannot depend on itself")
		}
	}

	task := Task{
		ID:          id,
		Title:       title,
		Description: req.Description,
		DependsOn:   req.DependsOn,
		Priority:    req.Priority,
		Status:      TaskPending,
		CreatedAt:   b.now().UTC(),
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}
	if _, err := b.store.CompareAndSwap(ctx, BacklogKey(id), data, 0); err != nil {
		if errors.Is(err, errors.ErrConflict) {
			return "", errors.NewValidationError("task id", id, "already exists")
		}
		return "", err
	}

	b.logger.Info("task added", "task_id", id, "title", title)
	b.bus.Publish(event.NewTaskAddedEvent(id, title))
	return id, nil
}

// Get returns the backlog entry for id, or errors.ErrNotFound.
func (b *Backlog) Get(ctx context.Context, id string) (*Task, error) {
	task, _, err := b.load(ctx, id)
	return task, err
}

// List returns every backlog entry in claim order: dependency level first,
// then priority.
func (b *Backlog) List(ctx context.Context) ([]*Task, error) {
	byID, err := b.all(ctx)
	if err != nil {
		return nil, err
	}
	order := buildPriorityOrder(byID)
	tasks := make([]*Task, 0, len(order))
	for _, id := range order {
		tasks = append(tasks, byID[id])
	}
	return tasks, nil
}

// Ready returns pending tasks whose dependencies are all completed, in
// claim order. Claims are not consulted.
func (b *Backlog) Ready(ctx context.Context) ([]*Task, error) {
	byID, err := b.all(ctx)
	if err != nil {
		return nil, err
	}
	var ready []*Task
	for _, id := range buildPriorityOrder(byID) {
		if isReady(byID[id], byID) {
			ready = append(ready, byID[id])
		}
	}
	return ready, nil
}

// markCompleted flips a pending task to completed. Completing a completed
// task is a no-op.
func (b *Backlog) markCompleted(ctx context.Context, id, sessionID string) error {
	return b.retry.Do(ctx, "complete", BacklogKey(id), func() error {
		task, version, err := b.load(ctx, id)
		if err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return nil
		}
		now := b.now().UTC()
		task.Status = TaskCompleted
		task.CompletedAt = &now
		task.CompletedBy = sessionID

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		_, err = b.store.CompareAndSwap(ctx, BacklogKey(id), data, version)
		return err
	})
}

func (b *Backlog) all(ctx context.Context) (map[string]*Task, error) {
	keys, err := b.store.List(ctx, record.BacklogPrefix)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Task, len(keys))
	for _, key := range keys {
		task, _, err := b.load(ctx, strings.TrimPrefix(key, record.BacklogPrefix))
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		byID[task.ID] = task
	}
	return byID, nil
}

func (b *Backlog) load(ctx context.Context, id string) (*Task, int64, error) {
	if id == "" {
		return nil, 0, errors.NewValidationError("task id", id, "must not be empty")
	}
	rec, err := b.store.Get(ctx, BacklogKey(id))
	if err != nil {
		return nil, 0, err
	}
	var task Task
	if err := rec.Decode(&task); err != nil {
		return nil, 0, err
	}
	return &task, rec.Version, nil
}
