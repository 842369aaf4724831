// Package engine wires the pure workflow core to storage: it owns the
// read-evaluate-write cycle, the audit log, and the notification outbox.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/events"
	"taskdesk/internal/repo"
	"taskdesk/internal/workflow"
)

// updateRetries bounds the evaluate-and-write retry loop on version
// conflicts.
const updateRetries = 3

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Workflow workflow.Workflow
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Workflow: workflow.New(),
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// workflowNow builds a workflow sharing the engine's clock.
func (e Engine) workflowNow() workflow.Workflow {
	w := e.Workflow
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

// InitInstitution seeds the institution record. Idempotent.
func (e Engine) InitInstitution(ctx context.Context, id, name, actorID string) (domain.Institution, error) {
	if id == "" {
		return domain.Institution{}, errors.New("institution id required")
	}
	if name == "" {
		name = id
	}
	inst := domain.Institution{ID: id, Name: name, CreatedAt: e.now().UTC().Format(time.RFC3339)}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInstitution(ctx, tx, inst); err != nil {
		return inst, fmt.Errorf("insert institution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "institution.init", inst.ID, "institution", inst.ID, actorID, nil); err != nil {
		return inst, err
	}
	return inst, tx.Commit()
}

// RegisterActor upserts an actor into the institution roster.
func (e Engine) RegisterActor(ctx context.Context, a domain.Actor, registeredBy string) (domain.Actor, error) {
	if a.ID == "" {
		return a, errors.New("actor id required")
	}
	if !a.Role.Valid() {
		return a, fmt.Errorf("unknown role %q", a.Role)
	}
	if _, err := e.Repo.GetInstitution(ctx, a.InstitutionID); err != nil {
		return a, err
	}
	if a.CreatedAt == "" {
		a.CreatedAt = e.now().UTC().Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertActor(ctx, tx, a); err != nil {
		return a, fmt.Errorf("upsert actor: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "actor.registered", a.InstitutionID, "actor", a.ID, registeredBy, events.EventPayload{"role": a.Role}); err != nil {
		return a, err
	}
	return a, tx.Commit()
}

// CreateTask evaluates the workflow for a new task and persists the result:
// the task row, any notification fan-out, and the audit event, all in one
// transaction.
func (e Engine) CreateTask(ctx context.Context, actor domain.Actor, in workflow.CreateInput) (workflow.Result, error) {
	if in.Priority == "" && e.Config != nil {
		in.Priority = e.Config.DefaultPriority()
	}
	var admins []domain.Actor
	if actor.Role == domain.RoleGuest {
		var err error
		admins, err = e.Repo.ListAdmins(ctx, actor.InstitutionID)
		if err != nil {
			return workflow.Result{}, fmt.Errorf("list admins: %w", err)
		}
	}
	res, err := e.workflowNow().CreateTask(actor, in, admins)
	if err != nil {
		return workflow.Result{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Result{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, res.Task); err != nil {
		return workflow.Result{}, fmt.Errorf("insert task: %w", err)
	}
	res.Notifications, err = e.storeNotifications(ctx, tx, res.Notifications)
	if err != nil {
		return workflow.Result{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", res.Task.InstitutionID, "task", res.Task.ID, actor.ID, events.EventPayload{
		"title":         res.Task.Title,
		"status":        res.Task.Status,
		"review_status": res.Task.ReviewStatus,
	}); err != nil {
		return workflow.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Result{}, err
	}
	return res, nil
}

// UpdateTask runs the read-evaluate-write cycle under optimistic concurrency,
// retrying the whole cycle when a concurrent writer wins the race.
func (e Engine) UpdateTask(ctx context.Context, actor domain.Actor, taskID string, delta workflow.Delta) (workflow.Result, error) {
	var lastErr error
	for attempt := 0; attempt < updateRetries; attempt++ {
		res, err := e.updateTaskOnce(ctx, actor, taskID, delta)
		if errors.Is(err, repo.ErrConflict) {
			lastErr = err
			continue
		}
		return res, err
	}
	return workflow.Result{}, lastErr
}

func (e Engine) updateTaskOnce(ctx context.Context, actor domain.Actor, taskID string, delta workflow.Delta) (workflow.Result, error) {
	current, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return workflow.Result{}, workflow.ErrNotFound
		}
		return workflow.Result{}, err
	}
	res, err := e.workflowNow().UpdateTask(actor, &current, delta)
	if err != nil {
		return workflow.Result{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Result{}, err
	}
	defer tx.Rollback()

	res.Task, err = e.Repo.UpdateTask(ctx, tx, res.Task, current.Version)
	if err != nil {
		return workflow.Result{}, err
	}
	res.Notifications, err = e.storeNotifications(ctx, tx, res.Notifications)
	if err != nil {
		return workflow.Result{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", res.Task.InstitutionID, "task", res.Task.ID, actor.ID, events.EventPayload{
		"from_status":   current.Status,
		"to_status":     res.Task.Status,
		"review_status": res.Task.ReviewStatus,
	}); err != nil {
		return workflow.Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.Result{}, err
	}
	return res, nil
}

// DeleteTask removes a task after the workflow authorizes the actor.
func (e Engine) DeleteTask(ctx context.Context, actor domain.Actor, taskID string) error {
	current, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return workflow.ErrNotFound
		}
		return err
	}
	if err := e.workflowNow().DeleteTask(actor, &current); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", current.InstitutionID, "task", current.ID, actor.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) storeNotifications(ctx context.Context, tx *sql.Tx, ns []domain.NotificationEvent) ([]domain.NotificationEvent, error) {
	now := e.now().UTC().Format(time.RFC3339)
	for i := range ns {
		ns[i].ID = uuid.New().String()
		ns[i].CreatedAt = now
		if err := e.Repo.InsertNotification(ctx, tx, ns[i]); err != nil {
			return nil, fmt.Errorf("insert notification: %w", err)
		}
	}
	return ns, nil
}
