// Package workflow computes task mutations and their notification fan-out.
// It is the pure core of the system: every operation is a deterministic
// function of its inputs. The caller owns reading the current task, persisting
// the computed result, and delivering the computed notifications.
package workflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/policy"
)

// Workflow evaluates task mutations. Now is injectable for deterministic
// tests; the zero value falls back to time.Now.
type Workflow struct {
	Now func() time.Time
}

func New() Workflow {
	return Workflow{Now: time.Now}
}

func (w Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// CreateInput are caller-supplied parameters for a new task. Priority,
// AssignedToID and DueDate are optional; guests cannot set the first two.
type CreateInput struct {
	ID            string
	InstitutionID string
	Title         string
	Description   string
	Priority      domain.Priority
	AssignedToID  *string
	DueDate       *string
}

// Result pairs a computed task state with the notifications the caller must
// dispatch after persisting it.
type Result struct {
	Task          domain.Task
	Notifications []domain.NotificationEvent
}

// CreateTask computes the initial state of a new task. admins is the roster
// of admin actors in the actor's institution, supplied by the caller; it is
// only consulted for guest submissions.
func (w Workflow) CreateTask(actor domain.Actor, in CreateInput, admins []domain.Actor) (Result, error) {
	if in.Title == "" {
		return Result{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if in.Priority != "" && !in.Priority.Valid() {
		return Result{}, ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown value %q", in.Priority)}
	}
	if in.DueDate != nil {
		if _, err := time.Parse(time.RFC3339, *in.DueDate); err != nil {
			return Result{}, ValidationError{Field: "due_date", Reason: "must be RFC 3339"}
		}
	}
	institutionID := in.InstitutionID
	if institutionID == "" {
		institutionID = actor.InstitutionID
	}
	if institutionID != actor.InstitutionID {
		return Result{}, ForbiddenError{Rule: RuleCreateTask, Detail: "institution mismatch"}
	}

	now := w.now().UTC().Format(time.RFC3339)
	id := in.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(institutionID+"|"+in.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:            id,
		InstitutionID: institutionID,
		Title:         in.Title,
		Description:   in.Description,
		Status:        domain.StatusTodo,
		Priority:      in.Priority,
		AssignedToID:  in.AssignedToID,
		CreatedByID:   actor.ID,
		DueDate:       in.DueDate,
		ReviewStatus:  domain.ReviewApproved,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}

	var notifications []domain.NotificationEvent
	if actor.Role == domain.RoleGuest {
		// Guests cannot pick priority or assignee, and their submissions
		// need admin sign-off before counting as real work.
		t.ReviewStatus = domain.ReviewPending
		t.Priority = domain.PriorityMedium
		t.AssignedToID = nil
		notifications = guestCreatedNotifications(actor, t, admins)
	}
	return Result{Task: t, Notifications: notifications}, nil
}

func guestCreatedNotifications(guest domain.Actor, t domain.Task, admins []domain.Actor) []domain.NotificationEvent {
	name := guest.Name
	if name == "" {
		name = guest.ID
	}
	var out []domain.NotificationEvent
	for _, admin := range admins {
		out = append(out, domain.NotificationEvent{
			RecipientID: admin.ID,
			Type:        domain.NotifyGuestTaskCreated,
			Title:       "Guest task awaiting review",
			Body:        fmt.Sprintf("%s submitted %q for review", name, t.Title),
			Metadata: map[string]string{
				"task_id":    t.ID,
				"guest_id":   guest.ID,
				"guest_name": name,
			},
		})
	}
	return out
}

// Delta is a sparse set of requested field changes. A nil field means "leave
// unchanged"; AssignedToID set to the empty string clears the assignee, and
// DueDate set to the empty string clears the due date.
type Delta struct {
	Title        *string
	Description  *string
	DueDate      *string
	Priority     *domain.Priority
	AssignedToID *string
	Status       *domain.Status
	ReviewStatus *domain.ReviewStatus
}

func (d Delta) validate() error {
	if d.Title != nil && *d.Title == "" {
		return ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if d.Priority != nil && !d.Priority.Valid() {
		return ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown value %q", *d.Priority)}
	}
	if d.Status != nil && !d.Status.Valid() {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", *d.Status)}
	}
	if d.ReviewStatus != nil && !d.ReviewStatus.Valid() {
		return ValidationError{Field: "review_status", Reason: fmt.Sprintf("unknown value %q", *d.ReviewStatus)}
	}
	if d.DueDate != nil && *d.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, *d.DueDate); err != nil {
			return ValidationError{Field: "due_date", Reason: "must be RFC 3339"}
		}
	}
	return nil
}

// UpdateTask evaluates a sparse delta against the task's current state.
// Application is all-or-nothing: a single disallowed field rejects the whole
// request and nothing is applied.
func (w Workflow) UpdateTask(actor domain.Actor, task *domain.Task, delta Delta) (Result, error) {
	if task == nil || task.InstitutionID != actor.InstitutionID {
		// Tasks in other institutions are invisible, not merely forbidden.
		return Result{}, ErrNotFound
	}
	// Shape validation runs before any authorization check.
	if err := delta.validate(); err != nil {
		return Result{}, err
	}
	if !policy.CanModifyEntity(actor, task.CreatedByID) {
		return Result{}, ForbiddenError{Rule: RuleModifyEntity, Detail: "only the creator or an admin may modify this task"}
	}
	if (delta.Priority != nil || delta.AssignedToID != nil) && !policy.CanSetPriorityOrAssignment(actor) {
		return Result{}, ForbiddenError{Rule: RuleSetPriorityOrAssignment, Detail: "guests cannot set priority or assignee"}
	}
	if delta.Status != nil && !policy.CanTransitionStatus(actor, task.Status, *delta.Status) {
		return Result{}, ForbiddenError{
			Rule:   RuleTransitionStatus,
			Detail: fmt.Sprintf("%s may not move %s -> %s", actor.Role, task.Status, *delta.Status),
		}
	}
	if delta.ReviewStatus != nil && !policy.CanSetReviewStatus(actor) {
		return Result{}, ForbiddenError{Rule: RuleSetReviewStatus, Detail: "only admins decide reviews"}
	}

	updated := *task
	if delta.Title != nil {
		updated.Title = *delta.Title
	}
	if delta.Description != nil {
		updated.Description = *delta.Description
	}
	if delta.DueDate != nil {
		if *delta.DueDate == "" {
			updated.DueDate = nil
		} else {
			updated.DueDate = delta.DueDate
		}
	}
	if delta.Priority != nil {
		updated.Priority = *delta.Priority
	}
	if delta.AssignedToID != nil {
		if *delta.AssignedToID == "" {
			updated.AssignedToID = nil
		} else {
			updated.AssignedToID = delta.AssignedToID
		}
	}
	if delta.Status != nil {
		updated.Status = *delta.Status
	}
	reviewDecided := false
	if delta.ReviewStatus != nil {
		if *delta.ReviewStatus != task.ReviewStatus &&
			(*delta.ReviewStatus == domain.ReviewApproved || *delta.ReviewStatus == domain.ReviewRejected) {
			reviewDecided = true
		}
		updated.ReviewStatus = *delta.ReviewStatus
	}
	updated.UpdatedAt = w.now().UTC().Format(time.RFC3339)

	var notifications []domain.NotificationEvent
	if reviewDecided {
		notifications = append(notifications, domain.NotificationEvent{
			RecipientID: task.CreatedByID,
			Type:        domain.NotifyTaskReviewDecided,
			Title:       "Task review decided",
			Body:        fmt.Sprintf("Your task %q was %s", updated.Title, updated.ReviewStatus),
			Metadata: map[string]string{
				"task_id":  updated.ID,
				"decision": string(updated.ReviewStatus),
			},
		})
	}
	return Result{Task: updated, Notifications: notifications}, nil
}

// DeleteTask reports whether the actor may delete the task. The caller
// performs the deletion; no notifications fire on delete.
func (w Workflow) DeleteTask(actor domain.Actor, task *domain.Task) error {
	if task == nil || task.InstitutionID != actor.InstitutionID {
		return ErrNotFound
	}
	if !policy.CanModifyEntity(actor, task.CreatedByID) {
		return ForbiddenError{Rule: RuleModifyEntity, Detail: "only the creator or an admin may delete this task"}
	}
	return nil
}
