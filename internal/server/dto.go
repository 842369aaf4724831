package server

import (
	"taskdesk/internal/domain"
	"taskdesk/internal/workflow"
)

// Request payloads

type CreateTaskRequest struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
}

// UpdateTaskRequest is a sparse delta; omitted fields stay unchanged. An
// empty assigned_to_id or due_date clears the field.
type UpdateTaskRequest struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	Priority     *string `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	Status       *string `json:"status,omitempty" enum:"todo,in_progress,review,done"`
	ReviewStatus *string `json:"review_status,omitempty" enum:"pending,approved,rejected"`
}

func (r UpdateTaskRequest) delta() workflow.Delta {
	d := workflow.Delta{
		Title:        r.Title,
		Description:  r.Description,
		DueDate:      r.DueDate,
		AssignedToID: r.AssignedToID,
	}
	if r.Priority != nil {
		p := domain.Priority(*r.Priority)
		d.Priority = &p
	}
	if r.Status != nil {
		s := domain.Status(*r.Status)
		d.Status = &s
	}
	if r.ReviewStatus != nil {
		rs := domain.ReviewStatus(*r.ReviewStatus)
		d.ReviewStatus = &rs
	}
	return d
}

type ReviewTaskRequest struct {
	Decision string `json:"decision" enum:"approved,rejected"`
}

type RegisterActorRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role" enum:"admin,team,guest"`
}

// Responses

type TaskMutationResponse struct {
	Task          domain.Task                `json:"task"`
	Notifications []domain.NotificationEvent `json:"notifications"`
}

type TaskListResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

type NotificationListResponse struct {
	Notifications []domain.NotificationEvent `json:"notifications"`
}

type ActorListResponse struct {
	Actors []domain.Actor `json:"actors"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

// TaskPermissionsResponse exposes the policy predicates for pre-flight UI
// checks, e.g. disabling a button before submission.
type TaskPermissionsResponse struct {
	CanModify                  bool            `json:"can_modify"`
	CanSetPriorityOrAssignment bool            `json:"can_set_priority_or_assignment"`
	CanSetReviewStatus         bool            `json:"can_set_review_status"`
	AllowedStatusTransitions   []domain.Status `json:"allowed_status_transitions"`
}
