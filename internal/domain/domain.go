package domain

// Role is the closed set of actor roles. Storing it as a typed string keeps
// illegal roles out of the policy layer entirely.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleTeam  Role = "team"
	RoleGuest Role = "guest"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeam, RoleGuest:
		return true
	}
	return false
}

// Status is the task lifecycle state.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusReview, StatusDone:
		return true
	}
	return false
}

// Statuses lists every lifecycle state in workflow order.
func Statuses() []Status {
	return []Status{StatusTodo, StatusInProgress, StatusReview, StatusDone}
}

// Priority of a task. Guests can never set it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ReviewStatus is the admin sign-off gate, separate from workflow status.
// Guest-created tasks start pending; team/admin tasks start approved.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func (rs ReviewStatus) Valid() bool {
	switch rs {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// Actor is the authenticated identity performing an operation, supplied by
// the auth layer and immutable for the duration of a request.
type Actor struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Role          Role   `json:"role" enum:"admin,team,guest"`
	InstitutionID string `json:"institution_id"`
	CreatedAt     string `json:"created_at,omitempty" format:"date-time"`
}

type Institution struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Task is the entity under policy. InstitutionID and CreatedByID never
// change after creation.
type Task struct {
	ID            string       `json:"id"`
	InstitutionID string       `json:"institution_id"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	Status        Status       `json:"status" enum:"todo,in_progress,review,done"`
	Priority      Priority     `json:"priority" enum:"low,medium,high,urgent"`
	AssignedToID  *string      `json:"assigned_to_id,omitempty"`
	CreatedByID   string       `json:"created_by_id"`
	DueDate       *string      `json:"due_date,omitempty" format:"date-time"`
	ReviewStatus  ReviewStatus `json:"review_status" enum:"pending,approved,rejected"`
	Version       int64        `json:"version"`
	CreatedAt     string       `json:"created_at" format:"date-time"`
	UpdatedAt     string       `json:"updated_at" format:"date-time"`
}

// NotificationType tags an outbound fan-out message.
type NotificationType string

const (
	NotifyGuestTaskCreated  NotificationType = "GUEST_TASK_CREATED"
	NotifyTaskReviewDecided NotificationType = "TASK_REVIEW_DECIDED"
)

// NotificationEvent describes one outbound message computed by the workflow.
// The workflow only produces these; persistence and delivery belong to the
// caller.
type NotificationEvent struct {
	ID          string            `json:"id,omitempty"`
	RecipientID string            `json:"recipient_id"`
	Type        NotificationType  `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Read        bool              `json:"read"`
	CreatedAt   string            `json:"created_at,omitempty" format:"date-time"`
}

// Event is one row of the append-only audit log.
type Event struct {
	ID            int64  `json:"id"`
	TS            string `json:"ts" format:"date-time"`
	Type          string `json:"type"`
	InstitutionID string `json:"institution_id,omitempty"`
	EntityKind    string `json:"entity_kind"`
	EntityID      string `json:"entity_id,omitempty"`
	ActorID       string `json:"actor_id"`
	Payload       string `json:"payload_json"`
}
