package workflow_test

import (
	"errors"
	"testing"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/workflow"
)

var (
	admin = domain.Actor{ID: "1", Name: "Ada", Role: domain.RoleAdmin, InstitutionID: "inst-1"}
	team  = domain.Actor{ID: "4", Name: "Tom", Role: domain.RoleTeam, InstitutionID: "inst-1"}
	guest = domain.Actor{ID: "6", Name: "Gus", Role: domain.RoleGuest, InstitutionID: "inst-1"}
)

func newWorkflow() workflow.Workflow {
	w := workflow.New()
	w.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return w
}

func strPtr(s string) *string { return &s }

func statusPtr(s domain.Status) *domain.Status { return &s }

func prioPtr(p domain.Priority) *domain.Priority { return &p }

func reviewPtr(r domain.ReviewStatus) *domain.ReviewStatus { return &r }

func mustCreate(t *testing.T, w workflow.Workflow, actor domain.Actor, in workflow.CreateInput, admins []domain.Actor) workflow.Result {
	t.Helper()
	res, err := w.CreateTask(actor, in, admins)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return res
}

func TestCreateRequiresTitle(t *testing.T) {
	w := newWorkflow()
	_, err := w.CreateTask(team, workflow.CreateInput{}, nil)
	var ve workflow.ValidationError
	if !errors.As(err, &ve) || ve.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}
}

func TestGuestCreateForcesDefaults(t *testing.T) {
	w := newWorkflow()
	assignee := "4"
	res := mustCreate(t, w, guest, workflow.CreateInput{
		Title:        "Drone b-roll",
		Priority:     domain.PriorityUrgent,
		AssignedToID: &assignee,
	}, []domain.Actor{{ID: "1"}, {ID: "2"}})

	task := res.Task
	if task.ReviewStatus != domain.ReviewPending {
		t.Errorf("review status = %s, want pending", task.ReviewStatus)
	}
	if task.Priority != domain.PriorityMedium {
		t.Errorf("priority = %s, want medium", task.Priority)
	}
	if task.AssignedToID != nil {
		t.Errorf("assignee = %v, want nil", *task.AssignedToID)
	}
	if len(res.Notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(res.Notifications))
	}
	for i, recipient := range []string{"1", "2"} {
		n := res.Notifications[i]
		if n.RecipientID != recipient || n.Type != domain.NotifyGuestTaskCreated {
			t.Errorf("notification %d = %s/%s", i, n.RecipientID, n.Type)
		}
		if n.Metadata["task_id"] != task.ID || n.Metadata["guest_id"] != guest.ID {
			t.Errorf("notification %d metadata = %v", i, n.Metadata)
		}
	}
}

func TestTeamAndAdminCreateApproved(t *testing.T) {
	w := newWorkflow()
	for _, actor := range []domain.Actor{team, admin} {
		res := mustCreate(t, w, actor, workflow.CreateInput{Title: "Plan sprint"}, nil)
		if res.Task.ReviewStatus != domain.ReviewApproved {
			t.Errorf("%s create: review status = %s, want approved", actor.Role, res.Task.ReviewStatus)
		}
		if res.Task.Status != domain.StatusTodo {
			t.Errorf("%s create: status = %s, want todo", actor.Role, res.Task.Status)
		}
		if len(res.Notifications) != 0 {
			t.Errorf("%s create: expected no notifications", actor.Role)
		}
	}
}

func TestCreateRejectsForeignInstitution(t *testing.T) {
	w := newWorkflow()
	_, err := w.CreateTask(team, workflow.CreateInput{Title: "x", InstitutionID: "inst-2"}, nil)
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func existingTask(creator domain.Actor, status domain.Status) domain.Task {
	return domain.Task{
		ID:            "task-1",
		InstitutionID: "inst-1",
		Title:         "Edit footage",
		Status:        status,
		Priority:      domain.PriorityMedium,
		CreatedByID:   creator.ID,
		ReviewStatus:  domain.ReviewApproved,
		Version:       1,
		CreatedAt:     "2024-02-01T00:00:00Z",
		UpdatedAt:     "2024-02-01T00:00:00Z",
	}
}

func TestUpdateNilTask(t *testing.T) {
	w := newWorkflow()
	if _, err := w.UpdateTask(admin, nil, workflow.Delta{}); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateForeignInstitutionInvisible(t *testing.T) {
	w := newWorkflow()
	task := existingTask(admin, domain.StatusTodo)
	task.InstitutionID = "inst-2"
	if _, err := w.UpdateTask(admin, &task, workflow.Delta{Title: strPtr("x")}); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found for foreign institution, got %v", err)
	}
	if err := w.DeleteTask(admin, &task); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found for foreign delete, got %v", err)
	}
}

func TestUpdateOwnerGate(t *testing.T) {
	w := newWorkflow()
	task := existingTask(admin, domain.StatusTodo)
	_, err := w.UpdateTask(team, &task, workflow.Delta{Title: strPtr("renamed")})
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) || fe.Rule != workflow.RuleModifyEntity {
		t.Fatalf("expected modify_entity forbidden, got %v", err)
	}
}

func TestGuestPriorityUpdateForbidden(t *testing.T) {
	w := newWorkflow()
	task := existingTask(guest, domain.StatusTodo)
	_, err := w.UpdateTask(guest, &task, workflow.Delta{
		Title:    strPtr("renamed"),
		Priority: prioPtr(domain.PriorityHigh),
	})
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) || fe.Rule != workflow.RuleSetPriorityOrAssignment {
		t.Fatalf("expected priority forbidden, got %v", err)
	}
}

func TestStatusTransitionGates(t *testing.T) {
	w := newWorkflow()

	// review -> done is a legal team move.
	task := existingTask(team, domain.StatusReview)
	res, err := w.UpdateTask(team, &task, workflow.Delta{Status: statusPtr(domain.StatusDone)})
	if err != nil {
		t.Fatalf("review->done as team: %v", err)
	}
	if res.Task.Status != domain.StatusDone {
		t.Errorf("status = %s, want done", res.Task.Status)
	}

	// todo -> done skips a state; forbidden for team.
	task = existingTask(team, domain.StatusTodo)
	_, err = w.UpdateTask(team, &task, workflow.Delta{Status: statusPtr(domain.StatusDone)})
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) || fe.Rule != workflow.RuleTransitionStatus {
		t.Fatalf("todo->done as team: expected transition forbidden, got %v", err)
	}

	// done -> todo: forbidden for team, fine for admin.
	task = existingTask(team, domain.StatusDone)
	if _, err = w.UpdateTask(team, &task, workflow.Delta{Status: statusPtr(domain.StatusTodo)}); err == nil {
		t.Fatalf("done->todo as team should be forbidden")
	}
	task = existingTask(admin, domain.StatusDone)
	res, err = w.UpdateTask(admin, &task, workflow.Delta{Status: statusPtr(domain.StatusTodo)})
	if err != nil || res.Task.Status != domain.StatusTodo {
		t.Fatalf("done->todo as admin: %v", err)
	}
}

func TestReviewStatusGate(t *testing.T) {
	w := newWorkflow()
	task := existingTask(team, domain.StatusTodo)
	task.ReviewStatus = domain.ReviewPending

	// Invalid enum value is a validation error even for non-admins.
	bogus := domain.ReviewStatus("maybe")
	_, err := w.UpdateTask(team, &task, workflow.Delta{ReviewStatus: &bogus})
	var ve workflow.ValidationError
	if !errors.As(err, &ve) || ve.Field != "review_status" {
		t.Fatalf("expected review_status validation error, got %v", err)
	}

	// Valid value, wrong role.
	_, err = w.UpdateTask(team, &task, workflow.Delta{ReviewStatus: reviewPtr(domain.ReviewApproved)})
	var fe workflow.ForbiddenError
	if !errors.As(err, &fe) || fe.Rule != workflow.RuleSetReviewStatus {
		t.Fatalf("expected review forbidden, got %v", err)
	}
}

func TestReviewDecisionNotifiesCreator(t *testing.T) {
	w := newWorkflow()
	task := existingTask(domain.Actor{ID: "7"}, domain.StatusTodo)
	task.ReviewStatus = domain.ReviewPending

	res, err := w.UpdateTask(admin, &task, workflow.Delta{ReviewStatus: reviewPtr(domain.ReviewApproved)})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(res.Notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(res.Notifications))
	}
	n := res.Notifications[0]
	if n.RecipientID != "7" || n.Type != domain.NotifyTaskReviewDecided {
		t.Errorf("notification = %s/%s", n.RecipientID, n.Type)
	}
	if n.Metadata["decision"] != "approved" {
		t.Errorf("decision metadata = %q", n.Metadata["decision"])
	}

	// Re-approving an approved task is not a decision.
	approved := res.Task
	res, err = w.UpdateTask(admin, &approved, workflow.Delta{ReviewStatus: reviewPtr(domain.ReviewApproved)})
	if err != nil || len(res.Notifications) != 0 {
		t.Fatalf("re-approve: err=%v notifications=%d", err, len(res.Notifications))
	}
}

func TestNoopDeltaIdempotent(t *testing.T) {
	w := newWorkflow()
	task := existingTask(team, domain.StatusInProgress)
	res, err := w.UpdateTask(team, &task, workflow.Delta{
		Title:       strPtr(task.Title),
		Description: strPtr(task.Description),
		Priority:    prioPtr(task.Priority),
	})
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if len(res.Notifications) != 0 {
		t.Errorf("no-op update produced notifications")
	}
	want := task
	want.UpdatedAt = res.Task.UpdatedAt
	if res.Task != want {
		t.Errorf("no-op update changed more than updated_at:\n got %+v\nwant %+v", res.Task, want)
	}
}

func TestCreateThenEmptyUpdateRoundTrip(t *testing.T) {
	w := newWorkflow()
	created := mustCreate(t, w, team, workflow.CreateInput{Title: "Round trip"}, nil).Task
	res, err := w.UpdateTask(team, &created, workflow.Delta{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	want := created
	want.UpdatedAt = res.Task.UpdatedAt
	if res.Task != want {
		t.Errorf("empty update drifted:\n got %+v\nwant %+v", res.Task, want)
	}
}

func TestClearAssigneeAndDueDate(t *testing.T) {
	w := newWorkflow()
	task := existingTask(team, domain.StatusTodo)
	assignee := "4"
	due := "2024-04-01T00:00:00Z"
	task.AssignedToID = &assignee
	task.DueDate = &due

	res, err := w.UpdateTask(team, &task, workflow.Delta{
		AssignedToID: strPtr(""),
		DueDate:      strPtr(""),
	})
	if err != nil {
		t.Fatalf("clear fields: %v", err)
	}
	if res.Task.AssignedToID != nil || res.Task.DueDate != nil {
		t.Errorf("expected cleared assignee and due date, got %+v", res.Task)
	}
}

func TestDeleteGate(t *testing.T) {
	w := newWorkflow()
	if err := w.DeleteTask(admin, nil); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task := existingTask(guest, domain.StatusTodo)
	if err := w.DeleteTask(guest, &task); err != nil {
		t.Errorf("creator delete: %v", err)
	}
	if err := w.DeleteTask(admin, &task); err != nil {
		t.Errorf("admin delete: %v", err)
	}
	var fe workflow.ForbiddenError
	if err := w.DeleteTask(team, &task); !errors.As(err, &fe) {
		t.Errorf("non-owner delete should be forbidden, got %v", err)
	}
}
