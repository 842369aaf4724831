package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
	"taskdesk/internal/repo"
	"taskdesk/internal/workflow"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Admin  domain.Actor
	Team   domain.Actor
	Guest  domain.Actor
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("inst-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitInstitution(ctx, "inst-1", "Test Institution", "system"); err != nil {
		t.Fatalf("init institution: %v", err)
	}
	env := testEnv{
		Engine: eng,
		Ctx:    ctx,
		Admin:  domain.Actor{ID: "1", Name: "Ada", Role: domain.RoleAdmin, InstitutionID: "inst-1"},
		Team:   domain.Actor{ID: "4", Name: "Tom", Role: domain.RoleTeam, InstitutionID: "inst-1"},
		Guest:  domain.Actor{ID: "6", Name: "Gus", Role: domain.RoleGuest, InstitutionID: "inst-1"},
	}
	second := domain.Actor{ID: "2", Name: "Abe", Role: domain.RoleAdmin, InstitutionID: "inst-1"}
	for _, a := range []domain.Actor{env.Admin, second, env.Team, env.Guest} {
		if _, err := eng.RegisterActor(ctx, a, "system"); err != nil {
			t.Fatalf("register actor %s: %v", a.ID, err)
		}
	}
	return env
}

func TestGuestCreatePersistsPendingAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateTask(env.Ctx, env.Guest, workflow.CreateInput{Title: "Drone b-roll"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := env.Engine.Repo.GetTask(env.Ctx, res.Task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.ReviewStatus != domain.ReviewPending || stored.Priority != domain.PriorityMedium {
		t.Errorf("stored task = %+v", stored)
	}
	if len(res.Notifications) != 2 {
		t.Fatalf("notifications = %d, want 2 (one per admin)", len(res.Notifications))
	}
	for _, adminID := range []string{"1", "2"} {
		list, err := env.Engine.Repo.ListNotifications(env.Ctx, adminID, true)
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		if len(list) != 1 || list[0].Type != domain.NotifyGuestTaskCreated {
			t.Errorf("admin %s inbox = %+v", adminID, list)
		}
	}
}

func TestUpdatePersistsAndBumpsVersion(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.CreateTask(env.Ctx, env.Team, workflow.CreateInput{Title: "Edit footage"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	status := domain.StatusInProgress
	res, err := env.Engine.UpdateTask(env.Ctx, env.Team, created.Task.ID, workflow.Delta{Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Task.Status != domain.StatusInProgress || res.Task.Version != created.Task.Version+1 {
		t.Errorf("updated task = %+v", res.Task)
	}
	stored, _ := env.Engine.Repo.GetTask(env.Ctx, created.Task.ID)
	if stored.Version != res.Task.Version {
		t.Errorf("stored version %d != returned %d", stored.Version, res.Task.Version)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	title := "x"
	_, err := env.Engine.UpdateTask(env.Ctx, env.Admin, "missing", workflow.Delta{Title: &title})
	if !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReviewDecisionStoresCreatorNotification(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.CreateTask(env.Ctx, env.Guest, workflow.CreateInput{Title: "Needs approval"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	decision := domain.ReviewApproved
	res, err := env.Engine.UpdateTask(env.Ctx, env.Admin, created.Task.ID, workflow.Delta{ReviewStatus: &decision})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(res.Notifications) != 1 || res.Notifications[0].RecipientID != env.Guest.ID {
		t.Fatalf("notifications = %+v", res.Notifications)
	}
	inbox, err := env.Engine.Repo.ListNotifications(env.Ctx, env.Guest.ID, false)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != domain.NotifyTaskReviewDecided {
		t.Fatalf("inbox = %+v", inbox)
	}
	if err := env.Engine.Repo.MarkNotificationRead(env.Ctx, inbox[0].ID, env.Guest.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, _ := env.Engine.Repo.ListNotifications(env.Ctx, env.Guest.ID, true)
	if len(unread) != 0 {
		t.Errorf("expected empty unread inbox, got %+v", unread)
	}
}

func TestVersionConflictDetected(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.CreateTask(env.Ctx, env.Team, workflow.CreateInput{Title: "Contended"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	task := created.Task
	task.Title = "stale write"
	task.UpdatedAt = "2024-03-02T00:00:00Z"

	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	// A write against an old version must not apply.
	if _, err := env.Engine.Repo.UpdateTask(env.Ctx, tx, task, task.Version-1); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteRemovesTaskAndLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	created, err := env.Engine.CreateTask(env.Ctx, env.Guest, workflow.CreateInput{Title: "Short lived"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Non-owner team member may not delete.
	if err := env.Engine.DeleteTask(env.Ctx, env.Team, created.Task.ID); err == nil {
		t.Fatalf("expected forbidden delete")
	}
	if err := env.Engine.DeleteTask(env.Ctx, env.Admin, created.Task.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, created.Task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task gone, got %v", err)
	}
	evts, err := env.Engine.Repo.ListEvents(env.Ctx, "inst-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	found := false
	for _, evt := range evts {
		if evt.Type == "task.deleted" && evt.EntityID == created.Task.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("task.deleted event missing from %+v", evts)
	}
}
