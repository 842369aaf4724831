package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"taskdesk/internal/config"
	"taskdesk/internal/db"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("inst-1")
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.InitInstitution(ctx, "inst-1", "Test Institution", "system"); err != nil {
		t.Fatalf("init institution: %v", err)
	}
	for _, a := range []domain.Actor{
		{ID: "1", Name: "Ada", Role: domain.RoleAdmin, InstitutionID: "inst-1"},
		{ID: "2", Name: "Abe", Role: domain.RoleAdmin, InstitutionID: "inst-1"},
		{ID: "4", Name: "Tom", Role: domain.RoleTeam, InstitutionID: "inst-1"},
		{ID: "6", Name: "Gus", Role: domain.RoleGuest, InstitutionID: "inst-1"},
	} {
		if _, err := e.RegisterActor(ctx, a, "system"); err != nil {
			t.Fatalf("register actor %s: %v", a.ID, err)
		}
	}
	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-ID": id}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", res.StatusCode)
	}
}

func TestGuestCreateFlow(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Drone b-roll",
		"priority": "urgent",
	}, asActor("6"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d: %s", res.StatusCode, data)
	}
	var out TaskMutationResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Task.ReviewStatus != domain.ReviewPending {
		t.Errorf("review_status = %s, want pending", out.Task.ReviewStatus)
	}
	if out.Task.Priority != domain.PriorityMedium {
		t.Errorf("priority = %s, want medium (guest input ignored)", out.Task.Priority)
	}
	if len(out.Notifications) != 2 {
		t.Errorf("notifications = %d, want one per admin", len(out.Notifications))
	}

	// Both admins see the fan-out in their inbox.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/notifications?unread=true", nil, asActor("1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("inbox status = %d: %s", res.StatusCode, data)
	}
	var inbox NotificationListResponse
	if err := json.Unmarshal(data, &inbox); err != nil {
		t.Fatalf("unmarshal inbox: %v", err)
	}
	if len(inbox.Notifications) != 1 || inbox.Notifications[0].Type != domain.NotifyGuestTaskCreated {
		t.Fatalf("inbox = %+v", inbox.Notifications)
	}
}

func TestGuestPriorityUpdateForbidden(t *testing.T) {
	srv := newTestServer(t)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "mine"}, asActor("6"))
	var created TaskMutationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+created.Task.ID, map[string]any{
		"priority": "high",
	}, asActor("6"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403: %s", res.StatusCode, data)
	}
}

func TestStatusTransitionOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Edit footage"}, asActor("4"))
	var created TaskMutationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	id := created.Task.ID

	// todo -> done skips states; forbidden for team.
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+id, map[string]any{"status": "done"}, asActor("4"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("todo->done status = %d, want 403: %s", res.StatusCode, data)
	}

	for _, step := range []string{"in_progress", "review", "done"} {
		res, data = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+id, map[string]any{"status": step}, asActor("4"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("to %s status = %d: %s", step, res.StatusCode, data)
		}
	}

	// Out of done only for admins.
	res, _ = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+id, map[string]any{"status": "todo"}, asActor("4"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("done->todo as team = %d, want 403", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/tasks/"+id, map[string]any{"status": "todo"}, asActor("1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("done->todo as admin = %d, want 200", res.StatusCode)
	}
}

func TestReviewEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Needs sign-off"}, asActor("6"))
	var created TaskMutationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Team members cannot decide reviews.
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.Task.ID+"/review", map[string]any{"decision": "approved"}, asActor("4"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("team review = %d, want 403", res.StatusCode)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.Task.ID+"/review", map[string]any{"decision": "approved"}, asActor("1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin review = %d: %s", res.StatusCode, data)
	}
	var decided TaskMutationResponse
	if err := json.Unmarshal(data, &decided); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decided.Task.ReviewStatus != domain.ReviewApproved {
		t.Errorf("review_status = %s", decided.Task.ReviewStatus)
	}
	if len(decided.Notifications) != 1 || decided.Notifications[0].RecipientID != "6" {
		t.Errorf("notifications = %+v", decided.Notifications)
	}
}

func TestJWTAuth(t *testing.T) {
	srv := newTestServer(t)
	token, err := IssueToken("test-secret", domain.Actor{ID: "9", Name: "Jo", Role: domain.RoleTeam, InstitutionID: "inst-1"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d: %s", res.StatusCode, data)
	}
	var me domain.Actor
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if me.ID != "9" || me.Role != domain.RoleTeam {
		t.Errorf("me = %+v", me)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", res.StatusCode)
	}
}

func TestPermissionsPreflight(t *testing.T) {
	srv := newTestServer(t)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Check perms"}, asActor("4"))
	var created TaskMutationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/"+created.Task.ID+"/permissions", nil, asActor("6"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("permissions status = %d: %s", res.StatusCode, data)
	}
	var perms TaskPermissionsResponse
	if err := json.Unmarshal(data, &perms); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if perms.CanModify || perms.CanSetPriorityOrAssignment || perms.CanSetReviewStatus {
		t.Errorf("guest perms = %+v", perms)
	}
	if len(perms.AllowedStatusTransitions) != 0 {
		t.Errorf("guest transitions = %v", perms.AllowedStatusTransitions)
	}
}

func TestUnknownTask(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/nope", nil, asActor("1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.StatusCode)
	}
}
