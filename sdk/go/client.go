package taskdesksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskdesk HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string // legacy header auth, used when BearerToken is empty
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID            string  `json:"id"`
	InstitutionID string  `json:"institution_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	AssignedToID  *string `json:"assigned_to_id,omitempty"`
	CreatedByID   string  `json:"created_by_id"`
	DueDate       *string `json:"due_date,omitempty"`
	ReviewStatus  string  `json:"review_status"`
	Version       int64   `json:"version"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// Notification represents a delivered notification event.
type Notification struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipient_id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Read        bool              `json:"read"`
	CreatedAt   string            `json:"created_at"`
}

// Actor represents a roster entry.
type Actor struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role"`
	InstitutionID string `json:"institution_id"`
}

// TaskMutation is the response of create, update, and review calls.
type TaskMutation struct {
	Task          Task           `json:"task"`
	Notifications []Notification `json:"notifications"`
}

// Permissions describes what the caller may do to a task.
type Permissions struct {
	CanModify                  bool     `json:"can_modify"`
	CanSetPriorityOrAssignment bool     `json:"can_set_priority_or_assignment"`
	CanSetReviewStatus         bool     `json:"can_set_review_status"`
	AllowedStatusTransitions   []string `json:"allowed_status_transitions"`
}

// CreateTaskInput carries the fields of a create call.
type CreateTaskInput struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Priority     *string `json:"priority,omitempty"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
}

// UpdateTaskInput is a sparse delta; nil fields are untouched. An empty
// string for AssignedToID or DueDate clears the field.
type UpdateTaskInput struct {
	Title        *string `json:"title,omitempty"`
	Description  *string `json:"description,omitempty"`
	DueDate      *string `json:"due_date,omitempty"`
	Priority     *string `json:"priority,omitempty"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	Status       *string `json:"status,omitempty"`
	ReviewStatus *string `json:"review_status,omitempty"`
}

// TaskFilter narrows a list call. Zero values are not sent.
type TaskFilter struct {
	Status       string
	ReviewStatus string
	AssignedTo   string
	CreatedBy    string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (TaskMutation, error) {
	var resp TaskMutation
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// ListTasks returns the caller's institution tasks matching the filter.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", filter.Status)
	}
	if filter.ReviewStatus != "" {
		q.Set("review_status", filter.ReviewStatus)
	}
	if filter.AssignedTo != "" {
		q.Set("assigned_to", filter.AssignedTo)
	}
	if filter.CreatedBy != "" {
		q.Set("created_by", filter.CreatedBy)
	}
	endpoint := "tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Tasks, err
}

// UpdateTask applies a sparse delta to a task.
func (c *Client) UpdateTask(ctx context.Context, taskID string, in UpdateTaskInput) (TaskMutation, error) {
	var resp TaskMutation
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(taskID), in, &resp)
	return resp, err
}

// ReviewTask records an approved or rejected decision on a task.
func (c *Client) ReviewTask(ctx context.Context, taskID, decision string) (TaskMutation, error) {
	body := map[string]string{"decision": decision}
	var resp TaskMutation
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/review", body, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(taskID), nil, nil)
}

// TaskPermissions returns what the caller may do to a task.
func (c *Client) TaskPermissions(ctx context.Context, taskID string) (Permissions, error) {
	var resp Permissions
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/permissions", nil, &resp)
	return resp, err
}

// Notifications returns the caller's notifications, optionally unread only.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp struct {
		Notifications []Notification `json:"notifications"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Notifications, err
}

// MarkNotificationRead marks one of the caller's notifications as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// Me returns the authenticated actor.
func (c *Client) Me(ctx context.Context) (Actor, error) {
	var resp Actor
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Actors lists the caller's institution roster.
func (c *Client) Actors(ctx context.Context) ([]Actor, error) {
	var resp struct {
		Actors []Actor `json:"actors"`
	}
	err := c.do(ctx, http.MethodGet, "actors", nil, &resp)
	return resp.Actors, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-ID", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
