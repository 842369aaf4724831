package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict signals a lost-update race: the task changed between the read
// that fed the workflow and the write of its result. Callers re-read and
// re-evaluate.
var ErrConflict = errors.New("version conflict")

const taskColumns = `id,institution_id,title,COALESCE(description,'') AS description,status,priority,assigned_to_id,created_by_id,due_date,review_status,version,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var assigned, due sql.NullString
	err := row.Scan(&t.ID, &t.InstitutionID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&assigned, &t.CreatedByID, &due, &t.ReviewStatus, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assigned.Valid {
		t.AssignedToID = &assigned.String
	}
	if due.Valid {
		t.DueDate = &due.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,institution_id,title,description,status,priority,assigned_to_id,created_by_id,due_date,review_status,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.InstitutionID, t.Title, nullable(t.Description), t.Status, t.Priority,
		nullablePtr(t.AssignedToID), t.CreatedByID, nullablePtr(t.DueDate), t.ReviewStatus,
		t.Version, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// UpdateTask overwrites the stored task if and only if its version still
// matches expectedVersion, bumping the version by one. ErrConflict reports a
// concurrent writer won the race.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task, expectedVersion int64) (domain.Task, error) {
	t.Version = expectedVersion + 1
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,status=?,priority=?,assigned_to_id=?,due_date=?,review_status=?,version=?,updated_at=? WHERE id=? AND version=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, nullablePtr(t.AssignedToID),
		nullablePtr(t.DueDate), t.ReviewStatus, t.Version, t.UpdatedAt, t.ID, expectedVersion)
	if err != nil {
		return t, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return t, err
	}
	if affected == 0 {
		if _, err := r.getTaskTx(ctx, tx, t.ID); errors.Is(err, ErrNotFound) {
			return t, ErrNotFound
		}
		return t, ErrConflict
	}
	return t, nil
}

func (r Repo) getTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TaskFilter narrows ListTasks. Zero values mean "no constraint".
type TaskFilter struct {
	InstitutionID string
	Status        domain.Status
	ReviewStatus  domain.ReviewStatus
	AssignedToID  string
	CreatedByID   string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var (
		conds []string
		args  []any
	)
	if f.InstitutionID != "" {
		conds = append(conds, "institution_id=?")
		args = append(args, f.InstitutionID)
	}
	if f.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, f.Status)
	}
	if f.ReviewStatus != "" {
		conds = append(conds, "review_status=?")
		args = append(args, f.ReviewStatus)
	}
	if f.AssignedToID != "" {
		conds = append(conds, "assigned_to_id=?")
		args = append(args, f.AssignedToID)
	}
	if f.CreatedByID != "" {
		conds = append(conds, "created_by_id=?")
		args = append(args, f.CreatedByID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r Repo) ListEvents(ctx context.Context, institutionID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(institution_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
FROM events WHERE institution_id=? ORDER BY id DESC LIMIT ?`, institutionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.InstitutionID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func wrapNotFound(err error, what, id string) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return err
}
