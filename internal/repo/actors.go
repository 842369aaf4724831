package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func (r Repo) InsertInstitution(ctx context.Context, tx *sql.Tx, inst domain.Institution) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO institutions(id,name,created_at) VALUES (?,?,?)`,
		inst.ID, inst.Name, inst.CreatedAt)
	return err
}

func (r Repo) GetInstitution(ctx context.Context, id string) (domain.Institution, error) {
	var inst domain.Institution
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM institutions WHERE id=?`, id).
		Scan(&inst.ID, &inst.Name, &inst.CreatedAt)
	if err == sql.ErrNoRows {
		return inst, wrapNotFound(ErrNotFound, "institution", id)
	}
	return inst, err
}

func (r Repo) UpsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO actors(id,name,role,institution_id,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`,
		a.ID, nullable(a.Name), a.Role, a.InstitutionID, a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	err := r.DB.QueryRowContext(ctx, `SELECT id,COALESCE(name,''),role,institution_id,created_at FROM actors WHERE id=?`, id).
		Scan(&a.ID, &a.Name, &a.Role, &a.InstitutionID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, wrapNotFound(ErrNotFound, "actor", id)
	}
	return a, err
}

func (r Repo) ListActors(ctx context.Context, institutionID string) ([]domain.Actor, error) {
	return r.listActors(ctx, `SELECT id,COALESCE(name,''),role,institution_id,created_at FROM actors WHERE institution_id=? ORDER BY created_at, id`, institutionID)
}

// ListAdmins returns the admin roster for an institution, the fan-out targets
// for guest task submissions.
func (r Repo) ListAdmins(ctx context.Context, institutionID string) ([]domain.Actor, error) {
	return r.listActors(ctx, `SELECT id,COALESCE(name,''),role,institution_id,created_at FROM actors WHERE institution_id=? AND role='admin' ORDER BY created_at, id`, institutionID)
}

func (r Repo) listActors(ctx context.Context, query string, args ...any) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Actor
	for rows.Next() {
		var a domain.Actor
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.InstitutionID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
