package app

import (
	"context"
	"errors"
	"fmt"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/repo"
)

// ResolveInstitution picks the active institution and ensures it exists in
// the database, seeding it from config if missing. It prefers the override,
// then the configured institution.
func ResolveInstitution(ctx context.Context, e engine.Engine, cfg *config.Config, override, actorID string) (domain.Institution, error) {
	institutionID := override
	if institutionID == "" && cfg != nil {
		institutionID = cfg.Institution.ID
	}
	if institutionID == "" {
		return domain.Institution{}, fmt.Errorf("institution not specified; use --institution or taskdesk.yml")
	}
	inst, err := e.Repo.GetInstitution(ctx, institutionID)
	if err == nil {
		return inst, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Institution{}, err
	}
	name := institutionID
	if cfg != nil && cfg.Institution.ID == institutionID && cfg.Institution.Name != "" {
		name = cfg.Institution.Name
	}
	return e.InitInstitution(ctx, institutionID, name, actorID)
}

// EnsureBootstrapAdmin guarantees at least one admin exists so guest
// submissions have somewhere to fan out. No-op when the roster already has
// one.
func EnsureBootstrapAdmin(ctx context.Context, e engine.Engine, institutionID, actorID, actorName string) (domain.Actor, error) {
	admins, err := e.Repo.ListAdmins(ctx, institutionID)
	if err != nil {
		return domain.Actor{}, err
	}
	if len(admins) > 0 {
		return admins[0], nil
	}
	if actorID == "" {
		actorID = "local-admin"
	}
	return e.RegisterActor(ctx, domain.Actor{
		ID:            actorID,
		Name:          actorName,
		Role:          domain.RoleAdmin,
		InstitutionID: institutionID,
	}, actorID)
}
