// Package policy holds the pure authorization predicates for task mutations.
// Every function is a deterministic decision over in-memory values: no I/O,
// no errors, safe to call from any goroutine.
package policy

import "taskdesk/internal/domain"

// IsAdmin reports whether the actor holds the admin role.
func IsAdmin(actor domain.Actor) bool {
	return actor.Role == domain.RoleAdmin
}

// CanModifyEntity reports whether the actor may edit or delete an entity
// created by creatorID: owners and admins may, everyone else may not.
func CanModifyEntity(actor domain.Actor, creatorID string) bool {
	return actor.ID == creatorID || IsAdmin(actor)
}

// CanSetPriorityOrAssignment reports whether the actor may set a task's
// priority or assignee. Guests never can.
func CanSetPriorityOrAssignment(actor domain.Actor) bool {
	return actor.Role != domain.RoleGuest
}

// CanSetReviewStatus reports whether the actor may change the review gate.
// Only admins decide reviews.
func CanSetReviewStatus(actor domain.Actor) bool {
	return IsAdmin(actor)
}

// teamTransitions is the full set of status moves a team member may make.
// Everything out of done is admin-only.
var teamTransitions = map[[2]domain.Status]bool{
	{domain.StatusTodo, domain.StatusInProgress}:   true,
	{domain.StatusInProgress, domain.StatusReview}: true,
	{domain.StatusInProgress, domain.StatusTodo}:   true,
	{domain.StatusReview, domain.StatusDone}:       true,
	{domain.StatusReview, domain.StatusInProgress}: true,
}

// CanTransitionStatus reports whether the actor may move a task from current
// to next. Admins may make any move, team members only the adjacent moves in
// the workflow, guests none at all.
func CanTransitionStatus(actor domain.Actor, current, next domain.Status) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleTeam:
		return teamTransitions[[2]domain.Status{current, next}]
	default:
		return false
	}
}
