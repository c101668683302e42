package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	ActorStaff  = "staff"
	ActorSystem = "system"

	RoleAdmin  = "admin"
	RoleStaff  = "staff"
	RoleSystem = "system"
)

// Actor is an authenticated caller. ID is stable per credential and never
// the credential itself.
type Actor struct {
	Type string
	ID   string
	Role string
}

// Subject is the casbin subject for the actor.
func (a Actor) Subject() string {
	return a.Type + ":" + a.ID
}

// System is the actor used by background jobs.
func System() Actor {
	return Actor{Type: ActorSystem, ID: "scheduler", Role: RoleSystem}
}

type Service interface {
	Authorize(ctx context.Context, actor Actor, object string, action string) error
}
