package domain

import (
	"context"
	"errors"

	"github.com/shortyai/creditdesk/internal/liveevents"
)

type EnsureRequest struct {
	UID   string
	Name  string
	Email string
}

type SetRoleRequest struct {
	UID  string
	Role string
}

type Service interface {
	// Ensure creates the profile on first sign-in and never overwrites an existing one.
	Ensure(context.Context, EnsureRequest) (Profile, bool, error)
	Get(ctx context.Context, uid string) (Profile, error)
	// Watch subscribes before reading, so no change between snapshot and stream is lost.
	Watch(ctx context.Context, uid string) (*liveevents.Subscription, Profile, error)
	SetRole(context.Context, SetRoleRequest) (Profile, error)
	// Notify republishes the stored profile after an out-of-band change.
	Notify(ctx context.Context, uid string) error
}

var (
	ErrInvalidUID  = errors.New("invalid_uid")
	ErrInvalidRole = errors.New("invalid_role")
	ErrNotFound    = errors.New("profile_not_found")
)
