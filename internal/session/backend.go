// Package session owns the current identity and its profile, reconciling the
// startup identity query, pushed identity-change events and profile fetches.
package session

import (
	"context"
	"errors"
)

// ErrNoSession is the distinguished "no active session" condition. It means
// "nobody is signed in" and is never treated as a fault.
var ErrNoSession = errors.New("session: no active session")

// IsNoSession classifies err as the no-session condition.
func IsNoSession(err error) bool {
	return errors.Is(err, ErrNoSession)
}

// ChangeKind names the reason an identity-change event was emitted.
type ChangeKind string

const (
	ChangeSignedIn       ChangeKind = "signed_in"
	ChangeSignedOut      ChangeKind = "signed_out"
	ChangeTokenRefreshed ChangeKind = "token_refreshed"
	ChangeUserUpdated    ChangeKind = "user_updated"
)

// IdentityChange is one pushed identity event. A nil Identity means signed out.
type IdentityChange struct {
	Kind     ChangeKind
	Identity *Identity
}

// Subscription is a registered identity-change listener.
type Subscription interface {
	Unsubscribe()
}

// Backend is the remote identity and profile service. Any call may fail with a
// generic error or with ErrNoSession.
type Backend interface {
	CurrentIdentity(ctx context.Context) (*Identity, error)
	OnIdentityChange(callback func(IdentityChange)) Subscription
	// GetProfile returns (nil, nil) when the identity has no profile record yet.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, userID string, fields ProfileFields) (Profile, error)
	SignOut(ctx context.Context) error
}
