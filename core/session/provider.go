package session

import (
	"context"
	"time"
)

// Identity is the immutable projection of an authenticated principal,
// as issued by the auth provider.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a read-only projection of the provider's session object.
// It is replaced wholesale on refresh and cleared on sign-out.
type Session struct {
	Identity    Identity  `json:"identity"`
	AccessToken string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *Session) HasUser() bool {
	return s != nil && s.Identity.ID != ""
}

// AuthProvider is the external authentication backend the Manager drives.
// GetSession returns (nil, nil) when no session exists.
type AuthProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	// Changes returns the provider's session-change feed. It fires on
	// sign-in, sign-out, refresh and token rotation.
	Changes() *Subscription
}
