package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var ErrNoSession = errors.New("no active session")

// LocalProvider is an in-process AuthProvider: the API server drives it
// directly on login/logout instead of calling out to an external identity
// backend. It holds at most one session and publishes every transition on
// its change feed.
type LocalProvider struct {
	mu      sync.Mutex
	session *Session
	ttl     time.Duration
	feed    *Feed
	nowFunc func() time.Time // mockable
}

var _ AuthProvider = (*LocalProvider)(nil)

func NewLocalProvider(ttl time.Duration) *LocalProvider {
	return &LocalProvider{
		ttl:     ttl,
		feed:    NewFeed(),
		nowFunc: time.Now,
	}
}

// SignIn replaces any current session with a fresh one for the identity.
func (p *LocalProvider) SignIn(identity Identity, accessToken string) *Session {
	sess := &Session{
		Identity:    identity,
		AccessToken: accessToken,
		ExpiresAt:   p.nowFunc().Add(p.ttl),
	}
	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()

	p.feed.Publish(Event{Type: SignedIn, Session: sess})
	return sess
}

func (p *LocalProvider) GetSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil && p.nowFunc().After(p.session.ExpiresAt) {
		p.session = nil
	}
	return p.session, nil
}

func (p *LocalProvider) RefreshSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.session == nil {
		p.mu.Unlock()
		return nil, ErrNoSession
	}
	sess := *p.session
	sess.ExpiresAt = p.nowFunc().Add(p.ttl)
	p.session = &sess
	p.mu.Unlock()

	p.feed.Publish(Event{Type: TokenRefreshed, Session: &sess})
	return &sess, nil
}

func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()

	p.feed.Publish(Event{Type: SignedOut})
	return nil
}

func (p *LocalProvider) Changes() *Subscription { return p.feed.Subscribe() }

func (p *LocalProvider) Close() { p.feed.Close() }
