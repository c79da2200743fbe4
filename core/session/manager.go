package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/iteamsociety/iteam/core"
)

// Status is the Manager's lifecycle state.
type Status string

const (
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
)

// State is a snapshot of the session lifecycle.
type State struct {
	Status     Status   `json:"status"`
	Session    *Session `json:"session,omitempty"`
	Role       string   `json:"role,omitempty"`
	RoleSource Source   `json:"role_source,omitempty"`
}

// Manager owns the session lifecycle: it bootstraps the current session from
// the provider (racing an internal timeout), subscribes to the provider's
// session-change feed, drives the Resolver, and guards against stuck loading
// states with a watchdog. All state mutations are gated on a liveness flag so
// nothing moves after Close.
type Manager struct {
	provider AuthProvider
	resolver *Resolver
	logger   core.Logger

	bootstrapTimeout time.Duration
	watchdogTimeout  time.Duration

	feed        *Feed // manager's own state-change notifications
	providerSub *Subscription
	watchdog    *time.Timer

	settled     chan struct{}
	settledOnce sync.Once

	mu    sync.Mutex
	state State
	alive bool
}

type ManagerDeps struct {
	Provider AuthProvider
	Resolver *Resolver
	Logger   core.Logger

	BootstrapTimeout time.Duration // substitute "no session" if GetSession hangs
	WatchdogTimeout  time.Duration // force Loading exit no matter what
}

func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		provider:         deps.Provider,
		resolver:         deps.Resolver,
		logger:           deps.Logger,
		bootstrapTimeout: deps.BootstrapTimeout,
		watchdogTimeout:  deps.WatchdogTimeout,
		feed:             NewFeed(),
		settled:          make(chan struct{}),
		state:            State{Status: StatusLoading},
		alive:            true,
	}
}

// Start enters Loading and kicks off the two concurrent races: the provider
// feed subscription and the timeout-guarded session bootstrap.
func (m *Manager) Start() {
	m.providerSub = m.provider.Changes()

	go m.forwardEvents()
	go m.bootstrap()

	m.watchdog = time.AfterFunc(m.watchdogTimeout, m.forceSettle)
}

// Close flips the liveness flag, clears pending timers and detaches from the
// provider feed. In-flight calls are not aborted; their results are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	m.alive = false
	m.mu.Unlock()

	if m.watchdog != nil {
		m.watchdog.Stop()
	}
	if m.providerSub != nil {
		m.providerSub.Unsubscribe()
	}
	m.feed.Close()
}

// State returns the current lifecycle snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Changes returns the manager's state-change feed.
func (m *Manager) Changes() *Subscription {
	return m.feed.Subscribe()
}

// WaitSettled blocks until the manager first leaves Loading, or ctx expires.
// Reports whether it settled.
func (m *Manager) WaitSettled(ctx context.Context) bool {
	select {
	case <-m.settled:
		return true
	case <-ctx.Done():
		return false
	}
}

// SignOut runs the comprehensive cleanup routine (role cache, durable
// fallback, session state) and then signs out of the provider. If cleanup
// fails the provider sign-out still happens: the user must never be left in
// an authenticated-looking state.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.cleanup(); err != nil {
		m.logger.Warn("session cleanup failed, falling back to bare sign-out", err)
	}
	err := m.provider.SignOut(ctx)
	m.setUnauthenticated()
	return errors.Wrap(err, "signing out of provider")
}

// RefreshSession requests a token refresh. A refresh failure is treated as
// session invalidation, never left ambiguous.
func (m *Manager) RefreshSession(ctx context.Context) error {
	sess, err := m.provider.RefreshSession(ctx)
	if err != nil {
		m.logger.Warn("session refresh failed, signing out", err)
		_ = m.SignOut(ctx)
		return errors.Wrap(err, "refreshing session")
	}
	m.handleSession(sess)
	return nil
}

// forwardEvents drives handleSession off the provider feed until the
// subscription is cancelled.
func (m *Manager) forwardEvents() {
	for evt := range m.providerSub.C {
		if evt.Type == SignedOut {
			m.handleSession(nil)
		} else {
			m.handleSession(evt.Session)
		}
	}
}

// bootstrap requests the current session once, racing an internal timeout
// that substitutes "no session" if the provider hangs.
func (m *Manager) bootstrap() {
	ctx, cancel := context.WithTimeout(context.Background(), m.bootstrapTimeout)
	defer cancel()

	type result struct {
		sess *Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := m.provider.GetSession(ctx)
		ch <- result{sess, err}
	}()

	timeout := time.NewTimer(m.bootstrapTimeout)
	defer timeout.Stop()

	var sess *Session
	select {
	case res := <-ch:
		if res.err != nil {
			m.logger.Warn("session bootstrap failed, assuming no session", res.err)
		}
		sess = res.sess
	case <-timeout.C:
		m.logger.Warn("session bootstrap timed out, assuming no session")
	}

	// a feed event may have already settled the state; it is newer, it wins
	m.mu.Lock()
	stillLoading := m.alive && m.state.Status == StatusLoading
	m.mu.Unlock()
	if stillLoading {
		m.handleSession(sess)
	}
}

// handleSession applies a session transition: resolve the role and move to
// Authenticated, or clear everything and move to Unauthenticated. The
// liveness flag is re-checked before every mutation so a stale in-flight
// transition cannot override state after Close.
func (m *Manager) handleSession(sess *Session) {
	if !m.isAlive() {
		return
	}

	if !sess.HasUser() {
		m.setUnauthenticated()
		return
	}

	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.state.Session = sess
	m.mu.Unlock()

	res := m.resolver.Resolve(context.Background(), sess.Identity.ID)

	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.state = State{
		Status:     StatusAuthenticated,
		Session:    sess,
		Role:       res.Role,
		RoleSource: res.Source,
	}
	m.mu.Unlock()

	m.signalSettled()
	m.feed.Publish(Event{Type: SignedIn, Session: sess})
}

func (m *Manager) setUnauthenticated() {
	m.mu.Lock()
	if !m.alive {
		m.mu.Unlock()
		return
	}
	m.state = State{Status: StatusUnauthenticated}
	m.mu.Unlock()

	m.signalSettled()
	m.feed.Publish(Event{Type: SignedOut})
}

// forceSettle is the watchdog: the UI must never spin forever, even if both
// the provider and the Resolver hang. Whatever state is already set decides
// the direction.
func (m *Manager) forceSettle() {
	m.mu.Lock()
	if !m.alive || m.state.Status != StatusLoading {
		m.mu.Unlock()
		return
	}
	if m.state.Session.HasUser() {
		m.state.Status = StatusAuthenticated
		m.logger.Warn("watchdog forced authenticated state before role resolution")
	} else {
		m.state = State{Status: StatusUnauthenticated}
		m.logger.Warn("watchdog forced unauthenticated state")
	}
	m.mu.Unlock()

	m.signalSettled()
}

func (m *Manager) cleanup() (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("session cleanup panicked: %v", rec)
		}
	}()

	m.mu.Lock()
	sess := m.state.Session
	m.mu.Unlock()

	if sess.HasUser() {
		m.resolver.Forget(sess.Identity.ID)
	}
	m.resolver.Reset()
	return nil
}

func (m *Manager) isAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive
}

func (m *Manager) signalSettled() {
	m.settledOnce.Do(func() { close(m.settled) })
}
