package session

import "sync"

// EventType tags a session-change notification.
type EventType string

const (
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
)

type Event struct {
	Type    EventType
	Session *Session
}

// Feed is a push-based session-change feed with cancellable subscriptions.
// Publish never blocks: a subscriber that falls behind loses intermediate
// events, keeping only the most recent ones in its buffer's order.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]*Subscription)}
}

// Subscription delivers feed events on C until Unsubscribe is called.
type Subscription struct {
	C <-chan Event

	c    chan Event
	feed *Feed
	id   int
	once sync.Once
}

// Unsubscribe detaches from the feed and closes C. Safe to call twice.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.feed.mu.Lock()
		delete(sub.feed.subs, sub.id)
		sub.feed.mu.Unlock()
		close(sub.c)
	})
}

func (f *Feed) Subscribe() *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := make(chan Event, 8)
	sub := &Subscription{C: c, c: c, feed: f, id: f.nextID}
	f.nextID++
	if f.closed {
		// late subscriber on a closed feed gets a closed channel
		sub.once.Do(func() { close(c) })
		return sub
	}
	f.subs[sub.id] = sub
	return sub
}

func (f *Feed) Publish(evt Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, sub := range f.subs {
		select {
		case sub.c <- evt:
		default: // slow subscriber, drop
		}
	}
}

// Close detaches all subscribers and closes their channels.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[int]*Subscription)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.c) })
	}
}
