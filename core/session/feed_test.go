package session

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestFeedPublishSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFeed()
	sub1 := f.Subscribe()
	sub2 := f.Subscribe()

	f.Publish(Event{Type: SignedIn, Session: studentSession("u1")})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case evt := <-sub.C:
			if evt.Type != SignedIn || evt.Session.Identity.ID != "u1" {
				t.Errorf("event = %+v; want u1 sign-in", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}

	f.Close()
}

func TestFeedUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFeed()
	sub := f.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	f.Publish(Event{Type: SignedOut})

	// channel must be closed, not delivering
	if evt, ok := <-sub.C; ok {
		t.Errorf("received %+v on unsubscribed channel", evt)
	}
	f.Close()
}

func TestFeedSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFeed()
	sub := f.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ { // overflow the buffer without draining
			f.Publish(Event{Type: TokenRefreshed})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	f.Close()
}

func TestFeedSubscribeAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := NewFeed()
	f.Close()

	sub := f.Subscribe()
	if _, ok := <-sub.C; ok {
		t.Error("subscription on a closed feed delivered an event")
	}
	sub.Unsubscribe() // must not panic
}
