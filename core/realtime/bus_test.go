package realtime

import (
	"testing"
	"time"
)

func TestBusTableScoping(t *testing.T) {
	b := NewBus()
	defer b.Close()

	events := b.Subscribe("events")
	payments := b.Subscribe("payments")
	defer events.Unsubscribe()
	defer payments.Unsubscribe()

	b.Publish(Change{Table: "events", Op: OpInsert, Record: "e1"})

	select {
	case chg := <-events.C:
		if chg.Op != OpInsert || chg.Record != "e1" {
			t.Errorf("change = %+v", chg)
		}
	case <-time.After(time.Second):
		t.Fatal("events subscriber never notified")
	}

	select {
	case chg := <-payments.C:
		t.Errorf("payments subscriber got %+v; want nothing", chg)
	default:
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sub := b.Subscribe("events")
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	b.Publish(Change{Table: "events", Op: OpDelete})
	if _, ok := <-sub.C; ok {
		t.Error("unsubscribed channel delivered a change")
	}
}

func TestBusCloseDetachesAll(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe("memberships")
	b.Close()

	if _, ok := <-sub.C; ok {
		t.Error("closed bus delivered a change")
	}
	b.Publish(Change{Table: "memberships", Op: OpUpdate}) // must not panic
	sub.Unsubscribe()                                     // must not panic
}
