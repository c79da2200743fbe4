package event

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/realtime"
)

type fakeRepository struct {
	mu     sync.Mutex
	nextID int
	events map[string]Event
	regs   map[string]Registration // eventID+"/"+userID
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{events: make(map[string]Event), regs: make(map[string]Registration)}
}

func (r *fakeRepository) CreateEvent(ctx context.Context, evt Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	evt.ID = strconv.Itoa(r.nextID)
	r.events[evt.ID] = evt
	return evt, nil
}

func (r *fakeRepository) GetEventByID(ctx context.Context, id string) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evt, ok := r.events[id]
	if !ok {
		return Event{}, ErrNotFound
	}
	for _, reg := range r.regs {
		if reg.EventID == id {
			evt.RegisteredCount++
		}
	}
	return evt, nil
}

func (r *fakeRepository) FilterEvents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evts := make([]Event, 0, len(r.events))
	for _, evt := range r.events {
		evts = append(evts, evt)
	}
	return evts, nil
}

func (r *fakeRepository) UpdateEvent(ctx context.Context, evt Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orig, ok := r.events[evt.ID]
	if !ok {
		return Event{}, ErrNotFound
	}
	if evt.Capacity < 0 {
		evt.Capacity = orig.Capacity
	}
	evt.CreatedBy = orig.CreatedBy
	evt.CreatedAt = orig.CreatedAt
	r.events[evt.ID] = evt
	return evt, nil
}

func (r *fakeRepository) DeleteEventsByID(ctx context.Context, ids ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.events, id)
	}
	return nil
}

func (r *fakeRepository) GetRegistration(ctx context.Context, eventID, userID string) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[eventID+"/"+userID]
	if !ok {
		return Registration{}, ErrNotFound
	}
	return reg, nil
}

func (r *fakeRepository) CreateRegistration(ctx context.Context, reg Registration) (Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	reg.ID = strconv.Itoa(r.nextID)
	r.regs[reg.EventID+"/"+reg.UserID] = reg
	return reg, nil
}

func (r *fakeRepository) DeleteRegistration(ctx context.Context, eventID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, eventID+"/"+userID)
	return nil
}

func (r *fakeRepository) ListEventRegistrations(ctx context.Context, eventID string) ([]Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var regs []Registration
	for _, reg := range r.regs {
		if reg.EventID == eventID {
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

func (r *fakeRepository) ListUserRegistrations(ctx context.Context, userID string) ([]Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var regs []Registration
	for _, reg := range r.regs {
		if reg.UserID == userID {
			regs = append(regs, reg)
		}
	}
	return regs, nil
}

func drainChanges(sub *realtime.Subscription) []realtime.Change {
	var changes []realtime.Change
	for {
		select {
		case chg := <-sub.C:
			changes = append(changes, chg)
		default:
			return changes
		}
	}
}

func TestServiceToggleRegistration(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	bus := realtime.NewBus()
	defer bus.Close()
	svc := NewService(repo, bus, core.NopLogger{})

	now := time.Now().UTC()
	evt, err := svc.Create(ctx, NewEvent{Title: "AGM", StartsAt: now.Add(time.Hour), Capacity: 2}, "admin1")
	require.NoError(t, err)

	sub := bus.Subscribe(TableRegistrations)
	defer sub.Unsubscribe()

	// first toggle registers
	registered, err := svc.ToggleRegistration(ctx, evt.ID, "u1")
	require.NoError(t, err)
	assert.True(t, registered)

	// second toggle for the same user cancels
	registered, err = svc.ToggleRegistration(ctx, evt.ID, "u1")
	require.NoError(t, err)
	assert.False(t, registered)

	changes := drainChanges(sub)
	require.Len(t, changes, 2)
	assert.Equal(t, realtime.OpInsert, changes[0].Op)
	assert.Equal(t, realtime.OpDelete, changes[1].Op)
}

func TestServiceToggleRegistrationCapacity(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	bus := realtime.NewBus()
	defer bus.Close()
	svc := NewService(repo, bus, core.NopLogger{})

	now := time.Now().UTC()
	evt, err := svc.Create(ctx, NewEvent{Title: "Workshop", StartsAt: now.Add(time.Hour), Capacity: 1}, "admin1")
	require.NoError(t, err)

	_, err = svc.ToggleRegistration(ctx, evt.ID, "u1")
	require.NoError(t, err)

	_, err = svc.ToggleRegistration(ctx, evt.ID, "u2")
	assert.Equal(t, ErrEventFull, err)

	// a registered user can still cancel on a full event
	registered, err := svc.ToggleRegistration(ctx, evt.ID, "u1")
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestServiceToggleRegistrationStartedEvent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	bus := realtime.NewBus()
	defer bus.Close()
	svc := NewService(repo, bus, core.NopLogger{})

	evt, err := svc.Create(ctx, NewEvent{Title: "Past", StartsAt: time.Now().UTC().Add(-time.Hour)}, "admin1")
	require.NoError(t, err)

	_, err = svc.ToggleRegistration(ctx, evt.ID, "u1")
	assert.Equal(t, ErrEventStarted, err)
}

func TestServiceToggleRegistrationUnknownEvent(t *testing.T) {
	ctx := context.Background()
	bus := realtime.NewBus()
	defer bus.Close()
	svc := NewService(newFakeRepository(), bus, core.NopLogger{})

	_, err := svc.ToggleRegistration(ctx, "nope", "u1")
	assert.Equal(t, ErrNotFound, err)
}

func TestServiceUpdateKeepsCapacityWhenOmitted(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	bus := realtime.NewBus()
	defer bus.Close()
	svc := NewService(repo, bus, core.NopLogger{})

	evt, err := svc.Create(ctx, NewEvent{Title: "Social", StartsAt: time.Now().UTC().Add(time.Hour), Capacity: 30}, "staff1")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, evt.ID, UpdateEvent{Title: "Spring Social", StartsAt: evt.StartsAt})
	require.NoError(t, err)
	assert.Equal(t, "Spring Social", updated.Title)
	assert.Equal(t, 30, updated.Capacity)

	zero := 0
	updated, err = svc.Update(ctx, evt.ID, UpdateEvent{Title: "Spring Social", StartsAt: evt.StartsAt, Capacity: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Capacity)
}

func TestServiceDeletePublishes(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepository()
	bus := realtime.NewBus()
	defer bus.Close()
	svc := NewService(repo, bus, core.NopLogger{})

	evt, err := svc.Create(ctx, NewEvent{Title: "Gone", StartsAt: time.Now().UTC().Add(time.Hour)}, "admin1")
	require.NoError(t, err)

	sub := bus.Subscribe(TableEvents)
	defer sub.Unsubscribe()

	require.NoError(t, svc.Delete(ctx, evt.ID))
	_, err = svc.GetByID(ctx, evt.ID)
	assert.Equal(t, ErrNotFound, err)

	changes := drainChanges(sub)
	require.Len(t, changes, 1)
	assert.Equal(t, realtime.OpDelete, changes[0].Op)
}
