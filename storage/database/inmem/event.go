package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/event"
)

type eventRepository struct {
	db *DB
}

var _ event.Repository = (*eventRepository)(nil)

func NewEventRepository(db *DB) *eventRepository {
	return &eventRepository{db: db}
}

// registeredCount must be called with the mutex held.
func (repo *eventRepository) registeredCount(eventID string) int {
	var n int
	for _, reg := range repo.db.registrations {
		if reg.EventID == eventID {
			n++
		}
	}
	return n
}

func (repo *eventRepository) CreateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	evt.ID = repo.db.nextID()
	repo.db.events[evt.ID] = &evt
	return evt, nil
}

func (repo *eventRepository) GetEventByID(ctx context.Context, id string) (event.Event, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	evt, ok := repo.db.events[id]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	out := *evt
	out.RegisteredCount = repo.registeredCount(id)
	return out, nil
}

func (repo *eventRepository) FilterEvents(ctx context.Context, filter *event.QueryFilter, ordering []core.DBOrdering) ([]event.Event, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	now := time.Now().UTC()
	evts := make([]event.Event, 0, len(repo.db.events))
	for _, evt := range repo.db.events {
		if filter != nil {
			if filter.Search != "" {
				search := strings.ToLower(filter.Search)
				if !strings.Contains(strings.ToLower(evt.Title), search) &&
					!strings.Contains(strings.ToLower(evt.Description), search) &&
					!strings.Contains(strings.ToLower(evt.Location), search) {
					continue
				}
			}
			if !filter.From.IsZero() && evt.StartsAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && evt.StartsAt.After(filter.To) {
				continue
			}
			if filter.CreatedBy != "" && evt.CreatedBy != filter.CreatedBy {
				continue
			}
			if filter.Upcoming && !evt.StartsAt.After(now) {
				continue
			}
		}
		out := *evt
		out.RegisteredCount = repo.registeredCount(evt.ID)
		evts = append(evts, out)
	}
	sort.Slice(evts, func(i, j int) bool { return evts[i].StartsAt.Before(evts[j].StartsAt) })
	return evts, nil
}

func (repo *eventRepository) UpdateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	origEvt, ok := repo.db.events[evt.ID]
	if !ok {
		return event.Event{}, event.ErrNotFound
	}
	if evt.Title != "" {
		origEvt.Title = evt.Title
	}
	origEvt.Description = evt.Description
	origEvt.Location = evt.Location
	if !evt.StartsAt.IsZero() {
		origEvt.StartsAt = evt.StartsAt
	}
	if !evt.EndsAt.IsZero() {
		origEvt.EndsAt = evt.EndsAt
	}
	if evt.Capacity >= 0 {
		origEvt.Capacity = evt.Capacity
	}
	origEvt.UpdatedAt = evt.UpdatedAt

	repo.db.events[evt.ID] = origEvt
	out := *origEvt
	out.RegisteredCount = repo.registeredCount(evt.ID)
	return out, nil
}

func (repo *eventRepository) DeleteEventsByID(ctx context.Context, ids ...string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	for _, id := range ids {
		delete(repo.db.events, id)
		for key, reg := range repo.db.registrations {
			if reg.EventID == id {
				delete(repo.db.registrations, key)
			}
		}
	}
	return nil
}

func (repo *eventRepository) GetRegistration(ctx context.Context, eventID, userID string) (event.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if reg, ok := repo.db.registrations[eventID+"/"+userID]; ok {
		return *reg, nil
	}
	return event.Registration{}, event.ErrNotFound
}

func (repo *eventRepository) CreateRegistration(ctx context.Context, reg event.Registration) (event.Registration, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	key := reg.EventID + "/" + reg.UserID
	if _, ok := repo.db.registrations[key]; ok {
		return event.Registration{}, event.ErrAlreadyRegistered
	}
	reg.ID = repo.db.nextID()
	repo.db.registrations[key] = &reg
	return reg, nil
}

func (repo *eventRepository) DeleteRegistration(ctx context.Context, eventID, userID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	delete(repo.db.registrations, eventID+"/"+userID)
	return nil
}

func (repo *eventRepository) ListEventRegistrations(ctx context.Context, eventID string) ([]event.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	regs := make([]event.Registration, 0)
	for _, reg := range repo.db.registrations {
		if reg.EventID == eventID {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.Before(regs[j].CreatedAt) })
	return regs, nil
}

func (repo *eventRepository) ListUserRegistrations(ctx context.Context, userID string) ([]event.Registration, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	regs := make([]event.Registration, 0)
	for _, reg := range repo.db.registrations {
		if reg.UserID == userID {
			regs = append(regs, *reg)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].CreatedAt.Before(regs[j].CreatedAt) })
	return regs, nil
}
