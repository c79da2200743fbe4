package event

import (
	"context"
	"errors"
	"time"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/realtime"
)

var (
	// errors
	ErrNotFound          = errors.New("event not found")
	ErrEventFull         = errors.New("event is already at full capacity")
	ErrEventStarted      = errors.New("event has already started")
	ErrAlreadyRegistered = errors.New("already registered for this event")

	NowFunc = time.Now // mockable
)

// change bus tables
const (
	TableEvents        = "events"
	TableRegistrations = "event_registrations"
)

type (
	Repository interface {
		CreateEvent(ctx context.Context, evt Event) (Event, error)
		GetEventByID(ctx context.Context, id string) (Event, error)
		FilterEvents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Event, error)
		UpdateEvent(ctx context.Context, evt Event) (Event, error)
		DeleteEventsByID(ctx context.Context, ids ...string) error

		GetRegistration(ctx context.Context, eventID, userID string) (Registration, error)
		CreateRegistration(ctx context.Context, reg Registration) (Registration, error)
		DeleteRegistration(ctx context.Context, eventID, userID string) error
		ListEventRegistrations(ctx context.Context, eventID string) ([]Registration, error)
		ListUserRegistrations(ctx context.Context, userID string) ([]Registration, error)
	}

	Service interface {
		Create(ctx context.Context, ne NewEvent, createdBy string) (Event, error)
		GetByID(ctx context.Context, id string) (Event, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Event, error)
		Update(ctx context.Context, id string, ue UpdateEvent) (Event, error)
		Delete(ctx context.Context, ids ...string) error
		// ToggleRegistration registers userID for the event, or cancels an
		// existing registration. Reports whether the user ends up registered.
		ToggleRegistration(ctx context.Context, eventID, userID string) (bool, error)
		Registrations(ctx context.Context, eventID string) ([]Registration, error)
		RegistrationsFor(ctx context.Context, userID string) ([]Registration, error)
	}

	service struct {
		repo   Repository
		bus    *realtime.Bus
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, bus *realtime.Bus, logger core.Logger) Service {
	return &service{repo: repo, bus: bus, logger: logger}
}

func (svc *service) Create(ctx context.Context, ne NewEvent, createdBy string) (Event, error) {
	now := NowFunc().UTC()
	evt := Event{
		Title:       ne.Title,
		Description: ne.Description,
		Location:    ne.Location,
		StartsAt:    ne.StartsAt.UTC(),
		EndsAt:      ne.EndsAt.UTC(),
		Capacity:    ne.Capacity,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	evt, err := svc.repo.CreateEvent(ctx, evt)
	if err != nil {
		return Event{}, err
	}
	svc.bus.Publish(realtime.Change{Table: TableEvents, Op: realtime.OpInsert, Record: evt})
	return evt, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (Event, error) {
	return svc.repo.GetEventByID(ctx, id)
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Event, error) {
	return svc.repo.FilterEvents(ctx, filter, ordering)
}

func (svc *service) Update(ctx context.Context, id string, ue UpdateEvent) (Event, error) {
	evt := Event{
		ID:          id,
		Title:       ue.Title,
		Description: ue.Description,
		Location:    ue.Location,
		StartsAt:    ue.StartsAt.UTC(),
		EndsAt:      ue.EndsAt.UTC(),
		UpdatedAt:   NowFunc().UTC(),
	}
	if ue.Capacity != nil {
		evt.Capacity = *ue.Capacity
	} else {
		evt.Capacity = -1 // keep current
	}
	evt, err := svc.repo.UpdateEvent(ctx, evt)
	if err != nil {
		return Event{}, err
	}
	svc.bus.Publish(realtime.Change{Table: TableEvents, Op: realtime.OpUpdate, Record: evt})
	return evt, nil
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	if err := svc.repo.DeleteEventsByID(ctx, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		svc.bus.Publish(realtime.Change{Table: TableEvents, Op: realtime.OpDelete, Record: Event{ID: id}})
	}
	return nil
}

func (svc *service) ToggleRegistration(ctx context.Context, eventID, userID string) (bool, error) {
	evt, err := svc.repo.GetEventByID(ctx, eventID)
	if err != nil {
		return false, err
	}

	if reg, err := svc.repo.GetRegistration(ctx, eventID, userID); err == nil {
		// already registered: toggle off
		if err = svc.repo.DeleteRegistration(ctx, eventID, userID); err != nil {
			return true, err
		}
		svc.bus.Publish(realtime.Change{Table: TableRegistrations, Op: realtime.OpDelete, Record: reg})
		return false, nil
	} else if err != ErrNotFound {
		return false, err
	}

	if evt.HasStarted(NowFunc().UTC()) {
		return false, ErrEventStarted
	}
	if evt.IsFull() {
		return false, ErrEventFull
	}

	reg, err := svc.repo.CreateRegistration(ctx, Registration{
		EventID:   eventID,
		UserID:    userID,
		CreatedAt: NowFunc().UTC(),
	})
	if err != nil {
		return false, err
	}
	svc.bus.Publish(realtime.Change{Table: TableRegistrations, Op: realtime.OpInsert, Record: reg})
	return true, nil
}

func (svc *service) Registrations(ctx context.Context, eventID string) ([]Registration, error) {
	return svc.repo.ListEventRegistrations(ctx, eventID)
}

func (svc *service) RegistrationsFor(ctx context.Context, userID string) ([]Registration, error) {
	return svc.repo.ListUserRegistrations(ctx, userID)
}
