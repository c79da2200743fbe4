package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/iteamsociety/iteam/core"
	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/storage/database"
)

type eventRow struct {
	ID              string      `db:"id"`
	Title           null.String `db:"title"`
	Description     null.String `db:"description"`
	Location        null.String `db:"location"`
	StartsAt        time.Time   `db:"starts_at"`
	EndsAt          null.Time   `db:"ends_at"`
	Capacity        int         `db:"capacity"`
	CreatedBy       null.String `db:"created_by"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`
	RegisteredCount int         `db:"registered_count"`
}

func (r eventRow) unpack() event.Event {
	return event.Event{
		ID:              r.ID,
		Title:           r.Title.String,
		Description:     r.Description.String,
		Location:        r.Location.String,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt.Time,
		Capacity:        r.Capacity,
		CreatedBy:       r.CreatedBy.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		RegisteredCount: r.RegisteredCount,
	}
}

type registrationRow struct {
	ID        string    `db:"id"`
	EventID   string    `db:"event_id"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

func (r registrationRow) unpack() event.Registration {
	return event.Registration(r)
}

// eventCols selects events along with their current registration count.
const eventCols = `
	e.id, e.title, e.description, e.location, e.starts_at, e.ends_at, e.capacity,
	e.created_by, e.created_at, e.updated_at,
	(SELECT COUNT(*) FROM event_registration r WHERE r.event_id = e.id) AS registered_count`

type eventRepository struct {
	db *sqlx.DB
}

var _ event.Repository = (*eventRepository)(nil) // interface compliance check

func NewEventRepository(db *sqlx.DB) *eventRepository {
	return &eventRepository{db: db}
}

func (repo eventRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return event.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo eventRepository) CreateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	evt.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO event (id, title, description, location, starts_at, ends_at, capacity, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		evt.ID, evt.Title, evt.Description, evt.Location, evt.StartsAt,
		null.NewTime(evt.EndsAt, !evt.EndsAt.IsZero()), evt.Capacity, evt.CreatedBy, evt.CreatedAt, evt.UpdatedAt)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "inserting event")
	}
	return evt, nil
}

func (repo eventRepository) GetEventByID(ctx context.Context, id string) (event.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return event.Event{}, event.ErrNotFound
	}
	var row eventRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+eventCols+` FROM event e WHERE e.id = $1`, id)
	if err != nil {
		return event.Event{}, repo.trapNoRowsErr(err, "finding event by ID")
	}
	return row.unpack(), nil
}

func (repo eventRepository) FilterEvents(ctx context.Context, filter *event.QueryFilter, ordering []core.DBOrdering) ([]event.Event, error) {
	q := `SELECT ` + eventCols + ` FROM event e`
	var conds []string
	var args []interface{}

	if filter != nil {
		if filter.Search != "" {
			conds = append(conds, "(e.title ILIKE ? OR e.description ILIKE ? OR e.location ILIKE ?)")
			val := "%" + filter.Search + "%"
			args = append(args, val, val, val)
		}
		if !filter.From.IsZero() {
			conds = append(conds, "e.starts_at >= ?")
			args = append(args, filter.From.UTC())
		}
		if !filter.To.IsZero() {
			conds = append(conds, "e.starts_at <= ?")
			args = append(args, filter.To.UTC())
		}
		if filter.CreatedBy != "" {
			conds = append(conds, "e.created_by = ?")
			args = append(args, filter.CreatedBy)
		}
		if filter.Upcoming {
			conds = append(conds, "e.starts_at > NOW()")
		}
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderClause(ordering, "starts_at ASC")

	var rows []eventRow
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying events")
	}
	evts := make([]event.Event, 0, len(rows))
	for _, row := range rows {
		evts = append(evts, row.unpack())
	}
	return evts, nil
}

func (repo eventRepository) UpdateEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	orig, err := repo.GetEventByID(ctx, evt.ID)
	if err != nil {
		return event.Event{}, err
	}

	// only save set fields; capacity < 0 keeps the current value
	if evt.Title != "" {
		orig.Title = evt.Title
	}
	orig.Description = evt.Description
	orig.Location = evt.Location
	if !evt.StartsAt.IsZero() {
		orig.StartsAt = evt.StartsAt
	}
	if !evt.EndsAt.IsZero() {
		orig.EndsAt = evt.EndsAt
	}
	if evt.Capacity >= 0 {
		orig.Capacity = evt.Capacity
	}
	orig.UpdatedAt = evt.UpdatedAt

	_, err = repo.db.ExecContext(ctx, `
		UPDATE event
		SET title = $2, description = $3, location = $4, starts_at = $5, ends_at = $6, capacity = $7, updated_at = $8
		WHERE id = $1`,
		orig.ID, orig.Title, orig.Description, orig.Location, orig.StartsAt,
		null.NewTime(orig.EndsAt, !orig.EndsAt.IsZero()), orig.Capacity, orig.UpdatedAt)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "updating event")
	}
	return orig, nil
}

func (repo eventRepository) DeleteEventsByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(`DELETE FROM event WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "deleting events")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting events")
	}
	return nil
}

func (repo eventRepository) GetRegistration(ctx context.Context, eventID, userID string) (event.Registration, error) {
	var row registrationRow
	err := repo.db.GetContext(ctx, &row,
		`SELECT * FROM event_registration WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	if err != nil {
		return event.Registration{}, repo.trapNoRowsErr(err, "finding registration")
	}
	return row.unpack(), nil
}

func (repo eventRepository) CreateRegistration(ctx context.Context, reg event.Registration) (event.Registration, error) {
	reg.ID = uuid.New().String()
	_, err := repo.db.ExecContext(ctx, `
		INSERT INTO event_registration (id, event_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		reg.ID, reg.EventID, reg.UserID, reg.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "event_registration_event_id_user_id_key") {
			return event.Registration{}, event.ErrAlreadyRegistered
		}
		return event.Registration{}, errors.Wrap(err, "inserting registration")
	}
	return reg, nil
}

func (repo eventRepository) DeleteRegistration(ctx context.Context, eventID, userID string) error {
	_, err := repo.db.ExecContext(ctx,
		`DELETE FROM event_registration WHERE event_id = $1 AND user_id = $2`, eventID, userID)
	return errors.Wrap(err, "deleting registration")
}

func (repo eventRepository) ListEventRegistrations(ctx context.Context, eventID string) ([]event.Registration, error) {
	return repo.listRegistrations(ctx, "event_id", eventID)
}

func (repo eventRepository) ListUserRegistrations(ctx context.Context, userID string) ([]event.Registration, error) {
	return repo.listRegistrations(ctx, "user_id", userID)
}

func (repo eventRepository) listRegistrations(ctx context.Context, col, val string) ([]event.Registration, error) {
	var rows []registrationRow
	err := repo.db.SelectContext(ctx, &rows,
		`SELECT * FROM event_registration WHERE `+col+` = $1 ORDER BY created_at ASC`, val)
	if err != nil {
		return nil, errors.Wrap(err, "querying registrations")
	}
	regs := make([]event.Registration, 0, len(rows))
	for _, row := range rows {
		regs = append(regs, row.unpack())
	}
	return regs, nil
}
