package event

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iteamsociety/iteam/core"
)

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"` // UTC
	EndsAt      time.Time `json:"ends_at"`   // UTC
	Capacity    int       `json:"capacity"`  // 0 = unlimited
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC

	// computed on read
	RegisteredCount int `json:"registered_count"`
}

func (e *Event) HasStarted(now time.Time) bool {
	return now.After(e.StartsAt)
}

func (e *Event) IsFull() bool {
	return e.Capacity > 0 && e.RegisteredCount >= e.Capacity
}

type Registration struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// NewEvent contains information needed to create a new Event.
type NewEvent struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"omitempty,gtfield=StartsAt"`
	Capacity    int       `json:"capacity" validate:"gte=0"`
}

func (ne *NewEvent) Validate(validate *validator.Validate) error {
	ne.Title = core.CleanString(ne.Title)
	ne.Description = core.CleanString(ne.Description)
	ne.Location = core.CleanString(ne.Location)
	return validate.Struct(ne)
}

// UpdateEvent defines what information may be provided to modify an existing Event.
type UpdateEvent struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    *int      `json:"capacity" validate:"omitempty,gte=0"`
}

func (ue *UpdateEvent) Validate(origEvt Event, validate *validator.Validate) error {
	if title := core.CleanString(ue.Title); title != "" {
		ue.Title = title
	} else {
		ue.Title = origEvt.Title
	}
	ue.Description = core.CleanString(ue.Description)
	ue.Location = core.CleanString(ue.Location)
	if ue.StartsAt.IsZero() {
		ue.StartsAt = origEvt.StartsAt
	}
	if ue.EndsAt.IsZero() {
		ue.EndsAt = origEvt.EndsAt
	}
	return validate.Struct(ue)
}

type QueryFilter struct {
	Search    string    `query:"search"`
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
	CreatedBy string    `query:"created_by"`
	Upcoming  bool      `query:"upcoming"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.From.IsZero() && qf.To.IsZero() && qf.CreatedBy == "" && !qf.Upcoming
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
