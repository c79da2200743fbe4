// Package inmemdb provides in-memory repository implementations for tests
// and local development.
package inmemdb

import (
	"strconv"
	"sync"

	"github.com/iteamsociety/iteam/core/event"
	"github.com/iteamsociety/iteam/core/member"
	"github.com/iteamsociety/iteam/core/user"
)

type DB struct {
	mutex   sync.RWMutex
	pkCount int

	users         map[string]*user.User
	events        map[string]*event.Event
	registrations map[string]*event.Registration // eventID + "/" + userID
	memberships   map[string]*member.Membership
	payments      map[string]*member.Payment
}

func NewDB() *DB {
	return &DB{
		users:         make(map[string]*user.User),
		events:        make(map[string]*event.Event),
		registrations: make(map[string]*event.Registration),
		memberships:   make(map[string]*member.Membership),
		payments:      make(map[string]*member.Payment),
	}
}

// nextID must be called with the mutex held.
func (db *DB) nextID() string {
	db.pkCount++
	return strconv.Itoa(db.pkCount)
}
