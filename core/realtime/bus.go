package realtime

import "sync"

// Op is the kind of row mutation a change notification describes.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is a single table-level change notification.
type Change struct {
	Table  string
	Op     Op
	Record interface{}
}

// Bus fans table-keyed change notifications out to subscribers. Dashboards
// subscribe per table; domain services publish on every mutation. Publish
// never blocks on a slow subscriber.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[int]*Subscription
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]*Subscription)}
}

// Subscription delivers changes for one table on C until Unsubscribe.
type Subscription struct {
	C <-chan Change

	c     chan Change
	bus   *Bus
	table string
	id    int
	once  sync.Once
}

func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.bus.mu.Lock()
		if chans, ok := sub.bus.subs[sub.table]; ok {
			delete(chans, sub.id)
			if len(chans) == 0 {
				delete(sub.bus.subs, sub.table)
			}
		}
		sub.bus.mu.Unlock()
		close(sub.c)
	})
}

func (b *Bus) Subscribe(table string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := make(chan Change, 16)
	sub := &Subscription{C: c, c: c, bus: b, table: table, id: b.nextID}
	b.nextID++
	if b.closed {
		sub.once.Do(func() { close(c) })
		return sub
	}
	if _, ok := b.subs[table]; !ok {
		b.subs[table] = make(map[int]*Subscription)
	}
	b.subs[table][sub.id] = sub
	return sub
}

func (b *Bus) Publish(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[change.Table] {
		select {
		case sub.c <- change:
		default: // slow subscriber, drop
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]map[int]*Subscription)
	b.mu.Unlock()

	for _, chans := range subs {
		for _, sub := range chans {
			sub.once.Do(func() { close(sub.c) })
		}
	}
}
