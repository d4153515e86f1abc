package notifier

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is a single row change. Key identifies the row (or the coalescing
// unit for debounced subscriptions); ordering is only guaranteed per key.
type Event struct {
	Table     string
	Type      EventType
	Key       string
	Row       any
	Timestamp time.Time
}

type Predicate func(Event) bool

type Handler func(Event)

type SubscriptionID int

// Notifier fans row-change events out to registered subscribers. Each
// subscriber owns a mailbox drained by its own goroutine, so a slow or
// stuck handler never stalls Publish or any other subscriber. Delivery is
// at-least-once; handlers must tolerate duplicates.
type Notifier struct {
	mu      sync.RWMutex
	subs    map[string]map[SubscriptionID]*subscription
	lastID  SubscriptionID
	stopped bool
}

func New() *Notifier {
	return &Notifier{
		subs: make(map[string]map[SubscriptionID]*subscription),
	}
}

type SubscribeOption func(*subscription)

// WithDebounce coalesces rapid-fire events for the same key, delivering
// only the latest one once the window elapses without further writes.
func WithDebounce(window time.Duration) SubscribeOption {
	return func(s *subscription) {
		s.debounce = window
	}
}

func (n *Notifier) Subscribe(table string, predicate Predicate, handler Handler, opts ...SubscribeOption) SubscriptionID {
	sub := newSubscription(predicate, handler)
	for _, opt := range opts {
		opt(sub)
	}
	go sub.run()

	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastID++
	id := n.lastID
	if _, ok := n.subs[table]; !ok {
		n.subs[table] = make(map[SubscriptionID]*subscription)
	}
	n.subs[table][id] = sub
	return id
}

func (n *Notifier) Unsubscribe(table string, id SubscriptionID) {
	n.mu.Lock()
	var sub *subscription
	if tableSubs, ok := n.subs[table]; ok {
		if s, ok2 := tableSubs[id]; ok2 {
			sub = s
			delete(tableSubs, id)
			if len(tableSubs) == 0 {
				delete(n.subs, table)
			}
		}
	}
	n.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// Publish delivers a row change to every matching subscriber of the table.
// It never blocks on subscriber progress.
func (n *Notifier) Publish(table string, eventType EventType, key string, row any) {
	evt := Event{
		Table:     table,
		Type:      eventType,
		Key:       key,
		Row:       row,
		Timestamp: time.Now(),
	}

	n.mu.RLock()
	if n.stopped {
		n.mu.RUnlock()
		return
	}
	targets := make([]*subscription, 0, len(n.subs[table]))
	for _, sub := range n.subs[table] {
		targets = append(targets, sub)
	}
	n.mu.RUnlock()

	for _, sub := range targets {
		if sub.predicate != nil && !sub.predicate(evt) {
			continue
		}
		sub.offer(evt)
	}
}

// Stop closes every subscription. In-flight mailboxes are drained before
// their goroutines exit.
func (n *Notifier) Stop() {
	n.mu.Lock()
	n.stopped = true
	subsCopy := n.subs
	n.subs = make(map[string]map[SubscriptionID]*subscription)
	n.mu.Unlock()

	for _, tableSubs := range subsCopy {
		for _, sub := range tableSubs {
			sub.close()
		}
	}
}

type subscription struct {
	predicate Predicate
	handler   Handler
	debounce  time.Duration

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool

	pending map[string]Event
	timers  map[string]*time.Timer
}

func newSubscription(predicate Predicate, handler Handler) *subscription {
	s := &subscription{
		predicate: predicate,
		handler:   handler,
		pending:   make(map[string]Event),
		timers:    make(map[string]*time.Timer),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscription) offer(evt Event) {
	if s.debounce <= 0 {
		s.enqueue(evt)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending[evt.Key] = evt
	if _, ok := s.timers[evt.Key]; ok {
		return
	}
	key := evt.Key
	s.timers[key] = time.AfterFunc(s.debounce, func() {
		s.flush(key)
	})
}

func (s *subscription) flush(key string) {
	s.mu.Lock()
	evt, ok := s.pending[key]
	delete(s.pending, key)
	delete(s.timers, key)
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscription) enqueue(evt Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, evt := range batch {
			s.deliver(evt)
		}
	}
}

func (s *subscription) deliver(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("notifier handler panic",
				zap.String("table", evt.Table),
				zap.String("key", evt.Key),
				zap.Any("panic", r),
			)
		}
	}()
	s.handler(evt)
}

func (s *subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	// flush coalesced events so nothing accepted before close is lost
	for key, evt := range s.pending {
		s.queue = append(s.queue, evt)
		delete(s.pending, key)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}
