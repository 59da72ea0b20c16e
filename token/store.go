package token

import (
	"sync"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/resource"
)

const (
	typeCompletion uint32 = iota + 1
	typeProgress
)

// Sink receives the outcome of a completion token. Complete is called at
// most once.
type Sink interface {
	Complete(value any, err error)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(value any, err error)

func (f SinkFunc) Complete(value any, err error) { f(value, err) }

// Listener receives progress updates for a multi-shot token.
type Listener func(transferred, transferable uint64)

// EventType identifies a token lifecycle transition.
type EventType uint8

const (
	EventCreated EventType = iota
	EventResolved
	EventFailed
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventResolved:
		return "resolved"
	case EventFailed:
		return "failed"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event describes a token lifecycle transition.
type Event struct {
	Err      error
	ID       native.Token
	Type     EventType
	Progress bool
}

// Observer receives token lifecycle events synchronously.
type Observer interface {
	OnTokenEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnTokenEvent(e Event) { f(e) }

// Store is the table of pending tokens. Safe for concurrent use.
type Store struct {
	table     *resource.Table
	observers []Observer
	mu        sync.RWMutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{table: resource.NewTable()}
	s.table.Subscribe(resource.ObserverFunc(s.onTableEvent))
	return s
}

// closedSink fails its sink when the table discards it on Close.
type closedSink struct {
	sink Sink
}

func (c closedSink) Drop() {
	c.sink.Complete(nil, errors.Closed(errors.PhaseWait, "token store"))
}

func (s *Store) onTableEvent(e resource.Event) {
	switch e.Type {
	case resource.EventCreated:
		s.notify(Event{ID: native.Token(e.Handle), Type: EventCreated, Progress: e.TypeID == typeProgress})
	case resource.EventDropped:
		s.notify(Event{
			ID:       native.Token(e.Handle),
			Type:     EventFailed,
			Progress: e.TypeID == typeProgress,
			Err:      errors.Closed(errors.PhaseWait, "token store"),
		})
	}
}

// Create registers sink under a fresh id. Returns 0 after Close.
func (s *Store) Create(sink Sink) native.Token {
	return native.Token(s.table.Insert(typeCompletion, closedSink{sink: sink}))
}

// Listen registers a multi-shot progress listener.
func (s *Store) Listen(l Listener) native.Token {
	return native.Token(s.table.Insert(typeProgress, l))
}

// Resolve completes the token with value. Returns false if the id is
// unknown, already terminal or not a completion token.
func (s *Store) Resolve(id native.Token, value any) bool {
	sink, ok := s.take(id)
	if !ok {
		return false
	}
	sink.Complete(value, nil)
	s.notify(Event{ID: id, Type: EventResolved})
	return true
}

// Fail completes the token with err. Same no-op rules as Resolve.
func (s *Store) Fail(id native.Token, err error) bool {
	sink, ok := s.take(id)
	if !ok {
		return false
	}
	sink.Complete(nil, err)
	s.notify(Event{ID: id, Type: EventFailed, Err: err})
	return true
}

func (s *Store) take(id native.Token) (Sink, bool) {
	h := resource.Handle(id)
	if _, ok := s.table.GetTyped(h, typeCompletion); !ok {
		return nil, false
	}
	v, ok := s.table.Take(h)
	if !ok {
		return nil, false
	}
	return v.(closedSink).sink, true
}

// Notify delivers a progress update to the listener registered under id.
// The listener stays registered.
func (s *Store) Notify(id native.Token, transferred, transferable uint64) bool {
	v, ok := s.table.GetTyped(resource.Handle(id), typeProgress)
	if !ok {
		return false
	}
	v.(Listener)(transferred, transferable)
	return true
}

// Release removes the token without completing it. Works for completion
// tokens and progress listeners.
func (s *Store) Release(id native.Token) bool {
	v, ok := s.table.Take(resource.Handle(id))
	if !ok {
		return false
	}
	_, progress := v.(Listener)
	s.notify(Event{ID: id, Type: EventReleased, Progress: progress})
	return true
}

// Pending returns the number of live tokens and listeners.
func (s *Store) Pending() int {
	return s.table.Len()
}

// Subscribe adds a lifecycle observer.
func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Close fails every pending completion token with a closed error and drops
// all listeners. Later Create calls return 0.
func (s *Store) Close() error {
	s.table.Clear()
	return s.table.Close()
}

func (s *Store) notify(e Event) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		o.OnTokenEvent(e)
	}
}
