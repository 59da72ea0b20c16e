package resource

// Handle is an opaque reference to an entry in a table. The low 32 bits hold
// the slot index plus one, the high 32 bits the slot generation. Handle 0 is
// reserved and always invalid.
type Handle uint64

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index+1))
}

func (h Handle) index() (uint32, bool) {
	low := uint32(h)
	if low == 0 {
		return 0, false
	}
	return low - 1, true
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	// EventTaken is emitted when an entry is removed and handed to the caller.
	EventTaken
	// EventDropped is emitted when an entry is removed and discarded.
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventTaken:
		return "taken"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents an entry lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
}

// Observer receives notifications about entry lifecycle events.
// Observers run synchronously after the table lock is released.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is implemented by values that release something when discarded
// by Remove, Clear or Close.
type Dropper interface {
	Drop()
}

// Backend provides the underlying storage for a table.
type Backend interface {
	// Create stores a value and returns a handle.
	Create(typeID uint32, value any) (Handle, error)

	// Get retrieves a value by handle.
	Get(handle Handle) (any, bool)

	// Take removes an entry and returns its value. At most one caller wins
	// for a given handle.
	Take(handle Handle) (any, uint32, bool)

	// Close releases all entries held by the backend.
	Close() error
}
