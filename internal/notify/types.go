package notify

import "errors"

// Errors are re-exported by the public package.
var (
	ErrBusClosed          = errors.New("subjectlink: notification bus is closed")
	ErrSubscriberExists   = errors.New("subjectlink: subscriber already exists")
	ErrSubscriberNotFound = errors.New("subjectlink: subscriber not found")
	ErrNilChannel         = errors.New("subjectlink: nil channel provided")
	ErrNilCallback        = errors.New("subjectlink: nil callback provided")
)

// Kind is the notification type.
type Kind int

const (
	// SourcesChanged fires when a source is added or removed.
	SourcesChanged Kind = iota
	// SubjectsChanged fires when the set of subjects in the snapshot changed.
	SubjectsChanged
)

func (k Kind) String() string {
	switch k {
	case SourcesChanged:
		return "sources_changed"
	case SubjectsChanged:
		return "subjects_changed"
	default:
		return "unknown"
	}
}

// Event is one notification. It is fired at most once per kind per tick.
type Event struct {
	Kind Kind
	Tick uint64
	// Added and Removed list the subject names that appeared or vanished
	// for SubjectsChanged.
	Added   []string
	Removed []string
}

// DropPolicy defines what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	// DropNew discards the new event when the subscriber channel is full.
	DropNew DropPolicy = iota
	// DropOld keeps only the latest undelivered event.
	DropOld
	// Callback invokes a function synchronously on the publisher.
	Callback
)

// Receiver is the consuming side of a DropOld subscription.
type Receiver interface {
	// Receive blocks until an event newer than the last one received is
	// available. ok is false once the receiver is closed.
	Receive() (ev Event, ok bool)
	// TryReceive returns the newest unreceived event without blocking.
	TryReceive() (ev Event, ok bool)
	Close()
}

// SubscriberStats tracks delivery for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}
