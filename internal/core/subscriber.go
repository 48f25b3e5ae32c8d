package core

// Subscriber is a live connection that can receive broadcast messages.
type Subscriber interface {
	// Deliver hands msg to the subscriber's outbound queue without blocking.
	// It returns false when the queue is full.
	Deliver(msg Message) bool
}
