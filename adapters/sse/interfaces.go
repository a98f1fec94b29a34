package sse

type IChannel[T any] interface {
	Subscribe() <-chan T
	Unsubscribe(ch <-chan T)
	// Close closes every subscription, current and future.
	Close()
	// Broadcast delivers message to every subscriber with room in its buffer and
	// returns how many were skipped.
	Broadcast(message T) int
	Len() int
}

type IConnectionManager[T any] interface {
	// Start begins relaying the upstream subscriber, if any. Call it before anything else.
	Start()
	// Done stops the manager and closes every subscription.
	Done()
	Subscribe(channelName string) (<-chan T, error)
	Publish(channelName string, data T) error
	Unsubscribe(channelName string, ch <-chan T)
}
