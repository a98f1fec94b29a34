package sse

// PublishRequest routes one message to the subscribers of a channel.
type PublishRequest[T any] struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message T      `json:"message" msgpack:"message"`
}

// Subscriber is an upstream source of publish requests, typically a stream
// consumer shared by every instance.
type Subscriber[T any] interface {
	Subscribe() <-chan PublishRequest[T]
}
