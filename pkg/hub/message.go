// Package hub fans messages published on one topic out to every subscriber
// of that topic, using a channel-driven register/unregister/broadcast loop.
package hub

// MessageType indicates the websocket frame type a message travels in.
type MessageType int

const (
	// BinaryMessage is an opaque payload, e.g. an encoded image.
	BinaryMessage MessageType = iota
	// TextMessage is a UTF-8 payload, e.g. a JSON detection array.
	TextMessage
)

// Message is one payload broadcast on a topic.
type Message struct {
	Type MessageType
	Data []byte
}

// NewBinaryMessage wraps an opaque payload.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// NewTextMessage wraps a UTF-8 payload.
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}
