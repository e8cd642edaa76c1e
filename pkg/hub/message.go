// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "encoding/json"

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data
	BinaryMessage
)

// Message represents a message to be broadcast to clients
type Message struct {
	Type MessageType
	Data []byte
}

// Envelope tags a JSON payload with its kind, e.g. "status" or "turn".
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// NewEnvelope encodes v inside an Envelope of the given type.
func NewEnvelope(typ string, v any) (Message, error) {
	data, err := json.Marshal(Envelope{Type: typ, Data: v})
	if err != nil {
		return Message{}, err
	}
	return NewJSONMessage(data), nil
}
