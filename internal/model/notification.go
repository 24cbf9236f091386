package model

import "encoding/json"

// Notification statuses for terminal transitions. progress_change carries
// the running progress number instead.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Notification is the per-event payload delivered to live clients.
type Notification struct {
	Type   string `json:"type"`
	Action Action `json:"action"`
	Status any    `json:"status"`
	Body   any    `json:"body"`
	Error  any    `json:"error"`
}

// Envelope is the wire format published on a message-type channel.
type Envelope struct {
	Message         map[string]Notification `json:"message"`
	RoutingStrategy string                  `json:"routing_strategy"`
	RoutingKey      string                  `json:"routing_key"`
}

// RoutedMessage is the subset of an inbound envelope that receivers need
// before deciding whether to forward it. Message is kept verbatim so custom
// payloads pass through untouched.
type RoutedMessage struct {
	Message         json.RawMessage `json:"message"`
	RoutingStrategy string          `json:"routing_strategy"`
	RoutingKey      string          `json:"routing_key"`
}
