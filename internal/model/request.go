package model

import "encoding/json"

// Request is the task input persisted with an event so the task can be
// re-submitted by a retry. EventID is assigned before submission so the
// caller knows the id of the event the task will create.
type Request struct {
	EventID  string          `json:"event_id"`
	UserID   string          `json:"user_id"`
	Data     json.RawMessage `json:"data,omitempty"`
	Args     map[string]any  `json:"args,omitempty"`
	SendMail bool            `json:"send_mail,omitempty"`
}
