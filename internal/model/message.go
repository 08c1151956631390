package model

import (
	"encoding/json"
	"time"
)

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
)

// Terminal reports whether a status may no longer change.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionStatus   Direction = "status"
)

type EventType string

const (
	EventText     EventType = "text"
	EventTemplate EventType = "template"
	EventMedia    EventType = "media"
	EventStatus   EventType = "status"
)

// Template references a pre-approved provider template. Variables fill the
// body component parameters in order.
type Template struct {
	Name      string     `json:"name"`
	Language  string     `json:"language"`
	Variables StringList `json:"variables,omitempty"`
}

// ScheduledMessage is one unit of outbound work. Status moves
// pending -> processing -> sent|failed; sent and failed are terminal.
type ScheduledMessage struct {
	ID             string         `json:"id"`
	Recipients     StringList     `json:"recipients"`
	Body           string         `json:"body"`
	Template       *Template      `json:"template,omitempty"`
	ScheduledAt    time.Time      `json:"scheduledAt"`
	Status         Status         `json:"status"`
	IsRecurring    bool           `json:"isRecurring"`
	Recurrence     RecurrenceRule `json:"recurrence"`
	LastOccurrence *time.Time     `json:"lastOccurrence,omitempty"`
	ParentID       *string        `json:"parentId,omitempty"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// RootID returns the id of the root record of a recurrence chain. Roots carry
// no parent id and are their own root.
func (m *ScheduledMessage) RootID() string {
	if m.ParentID != nil && *m.ParentID != "" {
		return *m.ParentID
	}
	return m.ID
}

// InboxEvent is an append-only fact about one message crossing the channel.
// Events are never mutated after insert.
type InboxEvent struct {
	ID        string          `json:"id"`
	Direction Direction       `json:"direction"`
	Timestamp time.Time       `json:"timestamp"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      EventType       `json:"type"`
	Text      string          `json:"text"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}
