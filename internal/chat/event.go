package chat

import (
	"time"

	"go-dm/internal/message"
)

const (
	EventUserCreated    = "newUser"
	EventMessageCreated = "newMessage"
	EventError          = "error"
	EventAck            = "ack"
)

// Event is something the service announces after a committed write.
type Event interface {
	EventName() string
}

type UserCreated struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (UserCreated) EventName() string { return EventUserCreated }

// MessageRecord is the wire shape of a stored message.
type MessageRecord struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderid"`
	ReceiverID int64     `json:"receiverid"`
	Body       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewMessageRecord(m message.Message) MessageRecord {
	return MessageRecord{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Timestamp:  m.Timestamp,
	}
}

type MessageCreated struct {
	MessageRecord
}

func (MessageCreated) EventName() string { return EventMessageCreated }

// BroadcastMessage is what travels through the hub and over Redis.
// Empty Targets means every session.
type BroadcastMessage struct {
	Targets []int64 `json:"targets,omitempty"`
	Payload []byte  `json:"payload"`
}
