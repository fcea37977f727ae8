package message

import (
	"iter"
	"time"
)

// MaxBodyLength bounds a message body in code points.
const MaxBodyLength = 1000

type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Body       string    `json:"body"`
	Timestamp  time.Time `json:"timestamp"`
	Read       bool      `json:"read"`
}

// Collect drains a conversation sequence, stopping at the first error.
func Collect(seq iter.Seq2[Message, error]) ([]Message, error) {
	out := []Message{}
	for m, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
