package message

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"go-dm/internal/apperr"
)

// UserExister stands in for the users foreign key.
type UserExister interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// MemoryStore is the in-process Store used without DB_DSN and in tests.
type MemoryStore struct {
	users UserExister
	now   func() time.Time

	mu   sync.RWMutex
	msgs []Message // ordered by id
}

type MemoryOption func(*MemoryStore)

// WithClock replaces the store clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(users UserExister, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Append(ctx context.Context, senderID, receiverID int64, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, apperr.Store("message.Append", err)
	}
	for _, id := range []int64{senderID, receiverID} {
		ok, err := s.users.Exists(ctx, id)
		if err != nil {
			return Message{}, err
		}
		if !ok {
			return Message{}, apperr.E("message.Append", apperr.ErrForeignKey, nil)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Message{
		ID:         int64(len(s.msgs)) + 1,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Timestamp:  s.now(),
	}
	s.msgs = append(s.msgs, m)
	return m, nil
}

// Conversation snapshots the matching messages when ranged over.
func (s *MemoryStore) Conversation(ctx context.Context, userA, userB int64) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(Message{}, apperr.Store("message.Conversation", err))
			return
		}

		s.mu.RLock()
		var snap []Message
		for _, m := range s.msgs {
			if (m.SenderID == userA && m.ReceiverID == userB) || (m.SenderID == userB && m.ReceiverID == userA) {
				snap = append(snap, m)
			}
		}
		s.mu.RUnlock()

		// The injected clock may go backwards; order like the SQL query does.
		sort.SliceStable(snap, func(i, j int) bool {
			if snap[i].Timestamp.Equal(snap[j].Timestamp) {
				return snap[i].ID < snap[j].ID
			}
			return snap[i].Timestamp.Before(snap[j].Timestamp)
		})

		for _, m := range snap {
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Store("message.MarkRead", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.ReceiverID == receiverID && m.SenderID == senderID && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UnreadCounts(ctx context.Context, receiverID int64) (map[int64]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("message.UnreadCounts", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[int64]int)
	for _, m := range s.msgs {
		if m.ReceiverID == receiverID && !m.Read {
			counts[m.SenderID]++
		}
	}
	return counts, nil
}
