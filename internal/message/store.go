//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_message_store.go -package=mocks
package message

import (
	"context"
	"database/sql"
	"iter"

	"go-dm/internal/db"
)

// Store persists direct messages.
//
// Requirements:
//   - Append stamps the message with the store clock and read=false; a missing user is apperr.ErrForeignKey
//   - Conversation is symmetric in its two ids and ordered by timestamp, then id
//   - MarkRead only ever flips read from false to true
//   - UnreadCounts omits senders without unread messages
type Store interface {
	Append(ctx context.Context, senderID, receiverID int64, body string) (Message, error)
	Conversation(ctx context.Context, userA, userB int64) iter.Seq2[Message, error]
	MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error)
	UnreadCounts(ctx context.Context, receiverID int64) (map[int64]int, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, senderID, receiverID int64, body string) (Message, error) {
	m := Message{SenderID: senderID, ReceiverID: receiverID, Body: body}
	query := `INSERT INTO messages (sender_id, receiver_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, is_read`

	err := s.db.QueryRowContext(ctx, query, senderID, receiverID, body).Scan(&m.ID, &m.Timestamp, &m.Read)
	if err != nil {
		return Message{}, db.Classify("message.Append", err)
	}
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

// Conversation runs its query each time the sequence is ranged over.
func (s *PostgresStore) Conversation(ctx context.Context, userA, userB int64) iter.Seq2[Message, error] {
	query := `
		SELECT id, sender_id, receiver_id, body, created_at, is_read
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC
	`
	return func(yield func(Message, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, userA, userB)
		if err != nil {
			yield(Message{}, db.Classify("message.Conversation", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &m.Timestamp, &m.Read); err != nil {
				yield(Message{}, db.Classify("message.Conversation", err))
				return
			}
			m.Timestamp = m.Timestamp.UTC()
			if !yield(m, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Message{}, db.Classify("message.Conversation", err))
		}
	}
}

func (s *PostgresStore) MarkRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	query := `UPDATE messages SET is_read = true
		WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`

	res, err := s.db.ExecContext(ctx, query, receiverID, senderID)
	if err != nil {
		return 0, db.Classify("message.MarkRead", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, db.Classify("message.MarkRead", err)
	}
	return n, nil
}

func (s *PostgresStore) UnreadCounts(ctx context.Context, receiverID int64) (map[int64]int, error) {
	query := `SELECT sender_id, count(*)
		FROM messages
		WHERE receiver_id = $1 AND NOT is_read
		GROUP BY sender_id`

	rows, err := s.db.QueryContext(ctx, query, receiverID)
	if err != nil {
		return nil, db.Classify("message.UnreadCounts", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			sender int64
			n      int
		)
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, db.Classify("message.UnreadCounts", err)
		}
		counts[sender] = n
	}
	if err := rows.Err(); err != nil {
		return nil, db.Classify("message.UnreadCounts", err)
	}
	return counts, nil
}
