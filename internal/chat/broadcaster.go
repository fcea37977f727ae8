//go:generate go run go.uber.org/mock/mockgen -source=broadcaster.go -destination=../mocks/mock_broadcaster.go -package=mocks
package chat

import "context"

// Broadcaster delivers events to connected sessions. A nil targets slice means everyone;
// otherwise only sessions identified as one of the listed users receive the event.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event, targets []int64) error
}
