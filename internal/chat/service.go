package chat

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"go-dm/internal/apperr"
	"go-dm/internal/message"
	"go-dm/internal/metrics"
	"go-dm/internal/user"
)

var (
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSenderNotFound    = errors.New("sender not found")
	ErrUnknownSender     = errors.New("unknown sender id")
)

// Scope decides who receives MessageCreated.
//
// ScopeAll sends every new message to every session and relies on clients filtering by their own id.
// That leaks message bodies to unrelated sessions and grows with the number of connections; it is
// kept as the default because existing clients depend on it. ScopeParticipants delivers only to the
// sessions of the sender and the receiver.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeParticipants
)

func ParseScope(s string) (Scope, error) {
	switch s {
	case "", "all":
		return ScopeAll, nil
	case "participants":
		return ScopeParticipants, nil
	}
	return ScopeAll, apperr.Validation("chat.ParseScope", "unknown broadcast scope "+strconv.Quote(s))
}

// Directory is the part of user.Directory the service needs.
type Directory interface {
	ResolveOrCreate(ctx context.Context, name string) (int64, bool, error)
	ResolveByName(ctx context.Context, name string) (int64, error)
	ListAll(ctx context.Context) ([]user.User, error)
}

type RegisterResult struct {
	UserID  int64 `json:"userId"`
	Created bool  `json:"created"`
}

type sendInput struct {
	Body string `validate:"required,max=1000"`
}

var validate = validator.New()

// Service implements the client-facing operations. It holds no domain state, so any number of
// instances may share the same stores.
type Service struct {
	users    Directory
	messages message.Store
	out      Broadcaster
	scope    Scope
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewService(users Directory, messages message.Store, out Broadcaster, scope Scope, log zerolog.Logger, m *metrics.Metrics) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{
		users:    users,
		messages: messages,
		out:      out,
		scope:    scope,
		log:      log,
		metrics:  m,
	}
}

// Register resolves name to an id, creating the user on first sight.
// UserCreated goes out only for the call that created the row.
func (s *Service) Register(ctx context.Context, name string) (RegisterResult, error) {
	id, created, err := s.users.ResolveOrCreate(ctx, name)
	s.metrics.Observe("register", err)
	if err != nil {
		s.logFailure("register", err)
		return RegisterResult{}, err
	}

	if created {
		s.metrics.UsersCreatedTotal.Inc()
		s.log.Info().Int64("user_id", id).Str("name", name).Msg("user.created")
		s.publish(ctx, UserCreated{ID: id, Name: name}, nil)
	}
	return RegisterResult{UserID: id, Created: created}, nil
}

// Send stores a message from senderID to the user called receiverName and announces it.
func (s *Service) Send(ctx context.Context, senderID int64, receiverName, body string) (MessageCreated, error) {
	out, err := s.send(ctx, senderID, receiverName, body)
	s.metrics.Observe("send", err)
	if err != nil {
		s.logFailure("send", err)
	}
	return out, err
}

func (s *Service) send(ctx context.Context, senderID int64, receiverName, body string) (MessageCreated, error) {
	if err := validate.Struct(sendInput{Body: body}); err != nil {
		return MessageCreated{}, apperr.E("chat.Send", apperr.ErrValidation, err)
	}

	receiverID, err := s.users.ResolveByName(ctx, receiverName)
	if err != nil {
		if apperr.IsNotFound(err) {
			return MessageCreated{}, apperr.E("chat.Send", apperr.ErrNotFound, ErrRecipientNotFound)
		}
		return MessageCreated{}, err
	}

	m, err := s.messages.Append(ctx, senderID, receiverID, body)
	if err != nil {
		// The receiver was just resolved, so a dangling reference is the sender.
		if apperr.IsForeignKey(err) {
			return MessageCreated{}, apperr.E("chat.Send", apperr.ErrForeignKey, ErrUnknownSender)
		}
		return MessageCreated{}, err
	}
	s.metrics.MessagesTotal.Inc()

	ev := MessageCreated{MessageRecord: NewMessageRecord(m)}
	s.publish(ctx, ev, s.messageTargets(senderID, receiverID))
	return ev, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]user.User, error) {
	users, err := s.users.ListAll(ctx)
	s.metrics.Observe("list_users", err)
	if err != nil {
		s.logFailure("list_users", err)
		return nil, err
	}
	return users, nil
}

// History returns the conversation between userID and receiverName.
// An unknown name yields an empty history, not an error.
func (s *Service) History(ctx context.Context, userID int64, receiverName string) ([]message.Message, error) {
	msgs, err := s.history(ctx, userID, receiverName)
	s.metrics.Observe("history", err)
	if err != nil {
		s.logFailure("history", err)
	}
	return msgs, err
}

func (s *Service) history(ctx context.Context, userID int64, receiverName string) ([]message.Message, error) {
	receiverID, err := s.users.ResolveByName(ctx, receiverName)
	if err != nil {
		if apperr.IsNotFound(err) {
			return []message.Message{}, nil
		}
		return nil, err
	}
	return message.Collect(s.messages.Conversation(ctx, userID, receiverID))
}

// MarkAsRead marks everything senderName sent to userID as read.
func (s *Service) MarkAsRead(ctx context.Context, userID int64, senderName string) error {
	err := s.markAsRead(ctx, userID, senderName)
	s.metrics.Observe("mark_as_read", err)
	if err != nil {
		s.logFailure("mark_as_read", err)
	}
	return err
}

func (s *Service) markAsRead(ctx context.Context, userID int64, senderName string) error {
	senderID, err := s.users.ResolveByName(ctx, senderName)
	if err != nil {
		if apperr.IsNotFound(err) {
			return apperr.E("chat.MarkAsRead", apperr.ErrNotFound, ErrSenderNotFound)
		}
		return err
	}

	n, err := s.messages.MarkRead(ctx, userID, senderID)
	if err != nil {
		return err
	}
	s.log.Debug().Int64("user_id", userID).Int64("sender_id", senderID).Int64("marked", n).Msg("messages.read")
	return nil
}

func (s *Service) UnreadSummary(ctx context.Context, userID int64) (map[int64]int, error) {
	counts, err := s.messages.UnreadCounts(ctx, userID)
	s.metrics.Observe("unread_summary", err)
	if err != nil {
		s.logFailure("unread_summary", err)
		return nil, err
	}
	return counts, nil
}

func (s *Service) messageTargets(senderID, receiverID int64) []int64 {
	if s.scope == ScopeParticipants {
		return []int64{senderID, receiverID}
	}
	return nil
}

// publish runs after the write returned. A failed delivery is logged; the write stands.
func (s *Service) publish(ctx context.Context, ev Event, targets []int64) {
	s.metrics.EventsTotal.WithLabelValues(ev.EventName()).Inc()
	if err := s.out.Publish(ctx, ev, targets); err != nil {
		s.log.Warn().Err(err).Str("event", ev.EventName()).Msg("broadcast.failed")
	}
}

func (s *Service) logFailure(op string, err error) {
	switch {
	case apperr.IsValidation(err), apperr.IsNotFound(err):
		s.log.Debug().Err(err).Str("op", op).Msg("request.rejected")
	default:
		s.log.Error().Err(err).Str("op", op).Msg("request.failed")
	}
}
