package chat

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"go-dm/internal/apperr"
	"go-dm/internal/message"
	"go-dm/internal/metrics"
	"go-dm/internal/user"
)

type published struct {
	ev      Event
	targets []int64
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingBroadcaster) Publish(_ context.Context, ev Event, targets []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{ev: ev, targets: targets})
	return nil
}

func (r *recordingBroadcaster) snapshot() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

func (r *recordingBroadcaster) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type testEnv struct {
	svc   *Service
	out   *recordingBroadcaster
	store *message.MemoryStore
}

func newTestEnv(scope Scope) testEnv {
	users := user.NewMemoryRepository()
	store := message.NewMemoryStore(users)
	out := &recordingBroadcaster{}
	svc := NewService(user.NewDirectory(users), store, out, scope, zerolog.Nop(), metrics.NewNop())
	return testEnv{svc: svc, out: out, store: store}
}

func (e testEnv) register(t *testing.T, name string) int64 {
	t.Helper()
	res, err := e.svc.Register(context.Background(), name)
	require.NoError(t, err)
	return res.UserID
}

func TestService_Register_IsIdempotent(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(ScopeAll)
	ctx := context.Background()

	first, err := env.svc.Register(ctx, "A")
	req.NoError(err)
	req.True(first.Created)

	second, err := env.svc.Register(ctx, "A")
	req.NoError(err)
	req.False(second.Created)
	req.Equal(first.UserID, second.UserID)

	events := env.out.snapshot()
	req.Len(events, 1)
	req.Equal(UserCreated{ID: first.UserID, Name: "A"}, events[0].ev)
	req.Nil(events[0].targets)
}

func TestService_Register_ConcurrentSameName(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(ScopeAll)

	const workers = 32
	var wg sync.WaitGroup
	results := make([]RegisterResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Register(context.Background(), "A")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		req.NoError(errs[i])
		req.Equal(results[0].UserID, results[i].UserID)
		if results[i].Created {
			created++
		}
	}
	req.Equal(1, created)
	req.Len(env.out.snapshot(), 1)
}

func TestService_Register_EmptyName(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(ScopeAll)

	_, err := env.svc.Register(context.Background(), "")

	req.ErrorIs(err, apperr.ErrValidation)
	req.Empty(env.out.snapshot())
	users, err := env.svc.ListUsers(context.Background())
	req.NoError(err)
	req.Empty(users)
}

func TestService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and broadcasts to everyone by default", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeAll)
		a := env.register(t, "A")
		b := env.register(t, "B")
		env.out.reset()

		ev, err := env.svc.Send(ctx, a, "B", "hi")

		req.NoError(err)
		req.Equal(a, ev.SenderID)
		req.Equal(b, ev.ReceiverID)
		req.Equal("hi", ev.Body)
		req.False(ev.Timestamp.IsZero())

		events := env.out.snapshot()
		req.Len(events, 1)
		req.Equal(ev, events[0].ev)
		req.Nil(events[0].targets)
	})

	t.Run("participants scope targets sender and receiver", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeParticipants)
		a := env.register(t, "A")
		b := env.register(t, "B")
		env.out.reset()

		_, err := env.svc.Send(ctx, a, "B", "hi")
		req.NoError(err)

		events := env.out.snapshot()
		req.Len(events, 1)
		req.Equal([]int64{a, b}, events[0].targets)
	})

	t.Run("unknown recipient stores nothing and broadcasts nothing", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeAll)
		a := env.register(t, "A")
		env.out.reset()

		_, err := env.svc.Send(ctx, a, "ghost", "hi")

		req.ErrorIs(err, ErrRecipientNotFound)
		req.ErrorIs(err, apperr.ErrNotFound)
		req.Equal(msgRecipientNotFound, sendError(err))
		req.Empty(env.out.snapshot())

		counts, err := env.store.UnreadCounts(ctx, a)
		req.NoError(err)
		req.Empty(counts)
	})

	t.Run("unknown sender id is not reported as a missing recipient", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeAll)
		env.register(t, "B")
		env.out.reset()

		_, err := env.svc.Send(ctx, 999, "B", "hi")

		req.ErrorIs(err, apperr.ErrForeignKey)
		req.Equal(msgMessageNotSent, sendError(err))
		req.Empty(env.out.snapshot())
	})

	t.Run("body length is bounded in code points", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeAll)
		a := env.register(t, "A")
		env.register(t, "B")

		_, err := env.svc.Send(ctx, a, "B", strings.Repeat("ж", message.MaxBodyLength))
		req.NoError(err)

		_, err = env.svc.Send(ctx, a, "B", strings.Repeat("ж", message.MaxBodyLength+1))
		req.ErrorIs(err, apperr.ErrValidation)

		_, err = env.svc.Send(ctx, a, "B", "")
		req.ErrorIs(err, apperr.ErrValidation)
	})
}

func TestService_History(t *testing.T) {
	ctx := context.Background()

	t.Run("ordered and symmetric", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeAll)
		a := env.register(t, "A")
		b := env.register(t, "B")
		c := env.register(t, "C")

		m1, err := env.svc.Send(ctx, a, "B", "m1")
		req.NoError(err)
		_, err = env.svc.Send(ctx, c, "A", "noise")
		req.NoError(err)
		m2, err := env.svc.Send(ctx, b, "A", "m2")
		req.NoError(err)
		_, err = env.svc.Send(ctx, b, "C", "noise")
		req.NoError(err)
		m3, err := env.svc.Send(ctx, a, "B", "m3")
		req.NoError(err)

		ab, err := env.svc.History(ctx, a, "B")
		req.NoError(err)
		ids := make([]int64, 0, len(ab))
		for _, m := range ab {
			ids = append(ids, m.ID)
		}
		req.Equal([]int64{m1.ID, m2.ID, m3.ID}, ids)

		ba, err := env.svc.History(ctx, b, "A")
		req.NoError(err)
		req.Equal(ab, ba)
	})

	t.Run("unknown name is an empty history", func(t *testing.T) {
		req := require.New(t)
		env := newTestEnv(ScopeAll)
		a := env.register(t, "A")

		msgs, err := env.svc.History(ctx, a, "ghost")
		req.NoError(err)
		req.NotNil(msgs)
		req.Empty(msgs)
	})
}

func TestService_UnreadAccounting(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(ScopeAll)
	a := env.register(t, "A")
	b := env.register(t, "B")

	for i := 0; i < 3; i++ {
		_, err := env.svc.Send(ctx, a, "B", "ping")
		req.NoError(err)
	}

	summary, err := env.svc.UnreadSummary(ctx, b)
	req.NoError(err)
	req.Equal(map[int64]int{a: 3}, summary)

	req.NoError(env.svc.MarkAsRead(ctx, b, "A"))

	summary, err = env.svc.UnreadSummary(ctx, b)
	req.NoError(err)
	req.Empty(summary)
	_, present := summary[a]
	req.False(present)
}

func TestService_MarkAsRead_IsMonotonic(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(ScopeAll)
	a := env.register(t, "A")
	b := env.register(t, "B")

	_, err := env.svc.Send(ctx, a, "B", "one")
	req.NoError(err)
	req.NoError(env.svc.MarkAsRead(ctx, b, "A"))
	req.NoError(env.svc.MarkAsRead(ctx, b, "A"))

	msgs, err := env.svc.History(ctx, b, "A")
	req.NoError(err)
	req.Len(msgs, 1)
	req.True(msgs[0].Read)
}

func TestService_MarkAsRead_OnlyCallersInbox(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	env := newTestEnv(ScopeAll)
	a := env.register(t, "A")
	b := env.register(t, "B")

	_, err := env.svc.Send(ctx, a, "B", "to b")
	req.NoError(err)

	// A "reading" its conversation with B must not mark B's inbox.
	req.NoError(env.svc.MarkAsRead(ctx, a, "B"))

	summary, err := env.svc.UnreadSummary(ctx, b)
	req.NoError(err)
	req.Equal(map[int64]int{a: 1}, summary)
}

func TestService_MarkAsRead_UnknownSender(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(ScopeAll)
	a := env.register(t, "A")

	err := env.svc.MarkAsRead(context.Background(), a, "ghost")

	req.ErrorIs(err, ErrSenderNotFound)
	req.Equal(msgSenderNotFound, markAsReadError(err))
}

func TestService_ListUsers(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(ScopeAll)
	a := env.register(t, "A")
	b := env.register(t, "B")

	users, err := env.svc.ListUsers(context.Background())
	req.NoError(err)
	req.Equal([]user.User{{ID: a, Name: "A"}, {ID: b, Name: "B"}}, users)
}

func TestParseScope(t *testing.T) {
	req := require.New(t)

	s, err := ParseScope("all")
	req.NoError(err)
	req.Equal(ScopeAll, s)

	s, err = ParseScope("participants")
	req.NoError(err)
	req.Equal(ScopeParticipants, s)

	_, err = ParseScope("room")
	req.ErrorIs(err, apperr.ErrValidation)
}
