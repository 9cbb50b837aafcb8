package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/adapter/metrics"
	"github.com/pscheid92/quickpoll/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	opCreate = "create"
	opVote   = "vote"
	opLike   = "like"
	opEdit   = "edit"
	opDelete = "delete"
)

// Broadcaster delivers an event to every connected client.
type Broadcaster interface {
	Broadcast(ctx context.Context, event domain.Event) error
}

type Service struct {
	store       domain.PollStore
	broadcaster Broadcaster
	metrics     *metrics.PollMetrics
	clock       clockwork.Clock
	locks       *keyLock
	listGroup   singleflight.Group
	newToken    func() (string, error)
}

func NewService(store domain.PollStore, broadcaster Broadcaster, m *metrics.PollMetrics, clock clockwork.Clock) *Service {
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		metrics:     m,
		clock:       clock,
		locks:       newKeyLock(),
		newToken:    NewToken,
	}
}

// ListPolls returns every poll. Concurrent calls share one store query.
func (s *Service) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	v, err, shared := s.listGroup.Do("all", func() (any, error) {
		return s.store.ListPolls(context.WithoutCancel(ctx))
	})
	if shared {
		s.metrics.ListShared.Inc()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	return v.([]domain.Poll), nil
}

func (s *Service) GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error) {
	return s.store.GetPoll(ctx, pollID)
}

// CreatePoll stores a new poll with a fresh management token and announces it.
// The returned poll carries the token; it is the only time the token leaves
// the service.
func (s *Service) CreatePoll(ctx context.Context, question string, options []string) (poll *domain.Poll, err error) {
	defer s.observe(opCreate, s.clock.Now(), &err)

	q, err := domain.NormalizeQuestion(question)
	if err != nil {
		return nil, err
	}
	inputs, err := domain.NormalizeOptions(domain.NewOptionInputs(options))
	if err != nil {
		return nil, err
	}

	token, err := s.newToken()
	if err != nil {
		return nil, err
	}

	created, err := s.store.CreatePoll(ctx, q, domain.OptionTexts(inputs), token)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}

	slog.InfoContext(ctx, "Poll created", "poll_id", created.ID, "options", len(created.Options))
	s.publish(ctx, opCreate, created.ID, func(p *domain.Poll) domain.Event { return domain.NewPollCreatedEvent(p) })
	return created, nil
}

// Vote adds one vote to optionID and broadcasts the poll's current counts.
func (s *Service) Vote(ctx context.Context, optionID int64) (err error) {
	defer s.observe(opVote, s.clock.Now(), &err)

	option, err := s.store.IncrementVote(ctx, optionID)
	if err != nil {
		return fmt.Errorf("failed to vote for option %d: %w", optionID, err)
	}

	s.publish(ctx, opVote, option.PollID, func(p *domain.Poll) domain.Event { return domain.NewVoteEvent(p) })
	return nil
}

// Like adds one like to pollID and broadcasts the new like count.
func (s *Service) Like(ctx context.Context, pollID int64) (err error) {
	defer s.observe(opLike, s.clock.Now(), &err)

	if _, err := s.store.IncrementLike(ctx, pollID); err != nil {
		return fmt.Errorf("failed to like poll %d: %w", pollID, err)
	}

	s.publish(ctx, opLike, pollID, func(p *domain.Poll) domain.Event { return domain.NewLikeEvent(p) })
	return nil
}

// EditPoll replaces question and options of a poll the caller holds the token
// for and returns the canonical post-edit poll. The poll is nil when it was
// deleted by a concurrent request right after the edit committed.
func (s *Service) EditPoll(ctx context.Context, pollID int64, token, question string, options []domain.OptionInput) (poll *domain.Poll, err error) {
	defer s.observe(opEdit, s.clock.Now(), &err)

	q, err := domain.NormalizeQuestion(question)
	if err != nil {
		return nil, err
	}
	inputs, err := domain.NormalizeOptions(options)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, pollID, token); err != nil {
		return nil, err
	}

	if err := s.store.ReplacePollContent(ctx, pollID, q, inputs); err != nil {
		return nil, fmt.Errorf("failed to edit poll %d: %w", pollID, err)
	}

	slog.InfoContext(ctx, "Poll edited", "poll_id", pollID, "options", len(inputs))
	return s.publish(ctx, opEdit, pollID, func(p *domain.Poll) domain.Event { return domain.NewPollEditedEvent(p) }), nil
}

// DeletePoll removes a poll and its options if the token matches.
func (s *Service) DeletePoll(ctx context.Context, pollID int64, token string) (err error) {
	defer s.observe(opDelete, s.clock.Now(), &err)

	if err := s.authorize(ctx, pollID, token); err != nil {
		return err
	}

	if err := s.store.DeletePoll(ctx, pollID); err != nil {
		return fmt.Errorf("failed to delete poll %d: %w", pollID, err)
	}

	slog.InfoContext(ctx, "Poll deleted", "poll_id", pollID)

	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.Lock(pollID)
	defer unlock()
	s.broadcast(ctx, domain.NewPollDeletedEvent(pollID))
	return nil
}

func (s *Service) authorize(ctx context.Context, pollID int64, token string) error {
	poll, err := s.store.GetPoll(ctx, pollID)
	if err != nil {
		return fmt.Errorf("failed to load poll %d: %w", pollID, err)
	}
	if !tokensMatch(poll.Token, token) {
		slog.InfoContext(ctx, "Rejected poll token", "poll_id", pollID)
		return domain.ErrInvalidToken
	}
	return nil
}

// publish re-reads the committed poll and broadcasts the event built from it,
// holding the poll's lock so events for one poll leave in commit order.
// The mutation has already committed, so failures here are logged and the
// event is skipped; the caller still succeeds.
func (s *Service) publish(ctx context.Context, op string, pollID int64, build func(*domain.Poll) domain.Event) *domain.Poll {
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(pollID)
	defer unlock()

	poll, err := s.store.GetPoll(ctx, pollID)
	if errors.Is(err, domain.ErrPollNotFound) {
		slog.InfoContext(ctx, "Poll vanished before broadcast", "operation", op, "poll_id", pollID)
		s.metrics.SkippedEvents.WithLabelValues("poll_gone").Inc()
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to re-read poll for broadcast", "operation", op, "poll_id", pollID, "error", err)
		s.metrics.SkippedEvents.WithLabelValues("reread_failed").Inc()
		return nil
	}

	s.broadcast(ctx, build(poll))
	return poll
}

func (s *Service) broadcast(ctx context.Context, event domain.Event) {
	if err := s.broadcaster.Broadcast(ctx, event); err != nil {
		slog.ErrorContext(ctx, "Failed to broadcast event",
			"event_type", event.EventType(),
			"poll_id", event.TargetPollID(),
			"error", err,
		)
		s.metrics.SkippedEvents.WithLabelValues("serialization").Inc()
	}
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	s.metrics.MutationDuration.WithLabelValues(op).Observe(s.clock.Since(start).Seconds())
	s.metrics.Mutations.WithLabelValues(op, resultLabel(*errp)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPollNotFound), errors.Is(err, domain.ErrOptionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidToken):
		return "forbidden"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
