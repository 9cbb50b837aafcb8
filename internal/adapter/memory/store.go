// Package memory implements domain.PollStore in process memory.
// State is lost on restart; it backs STORE_BACKEND=memory and tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/domain"
)

type Store struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	polls        map[int64]*domain.Poll
	options      map[int64]*domain.Option
	nextPollID   int64
	nextOptionID int64
}

func NewStore(clock clockwork.Clock) *Store {
	return &Store{
		clock:   clock,
		polls:   make(map[int64]*domain.Poll),
		options: make(map[int64]*domain.Option),
	}
}

func (s *Store) CreatePoll(_ context.Context, question string, options []string, token string) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPollID++
	p := &domain.Poll{
		ID:        s.nextPollID,
		Question:  question,
		Token:     token,
		CreatedAt: s.clock.Now().UTC(),
	}
	s.polls[p.ID] = p
	for _, text := range options {
		s.insertOption(p.ID, text)
	}
	return s.snapshot(p), nil
}

func (s *Store) GetPoll(_ context.Context, pollID int64) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return nil, domain.ErrPollNotFound
	}
	return s.snapshot(p), nil
}

func (s *Store) ListPolls(_ context.Context) ([]domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.polls))
	for id := range s.polls {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]domain.Poll, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.snapshot(s.polls[id]))
	}
	return out, nil
}

func (s *Store) IncrementVote(_ context.Context, optionID int64) (*domain.Option, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.options[optionID]
	if !ok {
		return nil, domain.ErrOptionNotFound
	}
	o.Votes++
	cp := *o
	return &cp, nil
}

func (s *Store) IncrementLike(_ context.Context, pollID int64) (*domain.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return nil, domain.ErrPollNotFound
	}
	p.Likes++
	return s.snapshot(p), nil
}

func (s *Store) ReplacePollContent(_ context.Context, pollID int64, question string, options []domain.OptionInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[pollID]
	if !ok {
		return domain.ErrPollNotFound
	}
	p.Question = question

	owned := make(map[int64]*domain.Option)
	for id, o := range s.options {
		if o.PollID == pollID {
			owned[id] = o
		}
	}

	// an input updates in place only the first time it names an owned option
	kept := make(map[int64]bool, len(options))
	for _, in := range options {
		if o, ok := owned[in.ID]; ok && !kept[in.ID] {
			o.Text = in.Text
			kept[in.ID] = true
			continue
		}
		s.insertOption(pollID, in.Text)
	}

	for id := range owned {
		if !kept[id] {
			delete(s.options, id)
		}
	}
	return nil
}

func (s *Store) DeletePoll(_ context.Context, pollID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.polls[pollID]; !ok {
		return domain.ErrPollNotFound
	}
	for id, o := range s.options {
		if o.PollID == pollID {
			delete(s.options, id)
		}
	}
	delete(s.polls, pollID)
	return nil
}

// Ping always succeeds; it lets the memory store stand in for a readiness check.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) insertOption(pollID int64, text string) int64 {
	s.nextOptionID++
	s.options[s.nextOptionID] = &domain.Option{ID: s.nextOptionID, PollID: pollID, Text: text}
	return s.nextOptionID
}

// snapshot copies p and attaches its options ordered by id. Caller holds mu.
func (s *Store) snapshot(p *domain.Poll) *domain.Poll {
	cp := *p
	cp.Options = []domain.Option{}
	for _, o := range s.options {
		if o.PollID == p.ID {
			cp.Options = append(cp.Options, *o)
		}
	}
	slices.SortFunc(cp.Options, func(a, b domain.Option) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return &cp
}
