package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/quickpoll/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// Key layout:
//
//	quickpoll:poll:seq            INCR counter for poll ids
//	quickpoll:option:seq          INCR counter for option ids
//	quickpoll:polls               ZSET of poll ids scored by id
//	quickpoll:poll:{id}           HASH question, token, likes, created_at
//	quickpoll:poll:{id}:options   ZSET of option ids scored by id
//	quickpoll:option:{id}         HASH poll_id, text, votes
const (
	keyPrefix       = "quickpoll:"
	pollSeqKey      = keyPrefix + "poll:seq"
	optionSeqKey    = keyPrefix + "option:seq"
	pollIndexKey    = keyPrefix + "polls"
	optionKeyPrefix = keyPrefix + "option:"

	maxWatchRetries = 10
)

var (
	//go:embed scripts/get_poll.lua
	getPollSource string
	//go:embed scripts/increment_vote.lua
	incrementVoteSource string
	//go:embed scripts/increment_like.lua
	incrementLikeSource string
	//go:embed scripts/delete_poll.lua
	deletePollSource string

	getPollScript       = goredis.NewScript(getPollSource)
	incrementVoteScript = goredis.NewScript(incrementVoteSource)
	incrementLikeScript = goredis.NewScript(incrementLikeSource)
	deletePollScript    = goredis.NewScript(deletePollSource)
)

// ErrContention is returned when an edit keeps losing its WATCH race.
var ErrContention = errors.New("poll edit aborted after repeated concurrent modification")

func pollKey(id int64) string        { return fmt.Sprintf("%spoll:%d", keyPrefix, id) }
func pollOptionsKey(id int64) string { return fmt.Sprintf("%spoll:%d:options", keyPrefix, id) }
func optionKey(id int64) string      { return optionKeyPrefix + strconv.FormatInt(id, 10) }

// PollStore is the Redis implementation of domain.PollStore.
type PollStore struct {
	rdb   *goredis.Client
	clock clockwork.Clock
}

var _ domain.PollStore = (*PollStore)(nil)

func NewPollStore(rdb *goredis.Client, clock clockwork.Clock) *PollStore {
	return &PollStore{rdb: rdb, clock: clock}
}

func (s *PollStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *PollStore) CreatePoll(ctx context.Context, question string, options []string, token string) (*domain.Poll, error) {
	pollID, err := s.rdb.Incr(ctx, pollSeqKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate poll id: %w", err)
	}
	lastOptionID, err := s.rdb.IncrBy(ctx, optionSeqKey, int64(len(options))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate option ids: %w", err)
	}
	firstOptionID := lastOptionID - int64(len(options)) + 1

	poll := &domain.Poll{
		ID:        pollID,
		Question:  question,
		Token:     token,
		CreatedAt: s.clock.Now().UTC(),
		Options:   make([]domain.Option, len(options)),
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, pollKey(pollID),
			"question", question,
			"token", token,
			"likes", 0,
			"created_at", poll.CreatedAt.Format(time.RFC3339Nano),
		)
		for i, text := range options {
			optionID := firstOptionID + int64(i)
			poll.Options[i] = domain.Option{ID: optionID, PollID: pollID, Text: text}
			pipe.HSet(ctx, optionKey(optionID), "poll_id", pollID, "text", text, "votes", 0)
			pipe.ZAdd(ctx, pollOptionsKey(pollID), goredis.Z{Score: float64(optionID), Member: optionID})
		}
		pipe.ZAdd(ctx, pollIndexKey, goredis.Z{Score: float64(pollID), Member: pollID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}
	return poll, nil
}

func (s *PollStore) GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error) {
	res, err := getPollScript.Run(ctx, s.rdb, []string{pollKey(pollID), pollOptionsKey(pollID)}, optionKeyPrefix).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}
	return decodePoll(pollID, res)
}

func (s *PollStore) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	ids, err := s.rdb.ZRange(ctx, pollIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list poll ids: %w", err)
	}

	polls := make([]domain.Poll, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt poll index entry %q: %w", raw, err)
		}
		poll, err := s.GetPoll(ctx, id)
		if errors.Is(err, domain.ErrPollNotFound) {
			// deleted between index read and fetch
			continue
		}
		if err != nil {
			return nil, err
		}
		polls = append(polls, *poll)
	}
	return polls, nil
}

func (s *PollStore) IncrementVote(ctx context.Context, optionID int64) (*domain.Option, error) {
	res, err := incrementVoteScript.Run(ctx, s.rdb, []string{optionKey(optionID)}).StringSlice()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrOptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment vote: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("unexpected vote script result length %d", len(res))
	}

	pollID, err := strconv.ParseInt(res[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt poll_id on option %d: %w", optionID, err)
	}
	votes, err := strconv.ParseInt(res[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt votes on option %d: %w", optionID, err)
	}
	return &domain.Option{ID: optionID, PollID: pollID, Text: res[1], Votes: votes}, nil
}

func (s *PollStore) IncrementLike(ctx context.Context, pollID int64) (*domain.Poll, error) {
	err := incrementLikeScript.Run(ctx, s.rdb, []string{pollKey(pollID)}).Err()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment like: %w", err)
	}
	return s.GetPoll(ctx, pollID)
}

func (s *PollStore) ReplacePollContent(ctx context.Context, pollID int64, question string, options []domain.OptionInput) error {
	for range maxWatchRetries {
		err := s.rdb.Watch(ctx, func(tx *goredis.Tx) error {
			return s.replaceInTx(ctx, tx, pollID, question, options)
		}, pollKey(pollID), pollOptionsKey(pollID))
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (s *PollStore) replaceInTx(ctx context.Context, tx *goredis.Tx, pollID int64, question string, options []domain.OptionInput) error {
	exists, err := tx.Exists(ctx, pollKey(pollID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check poll: %w", err)
	}
	if exists == 0 {
		return domain.ErrPollNotFound
	}

	current, err := tx.ZRange(ctx, pollOptionsKey(pollID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to load option ids: %w", err)
	}
	owned := make(map[int64]bool, len(current))
	for _, raw := range current {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt option index entry %q: %w", raw, err)
		}
		owned[id] = true
	}

	// an input updates in place only the first time it names an owned option
	update := make([]bool, len(options))
	kept := make(map[int64]bool, len(options))
	var inserts int64
	for i, in := range options {
		if owned[in.ID] && !kept[in.ID] {
			kept[in.ID] = true
			update[i] = true
			continue
		}
		inserts++
	}
	var nextID int64
	if inserts > 0 {
		last, err := tx.IncrBy(ctx, optionSeqKey, inserts).Result()
		if err != nil {
			return fmt.Errorf("failed to allocate option ids: %w", err)
		}
		nextID = last - inserts + 1
	}

	_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, pollKey(pollID), "question", question)

		for i, in := range options {
			if update[i] {
				pipe.HSet(ctx, optionKey(in.ID), "text", in.Text)
				continue
			}
			pipe.HSet(ctx, optionKey(nextID), "poll_id", pollID, "text", in.Text, "votes", 0)
			pipe.ZAdd(ctx, pollOptionsKey(pollID), goredis.Z{Score: float64(nextID), Member: nextID})
			nextID++
		}

		for id := range owned {
			if !kept[id] {
				pipe.Del(ctx, optionKey(id))
				pipe.ZRem(ctx, pollOptionsKey(pollID), id)
			}
		}
		return nil
	})
	return err
}

func (s *PollStore) DeletePoll(ctx context.Context, pollID int64) error {
	deleted, err := deletePollScript.Run(ctx, s.rdb,
		[]string{pollKey(pollID), pollOptionsKey(pollID), pollIndexKey},
		optionKeyPrefix, pollID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to delete poll: %w", err)
	}
	if deleted == 0 {
		return domain.ErrPollNotFound
	}
	return nil
}

func decodePoll(pollID int64, res []any) (*domain.Poll, error) {
	if len(res) < 4 || (len(res)-4)%3 != 0 {
		return nil, fmt.Errorf("unexpected poll script result length %d", len(res))
	}
	fields := make([]string, len(res))
	for i, v := range res {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected poll script value %T at %d", v, i)
		}
		fields[i] = str
	}

	likes, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt likes on poll %d: %w", pollID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[3])
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at on poll %d: %w", pollID, err)
	}

	poll := &domain.Poll{
		ID:        pollID,
		Question:  fields[0],
		Token:     fields[1],
		Likes:     likes,
		CreatedAt: createdAt,
		Options:   make([]domain.Option, 0, (len(fields)-4)/3),
	}
	for i := 4; i < len(fields); i += 3 {
		optionID, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt option id on poll %d: %w", pollID, err)
		}
		votes, err := strconv.ParseInt(fields[i+2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt votes on option %d: %w", optionID, err)
		}
		poll.Options = append(poll.Options, domain.Option{
			ID:     optionID,
			PollID: pollID,
			Text:   fields[i+1],
			Votes:  votes,
		})
	}
	return poll, nil
}
