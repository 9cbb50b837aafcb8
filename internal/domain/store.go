package domain

import "context"

// PollStore persists polls and their options. Every returned Poll has its
// options loaded, ordered by option id. Increments must be atomic in the
// store itself.
type PollStore interface {
	CreatePoll(ctx context.Context, question string, options []string, token string) (*Poll, error)
	GetPoll(ctx context.Context, pollID int64) (*Poll, error)
	ListPolls(ctx context.Context) ([]Poll, error)

	// IncrementVote returns ErrOptionNotFound when the option does not exist.
	IncrementVote(ctx context.Context, optionID int64) (*Option, error)
	// IncrementLike returns ErrPollNotFound when the poll does not exist.
	IncrementLike(ctx context.Context, pollID int64) (*Poll, error)

	// ReplacePollContent sets the question and reconciles options in one
	// atomic step: inputs whose ID belongs to the poll are updated in place
	// keeping their votes, all other inputs are inserted with zero votes,
	// and existing options missing from the inputs are removed.
	ReplacePollContent(ctx context.Context, pollID int64, question string, options []OptionInput) error
	DeletePoll(ctx context.Context, pollID int64) error
}
