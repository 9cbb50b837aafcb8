package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/quickpoll/internal/domain"
)

const (
	pollColumns   = "id, question, likes, token, created_at"
	optionColumns = "id, poll_id, text, votes"
)

var readOnlySnapshot = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

type PollRepo struct {
	pool *pgxpool.Pool
}

func NewPollRepo(pool *pgxpool.Pool) *PollRepo {
	return &PollRepo{pool: pool}
}

func (r *PollRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PollRepo) CreatePoll(ctx context.Context, question string, options []string, token string) (*domain.Poll, error) {
	var poll *domain.Poll
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx,
			`INSERT INTO polls (question, token) VALUES ($1, $2) RETURNING `+pollColumns,
			question, token)
		p, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domain.Poll])
		if err != nil {
			return fmt.Errorf("failed to insert poll: %w", err)
		}

		p.Options = make([]domain.Option, 0, len(options))
		for _, text := range options {
			o, err := insertOption(ctx, tx, p.ID, text)
			if err != nil {
				return err
			}
			p.Options = append(p.Options, o)
		}
		poll = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poll: %w", err)
	}
	return poll, nil
}

func (r *PollRepo) GetPoll(ctx context.Context, pollID int64) (*domain.Poll, error) {
	var poll *domain.Poll
	err := pgx.BeginTxFunc(ctx, r.pool, readOnlySnapshot, func(tx pgx.Tx) error {
		p, err := getPoll(ctx, tx, pollID)
		if err != nil {
			return err
		}
		poll = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (r *PollRepo) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	var polls []domain.Poll
	err := pgx.BeginTxFunc(ctx, r.pool, readOnlySnapshot, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, `SELECT `+pollColumns+` FROM polls ORDER BY id`)
		list, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Poll])
		if err != nil {
			return fmt.Errorf("failed to list polls: %w", err)
		}

		rows, _ = tx.Query(ctx, `SELECT `+optionColumns+` FROM options ORDER BY poll_id, id`)
		options, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Option])
		if err != nil {
			return fmt.Errorf("failed to list options: %w", err)
		}

		byPoll := make(map[int64][]domain.Option, len(list))
		for _, o := range options {
			byPoll[o.PollID] = append(byPoll[o.PollID], o)
		}
		for i := range list {
			list[i].Options = byPoll[list[i].ID]
			if list[i].Options == nil {
				list[i].Options = []domain.Option{}
			}
		}
		polls = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	return polls, nil
}

func (r *PollRepo) IncrementVote(ctx context.Context, optionID int64) (*domain.Option, error) {
	rows, _ := r.pool.Query(ctx,
		`UPDATE options SET votes = votes + 1 WHERE id = $1 RETURNING `+optionColumns,
		optionID)
	o, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domain.Option])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment votes: %w", err)
	}
	return o, nil
}

func (r *PollRepo) IncrementLike(ctx context.Context, pollID int64) (*domain.Poll, error) {
	var poll *domain.Poll
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx,
			`UPDATE polls SET likes = likes + 1 WHERE id = $1 RETURNING `+pollColumns,
			pollID)
		p, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domain.Poll])
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrPollNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to increment likes: %w", err)
		}

		if p.Options, err = listOptions(ctx, tx, p.ID); err != nil {
			return err
		}
		poll = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return poll, nil
}

func (r *PollRepo) ReplacePollContent(ctx context.Context, pollID int64, question string, options []domain.OptionInput) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE polls SET question = $2 WHERE id = $1`, pollID, question)
		if err != nil {
			return fmt.Errorf("failed to update question: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPollNotFound
		}

		rows, _ := tx.Query(ctx, `SELECT id FROM options WHERE poll_id = $1 FOR UPDATE`, pollID)
		ownedIDs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return fmt.Errorf("failed to lock options: %w", err)
		}
		owned := make(map[int64]bool, len(ownedIDs))
		for _, id := range ownedIDs {
			owned[id] = true
		}

		// an input updates in place only the first time it names an owned option
		keep := make([]int64, 0, len(options))
		kept := make(map[int64]bool, len(options))
		for _, in := range options {
			if owned[in.ID] && !kept[in.ID] {
				if _, err := tx.Exec(ctx, `UPDATE options SET text = $2 WHERE id = $1`, in.ID, in.Text); err != nil {
					return fmt.Errorf("failed to update option %d: %w", in.ID, err)
				}
				kept[in.ID] = true
				keep = append(keep, in.ID)
				continue
			}

			o, err := insertOption(ctx, tx, pollID, in.Text)
			if err != nil {
				return err
			}
			keep = append(keep, o.ID)
		}

		if _, err := tx.Exec(ctx,
			`DELETE FROM options WHERE poll_id = $1 AND NOT (id = ANY($2))`,
			pollID, keep); err != nil {
			return fmt.Errorf("failed to remove dropped options: %w", err)
		}
		return nil
	})
}

func (r *PollRepo) DeletePoll(ctx context.Context, pollID int64) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM options WHERE poll_id = $1`, pollID); err != nil {
			return fmt.Errorf("failed to delete options: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM polls WHERE id = $1`, pollID)
		if err != nil {
			return fmt.Errorf("failed to delete poll: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPollNotFound
		}
		return nil
	})
}

func getPoll(ctx context.Context, q pgx.Tx, pollID int64) (*domain.Poll, error) {
	rows, _ := q.Query(ctx, `SELECT `+pollColumns+` FROM polls WHERE id = $1`, pollID)
	p, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[domain.Poll])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPollNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get poll: %w", err)
	}

	if p.Options, err = listOptions(ctx, q, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func listOptions(ctx context.Context, q pgx.Tx, pollID int64) ([]domain.Option, error) {
	rows, _ := q.Query(ctx, `SELECT `+optionColumns+` FROM options WHERE poll_id = $1 ORDER BY id`, pollID)
	options, err := pgx.CollectRows(rows, pgx.RowToStructByName[domain.Option])
	if err != nil {
		return nil, fmt.Errorf("failed to list options: %w", err)
	}
	return options, nil
}

func insertOption(ctx context.Context, tx pgx.Tx, pollID int64, text string) (domain.Option, error) {
	rows, _ := tx.Query(ctx,
		`INSERT INTO options (poll_id, text) VALUES ($1, $2) RETURNING `+optionColumns,
		pollID, text)
	o, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[domain.Option])
	if err != nil {
		return domain.Option{}, fmt.Errorf("failed to insert option: %w", err)
	}
	return o, nil
}
