package domain

type EventType string

const (
	EventPollCreated EventType = "poll_created"
	EventVote        EventType = "vote"
	EventLike        EventType = "like"
	EventPollEdited  EventType = "poll_edited"
	EventPollDeleted EventType = "poll_deleted"
)

// Event is a realtime notification pushed to every connected client.
// Each concrete event serializes to a JSON object with a "type" field.
type Event interface {
	EventType() EventType
	TargetPollID() int64
}

// PollView is the public representation of a poll. It never carries the token.
type PollView struct {
	ID       int64        `json:"id"`
	Question string       `json:"question"`
	Likes    int64        `json:"likes"`
	Options  []OptionView `json:"options"`
}

type OptionView struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Votes int64  `json:"votes"`
}

type OptionVotes struct {
	ID    int64 `json:"id"`
	Votes int64 `json:"votes"`
}

type VotePayload struct {
	ID      int64         `json:"id"`
	Options []OptionVotes `json:"options"`
}

type LikePayload struct {
	ID    int64 `json:"id"`
	Likes int64 `json:"likes"`
}

func (p *Poll) View() PollView {
	options := make([]OptionView, 0, len(p.Options))
	for _, o := range p.Options {
		options = append(options, OptionView{ID: o.ID, Text: o.Text, Votes: o.Votes})
	}
	return PollView{ID: p.ID, Question: p.Question, Likes: p.Likes, Options: options}
}

type PollCreatedEvent struct {
	Type EventType `json:"type"`
	Poll PollView  `json:"poll"`
}

func NewPollCreatedEvent(p *Poll) PollCreatedEvent {
	return PollCreatedEvent{Type: EventPollCreated, Poll: p.View()}
}

func (e PollCreatedEvent) EventType() EventType { return e.Type }
func (e PollCreatedEvent) TargetPollID() int64  { return e.Poll.ID }

type VoteEvent struct {
	Type EventType   `json:"type"`
	Poll VotePayload `json:"poll"`
}

func NewVoteEvent(p *Poll) VoteEvent {
	counts := make([]OptionVotes, 0, len(p.Options))
	for _, o := range p.Options {
		counts = append(counts, OptionVotes{ID: o.ID, Votes: o.Votes})
	}
	return VoteEvent{Type: EventVote, Poll: VotePayload{ID: p.ID, Options: counts}}
}

func (e VoteEvent) EventType() EventType { return e.Type }
func (e VoteEvent) TargetPollID() int64  { return e.Poll.ID }

type LikeEvent struct {
	Type EventType   `json:"type"`
	Poll LikePayload `json:"poll"`
}

func NewLikeEvent(p *Poll) LikeEvent {
	return LikeEvent{Type: EventLike, Poll: LikePayload{ID: p.ID, Likes: p.Likes}}
}

func (e LikeEvent) EventType() EventType { return e.Type }
func (e LikeEvent) TargetPollID() int64  { return e.Poll.ID }

type PollEditedEvent struct {
	Type EventType `json:"type"`
	Poll PollView  `json:"poll"`
}

func NewPollEditedEvent(p *Poll) PollEditedEvent {
	return PollEditedEvent{Type: EventPollEdited, Poll: p.View()}
}

func (e PollEditedEvent) EventType() EventType { return e.Type }
func (e PollEditedEvent) TargetPollID() int64  { return e.Poll.ID }

type PollDeletedEvent struct {
	Type   EventType `json:"type"`
	PollID int64     `json:"poll_id"`
}

func NewPollDeletedEvent(pollID int64) PollDeletedEvent {
	return PollDeletedEvent{Type: EventPollDeleted, PollID: pollID}
}

func (e PollDeletedEvent) EventType() EventType { return e.Type }
func (e PollDeletedEvent) TargetPollID() int64  { return e.PollID }
