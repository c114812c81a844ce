// Package ledger tracks one like/dislike state per (comment, reactor) pair and
// derives comment counts by aggregating those states.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind is a requested or recorded vote.
type Kind string

const (
	None    Kind = ""
	Like    Kind = "like"
	Dislike Kind = "dislike"
)

var (
	ErrInvalidKind    = errors.New("vote kind must be like or dislike")
	ErrMissingReactor = errors.New("reactor id is required")
)

// ParseKind accepts "like" or "dislike" (case and surrounding space ignored).
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case Like:
		return Like, nil
	case Dislike:
		return Dislike, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// Next returns the state a reactor holds after requesting kind while holding current.
// Requesting the held kind clears it; anything else replaces it.
func Next(current, requested Kind) Kind {
	if current == requested {
		return None
	}
	return requested
}

// Counts are the derived totals for one comment.
type Counts struct {
	Likes    int `json:"likeCount"`
	Dislikes int `json:"dislikeCount"`
}

// Add folds one recorded state into the totals.
func (c *Counts) Add(kind Kind) {
	switch kind {
	case Like:
		c.Likes++
	case Dislike:
		c.Dislikes++
	}
}

// Clamped never reports a negative total.
func (c Counts) Clamped() Counts {
	if c.Likes < 0 {
		c.Likes = 0
	}
	if c.Dislikes < 0 {
		c.Dislikes = 0
	}
	return c
}

// Backend persists vote states. ApplyVote must perform the read of the current
// state, the Next transition and the write as one atomic step per pair, and
// return totals aggregated after that write. It returns an error wrapping
// store.ErrNotFound when the comment does not exist.
type Backend interface {
	ApplyVote(ctx context.Context, commentID, reactorID string, kind Kind) (Counts, error)
	CountsFor(ctx context.Context, commentIDs []string) (map[string]Counts, error)
	StatesFor(ctx context.Context, reactorID string, commentIDs []string) (map[string]Kind, error)
	ForgetVotes(ctx context.Context, commentIDs []string) error
}

// Ledger validates vote requests and delegates the atomic toggle to a Backend.
type Ledger struct {
	backend Backend
	logger  *zap.Logger
}

func New(backend Backend, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{backend: backend, logger: logger}
}

// Vote toggles reactorID's vote on commentID and returns the resulting totals.
func (l *Ledger) Vote(ctx context.Context, commentID, reactorID, rawKind string) (Counts, error) {
	kind, err := ParseKind(rawKind)
	if err != nil {
		return Counts{}, err
	}
	commentID = strings.TrimSpace(commentID)
	reactorID = strings.TrimSpace(reactorID)
	if reactorID == "" {
		return Counts{}, ErrMissingReactor
	}
	counts, err := l.backend.ApplyVote(ctx, commentID, reactorID, kind)
	if err != nil {
		return Counts{}, err
	}
	l.logger.Debug("vote applied",
		zap.String("comment_id", commentID),
		zap.String("kind", string(kind)),
		zap.Int("likes", counts.Likes),
		zap.Int("dislikes", counts.Dislikes),
	)
	return counts.Clamped(), nil
}

// Counts returns totals for every id; ids without votes map to zero totals.
func (l *Ledger) Counts(ctx context.Context, commentIDs []string) (map[string]Counts, error) {
	if len(commentIDs) == 0 {
		return map[string]Counts{}, nil
	}
	counts, err := l.backend.CountsFor(ctx, commentIDs)
	if err != nil {
		return nil, err
	}
	for id, c := range counts {
		counts[id] = c.Clamped()
	}
	return counts, nil
}

// States returns the kinds reactorID currently holds among commentIDs.
func (l *Ledger) States(ctx context.Context, reactorID string, commentIDs []string) (map[string]Kind, error) {
	reactorID = strings.TrimSpace(reactorID)
	if reactorID == "" || len(commentIDs) == 0 {
		return map[string]Kind{}, nil
	}
	return l.backend.StatesFor(ctx, reactorID, commentIDs)
}

// Forget drops every vote recorded against commentIDs.
func (l *Ledger) Forget(ctx context.Context, commentIDs []string) error {
	if len(commentIDs) == 0 {
		return nil
	}
	return l.backend.ForgetVotes(ctx, commentIDs)
}
