package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestNextFollowsTransitionTable(t *testing.T) {
	cases := []struct {
		current, requested, want Kind
	}{
		{None, Like, Like},
		{None, Dislike, Dislike},
		{Like, Like, None},
		{Dislike, Dislike, None},
		{Like, Dislike, Dislike},
		{Dislike, Like, Like},
	}
	for _, tc := range cases {
		if got := Next(tc.current, tc.requested); got != tc.want {
			t.Fatalf("Next(%q, %q) = %q, want %q", tc.current, tc.requested, got, tc.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	for _, raw := range []string{"like", " LIKE ", "Dislike"} {
		if _, err := ParseKind(raw); err != nil {
			t.Fatalf("ParseKind(%q) error = %v", raw, err)
		}
	}
	for _, raw := range []string{"", "love", "up", "likes"} {
		if _, err := ParseKind(raw); !errors.Is(err, ErrInvalidKind) {
			t.Fatalf("ParseKind(%q) = %v, want ErrInvalidKind", raw, err)
		}
	}
}

func TestCountsClamped(t *testing.T) {
	got := Counts{Likes: -2, Dislikes: 3}.Clamped()
	if got != (Counts{Likes: 0, Dislikes: 3}) {
		t.Fatalf("Clamped() = %+v", got)
	}
}

type fakeBackend struct {
	applyFn  func(context.Context, string, string, Kind) (Counts, error)
	countsFn func(context.Context, []string) (map[string]Counts, error)
	statesFn func(context.Context, string, []string) (map[string]Kind, error)
	forgetFn func(context.Context, []string) error
}

func (f *fakeBackend) ApplyVote(ctx context.Context, commentID, reactorID string, kind Kind) (Counts, error) {
	if f.applyFn != nil {
		return f.applyFn(ctx, commentID, reactorID, kind)
	}
	return Counts{}, nil
}

func (f *fakeBackend) CountsFor(ctx context.Context, ids []string) (map[string]Counts, error) {
	if f.countsFn != nil {
		return f.countsFn(ctx, ids)
	}
	return map[string]Counts{}, nil
}

func (f *fakeBackend) StatesFor(ctx context.Context, reactorID string, ids []string) (map[string]Kind, error) {
	if f.statesFn != nil {
		return f.statesFn(ctx, reactorID, ids)
	}
	return map[string]Kind{}, nil
}

func (f *fakeBackend) ForgetVotes(ctx context.Context, ids []string) error {
	if f.forgetFn != nil {
		return f.forgetFn(ctx, ids)
	}
	return nil
}

func TestLedgerVoteValidatesBeforeBackend(t *testing.T) {
	called := false
	l := New(&fakeBackend{applyFn: func(context.Context, string, string, Kind) (Counts, error) {
		called = true
		return Counts{}, nil
	}}, nil)

	if _, err := l.Vote(context.Background(), "c1", "r1", "meh"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("Vote() error = %v, want ErrInvalidKind", err)
	}
	if _, err := l.Vote(context.Background(), "c1", "   ", "like"); !errors.Is(err, ErrMissingReactor) {
		t.Fatalf("Vote() error = %v, want ErrMissingReactor", err)
	}
	if called {
		t.Fatal("backend must not be called for invalid input")
	}
}

func TestLedgerVoteClampsBackendTotals(t *testing.T) {
	var gotComment, gotReactor string
	var gotKind Kind
	l := New(&fakeBackend{applyFn: func(_ context.Context, commentID, reactorID string, kind Kind) (Counts, error) {
		gotComment, gotReactor, gotKind = commentID, reactorID, kind
		return Counts{Likes: -1, Dislikes: 2}, nil
	}}, nil)

	counts, err := l.Vote(context.Background(), " c1 ", " r1 ", "Dislike")
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	if gotComment != "c1" || gotReactor != "r1" || gotKind != Dislike {
		t.Fatalf("backend got (%q, %q, %q)", gotComment, gotReactor, gotKind)
	}
	if counts != (Counts{Likes: 0, Dislikes: 2}) {
		t.Fatalf("Vote() = %+v", counts)
	}
}

func TestLedgerSkipsBackendForEmptyInput(t *testing.T) {
	l := New(&fakeBackend{
		countsFn: func(context.Context, []string) (map[string]Counts, error) {
			t.Fatal("CountsFor must not be called")
			return nil, nil
		},
		statesFn: func(context.Context, string, []string) (map[string]Kind, error) {
			t.Fatal("StatesFor must not be called")
			return nil, nil
		},
	}, nil)
	ctx := context.Background()

	if counts, err := l.Counts(ctx, nil); err != nil || len(counts) != 0 {
		t.Fatalf("Counts(nil) = %v, %v", counts, err)
	}
	if states, err := l.States(ctx, "", []string{"c1"}); err != nil || len(states) != 0 {
		t.Fatalf("States(no reactor) = %v, %v", states, err)
	}
	if err := l.Forget(ctx, nil); err != nil {
		t.Fatalf("Forget(nil) error = %v", err)
	}
}
