package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"zackhub/api/internal/ledger"
	"zackhub/api/internal/util"
)

// stepClock returns base, base+step, base+2*step, ... on successive calls.
type stepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func newStepClock(base time.Time, step time.Duration) *stepClock {
	return &stepClock{next: base, step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

// runStoreContract exercises behavior every backend must share. setClock
// installs the time source used for createdAt.
func runStoreContract(t *testing.T, s Store, setClock func(func() time.Time)) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("insert assigns identity and lists ascending", func(t *testing.T) {
		setClock(newStepClock(base, time.Second).Now)
		subject := util.NewID("movie")

		first, err := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "  great movie  "})
		if err != nil {
			t.Fatalf("InsertComment() error = %v", err)
		}
		if first.ID == "" || !first.CreatedAt.Equal(base) {
			t.Fatalf("expected id and createdAt %v, got %+v", base, first)
		}
		if first.Body != "great movie" {
			t.Fatalf("expected trimmed body, got %q", first.Body)
		}
		second, err := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_two", Body: "agreed", ParentID: first.ID})
		if err != nil {
			t.Fatalf("InsertComment(reply) error = %v", err)
		}

		items, err := s.ListCommentsBySubject(ctx, subject, 0)
		if err != nil {
			t.Fatalf("ListCommentsBySubject() error = %v", err)
		}
		if len(items) != 2 || items[0].ID != first.ID || items[1].ID != second.ID {
			t.Fatalf("unexpected order: %+v", items)
		}
		if items[1].ParentID != first.ID {
			t.Fatalf("expected reply parent %s, got %q", first.ID, items[1].ParentID)
		}

		limited, err := s.ListCommentsBySubject(ctx, subject, 1)
		if err != nil {
			t.Fatalf("ListCommentsBySubject(limit) error = %v", err)
		}
		if len(limited) != 1 || limited[0].ID != first.ID {
			t.Fatalf("expected only the oldest comment, got %+v", limited)
		}

		got, err := s.GetComment(ctx, second.ID)
		if err != nil {
			t.Fatalf("GetComment() error = %v", err)
		}
		if got.AuthorName != "user_two" || got.SubjectID != subject {
			t.Fatalf("unexpected comment: %+v", got)
		}
	})

	t.Run("insert rejects invalid fields", func(t *testing.T) {
		subject := util.NewID("movie")
		cases := []struct {
			name    string
			comment Comment
			field   string
		}{
			{"uppercase author", Comment{SubjectID: subject, AuthorName: "AB", Body: "hi"}, "authorName"},
			{"author with space", Comment{SubjectID: subject, AuthorName: "movie fan", Body: "hi"}, "authorName"},
			{"blank body", Comment{SubjectID: subject, AuthorName: "movie_fan1", Body: "   "}, "body"},
			{"long body", Comment{SubjectID: subject, AuthorName: "movie_fan1", Body: strings.Repeat("a", 501)}, "body"},
			{"missing subject", Comment{AuthorName: "movie_fan1", Body: "hi"}, "subjectId"},
		}
		for _, tc := range cases {
			_, err := s.InsertComment(ctx, tc.comment)
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != tc.field {
				t.Fatalf("%s: expected validation error on %s, got %v", tc.name, tc.field, err)
			}
		}
		if _, err := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "movie_fan1", Body: strings.Repeat("é", 500)}); err != nil {
			t.Fatalf("500 characters must be accepted: %v", err)
		}
	})

	t.Run("reply requires parent on same subject", func(t *testing.T) {
		subject := util.NewID("movie")
		other := util.NewID("movie")
		root, err := s.InsertComment(ctx, Comment{SubjectID: other, AuthorName: "user_one", Body: "elsewhere"})
		if err != nil {
			t.Fatalf("InsertComment() error = %v", err)
		}
		if _, err := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_two", Body: "hi", ParentID: "cmt_missing"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for missing parent, got %v", err)
		}
		if _, err := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_two", Body: "hi", ParentID: root.ID}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for cross-subject parent, got %v", err)
		}
	})

	t.Run("delete leaves replies in place", func(t *testing.T) {
		subject := util.NewID("movie")
		root, _ := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "root"})
		reply, err := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_two", Body: "reply", ParentID: root.ID})
		if err != nil {
			t.Fatalf("InsertComment(reply) error = %v", err)
		}
		if _, err := s.ApplyVote(ctx, root.ID, "r1", ledger.Like); err != nil {
			t.Fatalf("ApplyVote() error = %v", err)
		}
		if err := s.DeleteComment(ctx, root.ID); err != nil {
			t.Fatalf("DeleteComment() error = %v", err)
		}
		if err := s.DeleteComment(ctx, root.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second delete, got %v", err)
		}
		items, _ := s.ListCommentsBySubject(ctx, subject, 0)
		if len(items) != 1 || items[0].ID != reply.ID {
			t.Fatalf("expected orphaned reply to remain, got %+v", items)
		}
		counts, err := s.CountsFor(ctx, []string{root.ID})
		if err != nil {
			t.Fatalf("CountsFor() error = %v", err)
		}
		if counts[root.ID] != (ledger.Counts{}) {
			t.Fatalf("expected deleted comment votes to be gone, got %+v", counts[root.ID])
		}
	})

	t.Run("vote transitions", func(t *testing.T) {
		subject := util.NewID("movie")
		c, _ := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "vote me"})

		steps := []struct {
			reactor string
			kind    ledger.Kind
			want    ledger.Counts
		}{
			{"r1", ledger.Like, ledger.Counts{Likes: 1}},
			{"r1", ledger.Dislike, ledger.Counts{Dislikes: 1}},
			{"r1", ledger.Dislike, ledger.Counts{}},
			{"r1", ledger.Like, ledger.Counts{Likes: 1}},
			{"r2", ledger.Like, ledger.Counts{Likes: 2}},
			{"r3", ledger.Dislike, ledger.Counts{Likes: 2, Dislikes: 1}},
			{"r1", ledger.Like, ledger.Counts{Likes: 1, Dislikes: 1}},
		}
		for i, step := range steps {
			got, err := s.ApplyVote(ctx, c.ID, step.reactor, step.kind)
			if err != nil {
				t.Fatalf("step %d: ApplyVote() error = %v", i, err)
			}
			if got != step.want {
				t.Fatalf("step %d: got %+v, want %+v", i, got, step.want)
			}
		}

		counts, err := s.CountsFor(ctx, []string{c.ID, "cmt_none"})
		if err != nil {
			t.Fatalf("CountsFor() error = %v", err)
		}
		if counts[c.ID] != (ledger.Counts{Likes: 1, Dislikes: 1}) || counts["cmt_none"] != (ledger.Counts{}) {
			t.Fatalf("unexpected counts: %+v", counts)
		}
		states, err := s.StatesFor(ctx, "r3", []string{c.ID})
		if err != nil {
			t.Fatalf("StatesFor() error = %v", err)
		}
		if states[c.ID] != ledger.Dislike {
			t.Fatalf("expected r3 to hold dislike, got %q", states[c.ID])
		}
		if states, _ := s.StatesFor(ctx, "r1", []string{c.ID}); len(states) != 0 {
			t.Fatalf("expected r1 to hold nothing, got %+v", states)
		}

		if _, err := s.ApplyVote(ctx, "cmt_missing", "r1", ledger.Like); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		if err := s.ForgetVotes(ctx, []string{c.ID}); err != nil {
			t.Fatalf("ForgetVotes() error = %v", err)
		}
		counts, _ = s.CountsFor(ctx, []string{c.ID})
		if counts[c.ID] != (ledger.Counts{}) {
			t.Fatalf("expected no votes after ForgetVotes, got %+v", counts[c.ID])
		}
	})

	t.Run("concurrent votes from many reactors are all counted", func(t *testing.T) {
		subject := util.NewID("movie")
		c, _ := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "popular"})

		const reactors = 20
		var wg sync.WaitGroup
		errs := make(chan error, reactors*2)
		for i := 0; i < reactors; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				reactor := fmt.Sprintf("reactor_%d", i)
				if _, err := s.ApplyVote(ctx, c.ID, reactor, ledger.Like); err != nil {
					errs <- err
				}
				if i%2 == 0 {
					if _, err := s.ApplyVote(ctx, c.ID, reactor, ledger.Dislike); err != nil {
						errs <- err
					}
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("ApplyVote() error = %v", err)
		}

		counts, err := s.CountsFor(ctx, []string{c.ID})
		if err != nil {
			t.Fatalf("CountsFor() error = %v", err)
		}
		if counts[c.ID] != (ledger.Counts{Likes: reactors / 2, Dislikes: reactors / 2}) {
			t.Fatalf("unexpected totals: %+v", counts[c.ID])
		}
	})

	t.Run("concurrent toggles by one reactor stay consistent", func(t *testing.T) {
		subject := util.NewID("movie")
		c, _ := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "toggle"})

		const calls = 10
		var wg sync.WaitGroup
		for i := 0; i < calls; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.ApplyVote(ctx, c.ID, "same_reactor", ledger.Like)
			}()
		}
		wg.Wait()

		counts, _ := s.CountsFor(ctx, []string{c.ID})
		if counts[c.ID] != (ledger.Counts{}) {
			t.Fatalf("an even number of toggles must end with no vote, got %+v", counts[c.ID])
		}
	})

	t.Run("expiry listing and batch delete", func(t *testing.T) {
		setClock(newStepClock(base.Add(-90*24*time.Hour), time.Minute).Now)
		subject := util.NewID("movie")
		old, _ := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "old"})
		setClock(newStepClock(base, time.Second).Now)
		fresh, _ := s.InsertComment(ctx, Comment{SubjectID: subject, AuthorName: "user_one", Body: "fresh"})

		expired, err := s.ListCommentsBefore(ctx, base.Add(-60*24*time.Hour), 0)
		if err != nil {
			t.Fatalf("ListCommentsBefore() error = %v", err)
		}
		found := false
		for _, c := range expired {
			if c.ID == fresh.ID {
				t.Fatalf("fresh comment must not be expired")
			}
			found = found || c.ID == old.ID
		}
		if !found {
			t.Fatalf("expected old comment in expired list")
		}

		deleted, err := s.DeleteComments(ctx, []string{old.ID, "cmt_missing"})
		if err != nil {
			t.Fatalf("DeleteComments() error = %v", err)
		}
		if deleted != 1 {
			t.Fatalf("deleted = %d, want 1", deleted)
		}
		if _, err := s.GetComment(ctx, old.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected old comment gone, got %v", err)
		}
	})

	t.Run("handles are unique", func(t *testing.T) {
		name := "fan_" + util.NewID("")[:8]
		h, err := s.RegisterHandle(ctx, "  "+strings.ToUpper(name)+" ")
		if err != nil {
			t.Fatalf("RegisterHandle() error = %v", err)
		}
		if h.Name != name {
			t.Fatalf("expected normalized name %q, got %q", name, h.Name)
		}
		if _, err := s.RegisterHandle(ctx, name); !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		exists, err := s.HandleExists(ctx, name)
		if err != nil || !exists {
			t.Fatalf("HandleExists() = %v, %v", exists, err)
		}
		if _, err := s.RegisterHandle(ctx, "abc"); err == nil {
			t.Fatalf("expected short handle to be rejected")
		}
		if _, err := s.RegisterHandle(ctx, strings.Repeat("a", 31)); err == nil {
			t.Fatalf("expected long handle to be rejected")
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	})
}
