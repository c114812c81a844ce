package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"zackhub/api/internal/store"
)

type fakeArchiver struct {
	ArchiveFn func(ctx context.Context, batch []store.Comment, sweptAt time.Time) error
	batches   [][]store.Comment
}

func (f *fakeArchiver) Archive(ctx context.Context, batch []store.Comment, sweptAt time.Time) error {
	f.batches = append(f.batches, batch)
	if f.ArchiveFn != nil {
		return f.ArchiveFn(ctx, batch, sweptAt)
	}
	return nil
}

type recordingSinks struct {
	forgotten   []string
	deindexed   []string
	invalidated []string
}

func (r *recordingSinks) Forget(_ context.Context, ids []string) error {
	r.forgotten = append(r.forgotten, ids...)
	return nil
}

func (r *recordingSinks) DeleteComments(ids ...string) {
	r.deindexed = append(r.deindexed, ids...)
}

func (r *recordingSinks) Invalidate(subjectIDs ...string) {
	r.invalidated = append(r.invalidated, subjectIDs...)
}

var sweepNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// seed inserts one comment per age (in days before sweepNow) on subject.
func seed(t *testing.T, s *store.MemoryStore, subject string, ages ...int) []store.Comment {
	t.Helper()
	var out []store.Comment
	for i, days := range ages {
		created := sweepNow.Add(-time.Duration(days) * 24 * time.Hour)
		s.SetClock(func() time.Time { return created })
		c, err := s.InsertComment(context.Background(), store.Comment{
			SubjectID:  subject,
			AuthorName: "viewer_01",
			Body:       fmt.Sprintf("comment %d", i),
		})
		if err != nil {
			t.Fatalf("InsertComment() error = %v", err)
		}
		out = append(out, c)
	}
	return out
}

func TestSweepOnceRemovesOnlyExpiredComments(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	old := seed(t, s, "movie-1", 90, 61)
	fresh := seed(t, s, "movie-1", 59, 1)
	seed(t, s, "movie-2", 70)

	sinks := &recordingSinks{}
	archiver := &fakeArchiver{}
	sw := NewSweeper(s, Options{
		Window:   60 * 24 * time.Hour,
		Archiver: archiver,
		Votes:    sinks,
		Search:   sinks,
		Cache:    sinks,
	})

	removed, err := sw.SweepOnce(ctx, sweepNow)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	for _, c := range old {
		if _, err := s.GetComment(ctx, c.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("expired comment %s still present: %v", c.ID, err)
		}
	}
	for _, c := range fresh {
		if _, err := s.GetComment(ctx, c.ID); err != nil {
			t.Fatalf("fresh comment %s removed: %v", c.ID, err)
		}
	}
	if len(archiver.batches) != 1 || len(archiver.batches[0]) != 3 {
		t.Fatalf("archived batches = %d", len(archiver.batches))
	}
	if len(sinks.forgotten) != 3 || len(sinks.deindexed) != 3 {
		t.Fatalf("forgotten = %v, deindexed = %v", sinks.forgotten, sinks.deindexed)
	}
	sort.Strings(sinks.invalidated)
	if strings.Join(sinks.invalidated, ",") != "movie-1,movie-2" {
		t.Fatalf("invalidated = %v", sinks.invalidated)
	}
}

func TestSweepOnceWorksInBatches(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "movie-1", 61, 62, 63, 64, 65)

	archiver := &fakeArchiver{}
	sw := NewSweeper(s, Options{Window: 60 * 24 * time.Hour, BatchSize: 2, Archiver: archiver})
	removed, err := sw.SweepOnce(context.Background(), sweepNow)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if removed != 5 {
		t.Fatalf("removed = %d, want 5", removed)
	}
	if len(archiver.batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(archiver.batches))
	}
}

func TestSweepOnceKeepsBatchWhenArchiveFails(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	old := seed(t, s, "movie-1", 61)

	sw := NewSweeper(s, Options{
		Window: 60 * 24 * time.Hour,
		Archiver: &fakeArchiver{ArchiveFn: func(context.Context, []store.Comment, time.Time) error {
			return errors.New("bucket unavailable")
		}},
	})
	removed, err := sw.SweepOnce(ctx, sweepNow)
	if err == nil || removed != 0 {
		t.Fatalf("SweepOnce() = %d, %v, want archive error", removed, err)
	}
	if _, err := s.GetComment(ctx, old[0].ID); err != nil {
		t.Fatalf("comment must survive failed archive: %v", err)
	}
}

func TestSweepOnceLeavesRepliesOfSweptParents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	parent := seed(t, s, "movie-1", 61)[0]

	s.SetClock(func() time.Time { return sweepNow.Add(-time.Hour) })
	reply, err := s.InsertComment(ctx, store.Comment{SubjectID: "movie-1", AuthorName: "viewer_02", Body: "late reply", ParentID: parent.ID})
	if err != nil {
		t.Fatalf("InsertComment(reply) error = %v", err)
	}

	sw := NewSweeper(s, Options{Window: 60 * 24 * time.Hour})
	if _, err := sw.SweepOnce(ctx, sweepNow); err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	got, err := s.GetComment(ctx, reply.ID)
	if err != nil {
		t.Fatalf("reply must survive: %v", err)
	}
	if got.ParentID != parent.ID {
		t.Fatalf("reply parent = %q, want dangling %q", got.ParentID, parent.ID)
	}
}

func TestSweepOnceDisabledWindow(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "movie-1", 400)
	removed, err := NewSweeper(s, Options{}).SweepOnce(context.Background(), sweepNow)
	if err != nil || removed != 0 {
		t.Fatalf("SweepOnce() = %d, %v", removed, err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "movie-1", 61)
	sw := NewSweeper(s, Options{Window: 60 * 24 * time.Hour, Interval: time.Hour})
	sw.now = func() time.Time { return sweepNow }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestArchiveKey(t *testing.T) {
	got := archiveKey("comments", time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC), "sweep_abc")
	if got != "comments/2025/06/01/sweep_abc.json" {
		t.Fatalf("archiveKey() = %q", got)
	}
}

func TestStoreExpiryTrailsSweeper(t *testing.T) {
	const day = 24 * time.Hour
	cases := []struct {
		name string
		opts Options
		want time.Duration
	}{
		{name: "no window", opts: Options{Interval: time.Hour}, want: 0},
		{name: "archived", opts: Options{Window: 60 * day, Interval: time.Hour, Archiver: &fakeArchiver{}}, want: 0},
		{name: "sweeper stopped", opts: Options{Window: 60 * day}, want: 60 * day},
		{name: "sweeper running", opts: Options{Window: 60 * day, Interval: time.Hour}, want: 60*day + 2*time.Hour},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StoreExpiry(tc.opts)
			if got != tc.want {
				t.Fatalf("StoreExpiry() = %v, want %v", got, tc.want)
			}
			if tc.opts.Window > 0 && got > 0 && tc.opts.Interval > 0 && got <= tc.opts.Window+tc.opts.Interval {
				t.Fatalf("expiry %v does not leave the sweeper a full interval", got)
			}
		})
	}
}
