// Package retention removes comments older than the retention window.
package retention

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"zackhub/api/internal/store"
)

const DefaultBatchSize = 500

// Source is the part of the store the sweeper reads and deletes from.
type Source interface {
	ListCommentsBefore(ctx context.Context, cutoff time.Time, limit int) ([]store.Comment, error)
	DeleteComments(ctx context.Context, ids []string) (int, error)
}

// Archiver persists a batch of comments before they are deleted.
type Archiver interface {
	Archive(ctx context.Context, batch []store.Comment, sweptAt time.Time) error
}

// VoteForgetter drops vote state held outside the comment store.
type VoteForgetter interface {
	Forget(ctx context.Context, commentIDs []string) error
}

// Deindexer removes comments from the search index.
type Deindexer interface {
	DeleteComments(ids ...string)
}

// Invalidator drops cached subject threads.
type Invalidator interface {
	Invalidate(subjectIDs ...string)
}

type Options struct {
	Window    time.Duration
	Interval  time.Duration
	BatchSize int
	Archiver  Archiver
	Votes     VoteForgetter
	Search    Deindexer
	Cache     Invalidator
	Logger    *zap.Logger
}

// StoreExpiry returns how long a store with server-side expiry may keep
// comments, or zero to turn that expiry off. Archived deployments turn it
// off so every expired comment reaches the archive. Otherwise it trails
// the sweeper by two intervals, leaving vote and index cleanup to the
// sweeper except when it has stopped.
func StoreExpiry(opts Options) time.Duration {
	switch {
	case opts.Window <= 0, opts.Archiver != nil:
		return 0
	case opts.Interval <= 0:
		return opts.Window
	default:
		return opts.Window + 2*opts.Interval
	}
}

// Sweeper deletes expired comments in batches. Replies to a swept comment
// stay in place and surface as roots.
type Sweeper struct {
	source Source
	opts   Options
	now    func() time.Time
	logger *zap.Logger
}

func NewSweeper(source Source, opts Options) *Sweeper {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{source: source, opts: opts, now: time.Now, logger: logger.Named("retention")}
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.opts.Window <= 0 || s.opts.Interval <= 0 {
		s.logger.Info("retention sweeper disabled")
		return
	}
	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	removed, err := s.SweepOnce(ctx, s.now())
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Int("removed", removed), zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("retention sweep complete", zap.Int("removed", removed))
	}
}

// SweepOnce removes every comment created before now minus the window and
// returns how many were deleted. A failed archive leaves its batch in place.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	if s.opts.Window <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.opts.Window)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := s.source.ListCommentsBefore(ctx, cutoff, s.opts.BatchSize)
		if err != nil {
			return total, fmt.Errorf("list expired comments: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		if s.opts.Archiver != nil {
			if err := s.opts.Archiver.Archive(ctx, batch, now); err != nil {
				return total, fmt.Errorf("archive expired comments: %w", err)
			}
		}

		ids := make([]string, 0, len(batch))
		subjects := make(map[string]struct{})
		for _, c := range batch {
			ids = append(ids, c.ID)
			subjects[c.SubjectID] = struct{}{}
		}
		n, err := s.source.DeleteComments(ctx, ids)
		total += n
		if err != nil {
			return total, fmt.Errorf("delete expired comments: %w", err)
		}
		s.afterDelete(ctx, ids, subjects)

		if len(batch) < s.opts.BatchSize {
			return total, nil
		}
		if n == 0 {
			// Nothing removed from a full batch; stop rather than spin on it.
			return total, fmt.Errorf("delete expired comments: no progress on batch of %d", len(batch))
		}
	}
}

func (s *Sweeper) afterDelete(ctx context.Context, ids []string, subjects map[string]struct{}) {
	if s.opts.Votes != nil {
		if err := s.opts.Votes.Forget(ctx, ids); err != nil {
			s.logger.Warn("forget votes for expired comments", zap.Int("count", len(ids)), zap.Error(err))
		}
	}
	if s.opts.Search != nil {
		s.opts.Search.DeleteComments(ids...)
	}
	if s.opts.Cache != nil {
		keys := make([]string, 0, len(subjects))
		for subject := range subjects {
			keys = append(keys, subject)
		}
		s.opts.Cache.Invalidate(keys...)
	}
}
