package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zackhub/api/internal/store"
)

// ErrSubjectRequired is returned by Scan when no subject narrows the query.
var ErrSubjectRequired = errors.New("subjectId is required when full-text search is unavailable")

// CommentLister is the slice of the store Scan reads from.
type CommentLister interface {
	ListCommentsBySubject(ctx context.Context, subjectID string, limit int) ([]store.Comment, error)
}

// Scan is the last-resort Searcher for stores without a text index. It reads
// one subject and matches bodies by case-insensitive substring.
type Scan struct {
	lister CommentLister
	limit  int
}

func NewScan(lister CommentLister, fetchLimit int) *Scan {
	return &Scan{lister: lister, limit: fetchLimit}
}

func (s *Scan) Healthy() bool {
	return true
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}
	if q.SubjectID == "" {
		return nil, 0, ErrSubjectRequired
	}
	q = normalizeQuery(q)

	comments, err := s.lister.ListCommentsBySubject(ctx, q.SubjectID, s.limit)
	if err != nil {
		return nil, 0, fmt.Errorf("scan subject %s: %w", q.SubjectID, err)
	}

	var matched []Result
	// Newest first, matching how roots are presented.
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		if !strings.Contains(strings.ToLower(c.Body), needle) {
			continue
		}
		matched = append(matched, Result{
			ID:         c.ID,
			SubjectID:  c.SubjectID,
			AuthorName: c.AuthorName,
			Snippet:    Highlight(snippet(c.Body, 30)),
			CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	total := len(matched)
	if q.Offset >= total {
		return nil, total, nil
	}
	end := q.Offset + q.Limit
	if end > total {
		end = total
	}
	return matched[q.Offset:end], total, nil
}

func snippet(body string, maxWords int) string {
	words := strings.Fields(body)
	if len(words) <= maxWords {
		return body
	}
	return strings.Join(words[:maxWords], " ") + "…"
}
