package search

import (
	"context"
	"time"

	"zackhub/api/internal/store"
)

// Result is a single comment hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	SubjectID  string `json:"subjectId"`
	AuthorName string `json:"authorName"`
	Snippet    string `json:"snippet"`
	CreatedAt  string `json:"createdAt"`
}

// Query describes a search request. SubjectID narrows hits to one subject.
type Query struct {
	Text      string
	SubjectID string
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over comment bodies.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// CommentRecord is the data indexed for one comment.
type CommentRecord struct {
	ID            string `json:"id"`
	SubjectID     string `json:"subjectId"`
	AuthorName    string `json:"authorName"`
	Body          string `json:"body"`
	ParentID      string `json:"parentId"`
	IsAuthorReply bool   `json:"isAuthorReply"`
	CreatedAt     string `json:"createdAt"`
	CreatedAtUnix int64  `json:"createdAtUnix"`
}

// RecordFromComment converts a stored comment into its index form.
func RecordFromComment(c store.Comment) CommentRecord {
	return CommentRecord{
		ID:            c.ID,
		SubjectID:     c.SubjectID,
		AuthorName:    c.AuthorName,
		Body:          c.Body,
		ParentID:      c.ParentID,
		IsAuthorReply: c.IsAuthorReply,
		CreatedAt:     c.CreatedAt.UTC().Format(time.RFC3339),
		CreatedAtUnix: c.CreatedAt.Unix(),
	}
}

func normalizeQuery(q Query) Query {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
