package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"zackhub/api/internal/cache"
	"zackhub/api/internal/ledger"
	"zackhub/api/internal/moderation"
	"zackhub/api/internal/search"
	"zackhub/api/internal/store"
	"zackhub/api/internal/thread"
)

type dataStore interface {
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	ListCommentsBySubject(context.Context, string, int) ([]store.Comment, error)
	DeleteComment(context.Context, string) error
	RegisterHandle(context.Context, string) (store.Handle, error)
	HandleExists(context.Context, string) (bool, error)
	Ping(context.Context) error
}

// Pinger is a dependency that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	StoreTimeout            time.Duration
	ThreadLimit             int
	RequireRegisteredHandle bool
	AdminName               string
	BlockedWords            []string
}

// Thread is the response of FetchThread.
type Thread struct {
	SubjectID string         `json:"subjectId"`
	Comments  []*thread.Node `json:"comments"`
}

type Service struct {
	store  dataStore
	votes  *ledger.Ledger
	filter *moderation.Filter
	cache  *cache.ThreadCache
	search *search.Service
	checks map[string]Pinger
	opts   Options
	logger *zap.Logger
}

// NewService wires the comment operations. threads and searcher may be nil.
func NewService(data dataStore, votes *ledger.Ledger, threads *cache.ThreadCache, searcher *search.Service, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.ThreadLimit <= 0 {
		opts.ThreadLimit = 2000
	}
	if strings.TrimSpace(opts.AdminName) == "" {
		opts.AdminName = "admin"
	}
	return &Service{
		store:  data,
		votes:  votes,
		filter: moderation.NewFilter(opts.BlockedWords),
		cache:  threads,
		search: searcher,
		checks: map[string]Pinger{"store": data},
		opts:   opts,
		logger: logger,
	}
}

// AddReadinessCheck registers an extra dependency reported by Readiness.
func (s *Service) AddReadinessCheck(name string, p Pinger) {
	s.checks[name] = p
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

type postInput struct {
	SubjectID     string
	AuthorName    string
	ParentID      string
	Body          string
	IsAuthorReply bool
}

// PostComment creates a root comment on subjectID.
func (s *Service) PostComment(ctx context.Context, subjectID, authorName, body string) (store.Comment, error) {
	return s.post(ctx, postInput{SubjectID: subjectID, AuthorName: authorName, Body: body})
}

// PostReply creates a reply to parentID, which must exist on the same subject.
func (s *Service) PostReply(ctx context.Context, subjectID, authorName, parentID, body string) (store.Comment, error) {
	if strings.TrimSpace(parentID) == "" {
		return store.Comment{}, validationError("parentId", "parentId is required")
	}
	return s.post(ctx, postInput{SubjectID: subjectID, AuthorName: authorName, ParentID: parentID, Body: body})
}

// PostAuthorReply creates an operator reply flagged as an author reply.
// An empty authorName falls back to the configured operator name.
func (s *Service) PostAuthorReply(ctx context.Context, subjectID, authorName, parentID, body string) (store.Comment, error) {
	if strings.TrimSpace(parentID) == "" {
		return store.Comment{}, validationError("parentId", "parentId is required")
	}
	if strings.TrimSpace(authorName) == "" {
		authorName = s.opts.AdminName
	}
	return s.post(ctx, postInput{SubjectID: subjectID, AuthorName: authorName, ParentID: parentID, Body: body, IsAuthorReply: true})
}

func (s *Service) post(ctx context.Context, in postInput) (store.Comment, error) {
	subjectID := strings.TrimSpace(in.SubjectID)
	if subjectID == "" {
		return store.Comment{}, validationError("subjectId", "subjectId is required")
	}
	if err := store.ValidateAuthorName(in.AuthorName); err != nil {
		return store.Comment{}, classify(err)
	}
	body, err := store.NormalizeBody(in.Body)
	if err != nil {
		return store.Comment{}, classify(err)
	}
	if _, found := s.filter.Match(in.AuthorName); found {
		return store.Comment{}, profanityError("authorName")
	}
	if _, found := s.filter.Match(body); found {
		return store.Comment{}, profanityError("body")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if s.opts.RequireRegisteredHandle && !in.IsAuthorReply {
		registered, err := s.store.HandleExists(ctx, in.AuthorName)
		if err != nil {
			return store.Comment{}, classify(err)
		}
		if !registered {
			return store.Comment{}, validationError("authorName", "register handle first")
		}
	}

	comment, err := s.store.InsertComment(ctx, store.Comment{
		SubjectID:     subjectID,
		AuthorName:    in.AuthorName,
		Body:          body,
		ParentID:      strings.TrimSpace(in.ParentID),
		IsAuthorReply: in.IsAuthorReply,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Comment{}, domainError(http.StatusNotFound, CodeNotFound, "Parent comment not found", map[string]any{"parentId": in.ParentID})
		}
		return store.Comment{}, classify(err)
	}

	s.cache.Invalidate(subjectID)
	s.search.IndexComment(comment)
	s.logger.Info("comment posted",
		zap.String("comment_id", comment.ID),
		zap.String("subject_id", comment.SubjectID),
		zap.Bool("reply", comment.IsReply()),
		zap.Bool("author_reply", comment.IsAuthorReply),
	)
	return comment, nil
}

// FetchThread returns the ordered reply tree for subjectID. When reactorID
// is set, each node carries that reactor's current vote.
func (s *Service) FetchThread(ctx context.Context, subjectID, reactorID string) (Thread, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Thread{}, validationError("subjectId", "subjectId is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	comments, ok := s.cache.Get(subjectID)
	if !ok {
		gen := s.cache.Generation(subjectID)
		var err error
		comments, err = s.store.ListCommentsBySubject(ctx, subjectID, s.opts.ThreadLimit)
		if err != nil {
			return Thread{}, classify(err)
		}
		s.cache.SetIfCurrent(subjectID, gen, comments)
	}

	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}
	counts, err := s.votes.Counts(ctx, ids)
	if err != nil {
		return Thread{}, classify(err)
	}
	for i := range comments {
		c := counts[comments[i].ID]
		comments[i].LikeCount = c.Likes
		comments[i].DislikeCount = c.Dislikes
	}

	roots := thread.BuildTree(comments)
	if strings.TrimSpace(reactorID) != "" {
		states, err := s.votes.States(ctx, reactorID, ids)
		if err != nil {
			return Thread{}, classify(err)
		}
		thread.Walk(roots, func(n *thread.Node) {
			n.MyVote = states[n.ID]
		})
	}
	return Thread{SubjectID: subjectID, Comments: roots}, nil
}

// Vote toggles reactorID's like or dislike on commentID.
func (s *Service) Vote(ctx context.Context, commentID, reactorID, kind string) (ledger.Counts, error) {
	commentID = strings.TrimSpace(commentID)
	if commentID == "" {
		return ledger.Counts{}, validationError("commentId", "commentId is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	counts, err := s.votes.Vote(ctx, commentID, reactorID, kind)
	if err != nil {
		return ledger.Counts{}, classify(err)
	}
	return counts, nil
}

// DeleteComment removes one comment and its votes. Replies stay and are
// shown as roots.
func (s *Service) DeleteComment(ctx context.Context, commentID string) error {
	commentID = strings.TrimSpace(commentID)
	if commentID == "" {
		return validationError("commentId", "commentId is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return classify(err)
	}
	if err := s.store.DeleteComment(ctx, commentID); err != nil {
		return classify(err)
	}
	if err := s.votes.Forget(ctx, []string{commentID}); err != nil {
		s.logger.Warn("forget votes for deleted comment", zap.String("comment_id", commentID), zap.Error(err))
	}
	s.cache.Invalidate(comment.SubjectID)
	s.search.DeleteComments(commentID)
	s.logger.Info("comment deleted", zap.String("comment_id", commentID), zap.String("subject_id", comment.SubjectID))
	return nil
}

// SearchComments runs a full-text query over comment bodies.
func (s *Service) SearchComments(ctx context.Context, text, subjectID string, limit int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, validationError("q", "query is required")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	resp, err := s.search.Search(ctx, search.Query{Text: text, SubjectID: strings.TrimSpace(subjectID), Limit: limit})
	if err != nil {
		return search.Response{}, classify(err)
	}
	return resp, nil
}

// RegisterHandle claims name as an author handle.
func (s *Service) RegisterHandle(ctx context.Context, name string) (store.Handle, error) {
	normalized, err := store.NormalizeHandle(name)
	if err != nil {
		return store.Handle{}, classify(err)
	}
	if _, found := s.filter.Match(normalized); found {
		return store.Handle{}, profanityError("name")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	handle, err := s.store.RegisterHandle(ctx, normalized)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Handle{}, domainError(http.StatusConflict, CodeConflict, "Username already taken", map[string]any{"name": normalized})
		}
		return store.Handle{}, classify(err)
	}
	s.logger.Info("handle registered", zap.String("name", handle.Name))
	return handle, nil
}

// HandleAvailable reports whether name is well-formed and unclaimed.
func (s *Service) HandleAvailable(ctx context.Context, name string) (string, bool, error) {
	normalized, err := store.NormalizeHandle(name)
	if err != nil {
		return "", false, classify(err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	exists, err := s.store.HandleExists(ctx, normalized)
	if err != nil {
		return "", false, classify(err)
	}
	return normalized, !exists, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings every registered dependency and returns failures by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	results := make(map[string]error, len(s.checks))
	for name, p := range s.checks {
		results[name] = p.Ping(ctx)
	}
	return results
}
