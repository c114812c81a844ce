package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zackhub/api/internal/ledger"
)

// MemoryStore keeps everything in process. One mutex serializes writes, which
// makes every vote toggle atomic per pair.
type MemoryStore struct {
	mu        sync.RWMutex
	comments  map[string]memoryComment
	bySubject map[string][]string
	votes     map[string]map[string]ledger.Kind
	handles   map[string]Handle
	seq       int64
	now       func() time.Time
}

type memoryComment struct {
	Comment
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comments:  make(map[string]memoryComment),
		bySubject: make(map[string][]string),
		votes:     make(map[string]map[string]ledger.Kind),
		handles:   make(map[string]Handle),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for createdAt.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) InsertComment(_ context.Context, c Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := prepareInsert(c, s.now())
	if err != nil {
		return Comment{}, err
	}
	if c.ParentID != "" {
		parent, ok := s.comments[c.ParentID]
		if !ok || parent.SubjectID != c.SubjectID {
			return Comment{}, fmt.Errorf("parent comment %s: %w", c.ParentID, ErrNotFound)
		}
	}
	s.seq++
	s.comments[c.ID] = memoryComment{Comment: c, seq: s.seq}
	s.bySubject[c.SubjectID] = append(s.bySubject[c.SubjectID], c.ID)
	return c, nil
}

func (s *MemoryStore) GetComment(_ context.Context, id string) (Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.comments[id]
	if !ok {
		return Comment{}, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	return c.Comment, nil
}

func (s *MemoryStore) ListCommentsBySubject(_ context.Context, subjectID string, limit int) ([]Comment, error) {
	s.mu.RLock()
	items := make([]memoryComment, 0, len(s.bySubject[subjectID]))
	for _, id := range s.bySubject[subjectID] {
		if c, ok := s.comments[id]; ok {
			items = append(items, c)
		}
	}
	s.mu.RUnlock()
	return sortedComments(items, limit), nil
}

func (s *MemoryStore) DeleteComment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[id]; !ok {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	s.removeLocked(id)
	return nil
}

func (s *MemoryStore) ListCommentsBefore(_ context.Context, cutoff time.Time, limit int) ([]Comment, error) {
	s.mu.RLock()
	items := make([]memoryComment, 0)
	for _, c := range s.comments {
		if c.CreatedAt.Before(cutoff) {
			items = append(items, c)
		}
	}
	s.mu.RUnlock()
	return sortedComments(items, limit), nil
}

func (s *MemoryStore) DeleteComments(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.comments[id]; ok {
			s.removeLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) removeLocked(id string) {
	c := s.comments[id]
	delete(s.comments, id)
	delete(s.votes, id)
	ids := s.bySubject[c.SubjectID]
	for i, candidate := range ids {
		if candidate == id {
			s.bySubject[c.SubjectID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

func (s *MemoryStore) ApplyVote(_ context.Context, commentID, reactorID string, kind ledger.Kind) (ledger.Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[commentID]; !ok {
		return ledger.Counts{}, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
	}
	reactors := s.votes[commentID]
	if reactors == nil {
		reactors = make(map[string]ledger.Kind)
		s.votes[commentID] = reactors
	}
	next := ledger.Next(reactors[reactorID], kind)
	if next == ledger.None {
		delete(reactors, reactorID)
	} else {
		reactors[reactorID] = next
	}

	var counts ledger.Counts
	for _, k := range reactors {
		counts.Add(k)
	}
	return counts, nil
}

func (s *MemoryStore) CountsFor(_ context.Context, commentIDs []string) (map[string]ledger.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ledger.Counts, len(commentIDs))
	for _, id := range commentIDs {
		var counts ledger.Counts
		for _, k := range s.votes[id] {
			counts.Add(k)
		}
		out[id] = counts
	}
	return out, nil
}

func (s *MemoryStore) StatesFor(_ context.Context, reactorID string, commentIDs []string) (map[string]ledger.Kind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ledger.Kind)
	for _, id := range commentIDs {
		if k, ok := s.votes[id][reactorID]; ok {
			out[id] = k
		}
	}
	return out, nil
}

func (s *MemoryStore) ForgetVotes(_ context.Context, commentIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range commentIDs {
		delete(s.votes, id)
	}
	return nil
}

func (s *MemoryStore) RegisterHandle(_ context.Context, name string) (Handle, error) {
	name, err := NormalizeHandle(name)
	if err != nil {
		return Handle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.handles[name]; exists {
		return Handle{}, fmt.Errorf("handle %s: %w", name, ErrConflict)
	}
	h := Handle{Name: name, CreatedAt: s.now().UTC().Truncate(time.Millisecond)}
	s.handles[name] = h
	return h, nil
}

func (s *MemoryStore) HandleExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handles[name]
	return ok, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func sortedComments(items []memoryComment, limit int) []Comment {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].seq < items[j].seq
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]Comment, 0, len(items))
	for _, c := range items {
		out = append(out, c.Comment)
	}
	return out
}
