package store

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"zackhub/api/internal/util"
)

const (
	MaxBodyLength   = 500
	MaxHandleLength = 30
)

var authorNamePattern = regexp.MustCompile(`^[a-z0-9_]{5,}$`)

// Comment is one posted message. A root comment has an empty ParentID.
// LikeCount and DislikeCount are filled in from the vote ledger on read.
type Comment struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subjectId"`
	AuthorName    string    `json:"authorName"`
	Body          string    `json:"body"`
	ParentID      string    `json:"parentId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LikeCount     int       `json:"likeCount"`
	DislikeCount  int       `json:"dislikeCount"`
	IsAuthorReply bool      `json:"isAuthorReply"`
}

func (c Comment) IsReply() bool {
	return c.ParentID != ""
}

// Handle is a registered author name.
type Handle struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ValidateAuthorName enforces lowercase letters, digits and underscore, at least five characters.
func ValidateAuthorName(name string) error {
	if !authorNamePattern.MatchString(name) {
		return &ValidationError{Field: "authorName", Message: "use a-z, 0-9 and underscore, at least 5 characters"}
	}
	return nil
}

// NormalizeHandle trims and lower-cases a handle and checks its format and length.
func NormalizeHandle(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !authorNamePattern.MatchString(name) {
		return "", &ValidationError{Field: "name", Message: "use a-z, 0-9 and underscore, at least 5 characters"}
	}
	if len(name) > MaxHandleLength {
		return "", &ValidationError{Field: "name", Message: "at most 30 characters"}
	}
	return name, nil
}

// NormalizeBody trims body and checks it holds 1 to MaxBodyLength characters.
func NormalizeBody(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", &ValidationError{Field: "body", Message: "comment body is required"}
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return "", &ValidationError{Field: "body", Message: "comment too long (max 500)"}
	}
	return body, nil
}

// prepareInsert validates c and assigns its identity and timestamp.
func prepareInsert(c Comment, now time.Time) (Comment, error) {
	c.SubjectID = strings.TrimSpace(c.SubjectID)
	if c.SubjectID == "" {
		return Comment{}, &ValidationError{Field: "subjectId", Message: "subject id is required"}
	}
	if err := ValidateAuthorName(c.AuthorName); err != nil {
		return Comment{}, err
	}
	body, err := NormalizeBody(c.Body)
	if err != nil {
		return Comment{}, err
	}
	c.Body = body
	c.ParentID = strings.TrimSpace(c.ParentID)
	c.ID = util.NewID("cmt")
	// Mongo keeps millisecond precision; every backend truncates the same way.
	c.CreatedAt = now.UTC().Truncate(time.Millisecond)
	c.LikeCount = 0
	c.DislikeCount = 0
	return c, nil
}
