package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	DailyQuota   int // max worksheets per day, 0 = unlimited
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Difficulty is an ordinal question difficulty: 1 easy, 2 medium, 3 hard.
// Zero means the question has not been classified yet.
type Difficulty int

const (
	DifficultyUnset  Difficulty = 0
	DifficultyEasy   Difficulty = 1
	DifficultyMedium Difficulty = 2
	DifficultyHard   Difficulty = 3
)

// Valid reports whether d is one of the three assignable levels.
func (d Difficulty) Valid() bool {
	return d >= DifficultyEasy && d <= DifficultyHard
}

func (d Difficulty) String() string {
	switch d {
	case DifficultyEasy:
		return "easy"
	case DifficultyMedium:
		return "medium"
	case DifficultyHard:
		return "hard"
	default:
		return "unclassified"
	}
}

// Subject is a top-level course grouping topics and papers (e.g. Physics).
type Subject struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Topic is a numbered curriculum subdivision within a subject.
type Topic struct {
	ID        int64  `json:"id"`
	SubjectID int64  `json:"subject_id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
}

// Paper is a past exam paper a question was ingested from.
type Paper struct {
	ID        int64  `json:"id"`
	SubjectID int64  `json:"subject_id"`
	Code      string `json:"code"`
	Year      int    `json:"year"`
	Session   string `json:"session"`
}

// PaperRef is the subset of paper fields carried on a question so a
// worksheet can cite the question's source without another lookup.
type PaperRef struct {
	Code    string `json:"code"`
	Year    int    `json:"year"`
	Session string `json:"session"`
}

// Question is a single past-paper question. Questions are immutable once
// ingested; topic tags and difficulty are added by the classifier.
type Question struct {
	ID         int64      `json:"id"`
	PaperID    int64      `json:"paper_id"`
	Number     int        `json:"number"`
	Text       string     `json:"text"`
	Marks      int        `json:"marks"`
	Difficulty Difficulty `json:"difficulty"`
	Markscheme string     `json:"markscheme,omitempty"`
	TopicCodes []string   `json:"topic_codes,omitempty"` // highest-confidence first
	Paper      PaperRef   `json:"paper"`
}

// TopicTag links a question to a topic with the classifier's confidence.
type TopicTag struct {
	QuestionID int64
	TopicID    int64
	Confidence float64
}

// Worksheet records one generation: the parameters used (stored verbatim
// for reproducibility) and, via WorksheetItem rows, the ordered selection.
type Worksheet struct {
	ID             int64
	PublicID       string
	UserID         int64
	SubjectID      int64
	TopicCodes     []string
	Difficulties   []Difficulty
	RequestedCount int
	Shuffle        bool
	Degraded       bool
	CreatedAt      time.Time
}

// WorksheetItem is an ordered membership record. Position is a dense
// 1-based sequence unique within its worksheet.
type WorksheetItem struct {
	WorksheetID int64
	QuestionID  int64
	Position    int
}

// GenerationParams are the inputs to one worksheet generation call.
type GenerationParams struct {
	SubjectCode       string
	TopicCodes        []string
	Difficulties      []Difficulty
	Count             int
	Shuffle           bool
	IncludeMarkscheme bool
	UserID            int64
}

// ServerConfig holds runtime server parameters set via CLI flags.
type ServerConfig struct {
	SecureCookies bool // Set Secure flag on cookies (disable for local dev)
	DefaultQuota  int  // daily quota for new users when none is given
}
