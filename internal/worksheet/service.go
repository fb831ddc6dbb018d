package worksheet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/grademax/grademax/internal/model"
)

const (
	// hardCap bounds worst-case candidate query cost.
	hardCap = 200
	// overfetchFactor oversizes the pool so balancing does not starve
	// any one topic.
	overfetchFactor = 4
)

var (
	// ErrSubjectNotFound means the requested subject code does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrTopicNotFound means a requested topic code does not exist for
	// the subject.
	ErrTopicNotFound = errors.New("topic not found")
	// ErrInvalidCount means the requested count is outside 1..50.
	ErrInvalidCount = errors.New("count must be between 1 and 50")
)

// QueryError wraps a storage failure during the candidate query. It is
// propagated, not retried.
type QueryError struct{ Err error }

func (e *QueryError) Error() string { return "candidate query: " + e.Err.Error() }
func (e *QueryError) Unwrap() error { return e.Err }

// PersistError wraps a storage failure while recording the worksheet.
// The caller should assume no worksheet was durably created.
type PersistError struct{ Err error }

func (e *PersistError) Error() string { return "persist worksheet: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// MaxCount is the largest worksheet a single request may ask for.
const MaxCount = 50

// Store is the data access the generator needs. *store.Store satisfies it.
type Store interface {
	SubjectByCode(ctx context.Context, code string) (*model.Subject, error)
	TopicsBySubject(ctx context.Context, subjectID int64) ([]model.Topic, error)
	CandidateQuestions(ctx context.Context, subjectID int64, topicIDs []int64, difficulties []model.Difficulty, limit int) ([]model.Question, error)
	SubjectHasTopicTags(ctx context.Context, subjectID int64) (bool, error)
	CreateWorksheet(ctx context.Context, ws *model.Worksheet, questionIDs []int64) (int64, error)
}

// Result is the outcome of one generation call. Questions is empty (and
// no worksheet is persisted) when the filters matched nothing; that is a
// valid outcome, not an error.
type Result struct {
	Worksheet model.Worksheet
	Subject   model.Subject
	Questions []model.Question
	Degraded  bool
}

// Empty reports whether the filters yielded no candidates.
func (r *Result) Empty() bool { return len(r.Questions) == 0 }

// Service runs worksheet generation end to end: candidate query,
// selection, persistence.
type Service struct {
	store    Store
	selector func(shuffle bool) Selector
}

// NewService creates a generation service on the given store.
func NewService(s Store) *Service {
	return &Service{
		store:    s,
		selector: func(shuffle bool) Selector { return Selector{Shuffle: shuffle} },
	}
}

// Generate selects and persists a worksheet for the given parameters.
// Each call is independent and synchronous; ctx bounds the storage I/O.
func (s *Service) Generate(ctx context.Context, params model.GenerationParams) (*Result, error) {
	if params.Count < 1 || params.Count > MaxCount {
		return nil, ErrInvalidCount
	}
	for _, d := range params.Difficulties {
		if !d.Valid() {
			return nil, fmt.Errorf("invalid difficulty %d", int(d))
		}
	}

	subject, err := s.store.SubjectByCode(ctx, params.SubjectCode)
	if err != nil {
		return nil, &QueryError{err}
	}
	if subject == nil {
		return nil, fmt.Errorf("%w: %q", ErrSubjectNotFound, params.SubjectCode)
	}

	topicIDs, err := s.resolveTopics(ctx, subject.ID, params.TopicCodes)
	if err != nil {
		return nil, err
	}

	limit := params.Count * overfetchFactor
	if limit > hardCap {
		limit = hardCap
	}

	candidates, err := s.store.CandidateQuestions(ctx, subject.ID, topicIDs, params.Difficulties, limit)
	if err != nil {
		return nil, &QueryError{err}
	}

	// Degraded mode: a topic filter against a subject whose questions
	// carry no tags at all would always come back empty, which confuses
	// users more than it informs them. Fall back to the untagged pool
	// and say so in the result.
	degraded := false
	if len(candidates) == 0 && len(topicIDs) > 0 {
		tagged, err := s.store.SubjectHasTopicTags(ctx, subject.ID)
		if err != nil {
			return nil, &QueryError{err}
		}
		if !tagged {
			candidates, err = s.store.CandidateQuestions(ctx, subject.ID, nil, params.Difficulties, limit)
			if err != nil {
				return nil, &QueryError{err}
			}
			degraded = true
			slog.Warn("subject has no topic tags, ignoring topic filter",
				"subject", subject.Code, "topics", params.TopicCodes, "pool", len(candidates))
		}
	}

	result := &Result{Subject: *subject, Degraded: degraded}
	if len(candidates) == 0 {
		return result, nil
	}

	topicFilter := params.TopicCodes
	if degraded {
		topicFilter = nil
	}
	selected := s.selector(params.Shuffle).Select(candidates, topicFilter, params.Count)

	ws := model.Worksheet{
		PublicID:       uuid.NewString(),
		UserID:         params.UserID,
		SubjectID:      subject.ID,
		TopicCodes:     params.TopicCodes,
		Difficulties:   params.Difficulties,
		RequestedCount: params.Count,
		Shuffle:        params.Shuffle,
		Degraded:       degraded,
	}
	questionIDs := make([]int64, len(selected))
	for i, q := range selected {
		questionIDs[i] = q.ID
	}
	id, err := s.store.CreateWorksheet(ctx, &ws, questionIDs)
	if err != nil {
		return nil, &PersistError{err}
	}
	ws.ID = id

	slog.Info("generated worksheet",
		"worksheet", ws.PublicID, "subject", subject.Code, "requested", params.Count,
		"selected", len(selected), "pool", len(candidates), "degraded", degraded)

	result.Worksheet = ws
	result.Questions = selected
	return result, nil
}

// resolveTopics maps requested topic codes to topic IDs, rejecting codes
// the subject does not have.
func (s *Service) resolveTopics(ctx context.Context, subjectID int64, codes []string) ([]int64, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	topics, err := s.store.TopicsBySubject(ctx, subjectID)
	if err != nil {
		return nil, &QueryError{err}
	}
	byCode := make(map[string]int64, len(topics))
	for _, t := range topics {
		byCode[t.Code] = t.ID
	}
	ids := make([]int64, 0, len(codes))
	for _, code := range codes {
		id, ok := byCode[code]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrTopicNotFound, code)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
