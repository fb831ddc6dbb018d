package store

import (
	"context"
	"strings"

	"github.com/grademax/grademax/internal/model"
)

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO questions (paper_id, number, text, marks, difficulty, markscheme)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.PaperID, q.Number, q.Text, q.Marks, q.Difficulty, q.Markscheme,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// TagQuestion links a question to a topic, keeping the higher confidence
// if the tag already exists.
func (s *Store) TagQuestion(questionID, topicID int64, confidence float64) error {
	_, err := s.db.Exec(
		`INSERT INTO question_topics (question_id, topic_id, confidence)
		 VALUES (?, ?, ?)
		 ON CONFLICT(question_id, topic_id) DO UPDATE SET confidence = MAX(confidence, ?)`,
		questionID, topicID, confidence, confidence,
	)
	return err
}

// SetQuestionDifficulty records a classified difficulty level.
func (s *Store) SetQuestionDifficulty(questionID int64, d model.Difficulty) error {
	_, err := s.db.Exec(`UPDATE questions SET difficulty = ? WHERE id = ?`, d, questionID)
	return err
}

// placeholders returns "?, ?, ..." for n query parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

const questionColumns = `q.id, q.paper_id, q.number, q.text, q.marks, q.difficulty, q.markscheme,
	 p.code, p.year, p.session`

// CandidateQuestions returns up to limit questions of a subject matching
// the optional topic and difficulty filters, in insertion order, each
// annotated with its topic codes and source paper. The caller decides how
// to reduce the pool; this only bounds the query.
func (s *Store) CandidateQuestions(ctx context.Context, subjectID int64, topicIDs []int64, difficulties []model.Difficulty, limit int) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + `
	 FROM questions q
	 JOIN papers p ON p.id = q.paper_id
	 WHERE p.subject_id = ?`
	args := []any{subjectID}

	if len(difficulties) > 0 {
		query += ` AND q.difficulty IN (` + placeholders(len(difficulties)) + `)`
		for _, d := range difficulties {
			args = append(args, d)
		}
	}
	if len(topicIDs) > 0 {
		query += ` AND EXISTS (
			SELECT 1 FROM question_topics qt
			WHERE qt.question_id = q.id AND qt.topic_id IN (` + placeholders(len(topicIDs)) + `))`
		for _, id := range topicIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY q.id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.PaperID, &q.Number, &q.Text, &q.Marks, &q.Difficulty,
			&q.Markscheme, &q.Paper.Code, &q.Paper.Year, &q.Paper.Session); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachTopicCodes(ctx, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// attachTopicCodes fills TopicCodes for each question, highest-confidence
// tag first.
func (s *Store) attachTopicCodes(ctx context.Context, questions []model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	args := make([]any, len(questions))
	index := make(map[int64]int, len(questions))
	for i := range questions {
		args[i] = questions[i].ID
		index[questions[i].ID] = i
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT qt.question_id, t.code
		 FROM question_topics qt
		 JOIN topics t ON t.id = qt.topic_id
		 WHERE qt.question_id IN (`+placeholders(len(questions))+`)
		 ORDER BY qt.question_id, qt.confidence DESC, t.code`,
		args...,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var questionID int64
		var code string
		if err := rows.Scan(&questionID, &code); err != nil {
			return err
		}
		i := index[questionID]
		questions[i].TopicCodes = append(questions[i].TopicCodes, code)
	}
	return rows.Err()
}

// SubjectHasTopicTags reports whether any question of the subject carries
// a topic tag. False means classification has not run yet and topic
// filters cannot be applied meaningfully.
func (s *Store) SubjectHasTopicTags(ctx context.Context, subjectID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM question_topics qt
		 JOIN questions q ON q.id = qt.question_id
		 JOIN papers p ON p.id = q.paper_id
		 WHERE p.subject_id = ?`,
		subjectID,
	).Scan(&count)
	return count > 0, err
}

// UntaggedQuestions returns up to limit questions of a subject that have
// no topic tags yet, for the classifier to process.
func (s *Store) UntaggedQuestions(ctx context.Context, subjectID int64, limit int) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+`
		 FROM questions q
		 JOIN papers p ON p.id = q.paper_id
		 WHERE p.subject_id = ?
		   AND NOT EXISTS (SELECT 1 FROM question_topics qt WHERE qt.question_id = q.id)
		 ORDER BY q.id LIMIT ?`,
		subjectID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.PaperID, &q.Number, &q.Text, &q.Marks, &q.Difficulty,
			&q.Markscheme, &q.Paper.Code, &q.Paper.Year, &q.Paper.Session); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}
