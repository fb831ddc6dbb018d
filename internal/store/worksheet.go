package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grademax/grademax/internal/model"
)

// CreateWorksheet atomically records a worksheet and its ordered items.
// Positions are assigned 1-based from the order of questionIDs. Either
// the worksheet and all items are committed, or nothing is; a partially
// written worksheet is never visible to readers.
func (s *Store) CreateWorksheet(ctx context.Context, ws *model.Worksheet, questionIDs []int64) (int64, error) {
	topicCodes, err := json.Marshal(ws.TopicCodes)
	if err != nil {
		return 0, fmt.Errorf("encode topic codes: %w", err)
	}
	difficulties, err := json.Marshal(ws.Difficulties)
	if err != nil {
		return 0, fmt.Errorf("encode difficulties: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ws.CreatedAt = time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO worksheets
		 (public_id, user_id, subject_id, topic_codes, difficulties, requested_count, shuffle, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.PublicID, ws.UserID, ws.SubjectID, string(topicCodes), string(difficulties),
		ws.RequestedCount, ws.Shuffle, ws.Degraded, ws.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	worksheetID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, qID := range questionIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO worksheet_items (worksheet_id, question_id, position) VALUES (?, ?, ?)`,
			worksheetID, qID, i+1,
		)
		if err != nil {
			return 0, fmt.Errorf("insert item %d: %w", i+1, err)
		}
	}

	return worksheetID, tx.Commit()
}

// WorksheetByPublicID returns a worksheet, or nil if it does not exist.
func (s *Store) WorksheetByPublicID(ctx context.Context, publicID string) (*model.Worksheet, error) {
	var ws model.Worksheet
	var topicCodes, difficulties string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, public_id, user_id, subject_id, topic_codes, difficulties,
		        requested_count, shuffle, degraded, created_at
		 FROM worksheets WHERE public_id = ?`, publicID,
	).Scan(&ws.ID, &ws.PublicID, &ws.UserID, &ws.SubjectID, &topicCodes, &difficulties,
		&ws.RequestedCount, &ws.Shuffle, &ws.Degraded, &ws.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(topicCodes), &ws.TopicCodes); err != nil {
		return nil, fmt.Errorf("decode topic codes: %w", err)
	}
	if err := json.Unmarshal([]byte(difficulties), &ws.Difficulties); err != nil {
		return nil, fmt.Errorf("decode difficulties: %w", err)
	}
	return &ws, nil
}

// WorksheetQuestions returns a worksheet's questions in position order,
// annotated with topic codes and source papers.
func (s *Store) WorksheetQuestions(ctx context.Context, worksheetID int64) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+`
		 FROM worksheet_items wi
		 JOIN questions q ON q.id = wi.question_id
		 JOIN papers p ON p.id = q.paper_id
		 WHERE wi.worksheet_id = ?
		 ORDER BY wi.position`,
		worksheetID,
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachTopicCodes(ctx, questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// ListWorksheetsByUser returns a user's worksheets newest first, with
// their item counts.
func (s *Store) ListWorksheetsByUser(ctx context.Context, userID int64) ([]model.Worksheet, []int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.public_id, w.user_id, w.subject_id, w.topic_codes, w.difficulties,
		        w.requested_count, w.shuffle, w.degraded, w.created_at,
		        (SELECT COUNT(*) FROM worksheet_items wi WHERE wi.worksheet_id = w.id)
		 FROM worksheets w
		 WHERE w.user_id = ?
		 ORDER BY w.created_at DESC, w.id DESC`,
		userID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var worksheets []model.Worksheet
	var counts []int
	for rows.Next() {
		var ws model.Worksheet
		var topicCodes, difficulties string
		var itemCount int
		if err := rows.Scan(&ws.ID, &ws.PublicID, &ws.UserID, &ws.SubjectID, &topicCodes,
			&difficulties, &ws.RequestedCount, &ws.Shuffle, &ws.Degraded, &ws.CreatedAt,
			&itemCount); err != nil {
			return nil, nil, err
		}
		if err := json.Unmarshal([]byte(topicCodes), &ws.TopicCodes); err != nil {
			return nil, nil, fmt.Errorf("decode topic codes: %w", err)
		}
		if err := json.Unmarshal([]byte(difficulties), &ws.Difficulties); err != nil {
			return nil, nil, fmt.Errorf("decode difficulties: %w", err)
		}
		worksheets = append(worksheets, ws)
		counts = append(counts, itemCount)
	}
	return worksheets, counts, rows.Err()
}

// CountWorksheetsSince returns how many worksheets a user generated at or
// after the given time. Used for daily quota checks.
func (s *Store) CountWorksheetsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM worksheets WHERE user_id = ? AND created_at >= ?`,
		userID, since,
	).Scan(&count)
	return count, err
}
