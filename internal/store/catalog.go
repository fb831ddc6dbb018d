package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/grademax/grademax/internal/model"
)

// UpsertSubject inserts a subject or updates its name, returning its ID.
func (s *Store) UpsertSubject(code, name string) (int64, error) {
	_, err := s.db.Exec(
		`INSERT INTO subjects (code, name) VALUES (?, ?)
		 ON CONFLICT(code) DO UPDATE SET name = ?`,
		code, name, name,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(`SELECT id FROM subjects WHERE code = ?`, code).Scan(&id)
	return id, err
}

// SubjectByCode returns a subject by code, or nil if it does not exist.
func (s *Store) SubjectByCode(ctx context.Context, code string) (*model.Subject, error) {
	var sub model.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name FROM subjects WHERE code = ?`, code,
	).Scan(&sub.ID, &sub.Code, &sub.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// SubjectByID returns a subject by ID, or nil if it does not exist.
func (s *Store) SubjectByID(ctx context.Context, id int64) (*model.Subject, error) {
	var sub model.Subject
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name FROM subjects WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.Code, &sub.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubjects returns all subjects ordered by code.
func (s *Store) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, name FROM subjects ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []model.Subject
	for rows.Next() {
		var sub model.Subject
		if err := rows.Scan(&sub.ID, &sub.Code, &sub.Name); err != nil {
			return nil, err
		}
		subjects = append(subjects, sub)
	}
	return subjects, rows.Err()
}

// UpsertTopic inserts a topic or updates its name, returning its ID.
func (s *Store) UpsertTopic(subjectID int64, code, name string) (int64, error) {
	_, err := s.db.Exec(
		`INSERT INTO topics (subject_id, code, name) VALUES (?, ?, ?)
		 ON CONFLICT(subject_id, code) DO UPDATE SET name = ?`,
		subjectID, code, name, name,
	)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.db.QueryRow(
		`SELECT id FROM topics WHERE subject_id = ? AND code = ?`, subjectID, code,
	).Scan(&id)
	return id, err
}

// TopicsBySubject returns a subject's topics ordered by code.
func (s *Store) TopicsBySubject(ctx context.Context, subjectID int64) ([]model.Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, code, name FROM topics WHERE subject_id = ? ORDER BY code`,
		subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var topics []model.Topic
	for rows.Next() {
		var t model.Topic
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.Code, &t.Name); err != nil {
			return nil, err
		}
		topics = append(topics, t)
	}
	return topics, rows.Err()
}

// InsertPaper inserts a paper, returning its ID. A paper already imported
// for the subject (same code) is an error; bank files are deduplicated
// upstream by hash, so a collision means conflicting inputs.
func (s *Store) InsertPaper(p model.Paper) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO papers (subject_id, code, year, session) VALUES (?, ?, ?, ?)`,
		p.SubjectID, p.Code, p.Year, p.Session,
	)
	if err != nil {
		return 0, fmt.Errorf("insert paper %s: %w", p.Code, err)
	}
	return res.LastInsertId()
}

// ListPapers returns a subject's papers, newest year first.
func (s *Store) ListPapers(ctx context.Context, subjectID int64) ([]model.Paper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, code, year, session FROM papers
		 WHERE subject_id = ? ORDER BY year DESC, code`,
		subjectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var papers []model.Paper
	for rows.Next() {
		var p model.Paper
		if err := rows.Scan(&p.ID, &p.SubjectID, &p.Code, &p.Year, &p.Session); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}
