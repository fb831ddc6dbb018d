package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grademax/grademax/internal/model"
)

// ExportAllWorksheets builds export-ready worksheet records for every
// worksheet in the database, oldest first.
func (s *Store) ExportAllWorksheets(ctx context.Context) ([]model.WorksheetExport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.public_id, w.topic_codes, w.difficulties, w.requested_count,
		        w.degraded, w.created_at, u.username, sub.code
		 FROM worksheets w
		 JOIN users u ON u.id = w.user_id
		 JOIN subjects sub ON sub.id = w.subject_id
		 ORDER BY w.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list worksheets: %w", err)
	}
	defer rows.Close()

	type row struct {
		id     int64
		export model.WorksheetExport
	}
	var sheets []row
	for rows.Next() {
		var r row
		var topicCodes, difficulties string
		if err := rows.Scan(&r.id, &r.export.ID, &topicCodes, &difficulties,
			&r.export.RequestedCount, &r.export.Degraded, &r.export.CreatedAt,
			&r.export.Username, &r.export.SubjectCode); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(topicCodes), &r.export.TopicCodes); err != nil {
			return nil, fmt.Errorf("decode topic codes: %w", err)
		}
		if err := json.Unmarshal([]byte(difficulties), &r.export.Difficulties); err != nil {
			return nil, fmt.Errorf("decode difficulties: %w", err)
		}
		sheets = append(sheets, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var exports []model.WorksheetExport
	for _, r := range sheets {
		questions, err := s.WorksheetQuestions(ctx, r.id)
		if err != nil {
			return nil, fmt.Errorf("worksheet %s items: %w", r.export.ID, err)
		}
		for i, q := range questions {
			r.export.Items = append(r.export.Items, model.WorksheetExportItem{
				Position:   i + 1,
				Text:       q.Text,
				Marks:      q.Marks,
				Difficulty: q.Difficulty,
				Paper:      q.Paper,
				TopicCodes: q.TopicCodes,
				Markscheme: q.Markscheme,
			})
		}
		exports = append(exports, r.export)
	}
	return exports, nil
}
