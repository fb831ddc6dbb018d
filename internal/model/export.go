package model

import "time"

// WorksheetExportFile is the top-level JSON structure for worksheet export.
type WorksheetExportFile struct {
	ExportedAt time.Time         `json:"exported_at"`
	Worksheets []WorksheetExport `json:"worksheets"`
}

// WorksheetExport holds one worksheet's data for export.
type WorksheetExport struct {
	ID             string                  `json:"id"`
	Username       string                  `json:"username"`
	SubjectCode    string                  `json:"subject_code"`
	TopicCodes     []string                `json:"topic_codes,omitempty"`
	Difficulties   []Difficulty            `json:"difficulties,omitempty"`
	RequestedCount int                     `json:"requested_count"`
	Degraded       bool                    `json:"degraded"`
	CreatedAt      time.Time               `json:"created_at"`
	Items          []WorksheetExportItem `json:"items"`
}

// WorksheetExportItem holds per-question data for export.
type WorksheetExportItem struct {
	Position   int        `json:"position"`
	Text       string     `json:"text"`
	Marks      int        `json:"marks"`
	Difficulty Difficulty `json:"difficulty"`
	Paper      PaperRef   `json:"paper"`
	TopicCodes []string   `json:"topic_codes,omitempty"`
	Markscheme string     `json:"markscheme,omitempty"`
}
