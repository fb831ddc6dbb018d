package model

// GenerateRequest is the JSON body of POST /api/worksheets.
type GenerateRequest struct {
	SubjectCode       string   `json:"subject_code"`
	TopicCodes        []string `json:"topic_codes,omitempty"`
	Difficulties      []int    `json:"difficulties,omitempty"`
	Count             int      `json:"count,omitempty"`   // default 10
	Shuffle           *bool    `json:"shuffle,omitempty"` // default true
	IncludeMarkscheme bool     `json:"include_markscheme,omitempty"`
}

// WorksheetItemResponse is one selected question in a worksheet response.
type WorksheetItemResponse struct {
	Position   int      `json:"position"`
	QuestionID int64    `json:"question_id"`
	Number     int      `json:"number"`
	Text       string   `json:"text"`
	Marks      int      `json:"marks"`
	Difficulty int      `json:"difficulty"`
	TopicCodes []string `json:"topic_codes,omitempty"`
	Paper      PaperRef `json:"paper"`
	Markscheme string   `json:"markscheme,omitempty"`
}

// WorksheetResponse is the JSON response for generation and retrieval.
// An empty Items slice with a Message is a valid "no matches" outcome,
// not an error.
type WorksheetResponse struct {
	ID        string                  `json:"id,omitempty"`
	Subject   Subject                 `json:"subject"`
	CreatedAt string                  `json:"created_at,omitempty"`
	Requested GenerateRequest         `json:"requested"`
	Degraded  bool                    `json:"degraded"`
	Items     []WorksheetItemResponse `json:"items"`
	Message   string                  `json:"message,omitempty"`
}

// WorksheetSummary is one row in the caller's worksheet listing.
type WorksheetSummary struct {
	ID          string   `json:"id"`
	SubjectCode string   `json:"subject_code"`
	TopicCodes  []string `json:"topic_codes,omitempty"`
	ItemCount   int      `json:"item_count"`
	Degraded    bool     `json:"degraded"`
	CreatedAt   string   `json:"created_at"`
}

// UserResponse is the JSON shape of a user in auth and admin endpoints.
type UserResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Role        UserRole `json:"role"`
	Active      bool     `json:"active"`
	DailyQuota  int      `json:"daily_quota"`
}

// NewUserResponse converts a User for API output, dropping the hash.
func NewUserResponse(u User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Active:      u.Active,
		DailyQuota:  u.DailyQuota,
	}
}
