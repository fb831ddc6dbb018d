package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/grademax/grademax/internal/i18n"
	"github.com/grademax/grademax/internal/model"
	"github.com/grademax/grademax/internal/store"
	"github.com/grademax/grademax/internal/worksheet"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	generator *worksheet.Service
	config    model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, g *worksheet.Service, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, generator: g, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/login", h.handleLogin)
	r.Post("/api/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/api/subjects", h.handleListSubjects)
		r.Get("/api/subjects/{subjectCode}/topics", h.handleListTopics)
		r.Get("/api/subjects/{subjectCode}/papers", h.handleListPapers)

		r.Post("/api/worksheets", h.handleGenerateWorksheet)
		r.Get("/api/worksheets", h.handleListWorksheets)
		r.Get("/api/worksheets/{worksheetID}", h.handleGetWorksheet)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/api/admin/users", h.handleListUsers)
			r.Post("/api/admin/users", h.handleCreateUser)
			r.Post("/api/admin/users/{userID}/toggle", h.handleToggleUserActive)
			r.Put("/api/admin/users/{userID}/quota", h.handleSetUserQuota)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.ListSubjects(r.Context())
	if err != nil {
		slog.Error("list subjects", "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	if subjects == nil {
		subjects = []model.Subject{}
	}
	respondJSON(w, http.StatusOK, subjects)
}

// subjectFromURL resolves the {subjectCode} route parameter, writing a
// 404 and returning nil when the subject does not exist.
func (h *Handler) subjectFromURL(w http.ResponseWriter, r *http.Request) *model.Subject {
	code := chi.URLParam(r, "subjectCode")
	subject, err := h.store.SubjectByCode(r.Context(), code)
	if err != nil {
		slog.Error("get subject", "code", code, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return nil
	}
	if subject == nil {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "SubjectNotFound"))
		return nil
	}
	return subject
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	subject := h.subjectFromURL(w, r)
	if subject == nil {
		return
	}
	topics, err := h.store.TopicsBySubject(r.Context(), subject.ID)
	if err != nil {
		slog.Error("list topics", "subject", subject.Code, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	if topics == nil {
		topics = []model.Topic{}
	}
	respondJSON(w, http.StatusOK, topics)
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	subject := h.subjectFromURL(w, r)
	if subject == nil {
		return
	}
	papers, err := h.store.ListPapers(r.Context(), subject.ID)
	if err != nil {
		slog.Error("list papers", "subject", subject.Code, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	if papers == nil {
		papers = []model.Paper{}
	}
	respondJSON(w, http.StatusOK, papers)
}

func (h *Handler) handleGenerateWorksheet(w http.ResponseWriter, r *http.Request) {
	var req model.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.SubjectCode == "" {
		respondError(w, http.StatusBadRequest, "subject_code is required")
		return
	}
	if req.Count == 0 {
		req.Count = 10
	}
	if req.Count < 1 || req.Count > worksheet.MaxCount {
		respondError(w, http.StatusBadRequest, worksheet.ErrInvalidCount.Error())
		return
	}
	shuffle := true
	if req.Shuffle != nil {
		shuffle = *req.Shuffle
	}
	difficulties := make([]model.Difficulty, 0, len(req.Difficulties))
	for _, d := range req.Difficulties {
		diff := model.Difficulty(d)
		if !diff.Valid() {
			respondError(w, http.StatusBadRequest, "difficulties must be 1 (easy) to 3 (hard)")
			return
		}
		difficulties = append(difficulties, diff)
	}

	user := model.UserFromContext(r.Context())
	if quotaExceeded := h.checkQuota(w, r, user); quotaExceeded {
		return
	}

	params := model.GenerationParams{
		SubjectCode:       req.SubjectCode,
		TopicCodes:        req.TopicCodes,
		Difficulties:      difficulties,
		Count:             req.Count,
		Shuffle:           shuffle,
		IncludeMarkscheme: req.IncludeMarkscheme,
		UserID:            user.ID,
	}

	res, err := h.generator.Generate(r.Context(), params)
	switch {
	case err == nil:
	case errors.Is(err, worksheet.ErrSubjectNotFound):
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "SubjectNotFound"))
		return
	case errors.Is(err, worksheet.ErrTopicNotFound):
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "TopicNotFound"))
		return
	case errors.Is(err, worksheet.ErrInvalidCount):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		slog.Error("worksheet generation failed", "subject", req.SubjectCode, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "GenerationFailed"))
		return
	}

	resp := model.WorksheetResponse{
		Subject:   res.Subject,
		Requested: req,
		Degraded:  res.Degraded,
		Items:     []model.WorksheetItemResponse{},
	}
	if res.Empty() {
		// Zero matches is a soft outcome: the request was valid, the
		// filters were just too narrow. Unknown subject stays a 404.
		resp.Message = appI18n.T(r.Context(), "NoQuestionsFound")
		respondJSON(w, http.StatusOK, resp)
		return
	}
	resp.ID = res.Worksheet.PublicID
	resp.CreatedAt = res.Worksheet.CreatedAt.Format(time.RFC3339)
	resp.Items = buildItems(res.Questions, req.IncludeMarkscheme)
	if res.Degraded {
		resp.Message = appI18n.T(r.Context(), "DegradedSelection")
	}
	respondJSON(w, http.StatusOK, resp)
}

// checkQuota enforces the user's daily worksheet quota. It writes the
// response and returns true when the quota is exhausted.
func (h *Handler) checkQuota(w http.ResponseWriter, r *http.Request, user *model.User) bool {
	if user.DailyQuota <= 0 {
		return false
	}
	midnight := time.Now().Truncate(24 * time.Hour)
	used, err := h.store.CountWorksheetsSince(r.Context(), user.ID, midnight)
	if err != nil {
		slog.Error("quota check", "user", user.Username, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return true
	}
	if used >= user.DailyQuota {
		slog.Info("daily quota reached", "user", user.Username, "quota", user.DailyQuota)
		respondError(w, http.StatusTooManyRequests, appI18n.T(r.Context(), "QuotaExceeded"))
		return true
	}
	return false
}

func (h *Handler) handleGetWorksheet(w http.ResponseWriter, r *http.Request) {
	publicID := chi.URLParam(r, "worksheetID")
	ws, err := h.store.WorksheetByPublicID(r.Context(), publicID)
	if err != nil {
		slog.Error("get worksheet", "id", publicID, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	user := model.UserFromContext(r.Context())
	if ws == nil || (ws.UserID != user.ID && user.Role == model.UserRoleStudent) {
		respondError(w, http.StatusNotFound, appI18n.T(r.Context(), "WorksheetNotFound"))
		return
	}

	subject, err := h.store.SubjectByID(r.Context(), ws.SubjectID)
	if err != nil || subject == nil {
		slog.Error("get worksheet subject", "id", publicID, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	questions, err := h.store.WorksheetQuestions(r.Context(), ws.ID)
	if err != nil {
		slog.Error("get worksheet items", "id", publicID, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}

	includeMarkscheme := r.URL.Query().Get("markscheme") == "true"
	difficulties := make([]int, len(ws.Difficulties))
	for i, d := range ws.Difficulties {
		difficulties[i] = int(d)
	}
	respondJSON(w, http.StatusOK, model.WorksheetResponse{
		ID:        ws.PublicID,
		Subject:   *subject,
		CreatedAt: ws.CreatedAt.Format(time.RFC3339),
		Requested: model.GenerateRequest{
			SubjectCode:  subject.Code,
			TopicCodes:   ws.TopicCodes,
			Difficulties: difficulties,
			Count:        ws.RequestedCount,
			Shuffle:      &ws.Shuffle,
		},
		Degraded: ws.Degraded,
		Items:    buildItems(questions, includeMarkscheme),
	})
}

func (h *Handler) handleListWorksheets(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	worksheets, counts, err := h.store.ListWorksheetsByUser(r.Context(), user.ID)
	if err != nil {
		slog.Error("list worksheets", "user", user.Username, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}

	subjectCodes := map[int64]string{}
	summaries := make([]model.WorksheetSummary, 0, len(worksheets))
	for i, ws := range worksheets {
		code, ok := subjectCodes[ws.SubjectID]
		if !ok {
			subject, err := h.store.SubjectByID(r.Context(), ws.SubjectID)
			if err != nil {
				slog.Error("list worksheets subject", "error", err)
				respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
				return
			}
			if subject != nil {
				code = subject.Code
			}
			subjectCodes[ws.SubjectID] = code
		}
		summaries = append(summaries, model.WorksheetSummary{
			ID:          ws.PublicID,
			SubjectCode: code,
			TopicCodes:  ws.TopicCodes,
			ItemCount:   counts[i],
			Degraded:    ws.Degraded,
			CreatedAt:   ws.CreatedAt.Format(time.RFC3339),
		})
	}
	respondJSON(w, http.StatusOK, summaries)
}

func buildItems(questions []model.Question, includeMarkscheme bool) []model.WorksheetItemResponse {
	items := make([]model.WorksheetItemResponse, 0, len(questions))
	for i, q := range questions {
		item := model.WorksheetItemResponse{
			Position:   i + 1,
			QuestionID: q.ID,
			Number:     q.Number,
			Text:       q.Text,
			Marks:      q.Marks,
			Difficulty: int(q.Difficulty),
			TopicCodes: q.TopicCodes,
			Paper:      q.Paper,
		}
		if includeMarkscheme {
			item.Markscheme = q.Markscheme
		}
		items = append(items, item)
	}
	return items
}
