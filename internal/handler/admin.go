package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/grademax/grademax/internal/i18n"
	"github.com/grademax/grademax/internal/model"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	resp := make([]model.UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, model.NewUserResponse(u))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
		Role        string `json:"role"`
		DailyQuota  *int   `json:"daily_quota"` // omitted = server default, 0 = unlimited
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password required")
		return
	}
	role := model.UserRole(req.Role)
	if role == "" {
		role = model.UserRoleStudent
	}
	if role != model.UserRoleStudent && role != model.UserRoleTeacher && role != model.UserRoleAdmin {
		respondError(w, http.StatusBadRequest, "invalid role")
		return
	}
	quota := h.config.DefaultQuota
	if req.DailyQuota != nil {
		quota = *req.DailyQuota
	}
	if quota < 0 {
		respondError(w, http.StatusBadRequest, "daily_quota must not be negative")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		DailyQuota:   quota,
	})
	if err != nil {
		slog.Error("failed to create user", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := h.store.GetUserByID(id)
	if err != nil || user == nil {
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	respondJSON(w, http.StatusCreated, model.NewUserResponse(*user))
}

// userIDFromURL parses the {userID} route parameter, writing a 400 on
// malformed input.
func userIDFromURL(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return 0, false
	}
	return id, true
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDFromURL(w, r)
	if !ok {
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetUserQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDFromURL(w, r)
	if !ok {
		return
	}
	var req struct {
		DailyQuota int `json:"daily_quota"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DailyQuota < 0 {
		respondError(w, http.StatusBadRequest, "daily_quota must not be negative")
		return
	}
	if err := h.store.SetUserQuota(id, req.DailyQuota); err != nil {
		slog.Error("failed to set quota", "id", id, "error", err)
		respondError(w, http.StatusInternalServerError, appI18n.T(r.Context(), "ServerError"))
		return
	}
	slog.Info("updated user quota", "id", id, "daily_quota", req.DailyQuota)
	w.WriteHeader(http.StatusNoContent)
}
