package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/grademax/grademax/internal/i18n"
	"github.com/grademax/grademax/internal/model"
	"github.com/grademax/grademax/internal/store"
	"github.com/grademax/grademax/internal/worksheet"
)

type env struct {
	t      *testing.T
	router http.Handler
	store  *store.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	h := New(s, worksheet.NewService(s), model.ServerConfig{DefaultQuota: 20})
	r := chi.NewRouter()
	h.Routes(r)
	return &env{t: t, router: r, store: s}
}

// seedBank creates subject PHYS with topics "1" and "2", one paper and
// six questions: three tagged "1", two tagged "2", one untagged.
func (e *env) seedBank() {
	e.t.Helper()
	subjectID, err := e.store.UpsertSubject("PHYS", "Physics")
	if err != nil {
		e.t.Fatalf("upsert subject: %v", err)
	}
	topicIDs := map[string]int64{}
	for code, name := range map[string]string{"1": "Mechanics", "2": "Waves"} {
		id, err := e.store.UpsertTopic(subjectID, code, name)
		if err != nil {
			e.t.Fatalf("upsert topic: %v", err)
		}
		topicIDs[code] = id
	}
	paperID, err := e.store.InsertPaper(model.Paper{SubjectID: subjectID, Code: "P1", Year: 2024, Session: "summer"})
	if err != nil {
		e.t.Fatalf("insert paper: %v", err)
	}
	for i := 0; i < 6; i++ {
		qID, err := e.store.InsertQuestion(model.Question{
			PaperID:    paperID,
			Number:     i + 1,
			Text:       "question text",
			Marks:      2,
			Difficulty: model.DifficultyEasy,
			Markscheme: "award marks",
		})
		if err != nil {
			e.t.Fatalf("insert question: %v", err)
		}
		switch {
		case i < 3:
			err = e.store.TagQuestion(qID, topicIDs["1"], 0.9)
		case i < 5:
			err = e.store.TagQuestion(qID, topicIDs["2"], 0.9)
		}
		if err != nil {
			e.t.Fatalf("tag question: %v", err)
		}
	}
}

// seedUser creates an active user with password "secret" and returns a
// valid session token.
func (e *env) seedUser(username string, role model.UserRole, quota int) (int64, string) {
	e.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		e.t.Fatalf("hash password: %v", err)
	}
	id, err := e.store.CreateUser(model.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		DailyQuota:   quota,
	})
	if err != nil {
		e.t.Fatalf("create user: %v", err)
	}
	token, err := e.store.CreateAuthSession(id)
	if err != nil {
		e.t.Fatalf("create session: %v", err)
	}
	return id, token
}

func (e *env) request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.seedUser("alice", model.UserRoleStudent, 0)

	t.Run("valid credentials set a session cookie", func(t *testing.T) {
		rec := e.request(http.MethodPost, "/api/login",
			map[string]string{"username": "alice", "password": "secret"}, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var sessionCookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == sessionCookieName {
				sessionCookie = c
			}
		}
		if sessionCookie == nil || sessionCookie.Value == "" {
			t.Fatal("no session cookie set")
		}
		if !sessionCookie.HttpOnly {
			t.Error("session cookie must be HttpOnly")
		}
		user := decode[model.UserResponse](t, rec)
		if user.Username != "alice" {
			t.Errorf("unexpected user in response: %+v", user)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := e.request(http.MethodPost, "/api/login",
			map[string]string{"username": "alice", "password": "wrong"}, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := e.request(http.MethodPost, "/api/login",
			map[string]string{"username": "nobody", "password": "secret"}, "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRequireAuth(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	if rec := e.request(http.MethodGet, "/api/subjects", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no cookie: expected 401, got %d", rec.Code)
	}
	if rec := e.request(http.MethodGet, "/api/subjects", nil, "bogus-token"); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rec.Code)
	}
	if rec := e.request(http.MethodGet, "/api/subjects", nil, token); rec.Code != http.StatusOK {
		t.Errorf("valid session: expected 200, got %d", rec.Code)
	}
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	if rec := e.request(http.MethodPost, "/api/logout", nil, token); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := e.request(http.MethodGet, "/api/worksheets", nil, token); rec.Code != http.StatusUnauthorized {
		t.Errorf("session should be gone after logout, got %d", rec.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	t.Run("subjects", func(t *testing.T) {
		rec := e.request(http.MethodGet, "/api/subjects", nil, token)
		subjects := decode[[]model.Subject](t, rec)
		if len(subjects) != 1 || subjects[0].Code != "PHYS" {
			t.Errorf("unexpected subjects: %+v", subjects)
		}
	})

	t.Run("topics", func(t *testing.T) {
		rec := e.request(http.MethodGet, "/api/subjects/PHYS/topics", nil, token)
		topics := decode[[]model.Topic](t, rec)
		if len(topics) != 2 {
			t.Errorf("expected 2 topics, got %+v", topics)
		}
	})

	t.Run("papers", func(t *testing.T) {
		rec := e.request(http.MethodGet, "/api/subjects/PHYS/papers", nil, token)
		papers := decode[[]model.Paper](t, rec)
		if len(papers) != 1 || papers[0].Code != "P1" {
			t.Errorf("unexpected papers: %+v", papers)
		}
	})

	t.Run("unknown subject is 404", func(t *testing.T) {
		rec := e.request(http.MethodGet, "/api/subjects/CHEM/topics", nil, token)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestGenerateWorksheet(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	rec := e.request(http.MethodPost, "/api/worksheets", model.GenerateRequest{
		SubjectCode: "PHYS",
		TopicCodes:  []string{"1"},
		Count:       3,
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[model.WorksheetResponse](t, rec)
	if resp.ID == "" {
		t.Error("expected a worksheet ID")
	}
	if resp.Degraded {
		t.Error("tagged subject must not degrade")
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(resp.Items))
	}
	for i, item := range resp.Items {
		if item.Position != i+1 {
			t.Errorf("item %d has position %d", i, item.Position)
		}
		if item.Markscheme != "" {
			t.Error("markscheme must be omitted unless requested")
		}
	}

	// The persisted worksheet reads back with the same items in the same
	// order.
	get := e.request(http.MethodGet, "/api/worksheets/"+resp.ID+"?markscheme=true", nil, token)
	if get.Code != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d", get.Code)
	}
	fetched := decode[model.WorksheetResponse](t, get)
	if len(fetched.Items) != 3 {
		t.Fatalf("fetch: expected 3 items, got %d", len(fetched.Items))
	}
	for i, item := range fetched.Items {
		if item.QuestionID != resp.Items[i].QuestionID {
			t.Errorf("fetch item %d: question %d, generated %d", i, item.QuestionID, resp.Items[i].QuestionID)
		}
		if item.Markscheme == "" {
			t.Error("markscheme requested but missing")
		}
	}

	list := e.request(http.MethodGet, "/api/worksheets", nil, token)
	summaries := decode[[]model.WorksheetSummary](t, list)
	if len(summaries) != 1 || summaries[0].ID != resp.ID || summaries[0].ItemCount != 3 {
		t.Errorf("unexpected summaries: %+v", summaries)
	}
}

func TestGenerateUnknownSubject(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	rec := e.request(http.MethodPost, "/api/worksheets",
		model.GenerateRequest{SubjectCode: "CHEM"}, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown subject, got %d", rec.Code)
	}
}

func TestGenerateUnknownTopic(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	rec := e.request(http.MethodPost, "/api/worksheets",
		model.GenerateRequest{SubjectCode: "PHYS", TopicCodes: []string{"99"}}, token)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown topic, got %d", rec.Code)
	}
}

func TestGenerateNoMatchesIsSoft(t *testing.T) {
	// A known subject whose filters match nothing is a 200 with empty
	// items and a message, unlike the 404 for an unknown subject.
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	rec := e.request(http.MethodPost, "/api/worksheets", model.GenerateRequest{
		SubjectCode:  "PHYS",
		TopicCodes:   []string{"1"},
		Difficulties: []int{int(model.DifficultyHard)},
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[model.WorksheetResponse](t, rec)
	if len(resp.Items) != 0 {
		t.Errorf("expected no items, got %d", len(resp.Items))
	}
	if resp.Message == "" {
		t.Error("empty outcome must carry a message")
	}
	if resp.ID != "" {
		t.Error("empty outcome must not create a worksheet")
	}

	list := e.request(http.MethodGet, "/api/worksheets", nil, token)
	if summaries := decode[[]model.WorksheetSummary](t, list); len(summaries) != 0 {
		t.Errorf("no worksheet should be persisted, got %+v", summaries)
	}
}

func TestGenerateDegraded(t *testing.T) {
	// Subject with questions but no topic tags: the topic filter is
	// dropped and the response says so.
	e := newEnv(t)
	subjectID, err := e.store.UpsertSubject("CHEM", "Chemistry")
	if err != nil {
		t.Fatalf("upsert subject: %v", err)
	}
	if _, err := e.store.UpsertTopic(subjectID, "1", "Organic"); err != nil {
		t.Fatalf("upsert topic: %v", err)
	}
	paperID, err := e.store.InsertPaper(model.Paper{SubjectID: subjectID, Code: "P1", Year: 2024})
	if err != nil {
		t.Fatalf("insert paper: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, err := e.store.InsertQuestion(model.Question{PaperID: paperID, Number: i + 1, Text: "q", Marks: 1}); err != nil {
			t.Fatalf("insert question: %v", err)
		}
	}
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	rec := e.request(http.MethodPost, "/api/worksheets", model.GenerateRequest{
		SubjectCode: "CHEM",
		TopicCodes:  []string{"1"},
		Count:       2,
	}, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[model.WorksheetResponse](t, rec)
	if !resp.Degraded {
		t.Error("expected a degraded response")
	}
	if len(resp.Items) != 2 {
		t.Errorf("expected 2 items from the untagged pool, got %d", len(resp.Items))
	}
	if resp.Message == "" {
		t.Error("degraded response must carry a message")
	}
}

func TestGenerateInvalidBody(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 0)

	cases := []struct {
		name string
		body model.GenerateRequest
	}{
		{"missing subject", model.GenerateRequest{}},
		{"count too large", model.GenerateRequest{SubjectCode: "PHYS", Count: 51}},
		{"bad difficulty", model.GenerateRequest{SubjectCode: "PHYS", Difficulties: []int{7}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.request(http.MethodPost, "/api/worksheets", tc.body, token)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestGenerateQuota(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, token := e.seedUser("alice", model.UserRoleStudent, 1)

	first := e.request(http.MethodPost, "/api/worksheets",
		model.GenerateRequest{SubjectCode: "PHYS", Count: 2}, token)
	if first.Code != http.StatusOK {
		t.Fatalf("first worksheet: expected 200, got %d", first.Code)
	}

	second := e.request(http.MethodPost, "/api/worksheets",
		model.GenerateRequest{SubjectCode: "PHYS", Count: 2}, token)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after the quota, got %d", second.Code)
	}
}

func TestWorksheetOwnership(t *testing.T) {
	e := newEnv(t)
	e.seedBank()
	_, aliceToken := e.seedUser("alice", model.UserRoleStudent, 0)
	_, bobToken := e.seedUser("bob", model.UserRoleStudent, 0)
	_, teacherToken := e.seedUser("carol", model.UserRoleTeacher, 0)

	rec := e.request(http.MethodPost, "/api/worksheets",
		model.GenerateRequest{SubjectCode: "PHYS", Count: 2}, aliceToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate: expected 200, got %d", rec.Code)
	}
	id := decode[model.WorksheetResponse](t, rec).ID

	if got := e.request(http.MethodGet, "/api/worksheets/"+id, nil, bobToken); got.Code != http.StatusNotFound {
		t.Errorf("another student: expected 404, got %d", got.Code)
	}
	if got := e.request(http.MethodGet, "/api/worksheets/"+id, nil, teacherToken); got.Code != http.StatusOK {
		t.Errorf("teacher: expected 200, got %d", got.Code)
	}
	if got := e.request(http.MethodGet, "/api/worksheets/"+id, nil, aliceToken); got.Code != http.StatusOK {
		t.Errorf("owner: expected 200, got %d", got.Code)
	}
}

func TestAdminUsers(t *testing.T) {
	e := newEnv(t)
	_, studentToken := e.seedUser("alice", model.UserRoleStudent, 0)
	_, adminToken := e.seedUser("root", model.UserRoleAdmin, 0)

	t.Run("students are forbidden", func(t *testing.T) {
		rec := e.request(http.MethodGet, "/api/admin/users", nil, studentToken)
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("create applies the default quota", func(t *testing.T) {
		rec := e.request(http.MethodPost, "/api/admin/users", map[string]any{
			"username": "dave",
			"password": "secret",
		}, adminToken)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		user := decode[model.UserResponse](t, rec)
		if user.DailyQuota != 20 {
			t.Errorf("expected default quota 20, got %d", user.DailyQuota)
		}
		if user.Role != model.UserRoleStudent {
			t.Errorf("expected student role by default, got %s", user.Role)
		}
	})

	t.Run("explicit zero quota means unlimited", func(t *testing.T) {
		rec := e.request(http.MethodPost, "/api/admin/users", map[string]any{
			"username":    "erin",
			"password":    "secret",
			"daily_quota": 0,
		}, adminToken)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if user := decode[model.UserResponse](t, rec); user.DailyQuota != 0 {
			t.Errorf("expected quota 0, got %d", user.DailyQuota)
		}
	})

	t.Run("quota update and toggle", func(t *testing.T) {
		create := e.request(http.MethodPost, "/api/admin/users", map[string]any{
			"username": "frank",
			"password": "secret",
		}, adminToken)
		user := decode[model.UserResponse](t, create)

		id := user.ID
		rec := e.request(http.MethodPut, "/api/admin/users/"+itoa(id)+"/quota",
			map[string]int{"daily_quota": 3}, adminToken)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("quota update: expected 204, got %d", rec.Code)
		}
		rec = e.request(http.MethodPost, "/api/admin/users/"+itoa(id)+"/toggle", nil, adminToken)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("toggle: expected 204, got %d", rec.Code)
		}

		list := e.request(http.MethodGet, "/api/admin/users", nil, adminToken)
		for _, u := range decode[[]model.UserResponse](t, list) {
			if u.ID == id {
				if u.DailyQuota != 3 || u.Active {
					t.Errorf("updates not applied: %+v", u)
				}
				return
			}
		}
		t.Errorf("user %d missing from listing", id)
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
