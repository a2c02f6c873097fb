package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/issues/internal/models"
	"github.com/joescharf/issues/internal/store"
)

func setupTestServer(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(s, WithLogger(logger))
	return srv.Router(), s
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	return m
}

func decodeIssues(t *testing.T, w *httptest.ResponseRecorder) []models.Issue {
	t.Helper()
	var issues []models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	return issues
}

func createTestIssue(t *testing.T, router http.Handler, project, body string) models.Issue {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/issues/"+project, body)
	require.Equal(t, http.StatusOK, w.Code)
	var issue models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issue))
	require.NotEmpty(t, issue.ID)
	return issue
}

func TestCreateIssue_AllFields(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "POST", "/api/issues/test",
		`{"issue_title":"Title","issue_text":"Text","created_by":"Tester","assigned_to":"Someone","status_text":"Open"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	m := decodeMap(t, w)
	assert.NotEmpty(t, m["_id"])
	assert.Equal(t, "Title", m["issue_title"])
	assert.Equal(t, "Text", m["issue_text"])
	assert.Equal(t, "Tester", m["created_by"])
	assert.Equal(t, "Someone", m["assigned_to"])
	assert.Equal(t, "Open", m["status_text"])
	assert.Equal(t, true, m["open"])
	assert.Equal(t, m["created_on"], m["updated_on"])
}

func TestCreateIssue_RequiredOnly(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "POST", "/api/issues/test",
		`{"issue_title":"Title","issue_text":"Text","created_by":"Tester"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	m := decodeMap(t, w)
	assert.Equal(t, "", m["assigned_to"])
	assert.Equal(t, "", m["status_text"])
	assert.Equal(t, true, m["open"])
}

func TestCreateIssue_MissingRequired(t *testing.T) {
	bodies := map[string]string{
		"empty":         `{}`,
		"no title":      `{"issue_text":"Text","created_by":"Tester"}`,
		"no text":       `{"issue_title":"Title","created_by":"Tester"}`,
		"no creator":    `{"issue_title":"Title","issue_text":"Text"}`,
		"blank creator": `{"issue_title":"Title","issue_text":"Text","created_by":""}`,
		"null title":    `{"issue_title":null,"issue_text":"Text","created_by":"Tester"}`,
		"falsy values":  `{"issue_title":false,"issue_text":0,"created_by":"Tester"}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			router, s := setupTestServer(t)

			w := doJSON(t, router, "POST", "/api/issues/test", body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, map[string]any{"error": MsgRequiredMissing}, decodeMap(t, w))

			issues, err := s.ListIssues(t.Context(), "test", nil)
			require.NoError(t, err)
			assert.Empty(t, issues)
		})
	}
}

func TestCreateIssue_FormBody(t *testing.T) {
	router, _ := setupTestServer(t)

	form := url.Values{
		"issue_title": {"Title"},
		"issue_text":  {"Text"},
		"created_by":  {"Tester"},
	}
	req := httptest.NewRequest("POST", "/api/issues/forms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	m := decodeMap(t, w)
	assert.Equal(t, "Title", m["issue_title"])
}

func TestCreateIssue_InvalidJSON(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "POST", "/api/issues/test", `{"issue_title":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, MsgInvalidJSON, decodeMap(t, w)["error"])
}

func TestCreateIssue_UniqueIDs(t *testing.T) {
	router, _ := setupTestServer(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		issue := createTestIssue(t, router, "test", `{"issue_title":"T","issue_text":"X","created_by":"C"}`)
		assert.False(t, seen[issue.ID])
		seen[issue.ID] = true
	}
}

func TestListIssues_Empty(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "GET", "/api/issues/unknown", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListIssues_Filters(t *testing.T) {
	router, _ := setupTestServer(t)

	a := createTestIssue(t, router, "test", `{"issue_title":"A","issue_text":"X","created_by":"Joe","assigned_to":"Someone"}`)
	b := createTestIssue(t, router, "test", `{"issue_title":"B","issue_text":"X","created_by":"Joe"}`)
	createTestIssue(t, router, "other", `{"issue_title":"C","issue_text":"X","created_by":"Joe"}`)

	w := doJSON(t, router, "PUT", "/api/issues/test", `{"_id":"`+b.ID+`","open":false}`)
	require.Equal(t, MsgUpdated, decodeMap(t, w)["result"])

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all", "", []string{a.ID, b.ID}},
		{"open", "?open=true", []string{a.ID}},
		{"closed", "?open=false", []string{b.ID}},
		{"multiple", "?open=true&assigned_to=Someone", []string{a.ID}},
		{"no match", "?created_by=Nobody", nil},
		{"unknown field", "?priority=high", nil},
		{"created_on", "?created_on=" + url.QueryEscape(models.FormatTime(a.CreatedOn)), []string{a.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "GET", "/api/issues/test"+tt.query, "")
			assert.Equal(t, http.StatusOK, w.Code)
			var got []string
			for _, issue := range decodeIssues(t, w) {
				got = append(got, issue.ID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateIssue(t *testing.T) {
	router, s := setupTestServer(t)
	issue := createTestIssue(t, router, "test", `{"issue_title":"Title","issue_text":"Text","created_by":"Tester"}`)

	w := doJSON(t, router, "PUT", "/api/issues/test",
		`{"_id":"`+issue.ID+`","issue_title":"Updated Title","issue_text":"Updated Text"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"result": MsgUpdated, "_id": issue.ID}, decodeMap(t, w))

	issues, err := s.ListIssues(t.Context(), "test", nil)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Updated Title", issues[0].Title)
	assert.Equal(t, "Updated Text", issues[0].Text)
	assert.False(t, issues[0].UpdatedOn.Before(issue.UpdatedOn))
	assert.True(t, issues[0].CreatedOn.Equal(issue.CreatedOn))
}

func TestUpdateIssue_OpenCoercion(t *testing.T) {
	router, s := setupTestServer(t)
	issue := createTestIssue(t, router, "test", `{"issue_title":"T","issue_text":"X","created_by":"C"}`)

	w := doJSON(t, router, "PUT", "/api/issues/test", `{"_id":"`+issue.ID+`","open":"false"}`)
	assert.Equal(t, MsgUpdated, decodeMap(t, w)["result"])

	issues, err := s.ListIssues(t.Context(), "test", nil)
	require.NoError(t, err)
	assert.False(t, issues[0].Open)
}

func TestUpdateIssue_Errors(t *testing.T) {
	router, _ := setupTestServer(t)
	issue := createTestIssue(t, router, "test", `{"issue_title":"T","issue_text":"X","created_by":"C"}`)

	tests := []struct {
		name    string
		project string
		body    string
		want    map[string]any
	}{
		{"missing id", "test", `{}`, map[string]any{"error": MsgMissingID}},
		{"missing id with fields", "test", `{"issue_title":"x"}`, map[string]any{"error": MsgMissingID}},
		{"no fields", "test", `{"_id":"` + issue.ID + `"}`, map[string]any{"error": MsgNoUpdateFields, "_id": issue.ID}},
		{"only empty required fields", "test", `{"_id":"` + issue.ID + `","issue_title":"","created_by":""}`, map[string]any{"error": MsgNoUpdateFields, "_id": issue.ID}},
		{"false id", "test", `{"_id":false,"issue_title":"x"}`, map[string]any{"error": MsgMissingID}},
		{"zero id", "test", `{"_id":0,"issue_title":"x"}`, map[string]any{"error": MsgMissingID}},
		{"only unknown fields", "test", `{"_id":"` + issue.ID + `","priority":"high"}`, map[string]any{"error": MsgNoUpdateFields, "_id": issue.ID}},
		{"invalid id", "test", `{"_id":"invalid_id","issue_title":"New Title"}`, map[string]any{"error": MsgCouldNotUpdate, "_id": "invalid_id"}},
		{"other project", "elsewhere", `{"_id":"` + issue.ID + `","issue_title":"New Title"}`, map[string]any{"error": MsgCouldNotUpdate, "_id": issue.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "PUT", "/api/issues/"+tt.project, tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, decodeMap(t, w))
		})
	}
}

func TestUpdateIssue_ClearsOptionalFields(t *testing.T) {
	router, s := setupTestServer(t)
	issue := createTestIssue(t, router, "test",
		`{"issue_title":"T","issue_text":"X","created_by":"C","assigned_to":"Someone","status_text":"In QA"}`)

	w := doJSON(t, router, "PUT", "/api/issues/test", `{"_id":"`+issue.ID+`","assigned_to":""}`)
	assert.Equal(t, map[string]any{"result": MsgUpdated, "_id": issue.ID}, decodeMap(t, w))

	issues, err := s.ListIssues(t.Context(), "test", nil)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "", issues[0].AssignedTo)
	assert.Equal(t, "In QA", issues[0].StatusText)

	w = doJSON(t, router, "PUT", "/api/issues/test", `{"_id":"`+issue.ID+`","status_text":"","issue_title":""}`)
	assert.Equal(t, MsgUpdated, decodeMap(t, w)["result"])

	issues, err = s.ListIssues(t.Context(), "test", nil)
	require.NoError(t, err)
	assert.Equal(t, "", issues[0].StatusText)
	assert.Equal(t, "T", issues[0].Title)
}

func TestUpdateIssue_IgnoresImmutableFields(t *testing.T) {
	router, s := setupTestServer(t)
	issue := createTestIssue(t, router, "test", `{"issue_title":"T","issue_text":"X","created_by":"C"}`)

	w := doJSON(t, router, "PUT", "/api/issues/test",
		`{"_id":"`+issue.ID+`","issue_title":"New","created_on":"1999-01-01T00:00:00Z"}`)
	assert.Equal(t, MsgUpdated, decodeMap(t, w)["result"])

	issues, err := s.ListIssues(t.Context(), "test", nil)
	require.NoError(t, err)
	assert.True(t, issues[0].CreatedOn.Equal(issue.CreatedOn))
}

func TestDeleteIssue(t *testing.T) {
	router, s := setupTestServer(t)
	a := createTestIssue(t, router, "test", `{"issue_title":"A","issue_text":"X","created_by":"C"}`)
	b := createTestIssue(t, router, "test", `{"issue_title":"B","issue_text":"X","created_by":"C"}`)
	c := createTestIssue(t, router, "test", `{"issue_title":"C","issue_text":"X","created_by":"C"}`)

	w := doJSON(t, router, "DELETE", "/api/issues/test", `{"_id":"`+b.ID+`"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"result": MsgDeleted, "_id": b.ID}, decodeMap(t, w))

	issues, err := s.ListIssues(t.Context(), "test", nil)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, a.ID, issues[0].ID)
	assert.Equal(t, c.ID, issues[1].ID)

	w = doJSON(t, router, "DELETE", "/api/issues/test", `{"_id":"`+b.ID+`"}`)
	assert.Equal(t, map[string]any{"error": MsgCouldNotDelete, "_id": b.ID}, decodeMap(t, w))
}

func TestDeleteIssue_Errors(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "DELETE", "/api/issues/test", `{}`)
	assert.Equal(t, map[string]any{"error": MsgMissingID}, decodeMap(t, w))

	w = doJSON(t, router, "DELETE", "/api/issues/test", "")
	assert.Equal(t, map[string]any{"error": MsgMissingID}, decodeMap(t, w))

	w = doJSON(t, router, "DELETE", "/api/issues/test", `{"_id":false}`)
	assert.Equal(t, map[string]any{"error": MsgMissingID}, decodeMap(t, w))

	w = doJSON(t, router, "DELETE", "/api/issues/test", `{"_id":"invalid_id"}`)
	assert.Equal(t, map[string]any{"error": MsgCouldNotDelete, "_id": "invalid_id"}, decodeMap(t, w))
}

func TestDeleteIssue_FormBody(t *testing.T) {
	router, _ := setupTestServer(t)
	issue := createTestIssue(t, router, "test", `{"issue_title":"T","issue_text":"X","created_by":"C"}`)

	req := httptest.NewRequest("DELETE", "/api/issues/test", strings.NewReader("_id="+issue.ID))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, MsgDeleted, decodeMap(t, w)["result"])
}

func TestIssueLifecycle_EndToEnd(t *testing.T) {
	router, _ := setupTestServer(t)

	created := createTestIssue(t, router, "test", `{"issue_title":"Title","issue_text":"Text","created_by":"Tester"}`)
	assert.Equal(t, "", created.AssignedTo)
	assert.Equal(t, "", created.StatusText)
	assert.True(t, created.Open)

	w := doJSON(t, router, "GET", "/api/issues/test", "")
	listed := decodeIssues(t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	w = doJSON(t, router, "PUT", "/api/issues/test", `{"_id":"`+created.ID+`","issue_title":"New Title"}`)
	assert.Equal(t, map[string]any{"result": MsgUpdated, "_id": created.ID}, decodeMap(t, w))

	w = doJSON(t, router, "DELETE", "/api/issues/test", `{"_id":"`+created.ID+`"}`)
	assert.Equal(t, map[string]any{"result": MsgDeleted, "_id": created.ID}, decodeMap(t, w))

	w = doJSON(t, router, "GET", "/api/issues/test", "")
	assert.Empty(t, decodeIssues(t, w))
}

func TestHealthz(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCORS_Preflight(t *testing.T) {
	router, _ := setupTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/api/issues/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Disabled(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithCORS(false))

	w := doJSON(t, srv.Router(), "GET", "/api/issues/test", "")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	router, _ := setupTestServer(t)

	w := doJSON(t, router, "GET", "/healthz", "")
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
