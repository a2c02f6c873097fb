package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/joescharf/issues/internal/models"
	"github.com/joescharf/issues/internal/store"
)

// Response messages shared with API clients.
const (
	MsgRequiredMissing = "required field(s) missing"
	MsgMissingID       = "missing _id"
	MsgNoUpdateFields  = "no update field(s) sent"
	MsgCouldNotUpdate  = "could not update"
	MsgCouldNotDelete  = "could not delete"
	MsgUpdated         = "successfully updated"
	MsgDeleted         = "successfully deleted"
	MsgInvalidJSON     = "invalid JSON"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

// Server provides the REST API handlers.
type Server struct {
	store  store.Store
	logger *slog.Logger
	cors   bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for access and error logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORS toggles the permissive CORS headers.
func WithCORS(enabled bool) Option {
	return func(s *Server) { s.cors = enabled }
}

// NewServer creates a new API server backed by s.
func NewServer(s store.Store, opts ...Option) *Server {
	srv := &Server{
		store:  s,
		logger: slog.Default(),
		cors:   true,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/issues/{project}", s.listIssues)
	mux.HandleFunc("POST /api/issues/{project}", s.createIssue)
	mux.HandleFunc("PUT /api/issues/{project}", s.updateIssue)
	mux.HandleFunc("DELETE /api/issues/{project}", s.deleteIssue)

	mux.HandleFunc("GET /healthz", s.healthz)

	var h http.Handler = mux
	if s.cors {
		h = corsMiddleware(h)
	}
	return requestLogger(s.logger, h)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Result is the payload of update and delete responses, and of errors that
// refer to a specific issue.
type Result struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	ID     string `json:"_id,omitempty"`
}

// createRequest holds the fields accepted when opening an issue.
type createRequest struct {
	Title      string `validate:"required"`
	Text       string `validate:"required"`
	CreatedBy  string `validate:"required"`
	AssignedTo string
	StatusText string
}

// decodeBody reads a JSON object or urlencoded form into a flat field map.
// An empty body decodes to an empty map.
func decodeBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	fields := make(map[string]any)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		for k := range values {
			fields[k] = values.Get(k)
		}
		return fields, nil
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return fields, nil
}

// stringField returns the field as a string. Absent keys, null, false and
// numeric zero all read as "".
func stringField(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		if !val {
			return ""
		}
	case float64:
		if val == 0 {
			return ""
		}
	}
	return cast.ToString(v)
}

// patchFromFields builds an update from the mutable fields present in the body.
// Required fields ignore empty values; assigned_to and status_text may be
// cleared by sending "". An open value that cannot be coerced is ignored.
func patchFromFields(fields map[string]any) models.IssuePatch {
	var patch models.IssuePatch

	required := map[string]**string{
		models.FieldTitle:     &patch.Title,
		models.FieldText:      &patch.Text,
		models.FieldCreatedBy: &patch.CreatedBy,
	}
	for key, target := range required {
		if str := stringField(fields, key); str != "" {
			*target = &str
		}
	}

	optional := map[string]**string{
		models.FieldAssignedTo: &patch.AssignedTo,
		models.FieldStatusText: &patch.StatusText,
	}
	for key, target := range optional {
		if _, ok := fields[key]; ok {
			str := stringField(fields, key)
			*target = &str
		}
	}

	if v, ok := fields[models.FieldOpen]; ok && v != nil {
		if str, isStr := v.(string); !isStr || str != "" {
			if open, err := cast.ToBoolE(v); err == nil {
				patch.Open = &open
			}
		}
	}
	return patch
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	filter := store.IssueListFilter(r.URL.Query())

	issues, err := s.store.ListIssues(r.Context(), project, filter)
	if err != nil {
		s.logger.Error("list issues", "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	fields, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidJSON)
		return
	}

	req := createRequest{
		Title:      stringField(fields, models.FieldTitle),
		Text:       stringField(fields, models.FieldText),
		CreatedBy:  stringField(fields, models.FieldCreatedBy),
		AssignedTo: stringField(fields, models.FieldAssignedTo),
		StatusText: stringField(fields, models.FieldStatusText),
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusOK, MsgRequiredMissing)
		return
	}

	issue := &models.Issue{
		Title:      req.Title,
		Text:       req.Text,
		CreatedBy:  req.CreatedBy,
		AssignedTo: req.AssignedTo,
		StatusText: req.StatusText,
	}
	if err := s.store.CreateIssue(r.Context(), project, issue); err != nil {
		s.logger.Error("create issue", "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Debug("issue created", "project", project, "id", issue.ID)
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) updateIssue(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	fields, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidJSON)
		return
	}

	id := stringField(fields, models.FieldID)
	if id == "" {
		writeJSON(w, http.StatusOK, Result{Error: MsgMissingID})
		return
	}

	patch := patchFromFields(fields)
	if patch.Empty() {
		writeJSON(w, http.StatusOK, Result{Error: MsgNoUpdateFields, ID: id})
		return
	}

	if _, err := s.store.UpdateIssue(r.Context(), project, id, patch); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("update issue", "project", project, "id", id, "error", err)
		}
		writeJSON(w, http.StatusOK, Result{Error: MsgCouldNotUpdate, ID: id})
		return
	}
	writeJSON(w, http.StatusOK, Result{Result: MsgUpdated, ID: id})
}

func (s *Server) deleteIssue(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	fields, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, MsgInvalidJSON)
		return
	}

	id := stringField(fields, models.FieldID)
	if id == "" {
		writeJSON(w, http.StatusOK, Result{Error: MsgMissingID})
		return
	}

	if err := s.store.DeleteIssue(r.Context(), project, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("delete issue", "project", project, "id", id, "error", err)
		}
		writeJSON(w, http.StatusOK, Result{Error: MsgCouldNotDelete, ID: id})
		return
	}
	writeJSON(w, http.StatusOK, Result{Result: MsgDeleted, ID: id})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
