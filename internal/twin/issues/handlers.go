package issues

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/wondertwin-ai/contractkit/internal/twin/admin"
	"github.com/wondertwin-ai/contractkit/internal/twin/twincore"
)

// Handler serves the issues API.
type Handler struct {
	state *State
	mw    *twincore.Middleware
	log   *zap.Logger
}

// NewHandler creates a Handler over state.
func NewHandler(state *State, mw *twincore.Middleware, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{state: state, mw: mw, log: logger}
}

// NewTwin wires an issues twin whose writes are attributed to login.
func NewTwin(cfg twincore.Config, login string, logger *zap.Logger) (*twincore.Twin, *State) {
	if cfg.Name == "" {
		cfg.Name = "issues"
	}
	twin := twincore.New(cfg, logger)
	state := NewState(login)
	NewHandler(state, twin.Middleware(), twin.Logger).Routes(twin.Router)

	ah := admin.NewHandler(state, twin.Middleware(), state.Clock)
	ah.SetConfigProvider(twin)
	ah.Routes(twin.Router)
	return twin, state
}

// Routes mounts the API on r. Reads are anonymous; writes need a token.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.mw.FaultInjection)
		r.With(h.requireAuth).Post("/user/repos", h.CreateRepo)
		r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
			r.Get("/", h.GetRepo)
			r.With(h.requireAuth).Delete("/", h.DeleteRepo)
			r.Get("/issues", h.ListIssues)
			r.With(h.requireAuth).Post("/issues", h.CreateIssue)
			r.Get("/issues/{number}", h.GetIssue)
			r.With(h.requireAuth).Patch("/issues/{number}", h.EditIssue)
		})
	})
}

// requireAuth accepts "Authorization: token X" and "Authorization: Bearer X".
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			twincore.Message(w, http.StatusUnauthorized, "Requires authentication")
			return
		}
		scheme, token, _ := strings.Cut(header, " ")
		switch strings.ToLower(scheme) {
		case "token", "bearer":
		default:
			token = ""
		}
		if !h.state.ValidToken(strings.TrimSpace(token)) {
			h.log.Debug("token rejected", zap.String("scheme", scheme))
			twincore.Message(w, http.StatusUnauthorized, "Bad credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func validationFailed(w http.ResponseWriter, field, code string) {
	twincore.JSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": "Validation Failed",
		"errors":  []map[string]string{{"field": field, "code": code}},
	})
}

// CreateRepo handles POST /user/repos.
func (h *Handler) CreateRepo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Private bool   `json:"private"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		twincore.Message(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		validationFailed(w, "name", "missing_field")
		return
	}
	repo, ok := h.state.CreateRepo(req.Name, req.Private)
	if !ok {
		twincore.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Repository creation failed.",
			"errors":  []map[string]string{{"field": "name", "code": "custom", "message": "name already exists on this account"}},
		})
		return
	}
	twincore.JSON(w, http.StatusCreated, repo)
}

// GetRepo handles GET /repos/{owner}/{repo}.
func (h *Handler) GetRepo(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.state.Repo(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if !ok {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	twincore.JSON(w, http.StatusOK, repo)
}

// DeleteRepo handles DELETE /repos/{owner}/{repo}.
func (h *Handler) DeleteRepo(w http.ResponseWriter, r *http.Request) {
	if !h.state.DeleteRepo(chi.URLParam(r, "owner"), chi.URLParam(r, "repo")) {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListIssues handles GET /repos/{owner}/{repo}/issues?state=open|closed|all.
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	switch state {
	case "":
		state = StateOpen
	case StateOpen, StateClosed, "all":
	default:
		validationFailed(w, "state", "invalid")
		return
	}
	list, ok := h.state.Issues(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), state)
	if !ok {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	if list == nil {
		list = []Issue{}
	}
	twincore.JSON(w, http.StatusOK, list)
}

// CreateIssue handles POST /repos/{owner}/{repo}/issues.
func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		twincore.Message(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		validationFailed(w, "title", "missing_field")
		return
	}
	issue, ok := h.state.CreateIssue(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), req.Title, req.Body)
	if !ok {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	twincore.JSON(w, http.StatusCreated, issue)
}

// GetIssue handles GET /repos/{owner}/{repo}/issues/{number}.
func (h *Handler) GetIssue(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	issue, ok := h.state.Issue(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number)
	if !ok {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	twincore.JSON(w, http.StatusOK, issue)
}

// EditIssue handles PATCH /repos/{owner}/{repo}/issues/{number}.
func (h *Handler) EditIssue(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		twincore.Message(w, http.StatusNotFound, "Not Found")
		return
	}
	var edit IssueEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		twincore.Message(w, http.StatusBadRequest, "Problems parsing JSON")
		return
	}
	issue, found, err := h.state.EditIssue(chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number, edit)
	switch {
	case errors.Is(err, ErrInvalidState):
		validationFailed(w, "state", "invalid")
	case !found:
		twincore.Message(w, http.StatusNotFound, "Not Found")
	default:
		twincore.JSON(w, http.StatusOK, issue)
	}
}
