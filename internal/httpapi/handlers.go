// Package httpapi exposes the session service over REST plus the
// realtime websocket endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lydongcanh/sprintopia/internal/session"
)

// Store is the persistence surface the handlers need; tests swap in a
// fake.
type Store interface {
	CreateSession(ctx context.Context, name string) (*session.GroomingSession, error)
	GetSession(ctx context.Context, id string) (*session.GroomingSession, error)
	ListSessions(ctx context.Context) ([]session.GroomingSession, error)
	JoinSession(ctx context.Context, sessionID, userID string) (*session.GroomingSession, error)
	LeaveSession(ctx context.Context, sessionID, userID string) (*session.GroomingSession, error)
	CreateUser(ctx context.Context, fullName, email string) (*session.User, error)
	GetUser(ctx context.Context, id string) (*session.User, error)
	Ping(ctx context.Context) error
}

type API struct {
	store Store
	log   *zap.Logger
}

func NewAPI(store Store, log *zap.Logger) *API {
	return &API{store: store, log: log.Named("httpapi")}
}

// fieldError mirrors the validation error shape clients already parse:
// {"detail": [{"loc": [...], "msg": ..., "type": ...}]}.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeValidation(w http.ResponseWriter, errs []fieldError) {
	writeJSON(w, http.StatusUnprocessableEntity, map[string][]fieldError{"detail": errs})
}

func missing(loc ...string) fieldError {
	return fieldError{Loc: loc, Msg: "field required", Type: "value_error.missing"}
}

func (a *API) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrAlreadyJoined):
		writeDetail(w, http.StatusConflict, "user already joined session")
	case errors.Is(err, session.ErrNotJoined):
		writeDetail(w, http.StatusConflict, "user has not joined session")
	default:
		a.log.Error("store error", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, []fieldError{{Loc: []string{"body"}, Msg: "invalid json", Type: "value_error.jsondecode"}})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeValidation(w, []fieldError{missing("body", "name")})
		return
	}

	sess, err := a.store.CreateSession(r.Context(), req.Name)
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.store.ListSessions(r.Context())
	if err != nil {
		a.storeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []session.GroomingSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) joinSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.JoinSession(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) leaveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.store.LeaveSession(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, []fieldError{{Loc: []string{"body"}, Msg: "invalid json", Type: "value_error.jsondecode"}})
		return
	}
	var errs []fieldError
	if strings.TrimSpace(req.FullName) == "" {
		errs = append(errs, missing("body", "full_name"))
	}
	if strings.TrimSpace(req.Email) == "" {
		errs = append(errs, missing("body", "email"))
	}
	if len(errs) > 0 {
		writeValidation(w, errs)
		return
	}

	user, err := a.store.CreateUser(r.Context(), req.FullName, req.Email)
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	err := a.store.Ping(r.Context())
	elapsed := time.Since(start)

	body := map[string]any{
		"status":           "healthy",
		"database":         "up",
		"response_time_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		body["status"] = "unhealthy"
		body["database"] = "down"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
