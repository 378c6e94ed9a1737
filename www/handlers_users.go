package www

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"tiximax/store"
)

func (h *Handlers) apiListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.engine.DB().ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, users)
}

func (h *Handlers) apiCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if !store.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.engine.DB().CreateUser(req.Username, hash, req.Role); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	h.log.Info("user created", zap.String("user", req.Username), zap.String("role", req.Role), zap.String("by", username(r)))
	user, err := h.engine.DB().GetUser(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusCreated, user)
}

func (h *Handlers) apiSetUserRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !store.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	name := chi.URLParam(r, "username")
	err := h.engine.DB().SetUserRole(name, req.Role)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"username": name, "role": req.Role})
}

// tokenWriter is implemented by token sources that can be updated at runtime.
type tokenWriter interface {
	SetToken(token string) error
	Clear() error
}

func (h *Handlers) tokenWriter(w http.ResponseWriter) (tokenWriter, bool) {
	tw, ok := h.engine.Tokens().(tokenWriter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "token source is read-only")
	}
	return tw, ok
}

func (h *Handlers) apiSetToken(w http.ResponseWriter, r *http.Request) {
	tw, ok := h.tokenWriter(w)
	if !ok {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := tw.SetToken(req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info("bearer token updated", zap.String("by", username(r)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) apiClearToken(w http.ResponseWriter, r *http.Request) {
	tw, ok := h.tokenWriter(w)
	if !ok {
		return
	}
	if err := tw.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info("bearer token cleared", zap.String("by", username(r)))
	w.WriteHeader(http.StatusNoContent)
}
