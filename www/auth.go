package www

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"slices"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"tiximax/store"
)

const sessionName = "tiximax_session"

type sessionStore struct {
	store *sessions.CookieStore
}

func newSessionStore(secret string) *sessionStore {
	var key []byte
	if secret != "" {
		key, _ = base64.StdEncoding.DecodeString(secret)
	}
	if len(key) < 32 {
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{store: cs}
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

func (s *sessionStore) getUser(r *http.Request) (username string, ok bool) {
	u, exists := s.get(r).Values["username"]
	if !exists {
		return "", false
	}
	username, ok = u.(string)
	return
}

func (s *sessionStore) setUser(w http.ResponseWriter, r *http.Request, username string) error {
	sess := s.get(r)
	sess.Values["username"] = username
	return sess.Save(r, w)
}

func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r)
	delete(sess.Values, "username")
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

type userKey struct{}

// currentUser returns the user attached by requireRole.
func currentUser(r *http.Request) *store.User {
	u, _ := r.Context().Value(userKey{}).(*store.User)
	return u
}

func username(r *http.Request) string {
	if u := currentUser(r); u != nil {
		return u.Username
	}
	return ""
}

// requireRole admits signed-in users holding one of roles. With no roles
// any signed-in user passes. The role is read from the store on every
// request so that role changes apply immediately.
func (h *Handlers) requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, ok := h.sessions.getUser(r)
			if !ok || name == "" {
				writeError(w, http.StatusUnauthorized, "login required")
				return
			}
			user, err := h.engine.DB().GetUser(name)
			if err != nil {
				h.sessions.clear(w, r)
				writeError(w, http.StatusUnauthorized, "login required")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, user.Role) {
				writeError(w, http.StatusForbidden, "role "+user.Role+" may not do this")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

// handleLogin signs a user in. When no user exists yet, the first login
// creates the admin account.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	name := r.FormValue("username")
	password := r.FormValue("password")
	if name == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	db := h.engine.DB()
	exists, err := db.UserExists()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !exists {
		hash, err := hashPassword(password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if err := db.CreateUser(name, hash, store.RoleAdmin); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create admin user")
			return
		}
		h.log.Info("bootstrap admin created")
	} else {
		user, err := db.GetUser(name)
		if err != nil || !checkPassword(password, user.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
	}

	if err := h.sessions.setUser(w, r, name); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	user, err := db.GetUser(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, user)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) apiMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, currentUser(r))
}
