// Package www serves the dashboard HTTP API, the printable label sheet and
// the SSE event stream.
package www

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tiximax/engine"
	"tiximax/logging"
	"tiximax/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine   *engine.Engine
	sessions *sessionStore
	eventHub *EventHub
	log      *zap.Logger
}

// NewRouter creates the chi router and returns it along with a stop function.
func NewRouter(eng *engine.Engine, log *zap.Logger) (http.Handler, func()) {
	log = logging.OrNop(log).Named("www")
	h := &Handlers{
		engine:   eng,
		sessions: newSessionStore(eng.AppConfig().Web.SessionSecret),
		eventHub: NewEventHub(log),
		log:      log,
	}

	h.eventHub.Start()
	unwire := h.eventHub.SetupEngineListeners(eng)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireRole())
		r.Get("/events", h.eventHub.HandleSSE)
		r.Get("/labels/sheet", h.handleLabelSheet)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(middleware.NoCache)

		r.Get("/health", h.apiHealth)

		// Any signed-in user
		r.Group(func(r chi.Router) {
			r.Use(h.requireRole())
			r.Get("/me", h.apiMe)
			r.Get("/feeds", h.apiListFeeds)
			r.Get("/feeds/messages", h.apiFeedMessages)
			r.Get("/labels", h.apiLabels)
			r.Get("/print-jobs", h.apiListPrintJobs)
			r.Get("/print-jobs/{jobID}", h.apiGetPrintJob)
			r.Get("/orders", h.apiListOrders)
			r.Get("/orders/{id}", h.apiGetOrder)
			r.Get("/destinations", h.apiListDestinations)
			r.Get("/outbox/{msgID}", h.apiGetOutbox)
		})

		// Label desk
		r.Group(func(r chi.Router) {
			r.Use(h.requireRole(store.RoleAdmin, store.RoleManager, store.RoleStaffWarehouse))
			r.Post("/labels/generate", h.apiGenerateLabels)
			r.Post("/labels/regenerate", h.apiRegenerateLabels)
			r.Post("/labels/print", h.apiPrintAll)
			r.Post("/labels/print/{index}", h.apiPrintOne)
		})

		// Purchasing
		r.Group(func(r chi.Router) {
			r.Use(h.requireRole(store.RoleAdmin, store.RoleManager, store.RoleStaffPurchaser))
			r.Post("/orders", h.apiCreateOrder)
			r.Post("/send", h.apiSend)
		})

		// Administration
		r.Group(func(r chi.Router) {
			r.Use(h.requireRole(store.RoleAdmin))
			r.Get("/users", h.apiListUsers)
			r.Post("/users", h.apiCreateUser)
			r.Put("/users/{username}/role", h.apiSetUserRole)
			r.Put("/token", h.apiSetToken)
			r.Delete("/token", h.apiClearToken)
		})
	})

	return r, func() {
		unwire()
		h.eventHub.Stop()
	}
}

func (h *Handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
