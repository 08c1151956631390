package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func Router(h *Handler, triggerToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/v1/health", h.Health)

	// The provider calls these; they authenticate via the verify token
	// handshake, not the trigger secret.
	r.Get("/v1/webhook", h.WebhookVerify)
	r.Post("/v1/webhook", h.WebhookEvent)

	r.Group(func(r chi.Router) {
		r.Use(RequireBearer(triggerToken))

		r.Post("/v1/dispatch/run", h.DispatchRun)

		r.Post("/v1/messages", h.CreateMessage)
		r.Post("/v1/messages/send", h.SendMessage)
		r.Get("/v1/messages/sent", h.ListSentMessages)

		r.Get("/v1/scheduler/status", h.SchedulerStatus)
		r.Post("/v1/scheduler/start", h.SchedulerStart)
		r.Post("/v1/scheduler/stop", h.SchedulerStop)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("coursard-messaging"))
	})

	return r
}
