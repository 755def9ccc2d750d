package httpapi

import (
	"net/http"
	"time"

	"artforge/internal/http/handlers"
	appmw "artforge/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func NewRouter(app *handlers.App, logger zerolog.Logger, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		appmw.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		appmw.Logger(logger),
		appmw.CORS(allowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/tasks", func(r chi.Router) {
		r.With(appmw.RateLimit(30, time.Minute)).Post("/", app.CreateTask)
		r.Get("/{id}", app.TaskStatus)
	})

	r.Get("/v1/artifacts", app.ListArtifacts)
	r.Get("/v1/users/{id}/balance", app.UserBalance)

	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/tasks", app.AdminListTasks)
		r.Post("/tasks/{id}/retry", app.AdminRetryTask)
		r.Post("/tasks/{id}/cancel", app.AdminCancelTask)
		r.Get("/queue/stats", app.AdminQueueStats)
		r.Get("/queue/{state}", app.AdminInspectQueue)
		r.Post("/queue/purge", app.AdminPurgeQueue)
		r.Post("/users/{id}/credit", app.AdminCreditUser)
	})

	return r
}
