package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"drive-warden/internal/config"
	"drive-warden/internal/handler"
	"drive-warden/internal/middleware"
)

type Handlers struct {
	Template *handler.TemplateHandler
	Project  *handler.ProjectHandler
	Jobs     *handler.JobsHandler
	Audit    *handler.AuditHandler
	Events   *handler.EventsHandler
	Docs     *handler.DocsHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/openapi.yaml", h.Docs.OpenAPI)
	r.Get("/swagger", h.Docs.SwaggerUI)

	r.Route("/api/v1", func(api chi.Router) {
		// The event stream is a long-lived response; http.TimeoutHandler
		// buffers writes, so it stays outside the timeout group.
		api.With(authMiddleware.RequireAuth).Get("/events", h.Events.Stream)

		api.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.RequestTimeout))

			api.Route("/template", func(tpl chi.Router) {
				tpl.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Post("/", h.Template.Save)
				tpl.With(authMiddleware.RequireAuth).Get("/", h.Template.GetActive)
				tpl.With(authMiddleware.RequireAuth).Get("/flattened", h.Template.GetFlattened)
				tpl.With(authMiddleware.RequireAuth).Get("/versions", h.Template.ListVersions)
				tpl.With(authMiddleware.RequireAuth).Get("/versions/{version}", h.Template.GetVersion)
			})

			api.Route("/projects", func(projects chi.Router) {
				projects.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Post("/", h.Project.Create)
				projects.With(authMiddleware.RequireAuth).Get("/", h.Project.List)
				projects.With(authMiddleware.RequireAuth).Get("/{project_id}", h.Project.Get)
				projects.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Put("/{project_id}/drive-folder", h.Project.AttachDriveFolder)
				projects.With(authMiddleware.RequireAuth).Get("/{project_id}/compliance", h.Project.ComplianceReport)
			})

			api.Route("/jobs", func(jobs chi.Router) {
				jobs.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("operator", "admin")).Post("/", h.Jobs.Create)
				jobs.With(authMiddleware.RequireAuth).Get("/", h.Jobs.List)
				jobs.With(authMiddleware.RequireAuth).Get("/{job_id}", h.Jobs.Get)
				jobs.With(authMiddleware.RequireAuth).Get("/{job_id}/tasks", h.Jobs.GetTasks)
				jobs.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("operator", "admin")).Post("/{job_id}/cancel", h.Jobs.Cancel)
				jobs.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Delete("/finished", h.Jobs.ClearFinished)
			})

			api.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles("admin")).Get("/audit", h.Audit.List)
		})
	})

	return r
}
