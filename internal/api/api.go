package api

import (
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/auth/handlers"
	authmw "github.com/victorgomez09/suivi/internal/auth/middleware"
	"github.com/victorgomez09/suivi/internal/auth/service"
	"github.com/victorgomez09/suivi/internal/config"
	"github.com/victorgomez09/suivi/internal/health"
	"github.com/victorgomez09/suivi/internal/middleware"
	"github.com/victorgomez09/suivi/internal/notify"
	"github.com/victorgomez09/suivi/internal/work"
	"github.com/victorgomez09/suivi/pkg/trace"
)

const loginLimiterIdle = 10 * time.Minute

// API is the HTTP surface of suivi.
type API struct {
	config       *config.Suivi
	auth         *service.AuthService
	work         *work.Service
	notify       *notify.Service
	health       *health.Checker
	authHandler  *handlers.AuthHandler
	authMW       *authmw.AuthMiddleware
	loginLimiter *middleware.ClientRateLimiter
	errors       handlers.Errors
	router       chi.Router
	logger       *zap.Logger
}

// New builds the router. checker may be nil, in which case /healthz only reports liveness.
func New(
	cfg *config.Suivi,
	authService *service.AuthService,
	workService *work.Service,
	notifyService *notify.Service,
	checker *health.Checker,
	logger *zap.Logger,
) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	errs := handlers.Errors{Logger: logger, ExposeAttemptsRemaining: cfg.Auth.ExposeAttemptsRemaining}
	cookie := handlers.Cookie{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}

	limit := cfg.Auth.LoginRateLimit
	a := &API{
		config:      cfg,
		auth:        authService,
		work:        workService,
		notify:      notifyService,
		health:      checker,
		authHandler: handlers.NewAuthHandler(authService, cookie, errs),
		authMW:      authmw.NewAuthMiddleware(authService.Sessions(), cookie, errs),
		loginLimiter: middleware.NewClientRateLimiter(limit.RequestsPerSecond, limit.Burst, loginLimiterIdle).
			OnLimit(func(ip string) {
				logger.Warn("Sign-in rate limit exceeded", zap.String("client_ip", ip))
			}),
		errors: errs,
		logger: logger,
	}
	a.registerRoutes()
	return a
}

// LoginLimiter exposes the per-IP sign-in limiter so its idle buckets can be swept.
func (a *API) LoginLimiter() *middleware.ClientRateLimiter {
	return a.loginLimiter
}

func (a *API) registerRoutes() {
	r := chi.NewRouter()

	r.Get("/healthz", a.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(a.loginLimiter.Middleware).Post("/login", a.authHandler.Login)
			r.Post("/renew", a.authHandler.Renew)
			r.Get("/password-requirements", a.authHandler.PasswordRequirements)

			r.Group(func(r chi.Router) {
				r.Use(a.authMW.Authenticate)
				r.Post("/logout", a.authHandler.Logout)
				r.Get("/me", a.authHandler.Me)
				r.Post("/password", a.authHandler.ChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.authMW.Authenticate)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", a.searchUsers)
				r.With(a.authMW.RequireAdmin).Post("/", a.createUser)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", a.getUser)
					r.Get("/activity", a.userActivity)
					r.Group(func(r chi.Router) {
						r.Use(a.authMW.RequireAdmin)
						r.Put("/", a.updateUser)
						r.Post("/lock", a.lockUser)
						r.Post("/unlock", a.unlockUser)
						r.Post("/deactivate", a.deactivateUser)
						r.Post("/password-reset", a.resetPassword)
					})
				})
			})

			r.Get("/profiles", a.listProfiles)
			r.Route("/branches", func(r chi.Router) {
				r.Get("/", a.listBranches)
				r.With(a.authMW.RequireAdmin).Post("/", a.createBranch)
			})

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", a.searchTasks)
				r.Post("/", a.createTask)
				r.Get("/{id}", a.getTask)
				r.Put("/{id}", a.updateTask)
				r.Post("/{id}/status", a.changeTaskStatus)
			})

			r.Route("/reports", func(r chi.Router) {
				r.Get("/", a.searchReports)
				r.Post("/", a.createReport)
				r.Get("/{id}", a.getReport)
				r.Put("/{id}", a.updateReport)
				r.Post("/{id}/submit", a.submitReport)
				r.With(a.authMW.RequireSupervisor).Post("/{id}/review", a.reviewReport)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", a.listNotifications)
				r.Post("/{id}/read", a.markNotificationRead)
				r.Get("/ws", a.notificationsWS)
			})
		})
	})

	if a.config.API.Debug {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Use(a.authMW.Authenticate, a.authMW.RequireAdmin)
			r.Get("/", pprof.Index)
			r.Get("/cmdline", pprof.Cmdline)
			r.Get("/profile", pprof.Profile)
			r.Get("/symbol", pprof.Symbol)
			r.Get("/trace", pprof.Trace)
			r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
				pprof.Handler(chi.URLParam(r, "name")).ServeHTTP(w, r)
			})
		})
	}

	a.router = r
}

// Handler returns the router wrapped in the request id, access log, IP allow list, configured
// and panic recovery middlewares, in that order.
func (a *API) Handler() http.Handler {
	chain := middleware.NewMiddlewareChain(
		trace.WithRequestID(),
		middleware.NewLoggingMiddleware(a.logger,
			middleware.WithLogLevel(zap.InfoLevel),
			middleware.WithExcludePaths([]string{"/healthz"}),
		),
		middleware.NewIPRestrictionMiddleware(a.config.API.AllowedIPs, a.logger),
	)
	chain.AddConfiguredMiddlewares(a.config, a.logger)
	chain.Use(middleware.Recoverer(a.logger))
	return chain.Then(a.router)
}

// healthz reports the last dependency check. Only a failing critical dependency answers 503.
func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		handlers.WriteJSON(w, http.StatusOK, health.Report{Status: health.StatusOK})
		return
	}
	report := a.health.Report()
	status := http.StatusOK
	if report.Status == health.StatusUnavailable {
		status = http.StatusServiceUnavailable
	}
	handlers.WriteJSON(w, status, report)
}
