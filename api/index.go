package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"teamboard-backend/pkg/config"
	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/events"
	"teamboard-backend/pkg/handlers"
	"teamboard-backend/pkg/identity"
	"teamboard-backend/pkg/logger"
	customMiddleware "teamboard-backend/pkg/middleware"
	"teamboard-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// Deps are the services the router is built from
type Deps struct {
	Config    *config.Config
	Store     database.Store
	Identity  *identity.Service
	Publisher events.Publisher
	Logger    *logger.Logger
}

// DatabaseConfig maps the application config onto the store selection
func DatabaseConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		UseLocalDB:  cfg.UseLocalDB,
		DataDir:     cfg.DataDir,
		MySQLDSN:    cfg.MySQLDSN,
		PostgresDSN: cfg.PostgresDSN,
		Debug:       cfg.Debug,
	}
}

// NewDeps wires the identity service and event publisher around store
func NewDeps(cfg *config.Config, store database.Store, publisher events.Publisher) Deps {
	if publisher == nil {
		publisher = events.NewPublisher(cfg.NatsURL)
	}
	jwtService := utils.NewJWTService(cfg.JWTSecret, cfg.SessionTTL)
	auth := identity.NewService(store, jwtService, publisher, identity.Config{
		BotToken:         cfg.BotToken,
		InitDataMaxAge:   cfg.InitDataMaxAge,
		Production:       cfg.IsProduction(),
		AllowRawIdentity: !cfg.IsProduction(),
	})
	return Deps{
		Config:    cfg,
		Store:     store,
		Identity:  auth,
		Publisher: publisher,
		Logger:    logger.New("http", cfg.Environment),
	}
}

// application is the router built for one Store instance
type application struct {
	store     database.Store
	publisher events.Publisher
	router    http.Handler
}

var (
	appMu sync.Mutex
	app   *application
)

// Handler is the serverless entry point. The router is built once per
// Store; the pool replaces the Store when its configuration changes or it
// fails a health check, and the router is rebuilt with it.
func Handler(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetCached()

	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, r, "Configuration error: "+err.Error())
		return
	}

	router, err := currentRouter(cfg)
	if err != nil {
		logger.Default().WithContext(r.Context()).Error("database unavailable", "error", err)
		utils.WriteError(w, r, err)
		return
	}
	router.ServeHTTP(w, r)
}

func currentRouter(cfg *config.Config) (http.Handler, error) {
	store, err := database.GetDatabase(DatabaseConfig(cfg))
	if err != nil {
		return nil, err
	}

	appMu.Lock()
	defer appMu.Unlock()

	if app != nil && app.store == store {
		return app.router, nil
	}

	var publisher events.Publisher
	if app != nil {
		publisher = app.publisher
	}
	deps := NewDeps(cfg, store, publisher)
	app = &application{store: store, publisher: deps.Publisher, router: NewRouter(deps)}
	return app.router, nil
}

// NewRouter builds the chi router with all middleware and routes
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	router := chi.NewRouter()
	setupMiddleware(router, deps)
	setupRoutes(router, deps)
	return router
}

func setupMiddleware(router *chi.Mux, deps Deps) {
	cfg := deps.Config

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// path and forwarded host must be fixed before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.RequestLogger(deps.Logger))
	router.Use(customMiddleware.Recovery(cfg, deps.Logger))
	router.Use(customMiddleware.CORS(cfg))
	router.Use(middleware.Timeout(25 * time.Second))
	router.Use(middleware.Compress(5))
	router.Use(customMiddleware.MaxBodySize(maxBodyBytes))

	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

func setupRoutes(router *chi.Mux, deps Deps) {
	auth := deps.Identity
	authHandler := handlers.NewAuthHandler(deps.Config, auth)
	teamsHandler := handlers.NewTeamsHandler(deps.Store, auth, deps.Publisher)
	tasksHandler := handlers.NewTasksHandler(deps.Store, deps.Publisher)
	usersHandler := handlers.NewUsersHandler(deps.Store)
	notesHandler := handlers.NewNotesHandler(deps.Store, deps.Publisher)

	router.Get("/", healthCheck(deps))

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.ContentTypeJSON)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/telegram", authHandler.TelegramAuth)

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.AuthMiddleware(auth))
				r.Get("/validate", authHandler.Validate)
				r.Post("/complete-profile", authHandler.CompleteProfile)
			})
		})

		r.Route("/teams", func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(auth))
			r.Get("/my-team", teamsHandler.MyTeam)
			r.Post("/create", teamsHandler.CreateTeam)
			r.Post("/join", teamsHandler.JoinTeam)
			r.Post("/regenerate-invite", teamsHandler.RegenerateInvite)
			r.Delete("/remove-member/{memberId}", teamsHandler.RemoveMember)
			r.Get("/{id}/members", teamsHandler.ListMembers)
			r.With(customMiddleware.RequireOwnerOrAdmin(auth, identity.ResourceTeam, "id")).
				Put("/{id}", teamsHandler.UpdateTeam)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/meta/statuses", tasksHandler.ListStatuses)
			r.Get("/meta/priorities", tasksHandler.ListPriorities)

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.AuthMiddleware(auth))
				r.Get("/", tasksHandler.ListTasks)
				r.Post("/", tasksHandler.CreateTask)
				r.Get("/{id}", tasksHandler.GetTask)
				r.Get("/{id}/comments", tasksHandler.ListComments)
				r.Post("/{id}/comments", tasksHandler.AddComment)
			})

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireOwnerOrAdmin(auth, identity.ResourceTask, "id"))
				r.Put("/{id}", tasksHandler.UpdateTask)
				r.Patch("/{id}/status", tasksHandler.UpdateStatus)
				r.Delete("/{id}", tasksHandler.DeleteTask)
			})
		})

		r.Route("/users", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.AuthMiddleware(auth))
				r.Get("/", usersHandler.ListUsers)
				r.Get("/meta/departments", usersHandler.ListDepartments)
				r.Get("/meta/positions", usersHandler.ListPositions)
				r.Get("/profile/me", usersHandler.MyProfile)
				r.Put("/profile/me", usersHandler.UpdateMyProfile)
				r.Get("/{id}", usersHandler.GetUser)
				r.Get("/{id}/notes", notesHandler.ListNotes)
				r.Post("/{id}/notes", notesHandler.AddNote)
				r.Delete("/{id}/notes/{noteId}", notesHandler.DeleteNote)
			})

			r.With(customMiddleware.RequireOwnerOrAdmin(auth, identity.ResourceUser, "id")).
				Put("/{id}", usersHandler.UpdateUser)

			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireAdmin(auth))
				r.Get("/meta/stats", usersHandler.TeamStats)
				r.Delete("/{id}", usersHandler.DeactivateUser)
				r.Put("/{id}/admin", usersHandler.SetAdmin)
				r.Put("/{id}/active", usersHandler.SetActive)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, r, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}

// healthCheck reports store health; an unhealthy store gives 503
func healthCheck(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":      "ok",
			"service":     "teamboard-backend",
			"environment": deps.Config.Environment,
			"time":        time.Now().UTC().Format(time.RFC3339),
			"database":    database.GetConnectionStats(),
		}

		if err := deps.Store.HealthCheck(); err != nil {
			deps.Logger.WithContext(r.Context()).Error("health check failed", "error", err)
			status["status"] = "degraded"
			utils.WriteJSONResponse(w, r, http.StatusServiceUnavailable, status)
			return
		}
		utils.WriteSuccessResponse(w, r, status)
	}
}
