package http

import (
	"net/http"

	"github.com/baikal-manager/server/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter constructs the HTTP handler serving the API. It applies CORS for
// the separate frontend, JSON content-type enforcement, request logging, and
// session authentication on everything except registration, login and the
// health probe.
func NewRouter(
	authHandler *AuthHandler,
	settingsHandler *SettingsHandler,
	calendarHandler *CalendarHandler,
	contactsHandler *ContactsHandler,
	allowedOrigins []string,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chiMiddleware.AllowContentType("application/json"))
	r.Use(middleware.WithRequestLogging(logger))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", Health)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)

			r.Group(func(r chi.Router) {
				r.Use(authHandler.Sessions.Auth)
				r.Get("/check", authHandler.Check)
				r.Delete("/delete", authHandler.DeleteAccount)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authHandler.Sessions.Auth)

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", settingsHandler.Get)
				r.Post("/", settingsHandler.Save)
				r.Get("/remote", settingsHandler.GetRemote)
				r.Post("/remote", settingsHandler.SaveRemote)
				r.Post("/remote/verify", settingsHandler.VerifyRemote)
				r.Get("/app", settingsHandler.GetApp)
				r.Post("/app", settingsHandler.SaveApp)
				r.Get("/logs", settingsHandler.GetLogs)
				r.Delete("/logs", settingsHandler.ClearLogs)
			})

			r.Route("/calendar", func(r chi.Router) {
				r.Get("/calendars", calendarHandler.ListCalendars)
				r.Get("/events", calendarHandler.ListEvents)
				r.Post("/events", calendarHandler.CreateEvent)
				r.Put("/events/*", calendarHandler.UpdateEvent)
				r.Delete("/events/*", calendarHandler.DeleteEvent)
			})

			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", contactsHandler.ListContacts)
				r.Post("/", contactsHandler.CreateContact)
				r.Get("/books", contactsHandler.ListAddressBooks)
				r.Post("/import", contactsHandler.ImportContacts)
				r.Get("/export", contactsHandler.ExportContacts)
				r.Put("/*", contactsHandler.UpdateContact)
				r.Delete("/*", contactsHandler.DeleteContact)
			})
		})
	})

	return r
}
