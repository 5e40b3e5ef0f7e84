package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/courseops/gradebook-api/internal/config"
	"github.com/courseops/gradebook-api/internal/handler"
	"github.com/courseops/gradebook-api/internal/middleware"
	"github.com/courseops/gradebook-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradeCSVHandler     *handler.GradeCSVHandler
	ScoreCSVHandler     *handler.ScoreCSVHandler
	InterventionHandler *handler.InterventionHandler
	JWTMiddleware       fiber.Handler
}

// Staff roles allowed to touch grade data.
var staffRoles = []string{"staff", "instructor", "admin"}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}
	staffOnly := middleware.RequireRole(staffRoles...)
	uploadLimit := middleware.RateLimit("csv-import", 30, time.Minute)

	if deps.GradeCSVHandler != nil || deps.InterventionHandler != nil {
		course := api.Group("/courses/:course_id", jwtMiddleware, staffOnly, uploadLimit)
		if deps.GradeCSVHandler != nil {
			deps.GradeCSVHandler.Register(course)
		}
		if deps.InterventionHandler != nil {
			deps.InterventionHandler.Register(course)
		}
	}

	if deps.ScoreCSVHandler != nil {
		block := api.Group("/blocks/:block_id", jwtMiddleware, staffOnly, uploadLimit)
		deps.ScoreCSVHandler.Register(block)
	}
}
