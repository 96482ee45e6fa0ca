package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/time/rate"

	"github.com/i474232898/weather-parquet-pipeline/internal/ledger"
	"github.com/i474232898/weather-parquet-pipeline/internal/pipeline"
)

var validate = validator.New()

// Runner triggers a pipeline run.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunResult, error)
}

// RunLister reads recorded runs.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]ledger.Run, error)
	Latest(ctx context.Context) (ledger.Run, error)
}

// NewApp builds the Fiber app with the centralized error handler and health endpoint.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "weather-parquet-pipeline",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          2 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-parquet-pipeline",
		})
	})

	return app
}

// RegisterRoutes wires the run endpoints into the Fiber app. runs may be nil
// when the ledger is disabled; limiter throttles manual triggers.
func RegisterRoutes(app *fiber.App, runner Runner, runs RunLister, limiter *rate.Limiter) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs", func(c *fiber.Ctx) error {
		if runs == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "run ledger is disabled")
		}

		var q listQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		list, err := runs.Recent(c.UserContext(), q.Limit)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list runs")
		}
		if list == nil {
			list = []ledger.Run{}
		}
		return c.JSON(fiber.Map{
			"runs": list,
		})
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		if runs == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "run ledger is disabled")
		}

		run, err := runs.Latest(c.UserContext())
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs recorded yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch latest run")
		}
		return c.JSON(run)
	})

	v1.Post("/runs", func(c *fiber.Ctx) error {
		if limiter != nil && !limiter.Allow() {
			return fiber.NewError(fiber.StatusTooManyRequests, "manual runs are rate limited")
		}

		res, err := runner.Run(c.UserContext())
		if err != nil {
			if errors.Is(err, pipeline.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return c.Status(fiber.StatusBadGateway).JSON(res)
		}
		return c.Status(fiber.StatusCreated).JSON(res)
	})
}

// listQuery holds query parameters for the run listing.
type listQuery struct {
	Limit int `validate:"min=1,max=100"`
}

func (q *listQuery) bind(c *fiber.Ctx) error {
	q.Limit = 20
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		q.Limit = n
	}
	return validate.Struct(q)
}
