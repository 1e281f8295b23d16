package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/coverage-heatmap/internal/common"
	"github.com/i474232898/coverage-heatmap/internal/coverage"
	"github.com/i474232898/coverage-heatmap/internal/metrics"
	"github.com/i474232898/coverage-heatmap/internal/store"
)

// Source tags intervals submitted over HTTP.
const Source = "http"

var validate = validator.New()

// ErrorHandler renders every error as {"error":true,"message":...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// Metrics records request counts and latencies by matched route.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}
		m.ObserveHTTP(c.Route().Path, c.Method(), status, time.Since(started))
		return err
	}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *coverage.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/domains", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"domains": service.Domains()})
	})

	v1.Get("/domains/:domain/stations", func(c *fiber.Ctx) error {
		stations, err := service.Stations(c.UserContext(), c.Params("domain"))
		if err != nil {
			return mapError(err, "failed to list stations")
		}
		if stations == nil {
			stations = []string{}
		}
		return c.JSON(fiber.Map{
			"domain":   c.Params("domain"),
			"stations": stations,
		})
	})

	v1.Post("/domains/:domain/intervals", func(c *fiber.Ctx) error {
		var req ingestRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		records, err := req.toRecords()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		stored, err := service.Ingest(c.UserContext(), c.Params("domain"), Source, records)
		if err != nil {
			return mapError(err, "failed to store intervals")
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"domain":   c.Params("domain"),
			"received": len(records),
			"stored":   stored,
		})
	})

	v1.Get("/coverage", func(c *fiber.Ctx) error {
		var q coverageQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := service.Generate(c.UserContext(), coverage.ReportRequest{
			Domain: q.Domain,
			Start:  q.Start,
			End:    q.End,
			Mode:   q.Mode,
		})
		if err != nil {
			return mapError(err, "failed to generate coverage report")
		}
		return renderReport(c, report)
	})

	v1.Get("/coverage/latest", func(c *fiber.Ctx) error {
		domain := c.Query("domain")
		if domain == "" {
			return fiber.NewError(fiber.StatusBadRequest, "domain query parameter is required")
		}
		mode, err := parseMode(c.Query("period"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := service.Latest(domain, mode)
		if err != nil {
			return mapError(err, "failed to fetch coverage report")
		}
		return renderReport(c, report)
	})

	v1.Get("/coverage/history", func(c *fiber.Ctx) error {
		var q historyQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := service.History(q.Domain, q.Mode, q.From, q.To)
		if err != nil {
			return mapError(err, "failed to fetch coverage history")
		}
		return c.JSON(fiber.Map{
			"domain":  q.Domain,
			"period":  q.Mode,
			"from":    q.From,
			"to":      q.To,
			"reports": reports,
		})
	})
}

// mapError translates service errors into HTTP errors. Unexpected errors
// are reported with a generic message.
func mapError(err error, fallback string) error {
	switch {
	case errors.Is(err, coverage.ErrUnknownDomain), errors.Is(err, store.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, coverage.ErrInvalidInterval), errors.Is(err, coverage.ErrInvalidRange):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, fallback)
	default:
		return fiber.NewError(fiber.StatusInternalServerError, fallback)
	}
}

// renderReport writes the full report, or only the station -> bucket matrix
// and row labels when view=matrix.
func renderReport(c *fiber.Ctx, report coverage.Report) error {
	if c.Query("view") == "matrix" {
		return c.JSON(fiber.Map{
			"title":       report.Title,
			"periodLabel": report.Period,
			"matrix":      report.Matrix(),
			"labels":      report.Labels(),
		})
	}
	return c.JSON(report)
}

func parseMode(s string) (coverage.Mode, error) {
	if s == "" {
		return coverage.Monthly, nil
	}
	return coverage.ParseMode(s)
}

// recordPayload is one submitted data object.
type recordPayload struct {
	FileName  string `json:"fileName" validate:"required_without=Station"`
	Station   string `json:"station" validate:"required_without=FileName"`
	TimeStart string `json:"timeStart" validate:"required"`
	TimeEnd   string `json:"timeEnd" validate:"required"`
}

type ingestRequest struct {
	Records []recordPayload `json:"records" validate:"required,min=1,dive"`
}

func (r ingestRequest) toRecords() ([]coverage.Record, error) {
	out := make([]coverage.Record, 0, len(r.Records))
	for i, p := range r.Records {
		start, err := common.ParseTime(p.TimeStart)
		if err != nil {
			return nil, fmt.Errorf("records[%d].timeStart: %w", i, err)
		}
		end, err := common.ParseTime(p.TimeEnd)
		if err != nil {
			return nil, fmt.Errorf("records[%d].timeEnd: %w", i, err)
		}
		out = append(out, coverage.Record{
			FileName: p.FileName,
			Station:  p.Station,
			Start:    start,
			End:      end,
		})
	}
	return out, nil
}

// coverageQuery holds query parameters for the on-demand report endpoint.
type coverageQuery struct {
	Domain string        `validate:"required"`
	Start  time.Time     `validate:"required"`
	End    time.Time     `validate:"required"`
	Mode   coverage.Mode `validate:"required"`
}

func (q *coverageQuery) bind(c *fiber.Ctx) error {
	q.Domain = c.Query("domain")

	startStr, endStr := c.Query("start"), c.Query("end")
	if startStr == "" || endStr == "" {
		return errors.New("start and end query parameters are required")
	}

	var err error
	if q.Start, err = common.ParseTime(startStr); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if q.End, err = common.ParseTime(endStr); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	q.Mode, err = parseMode(c.Query("period"))
	return err
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Domain string        `validate:"required"`
	Mode   coverage.Mode `validate:"required"`
	From   time.Time     `validate:"required"`
	To     time.Time     `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Domain = c.Query("domain")

	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	var err error
	if h.From, err = common.ParseTime(fromStr); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if h.To, err = common.ParseTime(toStr); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	h.Mode, err = parseMode(c.Query("period"))
	return err
}
