package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
	"github.com/jjenkins/trialwatch/internal/templates"
)

const dateLayout = "2006-01-02"

// TrialService is what the handlers need from the retrieval pipeline
type TrialService interface {
	GetFiltered(ctx context.Context, q model.Query, c service.Criteria) (*service.Result, error)
	Refresh(ctx context.Context, q model.Query) (*service.Result, error)
	Study(ctx context.Context, q model.Query, id string) (*model.Study, error)
	Summary(ctx context.Context, q model.Query) (*service.Summary, error)
	Sponsors(ctx context.Context, q model.Query, c service.Criteria, sortBy, order string) ([]model.Sponsor, *service.Result, error)
}

// queryParam reads condition and term, falling back to def when no
// condition is given
func queryParam(c *fiber.Ctx, def model.Query) model.Query {
	condition := strings.TrimSpace(c.Query("condition"))
	if condition == "" {
		return def
	}
	return model.Query{Condition: condition, Term: strings.TrimSpace(c.Query("term"))}
}

// criteriaParam reads the filter selections. Values are matched against the
// snapshot vocabulary later, so nothing here is rejected: a date bound that
// does not parse is left open.
func criteriaParam(c *fiber.Ctx) service.Criteria {
	criteria := service.Criteria{
		Phase:        templates.PhaseParam(c.Query("phase")),
		Status:       templates.StatusParam(c.Query("status")),
		SponsorClass: templates.SponsorClassParam(c.Query("sponsor_class")),
		Country:      strings.TrimSpace(c.Query("country")),
	}

	from, fromOK := dateParam(c, "posted_from")
	to, toOK := dateParam(c, "posted_to")
	if fromOK || toOK {
		criteria.Posted = &service.DateRange{From: from, To: to}
	}

	return criteria
}

// dateParam parses a YYYY-MM-DD query parameter; ok is false when it is
// missing or malformed
func dateParam(c *fiber.Ctx, name string) (t time.Time, ok bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func render(c *fiber.Ctx, page templ.Component, opts ...func(*templ.ComponentHandler)) error {
	handler := adaptor.HTTPHandler(templ.Handler(page, opts...))
	return handler(c)
}

// statusFor maps a pipeline error to an HTTP status
func statusFor(err error) int {
	var failure *service.FetchFailure
	switch {
	case errors.Is(err, service.ErrEmptyQuery), errors.Is(err, service.ErrInvalidPageSize):
		return fiber.StatusBadRequest
	case errors.As(err, &failure):
		return fiber.StatusBadGateway
	case errors.Is(err, service.ErrCacheClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// renderError shows a notice page for err
func renderError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	status := statusFor(err)
	logger.Warn("request failed",
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err))

	title, message := "Something went wrong", "The request could not be completed."
	switch status {
	case fiber.StatusBadRequest:
		title, message = "Invalid request", err.Error()
	case fiber.StatusBadGateway, fiber.StatusGatewayTimeout:
		title = "Registry unavailable"
		message = "ClinicalTrials.gov could not be reached and no earlier data is available. Please try again later."
		if kind, ok := service.KindOf(err); ok {
			message += " (" + string(kind) + ")"
		}
	case fiber.StatusServiceUnavailable:
		title, message = "Shutting down", "The server is shutting down."
	}

	return render(c, templates.Notice(title, message), templ.WithStatus(status))
}
