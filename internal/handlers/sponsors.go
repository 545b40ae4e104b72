package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
	"github.com/jjenkins/trialwatch/internal/templates"
)

func SponsorsHandler(trials TrialService, def model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		sortBy := c.Query("sort", service.SortByName)
		order := c.Query("order", "asc")

		q := queryParam(c, def)
		criteria := criteriaParam(c)

		sponsors, res, err := trials.Sponsors(ctx, q, criteria, sortBy, order)
		if err != nil {
			return renderError(c, logger, err)
		}

		view := templates.SponsorsView{
			Result:   res,
			Sponsors: sponsors,
			SortBy:   sortBy,
			Order:    order,
		}

		// Check if this is an HTMX request for just the table body
		if c.Get("HX-Request") == "true" {
			return render(c, templates.SponsorsTableBody(view))
		}

		return render(c, templates.Sponsors(view))
	}
}
