package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/templates"
)

func TrialsHandler(trials TrialService, def model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		q := queryParam(c, def)
		criteria := criteriaParam(c)

		res, err := trials.GetFiltered(ctx, q, criteria)
		if err != nil {
			return renderError(c, logger, err)
		}

		// Check if this is an HTMX request for just the table body
		if c.Get("HX-Request") == "true" {
			return render(c, templates.TrialsTableBody(res))
		}

		return render(c, templates.Trials(res))
	}
}

func TrialDetailHandler(trials TrialService, def model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid study ID")
		}

		q := queryParam(c, def)
		study, err := trials.Study(ctx, q, id)
		if err != nil {
			return renderError(c, logger, err)
		}
		if study == nil {
			return c.Status(fiber.StatusNotFound).SendString("Study not found")
		}

		return render(c, templates.TrialDetail(q, study))
	}
}
