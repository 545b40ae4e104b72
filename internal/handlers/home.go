package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/templates"
)

// HomeHandler shows the summary of the requested query, or of the first
// configured query
func HomeHandler(trials TrialService, queries []model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		q := queryParam(c, defaultQuery(queries))

		summary, err := trials.Summary(ctx, q)
		if err != nil {
			return renderError(c, logger, err)
		}
		if summary.Stale {
			logger.Info("serving stale summary", zap.String("query", q.String()))
		}

		return render(c, templates.Home(templates.HomeView{
			Summary: summary,
			Queries: queries,
		}))
	}
}

func defaultQuery(queries []model.Query) model.Query {
	if len(queries) == 0 {
		return model.Query{}
	}
	return queries[0]
}
