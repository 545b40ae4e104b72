package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
	"github.com/jjenkins/trialwatch/internal/templates"
)

// Absent registry fields are encoded as JSON null
type studyJSON struct {
	ID              string        `json:"id"`
	Title           *string       `json:"title"`
	Phases          []string      `json:"phases"`
	Status          *string       `json:"status"`
	SponsorName     *string       `json:"sponsor_name"`
	SponsorClass    *string       `json:"sponsor_class"`
	EnrollmentCount *int64        `json:"enrollment_count"`
	FirstPosted     *string       `json:"first_posted"`
	Countries       []string      `json:"countries"`
	Interventions   []string      `json:"interventions"`
	Outcomes        []outcomeJSON `json:"outcomes"`
	URL             string        `json:"url"`
}

type outcomeJSON struct {
	Kind      string  `json:"kind"`
	Measure   string  `json:"measure"`
	TimeFrame *string `json:"time_frame"`
}

type queryJSON struct {
	Condition string `json:"condition"`
	Term      string `json:"term,omitempty"`
}

type filtersJSON struct {
	Phase        *string `json:"phase"`
	Status       *string `json:"status"`
	SponsorClass *string `json:"sponsor_class"`
	Country      *string `json:"country"`
	PostedFrom   *string `json:"posted_from"`
	PostedTo     *string `json:"posted_to"`
	MissingPhase string  `json:"missing_phase"`
}

type snapshotJSON struct {
	Query      queryJSON `json:"query"`
	SnapshotID string    `json:"snapshot_id"`
	CapturedAt time.Time `json:"captured_at"`
	Stale      bool      `json:"stale"`
	Error      *string   `json:"error,omitempty"`
	Total      int       `json:"total"`
}

type trialsJSON struct {
	snapshotJSON
	Count   int         `json:"count"`
	Filters filtersJSON `json:"filters"`
	Studies []studyJSON `json:"studies"`
}

type optionJSON struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type vocabularyJSON struct {
	Phases         []optionJSON `json:"phases"`
	Statuses       []optionJSON `json:"statuses"`
	SponsorClasses []optionJSON `json:"sponsor_classes"`
	Countries      []string     `json:"countries"`
}

type errorJSON struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// APITrialsHandler returns the filtered studies as JSON
func APITrialsHandler(trials TrialService, def model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		q := queryParam(c, def)
		criteria := criteriaParam(c)

		res, err := trials.GetFiltered(ctx, q, criteria)
		if err != nil {
			return jsonError(c, logger, err)
		}

		out := trialsJSON{
			snapshotJSON: snapshotOf(res),
			Count:        len(res.Studies),
			Filters:      filtersOf(res.Criteria),
			Studies:      make([]studyJSON, len(res.Studies)),
		}
		for i, s := range res.Studies {
			out.Studies[i] = studyOf(s)
		}
		return c.JSON(out)
	}
}

// APIVocabularyHandler returns the selectable filter values of a snapshot
func APIVocabularyHandler(trials TrialService, def model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		res, err := trials.GetFiltered(ctx, queryParam(c, def), service.Criteria{})
		if err != nil {
			return jsonError(c, logger, err)
		}

		v := res.Vocabulary
		out := vocabularyJSON{
			Phases:         options(v.Phases, templates.PhaseLabel),
			Statuses:       options(v.Statuses, templates.StatusLabel),
			SponsorClasses: options(v.SponsorClasses, templates.SponsorClassLabel),
			Countries:      v.Countries,
		}
		return c.JSON(out)
	}
}

// APIRefreshHandler forces a new snapshot and reports it
func APIRefreshHandler(trials TrialService, def model.Query, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()

		q := queryParam(c, def)
		res, err := trials.Refresh(ctx, q)
		if err != nil {
			return jsonError(c, logger, err)
		}

		logger.Info("snapshot refresh requested",
			zap.String("query", q.String()),
			zap.Bool("stale", res.Stale),
			zap.Int("studies", res.Total))

		// A failed refresh that fell back to the previous snapshot
		if res.Stale {
			return c.Status(fiber.StatusBadGateway).JSON(snapshotOf(res))
		}
		return c.JSON(snapshotOf(res))
	}
}

// MetricsHandler exposes the Prometheus metrics of g
func MetricsHandler(g prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

func jsonError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	status := statusFor(err)
	logger.Warn("api request failed",
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Error(err))

	out := errorJSON{Error: err.Error()}
	if kind, ok := service.KindOf(err); ok {
		out.Kind = string(kind)
	}
	return c.Status(status).JSON(out)
}

func snapshotOf(res *service.Result) snapshotJSON {
	out := snapshotJSON{
		Query:      queryJSON{Condition: res.Query.Condition, Term: res.Query.Term},
		SnapshotID: res.SnapshotID.String(),
		CapturedAt: res.CapturedAt,
		Stale:      res.Stale,
		Total:      res.Total,
	}
	if res.RefreshErr != nil {
		msg := res.RefreshErr.Error()
		out.Error = &msg
	}
	return out
}

func filtersOf(c service.Criteria) filtersJSON {
	out := filtersJSON{
		Phase:        nonEmpty(string(c.Phase)),
		Status:       nonEmpty(string(c.Status)),
		SponsorClass: nonEmpty(string(c.SponsorClass)),
		Country:      nonEmpty(c.Country),
		MissingPhase: string(c.MissingPhase),
	}
	if c.Posted != nil {
		if !c.Posted.From.IsZero() {
			out.PostedFrom = nonEmpty(c.Posted.From.Format(dateLayout))
		}
		if !c.Posted.To.IsZero() {
			out.PostedTo = nonEmpty(c.Posted.To.Format(dateLayout))
		}
	}
	return out
}

func studyOf(s model.Study) studyJSON {
	out := studyJSON{
		ID:            s.ID,
		Phases:        make([]string, len(s.Phases)),
		Status:        nonEmpty(string(s.Status)),
		SponsorClass:  nonEmpty(string(s.SponsorClass)),
		Countries:     nonNil(s.Countries),
		Interventions: nonNil(s.Interventions),
		Outcomes:      make([]outcomeJSON, len(s.Outcomes)),
		URL:           s.URL(),
	}
	for i, p := range s.Phases {
		out.Phases[i] = string(p)
	}
	if s.Title.Valid {
		out.Title = &s.Title.String
	}
	if s.SponsorName.Valid {
		out.SponsorName = &s.SponsorName.String
	}
	if s.EnrollmentCount.Valid {
		out.EnrollmentCount = &s.EnrollmentCount.Int64
	}
	if s.FirstPosted.Valid {
		out.FirstPosted = nonEmpty(s.FirstPosted.Time.Format(dateLayout))
	}
	for i, o := range s.Outcomes {
		out.Outcomes[i] = outcomeJSON{Kind: string(o.Kind), Measure: o.Measure}
		if o.TimeFrame.Valid {
			out.Outcomes[i].TimeFrame = &o.TimeFrame.String
		}
	}
	return out
}

func options[T ~string](values []T, labelOf func(T) string) []optionJSON {
	out := make([]optionJSON, len(values))
	for i, v := range values {
		out[i] = optionJSON{Value: string(v), Label: labelOf(v)}
	}
	return out
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
