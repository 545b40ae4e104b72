package templates

import (
	"net/url"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
)

const timestampLayout = "2006-01-02 15:04 MST"

// HomeView is the data of the dashboard home page
type HomeView struct {
	Summary *service.Summary
	Queries []model.Query // configured dashboard queries
}

// SponsorsView is the data of the sponsor table
type SponsorsView struct {
	Result   *service.Result
	Sponsors []model.Sponsor
	SortBy   string
	Order    string
}

type option struct {
	Value string
	Label string
}

func toOptions[T ~string](values []T, labelOf func(T) string) []option {
	out := make([]option, len(values))
	for i, v := range values {
		out[i] = option{Value: string(v), Label: labelOf(v)}
	}
	return out
}

// queryValues encodes q as URL parameters
func queryValues(q model.Query) url.Values {
	v := url.Values{}
	v.Set("condition", q.Condition)
	if q.Term != "" {
		v.Set("term", q.Term)
	}
	return v
}

func homeHref(q model.Query) string {
	return "/?" + queryValues(q).Encode()
}

func trialsHref(q model.Query) string {
	return "/trials?" + queryValues(q).Encode()
}

func studyHref(q model.Query, id string) string {
	return "/trials/" + url.PathEscape(id) + "?" + queryValues(q).Encode()
}

// sortHref links to the sponsor table sorted by key. The active column
// toggles its order; the others start descending, except the name column.
func sortHref(v SponsorsView, key string) string {
	order := "asc"
	if key != service.SortByName {
		order = "desc"
	}
	if v.SortBy == key {
		order = "desc"
		if v.Order == "desc" {
			order = "asc"
		}
	}

	params := queryValues(v.Result.Query)
	params.Set("sort", key)
	params.Set("order", order)
	return "/sponsors?" + params.Encode()
}

func sortArrow(v SponsorsView, key string) string {
	switch {
	case v.SortBy != key:
		return ""
	case v.Order == "desc":
		return " ▼"
	default:
		return " ▲"
	}
}

func postedFrom(c service.Criteria) string {
	if c.Posted == nil || c.Posted.From.IsZero() {
		return ""
	}
	return c.Posted.From.Format(dateLayout)
}

func postedTo(c service.Criteria) string {
	if c.Posted == nil || c.Posted.To.IsZero() {
		return ""
	}
	return c.Posted.To.Format(dateLayout)
}

func statusValueLabel(v string) string {
	return StatusLabel(model.Status(v))
}

func phaseValueLabel(v string) string {
	return PhaseLabel(model.Phase(v))
}

func sponsorClassValueLabel(v string) string {
	return SponsorClassLabel(model.SponsorClass(v))
}

func countryLabel(v string) string {
	return v
}
