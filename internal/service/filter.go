package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jjenkins/trialwatch/internal/model"
)

// MissingPhasePolicy decides whether a study without any phase passes an
// active phase filter
type MissingPhasePolicy string

const (
	MissingPhaseExclude MissingPhasePolicy = "exclude"
	MissingPhaseInclude MissingPhasePolicy = "include"
)

// ParseMissingPhasePolicy parses a policy name; empty means exclude
func ParseMissingPhasePolicy(s string) (MissingPhasePolicy, error) {
	switch MissingPhasePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MissingPhaseExclude:
		return MissingPhaseExclude, nil
	case MissingPhaseInclude:
		return MissingPhaseInclude, nil
	default:
		return "", fmt.Errorf("unknown missing phase policy %q (want exclude or include)", s)
	}
}

// DateRange is an inclusive range of calendar dates. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Criteria holds one optional selection per filter dimension.
// Zero values mean "All". A non-nil Posted range is always active.
type Criteria struct {
	Phase        model.Phase
	Status       model.Status
	SponsorClass model.SponsorClass
	Country      string
	Posted       *DateRange
	MissingPhase MissingPhasePolicy
}

// MatchPhase retains studies listing the selected phase
func (c Criteria) MatchPhase(s model.Study) bool {
	if c.Phase == "" {
		return true
	}
	if len(s.Phases) == 0 {
		return c.MissingPhase == MissingPhaseInclude
	}
	return s.HasPhase(c.Phase)
}

// MatchStatus compares statuses case-insensitively
func (c Criteria) MatchStatus(s model.Study) bool {
	if c.Status == "" {
		return true
	}
	return strings.EqualFold(string(s.Status), string(c.Status))
}

func (c Criteria) MatchSponsorClass(s model.Study) bool {
	if c.SponsorClass == "" {
		return true
	}
	return s.SponsorClass == c.SponsorClass
}

func (c Criteria) MatchCountry(s model.Study) bool {
	if c.Country == "" {
		return true
	}
	return s.HasCountry(c.Country)
}

// MatchPosted never retains a study without a first-posted date
func (c Criteria) MatchPosted(s model.Study) bool {
	if c.Posted == nil {
		return true
	}
	if !s.FirstPosted.Valid {
		return false
	}
	return c.Posted.Contains(s.FirstPosted.Time)
}

// Match is the conjunction of every dimension
func (c Criteria) Match(s model.Study) bool {
	return c.MatchPhase(s) &&
		c.MatchStatus(s) &&
		c.MatchSponsorClass(s) &&
		c.MatchCountry(s) &&
		c.MatchPosted(s)
}

// Active reports whether any dimension narrows the result
func (c Criteria) Active() bool {
	return c.Phase != "" || c.Status != "" || c.SponsorClass != "" || c.Country != "" || c.Posted != nil
}

// Apply returns the matching studies in input order. studies is not modified.
func (c Criteria) Apply(studies []model.Study) []model.Study {
	out := make([]model.Study, 0, len(studies))
	for _, s := range studies {
		if c.Match(s) {
			out = append(out, s)
		}
	}
	return out
}

// Resolve canonicalizes each selection against v and clears selections v
// does not know, so a stale selection widens the view instead of emptying it
func (c Criteria) Resolve(v Vocabulary) Criteria {
	resolved := c
	resolved.Phase = model.Phase(canonical(string(c.Phase), toStrings(v.Phases)))
	resolved.Status = model.Status(canonical(string(c.Status), toStrings(v.Statuses)))
	resolved.SponsorClass = model.SponsorClass(canonical(string(c.SponsorClass), toStrings(v.SponsorClasses)))
	resolved.Country = canonical(c.Country, v.Countries)
	return resolved
}

func canonical(value string, known []string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	for _, k := range known {
		if strings.EqualFold(k, value) {
			return k
		}
	}
	return ""
}

func toStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// Vocabulary lists the selectable values of each filter dimension
type Vocabulary struct {
	Phases         []model.Phase
	Statuses       []model.Status
	SponsorClasses []model.SponsorClass
	Countries      []string
}

// BuildVocabulary combines the registry vocabularies with any other values
// observed in studies
func BuildVocabulary(studies []model.Study) Vocabulary {
	phases := make(map[model.Phase]struct{})
	statuses := make(map[model.Status]struct{})
	classes := make(map[model.SponsorClass]struct{})
	countries := make(map[string]struct{})

	for _, s := range studies {
		for _, p := range s.Phases {
			phases[p] = struct{}{}
		}
		if s.Status != "" {
			statuses[s.Status] = struct{}{}
		}
		if s.SponsorClass != "" {
			classes[s.SponsorClass] = struct{}{}
		}
		for _, c := range s.Countries {
			countries[c] = struct{}{}
		}
	}

	v := Vocabulary{
		Phases:         appendUnknown(model.Phases, phases),
		Statuses:       appendUnknown(model.Statuses, statuses),
		SponsorClasses: appendUnknown(model.SponsorClasses, classes),
		Countries:      make([]string, 0, len(countries)),
	}
	for c := range countries {
		v.Countries = append(v.Countries, c)
	}
	sort.Strings(v.Countries)
	return v
}

// appendUnknown returns known followed by the observed values it lacks, sorted
func appendUnknown[T ~string](known []T, observed map[T]struct{}) []T {
	out := append([]T(nil), known...)
	var extra []T
	for v := range observed {
		found := false
		for _, k := range known {
			if k == v {
				found = true
				break
			}
		}
		if !found {
			extra = append(extra, v)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}
