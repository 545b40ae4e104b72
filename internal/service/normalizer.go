package service

import (
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jjenkins/trialwatch/internal/model"
)

const dateLayout = "2006-01-02"

// Normalizer maps raw registry documents to Study records.
// It never fails: missing or mistyped fields become absent fields.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize maps one raw document to a Study. The result depends only on doc.
func (n *Normalizer) Normalize(doc RawStudy) model.Study {
	protocol := asObject(doc["protocolSection"])

	study := model.Study{
		Phases:        normalizePhases(lookupList(protocol, "designModule", "phases")),
		Countries:     collectStrings(lookupList(protocol, "contactsLocationsModule", "locations"), "country"),
		Interventions: collectStrings(lookupList(protocol, "armsInterventionsModule", "interventions"), "name"),
		Outcomes:      normalizeOutcomes(protocol),
	}

	study.ID, _ = lookupString(protocol, "identificationModule", "nctId")
	study.Title = nullString(lookupString(protocol, "identificationModule", "briefTitle"))
	if !study.Title.Valid {
		study.Title = nullString(lookupString(protocol, "identificationModule", "officialTitle"))
	}

	if status, ok := lookupString(protocol, "statusModule", "overallStatus"); ok {
		study.Status = model.Status(status)
	}
	if raw, ok := lookupString(protocol, "statusModule", "studyFirstPostDateStruct", "date"); ok {
		if t, err := time.Parse(dateLayout, raw); err == nil {
			study.FirstPosted = sql.NullTime{Time: t, Valid: true}
		}
	}

	study.SponsorName = nullString(lookupString(protocol, "sponsorCollaboratorsModule", "leadSponsor", "name"))
	if class, ok := lookupString(protocol, "sponsorCollaboratorsModule", "leadSponsor", "class"); ok {
		study.SponsorClass = model.SponsorClass(class)
	}

	if raw, ok := lookup(protocol, "designModule", "enrollmentInfo", "count"); ok {
		if count, ok := asCount(raw); ok {
			study.EnrollmentCount = sql.NullInt64{Int64: count, Valid: true}
		}
	}

	return study
}

// NormalizeAll normalizes docs in order. Documents without an ID and repeated
// IDs are dropped so that IDs are unique; dropped reports how many.
func (n *Normalizer) NormalizeAll(docs []RawStudy) (studies []model.Study, dropped int) {
	studies = make([]model.Study, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))

	for _, doc := range docs {
		study := n.Normalize(doc)
		if study.ID == "" {
			dropped++
			continue
		}
		if _, dup := seen[study.ID]; dup {
			dropped++
			continue
		}
		seen[study.ID] = struct{}{}
		studies = append(studies, study)
	}

	return studies, dropped
}

func normalizePhases(values []any) []model.Phase {
	set := make(map[model.Phase]struct{})
	for _, v := range values {
		if s, ok := asString(v); ok {
			set[model.Phase(s)] = struct{}{}
		}
	}

	phases := make([]model.Phase, 0, len(set))
	for p := range set {
		phases = append(phases, p)
	}
	sort.Slice(phases, func(i, j int) bool {
		ri, rj := phases[i].Rank(), phases[j].Rank()
		if ri != rj {
			return ri < rj
		}
		return phases[i] < phases[j]
	})
	return phases
}

// collectStrings gathers field from every object in items, deduplicated and sorted
func collectStrings(items []any, field string) []string {
	set := make(map[string]struct{})
	for _, item := range items {
		if s, ok := asString(asObject(item)[field]); ok {
			set[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func normalizeOutcomes(protocol map[string]any) []model.Outcome {
	outcomes := make([]model.Outcome, 0)
	kinds := []struct {
		kind  model.OutcomeKind
		field string
	}{
		{model.OutcomePrimary, "primaryOutcomes"},
		{model.OutcomeSecondary, "secondaryOutcomes"},
	}

	for _, k := range kinds {
		for _, item := range lookupList(protocol, "outcomesModule", k.field) {
			obj := asObject(item)
			measure, ok := asString(obj["measure"])
			if !ok {
				continue
			}
			outcomes = append(outcomes, model.Outcome{
				Kind:      k.kind,
				Measure:   measure,
				TimeFrame: nullString(asString(obj["timeFrame"])),
			})
		}
	}

	return outcomes
}

// lookup walks a nested object along path; ok is false if any segment is missing
func lookup(obj map[string]any, path ...string) (any, bool) {
	var cur any = obj
	for _, key := range path {
		m := asObject(cur)
		v, ok := m[key]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, cur != nil
}

func lookupString(obj map[string]any, path ...string) (string, bool) {
	v, ok := lookup(obj, path...)
	if !ok {
		return "", false
	}
	return asString(v)
}

func lookupList(obj map[string]any, path ...string) []any {
	v, _ := lookup(obj, path...)
	list, _ := v.([]any)
	return list
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// asString accepts only non-blank strings
func asString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// asCount accepts non-negative whole numbers
func asCount(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != math.Trunc(n) || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return i, true
	case int:
		return int64(n), n >= 0
	case int64:
		return n, n >= 0
	default:
		return 0, false
	}
}

func nullString(s string, ok bool) sql.NullString {
	return sql.NullString{String: s, Valid: ok}
}
