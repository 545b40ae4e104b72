package service

import (
	"sort"
	"time"

	"github.com/jjenkins/trialwatch/internal/model"
)

const topCountries = 10

// Count is the number of studies sharing one value
type Count struct {
	Value string
	Count int
}

// Summary represents calculated dashboard totals for one snapshot
type Summary struct {
	Query      model.Query
	CapturedAt time.Time
	Stale      bool

	TotalStudies        int
	RecruitingStudies   int
	TotalEnrollment     int64
	StudiesWithoutPhase int

	ByStatus       []Count
	ByPhase        []Count
	BySponsorClass []Count
	TopCountries   []Count

	LargestStudy           string
	LargestStudyEnrollment int64
	TopSponsor             string
	TopSponsorTrials       int
}

// Summarize calculates totals over studies
func Summarize(studies []model.Study) *Summary {
	s := &Summary{TotalStudies: len(studies)}

	status := make(map[string]int)
	phase := make(map[string]int)
	class := make(map[string]int)
	country := make(map[string]int)

	for _, study := range studies {
		if study.Status == model.StatusRecruiting {
			s.RecruitingStudies++
		}
		if study.EnrollmentCount.Valid {
			s.TotalEnrollment += study.EnrollmentCount.Int64
			if study.EnrollmentCount.Int64 > s.LargestStudyEnrollment {
				s.LargestStudy = study.ID
				s.LargestStudyEnrollment = study.EnrollmentCount.Int64
			}
		}

		// Absent values are counted under the empty key
		status[string(study.Status)]++
		class[string(study.SponsorClass)]++
		if len(study.Phases) == 0 {
			s.StudiesWithoutPhase++
		}
		for _, p := range study.Phases {
			phase[string(p)]++
		}
		for _, c := range study.Countries {
			country[c]++
		}
	}

	s.ByStatus = orderedCounts(status, toStrings(model.Statuses))
	s.ByPhase = orderedCounts(phase, toStrings(model.Phases))
	s.BySponsorClass = orderedCounts(class, toStrings(model.SponsorClasses))
	s.TopCountries = rankedCounts(country, topCountries)

	if sponsors := AggregateSponsors(studies); len(sponsors) > 0 {
		SortSponsors(sponsors, SortByTrials, "desc")
		s.TopSponsor = sponsors[0].Name
		s.TopSponsorTrials = sponsors[0].TrialCount
	}

	return s
}

// orderedCounts lists counts in the order of known, then any other values
// sorted, skipping zero counts
func orderedCounts(counts map[string]int, known []string) []Count {
	out := make([]Count, 0, len(counts))
	seen := make(map[string]struct{}, len(known))
	for _, k := range known {
		seen[k] = struct{}{}
		if n := counts[k]; n > 0 {
			out = append(out, Count{Value: k, Count: n})
		}
	}

	var rest []string
	for k := range counts {
		if _, ok := seen[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		out = append(out, Count{Value: k, Count: counts[k]})
	}
	return out
}

// rankedCounts returns the limit highest counts, ties broken by value
func rankedCounts(counts map[string]int, limit int) []Count {
	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Value: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
