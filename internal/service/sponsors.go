package service

import (
	"sort"
	"strings"

	"github.com/jjenkins/trialwatch/internal/model"
)

// Sponsor sort keys
const (
	SortByName       = "name"
	SortByTrials     = "trials"
	SortByEnrollment = "enrollment"
)

// AggregateSponsors groups studies by lead sponsor name, sorted by name.
// Studies without a sponsor name are not attributed to any sponsor.
func AggregateSponsors(studies []model.Study) []model.Sponsor {
	byName := make(map[string]*model.Sponsor)
	phases := make(map[string]map[model.Phase]struct{})

	for _, study := range studies {
		if !study.SponsorName.Valid {
			continue
		}
		name := study.SponsorName.String

		sp, ok := byName[name]
		if !ok {
			sp = &model.Sponsor{Name: name, Class: study.SponsorClass}
			byName[name] = sp
			phases[name] = make(map[model.Phase]struct{})
		}
		if sp.Class == "" {
			sp.Class = study.SponsorClass
		}

		sp.TrialCount++
		if study.Status == model.StatusRecruiting {
			sp.RecruitingCount++
		}
		if study.EnrollmentCount.Valid {
			sp.TotalEnrollment += study.EnrollmentCount.Int64
		}
		for _, p := range study.Phases {
			phases[name][p] = struct{}{}
		}
	}

	out := make([]model.Sponsor, 0, len(byName))
	for name, sp := range byName {
		for p := range phases[name] {
			sp.Phases = append(sp.Phases, p)
		}
		sort.Slice(sp.Phases, func(i, j int) bool {
			return sp.Phases[i].Rank() < sp.Phases[j].Rank()
		})
		out = append(out, *sp)
	}
	SortSponsors(out, SortByName, "asc")
	return out
}

// SortSponsors orders sponsors in place. Unknown sort keys sort by name;
// ties always fall back to name ascending.
func SortSponsors(sponsors []model.Sponsor, sortBy, order string) {
	desc := strings.EqualFold(order, "desc")

	byName := func(a, b model.Sponsor) bool {
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	}

	sort.SliceStable(sponsors, func(i, j int) bool {
		a, b := sponsors[i], sponsors[j]

		var less, equal bool
		switch sortBy {
		case SortByTrials:
			less, equal = a.TrialCount < b.TrialCount, a.TrialCount == b.TrialCount
		case SortByEnrollment:
			less, equal = a.TotalEnrollment < b.TotalEnrollment, a.TotalEnrollment == b.TotalEnrollment
		default:
			if desc {
				return byName(b, a)
			}
			return byName(a, b)
		}

		if equal {
			return byName(a, b)
		}
		if desc {
			return !less
		}
		return less
	})
}
