package templates

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/jjenkins/trialwatch/internal/model"
)

// NotSpecified is shown wherever the registry left a field out
const NotSpecified = "not specified"

const dateLayout = "2006-01-02"

var phaseLabels = map[model.Phase]string{
	model.PhaseEarly1: "Early Phase 1",
	model.Phase1:      "Phase 1",
	model.Phase2:      "Phase 2",
	model.Phase3:      "Phase 3",
	model.Phase4:      "Phase 4",
	model.PhaseNA:     "Not Applicable",
}

var statusLabels = map[model.Status]string{
	model.StatusNotYetRecruiting:    "Not yet recruiting",
	model.StatusRecruiting:          "Recruiting",
	model.StatusEnrollingByInvite:   "Enrolling by invitation",
	model.StatusActiveNotRecruiting: "Active, not recruiting",
	model.StatusCompleted:           "Completed",
	model.StatusSuspended:           "Suspended",
	model.StatusTerminated:          "Terminated",
	model.StatusWithdrawn:           "Withdrawn",
	model.StatusUnknown:             "Unknown status",
}

var sponsorClassLabels = map[model.SponsorClass]string{
	model.SponsorIndustry: "Industry",
	model.SponsorNIH:      "NIH",
	model.SponsorFederal:  "U.S. Federal",
	model.SponsorOtherGov: "Other U.S. Government",
	model.SponsorIndiv:    "Individual",
	model.SponsorNetwork:  "Network",
	model.SponsorOther:    "Other",
	model.SponsorUnknown:  "Unknown",
}

// PhaseLabel returns the display label of a phase token
func PhaseLabel(p model.Phase) string {
	return label(phaseLabels, p)
}

// StatusLabel returns the display label of a status token
func StatusLabel(s model.Status) string {
	return label(statusLabels, s)
}

// SponsorClassLabel returns the display label of a sponsor class token
func SponsorClassLabel(c model.SponsorClass) string {
	return label(sponsorClassLabels, c)
}

// PhasesLabel joins the labels of phases
func PhasesLabel(phases []model.Phase) string {
	if len(phases) == 0 {
		return NotSpecified
	}
	labels := make([]string, len(phases))
	for i, p := range phases {
		labels[i] = PhaseLabel(p)
	}
	return strings.Join(labels, ", ")
}

// PhaseParam maps a phase token or its label to the token
func PhaseParam(s string) model.Phase {
	return fromParam(phaseLabels, s)
}

// StatusParam maps a status token or its label to the token
func StatusParam(s string) model.Status {
	return fromParam(statusLabels, s)
}

// SponsorClassParam maps a sponsor class token or its label to the token
func SponsorClassParam(s string) model.SponsorClass {
	return fromParam(sponsorClassLabels, s)
}

// label falls back to the raw token for values without a label
func label[T ~string](labels map[T]string, v T) string {
	if v == "" {
		return NotSpecified
	}
	if l, ok := labels[v]; ok {
		return l
	}
	return string(v)
}

func fromParam[T ~string](labels map[T]string, s string) T {
	s = strings.TrimSpace(s)
	for code, l := range labels {
		if strings.EqualFold(l, s) {
			return code
		}
	}
	return T(s)
}

func optionalString(s sql.NullString) string {
	if !s.Valid {
		return NotSpecified
	}
	return s.String
}

func optionalCount(n sql.NullInt64) string {
	if !n.Valid {
		return NotSpecified
	}
	return strconv.FormatInt(n.Int64, 10)
}

func optionalDate(t sql.NullTime) string {
	if !t.Valid {
		return NotSpecified
	}
	return t.Time.Format(dateLayout)
}

func optionalList(values []string) string {
	if len(values) == 0 {
		return NotSpecified
	}
	return strings.Join(values, ", ")
}
