package model

import (
	"database/sql"
	"sort"
)

const studyBaseURL = "https://clinicaltrials.gov/study/"

// Study represents one clinical trial normalized from a registry document.
// A Study is built once per fetch and never modified afterwards.
type Study struct {
	ID              string
	Title           sql.NullString
	Phases          []Phase
	Status          Status
	SponsorName     sql.NullString
	SponsorClass    SponsorClass
	EnrollmentCount sql.NullInt64
	FirstPosted     sql.NullTime
	Countries       []string
	Interventions   []string
	Outcomes        []Outcome
}

// URL returns the public registry page for the study
func (s Study) URL() string {
	return studyBaseURL + s.ID
}

// HasPhase reports whether p is one of the study's phases
func (s Study) HasPhase(p Phase) bool {
	for _, phase := range s.Phases {
		if phase == p {
			return true
		}
	}
	return false
}

// HasCountry reports whether the study has a facility in country
func (s Study) HasCountry(country string) bool {
	i := sort.SearchStrings(s.Countries, country)
	return i < len(s.Countries) && s.Countries[i] == country
}

// OutcomeKind distinguishes primary from secondary outcome measures
type OutcomeKind string

const (
	OutcomePrimary   OutcomeKind = "primary"
	OutcomeSecondary OutcomeKind = "secondary"
)

// Outcome is a single outcome measure of a study
type Outcome struct {
	Kind      OutcomeKind
	Measure   string
	TimeFrame sql.NullString
}

// Phase is a registry phase token such as PHASE3
type Phase string

const (
	PhaseEarly1 Phase = "EARLY_PHASE1"
	Phase1      Phase = "PHASE1"
	Phase2      Phase = "PHASE2"
	Phase3      Phase = "PHASE3"
	Phase4      Phase = "PHASE4"
	PhaseNA     Phase = "NA"
)

// Phases lists the known phases in display order
var Phases = []Phase{PhaseEarly1, Phase1, Phase2, Phase3, Phase4, PhaseNA}

// Rank orders phases for display; unknown phases sort last
func (p Phase) Rank() int {
	for i, known := range Phases {
		if known == p {
			return i
		}
	}
	return len(Phases)
}

// Status is a registry overall-status token such as RECRUITING.
// The zero value means the registry did not report a status.
type Status string

const (
	StatusNotYetRecruiting    Status = "NOT_YET_RECRUITING"
	StatusRecruiting          Status = "RECRUITING"
	StatusEnrollingByInvite   Status = "ENROLLING_BY_INVITATION"
	StatusActiveNotRecruiting Status = "ACTIVE_NOT_RECRUITING"
	StatusCompleted           Status = "COMPLETED"
	StatusSuspended           Status = "SUSPENDED"
	StatusTerminated          Status = "TERMINATED"
	StatusWithdrawn           Status = "WITHDRAWN"
	StatusUnknown             Status = "UNKNOWN"
)

// Statuses lists the known recruitment statuses
var Statuses = []Status{
	StatusNotYetRecruiting,
	StatusRecruiting,
	StatusEnrollingByInvite,
	StatusActiveNotRecruiting,
	StatusCompleted,
	StatusSuspended,
	StatusTerminated,
	StatusWithdrawn,
	StatusUnknown,
}

// SponsorClass is the registry category of the lead sponsor.
// The zero value means the registry did not report one.
type SponsorClass string

const (
	SponsorIndustry SponsorClass = "INDUSTRY"
	SponsorNIH      SponsorClass = "NIH"
	SponsorFederal  SponsorClass = "FED"
	SponsorOtherGov SponsorClass = "OTHER_GOV"
	SponsorIndiv    SponsorClass = "INDIV"
	SponsorNetwork  SponsorClass = "NETWORK"
	SponsorOther    SponsorClass = "OTHER"
	SponsorUnknown  SponsorClass = "UNKNOWN"
)

// SponsorClasses lists the known sponsor classes
var SponsorClasses = []SponsorClass{
	SponsorIndustry,
	SponsorNIH,
	SponsorFederal,
	SponsorOtherGov,
	SponsorIndiv,
	SponsorNetwork,
	SponsorOther,
	SponsorUnknown,
}
