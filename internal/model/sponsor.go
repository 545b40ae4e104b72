package model

// Sponsor represents a lead sponsor aggregated across a snapshot
type Sponsor struct {
	Name            string
	Class           SponsorClass
	TrialCount      int
	RecruitingCount int
	TotalEnrollment int64
	Phases          []Phase
}
