package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jjenkins/trialwatch/internal/model"
)

// fakeFetcher serves fixed documents per query condition
type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string][]RawStudy
	err   error
	calls map[string]int
	sizes []int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: make(map[string][]RawStudy), calls: make(map[string]int)}
}

func (f *fakeFetcher) FetchStudies(ctx context.Context, q model.Query, pageSize int) ([]RawStudy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[q.Key()]++
	f.sizes = append(f.sizes, pageSize)
	if f.err != nil {
		return nil, f.err
	}
	return f.docs[q.Condition], nil
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

const trialDocs = `[
  {"protocolSection": {
    "identificationModule": {"nctId": "NCT100", "briefTitle": "Alpha"},
    "statusModule": {"overallStatus": "RECRUITING", "studyFirstPostDateStruct": {"date": "2023-01-10"}},
    "sponsorCollaboratorsModule": {"leadSponsor": {"name": "Acme Oncology", "class": "INDUSTRY"}},
    "designModule": {"phases": ["PHASE3"], "enrollmentInfo": {"count": 300}},
    "contactsLocationsModule": {"locations": [{"country": "United States"}]}
  }},
  {"protocolSection": {
    "identificationModule": {"nctId": "NCT101", "briefTitle": "Beta"},
    "statusModule": {"overallStatus": "COMPLETED"},
    "sponsorCollaboratorsModule": {"leadSponsor": {"name": "National Cancer Institute", "class": "NIH"}},
    "designModule": {"phases": ["PHASE2", "PHASE3"], "enrollmentInfo": {"count": 80}},
    "contactsLocationsModule": {"locations": [{"country": "United States"}, {"country": "Canada"}]}
  }},
  {"protocolSection": {
    "identificationModule": {"nctId": "NCT102", "briefTitle": "Gamma"},
    "statusModule": {"overallStatus": "RECRUITING"},
    "sponsorCollaboratorsModule": {"leadSponsor": {"name": "Acme Oncology", "class": "INDUSTRY"}}
  }},
  {"protocolSection": {"identificationModule": {"briefTitle": "No ID"}}}
]`

type TrialServiceSuite struct {
	suite.Suite
	fetcher *fakeFetcher
	clock   *fakeClock
	trials  *TrialService
}

func TestTrialServiceSuite(t *testing.T) {
	suite.Run(t, new(TrialServiceSuite))
}

func (s *TrialServiceSuite) SetupTest() {
	var docs []RawStudy
	s.Require().NoError(jsonUnmarshal(trialDocs, &docs))

	s.fetcher = newFakeFetcher()
	s.fetcher.docs["breast cancer"] = docs
	s.clock = newFakeClock()
	s.trials = NewTrialService(s.fetcher, TrialServiceConfig{
		PageSize:  250,
		Freshness: time.Minute,
	}, nil, nil, WithClock(s.clock.Now))
}

func (s *TrialServiceSuite) TearDownTest() {
	s.trials.Close()
}

func (s *TrialServiceSuite) TestGetFiltered() {
	ctx := context.Background()

	res, err := s.trials.GetFiltered(ctx, breastCancer, Criteria{Status: "recruiting"})
	s.Require().NoError(err)

	s.Equal(3, res.Total, "document without an ID is dropped")
	s.Equal([]string{"NCT100", "NCT102"}, ids(res.Studies))
	s.Equal(model.StatusRecruiting, res.Criteria.Status)
	s.Equal(MissingPhaseExclude, res.Criteria.MissingPhase)
	s.Equal([]string{"Canada", "United States"}, res.Vocabulary.Countries)
	s.Equal([]int{250}, s.fetcher.sizes)

	res, err = s.trials.GetFiltered(ctx, breastCancer, Criteria{Phase: model.Phase3, Country: "Canada"})
	s.Require().NoError(err)
	s.Equal([]string{"NCT101"}, ids(res.Studies))
	s.Equal(1, s.fetcher.calls[breastCancer.Key()], "second request is served from the cache")
}

func (s *TrialServiceSuite) TestGetFilteredMissingPhasePolicy() {
	trials := NewTrialService(s.fetcher, TrialServiceConfig{MissingPhase: MissingPhaseInclude}, nil, nil)
	defer trials.Close()

	res, err := trials.GetFiltered(context.Background(), breastCancer, Criteria{Phase: model.Phase3})
	s.Require().NoError(err)
	s.Equal([]string{"NCT100", "NCT101", "NCT102"}, ids(res.Studies))

	res, err = trials.GetFiltered(context.Background(), breastCancer, Criteria{Phase: model.Phase3, MissingPhase: MissingPhaseExclude})
	s.Require().NoError(err)
	s.Equal([]string{"NCT100", "NCT101"}, ids(res.Studies))
}

func (s *TrialServiceSuite) TestEmptyQuery() {
	_, err := s.trials.GetFiltered(context.Background(), model.Query{}, Criteria{})
	s.ErrorIs(err, ErrEmptyQuery)

	_, err = s.trials.Refresh(context.Background(), model.Query{Condition: " "})
	s.ErrorIs(err, ErrEmptyQuery)
	s.Empty(s.fetcher.calls)
}

func (s *TrialServiceSuite) TestStaleAfterFailure() {
	ctx := context.Background()
	first, err := s.trials.GetFiltered(ctx, breastCancer, Criteria{})
	s.Require().NoError(err)

	s.fetcher.setErr(&FetchFailure{Kind: FailureTimeout, Page: 1, Err: context.DeadlineExceeded})
	s.clock.Advance(time.Hour)

	res, err := s.trials.GetFiltered(ctx, breastCancer, Criteria{})
	s.Require().NoError(err)
	s.True(res.Stale)
	s.Equal(first.SnapshotID, res.SnapshotID)
	kind, _ := KindOf(res.RefreshErr)
	s.Equal(FailureTimeout, kind)
}

func (s *TrialServiceSuite) TestStudy() {
	study, err := s.trials.Study(context.Background(), breastCancer, "nct101")
	s.Require().NoError(err)
	s.Require().NotNil(study)
	s.Equal("Beta", study.Title.String)

	study, err = s.trials.Study(context.Background(), breastCancer, "NCT999")
	s.Require().NoError(err)
	s.Nil(study)
}

func (s *TrialServiceSuite) TestSummary() {
	summary, err := s.trials.Summary(context.Background(), breastCancer)
	s.Require().NoError(err)

	s.Equal(breastCancer, summary.Query)
	s.Equal(3, summary.TotalStudies)
	s.Equal(2, summary.RecruitingStudies)
	s.Equal(int64(380), summary.TotalEnrollment)
	s.Equal(1, summary.StudiesWithoutPhase)
	s.Equal("NCT100", summary.LargestStudy)
	s.Equal("Acme Oncology", summary.TopSponsor)
	s.Equal(2, summary.TopSponsorTrials)
	s.Equal([]Count{{Value: "PHASE2", Count: 1}, {Value: "PHASE3", Count: 2}}, summary.ByPhase)
	s.Equal([]Count{{Value: "RECRUITING", Count: 2}, {Value: "COMPLETED", Count: 1}}, summary.ByStatus)
}

func (s *TrialServiceSuite) TestSponsors() {
	sponsors, res, err := s.trials.Sponsors(context.Background(), breastCancer, Criteria{}, SortByTrials, "desc")
	s.Require().NoError(err)
	s.Equal(3, res.Total)
	s.Require().Len(sponsors, 2)

	s.Equal("Acme Oncology", sponsors[0].Name)
	s.Equal(2, sponsors[0].TrialCount)
	s.Equal(2, sponsors[0].RecruitingCount)
	s.Equal(int64(300), sponsors[0].TotalEnrollment)
	s.Equal([]model.Phase{model.Phase3}, sponsors[0].Phases)
	s.Equal("National Cancer Institute", sponsors[1].Name)
}

func (s *TrialServiceSuite) TestWarm() {
	s.fetcher.docs["lupus"] = []RawStudy{studyDoc("NCT5")}

	err := s.trials.Warm(context.Background(), []model.Query{breastCancer, {Condition: "lupus"}})
	s.Require().NoError(err)
	s.Equal(1, s.fetcher.calls[breastCancer.Key()])
	s.Equal(1, s.fetcher.calls["lupus|"])

	s.fetcher.setErr(errors.New("registry down"))
	err = s.trials.Warm(context.Background(), []model.Query{{Condition: "asthma"}})
	s.ErrorContains(err, "asthma")
}

func (s *TrialServiceSuite) TestArbitraryConditionsStayBounded() {
	trials := NewTrialService(s.fetcher, TrialServiceConfig{Freshness: time.Hour, MaxSnapshots: 3}, nil, nil)
	defer trials.Close()

	for i := 0; i < 500; i++ {
		_, err := trials.GetFiltered(context.Background(), model.Query{Condition: fmt.Sprintf("junk-%d", i)}, Criteria{})
		s.Require().NoError(err)
	}
	s.LessOrEqual(trials.cache.store.Len(), 3)
}

func TestSortSponsors(t *testing.T) {
	sponsors := []model.Sponsor{
		{Name: "beta", TrialCount: 2, TotalEnrollment: 10},
		{Name: "Alpha", TrialCount: 2, TotalEnrollment: 500},
		{Name: "gamma", TrialCount: 5, TotalEnrollment: 50},
	}
	names := func() []string {
		out := make([]string, len(sponsors))
		for i, sp := range sponsors {
			out[i] = sp.Name
		}
		return out
	}

	SortSponsors(sponsors, SortByName, "asc")
	assert.Equal(t, []string{"Alpha", "beta", "gamma"}, names())

	SortSponsors(sponsors, SortByName, "desc")
	assert.Equal(t, []string{"gamma", "beta", "Alpha"}, names())

	SortSponsors(sponsors, SortByTrials, "desc")
	assert.Equal(t, []string{"gamma", "Alpha", "beta"}, names(), "ties break by name")

	SortSponsors(sponsors, SortByTrials, "asc")
	assert.Equal(t, []string{"Alpha", "beta", "gamma"}, names())

	SortSponsors(sponsors, SortByEnrollment, "desc")
	assert.Equal(t, []string{"Alpha", "gamma", "beta"}, names())

	SortSponsors(sponsors, "bogus", "asc")
	assert.Equal(t, []string{"Alpha", "beta", "gamma"}, names())
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)
	require.NotNil(t, summary)
	assert.Zero(t, summary.TotalStudies)
	assert.Empty(t, summary.ByStatus)
	assert.Empty(t, summary.TopSponsor)
	assert.Empty(t, summary.LargestStudy)
}
