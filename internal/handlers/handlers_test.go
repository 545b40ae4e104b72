package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/jjenkins/trialwatch/internal/metrics"
	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
	"github.com/jjenkins/trialwatch/internal/templates"
)

// stubFetcher returns canned registry documents, or err when set
type stubFetcher struct {
	mu   sync.Mutex
	docs []service.RawStudy
	err  error
}

func (f *stubFetcher) FetchStudies(ctx context.Context, q model.Query, pageSize int) ([]service.RawStudy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

const registryDocs = `[
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
    "designModule": {"phases": ["PHASE2"]}
  }},
  {"protocolSection": {"identificationModule": {"nctId": "NCT102"}}}
]`

var defQuery = model.Query{Condition: "breast cancer"}

type HandlersSuite struct {
	suite.Suite
	fetcher *stubFetcher
	trials  *service.TrialService
	reg     *prometheus.Registry
	app     *fiber.App
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}

func (s *HandlersSuite) SetupTest() {
	var docs []service.RawStudy
	s.Require().NoError(json.Unmarshal([]byte(registryDocs), &docs))
	s.fetcher = &stubFetcher{docs: docs}

	s.reg = prometheus.NewRegistry()
	s.trials = service.NewTrialService(s.fetcher, service.TrialServiceConfig{Freshness: time.Hour}, nil, metrics.New(s.reg))

	logger := zap.NewNop()
	s.app = fiber.New()
	s.app.Get("/", HomeHandler(s.trials, []model.Query{defQuery}, logger))
	s.app.Get("/trials", TrialsHandler(s.trials, defQuery, logger))
	s.app.Get("/trials/:id", TrialDetailHandler(s.trials, defQuery, logger))
	s.app.Get("/sponsors", SponsorsHandler(s.trials, defQuery, logger))
	s.app.Get("/api/trials", APITrialsHandler(s.trials, defQuery, logger))
	s.app.Get("/api/vocabulary", APIVocabularyHandler(s.trials, defQuery, logger))
	s.app.Post("/api/refresh", APIRefreshHandler(s.trials, defQuery, logger))
	s.app.Get("/metrics", MetricsHandler(s.reg))
}

func (s *HandlersSuite) TearDownTest() {
	s.trials.Close()
}

func (s *HandlersSuite) do(req *http.Request) *http.Response {
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	return resp
}

func (s *HandlersSuite) get(target string) *http.Response {
	return s.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (s *HandlersSuite) html(resp *http.Response) *goquery.Document {
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	s.Require().NoError(err)
	return doc
}

func (s *HandlersSuite) decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *HandlersSuite) TestHome() {
	resp := s.get("/")
	s.Equal(fiber.StatusOK, resp.StatusCode)

	doc := s.html(resp)
	s.Equal("breast cancer", doc.Find("h1").Text())
	s.Contains(doc.Find("dl.metrics").Text(), "Studies3")
}

func (s *HandlersSuite) TestTrialsFullPage() {
	resp := s.get("/trials?status=Recruiting")
	s.Equal(fiber.StatusOK, resp.StatusCode)

	doc := s.html(resp)
	s.Equal(1, doc.Find("html").Length())
	rows := doc.Find("#trials-body tr").Not(".count")
	s.Equal(1, rows.Length())
	s.Equal("NCT100", rows.Find("td").First().Text())
}

func (s *HandlersSuite) TestTrialsPartialForHTMX() {
	req := httptest.NewRequest(http.MethodGet, "/trials?phase=PHASE2", nil)
	req.Header.Set("HX-Request", "true")
	resp := s.do(req)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.NotContains(string(body), "<html")
	s.Contains(string(body), "NCT101")
	s.NotContains(string(body), "NCT100")
}

func (s *HandlersSuite) TestTrialsUnknownFilterFailsOpen() {
	doc := s.html(s.get("/trials?phase=PHASE9&country=Atlantis"))
	s.Equal(3, doc.Find("#trials-body tr").Not(".count").Length())
}

func (s *HandlersSuite) TestMalformedDateIsOpenBound() {
	resp := s.get("/trials?posted_from=2024-13-45")
	s.Equal(fiber.StatusOK, resp.StatusCode)
	s.Equal(3, s.html(resp).Find("#trials-body tr").Not(".count").Length(), "no date filter at all")

	var out struct {
		Count   int            `json:"count"`
		Filters map[string]any `json:"filters"`
	}
	resp = s.get("/api/trials?posted_from=yesterday&posted_to=2023-12-31")
	s.Equal(fiber.StatusOK, resp.StatusCode)
	s.decode(resp, &out)
	s.Equal(1, out.Count, "only the well-formed upper bound applies")
	s.Nil(out.Filters["posted_from"])
	s.Equal("2023-12-31", out.Filters["posted_to"])

	resp = s.get("/sponsors?posted_to=not-a-date")
	s.Equal(fiber.StatusOK, resp.StatusCode)
}

func (s *HandlersSuite) TestTrialDetail() {
	resp := s.get("/trials/NCT102")
	s.Equal(fiber.StatusOK, resp.StatusCode)

	doc := s.html(resp)
	s.Equal(templates.NotSpecified, doc.Find("h1").Text())
	s.Contains(doc.Find("dl.study").Text(), "Enrollment"+templates.NotSpecified)

	resp = s.get("/trials/NCT999")
	s.Equal(fiber.StatusNotFound, resp.StatusCode)
}

func (s *HandlersSuite) TestSponsors() {
	doc := s.html(s.get("/sponsors?sort=trials&order=desc"))
	rows := doc.Find("#sponsors-body tr")
	s.Equal(2, rows.Length())
	s.Equal("Acme Oncology", rows.First().Find("td").First().Text())
}

func (s *HandlersSuite) TestAPITrials() {
	resp := s.get("/api/trials?condition=breast%20cancer&posted_from=2020-01-01")
	s.Equal(fiber.StatusOK, resp.StatusCode)

	var out map[string]any
	s.decode(resp, &out)

	s.Equal(float64(3), out["total"])
	s.Equal(float64(1), out["count"])
	filters := out["filters"].(map[string]any)
	s.Equal("2020-01-01", filters["posted_from"])
	s.Nil(filters["posted_to"])
	s.Equal("exclude", filters["missing_phase"])

	studies := out["studies"].([]any)
	s.Require().Len(studies, 1)
	study := studies[0].(map[string]any)
	s.Equal("NCT100", study["id"])
	s.Equal("2023-01-10", study["first_posted"])
	s.Equal(float64(300), study["enrollment_count"])
}

func (s *HandlersSuite) TestAPITrialsAbsentFieldsAreNull() {
	var out struct {
		Studies []map[string]any `json:"studies"`
	}
	s.decode(s.get("/api/trials"), &out)
	s.Require().Len(out.Studies, 3)

	bare := out.Studies[2]
	s.Equal("NCT102", bare["id"])
	for _, key := range []string{"title", "status", "sponsor_name", "sponsor_class", "enrollment_count", "first_posted"} {
		v, ok := bare[key]
		s.True(ok, key)
		s.Nil(v, key)
	}
	s.Equal([]any{}, bare["phases"])
	s.Equal([]any{}, bare["countries"])
}

func (s *HandlersSuite) TestAPIVocabulary() {
	var out struct {
		Phases []struct {
			Value string `json:"value"`
			Label string `json:"label"`
		} `json:"phases"`
		Countries []string `json:"countries"`
	}
	s.decode(s.get("/api/vocabulary"), &out)

	s.Equal("EARLY_PHASE1", out.Phases[0].Value)
	s.Equal("Early Phase 1", out.Phases[0].Label)
	s.Equal([]string{"United States"}, out.Countries)
}

func (s *HandlersSuite) TestFetchFailureWithoutData() {
	s.fetcher.err = &service.FetchFailure{Kind: service.FailureRemoteRejected, Page: 1, StatusCode: 503, Err: errors.New("unavailable")}

	resp := s.get("/api/trials")
	s.Equal(fiber.StatusBadGateway, resp.StatusCode)
	var out map[string]string
	s.decode(resp, &out)
	s.Equal("remote_rejected", out["kind"])

	resp = s.get("/trials")
	s.Equal(fiber.StatusBadGateway, resp.StatusCode)
	doc := s.html(resp)
	s.Equal("Registry unavailable", doc.Find("h1").Text())
}

func (s *HandlersSuite) TestRefresh() {
	var first, second map[string]any
	s.decode(s.get("/api/trials"), &first)

	resp := s.do(httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	s.Equal(fiber.StatusOK, resp.StatusCode)
	s.decode(resp, &second)
	s.NotEqual(first["snapshot_id"], second["snapshot_id"])
	s.Equal(false, second["stale"])

	s.fetcher.mu.Lock()
	s.fetcher.err = errors.New("registry down")
	s.fetcher.mu.Unlock()

	resp = s.do(httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	s.Equal(fiber.StatusBadGateway, resp.StatusCode)
	var stale map[string]any
	s.decode(resp, &stale)
	s.Equal(true, stale["stale"])
	s.Equal(second["snapshot_id"], stale["snapshot_id"])
	s.Contains(stale["error"], "registry down")
}

func (s *HandlersSuite) TestMetrics() {
	s.get("/trials")
	s.get("/trials")

	resp := s.get("/metrics")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)

	text := string(body)
	s.True(strings.Contains(text, "trialwatch_snapshot_cache_hits_total 1"), text)
	s.Contains(text, "trialwatch_snapshot_cache_misses_total 1")
	s.Contains(text, "trialwatch_snapshot_cache_entries 1")
	s.NotContains(text, "breast cancer", "queries are not metric labels")
}
