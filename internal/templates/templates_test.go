package templates

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/a-h/templ"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
)

func renderDoc(t *testing.T, c templ.Component) *goquery.Document {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return doc
}

var lupus = model.Query{Condition: "lupus"}

func sampleStudies() []model.Study {
	return []model.Study{
		{
			ID:              "NCT100",
			Title:           sql.NullString{String: "Belimumab <in> Lupus", Valid: true},
			Phases:          []model.Phase{model.Phase3},
			Status:          model.StatusRecruiting,
			SponsorName:     sql.NullString{String: "Acme", Valid: true},
			SponsorClass:    model.SponsorIndustry,
			EnrollmentCount: sql.NullInt64{Int64: 120, Valid: true},
			FirstPosted:     sql.NullTime{Time: time.Date(2023, 1, 10, 0, 0, 0, 0, time.UTC), Valid: true},
		},
		{ID: "NCT200"},
	}
}

func sampleResult() *service.Result {
	studies := sampleStudies()
	return &service.Result{
		Query:      lupus,
		SnapshotID: uuid.New(),
		CapturedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Total:      5,
		Studies:    studies,
		Criteria:   service.Criteria{Status: model.StatusRecruiting},
		Vocabulary: service.BuildVocabulary(studies),
	}
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Phase 3", PhaseLabel(model.Phase3))
	assert.Equal(t, "PHASE9", PhaseLabel("PHASE9"))
	assert.Equal(t, NotSpecified, PhaseLabel(""))
	assert.Equal(t, "Active, not recruiting", StatusLabel(model.StatusActiveNotRecruiting))
	assert.Equal(t, "U.S. Federal", SponsorClassLabel(model.SponsorFederal))
	assert.Equal(t, "Phase 2, Phase 3", PhasesLabel([]model.Phase{model.Phase2, model.Phase3}))
	assert.Equal(t, NotSpecified, PhasesLabel(nil))
}

func TestParams(t *testing.T) {
	assert.Equal(t, model.Phase3, PhaseParam("phase 3"))
	assert.Equal(t, model.Phase("PHASE3"), PhaseParam("PHASE3"))
	assert.Equal(t, model.StatusRecruiting, StatusParam("Recruiting"))
	assert.Equal(t, model.SponsorIndustry, SponsorClassParam(" industry "))
	assert.Equal(t, model.SponsorClass("OTHER_GOV"), SponsorClassParam("OTHER_GOV"))
	assert.Equal(t, model.Status(""), StatusParam(""))
}

func TestTrialsPage(t *testing.T) {
	doc := renderDoc(t, Trials(sampleResult()))

	rows := doc.Find("#trials-body tr").Not(".count")
	require.Equal(t, 2, rows.Length())

	first := rows.First().Find("td")
	assert.Equal(t, "NCT100", first.Eq(0).Text())
	assert.Equal(t, "Belimumab <in> Lupus", first.Eq(1).Text())
	assert.Equal(t, "Phase 3", first.Eq(2).Text())
	assert.Equal(t, "Recruiting", first.Eq(3).Text())
	assert.Equal(t, "120", first.Eq(5).Text())
	assert.Equal(t, "2023-01-10", first.Eq(6).Text())

	href, _ := first.Eq(0).Find("a").Attr("href")
	assert.Equal(t, "/trials/NCT100?condition=lupus", href)

	// Every absent field of the second study reads "not specified"
	rows.Eq(1).Find("td").Each(func(i int, cell *goquery.Selection) {
		if i > 0 {
			assert.Equal(t, NotSpecified, cell.Text(), "column %d", i)
		}
	})

	assert.Contains(t, doc.Find("tr.count").Text(), "Showing 2 of 5 studies")

	selected := doc.Find(`select[name="status"] option[selected]`)
	assert.Equal(t, "RECRUITING", selected.AttrOr("value", ""))
	assert.Equal(t, "All", doc.Find(`select[name="phase"] option`).First().Text())
	assert.Equal(t, "lupus", doc.Find(`input[name="condition"]`).AttrOr("value", ""))
	assert.Equal(t, 0, doc.Find(".notice.stale").Length())
}

func TestTrialsTableBodyEmpty(t *testing.T) {
	res := sampleResult()
	res.Studies = nil

	var buf bytes.Buffer
	require.NoError(t, TrialsTableBody(res).Render(context.Background(), &buf))
	assert.Contains(t, buf.String(), "No studies match the selected filters.")
	assert.NotContains(t, buf.String(), "<html")
}

func TestStaleBanner(t *testing.T) {
	res := sampleResult()
	res.Stale = true

	doc := renderDoc(t, Trials(res))
	banner := doc.Find(".notice.stale")
	require.Equal(t, 1, banner.Length())
	assert.Contains(t, banner.Text(), "2024-06-01 12:00 UTC")
}

func TestTrialDetail(t *testing.T) {
	study := sampleStudies()[0]
	study.Countries = []string{"France", "Spain"}
	study.Outcomes = []model.Outcome{
		{Kind: model.OutcomePrimary, Measure: "SRI-4 response", TimeFrame: sql.NullString{String: "52 weeks", Valid: true}},
		{Kind: model.OutcomeSecondary, Measure: "Flares"},
	}

	doc := renderDoc(t, TrialDetail(lupus, &study))

	assert.Equal(t, "Belimumab <in> Lupus", doc.Find("h1").Text())
	assert.Contains(t, doc.Find("dl.study").Text(), "France, Spain")
	assert.Contains(t, doc.Find("dl.study").Text(), "Interventions"+NotSpecified)

	outcomes := doc.Find("table.outcomes tbody tr")
	require.Equal(t, 2, outcomes.Length())
	assert.Equal(t, NotSpecified, outcomes.Eq(1).Find("td").Eq(2).Text())

	link, _ := doc.Find(`a[target="_blank"]`).Attr("href")
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT100", link)
}

func TestHome(t *testing.T) {
	summary := service.Summarize(sampleStudies())
	summary.Query = lupus

	doc := renderDoc(t, Home(HomeView{
		Summary: summary,
		Queries: []model.Query{lupus, {Condition: "asthma", Term: "dupilumab"}},
	}))

	assert.Equal(t, "lupus", doc.Find("h1").Text())
	assert.Equal(t, 2, doc.Find("ul.queries li").Length())
	href, _ := doc.Find("ul.queries a").Eq(1).Attr("href")
	assert.Equal(t, "/?condition=asthma&term=dupilumab", href)

	metrics := doc.Find("dl.metrics").Text()
	assert.Contains(t, metrics, "Studies2")
	assert.Contains(t, metrics, "Recruiting1")
	assert.Contains(t, metrics, "Acme (1 studies)")

	captions := doc.Find("table.counts caption").Map(func(i int, s *goquery.Selection) string { return s.Text() })
	assert.Equal(t, []string{"By status", "By phase", "By sponsor class"}, captions, "no countries, no country table")
	assert.True(t, strings.Contains(doc.Text(), NotSpecified), "studies without status are counted as not specified")
}

func TestSponsorsPage(t *testing.T) {
	res := sampleResult()
	view := SponsorsView{
		Result: res,
		Sponsors: []model.Sponsor{
			{Name: "Acme", Class: model.SponsorIndustry, TrialCount: 3, RecruitingCount: 1, TotalEnrollment: 900, Phases: []model.Phase{model.Phase1, model.Phase3}},
		},
		SortBy: service.SortByTrials,
		Order:  "desc",
	}

	doc := renderDoc(t, Sponsors(view))
	cells := doc.Find("#sponsors-body tr td")
	assert.Equal(t, "Acme", cells.Eq(0).Text())
	assert.Equal(t, "Industry", cells.Eq(1).Text())
	assert.Equal(t, "Phase 1, Phase 3", cells.Eq(5).Text())

	// The active column toggles its order
	href, _ := doc.Find("thead th a").Eq(1).Attr("href")
	assert.Equal(t, "/sponsors?condition=lupus&order=asc&sort=trials", href)
	href, _ = doc.Find("thead th a").Eq(0).Attr("href")
	assert.Equal(t, "/sponsors?condition=lupus&order=asc&sort=name", href)

	assert.Equal(t, "Studies ▼", doc.Find("thead th a").Eq(1).Text())
	assert.Equal(t, "Sponsor", doc.Find("thead th a").Eq(0).Text())
	hxGet, _ := doc.Find("thead th a").Eq(1).Attr("hx-get")
	assert.Equal(t, "/sponsors?condition=lupus&order=asc&sort=trials", hxGet)
}

func TestSponsorsTableBodyEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SponsorsTableBody(SponsorsView{Result: sampleResult()}).Render(context.Background(), &buf))
	assert.Equal(t, `<tr class="empty"><td colspan="6">No sponsors in this snapshot.</td></tr>`, buf.String())
}

func TestNotice(t *testing.T) {
	doc := renderDoc(t, Notice("Registry unavailable", "Try <again> later"))
	assert.Equal(t, "Registry unavailable", doc.Find("h1").Text())
	assert.Equal(t, "Try <again> later", doc.Find(".notice p").Text())
	assert.Equal(t, "Registry unavailable | TrialWatch", doc.Find("title").Text())
}

func TestUserInputIsEscaped(t *testing.T) {
	hostile := `"><script>alert(1)</script>`
	res := sampleResult()
	res.Query = model.Query{Condition: hostile, Term: "<b>"}
	res.Studies[0].SponsorName = sql.NullString{String: hostile, Valid: true}

	var buf bytes.Buffer
	require.NoError(t, Trials(res).Render(context.Background(), &buf))
	assert.NotContains(t, buf.String(), "<script>alert")

	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Find("script").Length(), "only the htmx script tag")
	assert.Equal(t, 0, doc.Find("b").Length())
	assert.Equal(t, hostile, doc.Find(`input[name="condition"]`).AttrOr("value", ""))
	assert.Equal(t, "Studies: "+hostile+" / <b>", doc.Find("h1").Text())
	assert.Equal(t, hostile, doc.Find("#trials-body tr").Eq(1).Find("td").Eq(4).Text())

	href, _ := doc.Find("#trials-body a").First().Attr("href")
	assert.Equal(t, "/trials/NCT100?"+queryValues(res.Query).Encode(), href)
}

func TestLayoutChrome(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Notice("Not found", "gone").Render(context.Background(), &buf))
	html := buf.String()
	assert.True(t, strings.HasPrefix(html, "<!doctype html>"))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	src, _ := doc.Find("head script").Attr("src")
	assert.Equal(t, "https://unpkg.com/htmx.org@1.9.12", src)
	links := doc.Find("nav a").Map(func(_ int, s *goquery.Selection) string { return s.AttrOr("href", "") })
	assert.Equal(t, []string{"/", "/trials", "/sponsors"}, links)
}

func TestRenderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := Trials(sampleResult()).Render(ctx, &buf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}
