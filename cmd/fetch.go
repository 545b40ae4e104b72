package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jjenkins/trialwatch/internal/model"
	"github.com/jjenkins/trialwatch/internal/service"
	"github.com/jjenkins/trialwatch/internal/templates"
)

var (
	fetchCondition    string
	fetchTerm         string
	fetchPhase        string
	fetchStatus       string
	fetchSponsorClass string
	fetchCountry      string
	fetchPostedFrom   string
	fetchPostedTo     string
	fetchSummaryOnly  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch and filter studies from ClinicalTrials.gov",
	Long: `Fetch runs one retrieve, normalize and filter cycle against the
ClinicalTrials.gov registry and prints the matching studies.

Examples:
  # Studies for the first configured query
  ./trialwatch fetch

  # Recruiting phase 3 breast cancer studies
  ./trialwatch fetch --condition "breast cancer" --phase PHASE3 --status RECRUITING

  # Totals only, for studies first posted in 2024
  ./trialwatch fetch --condition lupus --posted-from 2024-01-01 --posted-to 2024-12-31 --summary`,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchCondition, "condition", "c", "", "Disease condition (default: first configured query)")
	fetchCmd.Flags().StringVarP(&fetchTerm, "term", "t", "", "Additional search term, e.g. an intervention")
	fetchCmd.Flags().StringVar(&fetchPhase, "phase", "", "Phase filter, e.g. PHASE3")
	fetchCmd.Flags().StringVar(&fetchStatus, "status", "", "Recruitment status filter, e.g. RECRUITING")
	fetchCmd.Flags().StringVar(&fetchSponsorClass, "sponsor-class", "", "Sponsor class filter, e.g. INDUSTRY")
	fetchCmd.Flags().StringVar(&fetchCountry, "country", "", "Country filter")
	fetchCmd.Flags().StringVar(&fetchPostedFrom, "posted-from", "", "First posted on or after (YYYY-MM-DD)")
	fetchCmd.Flags().StringVar(&fetchPostedTo, "posted-to", "", "First posted on or before (YYYY-MM-DD)")
	fetchCmd.Flags().BoolVar(&fetchSummaryOnly, "summary", false, "Print totals only")
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q := configuredQueries()[0]
	if fetchCondition != "" {
		q = model.Query{Condition: fetchCondition, Term: fetchTerm}
	}

	criteria, err := fetchCriteria()
	if err != nil {
		return err
	}

	trials, err := newTrialService(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer trials.Close()

	start := time.Now()
	res, err := trials.GetFiltered(ctx, q, criteria)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("fetch cancelled: %w", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Query:     %s\n", q.String())
	fmt.Fprintf(out, "Snapshot:  %s (%s, took %s)\n", res.SnapshotID, res.CapturedAt.Format(time.RFC3339), time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "Matched:   %d of %d studies\n", len(res.Studies), res.Total)

	if fetchSummaryOnly {
		summary := service.Summarize(res.Studies)
		fmt.Fprintf(out, "Recruiting: %d\n", summary.RecruitingStudies)
		fmt.Fprintf(out, "Enrollment: %d\n", summary.TotalEnrollment)
		for _, c := range summary.ByPhase {
			fmt.Fprintf(out, "  %-16s %d\n", templates.PhaseLabel(model.Phase(c.Value)), c.Count)
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPHASE\tSTATUS\tSPONSOR\tTITLE")
	for _, s := range res.Studies {
		sponsor := templates.NotSpecified
		if s.SponsorName.Valid {
			sponsor = s.SponsorName.String
		}
		title := templates.NotSpecified
		if s.Title.Valid {
			title = s.Title.String
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID, templates.PhasesLabel(s.Phases), templates.StatusLabel(s.Status), sponsor, truncate(title, 80))
	}
	return tw.Flush()
}

func fetchCriteria() (service.Criteria, error) {
	criteria := service.Criteria{
		Phase:        templates.PhaseParam(fetchPhase),
		Status:       templates.StatusParam(fetchStatus),
		SponsorClass: templates.SponsorClassParam(fetchSponsorClass),
		Country:      strings.TrimSpace(fetchCountry),
	}

	var from, to time.Time
	var err error
	if fetchPostedFrom != "" {
		if from, err = time.Parse("2006-01-02", fetchPostedFrom); err != nil {
			return service.Criteria{}, fmt.Errorf("invalid --posted-from: %w", err)
		}
	}
	if fetchPostedTo != "" {
		if to, err = time.Parse("2006-01-02", fetchPostedTo); err != nil {
			return service.Criteria{}, fmt.Errorf("invalid --posted-to: %w", err)
		}
	}
	if !from.IsZero() || !to.IsZero() {
		criteria.Posted = &service.DateRange{From: from, To: to}
	}
	return criteria, nil
}

// truncate shortens s to at most n runes, marking the cut with "..." when
// there is room for it
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:max(n, 0)])
	}
	return string(r[:n-3]) + "..."
}
