package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"bgremover/internal/adapter/repo"
	"bgremover/internal/domain"
	"bgremover/internal/infra"
)

func main() {
	var (
		limitFlag int
		stateFlag string
	)

	flag.IntVar(&limitFlag, "limit", 20, "number of jobs to show")
	flag.StringVar(&stateFlag, "state", "", "only show jobs in this state (done, aborted)")
	flag.Parse()

	_ = godotenv.Load()

	state := domain.JobState(strings.TrimSpace(strings.ToLower(stateFlag)))
	switch state {
	case "", domain.JobStateDone, domain.JobStateAborted:
	default:
		exitWithError(fmt.Errorf("unsupported state %q", stateFlag))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "joblog").Logger()
	ledger := repo.NewJobLedger(infra.NewSQLRunner(pool, logger))

	jobs, err := ledger.ListRecent(ctx, limitFlag, state)
	if err != nil {
		exitWithError(fmt.Errorf("failed to list jobs: %w", err))
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs recorded")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tORIGIN\tSTATE\tDURATION\tSOURCE\tERROR")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.CreatedAt.Local().Format(time.DateTime),
			job.Origin,
			job.State,
			job.FinishedAt.Sub(job.CreatedAt).Round(time.Millisecond),
			source(job),
			oneLine(job.Error),
		)
	}
	_ = tw.Flush()
}

func source(job domain.ProcessingJob) string {
	if job.Origin == domain.OriginURL {
		return job.SourceURL
	}
	return job.OriginalName
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:77] + "..."
	}
	return s
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
