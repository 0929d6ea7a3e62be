package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahmethakanbesel/marketdata/internal/job"
	"github.com/ahmethakanbesel/marketdata/internal/run"
)

const (
	pollInterval = 500 * time.Millisecond
	// recentRuns bounds the ledger page searched for this command's runs.
	recentRuns = 100
)

var errRunFailed = errors.New("one or more runs failed")

func newIngestCmd() *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one manual ingest and print the resulting runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return ingestOnce(ctx, run.Scope(scope))
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(run.ScopeBoth), "targets, universe or both")
	return cmd
}

func ingestOnce(parent context.Context, scope run.Scope) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	defer func() {
		a.orch.Stop()
		a.orch.Wait()
	}()

	if a.orch.Status().Paused {
		return errors.New("ingestion is paused; resume it before running a one-shot ingest")
	}
	res, err := a.orch.Enqueue(ctx, job.EnqueueRequest{Scope: scope, Mode: run.ModeManual, Source: "cli"})
	if err != nil {
		return err
	}

	if err := waitIdle(ctx, a.orch); err != nil {
		return err
	}

	list, err := a.runs.List(context.WithoutCancel(ctx), run.ListRunsRequest{Limit: recentRuns})
	if err != nil {
		return err
	}
	runs, missing := runsForJobs(list.Runs, res.Jobs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(runs); err != nil {
		return fmt.Errorf("print runs: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("jobs %v recorded no run", missing)
	}
	for _, r := range runs {
		if r.Status == run.StatusFailed {
			return errRunFailed
		}
	}
	return nil
}

// runsForJobs picks the runs created for jobs, in job order, and lists the
// ids of jobs that have none.
func runsForJobs(runs []run.Run, jobs []job.Job) ([]run.Run, []string) {
	byJob := make(map[string]run.Run, len(runs))
	for _, r := range runs {
		if id := r.Meta["job_id"]; id != "" {
			if _, seen := byJob[id]; !seen {
				byJob[id] = r
			}
		}
	}
	matched := make([]run.Run, 0, len(jobs))
	var missing []string
	for _, j := range jobs {
		r, ok := byJob[j.ID]
		if !ok {
			missing = append(missing, j.ID)
			continue
		}
		matched = append(matched, r)
	}
	return matched, missing
}

func waitIdle(ctx context.Context, o *job.Orchestrator) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		st := o.Status()
		if st.QueueLength == 0 && st.CurrentJob == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			o.Cancel()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
