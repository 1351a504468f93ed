package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

func runJobStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("job-stats", flag.ContinueOnError)
	jobType := fs.String("type", "", "restrict stats to one job type")
	if err := fs.Parse(args); err != nil {
		return err
	}

	types := []model.JobType{model.JobTypeRun, model.JobTypeDispatch, model.JobTypeMaintenance}
	if *jobType != "" {
		t := model.JobType(*jobType)
		if !t.Valid() {
			return fmt.Errorf("invalid job type %q", *jobType)
		}
		types = []model.JobType{t}
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewJobRepo(db, data.RepoConfig{})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if err := writef(w, "TYPE\tPENDING\tRUNNING\tCOMPLETED\tFAILED\n"); err != nil {
			return err
		}
		for _, t := range types {
			stats, err := repo.Stats(ctx, t)
			if err != nil {
				return fmt.Errorf("job stats for %s: %w", t, err)
			}
			if err := writef(w, "%s\t%d\t%d\t%d\t%d\n",
				t, stats.Pending, stats.Running, stats.Completed, stats.Failed); err != nil {
				return err
			}
		}
		return w.Flush()
	})
}

type enqueueMaintenanceOptions struct {
	Task          string
	RetentionDays int
}

func parseEnqueueMaintenanceFlags(args []string) (enqueueMaintenanceOptions, error) {
	fs := flag.NewFlagSet("enqueue-maintenance", flag.ContinueOnError)
	opts := enqueueMaintenanceOptions{}
	fs.StringVar(&opts.Task, "task", "", "maintenance task name (required)")
	fs.IntVar(&opts.RetentionDays, "retention-days", 0, "override the task retention window in days")
	if err := fs.Parse(args); err != nil {
		return enqueueMaintenanceOptions{}, err
	}
	if !model.MaintenanceTask(opts.Task).Valid() {
		return enqueueMaintenanceOptions{}, fmt.Errorf(
			"invalid maintenance task %q (valid options: %s, %s)",
			opts.Task, model.MaintenanceTaskRawSampleCleanup, model.MaintenanceTaskFetchAttemptCleanup)
	}
	return opts, nil
}

func runEnqueueMaintenance(cmdCtx *commandContext, args []string) error {
	opts, err := parseEnqueueMaintenanceFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		payload, err := json.Marshal(model.MaintenancePayload{
			Task:   model.MaintenanceTask(opts.Task),
			Config: model.MaintenanceConfig{RetentionDays: opts.RetentionDays},
		})
		if err != nil {
			return fmt.Errorf("marshal maintenance payload: %w", err)
		}

		job, err := data.NewJobRepo(db, data.RepoConfig{}).Create(ctx, &model.CreateJobRequest{
			Type:    model.JobTypeMaintenance,
			Payload: payload,
		})
		if err != nil {
			return fmt.Errorf("enqueue maintenance job: %w", err)
		}
		return writef(os.Stdout, "maintenance job %s enqueued (task %s)\n", job.ID, opts.Task)
	})
}
