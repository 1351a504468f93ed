package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/driftwatch/driftwatch/internal/data"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/service"
	"github.com/driftwatch/driftwatch/internal/util"
)

type listAlertsOptions struct {
	WorkspaceID string
	RuleID      string
	Severity    string
	Unresolved  bool
	Limit       int
	Offset      int
}

func parseListAlertsFlags(args []string) (listAlertsOptions, error) {
	fs := flag.NewFlagSet("list-alerts", flag.ContinueOnError)
	opts := listAlertsOptions{}
	fs.StringVar(&opts.WorkspaceID, "workspace", "", "filter by workspace id")
	fs.StringVar(&opts.RuleID, "rule", "", "filter by rule id")
	fs.StringVar(&opts.Severity, "severity", "", "filter by severity (low, medium, high, critical)")
	fs.BoolVar(&opts.Unresolved, "unresolved", false, "only show unresolved alerts")
	fs.IntVar(&opts.Limit, "limit", 50, "maximum alerts to list")
	fs.IntVar(&opts.Offset, "offset", 0, "offset into the result set")
	if err := fs.Parse(args); err != nil {
		return listAlertsOptions{}, err
	}
	if opts.Severity != "" && !model.AlertSeverity(opts.Severity).Valid() {
		return listAlertsOptions{}, fmt.Errorf("invalid severity %q", opts.Severity)
	}
	return opts, nil
}

func runListAlerts(cmdCtx *commandContext, args []string) error {
	opts, err := parseListAlertsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		listOpts := &model.AlertListOptions{
			Unresolved: opts.Unresolved,
			Limit:      opts.Limit,
			Offset:     opts.Offset,
		}
		if opts.WorkspaceID != "" {
			listOpts.WorkspaceID = &opts.WorkspaceID
		}
		if opts.RuleID != "" {
			listOpts.RuleID = &opts.RuleID
		}
		if opts.Severity != "" {
			severity := model.AlertSeverity(opts.Severity)
			listOpts.Severity = &severity
		}

		alerts, err := data.NewAlertRepo(db).List(ctx, listOpts)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}
		return renderAlerts(alerts)
	})
}

func renderAlerts(alerts []*model.Alert) error {
	if len(alerts) == 0 {
		return writef(os.Stdout, "no alerts matched\n")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "ID\tSEVERITY\tTYPE\tRULE\tAGE\tSTATE\tTITLE\n"); err != nil {
		return err
	}
	for _, a := range alerts {
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.Severity, a.AlertType, a.RuleID,
			util.FormatProcessingDuration(time.Since(a.TriggeredAt)),
			alertState(a), a.Title); err != nil {
			return err
		}
	}
	return w.Flush()
}

func alertState(a *model.Alert) string {
	switch {
	case a.ResolvedAt != nil:
		return "resolved"
	case a.AcknowledgedAt != nil:
		return "acked"
	default:
		return "open"
	}
}

func runAlertStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("alert-stats", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "restrict stats to a workspace id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		var filter *string
		if *workspaceID != "" {
			filter = workspaceID
		}
		stats, err := data.NewAlertRepo(db).Stats(ctx, filter)
		if err != nil {
			return fmt.Errorf("alert stats: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		if err := writef(w, "TOTAL\tCRITICAL\tHIGH\tMEDIUM\tLOW\tUNRESOLVED\n"); err != nil {
			return err
		}
		if err := writef(w, "%d\t%d\t%d\t%d\t%d\t%d\n",
			stats.Total, stats.Critical, stats.High, stats.Medium, stats.Low, stats.Unresolved); err != nil {
			return err
		}
		return w.Flush()
	})
}

func runAckAlert(cmdCtx *commandContext, args []string) error {
	return runAlertWorkflow(cmdCtx, args, "ack-alert", func(ctx context.Context, svc *service.AlertService, id, actor string) (*model.Alert, error) {
		return svc.Acknowledge(ctx, id, actor)
	})
}

func runResolveAlert(cmdCtx *commandContext, args []string) error {
	return runAlertWorkflow(cmdCtx, args, "resolve-alert", func(ctx context.Context, svc *service.AlertService, id, actor string) (*model.Alert, error) {
		return svc.Resolve(ctx, id, actor)
	})
}

func runAlertWorkflow(
	cmdCtx *commandContext,
	args []string,
	name string,
	apply func(context.Context, *service.AlertService, string, string) (*model.Alert, error),
) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	id := fs.String("id", "", "alert id (required)")
	actor := fs.String("by", "", "operator recorded on the alert (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *actor == "" {
		return errors.New("-id and -by are required")
	}

	return withDatabase(cmdCtx, func(ctx context.Context, db *sql.DB) error {
		svc, err := service.NewAlertService(service.AlertServiceOptions{
			Repo:   data.NewAlertRepo(db),
			Logger: cmdCtx.Logger,
		})
		if err != nil {
			return fmt.Errorf("new alert service: %w", err)
		}

		alert, err := apply(ctx, svc, *id, *actor)
		if err != nil {
			return err
		}
		return writef(os.Stdout, "alert %s updated (state: %s)\n", alert.ID, alertState(alert))
	})
}
