package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/driftwatch/driftwatch/internal/util"
	"github.com/redis/go-redis/v9"
)

// cooldownKeyPattern matches the per-rule alert cooldown locks the run
// processor takes in Redis.
const cooldownKeyPattern = "cooldown:*"

const cooldownScanBatch = 1000

type cooldownOptions struct {
	RuleID string
	Limit  int
	DryRun bool
	Yes    bool
}

func parseCooldownFlags(name string, args []string) (cooldownOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	opts := cooldownOptions{}
	fs.StringVar(&opts.RuleID, "rule", "", "restrict to one rule id")
	fs.IntVar(&opts.Limit, "limit", 100, "maximum keys to display")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "show what would be deleted without deleting")
	fs.BoolVar(&opts.Yes, "yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return cooldownOptions{}, err
	}
	return opts, nil
}

func (o cooldownOptions) pattern() string {
	if o.RuleID != "" {
		return "cooldown:" + o.RuleID
	}
	return cooldownKeyPattern
}

func runListCooldownKeys(cmdCtx *commandContext, args []string) error {
	opts, err := parseCooldownFlags("list-cooldown-keys", args)
	if err != nil {
		return err
	}

	client, err := connectRedisClient(cmdCtx)
	if err != nil {
		return err
	}
	defer closeRedisClient(cmdCtx, client)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "KEY\tTTL\n"); err != nil {
		return err
	}

	total := 0
	iter := client.Scan(cmdCtx.Ctx, 0, opts.pattern(), cooldownScanBatch).Iterator()
	for iter.Next(cmdCtx.Ctx) {
		total++
		if opts.Limit > 0 && total > opts.Limit {
			continue
		}
		key := iter.Val()
		ttl, ttlErr := client.TTL(cmdCtx.Ctx, key).Result()
		if ttlErr != nil {
			return fmt.Errorf("query ttl for key %q: %w", key, ttlErr)
		}
		if err := writef(w, "%s\t%s\n", key, util.FormatProcessingDuration(ttl)); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cooldown keys: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if opts.Limit > 0 && total > opts.Limit {
		return writef(os.Stdout, "showing %d of %d keys\n", opts.Limit, total)
	}
	return writef(os.Stdout, "%d keys\n", total)
}

func runClearCooldownKeys(cmdCtx *commandContext, args []string) error {
	opts, err := parseCooldownFlags("clear-cooldown-keys", args)
	if err != nil {
		return err
	}
	if opts.RuleID == "" && !opts.Yes && !opts.DryRun {
		return errors.New("clearing all cooldown keys requires -yes or -dry-run")
	}

	client, err := connectRedisClient(cmdCtx)
	if err != nil {
		return err
	}
	defer closeRedisClient(cmdCtx, client)

	var (
		batch   []string
		deleted int64
		matched int
	)
	flush := func() error {
		if len(batch) == 0 || opts.DryRun {
			batch = batch[:0]
			return nil
		}
		n, delErr := client.Del(cmdCtx.Ctx, batch...).Result()
		if delErr != nil {
			return fmt.Errorf("delete cooldown keys: %w", delErr)
		}
		deleted += n
		batch = batch[:0]
		return nil
	}

	iter := client.Scan(cmdCtx.Ctx, 0, opts.pattern(), cooldownScanBatch).Iterator()
	for iter.Next(cmdCtx.Ctx) {
		matched++
		batch = append(batch, iter.Val())
		if len(batch) >= cooldownScanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cooldown keys: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	if opts.DryRun {
		return writef(os.Stdout, "dry run: %d keys would be deleted\n", matched)
	}
	return writef(os.Stdout, "deleted %d of %d matched keys\n", deleted, matched)
}

//nolint:ireturn // returning redis.UniversalClient keeps sentinel support flexible.
func connectRedisClient(cmdCtx *commandContext) (redis.UniversalClient, error) {
	client, err := connectRedis(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func closeRedisClient(cmdCtx *commandContext, client redis.UniversalClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		cmdCtx.Logger.Error("close redis failed", "error", err)
	}
}
