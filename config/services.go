package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeScheduler runs the rule scheduler tick loop.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeRunWorker runs the rules-run job worker pool.
	ServiceModeRunWorker ServiceMode = "run-worker"
	// ServiceModeDispatchWorker runs the alerts-dispatch job worker pool.
	ServiceModeDispatchWorker ServiceMode = "dispatch-worker"
	// ServiceModeMaintenance runs the maintenance job worker and its daily enqueuer.
	ServiceModeMaintenance ServiceMode = "maintenance"
	// ServiceModeReaper runs the job reaper for queue cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeRunWorker,
		ServiceModeDispatchWorker,
		ServiceModeMaintenance,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeScheduler,
			ServiceModeRunWorker,
			ServiceModeDispatchWorker,
			ServiceModeMaintenance,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: scheduler, run-worker, dispatch-worker, maintenance, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Enabled is the master switch for the tick loop.
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// TickIntervalMS is the tick period in milliseconds.
	TickIntervalMS int `env:"SCHEDULER_TICK_INTERVAL" envDefault:"5000"`

	// BatchSize is the maximum number of rules claimed per tick.
	BatchSize int `env:"SCHEDULER_BATCH_SIZE" envDefault:"500"`

	// DomainPacing spaces run jobs for rules sharing a domain within one tick.
	DomainPacing time.Duration `env:"SCHEDULER_DOMAIN_PACING" envDefault:"100ms"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() {
	if s.TickIntervalMS < 1000 {
		s.TickIntervalMS = 1000
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.DomainPacing < 0 {
		s.DomainPacing = 0
	}
}

// TickInterval returns the tick period as a duration.
func (s *SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMS) * time.Millisecond
}

// RunWorkerConfig contains rules-run worker configuration.
type RunWorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"RUN_WORKER_CONCURRENCY" envDefault:"5"`

	// JobLease is the duration to lease a rules-run job. Heartbeats extend it
	// while the fetch ladder is still walking providers.
	JobLease time.Duration `env:"RUN_WORKER_JOB_LEASE" envDefault:"120s"`
}

// Sanitize applies guardrails to run worker configuration values.
func (r *RunWorkerConfig) Sanitize() {
	if r.Concurrency < 1 {
		r.Concurrency = 1
	}
	if r.JobLease < 5*time.Second {
		r.JobLease = 5 * time.Second
	}
}

// DispatchWorkerConfig contains alerts-dispatch worker configuration.
type DispatchWorkerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"DISPATCH_WORKER_CONCURRENCY" envDefault:"10"`

	// JobLease is the duration to lease an alerts-dispatch job.
	JobLease time.Duration `env:"DISPATCH_WORKER_JOB_LEASE" envDefault:"30s"`
}

// Sanitize applies guardrails to dispatch worker configuration values.
func (d *DispatchWorkerConfig) Sanitize() {
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if d.JobLease < 5*time.Second {
		d.JobLease = 5 * time.Second
	}
}

// MaintenanceWorkerConfig contains maintenance worker configuration. The
// worker runs single-flight; advisory locks make extra concurrency useless.
type MaintenanceWorkerConfig struct {
	// JobLease is the duration to lease a maintenance job. Batched deletes on
	// large tables can run for minutes.
	JobLease time.Duration `env:"MAINTENANCE_JOB_LEASE" envDefault:"5m"`

	// EnqueueCheckInterval is how often the daily-task enqueuer checks for due
	// fire times.
	EnqueueCheckInterval time.Duration `env:"MAINTENANCE_ENQUEUE_CHECK_INTERVAL" envDefault:"1m"`
}

// Sanitize applies guardrails to maintenance worker configuration values.
func (m *MaintenanceWorkerConfig) Sanitize() {
	if m.JobLease < 30*time.Second {
		m.JobLease = 30 * time.Second
	}
	if m.EnqueueCheckInterval < 10*time.Second {
		m.EnqueueCheckInterval = 10 * time.Second
	}
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	// Jobs stuck in pending status longer than this will be failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for completed jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"24h"`

	// FailedMaxAge is the maximum age for failed jobs before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"`

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
