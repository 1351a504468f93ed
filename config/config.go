package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and cache configuration
//   - services.go: Service mode and worker configuration
//   - fetch.go: Fetch orchestration and provider configuration
type AppConfig struct {
	// IsDev controls development mode behavior (relaxed encryption, verbose logs).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// EncryptionKey is the 32-byte key for channel config encryption
	// (aes-256-gcm, iv:authTag:ciphertext hex layout).
	// Required for production, optional for development.
	EncryptionKey string `env:"ENCRYPTION_KEY"`

	// DatabaseURL is the full Postgres DSN. When set it wins over the DB_* parts.
	DatabaseURL string `env:"DATABASE_URL"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"scheduler,run-worker,dispatch-worker,maintenance,reaper"`

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Run worker configuration
	RunWorker RunWorkerConfig

	// Dispatch worker configuration
	DispatchWorker DispatchWorkerConfig

	// Maintenance worker configuration
	Maintenance MaintenanceWorkerConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Fetch orchestration configuration
	Fetch FetchConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Scheduler.Sanitize()
	c.RunWorker.Sanitize()
	c.DispatchWorker.Sanitize()
	c.Maintenance.Sanitize()
	c.Reaper.Sanitize()
	c.Fetch.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback (common in mixed-stack deployments).
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// PostgresDSN resolves the effective Postgres connection string.
func (c *AppConfig) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.Postgres.DSN()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsSchedulerEnabled returns true if the scheduler service is enabled. The
// SCHEDULER_ENABLED master switch wins over the SERVICES list.
func (c *AppConfig) IsSchedulerEnabled() bool {
	if !c.Scheduler.Enabled {
		return false
	}
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeScheduler]
}

// IsRunWorkerEnabled returns true if the run worker service is enabled.
func (c *AppConfig) IsRunWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeRunWorker]
}

// IsDispatchWorkerEnabled returns true if the dispatch worker service is enabled.
func (c *AppConfig) IsDispatchWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDispatchWorker]
}

// IsMaintenanceEnabled returns true if the maintenance worker service is enabled.
func (c *AppConfig) IsMaintenanceEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeMaintenance]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
