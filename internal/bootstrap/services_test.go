package bootstrap

import (
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/config"
)

func TestShutdownWaitCoversSchedulerGrace(t *testing.T) {
	// The scheduler runner is promised a 30s grace window for its in-flight
	// tick; the shutdown wait must not undercut it.
	if shutdownWaitTimeout < 30*time.Second {
		t.Fatalf("shutdownWaitTimeout = %v, want at least 30s", shutdownWaitTimeout)
	}
}

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "scheduler only",
			modes: []config.ServiceMode{config.ServiceModeScheduler},
			want:  1,
		},
		{
			name:  "scheduler and run worker",
			modes: []config.ServiceMode{config.ServiceModeScheduler, config.ServiceModeRunWorker},
			want:  2,
		},
		{
			name:  "dispatch worker and maintenance",
			modes: []config.ServiceMode{config.ServiceModeDispatchWorker, config.ServiceModeMaintenance},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeScheduler,
				config.ServiceModeRunWorker,
				config.ServiceModeDispatchWorker,
				config.ServiceModeMaintenance,
				config.ServiceModeReaper,
			},
			want: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "scheduler only",
			modes: []config.ServiceMode{config.ServiceModeScheduler},
			want:  2,
		},
		{
			name: "all services enabled",
			modes: []config.ServiceMode{
				config.ServiceModeScheduler,
				config.ServiceModeRunWorker,
				config.ServiceModeDispatchWorker,
				config.ServiceModeMaintenance,
				config.ServiceModeReaper,
			},
			want: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}
