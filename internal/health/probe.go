package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	reportTimeLayout     = time.RFC3339
	logMessageProbe      = "director health probe finished"
	logFieldHealthy      = "healthy"
	logFieldAvailable    = "cli_available"
	logFieldConnected    = "director_reachable"
	logFieldFailureCount = "consecutive_failures"
)

// Observer receives the outcome of every probe.
type Observer interface {
	ObserveHealth(healthy bool, consecutiveFailures int)
}

// Status is a snapshot of probe history.
type Status struct {
	Healthy             bool
	CLIAvailable        bool
	DirectorReachable   bool
	LastChecked         time.Time
	LastSuccess         time.Time
	LastFailure         time.Time
	ConsecutiveFailures int
}

// Probe repeats the availability and connectivity checks and remembers their history.
type Probe struct {
	checker        Checker
	loggingService *logging.Service
	observer       Observer
	now            func() time.Time

	mutex  sync.Mutex
	status Status
}

// NewProbe constructs a Probe. A nil clock uses time.Now.
func NewProbe(checker Checker, loggingService *logging.Service, observer Observer, clock func() time.Time) *Probe {
	if clock == nil {
		clock = time.Now
	}
	return &Probe{checker: checker, loggingService: loggingService, observer: observer, now: clock}
}

// Check runs both checks. The director is only contacted when the CLI is available.
func (probe *Probe) Check(ctx context.Context) bool {
	available := probe.checker.IsAvailable(ctx)
	connected := false
	if available {
		connected = probe.checker.TestConnection(ctx)
	}
	healthy := available && connected
	checkedAt := probe.now()

	probe.mutex.Lock()
	probe.status.Healthy = healthy
	probe.status.CLIAvailable = available
	probe.status.DirectorReachable = connected
	probe.status.LastChecked = checkedAt
	if healthy {
		probe.status.LastSuccess = checkedAt
		probe.status.ConsecutiveFailures = 0
	} else {
		probe.status.LastFailure = checkedAt
		probe.status.ConsecutiveFailures++
	}
	failureCount := probe.status.ConsecutiveFailures
	probe.mutex.Unlock()

	if probe.observer != nil {
		probe.observer.ObserveHealth(healthy, failureCount)
	}
	if probe.loggingService != nil {
		probe.loggingService.Debug(logMessageProbe,
			logging.Bool(logFieldHealthy, healthy),
			logging.Bool(logFieldAvailable, available),
			logging.Bool(logFieldConnected, connected),
			logging.Int(logFieldFailureCount, failureCount),
		)
	}
	return healthy
}

// HealthyWithin reports whether the last successful check happened no more than window ago.
func (probe *Probe) HealthyWithin(window time.Duration) bool {
	probe.mutex.Lock()
	lastSuccess := probe.status.LastSuccess
	probe.mutex.Unlock()
	if lastSuccess.IsZero() {
		return false
	}
	return probe.now().Sub(lastSuccess) <= window
}

// Status returns a copy of the current history.
func (probe *Probe) Status() Status {
	probe.mutex.Lock()
	defer probe.mutex.Unlock()
	return probe.status
}

// Report renders the status for humans.
func (probe *Probe) Report() string {
	status := probe.Status()
	var builder strings.Builder
	state := "UNHEALTHY"
	if status.Healthy {
		state = "HEALTHY"
	}
	fmt.Fprintf(&builder, "status: %s\n", state)
	fmt.Fprintf(&builder, "bosh cli available: %t\n", status.CLIAvailable)
	fmt.Fprintf(&builder, "director reachable: %t\n", status.DirectorReachable)
	fmt.Fprintf(&builder, "last success: %s\n", formatReportTime(status.LastSuccess))
	fmt.Fprintf(&builder, "last failure: %s\n", formatReportTime(status.LastFailure))
	fmt.Fprintf(&builder, "consecutive failures: %d\n", status.ConsecutiveFailures)
	return builder.String()
}

func formatReportTime(moment time.Time) string {
	if moment.IsZero() {
		return "never"
	}
	return moment.Format(reportTimeLayout)
}
