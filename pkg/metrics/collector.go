package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/librimoms/club-bot/internal/state"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Total number of state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	activeUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_users",
			Help: "Current number of active users",
		},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "users_by_state",
			Help: "Number of users per state",
		},
		[]string{"state"},
	)
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Requests to the club backend by endpoint and status code",
		},
		[]string{"endpoint", "status"},
	)
	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Latency of club backend requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
	presenceReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_reconnects_total",
			Help: "Presence socket reconnect attempts by page",
		},
		[]string{"page"},
	)
	presenceEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_total",
			Help: "Presence events received by type",
		},
		[]string{"type"},
	)
	presenceOnline = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Size of the last online roster received per page",
		},
		[]string{"page"},
	)
	rateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter decisions by action and outcome",
		},
		[]string{"action", "outcome"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of the bot's own HTTP endpoints by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_processed_total",
			Help: "Background tasks processed by type and status",
		},
		[]string{"type", "status"},
	)
)

var trackedStates = []state.State{
	state.StateIdle,
	state.StateMaterialEditing,
	state.StateMaterialField,
	state.StateMaterialConfirmDiscard,
	state.StatePushTitle,
	state.StatePushBody,
	state.StatePushURL,
	state.StatePushTarget,
	state.StatePushConfirm,
	state.StateCategoryName,
	state.StateUserSearch,
	state.StateWithdrawalReject,
	state.StateError,
}

func init() {
	state.RegisterTransitionRecorder(RecordStateTransition)
}

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition tracks FSM transitions.
func RecordStateTransition(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// RecordAPIRequest tracks one backend call. status is the HTTP code, or "error" for transport failures.
func RecordAPIRequest(endpoint, status string, duration time.Duration) {
	if endpoint == "" {
		endpoint = "unknown"
	}
	apiRequestsTotal.WithLabelValues(endpoint, status).Inc()
	apiRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func RecordPresenceReconnect(page string) {
	presenceReconnectsTotal.WithLabelValues(page).Inc()
}

func RecordPresenceEvent(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	presenceEventsTotal.WithLabelValues(eventType).Inc()
}

func SetPresenceOnline(page string, count int) {
	presenceOnline.WithLabelValues(page).Set(float64(count))
}

// RecordRateLimit counts an allow or deny decision.
func RecordRateLimit(action string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	rateLimitDecisions.WithLabelValues(action, outcome).Inc()
}

// RecordHTTPRequest observes one request to the bot's HTTP server. route is the chi pattern.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func RecordJob(taskType, status string) {
	jobsProcessedTotal.WithLabelValues(taskType, status).Inc()
}

// SetActiveUsers updates the gauge for current active users.
func SetActiveUsers(count int) {
	activeUsers.Set(float64(count))
}

// SetUsersByState updates the gauge for the given state.
func SetUsersByState(state string, count int) {
	if state == "" {
		state = "unknown"
	}

	usersByState.WithLabelValues(state).Set(float64(count))
}

// StateCollector periodically gathers FSM state counts and emits gauge metrics.
type StateCollector struct {
	fsm state.StateMachine
}

// NewStateCollector builds a metrics collector bound to the provided FSM.
func NewStateCollector(fsm state.StateMachine) *StateCollector {
	return &StateCollector{fsm: fsm}
}

// Run polls the FSM every 10 seconds, updating active user gauges until ctx is cancelled.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	states, err := c.fsm.GetAllStates(ctx)
	if err != nil {
		return err
	}

	SetActiveUsers(len(states))

	stateCounts := make(map[string]int, len(states))
	for _, st := range states {
		label := "unknown"
		if st != nil && st.CurrentState != "" {
			label = string(st.CurrentState)
		}
		stateCounts[label]++
	}

	usersByState.Reset()

	for _, tracked := range trackedStates {
		label := string(tracked)
		SetUsersByState(label, stateCounts[label])
		delete(stateCounts, label)
	}

	for label, count := range stateCounts {
		SetUsersByState(label, count)
	}

	return nil
}
