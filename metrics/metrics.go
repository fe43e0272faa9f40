// Package metrics holds the Prometheus collectors for status transitions,
// sweeps, conflicts and notification failures.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// EntityTransitions counts status changes on offers, agreements and inquiries.
// Use Register to register this with a Prometheus registry.
var EntityTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propertyhub_entity_transitions_total",
		Help: "Total number of entity status transitions",
	},
	[]string{"entity", "from", "to"},
)

// PropertyStatusChanges counts property status writes by cause.
var PropertyStatusChanges = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propertyhub_property_status_changes_total",
		Help: "Total number of property status changes by cause",
	},
	[]string{"cause", "from", "to"},
)

// SweepRows counts rows transitioned by each sweep.
var SweepRows = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propertyhub_sweep_rows_total",
		Help: "Total number of rows transitioned by sweeps",
	},
	[]string{"sweep"},
)

// Conflicts counts units of work that ended in a conflict.
var Conflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propertyhub_conflicts_total",
		Help: "Total number of operations that failed with a conflict",
	},
	[]string{"operation"},
)

// NotificationFailures counts notices that could not be delivered.
var NotificationFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "propertyhub_notification_failures_total",
		Help: "Total number of failed notification deliveries",
	},
	[]string{"kind"},
)

// Register registers the package collectors plus the Go and process
// collectors. Panics if registration fails (following prometheus convention).
func Register(reg prometheus.Registerer) {
	reg.MustRegister(EntityTransitions)
	reg.MustRegister(PropertyStatusChanges)
	reg.MustRegister(SweepRows)
	reg.MustRegister(Conflicts)
	reg.MustRegister(NotificationFailures)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

func RecordEntityTransition(entity, from, to string) {
	EntityTransitions.WithLabelValues(entity, from, to).Inc()
}

func RecordPropertyStatusChange(cause, from, to string) {
	PropertyStatusChanges.WithLabelValues(cause, from, to).Inc()
}

func RecordSweepRows(sweep string, n int) {
	if n > 0 {
		SweepRows.WithLabelValues(sweep).Add(float64(n))
	}
}

func RecordConflict(operation string) {
	Conflicts.WithLabelValues(operation).Inc()
}

func RecordNotificationFailure(kind string) {
	NotificationFailures.WithLabelValues(kind).Inc()
}
