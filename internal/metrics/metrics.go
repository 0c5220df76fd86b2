// Package metrics defines the bot's prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "assistant_bot"

type Metrics struct {
	RemindersCreated   prometheus.Counter
	RemindersDelivered prometheus.Counter
	ReminderFailures   prometheus.Counter
	TrialsGranted      prometheus.Counter
	PaymentsConfirmed  prometheus.Counter
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RemindersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_created_total",
			Help:      "Reminders accepted from users.",
		}),
		RemindersDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_delivered_total",
			Help:      "Reminders sent and marked completed.",
		}),
		ReminderFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_delivery_failures_total",
			Help:      "Failed reminder send attempts.",
		}),
		TrialsGranted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_granted_total",
			Help:      "Trial periods granted.",
		}),
		PaymentsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Payments applied to subscriptions.",
		}),
	}
}

// NewNop returns counters registered nowhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
