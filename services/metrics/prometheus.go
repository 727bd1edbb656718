// Package metricsvc exports billing events to prometheus.
package metricsvc

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-billing/core"
)

const namespace = "masomo_billing"

type Prometheus struct {
	reg *prometheus.Registry

	schedulesPosted  prometheus.Counter
	ledgersCreated   prometheus.Counter
	paymentsApplied  prometheus.Counter
	subscriptions    *prometheus.CounterVec
	entitlementCheck *prometheus.CounterVec
	failures         *prometheus.CounterVec
}

var _ core.Metrics = (*Prometheus)(nil)

// New registers the billing collectors, along with the go & process collectors, on a fresh registry.
func New() (*Prometheus, error) {
	m := &Prometheus{
		reg: prometheus.NewRegistry(),
		schedulesPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fee_schedules_posted_total",
			Help:      "Fee schedules posted to the roster.",
		}),
		ledgersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledgers_created_total",
			Help:      "Student ledgers created by fee schedule fan-outs.",
		}),
		paymentsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_applied_total",
			Help:      "Payments applied to student ledgers.",
		}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_changes_total",
			Help:      "Subscription status changes by resulting status.",
		}, []string{"status"}),
		entitlementCheck: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_checks_total",
			Help:      "Entitlement checks by outcome.",
		}, []string{"entitled"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed billing operations.",
		}, []string{"operation"}),
	}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.schedulesPosted,
		m.ledgersCreated,
		m.paymentsApplied,
		m.subscriptions,
		m.entitlementCheck,
		m.failures,
	}
	for _, c := range cs {
		if err := m.reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "registering collector")
		}
	}
	return m, nil
}

// Handler serves the registry in the prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Prometheus) Gatherer() prometheus.Gatherer { return m.reg }

func (m *Prometheus) FeeSchedulePosted(students int) {
	m.schedulesPosted.Inc()
	m.ledgersCreated.Add(float64(students))
}

func (m *Prometheus) PaymentApplied() { m.paymentsApplied.Inc() }

func (m *Prometheus) SubscriptionChanged(status string) {
	m.subscriptions.WithLabelValues(status).Inc()
}

func (m *Prometheus) EntitlementChecked(entitled bool) {
	m.entitlementCheck.WithLabelValues(strconv.FormatBool(entitled)).Inc()
}

func (m *Prometheus) OperationFailed(op string) {
	m.failures.WithLabelValues(op).Inc()
}
