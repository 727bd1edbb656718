package core

// Metrics records billing events. services/metrics exports them to prometheus.
type Metrics interface {
	FeeSchedulePosted(students int)
	PaymentApplied()
	SubscriptionChanged(status string)
	EntitlementChecked(entitled bool)
	OperationFailed(op string)
}

// NopMetrics discards everything (tests, CLI).
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) FeeSchedulePosted(int)      {}
func (NopMetrics) PaymentApplied()            {}
func (NopMetrics) SubscriptionChanged(string) {}
func (NopMetrics) EntitlementChecked(bool)    {}
func (NopMetrics) OperationFailed(string)     {}
