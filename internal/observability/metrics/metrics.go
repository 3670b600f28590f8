package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and payment flows.
type BookingMetrics struct {
	bookingsTotal    *prometheus.CounterVec
	assignmentsTotal *prometheus.CounterVec
	callbacksTotal   *prometheus.CounterVec
	callbackLatency  *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spa",
			Subsystem: "bookings",
			Name:      "created_total",
			Help:      "Total appointments created",
		}, []string{"status"}),
		assignmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spa",
			Subsystem: "bookings",
			Name:      "assignment_outcome_total",
			Help:      "Staff assignment outcomes",
		}, []string{"outcome"}),
		callbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spa",
			Subsystem: "payments",
			Name:      "callback_total",
			Help:      "Total gateway callbacks processed",
		}, []string{"entry", "result"}),
		callbackLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spa",
			Subsystem: "payments",
			Name:      "callback_latency_seconds",
			Help:      "Latency of gateway callback processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entry"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.assignmentsTotal, m.callbacksTotal, m.callbackLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(status).Inc()
}

// ObserveAssignment records the scorer outcome: assigned, unassigned or
// slot_taken (insert lost the uniqueness race and fell back to unassigned).
func (m *BookingMetrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveCallback(entry, result string) {
	if m == nil {
		return
	}
	m.callbacksTotal.WithLabelValues(entry, result).Inc()
}

func (m *BookingMetrics) ObserveCallbackLatency(entry string, seconds float64) {
	if m == nil {
		return
	}
	m.callbackLatency.WithLabelValues(entry).Observe(seconds)
}
