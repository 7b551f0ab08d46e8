package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics exposes counters for the booking pipeline.
type BookingMetrics struct {
	createdTotal      *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	meetingLinksTotal *prometheus.CounterVec
	sideEffectFailed  *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "created_total",
			Help:      "Bookings committed to the ledger",
		}, []string{"mode"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "rejected_total",
			Help:      "Booking requests rejected before or at commit",
		}, []string{"reason"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "status_transitions_total",
			Help:      "Applied booking status transitions",
		}, []string{"from", "to"}),
		meetingLinksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "meeting_links_total",
			Help:      "Meeting links attached to video bookings by source",
		}, []string{"source"}),
		sideEffectFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "side_effect_failures_total",
			Help:      "Post-commit side effects that failed",
		}, []string{"kind"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createdTotal, m.rejectedTotal, m.transitionsTotal, m.meetingLinksTotal, m.sideEffectFailed)
	return m
}

func (m *BookingMetrics) ObserveCreated(mode string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(mode).Inc()
}

func (m *BookingMetrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *BookingMetrics) ObserveMeetingLink(source string) {
	if m == nil {
		return
	}
	m.meetingLinksTotal.WithLabelValues(source).Inc()
}

func (m *BookingMetrics) ObserveSideEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.sideEffectFailed.WithLabelValues(kind).Inc()
}
