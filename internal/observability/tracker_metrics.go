package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/satellite-tracker/model"
)

func (c *TrackerCollector) registerDomainMetrics(reg prometheus.Registerer) error {
	var err error

	if c.UpstreamRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_upstream_requests_total",
		Help: "Upstream provider calls, labeled by call (position, metadata) and outcome.",
	}, []string{"call", "outcome"}), "tracker_upstream_requests_total"); err != nil {
		return err
	}
	if c.UpstreamDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_upstream_request_duration_seconds",
		Help:    "Upstream provider call latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
	}, []string{"call"}), "tracker_upstream_request_duration_seconds"); err != nil {
		return err
	}
	if c.SchedulerOutcomes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_scheduler_outcomes_total",
		Help: "Fetch scheduler decisions by named outcome.",
	}, []string{"outcome"}), "tracker_scheduler_outcomes_total"); err != nil {
		return err
	}

	gauges := []struct {
		dst  *prometheus.Gauge
		name string
		help string
	}{
		{&c.QuotaDailyUsed, "tracker_quota_daily_used", "Upstream calls used in the current daily window."},
		{&c.QuotaHourlyUsed, "tracker_quota_hourly_used", "Upstream calls used in the current hourly window."},
		{&c.QuotaDailyLimit, "tracker_quota_daily_limit", "Configured daily upstream call ceiling."},
		{&c.QuotaHourlyLimit, "tracker_quota_hourly_limit", "Configured hourly upstream call ceiling."},
		{&c.ConnectedClients, "tracker_connected_clients", "Number of connected stream clients."},
		{&c.SelectedObjects, "tracker_selected_objects", "Number of objects selected by at least one client."},
	}
	for _, g := range gauges {
		if *g.dst, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name); err != nil {
			return err
		}
	}

	if c.QuotaRejected, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_quota_rejections_total",
		Help: "Reservations refused because a quota window was exhausted.",
	}), "tracker_quota_rejections_total"); err != nil {
		return err
	}
	if c.DroppedBroadcasts, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_broadcasts_dropped_total",
		Help: "Position updates dropped because a client's send buffer was full.",
	}), "tracker_broadcasts_dropped_total"); err != nil {
		return err
	}
	if c.PositionsEmitted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_positions_emitted_total",
		Help: "Positions accepted into the cache, labeled by provenance.",
	}, []string{"provenance"}), "tracker_positions_emitted_total"); err != nil {
		return err
	}
	if c.StreamMessages, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_stream_messages_total",
		Help: "Client stream messages, labeled by direction (in, out) and type.",
	}, []string{"direction", "type"}), "tracker_stream_messages_total"); err != nil {
		return err
	}
	if c.LoopDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_loop_duration_seconds",
		Help:    "Duration of update loop iterations.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"loop"}), "tracker_loop_duration_seconds"); err != nil {
		return err
	}
	return nil
}

// ObserveUpstream records one upstream call.
func (c *TrackerCollector) ObserveUpstream(call, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	if c.UpstreamRequests != nil {
		c.UpstreamRequests.WithLabelValues(call, outcome).Inc()
	}
	if c.UpstreamDurations != nil {
		c.UpstreamDurations.WithLabelValues(call).Observe(d.Seconds())
	}
}

// IncSchedulerOutcome counts a scheduler decision.
func (c *TrackerCollector) IncSchedulerOutcome(outcome string) {
	if c == nil || c.SchedulerOutcomes == nil {
		return
	}
	c.SchedulerOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveQuota mirrors quota usage into gauges.
func (c *TrackerCollector) ObserveQuota(s model.QuotaStatus) {
	if c == nil {
		return
	}
	setGauge(c.QuotaDailyUsed, float64(s.DailyUsed))
	setGauge(c.QuotaHourlyUsed, float64(s.HourlyUsed))
	setGauge(c.QuotaDailyLimit, float64(s.DailyLimit))
	setGauge(c.QuotaHourlyLimit, float64(s.HourlyLimit))
}

// IncQuotaRejected counts a refused reservation.
func (c *TrackerCollector) IncQuotaRejected() {
	if c == nil || c.QuotaRejected == nil {
		return
	}
	c.QuotaRejected.Inc()
}

// IncEmitted counts a position accepted into the cache.
func (c *TrackerCollector) IncEmitted(p model.Provenance) {
	if c == nil || c.PositionsEmitted == nil {
		return
	}
	c.PositionsEmitted.WithLabelValues(string(p)).Inc()
}

// SetConnectedClients updates the connected client gauge.
func (c *TrackerCollector) SetConnectedClients(n int) {
	if c == nil {
		return
	}
	setGauge(c.ConnectedClients, float64(n))
}

// SetSelectedObjects updates the selected object gauge.
func (c *TrackerCollector) SetSelectedObjects(n int) {
	if c == nil {
		return
	}
	setGauge(c.SelectedObjects, float64(n))
}

// IncStreamMessage counts a message sent or received on a client stream.
func (c *TrackerCollector) IncStreamMessage(direction, msgType string) {
	if c == nil || c.StreamMessages == nil {
		return
	}
	c.StreamMessages.WithLabelValues(direction, msgType).Inc()
}

// IncDroppedBroadcast counts an update dropped for a slow client.
func (c *TrackerCollector) IncDroppedBroadcast() {
	if c == nil || c.DroppedBroadcasts == nil {
		return
	}
	c.DroppedBroadcasts.Inc()
}

// ObserveLoop records the duration of one loop iteration.
func (c *TrackerCollector) ObserveLoop(loop string, d time.Duration) {
	if c == nil || c.LoopDurations == nil {
		return
	}
	c.LoopDurations.WithLabelValues(loop).Observe(d.Seconds())
}

func setGauge(g prometheus.Gauge, v float64) {
	if g != nil {
		g.Set(v)
	}
}
