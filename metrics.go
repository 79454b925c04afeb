package xchannel

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// channelMetrics exports pipeline counters to Prometheus. A nil
// *channelMetrics disables every method.
type channelMetrics struct {
	messages        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	state           *prometheus.GaugeVec
	flushFailures   *prometheus.CounterVec
	archiveFailures *prometheus.CounterVec
}

var deployedStates = []DeployedState{StateStopped, StateStarting, StateStarted, StatePaused, StateStopping, StateUnknown}

func newChannelMetrics(reg prometheus.Registerer) (*channelMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &channelMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xchannel",
			Name:      "connector_messages_total",
			Help:      "Connector message status transitions by channel, connector and status.",
		}, []string{"channel", "connector", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "xchannel",
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent processing one dispatched message end to end.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xchannel",
			Name:      "connector_state",
			Help:      "1 for the current deployed state of each connector.",
		}, []string{"channel", "connector", "state"}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xchannel",
			Name:      "statistics_flush_failures_total",
			Help:      "Statistics flushes that failed after every retry.",
		}, []string{"channel"}),
		archiveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xchannel",
			Name:      "archive_failures_total",
			Help:      "Processed messages the archiver failed to store.",
		}, []string{"channel"}),
	}

	var err error
	if m.messages, err = register(reg, m.messages); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.state, err = register(reg, m.state); err != nil {
		return nil, err
	}
	if m.flushFailures, err = register(reg, m.flushFailures); err != nil {
		return nil, err
	}
	if m.archiveFailures, err = register(reg, m.archiveFailures); err != nil {
		return nil, err
	}
	return m, nil
}

// register reuses an identical collector already registered by another channel.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *channelMetrics) status(channel, connector string, s Status) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(channel, connector, string(s)).Inc()
}

func (m *channelMetrics) observe(channel string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(channel).Observe(d.Seconds())
}

func (m *channelMetrics) setState(channel, connector string, s DeployedState) {
	if m == nil {
		return
	}
	for _, st := range deployedStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(channel, connector, string(st)).Set(v)
	}
}

func (m *channelMetrics) flushFailed(channel string) {
	if m == nil {
		return
	}
	m.flushFailures.WithLabelValues(channel).Inc()
}

func (m *channelMetrics) archiveFailed(channel string) {
	if m == nil {
		return
	}
	m.archiveFailures.WithLabelValues(channel).Inc()
}
