// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus instrumentation a Session
// reports through. Construct with NewMetrics.
type MetricsConfig struct {
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
	Registry    prometheus.Registerer
}

// MetricsOption customizes a MetricsConfig passed to NewMetrics.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the Prometheus namespace prefix.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

// WithMetricsSubsystem sets the Prometheus subsystem prefix.
func WithMetricsSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) { c.Subsystem = subsystem }
}

// WithMetricsConstLabels attaches constant labels to every metric.
func WithMetricsConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) { c.ConstLabels = labels }
}

// WithMetricsRegistry registers metrics against registry instead of the
// default Prometheus registry.
func WithMetricsRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "rfb",
		Subsystem: "session",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the counters and gauges a server host wires into its
// Sessions with WithMetrics. Metrics is safe to share across
// every Session a listener accepts.
type Metrics struct {
	sessionsAccepted  prometheus.Counter
	sessionsActive    prometheus.Gauge
	sessionsFailed    *prometheus.CounterVec
	authFailures      prometheus.Counter
	pumpTicks         prometheus.Counter
	pumpTicksSkipped  prometheus.Counter
	rectanglesSent    *prometheus.CounterVec
	bytesSent         *prometheus.CounterVec
	clipboardEvents   prometheus.Counter
	keyEvents         prometheus.Counter
	pointerEvents     prometheus.Counter
}

// NewMetrics builds a Metrics instance, registering every collector
// against the configured registry (the global Prometheus registry by
// default).
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		sessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "accepted_total",
			Help:        "Total number of RFB connections accepted.",
			ConstLabels: config.ConstLabels,
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active",
			Help:        "Number of RFB sessions currently being served, handshake included.",
			ConstLabels: config.ConstLabels,
		}),
		sessionsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "failed_total",
			Help:        "Total number of sessions that closed with an error, by error code.",
			ConstLabels: config.ConstLabels,
		}, []string{"code"}),
		authFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "auth_failures_total",
			Help:        "Total number of VNC password authentication failures.",
			ConstLabels: config.ConstLabels,
		}),
		pumpTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pump_ticks_total",
			Help:        "Total number of update pump ticks that produced a FramebufferUpdate.",
			ConstLabels: config.ConstLabels,
		}),
		pumpTicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pump_ticks_skipped_total",
			Help:        "Total number of update pump ticks with no pending request or no changes.",
			ConstLabels: config.ConstLabels,
		}),
		rectanglesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "rectangles_sent_total",
			Help:        "Total number of rectangles encoded and sent, by encoding type.",
			ConstLabels: config.ConstLabels,
		}, []string{"encoding"}),
		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Total number of encoded rectangle bytes sent, by encoding type.",
			ConstLabels: config.ConstLabels,
		}, []string{"encoding"}),
		clipboardEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "clipboard_events_total",
			Help:        "Total number of ClientCutText messages received.",
			ConstLabels: config.ConstLabels,
		}),
		keyEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "key_events_total",
			Help:        "Total number of KeyEvent messages received.",
			ConstLabels: config.ConstLabels,
		}),
		pointerEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "pointer_events_total",
			Help:        "Total number of PointerEvent messages received.",
			ConstLabels: config.ConstLabels,
		}),
	}
}

func (m *Metrics) recordAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) recordClosed(err error) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	if err == nil {
		return
	}
	m.sessionsFailed.WithLabelValues(SessionErrorCode(err).String()).Inc()
}

func (m *Metrics) recordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) recordPumpTick(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.pumpTicks.Inc()
	} else {
		m.pumpTicksSkipped.Inc()
	}
}

func (m *Metrics) recordRectangle(encoding int32, bytes int) {
	if m == nil {
		return
	}
	label := encodingMetricLabel(encoding)
	m.rectanglesSent.WithLabelValues(label).Inc()
	m.bytesSent.WithLabelValues(label).Add(float64(bytes))
}

func (m *Metrics) recordClipboardEvent() {
	if m == nil {
		return
	}
	m.clipboardEvents.Inc()
}

func (m *Metrics) recordKeyEvent() {
	if m == nil {
		return
	}
	m.keyEvents.Inc()
}

func (m *Metrics) recordPointerEvent() {
	if m == nil {
		return
	}
	m.pointerEvents.Inc()
}

var encodingLabelNames = map[int32]string{
	EncodingRaw:                       "raw",
	EncodingCopyRect:                  "copyrect",
	EncodingDesktopSizePseudo:         "desktop-size",
	EncodingExtendedDesktopSizePseudo: "extended-desktop-size",
	EncodingCursorPseudo:              "cursor",
}

var encodingLabelMu sync.RWMutex

func encodingMetricLabel(encoding int32) string {
	encodingLabelMu.RLock()
	label, ok := encodingLabelNames[encoding]
	encodingLabelMu.RUnlock()
	if ok {
		return label
	}
	return "unknown"
}
