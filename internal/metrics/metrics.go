// Package metrics exports director session activity in the Prometheus
// exposition format.
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codewiresh/dcon/internal/session"
)

const namespace = "dcon"

// Collector is a session.Observer that records handshakes and commands.
// Metrics live in a dedicated registry, not the global one.
type Collector struct {
	registry *prometheus.Registry

	handshakes        *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	commands          *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	responseBytes     *prometheus.CounterVec
	up                *prometheus.GaugeVec
}

var _ session.Observer = (*Collector)(nil)

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Director logins by outcome.",
		}, []string{"director", "outcome"}),
		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Time from dial to authenticated session.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"director"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Console commands by verb and outcome.",
		}, []string{"director", "verb", "api", "outcome"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command round trip latency by verb.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"director", "verb"}),
		responseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response text received from the director.",
		}, []string{"director"}),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "director_up",
			Help:      "1 if the last probe of the director succeeded.",
		}, []string{"director"}),
	}

	reg.MustRegister(c.handshakes)
	reg.MustRegister(c.handshakeDuration)
	reg.MustRegister(c.commands)
	reg.MustRegister(c.commandDuration)
	reg.MustRegister(c.responseBytes)
	reg.MustRegister(c.up)

	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the collected metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) HandshakeDone(ev session.HandshakeEvent) {
	c.handshakes.WithLabelValues(ev.Director, handshakeOutcome(ev.Err)).Inc()
	if ev.Err == nil {
		c.handshakeDuration.WithLabelValues(ev.Director).Observe(ev.Duration.Seconds())
	}
}

func (c *Collector) CommandDone(ev session.CommandEvent) {
	outcome := "ok"
	switch {
	case ev.Err != nil:
		outcome = "failed"
	case ev.IsError:
		outcome = "error"
	}
	verb := ev.Verb
	if verb == "" {
		verb = "-"
	}
	c.commands.WithLabelValues(ev.Director, verb, strconv.Itoa(int(ev.APILevel)), outcome).Inc()
	c.commandDuration.WithLabelValues(ev.Director, verb).Observe(ev.Duration.Seconds())
	c.responseBytes.WithLabelValues(ev.Director).Add(float64(ev.Bytes))
}

// SetUp records the result of a liveness probe.
func (c *Collector) SetUp(director string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	c.up.WithLabelValues(director).Set(v)
}

func handshakeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, session.ErrAuthentication):
		return "auth"
	case errors.Is(err, session.ErrTLSRequired), errors.Is(err, session.ErrTLS):
		return "tls"
	case errors.Is(err, session.ErrConnection):
		return "connection"
	default:
		return "protocol"
	}
}
