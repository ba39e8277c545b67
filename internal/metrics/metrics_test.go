package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
)

func counterValue(t *testing.T, cv *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, cv.WithLabelValues(labels...).Write(m))
	return m.GetCounter().GetValue()
}

func TestHandshakeOutcomes(t *testing.T) {
	c := New()
	c.HandshakeDone(session.HandshakeEvent{Director: "dir:9101", Duration: 40 * time.Millisecond})
	c.HandshakeDone(session.HandshakeEvent{Director: "dir:9101", Err: fmt.Errorf("login: %w", session.ErrAuthentication)})
	c.HandshakeDone(session.HandshakeEvent{Director: "dir:9101", Err: session.ErrTLSRequired})
	c.HandshakeDone(session.HandshakeEvent{Director: "dir:9101", Err: fmt.Errorf("dial: %w", session.ErrConnection)})
	c.HandshakeDone(session.HandshakeEvent{Director: "dir:9101", Err: session.ErrProtocolFraming})

	for _, outcome := range []string{"ok", "auth", "tls", "connection", "protocol"} {
		assert.Equal(t, 1.0, counterValue(t, c.handshakes, "dir:9101", outcome), outcome)
	}

	// Only successful logins feed the latency histogram.
	m := &dto.Metric{}
	require.NoError(t, c.handshakeDuration.WithLabelValues("dir:9101").(prometheus.Metric).Write(m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestCommandOutcomes(t *testing.T) {
	c := New()
	c.CommandDone(session.CommandEvent{Director: "d", Verb: "list", APILevel: protocol.APIJSONMeta, Bytes: 100, Duration: time.Millisecond})
	c.CommandDone(session.CommandEvent{Director: "d", Verb: "list", APILevel: protocol.APIJSONMeta, Bytes: 20, IsError: true})
	c.CommandDone(session.CommandEvent{Director: "d", Verb: "status", Err: session.ErrCommandTimeout})
	c.CommandDone(session.CommandEvent{Director: "d"})

	assert.Equal(t, 1.0, counterValue(t, c.commands, "d", "list", "2", "ok"))
	assert.Equal(t, 1.0, counterValue(t, c.commands, "d", "list", "2", "error"))
	assert.Equal(t, 1.0, counterValue(t, c.commands, "d", "status", "0", "failed"))
	assert.Equal(t, 1.0, counterValue(t, c.commands, "d", "-", "0", "ok"))
	assert.Equal(t, 120.0, counterValue(t, c.responseBytes, "d"))
}

func TestHandler(t *testing.T) {
	c := New()
	c.SetUp("dir:9101", true)
	c.SetUp("lab:9101", false)
	c.CommandDone(session.CommandEvent{Director: "dir:9101", Verb: "version"})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `dcon_director_up{director="dir:9101"} 1`)
	assert.Contains(t, string(body), `dcon_director_up{director="lab:9101"} 0`)
	assert.Contains(t, string(body), `dcon_commands_total{api="0",director="dir:9101",outcome="ok",verb="version"} 1`)
}
