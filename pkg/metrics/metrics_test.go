package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := New(DefaultConfig())

	c.RASRequest("GRQ")
	c.RASRequest("GRQ")
	c.RASRetransmission("RRQ")
	c.RASReject("ARJ", "calledPartyNotRegistered")
	c.CallCreated("outgoing")
	c.CallCreated("incoming")
	c.CallEnded("REMOTE_CLEARED")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rasRequests.WithLabelValues("GRQ")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rasRetransmissions.WithLabelValues("RRQ")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.callsActive))

	c.GatekeeperState("", "idle")
	c.GatekeeperState("idle", "registered")
	assert.Equal(t, 0.0, testutil.ToFloat64(c.gatekeeperState.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.gatekeeperState.WithLabelValues("registered")))
}

func TestNilCollectorSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RASRequest("GRQ")
		c.MessageSent("h225", "Setup")
		c.LogicalChannelDelta(1)
		c.GatekeeperState("idle", "registered")
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New(DefaultConfig())
	c.MessageSent("h225", "Setup")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `h323_channels_messages_sent_total{protocol="h225",type="Setup"} 1`))
}
